package queue

import (
	"context"
	"errors"
	"testing"
)

type fakeAck struct {
	acked     int
	nacked    int
	requeued  bool
	rejected  int
	rejectArg bool
}

func (f *fakeAck) Ack(bool) error { f.acked++; return nil }

func (f *fakeAck) Nack(_ bool, requeue bool) error {
	f.nacked++
	f.requeued = requeue
	return nil
}

func (f *fakeAck) Reject(requeue bool) error {
	f.rejected++
	f.rejectArg = requeue
	return nil
}

func TestQueueNames(t *testing.T) {
	if ItemQueueName != "batch.items" {
		t.Fatalf("ItemQueueName = %s, want batch.items", ItemQueueName)
	}
	if ItemDLQName != "dlq.batch.items" {
		t.Fatalf("ItemDLQName = %s, want dlq.batch.items", ItemDLQName)
	}

	args := itemQueueArgs()
	if args["x-dead-letter-exchange"] != dlxExchangeName {
		t.Fatalf("x-dead-letter-exchange = %v, want %s", args["x-dead-letter-exchange"], dlxExchangeName)
	}
	if args["x-dead-letter-routing-key"] != itemRoutingKey {
		t.Fatalf("x-dead-letter-routing-key = %v, want %s", args["x-dead-letter-routing-key"], itemRoutingKey)
	}
}

func TestItemTopologyOrder(t *testing.T) {
	topology := itemTopology()
	if len(topology) != 2 {
		t.Fatalf("topology = %d queues, want 2", len(topology))
	}

	dlq, work := topology[0], topology[1]
	if dlq.name != ItemDLQName || dlq.bindTo != dlxExchangeName || dlq.routingKey != itemRoutingKey {
		t.Fatalf("dlq decl = %+v", dlq)
	}
	if work.name != ItemQueueName || work.bindTo != "" {
		t.Fatalf("work queue decl = %+v", work)
	}
	if work.args["x-dead-letter-exchange"] != dlq.bindTo {
		t.Fatalf("work queue dead-letters to %v, want %s", work.args["x-dead-letter-exchange"], dlq.bindTo)
	}
}

func TestItemMessageValidate(t *testing.T) {
	msg := ItemMessage{ItemID: 1, BatchID: "b1"}
	if err := msg.Validate(); err != nil {
		t.Fatalf("Validate() unexpected error: %v", err)
	}
	if msg.messageID() != "1" {
		t.Fatalf("messageID() = %s, want 1", msg.messageID())
	}

	msg.ItemID = 0
	if err := msg.Validate(); err == nil {
		t.Fatal("expected error for zero item id")
	}

	msg.ItemID = 1
	msg.BatchID = "  "
	if err := msg.Validate(); err == nil {
		t.Fatal("expected error for empty batch id")
	}
}

func TestHandleDelivery(t *testing.T) {
	errHandler := errors.New("db down")

	tests := []struct {
		name         string
		body         string
		redelivered  bool
		handlerErr   error
		wantHandled  bool
		wantAck      int
		wantNack     int
		wantRequeue  bool
		wantRejected int
	}{
		{name: "success acks", body: `{"itemId":5,"batchId":"b1"}`, wantHandled: true, wantAck: 1},
		{name: "invalid json rejected", body: `{`, wantRejected: 1},
		{name: "invalid payload rejected", body: `{"itemId":0,"batchId":"b1"}`, wantRejected: 1},
		{name: "first failure requeues", body: `{"itemId":5,"batchId":"b1"}`, handlerErr: errHandler, wantHandled: true, wantNack: 1, wantRequeue: true},
		{name: "redelivered failure dead-letters", body: `{"itemId":5,"batchId":"b1"}`, redelivered: true, handlerErr: errHandler, wantHandled: true, wantNack: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			consumer := NewRabbitMQConsumer(nil, 1, nil)
			ack := &fakeAck{}

			handled := false
			handler := func(_ context.Context, msg ItemMessage) error {
				handled = true
				if msg.ItemID != 5 || msg.BatchID != "b1" {
					t.Fatalf("unexpected message: %+v", msg)
				}
				return tt.handlerErr
			}

			if err := consumer.handleDelivery(context.Background(), []byte(tt.body), tt.redelivered, ack, handler); err != nil {
				t.Fatalf("handleDelivery() error = %v", err)
			}

			if handled != tt.wantHandled {
				t.Fatalf("handled = %v, want %v", handled, tt.wantHandled)
			}
			if ack.acked != tt.wantAck || ack.nacked != tt.wantNack || ack.rejected != tt.wantRejected {
				t.Fatalf("ack=%d nack=%d reject=%d, want %d/%d/%d",
					ack.acked, ack.nacked, ack.rejected, tt.wantAck, tt.wantNack, tt.wantRejected)
			}
			if ack.requeued != tt.wantRequeue {
				t.Fatalf("requeue = %v, want %v", ack.requeued, tt.wantRequeue)
			}
			if ack.rejectArg {
				t.Fatal("invalid messages must not be requeued")
			}
		})
	}
}

func TestNewRabbitMQRequiresURL(t *testing.T) {
	if _, err := NewRabbitMQ("  "); err == nil {
		t.Fatal("expected error for empty url")
	}
}

func TestHealthyNilClient(t *testing.T) {
	var r *RabbitMQ
	if r.Healthy() {
		t.Fatal("nil client must not be healthy")
	}
}
