package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/kursadbilgin/batch-engine/internal/domain"
	"github.com/kursadbilgin/batch-engine/internal/observability"
	"go.uber.org/zap"
)

const (
	EventItemUpdate  = "item_update"
	EventBatchUpdate = "batch_update"

	channelPrefix = "batches."
)

// ChannelName is the realtime channel subscribers join for one batch.
func ChannelName(batchID string) string {
	return channelPrefix + batchID
}

type ItemView struct {
	ID            int64       `json:"id"`
	Batch         string      `json:"batch"`
	RowNumber     int         `json:"row_number"`
	Phone         string      `json:"phone"`
	Amount        json.Number `json:"amount"`
	Status        string      `json:"status"`
	ResultMessage string      `json:"result_message"`
	ProcessedAt   *time.Time  `json:"processed_at"`
	AttemptCount  int         `json:"attempt_count"`
}

type ItemUpdate struct {
	Item ItemView `json:"item"`
}

type BatchView struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

type BatchUpdate struct {
	Batch BatchView `json:"batch"`
}

func NewItemView(item domain.Item) ItemView {
	return ItemView{
		ID:            item.ID,
		Batch:         item.BatchID,
		RowNumber:     item.RowNumber,
		Phone:         item.Phone,
		Amount:        json.Number(item.Amount.StringFixed(domain.AmountPlaces)),
		Status:        item.Status.String(),
		ResultMessage: item.ResultMessage,
		ProcessedAt:   item.ProcessedAt,
		AttemptCount:  item.AttemptCount,
	}
}

// Publisher emits item and batch progress. A sink failure is logged and
// counted; it never fails the caller.
type Publisher struct {
	sink    EventSink
	logger  *zap.Logger
	metrics *observability.Metrics
}

func NewPublisher(sink EventSink, logger *zap.Logger) *Publisher {
	if sink == nil {
		sink = NopSink{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{sink: sink, logger: logger}
}

func (p *Publisher) SetMetrics(metrics *observability.Metrics) {
	if p == nil {
		return
	}
	p.metrics = metrics
}

func (p *Publisher) PublishItemUpdate(ctx context.Context, item domain.Item) {
	p.publish(ctx, item.BatchID, EventItemUpdate, ItemUpdate{Item: NewItemView(item)})
}

func (p *Publisher) PublishBatchUpdate(ctx context.Context, batch domain.Batch) {
	p.publish(ctx, batch.ID, EventBatchUpdate, BatchUpdate{
		Batch: BatchView{ID: batch.ID, Status: batch.Status.String()},
	})
}

func (p *Publisher) publish(ctx context.Context, batchID string, event string, payload any) {
	if p == nil {
		return
	}

	channel := ChannelName(batchID)
	if err := p.sink.Send(ctx, channel, event, payload); err != nil {
		observability.WithContextLogger(p.logger, ctx).Warn("failed to publish progress event",
			zap.String("channel", channel),
			zap.String("event", event),
			zap.Error(err),
		)
		p.metrics.IncEventPublishFailure(event)
	}
}
