// Package events publishes batch progress to realtime subscribers.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/pusher/pusher-http-go/v5"
	"github.com/redis/go-redis/v9"
)

// EventSink delivers one named event on a channel.
type EventSink interface {
	Send(ctx context.Context, channel string, event string, payload any) error
}

// PusherSink triggers events through the Pusher HTTP API. Soketi and other
// Pusher-compatible servers work by pointing Host at them.
type PusherSink struct {
	client *pusher.Client
}

type PusherConfig struct {
	AppID   string
	Key     string
	Secret  string
	Host    string
	Cluster string
	Secure  bool
}

func NewPusherSink(cfg PusherConfig) (*PusherSink, error) {
	if strings.TrimSpace(cfg.AppID) == "" || strings.TrimSpace(cfg.Key) == "" || strings.TrimSpace(cfg.Secret) == "" {
		return nil, fmt.Errorf("pusher app id, key and secret are required")
	}

	return &PusherSink{
		client: &pusher.Client{
			AppID:   cfg.AppID,
			Key:     cfg.Key,
			Secret:  cfg.Secret,
			Host:    strings.TrimSpace(cfg.Host),
			Cluster: strings.TrimSpace(cfg.Cluster),
			Secure:  cfg.Secure,
		},
	}, nil
}

func (s *PusherSink) Send(_ context.Context, channel string, event string, payload any) error {
	if err := s.client.Trigger(channel, event, payload); err != nil {
		return fmt.Errorf("pusher trigger %s on %s: %w", event, channel, err)
	}
	return nil
}

// redisEnvelope is the message body published on Redis channels.
type redisEnvelope struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// RedisSink publishes events with Redis PUBLISH on the batch channel.
type RedisSink struct {
	client *redis.Client
}

func NewRedisSink(client *redis.Client) (*RedisSink, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	return &RedisSink{client: client}, nil
}

func (s *RedisSink) Send(ctx context.Context, channel string, event string, payload any) error {
	body, err := json.Marshal(redisEnvelope{Event: event, Data: payload})
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", event, err)
	}
	if err := s.client.Publish(ctx, channel, body).Err(); err != nil {
		return fmt.Errorf("redis publish %s on %s: %w", event, channel, err)
	}
	return nil
}

// NopSink drops every event.
type NopSink struct{}

func (NopSink) Send(context.Context, string, string, any) error { return nil }
