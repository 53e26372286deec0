package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"media-toolkit/internal/core/ports"
)

// EventType represents the type of event
type EventType string

const (
	TransformCompletedEvent EventType = "transform.completed"
	TransformFailedEvent    EventType = "transform.failed"
)

// Event is the envelope written to the stream. Data holds the JSON payload.
type Event struct {
	ID            string            `json:"id"`
	Type          EventType         `json:"type"`
	Source        string            `json:"source"`
	Timestamp     time.Time         `json:"timestamp"`
	Data          json.RawMessage   `json:"data"`
	Metadata      map[string]string `json:"metadata,omitempty"`
	CorrelationID string            `json:"correlation_id,omitempty"`
	Version       string            `json:"version"`
}

// Decode unmarshals the payload into v.
func (e *Event) Decode(v interface{}) error {
	return json.Unmarshal(e.Data, v)
}

// EventHandler defines the interface for handling events
type EventHandler interface {
	Handle(ctx context.Context, event *Event) error
	SupportedEvents() []EventType
}

// EventBus interface for event publishing and subscribing
type EventBus interface {
	ports.EventPublisher
	Publish(ctx context.Context, event *Event) error
	Subscribe(handler EventHandler) error
	Start(ctx context.Context) error
	Stop() error
}

// EventMetrics interface for event metrics
type EventMetrics interface {
	RecordEventPublished(eventType string, success bool, latency time.Duration)
	RecordEventProcessed(eventType string, success bool, latency time.Duration)
}

// EventConfig holds event bus configuration
type EventConfig struct {
	StreamPrefix  string        `json:"stream_prefix"`
	Source        string        `json:"source"`
	ConsumerGroup string        `json:"consumer_group"`
	ConsumerName  string        `json:"consumer_name"`
	MaxLen        int64         `json:"max_len"`
	BatchSize     int           `json:"batch_size" validate:"min=1,max=100"`
	BlockTimeout  time.Duration `json:"block_timeout" validate:"min=1s"`
}

// DefaultEventConfig returns default event configuration
func DefaultEventConfig() *EventConfig {
	return &EventConfig{
		StreamPrefix:  "media:events",
		Source:        "media-toolkit",
		ConsumerGroup: "media-toolkit",
		ConsumerName:  "media-toolkit-1",
		MaxLen:        10000,
		BatchSize:     10,
		BlockTimeout:  5 * time.Second,
	}
}

// RedisEventBus implements EventBus using Redis Streams, one stream per
// event type.
type RedisEventBus struct {
	client   *redis.Client
	config   *EventConfig
	logger   zerolog.Logger
	handlers map[EventType][]EventHandler
	mu       sync.RWMutex
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	metrics  EventMetrics
}

var _ EventBus = (*RedisEventBus)(nil)

// NewRedisEventBus creates an event bus on an existing client. The client
// stays owned by the caller.
func NewRedisEventBus(client *redis.Client, config *EventConfig, logger zerolog.Logger, metrics EventMetrics) *RedisEventBus {
	if config == nil {
		config = DefaultEventConfig()
	}
	ctx, cancel := context.WithCancel(context.Background())

	bus := &RedisEventBus{
		client:   client,
		config:   config,
		logger:   logger.With().Str("component", "event_bus").Logger(),
		handlers: make(map[EventType][]EventHandler),
		ctx:      ctx,
		cancel:   cancel,
		metrics:  metrics,
	}

	bus.logger.Info().
		Str("stream_prefix", config.StreamPrefix).
		Str("consumer_group", config.ConsumerGroup).
		Msg("Event bus initialized")

	return bus
}

// StreamName returns the stream holding events of the given type.
func (b *RedisEventBus) StreamName(eventType EventType) string {
	return fmt.Sprintf("%s:%s", b.config.StreamPrefix, eventType)
}

// Publish publishes an event to the event bus
func (b *RedisEventBus) Publish(ctx context.Context, event *Event) error {
	start := time.Now()
	var success bool

	defer func() {
		if b.metrics != nil {
			b.metrics.RecordEventPublished(string(event.Type), success, time.Since(start))
		}
	}()

	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if event.Version == "" {
		event.Version = "1.0"
	}
	if event.Source == "" {
		event.Source = b.config.Source
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	streamName := b.StreamName(event.Type)
	args := &redis.XAddArgs{
		Stream: streamName,
		MaxLen: b.config.MaxLen,
		Approx: true,
		Values: map[string]interface{}{
			"event_id":   event.ID,
			"event_type": string(event.Type),
			"source":     event.Source,
			"data":       string(data),
			"timestamp":  event.Timestamp.Unix(),
		},
	}

	if _, err := b.client.XAdd(ctx, args).Result(); err != nil {
		b.logger.Error().Err(err).
			Str("event_id", event.ID).
			Str("stream", streamName).
			Msg("Failed to publish event")
		return fmt.Errorf("publish to stream: %w", err)
	}

	success = true
	b.logger.Debug().
		Str("event_id", event.ID).
		Str("event_type", string(event.Type)).
		Str("stream", streamName).
		Msg("Event published")

	return nil
}

func (b *RedisEventBus) PublishTransformCompleted(ctx context.Context, event *ports.TransformCompletedEvent) error {
	e, err := NewTransformEvent(TransformCompletedEvent, event, correlation(event.SessionID, event.JobID))
	if err != nil {
		return err
	}
	return b.Publish(ctx, e)
}

func (b *RedisEventBus) PublishTransformFailed(ctx context.Context, event *ports.TransformFailedEvent) error {
	e, err := NewTransformEvent(TransformFailedEvent, event, correlation(event.SessionID, event.JobID))
	if err != nil {
		return err
	}
	return b.Publish(ctx, e)
}

// Subscribe registers handler for every event type it supports. Handlers
// must be registered before Start.
func (b *RedisEventBus) Subscribe(handler EventHandler) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	supported := handler.SupportedEvents()
	if len(supported) == 0 {
		return errors.New("handler supports no event types")
	}
	for _, eventType := range supported {
		b.handlers[eventType] = append(b.handlers[eventType], handler)
		b.logger.Info().
			Str("event_type", string(eventType)).
			Int("handler_count", len(b.handlers[eventType])).
			Msg("Event handler subscribed")
	}
	return nil
}

// Start creates the consumer groups and begins delivering events.
func (b *RedisEventBus) Start(ctx context.Context) error {
	b.mu.RLock()
	types := make([]EventType, 0, len(b.handlers))
	for eventType := range b.handlers {
		types = append(types, eventType)
	}
	b.mu.RUnlock()

	for _, eventType := range types {
		if err := b.createConsumerGroup(ctx, eventType); err != nil {
			return err
		}
	}

	for _, eventType := range types {
		b.wg.Add(1)
		go b.consumeEvents(eventType)
	}

	b.logger.Info().Int("event_types", len(types)).Msg("Event bus started")
	return nil
}

// Stop stops the consumers. The redis client is left open.
func (b *RedisEventBus) Stop() error {
	b.cancel()
	b.wg.Wait()
	b.logger.Info().Msg("Event bus stopped")
	return nil
}

func (b *RedisEventBus) createConsumerGroup(ctx context.Context, eventType EventType) error {
	err := b.client.XGroupCreateMkStream(ctx, b.StreamName(eventType), b.config.ConsumerGroup, "$").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("create consumer group: %w", err)
	}
	return nil
}

func (b *RedisEventBus) consumeEvents(eventType EventType) {
	defer b.wg.Done()

	streamName := b.StreamName(eventType)

	for {
		select {
		case <-b.ctx.Done():
			return
		default:
		}

		streams, err := b.client.XReadGroup(b.ctx, &redis.XReadGroupArgs{
			Group:    b.config.ConsumerGroup,
			Consumer: b.config.ConsumerName,
			Streams:  []string{streamName, ">"},
			Count:    int64(b.config.BatchSize),
			Block:    b.config.BlockTimeout,
		}).Result()
		if err != nil {
			if !errors.Is(err, redis.Nil) && !errors.Is(err, context.Canceled) && b.ctx.Err() == nil {
				b.logger.Error().Err(err).Str("stream", streamName).Msg("Failed to read from stream")
				time.Sleep(time.Second)
			}
			continue
		}

		for _, stream := range streams {
			for _, message := range stream.Messages {
				if err := b.processMessage(eventType, message); err != nil {
					b.logger.Error().Err(err).
						Str("message_id", message.ID).
						Str("stream", streamName).
						Msg("Failed to process message")
					continue
				}
				b.client.XAck(b.ctx, streamName, b.config.ConsumerGroup, message.ID)
			}
		}
	}
}

func (b *RedisEventBus) processMessage(eventType EventType, message redis.XMessage) error {
	start := time.Now()
	var success bool

	defer func() {
		if b.metrics != nil {
			b.metrics.RecordEventProcessed(string(eventType), success, time.Since(start))
		}
	}()

	raw, ok := message.Values["data"].(string)
	if !ok {
		return fmt.Errorf("invalid event data format")
	}

	var event Event
	if err := json.Unmarshal([]byte(raw), &event); err != nil {
		return fmt.Errorf("unmarshal event: %w", err)
	}

	b.mu.RLock()
	handlers := b.handlers[eventType]
	b.mu.RUnlock()

	for _, handler := range handlers {
		if err := handler.Handle(b.ctx, &event); err != nil {
			b.logger.Error().Err(err).
				Str("event_id", event.ID).
				Str("handler", fmt.Sprintf("%T", handler)).
				Msg("Event handler failed")
			return err
		}
	}

	success = true
	return nil
}

// NewTransformEvent wraps a transform payload in an event envelope.
func NewTransformEvent(eventType EventType, payload interface{}, correlationID string) (*Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return &Event{
		Type:          eventType,
		Data:          data,
		CorrelationID: correlationID,
	}, nil
}

func correlation(sessionID, jobID string) string {
	if jobID != "" {
		return jobID
	}
	return sessionID
}

// LogHandler writes failed transforms to the log.
type LogHandler struct {
	Logger zerolog.Logger
}

func (h LogHandler) SupportedEvents() []EventType {
	return []EventType{TransformFailedEvent}
}

func (h LogHandler) Handle(ctx context.Context, event *Event) error {
	var failed ports.TransformFailedEvent
	if err := event.Decode(&failed); err != nil {
		return err
	}
	h.Logger.Warn().
		Str("event_id", event.ID).
		Str("operation", string(failed.Operation)).
		Str("code", failed.Code).
		Str("correlation_id", event.CorrelationID).
		Msg(failed.Error)
	return nil
}
