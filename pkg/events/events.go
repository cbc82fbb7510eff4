// Package events announces committed changes to external consumers such as
// the search indexer.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"

	eavcontext "github.com/congraphcms/eav-sub001/pkg/context"
	"github.com/congraphcms/eav-sub001/pkg/metrics"
	"github.com/congraphcms/eav-sub001/pkg/tracing"
)

const (
	TypeEntityCreated   = "entity.created"
	TypeEntityUpdated   = "entity.updated"
	TypeEntityDeleted   = "entity.deleted"
	TypeMetadataChanged = "metadata.changed"
)

// EntityPayload carries the searchable values of an entity. Localized values
// are keyed by locale code.
type EntityPayload struct {
	ID             int64          `json:"id"`
	Type           string         `json:"type"`
	AttributeSetID int64          `json:"attribute_set_id"`
	Status         string         `json:"status,omitempty"`
	Searchable     map[string]any `json:"searchable,omitempty"`
}

type MetadataPayload struct {
	Resource string `json:"resource"`
	ID       int64  `json:"id"`
	Action   string `json:"action"`
	// DeletedEntityIDs lists entities removed by a cascading delete.
	DeletedEntityIDs []int64 `json:"deleted_entity_ids,omitempty"`
}

type Event struct {
	ID          string           `json:"id"`
	Type        string           `json:"type"`
	OperationID string           `json:"operation_id,omitempty"`
	// Actor is the user the command ran for, when the caller set one.
	Actor       string           `json:"actor,omitempty"`
	Locale      string           `json:"locale,omitempty"`
	Timestamp   time.Time        `json:"timestamp"`
	TraceID     string           `json:"trace_id,omitempty"`
	SpanID      string           `json:"span_id,omitempty"`
	Entity      *EntityPayload   `json:"entity,omitempty"`
	Metadata    *MetadataPayload `json:"metadata,omitempty"`
}

// Key keeps the events of one entity or resource on one partition.
func (e Event) Key() string {
	switch {
	case e.Entity != nil:
		return fmt.Sprintf("entity:%d", e.Entity.ID)
	case e.Metadata != nil:
		return fmt.Sprintf("%s:%d", e.Metadata.Resource, e.Metadata.ID)
	default:
		return e.Type
	}
}

// NewEvent stamps an event with an id and the operation, actor, locale and
// trace of ctx.
func NewEvent(ctx context.Context, eventType string) Event {
	return Event{
		ID:          uuid.NewString(),
		Type:        eventType,
		OperationID: eavcontext.GetOperationID(ctx),
		Actor:       eavcontext.GetUserID(ctx),
		Locale:      eavcontext.GetLocale(ctx),
		Timestamp:   time.Now().UTC(),
		TraceID:     tracing.GetTraceID(ctx),
		SpanID:      tracing.GetSpanID(ctx),
	}
}

// Publisher delivers events after the change committed. Delivery failures
// are logged and never reach the caller.
type Publisher interface {
	Publish(ctx context.Context, events ...Event)
}

// Sink writes one encoded event.
type Sink interface {
	Publish(ctx context.Context, key string, headers map[string]string, value []byte) error
}

type SinkPublisher struct {
	sink   Sink
	logger ectologger.Logger
}

func NewSinkPublisher(sink Sink, logger ectologger.Logger) *SinkPublisher {
	return &SinkPublisher{
		sink:   sink,
		logger: logger,
	}
}

func (p *SinkPublisher) Publish(ctx context.Context, events ...Event) {
	for _, event := range events {
		log := p.logger.WithContext(ctx).WithFields(map[string]any{
			"event_id":   event.ID,
			"event_type": event.Type,
		})

		value, err := json.Marshal(event)
		if err != nil {
			metrics.RecordEvent(event.Type, "failed")
			log.WithError(err).Error("failed to encode event")
			continue
		}

		headers := map[string]string{
			"event_type":   event.Type,
			"operation_id": event.OperationID,
			"traceparent":  tracing.GetTraceParent(ctx),
		}
		if err := p.sink.Publish(ctx, event.Key(), headers, value); err != nil {
			metrics.RecordEvent(event.Type, "failed")
			log.WithError(err).Error("failed to publish event")
			continue
		}
		metrics.RecordEvent(event.Type, "published")
	}
}

// Discard drops every event.
type Discard struct{}

func (Discard) Publish(context.Context, ...Event) {}
