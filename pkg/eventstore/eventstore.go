package eventstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var (
	ErrConcurrencyConflict = errors.New("concurrency conflict: version mismatch")
	ErrEventNotFound       = errors.New("event not found")
)

// DBTX is satisfied by *sql.DB, *sql.Tx and their sqlx wrappers.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// Event represents a domain event with full metadata
type Event struct {
	ID            int64                  `json:"id" db:"id"`
	AggregateID   uuid.UUID              `json:"aggregate_id" db:"aggregate_id"`
	AggregateType string                 `json:"aggregate_type" db:"aggregate_type"`
	EventType     string                 `json:"event_type" db:"event_type"`
	EventData     json.RawMessage        `json:"event_data" db:"event_data"`
	Metadata      map[string]interface{} `json:"metadata,omitempty" db:"metadata"`
	Version       int                    `json:"version" db:"version"`
	CreatedAt     time.Time              `json:"created_at" db:"created_at"`
	PublishedAt   *time.Time             `json:"published_at,omitempty" db:"published_at"`
}

// NewEvent marshals payload into an event for the given aggregate.
func NewEvent(aggregateID uuid.UUID, aggregateType, eventType string, payload interface{}) (Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("marshal %s payload: %w", eventType, err)
	}
	return Event{
		AggregateID:   aggregateID,
		AggregateType: aggregateType,
		EventType:     eventType,
		EventData:     data,
	}, nil
}

// EventStore is a transactional outbox: events are appended inside the
// caller's transaction and relayed to a broker afterwards.
type EventStore struct {
	db     *sql.DB
	tracer trace.Tracer
}

// NewEventStore creates a new event store over db
func NewEventStore(db *sql.DB) *EventStore {
	return &EventStore{
		db:     db,
		tracer: otel.Tracer("bookstore/eventstore"),
	}
}

// Append writes events within tx. Each event gets the next version of its
// aggregate; a concurrent writer on the same aggregate surfaces as
// ErrConcurrencyConflict and the caller's transaction must be retried.
func (es *EventStore) Append(ctx context.Context, tx DBTX, events ...Event) ([]Event, error) {
	ctx, span := es.tracer.Start(ctx, "eventstore.append",
		trace.WithAttributes(attribute.Int("event.count", len(events))),
	)
	defer span.End()

	out := make([]Event, 0, len(events))
	for i, event := range events {
		var current int
		err := tx.QueryRowContext(ctx, `
			SELECT COALESCE(MAX(version), 0)
			FROM events
			WHERE aggregate_id = $1
		`, event.AggregateID).Scan(&current)
		if err != nil {
			return nil, fmt.Errorf("query current version: %w", err)
		}

		metadataJSON, err := json.Marshal(event.Metadata)
		if err != nil {
			return nil, fmt.Errorf("marshal metadata: %w", err)
		}

		event.Version = current + 1
		event.CreatedAt = time.Now().UTC()
		err = tx.QueryRowContext(ctx, `
			INSERT INTO events (aggregate_id, aggregate_type, event_type, event_data, metadata, version, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			RETURNING id
		`, event.AggregateID, event.AggregateType, event.EventType, []byte(event.EventData),
			metadataJSON, event.Version, event.CreatedAt).Scan(&event.ID)
		if err != nil {
			var pqErr *pq.Error
			if errors.As(err, &pqErr) && pqErr.Code == "23505" {
				span.SetAttributes(attribute.Bool("conflict.detected", true))
				return nil, ErrConcurrencyConflict
			}
			return nil, fmt.Errorf("insert event %d: %w", i, err)
		}

		span.AddEvent("event.appended", trace.WithAttributes(
			attribute.Int64("event.id", event.ID),
			attribute.Int("event.version", event.Version),
			attribute.String("event.type", event.EventType),
			attribute.String("aggregate.id", event.AggregateID.String()),
		))
		out = append(out, event)
	}
	return out, nil
}

const selectEvents = `
	SELECT id, aggregate_id, aggregate_type, event_type, event_data, metadata, version, created_at, published_at
	FROM events
`

// LoadEvents retrieves all events for an aggregate with optional version range
func (es *EventStore) LoadEvents(ctx context.Context, aggregateID uuid.UUID, fromVersion, toVersion int) ([]Event, error) {
	ctx, span := es.tracer.Start(ctx, "eventstore.load",
		trace.WithAttributes(
			attribute.String("aggregate.id", aggregateID.String()),
			attribute.Int("from.version", fromVersion),
			attribute.Int("to.version", toVersion),
		),
	)
	defer span.End()

	query := selectEvents + " WHERE aggregate_id = $1 AND version >= $2"
	args := []interface{}{aggregateID, fromVersion}
	if toVersion > 0 {
		query += " AND version <= $3"
		args = append(args, toVersion)
	}
	query += " ORDER BY version ASC"

	events, err := es.query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.Int("events.loaded", len(events)))
	return events, nil
}

// StreamUnpublished returns the oldest events the relay has not yet delivered.
func (es *EventStore) StreamUnpublished(ctx context.Context, batchSize int) ([]Event, error) {
	ctx, span := es.tracer.Start(ctx, "eventstore.stream_unpublished",
		trace.WithAttributes(attribute.Int("batch.size", batchSize)),
	)
	defer span.End()

	events, err := es.query(ctx, selectEvents+" WHERE published_at IS NULL ORDER BY id ASC LIMIT $1", batchSize)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.Int("events.streamed", len(events)))
	return events, nil
}

// MarkPublished records that the event reached the broker.
func (es *EventStore) MarkPublished(ctx context.Context, id int64) error {
	ctx, span := es.tracer.Start(ctx, "eventstore.mark_published",
		trace.WithAttributes(attribute.Int64("event.id", id)),
	)
	defer span.End()

	res, err := es.db.ExecContext(ctx, `
		UPDATE events SET published_at = NOW()
		WHERE id = $1 AND published_at IS NULL
	`, id)
	if err != nil {
		return fmt.Errorf("mark event %d published: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		var exists bool
		if err := es.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM events WHERE id = $1)`, id).Scan(&exists); err != nil {
			return fmt.Errorf("check event %d: %w", id, err)
		}
		if !exists {
			return ErrEventNotFound
		}
	}
	return nil
}

func (es *EventStore) query(ctx context.Context, query string, args ...interface{}) ([]Event, error) {
	rows, err := es.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var event Event
		var metadataJSON []byte
		var publishedAt sql.NullTime

		err := rows.Scan(
			&event.ID,
			&event.AggregateID,
			&event.AggregateType,
			&event.EventType,
			&event.EventData,
			&metadataJSON,
			&event.Version,
			&event.CreatedAt,
			&publishedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		if len(metadataJSON) > 0 {
			if err := json.Unmarshal(metadataJSON, &event.Metadata); err != nil {
				return nil, fmt.Errorf("decode metadata of event %d: %w", event.ID, err)
			}
		}
		if publishedAt.Valid {
			t := publishedAt.Time
			event.PublishedAt = &t
		}
		events = append(events, event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return events, nil
}
