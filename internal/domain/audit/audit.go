// Package audit keeps the dispute trail: who changed what, with before and
// after snapshots.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"hrpay/internal/platform/querier"
	"hrpay/internal/requestctx"
)

type Event struct {
	ID         string          `json:"id"`
	ActorID    string          `json:"actorId"`
	Action     string          `json:"action"`
	EntityType string          `json:"entityType"`
	EntityID   string          `json:"entityId"`
	RequestID  string          `json:"requestId"`
	CreatedAt  time.Time       `json:"createdAt"`
	Before     json.RawMessage `json:"before,omitempty"`
	After      json.RawMessage `json:"after,omitempty"`
}

// Entry is what callers hand to a Recorder. Before and After are marshalled
// as JSON.
type Entry struct {
	ActorID    string
	Action     string
	EntityType string
	EntityID   string
	Before     any
	After      any
}

type Filter struct {
	Action     string
	EntityType string
	EntityID   string
	ActorID    string
}

type Recorder interface {
	Record(ctx context.Context, entry Entry) error
}

// RecordOrWarn writes entry and only logs a failure. Audit writes never fail
// the mutation they describe.
func RecordOrWarn(ctx context.Context, r Recorder, entry Entry) {
	if r == nil {
		return
	}
	if err := r.Record(ctx, entry); err != nil {
		zap.L().Warn("audit write failed",
			zap.String("action", entry.Action),
			zap.String("entityId", entry.EntityID),
			zap.Error(err),
		)
	}
}

func toEvent(ctx context.Context, entry Entry, now time.Time) (Event, error) {
	evt := Event{
		ID:         uuid.NewString(),
		ActorID:    entry.ActorID,
		Action:     entry.Action,
		EntityType: entry.EntityType,
		EntityID:   entry.EntityID,
		RequestID:  requestctx.GetRequestID(ctx),
		CreatedAt:  now.UTC(),
	}
	if evt.ActorID == "" {
		evt.ActorID = requestctx.ActorID(ctx)
	}
	var err error
	if evt.Before, err = marshal(entry.Before); err != nil {
		return Event{}, err
	}
	if evt.After, err = marshal(entry.After); err != nil {
		return Event{}, err
	}
	return evt, nil
}

func marshal(v any) (json.RawMessage, error) {
	if v == nil {
		return nil, nil
	}
	payload, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal audit snapshot: %w", err)
	}
	return payload, nil
}

type Service struct {
	DB querier.Querier
}

func New(db querier.Querier) *Service {
	return &Service{DB: db}
}

func (s *Service) Record(ctx context.Context, entry Entry) error {
	evt, err := toEvent(ctx, entry, time.Now())
	if err != nil {
		return err
	}
	_, err = s.DB.Exec(ctx, `
    INSERT INTO audit_events (id, actor_id, action, entity_type, entity_id, before_json, after_json, request_id, created_at)
    VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
  `, evt.ID, evt.ActorID, evt.Action, evt.EntityType, evt.EntityID, []byte(evt.Before), []byte(evt.After), evt.RequestID, evt.CreatedAt)
	return err
}

func (s *Service) Count(ctx context.Context, filter Filter) (int, error) {
	query, args := buildBaseQuery("SELECT COUNT(1)", filter)
	var total int
	if err := s.DB.QueryRow(ctx, query, args...).Scan(&total); err != nil {
		return 0, err
	}
	return total, nil
}

func (s *Service) List(ctx context.Context, filter Filter, includeDetails bool, limit, offset int) ([]Event, error) {
	selectCols := "id, actor_id, action, entity_type, entity_id, request_id, created_at"
	if includeDetails {
		selectCols += ", before_json, after_json"
	}
	query, args := buildBaseQuery("SELECT "+selectCols, filter)
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", len(args)+1, len(args)+2)
	args = append(args, limit, offset)

	rows, err := s.DB.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var evt Event
		dest := []any{&evt.ID, &evt.ActorID, &evt.Action, &evt.EntityType, &evt.EntityID, &evt.RequestID, &evt.CreatedAt}
		if includeDetails {
			dest = append(dest, &evt.Before, &evt.After)
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, err
		}
		out = append(out, evt)
	}
	return out, rows.Err()
}

func buildBaseQuery(prefix string, filter Filter) (string, []any) {
	query := prefix + " FROM audit_events WHERE 1=1"
	var args []any
	add := func(column, value string) {
		if value == "" {
			return
		}
		args = append(args, value)
		query += fmt.Sprintf(" AND %s = $%d", column, len(args))
	}
	add("action", filter.Action)
	add("entity_type", filter.EntityType)
	add("entity_id", filter.EntityID)
	add("actor_id", filter.ActorID)
	return query, args
}

// Memory is an in-process Recorder used by tests and by tools that run
// without a database.
type Memory struct {
	mu     sync.Mutex
	events []Event
}

func (m *Memory) Record(ctx context.Context, entry Entry) error {
	evt, err := toEvent(ctx, entry, time.Now())
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, evt)
	return nil
}

func (m *Memory) Events(filter Filter) []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Event
	for _, evt := range m.events {
		if filter.Action != "" && evt.Action != filter.Action {
			continue
		}
		if filter.EntityType != "" && evt.EntityType != filter.EntityType {
			continue
		}
		if filter.EntityID != "" && evt.EntityID != filter.EntityID {
			continue
		}
		if filter.ActorID != "" && evt.ActorID != filter.ActorID {
			continue
		}
		out = append(out, evt)
	}
	return out
}

func (m *Memory) Count(_ context.Context, filter Filter) (int, error) {
	return len(m.Events(filter)), nil
}

// List returns matching events newest first.
func (m *Memory) List(_ context.Context, filter Filter, includeDetails bool, limit, offset int) ([]Event, error) {
	all := m.Events(filter)
	out := make([]Event, 0, len(all))
	for i := len(all) - 1; i >= 0; i-- {
		evt := all[i]
		if !includeDetails {
			evt.Before, evt.After = nil, nil
		}
		out = append(out, evt)
	}
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}
