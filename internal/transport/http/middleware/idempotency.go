package middleware

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"net/http"
	"sync"

	"go.uber.org/zap"

	"hrpay/internal/platform/db"
	"hrpay/internal/platform/querier"
	"hrpay/internal/transport/http/api"
)

const IdempotencyKeyHeader = "Idempotency-Key"

var ErrIdempotencyConflict = errors.New("idempotency key conflicts with existing request")

// StoredResponse is the first answer given for an idempotency key.
type StoredResponse struct {
	RequestHash string
	StatusCode  int
	Body        []byte
}

type IdempotencyStore interface {
	// Lookup returns ErrIdempotencyConflict when the key was used with a
	// different request body.
	Lookup(ctx context.Context, userID, endpoint, key, requestHash string) (*StoredResponse, error)
	Save(ctx context.Context, userID, endpoint, key string, resp StoredResponse) error
}

func RequestHash(payload []byte) string {
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

// Idempotency replays the stored response for a repeated Idempotency-Key on
// the same endpoint. Requests without the header pass through untouched.
// Server errors are not stored so the caller can retry them.
func Idempotency(store IdempotencyStore) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get(IdempotencyKeyHeader)
			if key == "" || r.Method != http.MethodPost || store == nil {
				next.ServeHTTP(w, r)
				return
			}
			requestID := GetRequestID(r.Context())
			if len(key) > 255 {
				api.Fail(w, http.StatusBadRequest, "invalid_idempotency_key", "idempotency key is too long", requestID)
				return
			}

			payload, err := io.ReadAll(r.Body)
			if err != nil {
				api.Fail(w, http.StatusBadRequest, "invalid_body", "request body could not be read", requestID)
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(payload))

			var userID string
			if user, ok := GetUser(r.Context()); ok {
				userID = user.UserID
			}
			endpoint := r.Method + " " + r.URL.Path
			hash := RequestHash(payload)

			stored, err := store.Lookup(r.Context(), userID, endpoint, key, hash)
			switch {
			case errors.Is(err, ErrIdempotencyConflict):
				api.Fail(w, http.StatusConflict, "idempotency_key_reused", "idempotency key was used with a different request", requestID)
				return
			case err != nil:
				zap.L().Error("idempotency lookup failed", zap.String("requestId", requestID), zap.Error(err))
				api.Fail(w, http.StatusInternalServerError, "internal_error", "internal server error", requestID)
				return
			case stored != nil:
				w.Header().Set("Content-Type", "application/json")
				w.Header().Set("Idempotent-Replayed", "true")
				w.WriteHeader(stored.StatusCode)
				_, _ = w.Write(stored.Body)
				return
			}

			capture := &responseCapture{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(capture, r)
			if capture.status >= http.StatusInternalServerError {
				return
			}
			resp := StoredResponse{RequestHash: hash, StatusCode: capture.status, Body: capture.body.Bytes()}
			if err := store.Save(r.Context(), userID, endpoint, key, resp); err != nil {
				zap.L().Warn("idempotency save failed", zap.String("requestId", requestID), zap.Error(err))
			}
		})
	}
}

type responseCapture struct {
	http.ResponseWriter
	status int
	body   bytes.Buffer
}

func (c *responseCapture) WriteHeader(code int) {
	c.status = code
	c.ResponseWriter.WriteHeader(code)
}

func (c *responseCapture) Write(b []byte) (int, error) {
	c.body.Write(b)
	return c.ResponseWriter.Write(b)
}

type PgIdempotencyStore struct {
	DB querier.Querier
}

func NewPgIdempotencyStore(q querier.Querier) *PgIdempotencyStore {
	return &PgIdempotencyStore{DB: q}
}

func (s *PgIdempotencyStore) Lookup(ctx context.Context, userID, endpoint, key, requestHash string) (*StoredResponse, error) {
	var resp StoredResponse
	err := s.DB.QueryRow(ctx, `
    SELECT request_hash, status_code, response_json
    FROM idempotency_keys
    WHERE user_id = $1 AND key = $2 AND endpoint = $3
  `, userID, key, endpoint).Scan(&resp.RequestHash, &resp.StatusCode, &resp.Body)
	if db.IsNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if resp.RequestHash != requestHash {
		return nil, ErrIdempotencyConflict
	}
	return &resp, nil
}

func (s *PgIdempotencyStore) Save(ctx context.Context, userID, endpoint, key string, resp StoredResponse) error {
	tag, err := s.DB.Exec(ctx, `
    INSERT INTO idempotency_keys (user_id, key, endpoint, request_hash, status_code, response_json)
    VALUES ($1, $2, $3, $4, $5, $6)
    ON CONFLICT (user_id, key, endpoint)
    DO UPDATE SET response_json = EXCLUDED.response_json, status_code = EXCLUDED.status_code
    WHERE idempotency_keys.request_hash = EXCLUDED.request_hash
  `, userID, key, endpoint, resp.RequestHash, resp.StatusCode, resp.Body)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrIdempotencyConflict
	}
	return nil
}

// MemoryIdempotencyStore keeps keys in process. Used in tests and when the
// server runs without a database.
type MemoryIdempotencyStore struct {
	mu      sync.Mutex
	entries map[string]StoredResponse
}

func NewMemoryIdempotencyStore() *MemoryIdempotencyStore {
	return &MemoryIdempotencyStore{entries: map[string]StoredResponse{}}
}

func (s *MemoryIdempotencyStore) Lookup(_ context.Context, userID, endpoint, key, requestHash string) (*StoredResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	resp, ok := s.entries[userID+"|"+endpoint+"|"+key]
	if !ok {
		return nil, nil
	}
	if resp.RequestHash != requestHash {
		return nil, ErrIdempotencyConflict
	}
	return &resp, nil
}

func (s *MemoryIdempotencyStore) Save(_ context.Context, userID, endpoint, key string, resp StoredResponse) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := userID + "|" + endpoint + "|" + key
	if existing, ok := s.entries[id]; ok && existing.RequestHash != resp.RequestHash {
		return ErrIdempotencyConflict
	}
	s.entries[id] = resp
	return nil
}
