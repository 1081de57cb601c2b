package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	// IdempotencyTTL is how long a completed broadcast is replayed for the
	// same Idempotency-Key. Long enough to absorb a double-clicked send button
	// and client retries, short enough that a deliberate re-send next day works.
	IdempotencyTTL = 10 * time.Minute

	// processingTTL bounds how long a crashed request can hold a key.
	processingTTL = 2 * time.Minute

	processingMarker = "processing"
)

// ErrDuplicateRequest indicates a request with the same key is in flight.
var ErrDuplicateRequest = errors.New("duplicate request: idempotency key already exists")

// IdempotencyResult is the cached response of a completed broadcast.
type IdempotencyResult struct {
	StatusCode int             `json:"status_code"`
	Body       json.RawMessage `json:"body"`
	CreatedAt  int64           `json:"created_at"`
}

// IdempotencyService keeps admin broadcasts from being sent twice.
type IdempotencyService struct {
	client *Client
	logger *zap.Logger
}

// NewIdempotencyService creates a new idempotency service.
func NewIdempotencyService(client *Client, logger *zap.Logger) *IdempotencyService {
	return &IdempotencyService{
		client: client,
		logger: logger,
	}
}

func (s *IdempotencyService) buildKey(scope, idempotencyKey string) string {
	return s.client.key("idempotency", scope, idempotencyKey)
}

func (s *IdempotencyService) decode(scope, val string) (*IdempotencyResult, error) {
	if val == processingMarker {
		return nil, ErrDuplicateRequest
	}

	var result IdempotencyResult
	if err := json.Unmarshal([]byte(val), &result); err != nil {
		s.logger.Error("failed to unmarshal idempotency result", zap.Error(err))
		return nil, fmt.Errorf("invalid cached result: %w", err)
	}

	s.logger.Debug("idempotency cache hit",
		zap.String("scope", scope),
		zap.Int("status_code", result.StatusCode),
	)

	return &result, nil
}

// Store saves the result of a completed request.
func (s *IdempotencyService) Store(ctx context.Context, scope, idempotencyKey string, result *IdempotencyResult) error {
	key := s.buildKey(scope, idempotencyKey)

	if result.CreatedAt == 0 {
		result.CreatedAt = time.Now().Unix()
	}

	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}

	if err := s.client.rdb.Set(ctx, key, data, IdempotencyTTL).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}

	return nil
}

// Release drops a reservation so a failed request can be retried.
func (s *IdempotencyService) Release(ctx context.Context, scope, idempotencyKey string) error {
	return s.client.rdb.Del(ctx, s.buildKey(scope, idempotencyKey)).Err()
}

// checkOrReserveScript returns the stored value, or sets the processing
// marker and returns nil when the key is free. One round trip, so two
// concurrent sends with the same key cannot both win.
var checkOrReserveScript = redis.NewScript(`
local v = redis.call('GET', KEYS[1])
if v then return v end
redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[2])
return false
`)

// CheckOrReserve returns the cached result if there is one, otherwise
// reserves the key. A nil result with nil error means the caller owns the key.
func (s *IdempotencyService) CheckOrReserve(ctx context.Context, scope, idempotencyKey string) (*IdempotencyResult, error) {
	key := s.buildKey(scope, idempotencyKey)

	val, err := checkOrReserveScript.Run(ctx, s.client.rdb, []string{key},
		processingMarker, processingTTL.Milliseconds()).Text()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis check-or-reserve failed: %w", err)
	}

	return s.decode(scope, val)
}
