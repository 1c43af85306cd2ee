package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	// IdempotencyTTL is how long a completed create's result is
	// retained for replay under the same Idempotency-Key.
	IdempotencyTTL = 24 * time.Hour

	// processingTTL bounds how long a reservation can block a
	// concurrent duplicate before it is considered stale.
	processingTTL = 5 * time.Minute

	processingMarker = "processing"
)

// ErrDuplicateRequest is returned when a request with the same
// idempotency key is currently in flight.
var ErrDuplicateRequest = errors.New("duplicate request: idempotency key already in flight")

// IdempotencyResult is the cached outcome of an idempotent create.
type IdempotencyResult struct {
	NotificationID int64 `json:"notification_id"`
	StatusCode     int   `json:"status_code"`
	CreatedAt      int64 `json:"created_at"`
}

// IdempotencyService deduplicates create requests per user using Redis.
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

func (s *IdempotencyService) buildKey(userID int64, idempotencyKey string) string {
	return "herald:idempotency:" + strconv.FormatInt(userID, 10) + ":" + idempotencyKey
}

// Check retrieves a cached result for an idempotency key. Returns
// (nil, nil) if the key is unknown, the cached result if the request
// completed, or ErrDuplicateRequest if it is still being processed.
func (s *IdempotencyService) Check(ctx context.Context, userID int64, idempotencyKey string) (*IdempotencyResult, error) {
	key := s.buildKey(userID, idempotencyKey)

	val, err := s.client.rdb.Get(ctx, key).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get failed: %w", err)
	}

	if val == processingMarker {
		return nil, ErrDuplicateRequest
	}

	var result IdempotencyResult
	if err := json.Unmarshal([]byte(val), &result); err != nil {
		s.logger.Error("failed to unmarshal idempotency result", zap.Error(err))
		return nil, fmt.Errorf("invalid cached result: %w", err)
	}

	s.logger.Debug("idempotency cache hit",
		zap.Int64("user_id", userID),
		zap.Int64("notification_id", result.NotificationID),
	)

	return &result, nil
}

// Store saves the result of a completed create for later replay.
func (s *IdempotencyService) Store(ctx context.Context, userID int64, idempotencyKey string, result *IdempotencyResult) error {
	key := s.buildKey(userID, idempotencyKey)

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

// Reserve acquires the key with SET NX so concurrent duplicates are
// rejected while the first request is in flight.
func (s *IdempotencyService) Reserve(ctx context.Context, userID int64, idempotencyKey string) (bool, error) {
	key := s.buildKey(userID, idempotencyKey)

	set, err := s.client.rdb.SetNX(ctx, key, processingMarker, processingTTL).Result()
	if err != nil {
		return false, fmt.Errorf("redis setnx failed: %w", err)
	}

	return set, nil
}

// CheckOrReserve returns the cached result if the request already
// completed, reserves the key and returns nil if it is new, or returns
// ErrDuplicateRequest if a twin is in flight.
func (s *IdempotencyService) CheckOrReserve(ctx context.Context, userID int64, idempotencyKey string) (*IdempotencyResult, error) {
	result, err := s.Check(ctx, userID, idempotencyKey)
	if err != nil {
		return nil, err
	}
	if result != nil {
		return result, nil
	}

	reserved, err := s.Reserve(ctx, userID, idempotencyKey)
	if err != nil {
		return nil, err
	}

	if !reserved {
		return nil, ErrDuplicateRequest
	}

	return nil, nil
}
