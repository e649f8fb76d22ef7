package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"
)

const (
	DefaultIdempotencyTTL = 24 * time.Hour
	keyIdempotency        = "idempotency:%s:%s"
)

var (
	ErrIdempotencyInFlight = errors.New("idempotency_key_in_flight")
	ErrIdempotencyMismatch = errors.New("idempotency_key_reused")
)

// StoredResponse is the replayable outcome of a request.
type StoredResponse struct {
	Fingerprint string          `json:"fingerprint"`
	Status      int             `json:"status"`
	Body        json.RawMessage `json:"body,omitempty"`
	Done        bool            `json:"done"`
}

// IdempotencyStore remembers the first response for a (scope, key) pair.
type IdempotencyStore interface {
	// Begin reserves the key. It returns the stored response when the key was
	// already completed with the same fingerprint.
	Begin(ctx context.Context, scope, key, fingerprint string) (*StoredResponse, error)
	Complete(ctx context.Context, scope, key string, resp StoredResponse) error
	// Abandon releases a reservation so the client may retry.
	Abandon(ctx context.Context, scope, key string) error
}

func NewIdempotencyStore(client *redis.Client) IdempotencyStore {
	if client == nil {
		return NewMemoryIdempotencyStore()
	}
	return &redisIdempotencyStore{client: client, ttl: DefaultIdempotencyTTL}
}

func idempotencyKey(scope, key string) string {
	return fmt.Sprintf(keyIdempotency, strings.TrimSpace(scope), strings.TrimSpace(key))
}

func resolve(existing StoredResponse, fingerprint string) (*StoredResponse, error) {
	if existing.Fingerprint != fingerprint {
		return nil, ErrIdempotencyMismatch
	}
	if !existing.Done {
		return nil, ErrIdempotencyInFlight
	}
	return &existing, nil
}

type redisIdempotencyStore struct {
	client *redis.Client
	ttl    time.Duration
}

func (s *redisIdempotencyStore) Begin(ctx context.Context, scope, key, fingerprint string) (*StoredResponse, error) {
	k := idempotencyKey(scope, key)
	marker, err := json.Marshal(StoredResponse{Fingerprint: fingerprint})
	if err != nil {
		return nil, err
	}
	ok, err := s.client.SetNX(ctx, k, marker, s.ttl).Result()
	if err != nil {
		return nil, err
	}
	if ok {
		return nil, nil
	}

	raw, err := s.client.Get(ctx, k).Bytes()
	if errors.Is(err, redis.Nil) {
		// expired between SETNX and GET
		return s.Begin(ctx, scope, key, fingerprint)
	}
	if err != nil {
		return nil, err
	}
	var existing StoredResponse
	if err := json.Unmarshal(raw, &existing); err != nil {
		return nil, err
	}
	return resolve(existing, fingerprint)
}

func (s *redisIdempotencyStore) Complete(ctx context.Context, scope, key string, resp StoredResponse) error {
	resp.Done = true
	payload, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, idempotencyKey(scope, key), payload, s.ttl).Err()
}

func (s *redisIdempotencyStore) Abandon(ctx context.Context, scope, key string) error {
	return s.client.Del(ctx, idempotencyKey(scope, key)).Err()
}

type memoryEntry struct {
	resp      StoredResponse
	expiresAt time.Time
}

// MemoryIdempotencyStore is the single-process store used without redis.
type MemoryIdempotencyStore struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	ttl     time.Duration
	now     func() time.Time
}

func NewMemoryIdempotencyStore() *MemoryIdempotencyStore {
	return &MemoryIdempotencyStore{
		entries: make(map[string]memoryEntry),
		ttl:     DefaultIdempotencyTTL,
		now:     time.Now,
	}
}

func (s *MemoryIdempotencyStore) Begin(ctx context.Context, scope, key, fingerprint string) (*StoredResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := idempotencyKey(scope, key)
	now := s.now()
	if entry, ok := s.entries[k]; ok && now.Before(entry.expiresAt) {
		return resolve(entry.resp, fingerprint)
	}
	s.entries[k] = memoryEntry{
		resp:      StoredResponse{Fingerprint: fingerprint},
		expiresAt: now.Add(s.ttl),
	}
	return nil, nil
}

func (s *MemoryIdempotencyStore) Complete(ctx context.Context, scope, key string, resp StoredResponse) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	resp.Done = true
	s.entries[idempotencyKey(scope, key)] = memoryEntry{resp: resp, expiresAt: s.now().Add(s.ttl)}
	return nil
}

func (s *MemoryIdempotencyStore) Abandon(ctx context.Context, scope, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, idempotencyKey(scope, key))
	return nil
}
