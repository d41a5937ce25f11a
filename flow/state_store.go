package flow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	biocore "github.com/goliatone/go-biocore"
	"github.com/redis/go-redis/v9"
)

// Record is what a store needs to key and version an entity.
type Record interface {
	EntityID() string
	StateVersion() int
}

// Store persists entities with optimistic locking.
type Store[E Record] interface {
	Load(ctx context.Context, id string) (E, error)
	Insert(ctx context.Context, entity E) error
	SaveIfVersion(ctx context.Context, entity E, expectedVersion int) error
	List(ctx context.Context) ([]E, error)
}

// StoredRecord is the persisted envelope around an encoded entity.
type StoredRecord struct {
	EntityID  string          `json:"entity_id"`
	Version   int             `json:"version"`
	Payload   json.RawMessage `json:"payload"`
	UpdatedAt time.Time       `json:"updated_at"`
}

func encodeRecord[E Record](entity E) (*StoredRecord, error) {
	id := strings.TrimSpace(entity.EntityID())
	if id == "" {
		return nil, biocore.NewError(biocore.ErrMissingRequiredField, "entity id required", nil, map[string]any{"field": "id"})
	}
	payload, err := json.Marshal(entity)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", id, err)
	}
	return &StoredRecord{
		EntityID:  id,
		Version:   entity.StateVersion(),
		Payload:   payload,
		UpdatedAt: time.Now().UTC(),
	}, nil
}

func decodeRecord[E Record](rec *StoredRecord) (E, error) {
	var entity E
	if err := json.Unmarshal(rec.Payload, &entity); err != nil {
		return entity, fmt.Errorf("decode %s: %w", rec.EntityID, err)
	}
	return entity, nil
}

func notFound(id string) error {
	return biocore.NewError(biocore.ErrEntityNotFound, fmt.Sprintf("entity %s not found", id), nil, map[string]any{
		"entity_id": id,
	})
}

func versionConflict(id string, expected, current int) error {
	return biocore.NewError(biocore.ErrVersionConflict, fmt.Sprintf("entity %s changed concurrently", id), nil, map[string]any{
		"entity_id":        id,
		"expected_version": expected,
		"current_version":  current,
	})
}

func checkVersion(id string, current *StoredRecord, expected int) error {
	if current == nil {
		return notFound(id)
	}
	if current.Version != expected {
		return versionConflict(id, expected, current.Version)
	}
	return nil
}

// InMemoryStore is a thread-safe store. Entities are stored encoded so callers
// never share memory with the store.
type InMemoryStore[E Record] struct {
	mu    sync.RWMutex
	state map[string]*StoredRecord
}

func NewInMemoryStore[E Record]() *InMemoryStore[E] {
	return &InMemoryStore[E]{state: make(map[string]*StoredRecord)}
}

func (s *InMemoryStore[E]) Load(_ context.Context, id string) (E, error) {
	id = strings.TrimSpace(id)
	s.mu.RLock()
	rec, ok := s.state[id]
	s.mu.RUnlock()
	if !ok {
		var zero E
		return zero, notFound(id)
	}
	return decodeRecord[E](rec)
}

func (s *InMemoryStore[E]) Insert(_ context.Context, entity E) error {
	rec, err := encodeRecord(entity)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if current, ok := s.state[rec.EntityID]; ok {
		return versionConflict(rec.EntityID, -1, current.Version)
	}
	s.state[rec.EntityID] = rec
	return nil
}

func (s *InMemoryStore[E]) SaveIfVersion(_ context.Context, entity E, expectedVersion int) error {
	rec, err := encodeRecord(entity)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := checkVersion(rec.EntityID, s.state[rec.EntityID], expectedVersion); err != nil {
		return err
	}
	s.state[rec.EntityID] = rec
	return nil
}

// List returns every stored entity ordered by id.
func (s *InMemoryStore[E]) List(_ context.Context) ([]E, error) {
	s.mu.RLock()
	ids := make([]string, 0, len(s.state))
	for id := range s.state {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	recs := make([]*StoredRecord, 0, len(ids))
	for _, id := range ids {
		recs = append(recs, s.state[id])
	}
	s.mu.RUnlock()

	out := make([]E, 0, len(recs))
	for _, rec := range recs {
		entity, err := decodeRecord[E](rec)
		if err != nil {
			return nil, err
		}
		out = append(out, entity)
	}
	return out, nil
}

type redisGetter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

// RedisStore persists entities in redis. Compare-and-set runs under WATCH so
// concurrent writers from other processes are detected too.
type RedisStore[E Record] struct {
	client    redis.UniversalClient
	ttl       time.Duration
	keyPrefix string
}

// NewRedisStore builds a store under keyPrefix, e.g. "biocore:order:".
func NewRedisStore[E Record](client redis.UniversalClient, keyPrefix string, ttl time.Duration) *RedisStore[E] {
	if keyPrefix == "" {
		keyPrefix = "biocore:"
	}
	return &RedisStore[E]{client: client, ttl: ttl, keyPrefix: keyPrefix}
}

func (s *RedisStore[E]) Load(ctx context.Context, id string) (E, error) {
	var zero E
	if s == nil || s.client == nil {
		return zero, errors.New("redis store not configured")
	}
	rec, err := s.loadByKey(ctx, s.client, s.redisKey(id))
	if err != nil {
		return zero, err
	}
	if rec == nil {
		return zero, notFound(strings.TrimSpace(id))
	}
	return decodeRecord[E](rec)
}

func (s *RedisStore[E]) Insert(ctx context.Context, entity E) error {
	if s == nil || s.client == nil {
		return errors.New("redis store not configured")
	}
	rec, err := encodeRecord(entity)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	ok, err := s.client.SetNX(ctx, s.redisKey(rec.EntityID), payload, s.ttl).Result()
	if err != nil {
		return fmt.Errorf("redis insert %s: %w", rec.EntityID, err)
	}
	if !ok {
		return versionConflict(rec.EntityID, -1, -1)
	}
	return nil
}

func (s *RedisStore[E]) SaveIfVersion(ctx context.Context, entity E, expectedVersion int) error {
	if s == nil || s.client == nil {
		return errors.New("redis store not configured")
	}
	rec, err := encodeRecord(entity)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	key := s.redisKey(rec.EntityID)

	err = s.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := s.loadByKey(ctx, tx, key)
		if err != nil {
			return err
		}
		if err := checkVersion(rec.EntityID, current, expectedVersion); err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, payload, s.ttl)
			return nil
		})
		return err
	}, key)
	if errors.Is(err, redis.TxFailedErr) {
		return versionConflict(rec.EntityID, expectedVersion, -1)
	}
	return err
}

// List scans every key under the prefix.
func (s *RedisStore[E]) List(ctx context.Context) ([]E, error) {
	if s == nil || s.client == nil {
		return nil, errors.New("redis store not configured")
	}
	var keys []string
	iter := s.client.Scan(ctx, 0, s.keyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	sort.Strings(keys)

	out := make([]E, 0, len(keys))
	for _, key := range keys {
		rec, err := s.loadByKey(ctx, s.client, key)
		if err != nil {
			return nil, err
		}
		if rec == nil {
			continue
		}
		entity, err := decodeRecord[E](rec)
		if err != nil {
			return nil, err
		}
		out = append(out, entity)
	}
	return out, nil
}

func (s *RedisStore[E]) loadByKey(ctx context.Context, client redisGetter, key string) (*StoredRecord, error) {
	value, err := client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var rec StoredRecord
	if err := json.Unmarshal(value, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *RedisStore[E]) redisKey(id string) string {
	return s.keyPrefix + strings.TrimSpace(id)
}
