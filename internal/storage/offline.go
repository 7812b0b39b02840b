package storage

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// ErrStorage is returned when no tier could complete an operation
var ErrStorage = eris.New("storage: all tiers failed")

// OfflineStore persists envelopes across a primary and a fallback tier.
// Writes go to the primary and drop to the fallback when the primary fails.
type OfflineStore struct {
	primary  Backend
	fallback Backend
	now      func() time.Time
}

// NewOfflineStore builds a store over the given tiers. Either may be nil.
func NewOfflineStore(primary, fallback Backend) *OfflineStore {
	return &OfflineStore{primary: primary, fallback: fallback, now: time.Now}
}

func (s *OfflineStore) tiers() []Backend {
	out := make([]Backend, 0, 2)
	if s.primary != nil {
		out = append(out, s.primary)
	}
	if s.fallback != nil {
		out = append(out, s.fallback)
	}
	return out
}

func tierName(i int) string {
	if i == 0 {
		return "primary"
	}
	return "fallback"
}

// put writes env to the first tier that accepts it
func (s *OfflineStore) put(ctx context.Context, env *Envelope) error {
	var last error
	for i, b := range s.tiers() {
		err := b.Put(ctx, env)
		if err == nil {
			return nil
		}
		zap.L().Warn("storage tier write failed",
			zap.String("tier", tierName(i)), zap.String("key", env.Key), zap.Error(err))
		last = err
	}
	if last == nil {
		return eris.Wrapf(ErrStorage, "save %s: no tiers configured", env.Key)
	}
	return eris.Wrapf(ErrStorage, "save %s: %v", env.Key, last)
}

// Save wraps value in a fresh unsynced envelope and persists it
func (s *OfflineStore) Save(ctx context.Context, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return eris.Wrapf(err, "storage: encode %s", key)
	}
	ts := s.now().UnixMilli()
	return s.put(ctx, &Envelope{
		Key:       key,
		Data:      data,
		Timestamp: ts,
		Synced:    false,
		CreatedAt: ts,
	})
}

// Load returns the envelope for key, or nil when no tier has it.
// When both tiers hold the key the newer timestamp wins; ties go to the primary.
func (s *OfflineStore) Load(ctx context.Context, key string) (*Envelope, error) {
	var last error
	var newest *Envelope
	failed := 0
	tiers := s.tiers()
	for i, b := range tiers {
		env, err := b.Get(ctx, key)
		if err != nil {
			zap.L().Warn("storage tier read failed",
				zap.String("tier", tierName(i)), zap.String("key", key), zap.Error(err))
			last = err
			failed++
			continue
		}
		if env != nil && (newest == nil || env.Timestamp > newest.Timestamp) {
			newest = env
		}
	}
	if newest != nil {
		return newest, nil
	}
	// A miss on any healthy tier is a miss, not a failure
	if len(tiers) > 0 && failed == len(tiers) {
		return nil, eris.Wrapf(ErrStorage, "load %s: %v", key, last)
	}
	return nil, nil
}

// MarkSynced rewrites env as synced. The timestamp records the sync time;
// CreatedAt keeps the original capture time.
func (s *OfflineStore) MarkSynced(ctx context.Context, env *Envelope) error {
	created := env.CreatedAt
	if created == 0 {
		created = env.Timestamp
	}
	return s.put(ctx, &Envelope{
		Key:       env.Key,
		Data:      env.Data,
		Timestamp: s.now().UnixMilli(),
		Synced:    true,
		CreatedAt: created,
	})
}

// Delete removes key from every tier. It fails only when all tiers fail.
func (s *OfflineStore) Delete(ctx context.Context, key string) error {
	var last error
	failed := 0
	tiers := s.tiers()
	for i, b := range tiers {
		if err := b.Delete(ctx, key); err != nil {
			zap.L().Warn("storage tier delete failed",
				zap.String("tier", tierName(i)), zap.String("key", key), zap.Error(err))
			last = err
			failed++
		}
	}
	if len(tiers) > 0 && failed == len(tiers) {
		return eris.Wrapf(ErrStorage, "delete %s: %v", key, last)
	}
	return nil
}

// Keys returns the sorted union of keys across tiers
func (s *OfflineStore) Keys(ctx context.Context) ([]string, error) {
	seen := map[string]struct{}{}
	var last error
	failed := 0
	tiers := s.tiers()
	for i, b := range tiers {
		keys, err := b.Keys(ctx)
		if err != nil {
			zap.L().Warn("storage tier list failed", zap.String("tier", tierName(i)), zap.Error(err))
			last = err
			failed++
			continue
		}
		for _, k := range keys {
			seen[k] = struct{}{}
		}
	}
	if len(tiers) > 0 && failed == len(tiers) {
		return nil, eris.Wrapf(ErrStorage, "list keys: %v", last)
	}

	out := make([]string, 0, len(seen))
	for k := range seen {
		out = append(out, k)
	}
	sort.Strings(out)
	return out, nil
}

// KeysWithPrefix returns the sorted keys beginning with prefix
func (s *OfflineStore) KeysWithPrefix(ctx context.Context, prefix string) ([]string, error) {
	keys, err := s.Keys(ctx)
	if err != nil {
		return nil, err
	}
	out := keys[:0]
	for _, k := range keys {
		if strings.HasPrefix(k, prefix) {
			out = append(out, k)
		}
	}
	return out, nil
}

// Close closes every tier
func (s *OfflineStore) Close() error {
	var first error
	for _, b := range s.tiers() {
		if err := b.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
