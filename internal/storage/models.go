// Package storage provides the offline record store: a SQLite primary tier,
// a flat file fallback tier and the envelope both of them persist.
package storage

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"
)

// Envelope wraps any persisted value with sync bookkeeping
type Envelope struct {
	Key       string          `json:"key"`
	Data      json.RawMessage `json:"data"`
	Timestamp int64           `json:"timestamp"`           // epoch ms of the last write
	Synced    bool            `json:"synced"`              // false until pushed, then true for good
	CreatedAt int64           `json:"createdAt,omitempty"` // epoch ms of the first write, kept across syncs
}

// Time returns the envelope timestamp as a time.Time
func (e *Envelope) Time() time.Time {
	return time.UnixMilli(e.Timestamp)
}

// Decode unmarshals the wrapped data into v
func (e *Envelope) Decode(v any) error {
	if err := json.Unmarshal(e.Data, v); err != nil {
		return eris.Wrapf(err, "storage: decode %s", e.Key)
	}
	return nil
}

// Backend is a durable key/value tier. Every method is idempotent:
// putting the same envelope twice or deleting a missing key is not an error.
type Backend interface {
	Put(ctx context.Context, env *Envelope) error
	// Get returns nil, nil when the key is absent
	Get(ctx context.Context, key string) (*Envelope, error)
	Delete(ctx context.Context, key string) error
	Keys(ctx context.Context) ([]string, error)
	Close() error
}

// Stats summarizes the records held by a tier
type Stats struct {
	Total    int       `json:"total"`
	Unsynced int       `json:"unsynced"`
	Oldest   time.Time `json:"oldest,omitempty"`
	Newest   time.Time `json:"newest,omitempty"`
}
