// Package reconcile pushes unsynced offline records to the remote endpoint
// and marks each one synced once the remote acknowledges it.
package reconcile

import (
	"context"
	"net/http"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/agsys/soil-advisor/internal/storage"
)

// OfflineMessage is the result error when no connectivity is available at sync start
const OfflineMessage = "Device is offline"

// ErrOffline is the error form of OfflineMessage
var ErrOffline = eris.New(OfflineMessage)

// Store is the slice of the offline store the reconciler needs
type Store interface {
	Keys(ctx context.Context) ([]string, error)
	Load(ctx context.Context, key string) (*storage.Envelope, error)
	MarkSynced(ctx context.Context, env *storage.Envelope) error
}

// Pusher delivers one JSON body to the remote endpoint
type Pusher interface {
	Push(ctx context.Context, endpoint, method string, body []byte) error
}

// Connectivity reports whether the remote is reachable
type Connectivity interface {
	Online(ctx context.Context) bool
}

// ItemResult is the outcome for one record
type ItemResult struct {
	Key     string `json:"key"`
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// Result is the outcome of one sync run. Success is false only when the run
// could not start; item failures are reported in Results.
type Result struct {
	Success bool         `json:"success"`
	Error   string       `json:"error,omitempty"`
	Results []ItemResult `json:"results"`
}

// Failed counts the items that did not sync
func (r Result) Failed() int {
	n := 0
	for _, item := range r.Results {
		if !item.Success {
			n++
		}
	}
	return n
}

// Reconciler runs sync passes over a store
type Reconciler struct {
	store  Store
	pusher Pusher
	conn   Connectivity

	// MaxConcurrency caps in-flight pushes; 0 means unlimited
	MaxConcurrency int
}

// New creates a reconciler
func New(store Store, pusher Pusher, conn Connectivity) *Reconciler {
	return &Reconciler{store: store, pusher: pusher, conn: conn}
}

// Sync pushes every unsynced record to endpoint with method (POST when empty).
// Connectivity is checked once at the start. Once pushes begin the run is not
// cancelled by ctx and always settles every item before returning.
func (r *Reconciler) Sync(ctx context.Context, endpoint, method string) Result {
	method = strings.ToUpper(strings.TrimSpace(method))
	if method == "" {
		method = http.MethodPost
	}
	if method != http.MethodPost && method != http.MethodPut {
		return Result{Success: false, Error: "unsupported sync method " + method, Results: []ItemResult{}}
	}

	if r.conn != nil && !r.conn.Online(ctx) {
		return Result{Success: false, Error: OfflineMessage, Results: []ItemResult{}}
	}

	keys, err := r.store.Keys(ctx)
	if err != nil {
		return Result{Success: false, Error: eris.Wrap(err, "reconcile: list keys").Error(), Results: []ItemResult{}}
	}

	pending := r.pending(ctx, keys)
	results := make([]ItemResult, len(pending))

	runCtx := context.WithoutCancel(ctx)
	g, gctx := errgroup.WithContext(runCtx)
	if r.MaxConcurrency > 0 {
		g.SetLimit(r.MaxConcurrency)
	}

	for i, env := range pending {
		i, env := i, env
		g.Go(func() error {
			results[i] = r.pushOne(gctx, endpoint, method, env)
			return nil // one item never aborts another
		})
	}
	_ = g.Wait()

	log := zap.L().With(zap.String("endpoint", endpoint), zap.String("method", method))
	failed := Result{Results: results}.Failed()
	if len(results) > 0 {
		log.Info("sync pass complete",
			zap.Int("pushed", len(results)-failed), zap.Int("failed", failed))
	}

	return Result{Success: true, Results: results}
}

// pending loads every key and keeps the unsynced envelopes in key order
func (r *Reconciler) pending(ctx context.Context, keys []string) []*storage.Envelope {
	out := make([]*storage.Envelope, 0, len(keys))
	for _, key := range keys {
		env, err := r.store.Load(ctx, key)
		if err != nil {
			zap.L().Warn("sync: skipping unreadable record", zap.String("key", key), zap.Error(err))
			continue
		}
		if env == nil || env.Synced {
			continue
		}
		out = append(out, env)
	}
	return out
}

func (r *Reconciler) pushOne(ctx context.Context, endpoint, method string, env *storage.Envelope) ItemResult {
	if err := r.pusher.Push(ctx, endpoint, method, env.Data); err != nil {
		zap.L().Warn("sync: push failed", zap.String("key", env.Key), zap.Error(err))
		return ItemResult{Key: env.Key, Success: false, Error: err.Error()}
	}
	if err := r.store.MarkSynced(ctx, env); err != nil {
		// The remote has it; the next run will push it again
		zap.L().Warn("sync: mark synced failed", zap.String("key", env.Key), zap.Error(err))
		return ItemResult{Key: env.Key, Success: false, Error: eris.Wrap(err, "mark synced").Error()}
	}
	return ItemResult{Key: env.Key, Success: true}
}
