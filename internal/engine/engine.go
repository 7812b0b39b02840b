// Package engine provides the core logic for the soil advisor, turning
// recorded measurements into health ratings and crop suggestions and keeping
// the offline store in step with the cloud.
package engine

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/agsys/soil-advisor/internal/cloud"
	"github.com/agsys/soil-advisor/internal/crops"
	"github.com/agsys/soil-advisor/internal/reconcile"
	"github.com/agsys/soil-advisor/internal/soil"
	"github.com/agsys/soil-advisor/internal/storage"
	"github.com/agsys/soil-advisor/internal/voice"
)

// ErrNotFound is returned for an unknown measurement id
var ErrNotFound = eris.New("engine: measurement not found")

// Config holds engine configuration
type Config struct {
	SyncEndpoint string
	SyncMethod   string
	SyncInterval time.Duration
	AutoSync     bool
	Locale       voice.Locale
}

// DefaultConfig returns default engine configuration
func DefaultConfig() Config {
	return Config{
		SyncEndpoint: "/soil/measurements",
		SyncMethod:   "POST",
		SyncInterval: 5 * time.Minute,
		AutoSync:     true,
		Locale:       voice.English,
	}
}

// Store is the offline persistence the engine writes measurements to
type Store interface {
	Save(ctx context.Context, key string, value any) error
	Load(ctx context.Context, key string) (*storage.Envelope, error)
	KeysWithPrefix(ctx context.Context, prefix string) ([]string, error)
}

// Syncer runs one reconciliation pass
type Syncer interface {
	Sync(ctx context.Context, endpoint, method string) reconcile.Result
}

// Publisher sends realtime events to the cloud
type Publisher interface {
	Publish(msgType cloud.MessageType, payload any)
}

// Deps are the collaborators injected into the engine. Only Store is required.
type Deps struct {
	Store     Store
	Syncer    Syncer
	Speech    voice.SpeechOutput
	Publisher Publisher
	Validator *soil.Validator
	Ranker    *crops.Ranker
}

// Assessment is everything derived from one measurement
type Assessment struct {
	Measurement soil.Measurement   `json:"measurement"`
	Health      soil.HealthRating  `json:"health"`
	RangeIndex  int                `json:"rangeIndex"`
	Suggestions []crops.Suggestion `json:"suggestions"`
	Persisted   bool               `json:"persisted,omitempty"` // set on writes only
}

// Engine is the advisor core
type Engine struct {
	config    Config
	store     Store
	syncer    Syncer
	speech    voice.SpeechOutput
	publisher Publisher
	validator *soil.Validator
	ranker    *crops.Ranker

	stopChan chan struct{}
	stopOnce sync.Once
	syncNow  chan struct{}
	wg       sync.WaitGroup
	syncMu   sync.Mutex
	writeMu  sync.Mutex // orders updates so memory and store agree
	mu       sync.RWMutex

	// Measurement history in capture order; current is the one in focus
	history []soil.Measurement
	current string
}

// New creates a new engine instance and restores history from the store
func New(ctx context.Context, config Config, deps Deps) (*Engine, error) {
	if deps.Store == nil {
		return nil, eris.New("engine: store is required")
	}
	if deps.Speech == nil {
		deps.Speech = voice.Muted{}
	}
	if deps.Validator == nil {
		deps.Validator = soil.NewValidator()
	}
	if deps.Ranker == nil {
		deps.Ranker = crops.NewRanker(nil)
	}

	e := &Engine{
		config:    config,
		store:     deps.Store,
		syncer:    deps.Syncer,
		speech:    deps.Speech,
		publisher: deps.Publisher,
		validator: deps.Validator,
		ranker:    deps.Ranker,
		stopChan:  make(chan struct{}),
		syncNow:   make(chan struct{}, 1),
	}

	if err := e.restore(ctx); err != nil {
		return nil, err
	}
	return e, nil
}

// restore loads every stored measurement into history, oldest first
func (e *Engine) restore(ctx context.Context) error {
	keys, err := e.store.KeysWithPrefix(ctx, soil.KeyPrefix)
	if err != nil {
		return eris.Wrap(err, "engine: list stored measurements")
	}

	history := make([]soil.Measurement, 0, len(keys))
	for _, key := range keys {
		env, err := e.store.Load(ctx, key)
		if err != nil || env == nil {
			zap.L().Warn("skipping unreadable measurement", zap.String("key", key), zap.Error(err))
			continue
		}
		var m soil.Measurement
		if err := env.Decode(&m); err != nil {
			zap.L().Warn("skipping undecodable measurement", zap.String("key", key), zap.Error(err))
			continue
		}
		history = append(history, m)
	}
	sort.SliceStable(history, func(i, j int) bool {
		return history[i].CapturedAt.Before(history[j].CapturedAt)
	})

	e.mu.Lock()
	e.history = history
	if len(history) > 0 {
		e.current = history[len(history)-1].ID
	}
	e.mu.Unlock()

	zap.L().Info("restored measurement history", zap.Int("count", len(history)))
	return nil
}

// Start starts the background sync loop
func (e *Engine) Start(ctx context.Context) error {
	if e.syncer == nil {
		return nil
	}
	e.wg.Add(1)
	go e.syncLoop(ctx)

	zap.L().Info("engine started",
		zap.Bool("auto_sync", e.config.AutoSync), zap.Duration("sync_interval", e.config.SyncInterval))
	return nil
}

// Stop stops the engine and waits for a running sync to finish
func (e *Engine) Stop() error {
	e.stopOnce.Do(func() { close(e.stopChan) })
	e.wg.Wait()
	zap.L().Info("engine stopped")
	return nil
}

// Record validates raw form input, assesses it and persists it. A storage
// failure does not fail the call; it is reported through Persisted.
func (e *Engine) Record(ctx context.Context, raw map[string]string) (*Assessment, error) {
	m, err := e.validator.Parse(raw)
	if err != nil {
		return nil, err
	}

	a := e.assess(*m)
	a.Persisted = e.persist(ctx, m)

	e.mu.Lock()
	e.history = append(e.history, *m)
	e.current = m.ID
	e.mu.Unlock()

	if e.publisher != nil {
		e.publisher.Publish(cloud.MsgTypeMeasurement, m)
	}
	e.announce(ctx, a)
	return a, nil
}

// Update replaces a recorded measurement by id
func (e *Engine) Update(ctx context.Context, m soil.Measurement) (*Assessment, error) {
	e.writeMu.Lock()
	defer e.writeMu.Unlock()

	e.mu.Lock()
	idx := e.indexOf(m.ID)
	if idx < 0 {
		e.mu.Unlock()
		return nil, eris.Wrapf(ErrNotFound, "update %s", m.ID)
	}
	e.history[idx] = m
	e.mu.Unlock()

	a := e.assess(m)
	a.Persisted = e.persist(ctx, &m)
	return a, nil
}

// UpdateFields re-validates raw input as a replacement for measurement id.
// The id and capture time of the original are kept.
func (e *Engine) UpdateFields(ctx context.Context, id string, raw map[string]string) (*Assessment, error) {
	e.mu.RLock()
	idx := e.indexOf(id)
	var original soil.Measurement
	if idx >= 0 {
		original = e.history[idx]
	}
	e.mu.RUnlock()
	if idx < 0 {
		return nil, eris.Wrapf(ErrNotFound, "update %s", id)
	}

	m, err := e.validator.Parse(raw)
	if err != nil {
		return nil, err
	}
	m.ID = original.ID
	m.CapturedAt = original.CapturedAt
	return e.Update(ctx, *m)
}

// History returns a copy of all measurements in capture order
func (e *Engine) History() []soil.Measurement {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]soil.Measurement, len(e.history))
	copy(out, e.history)
	return out
}

// Current returns the measurement in focus
func (e *Engine) Current() (soil.Measurement, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	idx := e.indexOf(e.current)
	if idx < 0 {
		return soil.Measurement{}, false
	}
	return e.history[idx], true
}

// SetCurrent moves focus to a recorded measurement
func (e *Engine) SetCurrent(id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.indexOf(id) < 0 {
		return eris.Wrapf(ErrNotFound, "select %s", id)
	}
	e.current = id
	return nil
}

// Assess recomputes the assessment for a recorded measurement
func (e *Engine) Assess(id string) (*Assessment, error) {
	e.mu.RLock()
	idx := e.indexOf(id)
	var m soil.Measurement
	if idx >= 0 {
		m = e.history[idx]
	}
	e.mu.RUnlock()
	if idx < 0 {
		return nil, eris.Wrapf(ErrNotFound, "assess %s", id)
	}

	return e.assess(m), nil
}

// Sync runs one reconciliation pass. Passes never overlap.
func (e *Engine) Sync(ctx context.Context) reconcile.Result {
	if e.syncer == nil {
		return reconcile.Result{Success: false, Error: "sync is not configured", Results: []reconcile.ItemResult{}}
	}
	e.syncMu.Lock()
	defer e.syncMu.Unlock()
	return e.syncer.Sync(ctx, e.config.SyncEndpoint, e.config.SyncMethod)
}

// RequestSync asks the background loop for a pass; it is the cloud's
// sync_request callback and never blocks.
func (e *Engine) RequestSync(json.RawMessage) {
	select {
	case e.syncNow <- struct{}{}:
	default:
	}
}

// ListenForm collects transcripts into a raw form until the input ends or
// ctx is cancelled. Later transcripts overwrite earlier values.
func (e *Engine) ListenForm(ctx context.Context, in voice.SpeechInput) (map[string]string, error) {
	ch, err := in.Listen(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "engine: start listening")
	}
	form := map[string]string{}
	for {
		select {
		case <-ctx.Done():
			return form, nil
		case transcript, ok := <-ch:
			if !ok {
				return form, nil
			}
			for k, v := range voice.ExtractFields(transcript) {
				form[k] = v
			}
		}
	}
}

// syncLoop runs passes on request and, with AutoSync, on every interval
func (e *Engine) syncLoop(ctx context.Context) {
	defer e.wg.Done()

	var tick <-chan time.Time
	if e.config.AutoSync && e.config.SyncInterval > 0 {
		ticker := time.NewTicker(e.config.SyncInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-e.stopChan:
			return
		case <-ctx.Done():
			return
		case <-tick:
			e.backgroundSync(ctx)
		case <-e.syncNow:
			e.backgroundSync(ctx)
		}
	}
}

func (e *Engine) backgroundSync(ctx context.Context) {
	res := e.Sync(ctx)
	if !res.Success {
		zap.L().Debug("background sync skipped", zap.String("reason", res.Error))
		return
	}
	if failed := res.Failed(); failed > 0 {
		zap.L().Warn("background sync incomplete", zap.Int("failed", failed), zap.Int("total", len(res.Results)))
	}
}

func (e *Engine) assess(m soil.Measurement) *Assessment {
	return &Assessment{
		Measurement: m,
		Health:      soil.Rate(&m),
		RangeIndex:  soil.RangeIndex(&m),
		Suggestions: e.ranker.Rank(&m),
	}
}

func (e *Engine) persist(ctx context.Context, m *soil.Measurement) bool {
	if err := e.store.Save(ctx, m.StoreKey(), m); err != nil {
		zap.L().Error("failed to persist measurement", zap.String("id", m.ID), zap.Error(err))
		return false
	}
	return true
}

func (e *Engine) announce(ctx context.Context, a *Assessment) {
	var top *crops.Suggestion
	if len(a.Suggestions) > 0 {
		top = &a.Suggestions[0]
	}
	text := voice.Summarize(e.config.Locale, a.Health, top)
	if err := e.speech.Speak(ctx, text, e.config.Locale.Tag()); err != nil {
		zap.L().Warn("speech output failed", zap.Error(err))
	}
}

// indexOf finds id in history; callers hold mu
func (e *Engine) indexOf(id string) int {
	if id == "" {
		return -1
	}
	for i := range e.history {
		if e.history[i].ID == id {
			return i
		}
	}
	return -1
}
