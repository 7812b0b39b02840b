package main

import (
	"context"
	"io"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/agsys/soil-advisor/internal/cloud"
	"github.com/agsys/soil-advisor/internal/config"
	"github.com/agsys/soil-advisor/internal/engine"
	"github.com/agsys/soil-advisor/internal/reconcile"
	"github.com/agsys/soil-advisor/internal/storage"
	"github.com/agsys/soil-advisor/internal/voice"
)

// app is the wired advisor: offline store, optional cloud client and engine
type app struct {
	store  *storage.OfflineStore
	client *cloud.Client
	engine *engine.Engine
}

// newApp opens the store tiers and builds the engine. Speech goes to
// speechOut when voice is enabled.
func newApp(ctx context.Context, cfg *config.Config, speechOut io.Writer) (*app, error) {
	store, err := openStore(cfg.Store)
	if err != nil {
		return nil, err
	}

	a := &app{store: store}
	deps := engine.Deps{Store: store}

	if cfg.Voice.Enabled && speechOut != nil {
		deps.Speech = voice.NewWriterOutput(speechOut)
	}

	if cfg.Cloud.BaseURL != "" || cfg.Cloud.WebSocketURL != "" {
		a.client = cloud.New(cloudConfig(cfg.Cloud))
		deps.Publisher = a.client
	}
	if cfg.Cloud.BaseURL != "" {
		rec := reconcile.New(store, a.client, connectivity(cfg.Cloud, a.client))
		rec.MaxConcurrency = cfg.Sync.MaxConcurrency
		deps.Syncer = rec
	}

	a.engine, err = engine.New(ctx, engineConfig(cfg), deps)
	if err != nil {
		store.Close()
		return nil, err
	}

	if a.client != nil {
		a.client.SetSyncRequestCallback(a.engine.RequestSync)
	}
	return a, nil
}

// Close releases the store
func (a *app) Close() error {
	return a.store.Close()
}

// openStore opens the SQLite primary and the flat fallback. A tier that
// fails to open is left out as long as the other one is available.
func openStore(cfg config.StoreConfig) (*storage.OfflineStore, error) {
	var primary, fallback storage.Backend

	if cfg.Path != "" {
		db, err := storage.Open(cfg.Path)
		if err != nil {
			zap.L().Warn("primary store unavailable", zap.String("path", cfg.Path), zap.Error(err))
		} else {
			primary = db
		}
	}
	if cfg.FallbackPath != "" {
		flat, err := storage.OpenFlat(cfg.FallbackPath)
		if err != nil {
			zap.L().Warn("fallback store unavailable", zap.String("path", cfg.FallbackPath), zap.Error(err))
		} else {
			fallback = flat
		}
	}

	if primary == nil && fallback == nil {
		return nil, eris.Wrap(storage.ErrStorage, "open offline store")
	}
	return storage.NewOfflineStore(primary, fallback), nil
}

func cloudConfig(cfg config.CloudConfig) cloud.Config {
	cc := cloud.DefaultConfig()
	cc.BaseURL = cfg.BaseURL
	cc.WebSocketURL = cfg.WebSocketURL
	cc.DeviceID = cfg.DeviceID
	cc.APIKey = cfg.APIKey
	if cfg.HTTPTimeout > 0 {
		cc.HTTPTimeout = cfg.HTTPTimeout
	}
	cc.RequestsPerSecond = cfg.RequestsPerSecond
	cc.Burst = cfg.Burst
	return cc
}

// connectivity prefers an explicit probe URL, then the realtime link, then
// a probe of the base URL
func connectivity(cfg config.CloudConfig, client *cloud.Client) reconcile.Connectivity {
	switch {
	case cfg.ProbeURL != "":
		return cloud.NewProbe(cfg.ProbeURL, cfg.HTTPTimeout)
	case cfg.WebSocketURL != "":
		return client
	default:
		return cloud.NewProbe(cfg.BaseURL, cfg.HTTPTimeout)
	}
}

func engineConfig(cfg *config.Config) engine.Config {
	ec := engine.DefaultConfig()
	ec.SyncEndpoint = cfg.Sync.Endpoint
	ec.SyncMethod = cfg.Sync.Method
	ec.SyncInterval = cfg.Sync.Interval
	ec.AutoSync = cfg.Sync.Auto
	ec.Locale = voice.ParseLocale(cfg.Voice.Locale)
	return ec
}
