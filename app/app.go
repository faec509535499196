// Package app wires the dashboard core together: configuration, logging,
// local storage, credentials, the authenticated transport, mission
// operations, and per-mission synchronization sessions. Every dependency is
// constructor-injected so components stay testable in isolation.
package app

import (
	"context"
	"log/slog"
	"path/filepath"

	"github.com/hexlabs/cyberdash/auth"
	"github.com/hexlabs/cyberdash/missions"
	"github.com/hexlabs/cyberdash/pkg/logger"
	"github.com/hexlabs/cyberdash/store"
	"github.com/hexlabs/cyberdash/store/sqlite"
	"github.com/hexlabs/cyberdash/syncer"
	"github.com/hexlabs/cyberdash/transport"
)

// App owns the dashboard core's long-lived dependencies.
type App struct {
	cfg      *Config
	logger   *slog.Logger
	kv       store.Store
	keeper   *auth.Keeper
	client   *transport.Client
	missions *missions.Service
	online   *syncer.Notifier
}

// Option customizes App construction.
type Option func(*options)

type options struct {
	kv store.Store
}

// WithStore replaces the default sqlite-backed local store, e.g. with the
// Redis store for hosted shells or the memory store in tests.
func WithStore(kv store.Store) Option {
	return func(o *options) { o.kv = kv }
}

// New builds the dependency graph. The credential keeper is loaded from its
// storage targets so a previous session survives a restart.
func New(cfg *Config, opts ...Option) (*App, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	log := logger.New("dashcore", cfg.LogLevel)

	kv := o.kv
	if kv == nil {
		dir, err := cfg.dataDir()
		if err != nil {
			return nil, err
		}
		s, err := sqlite.Open(filepath.Join(dir, "dashcore.db"))
		if err != nil {
			return nil, err
		}
		kv = s
		log.Info("local store opened", slog.String("path", filepath.Join(dir, "dashcore.db")))
	}

	var primary auth.Storage
	if dir, err := cfg.dataDir(); err == nil {
		primary = auth.NewFileStorage(filepath.Join(dir, "credentials.json"))
	}

	keeper := auth.NewKeeper(primary, auth.NewStoreStorage(kv), log)
	keeper.Load(context.Background())
	if sub := keeper.Subject(); sub != "" {
		log.Info("session restored", slog.String("user_id", sub))
	}

	tcfg := transport.DefaultConfig(cfg.CoreAPIURL, cfg.IntelAPIURL)

	var topts []transport.Option
	if cfg.IntelBreaker {
		doer := transport.NewBreakerDoer(
			transport.NewHTTPDoer(tcfg),
			transport.DefaultCircuitBreakerConfig("backend"),
			log,
		)
		topts = append(topts, transport.WithDoer(doer))
	}
	client := transport.New(tcfg, keeper, log, topts...)

	return &App{
		cfg:      cfg,
		logger:   log,
		kv:       kv,
		keeper:   keeper,
		client:   client,
		missions: missions.NewService(client, log),
		online:   syncer.NewNotifier(true),
	}, nil
}

// Missions returns the mission service.
func (a *App) Missions() *missions.Service {
	return a.missions
}

// Credentials returns the credential keeper.
func (a *App) Credentials() *auth.Keeper {
	return a.keeper
}

// Connectivity returns the online/offline notifier the shell feeds.
func (a *App) Connectivity() *syncer.Notifier {
	return a.online
}

// Logout clears the credential pair everywhere.
func (a *App) Logout(ctx context.Context) {
	a.keeper.Clear(ctx)
	a.logger.Info("logged out")
}

// Close releases the local store.
func (a *App) Close() error {
	return a.kv.Close()
}

// Session ties a synchronization engine and a review poller to one open
// mission view. Cancel the context passed to Run when the view is torn down.
type Session struct {
	MissionID string
	Engine    *syncer.Engine
	Poller    *missions.Poller
}

// OpenMission creates a session for the given mission, restoring any local
// snapshot under the monotonic merge rule. onUpdate receives every polled
// mission detail.
func (a *App) OpenMission(ctx context.Context, missionID string, onUpdate func(*missions.Detail)) (*Session, error) {
	engine := syncer.NewEngine(missionID, a.kv, a.missions, a.online, a.logger,
		syncer.WithInterval(a.cfg.SnapshotInterval),
	)
	if err := engine.RestoreLocal(ctx); err != nil {
		// Durability degrades, the session still opens.
		a.logger.Warn("restore snapshot failed", slog.String("error", err.Error()))
	}

	return &Session{
		MissionID: missionID,
		Engine:    engine,
		Poller:    missions.NewPoller(a.missions, a.cfg.PollInterval, a.logger, onUpdate),
	}, nil
}

// Run drives the session's background work until ctx is canceled: the
// engine's snapshot/sync loop for the whole session, and review polling
// that stops on its own when the mission leaves review.
func (s *Session) Run(ctx context.Context) {
	done := make(chan struct{})
	go func() {
		s.Poller.Run(ctx, s.MissionID)
		close(done)
	}()

	s.Engine.Run(ctx)
	<-done
}
