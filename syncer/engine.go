// Package syncer keeps per-subtask mission progress durable across reloads
// and offline periods, and reconciles with the server opportunistically.
package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hexlabs/cyberdash/domain"
	apperrors "github.com/hexlabs/cyberdash/pkg/errors"
	"github.com/hexlabs/cyberdash/store"
)

// SnapshotKey is the fixed local-store key holding the active mission's
// progress snapshot.
const SnapshotKey = "mission_progress"

// DefaultSnapshotInterval is the periodic autosave cadence.
const DefaultSnapshotInterval = 30 * time.Second

// ProgressSyncer pushes a progress snapshot to the server. Implemented by
// the missions service over the authenticated transport.
type ProgressSyncer interface {
	UpdateProgress(ctx context.Context, missionID string, snap domain.Snapshot) error
}

// Engine owns in-memory progress for the mission currently being worked.
// Edits are pure in-memory mutations; durability comes from periodic
// whole-map snapshots to the local store and opportunistic server syncs.
type Engine struct {
	mu          sync.Mutex
	progress    map[int]domain.SubtaskEntry
	missionID   string
	lastApplied time.Time
	syncState   string
	gen         uint64

	kv       store.Store
	api      ProgressSyncer
	online   *Notifier
	logger   *slog.Logger
	interval time.Duration
	now      func() time.Time
}

// EngineOption customizes an Engine.
type EngineOption func(*Engine)

// WithInterval overrides the periodic snapshot cadence.
func WithInterval(d time.Duration) EngineOption {
	return func(e *Engine) { e.interval = d }
}

// WithClock overrides the engine's time source.
func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) { e.now = now }
}

// NewEngine creates a synchronization engine for the given mission.
func NewEngine(missionID string, kv store.Store, api ProgressSyncer, online *Notifier, logger *slog.Logger, opts ...EngineOption) *Engine {
	e := &Engine{
		progress:  make(map[int]domain.SubtaskEntry),
		missionID: missionID,
		syncState: domain.SyncStatePending,
		kv:        kv,
		api:       api,
		online:    online,
		logger:    logger,
		interval:  DefaultSnapshotInterval,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// UpdateEntry replaces the entry for a subtask in memory. Safe to call on
// every keystroke; performs no I/O.
func (e *Engine) UpdateEntry(subtask int, entry domain.SubtaskEntry) {
	e.mu.Lock()
	defer e.mu.Unlock()

	entry.SubtaskNumber = subtask
	e.progress[subtask] = entry
	e.syncState = domain.SyncStatePending
	e.gen++
}

// Entry returns the in-memory entry for a subtask.
func (e *Engine) Entry(subtask int) (domain.SubtaskEntry, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	entry, ok := e.progress[subtask]
	return entry, ok
}

// SyncState reports whether the in-memory map is server-confirmed or still
// locally asserted.
func (e *Engine) SyncState() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.syncState
}

// snapshot copies the current map into a timestamped snapshot. Each caller
// gets its own copy, so an in-flight sync is never raced by later edits. The
// returned generation identifies the edit the snapshot captured.
func (e *Engine) snapshot() (domain.Snapshot, uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	progress := make(map[int]domain.SubtaskEntry, len(e.progress))
	for k, v := range e.progress {
		progress[k] = v
	}

	return domain.Snapshot{
		Progress:  progress,
		MissionID: e.missionID,
		Timestamp: e.now().UTC(),
	}, e.gen
}

// SnapshotLocal serializes the full progress map and replaces the stored
// snapshot as a single value. Callers on autosave paths log the returned
// error rather than surfacing it; durability degrades, interaction does not.
func (e *Engine) SnapshotLocal(ctx context.Context) error {
	snap, _ := e.snapshot()

	data, err := json.Marshal(snap)
	if err != nil {
		snapshotTotal.WithLabelValues("failure").Inc()
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	if err := e.kv.Set(ctx, SnapshotKey, data); err != nil {
		snapshotTotal.WithLabelValues("failure").Inc()
		return apperrors.Wrap(err, "write snapshot")
	}

	e.mu.Lock()
	if snap.Timestamp.After(e.lastApplied) {
		e.lastApplied = snap.Timestamp
	}
	e.mu.Unlock()

	snapshotTotal.WithLabelValues("success").Inc()
	return nil
}

// RestoreLocal applies a stored snapshot under the monotonic merge rule:
// only a strictly newer snapshot for this mission replaces in-memory state.
// An older or foreign snapshot is ignored, so a stale cache can never
// clobber progress a faster server sync already advanced.
func (e *Engine) RestoreLocal(ctx context.Context) error {
	data, err := e.kv.Get(ctx, SnapshotKey)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil
		}
		return apperrors.Wrap(err, "read snapshot")
	}

	var snap domain.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("parse snapshot: %w", err)
	}

	if snap.MissionID != e.missionID {
		return nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if !snap.Timestamp.After(e.lastApplied) {
		return nil
	}

	progress := make(map[int]domain.SubtaskEntry, len(snap.Progress))
	for k, v := range snap.Progress {
		progress[k] = v
	}
	e.progress = progress
	e.lastApplied = snap.Timestamp
	e.syncState = domain.SyncStatePending
	return nil
}

// SyncWithServer reconciles the current progress map with the server. A
// no-op while offline. Failures abandon the attempt for this cycle; the
// local snapshot remains the durable record and the next tick or reconnect
// retries naturally, so there is no backoff or retry counter.
func (e *Engine) SyncWithServer(ctx context.Context) error {
	if !e.online.Online() {
		syncTotal.WithLabelValues("offline").Inc()
		return nil
	}

	snap, gen := e.snapshot()

	if err := e.api.UpdateProgress(ctx, e.missionID, snap); err != nil {
		syncTotal.WithLabelValues("failure").Inc()
		return apperrors.Wrap(err, "sync progress")
	}

	e.mu.Lock()
	// An edit that landed while the sync was in flight is not in the snapshot
	// the server just confirmed; it stays locally asserted.
	if e.gen == gen {
		e.syncState = domain.SyncStateConfirmed
	}
	if snap.Timestamp.After(e.lastApplied) {
		e.lastApplied = snap.Timestamp
	}
	e.mu.Unlock()

	syncTotal.WithLabelValues("success").Inc()
	return nil
}

// Run drives the periodic snapshot/sync loop until ctx is canceled. An
// offline-to-online edge triggers an immediate sync instead of waiting for
// the next tick. Cancellation flushes one last snapshot best-effort.
func (e *Engine) Run(ctx context.Context) {
	reconnect := e.online.Subscribe()
	defer e.online.Unsubscribe(reconnect)

	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			if err := e.SnapshotLocal(flushCtx); err != nil {
				e.logger.Warn("teardown flush failed", slog.String("error", err.Error()))
			}
			cancel()
			return

		case <-ticker.C:
			if err := e.SnapshotLocal(ctx); err != nil {
				e.logger.Warn("autosave snapshot failed", slog.String("error", err.Error()))
			}
			if err := e.SyncWithServer(ctx); err != nil {
				e.logger.Warn("server sync failed", slog.String("error", err.Error()))
			}

		case <-reconnect:
			e.logger.Info("connectivity restored, syncing progress",
				slog.String("mission_id", e.missionID),
			)
			if err := e.SyncWithServer(ctx); err != nil {
				e.logger.Warn("reconnect sync failed", slog.String("error", err.Error()))
			}
		}
	}
}
