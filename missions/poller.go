package missions

import (
	"context"
	"log/slog"
	"time"

	"github.com/hexlabs/cyberdash/domain"
)

// DefaultPollInterval is the review-status polling cadence.
const DefaultPollInterval = 15 * time.Second

// Poller periodically refreshes mission detail while the mission sits in a
// review state. Its lifetime is tied to the mission-detail view: cancel the
// context when the view is torn down and the poller stops, guaranteed.
type Poller struct {
	svc      *Service
	interval time.Duration
	logger   *slog.Logger
	onUpdate func(*Detail)
}

// NewPoller creates a poller. onUpdate receives every fetched detail,
// including the final non-review one.
func NewPoller(svc *Service, interval time.Duration, logger *slog.Logger, onUpdate func(*Detail)) *Poller {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Poller{
		svc:      svc,
		interval: interval,
		logger:   logger,
		onUpdate: onUpdate,
	}
}

// Run polls until the mission leaves its review states or ctx is canceled.
// Fetch failures are logged and the next tick retries; the poller itself
// never aborts on a transient error.
func (p *Poller) Run(ctx context.Context, missionID string) {
	if !p.poll(ctx, missionID) {
		return
	}

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !p.poll(ctx, missionID) {
				return
			}
		}
	}
}

// poll fetches once and reports whether polling should continue.
func (p *Poller) poll(ctx context.Context, missionID string) bool {
	d, err := p.svc.Get(ctx, missionID)
	if err != nil {
		if ctx.Err() != nil {
			return false
		}
		p.logger.Warn("review status poll failed",
			slog.String("mission_id", missionID),
			slog.String("error", err.Error()),
		)
		return true
	}

	if p.onUpdate != nil {
		p.onUpdate(d)
	}

	if !domain.IsReviewStatus(d.Mission.Status) {
		p.logger.Info("mission left review, polling stopped",
			slog.String("mission_id", missionID),
			slog.String("status", d.Mission.Status),
		)
		return false
	}
	return true
}
