package repository

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/Mastropiera/Dorotheapp-sub002/internal/domain"
	"github.com/Mastropiera/Dorotheapp-sub002/internal/models"
)

const recoveryInterval = time.Minute

// FailoverStatusRepository tries the primary (redis) first and falls back to
// memory; after a failure the primary is retried at most once a minute.
type FailoverStatusRepository struct {
	primary  domain.StatusRepository
	fallback domain.StatusRepository
	logger   *zerolog.Logger

	isDown    atomic.Bool
	lastCheck atomic.Int64 // unix nanos of the last failed primary attempt
}

func NewFailoverStatusRepository(primary, fallback domain.StatusRepository, logger *zerolog.Logger) *FailoverStatusRepository {
	return &FailoverStatusRepository{
		primary:  primary,
		fallback: fallback,
		logger:   logger,
	}
}

func (r *FailoverStatusRepository) primaryUsable() bool {
	if !r.isDown.Load() {
		return true
	}
	return time.Since(time.Unix(0, r.lastCheck.Load())) > recoveryInterval
}

func (r *FailoverStatusRepository) markDown(err error, op string) {
	r.logger.Error().Err(err).Str("op", op).Msg("Primary status repository failed, falling back to memory")
	r.isDown.Store(true)
	r.lastCheck.Store(time.Now().UnixNano())
}

func (r *FailoverStatusRepository) SaveStatus(ctx context.Context, status *models.SyncStatus) error {
	if r.primaryUsable() {
		if err := r.primary.SaveStatus(ctx, status); err == nil {
			r.isDown.Store(false)
			// Keep the fallback warm so a later primary outage still reads
			// a recent snapshot.
			_ = r.fallback.SaveStatus(ctx, status)
			return nil
		} else {
			r.markDown(err, "save_status")
		}
	}
	return r.fallback.SaveStatus(ctx, status)
}

func (r *FailoverStatusRepository) LoadStatus(ctx context.Context) (*models.SyncStatus, error) {
	if r.primaryUsable() {
		status, err := r.primary.LoadStatus(ctx)
		if err == nil {
			r.isDown.Store(false)
			return status, nil
		}
		r.markDown(err, "load_status")
	}
	return r.fallback.LoadStatus(ctx)
}

func (r *FailoverStatusRepository) PushDeadLetter(ctx context.Context, item *models.PendingSyncItem) error {
	if r.primaryUsable() {
		if err := r.primary.PushDeadLetter(ctx, item); err == nil {
			r.isDown.Store(false)
			return nil
		} else {
			r.markDown(err, "push_dead_letter")
		}
	}
	return r.fallback.PushDeadLetter(ctx, item)
}
