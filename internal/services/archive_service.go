package services

import (
	"context"
	"time"

	apperrors "envledger/internal/errors"
	"envledger/internal/events"
	"envledger/internal/logger"
	"envledger/internal/models"
	"envledger/internal/observability"
	"envledger/internal/query"
	"envledger/internal/store"
)

// ArchivePrincipal is recorded as the author of automatic archive writes.
const ArchivePrincipal = "system:archiver"

const archiveBatchSize = 100

// archiveService retires closed budgets once their retention has elapsed.
type archiveService struct {
	store     *store.Store
	events    events.Publisher
	metrics   *observability.Metrics
	retention time.Duration
}

// NewArchiveService creates a new ArchiveServicer.
func NewArchiveService(st *store.Store, publisher events.Publisher, metrics *observability.Metrics, retention time.Duration) ArchiveServicer {
	if publisher == nil {
		publisher = events.Nop{}
	}
	return &archiveService{store: st, events: publisher, metrics: metrics, retention: retention}
}

// ArchiveExpired archives every budget closed before now minus the
// retention period and returns how many it archived. A budget that changed
// under the sweep is skipped and picked up by the next run.
func (s *archiveService) ArchiveExpired(ctx context.Context, now time.Time) (int, error) {
	cutoff := now.Add(-s.retention)
	archived := 0

	for {
		candidates, err := store.Collect(store.Query[models.Budget](ctx, s.store.DB(), query.ClosedBudgetsBefore(cutoff, archiveBatchSize)))
		if err != nil {
			return archived, err
		}

		progressed := 0
		for i := range candidates {
			ok, err := s.archive(ctx, candidates[i].ID, cutoff, now)
			if err != nil {
				if apperrors.IsConflict(err) || apperrors.IsNotFound(err) {
					logger.Get().Warnw("skipping budget during archive sweep", "budget_id", candidates[i].ID, "error", err)
					continue
				}
				s.metrics.AddArchived(archived)
				return archived, err
			}
			if ok {
				archived++
				progressed++
			}
		}
		if len(candidates) < archiveBatchSize || progressed == 0 {
			break
		}
	}

	s.metrics.AddArchived(archived)
	logger.Get().Infow("archive sweep finished", "archived", archived, "cutoff", cutoff)
	return archived, nil
}

func (s *archiveService) archive(ctx context.Context, budgetID string, cutoff, now time.Time) (bool, error) {
	var done *models.Budget
	err := s.store.InPartition(ctx, budgetID, func(p *store.Partition) error {
		b, err := p.Budget(apperrors.ErrBudgetNotFound)
		if err != nil {
			return err
		}
		if b.Status != models.BudgetStatusClosed || b.ClosedAt == nil || !b.ClosedAt.Before(cutoff) {
			return nil
		}
		b.Status = models.BudgetStatusArchived
		b.ArchivedAt = &now
		if err := p.Put(b, b.Version, ArchivePrincipal, apperrors.ErrBudgetNotFound); err != nil {
			return err
		}
		done = b
		return nil
	})
	if err != nil || done == nil {
		return false, err
	}

	if err := s.events.Publish(ctx, events.New(events.BudgetArchived, budgetID, budgetID, ArchivePrincipal, nil)); err != nil {
		logger.Get().Warnw("failed to publish ledger event", "error", err, "type", events.BudgetArchived, "budget_id", budgetID)
	}
	return true, nil
}
