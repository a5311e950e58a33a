package query

import (
	"context"
	"time"

	"github.com/google/uuid"
	gocache "github.com/patrickmn/go-cache"

	"github.com/accountkit/lifecycle-api/internal/model"
	"github.com/accountkit/lifecycle-api/internal/repository"
	"github.com/accountkit/lifecycle-api/pkg/clock"
)

const statsCacheKey = "aggregate_stats"

// Servicer is the read-only projection surface.
type Servicer interface {
	GetStatus(ctx context.Context, id uuid.UUID) (*model.StatusInfo, error)
	GetHistory(ctx context.Context, id uuid.UUID, limit int) ([]*model.ActivityRecord, error)
	ListScheduledActions(ctx context.Context, id uuid.UUID) ([]*model.ScheduledAction, error)
	ListPendingActions(ctx context.Context) ([]*model.ScheduledAction, error)
	GetStats(ctx context.Context) (*model.AggregateStats, error)
}

type Service struct {
	store repository.Store
	clock clock.Clock
	cache *gocache.Cache
}

func NewService(store repository.Store, clk clock.Clock, statsTTL time.Duration) *Service {
	return &Service{
		store: store,
		clock: clk,
		cache: gocache.New(statsTTL, 2*statsTTL),
	}
}

// GetStatus returns the account's status projection. Status and schedule come
// from one account row read, so the fields are always mutually consistent;
// the until-deactivation figures are derived here and never stored.
func (s *Service) GetStatus(ctx context.Context, id uuid.UUID) (*model.StatusInfo, error) {
	acc, err := s.store.GetAccount(ctx, id)
	if err != nil {
		return nil, err
	}

	info := &model.StatusInfo{
		AccountID:               acc.ID,
		Status:                  acc.Status,
		CurrentPeriodStart:      acc.CurrentPeriodStart,
		ScheduledDeactivationAt: acc.ScheduledDeactivationAt,
		ScheduledReason:         acc.ScheduledReason,
	}

	if acc.ScheduledDeactivationAt != nil {
		until := acc.ScheduledDeactivationAt.Sub(s.clock.Now())
		if until < 0 {
			until = 0
		}
		seconds := int64(until / time.Second)
		hours := int(until / time.Hour)
		days := int(until / (24 * time.Hour))
		info.SecondsUntilDeactivation = &seconds
		info.HoursUntilDeactivation = &hours
		info.DaysUntilDeactivation = &days
	}

	return info, nil
}

func (s *Service) GetHistory(ctx context.Context, id uuid.UUID, limit int) ([]*model.ActivityRecord, error) {
	if _, err := s.store.GetAccount(ctx, id); err != nil {
		return nil, err
	}
	return s.store.ListActivity(ctx, id, limit)
}

func (s *Service) ListScheduledActions(ctx context.Context, id uuid.UUID) ([]*model.ScheduledAction, error) {
	if _, err := s.store.GetAccount(ctx, id); err != nil {
		return nil, err
	}
	return s.store.ListScheduledActions(ctx, id)
}

func (s *Service) ListPendingActions(ctx context.Context) ([]*model.ScheduledAction, error) {
	return s.store.ListPendingActions(ctx)
}

// GetStats returns system-wide counts for dashboards, cached briefly since
// every dashboard widget polls it.
func (s *Service) GetStats(ctx context.Context) (*model.AggregateStats, error) {
	if cached, ok := s.cache.Get(statsCacheKey); ok {
		return cached.(*model.AggregateStats), nil
	}

	stats, err := s.store.AggregateStats(ctx, s.clock.Now())
	if err != nil {
		return nil, err
	}
	s.cache.Set(statsCacheKey, stats, gocache.DefaultExpiration)
	return stats, nil
}
