// Package refdata serves the slow-moving reference data every request
// consults: the PCP specialty set and the payment method precedence ranks.
// Both are loaded into an immutable snapshot swapped atomically, so request
// paths read lock-free while a cron job refreshes in the background.
package refdata

import (
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/carecost/carecost/internal/metrics"
	"github.com/carecost/carecost/internal/store"
)

// Snapshot is one immutable view of the reference data. Never mutated after
// publication.
type Snapshot struct {
	PCPSpecialties map[string]struct{}
	PaymentRanks   map[string]int
	LoadedAt       time.Time
}

// Service holds the current snapshot and knows how to rebuild it from the
// store.
type Service struct {
	db     *store.DB
	logger *slog.Logger
	snap   atomic.Pointer[Snapshot]
}

func New(db *store.DB, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{db: db, logger: logger}
	s.snap.Store(&Snapshot{
		PCPSpecialties: map[string]struct{}{},
		PaymentRanks:   map[string]int{},
	})
	return s
}

// Current returns the live snapshot. Callers must not mutate it.
func (s *Service) Current() *Snapshot {
	return s.snap.Load()
}

// Refresh rebuilds the snapshot from the store and publishes it. A failure
// leaves the previous snapshot in place.
func (s *Service) Refresh() error {
	// No database attached: keep serving the empty seed snapshot.
	if s.db == nil {
		return nil
	}
	specialties, err := s.db.PCPSpecialties()
	if err != nil {
		metrics.RefdataRefreshTotal.WithLabelValues("pcp_specialties", "error").Inc()
		return fmt.Errorf("loading pcp specialties: %w", err)
	}
	ranks, err := s.db.PaymentMethodRanks()
	if err != nil {
		metrics.RefdataRefreshTotal.WithLabelValues("payment_methods", "error").Inc()
		return fmt.Errorf("loading payment methods: %w", err)
	}

	set := make(map[string]struct{}, len(specialties))
	for _, code := range specialties {
		set[code] = struct{}{}
	}

	now := time.Now()
	s.snap.Store(&Snapshot{
		PCPSpecialties: set,
		PaymentRanks:   ranks,
		LoadedAt:       now,
	})

	metrics.RefdataRefreshTotal.WithLabelValues("pcp_specialties", "ok").Inc()
	metrics.RefdataRefreshTotal.WithLabelValues("payment_methods", "ok").Inc()
	metrics.RefdataLastRefresh.WithLabelValues("pcp_specialties").Set(float64(now.Unix()))
	metrics.RefdataLastRefresh.WithLabelValues("payment_methods").Set(float64(now.Unix()))

	s.logger.Info("refdata: snapshot refreshed",
		"pcpSpecialties", len(set), "paymentMethods", len(ranks))
	return nil
}
