package store

import (
	"database/sql"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/carecost/carecost/internal/metrics"
	"github.com/carecost/carecost/pkg/plan"
)

// Sanity bounds for negotiated rate amounts. Dollar rates outside these
// bounds are rejected rather than quoted to a member.
const (
	minValidAmount = 0.01
	maxValidAmount = 1_000_000.0
)

// ValidateAmount returns true if a dollar rate falls within sane bounds.
func ValidateAmount(amount decimal.Decimal) bool {
	return amount.GreaterThanOrEqual(decimal.NewFromFloat(minValidAmount)) &&
		amount.LessThanOrEqual(decimal.NewFromFloat(maxValidAmount))
}

// RateQuery identifies one negotiated rate lookup.
type RateQuery struct {
	ServiceCode  string
	MembershipID string
	ProviderID   string
	NetworkID    string
}

func (q RateQuery) cacheKey() string {
	return q.ServiceCode + "|" + q.MembershipID + "|" + q.ProviderID + "|" + q.NetworkID
}

// Rate lookup scopes, most specific first. A hit at one scope stops the
// walk; a missing rate after all four scopes is in-band (Found = false).
var rateScopes = []struct {
	name  string
	where string
	args  func(RateQuery) []any
}{
	{"claim", "scope = 'claim' AND service_code = ? AND membership_id = ? AND provider_id = ?",
		func(q RateQuery) []any { return []any{q.ServiceCode, q.MembershipID, q.ProviderID} }},
	{"provider", "scope = 'provider' AND service_code = ? AND provider_id = ?",
		func(q RateQuery) []any { return []any{q.ServiceCode, q.ProviderID} }},
	{"contract", "scope = 'contract' AND service_code = ? AND network_id = ?",
		func(q RateQuery) []any { return []any{q.ServiceCode, q.NetworkID} }},
	{"default", "scope = 'default' AND service_code = ?",
		func(q RateQuery) []any { return []any{q.ServiceCode} }},
}

const memoryRateCacheTTL = 1 * time.Hour

// RateStore resolves negotiated rates against the claim > provider >
// contract > default hierarchy, with an in-memory cache in front of SQLite.
// All methods are nil-db-safe: with a nil *sql.DB every lookup misses.
type RateStore struct {
	db *sql.DB

	mu      sync.RWMutex
	mem     map[string]plan.NegotiatedRate
	memTime map[string]time.Time
}

// NewRateStore creates a RateStore backed by the given database.
func NewRateStore(db *sql.DB) *RateStore {
	return &RateStore{
		db:      db,
		mem:     make(map[string]plan.NegotiatedRate),
		memTime: make(map[string]time.Time),
	}
}

// Lookup resolves the rate for one query. ranks orders payment methods when
// one scope holds several candidate rows; lower rank wins, unranked codes
// sort last. A rate the hierarchy cannot answer returns Found = false and a
// nil error.
func (s *RateStore) Lookup(q RateQuery, ranks map[string]int) (plan.NegotiatedRate, error) {
	key := q.cacheKey()

	s.mu.RLock()
	if rate, ok := s.mem[key]; ok && time.Since(s.memTime[key]) < memoryRateCacheTTL {
		s.mu.RUnlock()
		metrics.RateCacheHits.Inc()
		return rate, nil
	}
	s.mu.RUnlock()
	metrics.RateCacheMisses.Inc()

	if s.db == nil {
		metrics.RateLookupsTotal.WithLabelValues("miss").Inc()
		return plan.NegotiatedRate{}, nil
	}

	for _, scope := range rateScopes {
		rate, ok, err := s.queryScope(scope.where, scope.args(q), ranks)
		if err != nil {
			return plan.NegotiatedRate{}, fmt.Errorf("rate lookup at %s scope: %w", scope.name, err)
		}
		if ok {
			metrics.RateLookupsTotal.WithLabelValues(scope.name).Inc()
			s.put(key, rate)
			return rate, nil
		}
	}

	metrics.RateLookupsTotal.WithLabelValues("miss").Inc()
	s.put(key, plan.NegotiatedRate{})
	return plan.NegotiatedRate{}, nil
}

func (s *RateStore) queryScope(where string, args []any, ranks map[string]int) (plan.NegotiatedRate, bool, error) {
	rows, err := s.db.Query(
		"SELECT rate_type, amount, payment_method_code FROM negotiated_rates WHERE "+where, args...)
	if err != nil {
		return plan.NegotiatedRate{}, false, err
	}
	defer rows.Close()

	best := plan.NegotiatedRate{}
	bestRank := 0
	for rows.Next() {
		var rateType, amountStr, method string
		if err := rows.Scan(&rateType, &amountStr, &method); err != nil {
			return plan.NegotiatedRate{}, false, err
		}
		amount, err := decimal.NewFromString(amountStr)
		if err != nil {
			fmt.Fprintf(os.Stderr, "ratestore: skipping unparseable amount %q: %v\n", amountStr, err)
			continue
		}
		if rateType == plan.RateTypeAmount && !ValidateAmount(amount) {
			fmt.Fprintf(os.Stderr, "ratestore: skipping out-of-bounds amount %s\n", amount)
			continue
		}
		rank := methodRank(ranks, method)
		if !best.Found || rank < bestRank {
			best = plan.NegotiatedRate{
				Amount:            amount,
				RateType:          rateType,
				PaymentMethodCode: method,
				Found:             true,
			}
			bestRank = rank
		}
	}
	return best, best.Found, rows.Err()
}

// methodRank: unranked payment methods sort after every ranked one.
func methodRank(ranks map[string]int, method string) int {
	if r, ok := ranks[method]; ok {
		return r
	}
	return int(^uint(0) >> 1)
}

func (s *RateStore) put(key string, rate plan.NegotiatedRate) {
	s.mu.Lock()
	s.mem[key] = rate
	s.memTime[key] = time.Now()
	s.mu.Unlock()
}

// Invalidate clears the in-memory cache. Called after a rate data refresh.
func (s *RateStore) Invalidate() {
	s.mu.Lock()
	s.mem = make(map[string]plan.NegotiatedRate)
	s.memTime = make(map[string]time.Time)
	s.mu.Unlock()
}
