// Package estimator is the per-request orchestrator: it fans out to the
// benefit, accumulator, and rate sources, runs the matcher and engine per
// provider on a bounded worker pool, and assembles the response in request
// order.
package estimator

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/carecost/carecost/internal/engine"
	"github.com/carecost/carecost/internal/matcher"
	"github.com/carecost/carecost/internal/metrics"
	"github.com/carecost/carecost/internal/refdata"
	"github.com/carecost/carecost/internal/source"
	"github.com/carecost/carecost/internal/store"
	"github.com/carecost/carecost/pkg/plan"
)

// BenefitFetcher answers one provider-scoped benefit catalog query.
type BenefitFetcher interface {
	Fetch(ctx context.Context, q source.BenefitQuery) (plan.BenefitCatalog, error)
}

// AccumulatorFetcher answers one member's accumulator bundle.
type AccumulatorFetcher interface {
	Fetch(ctx context.Context, membershipID string) (plan.AccumulatorBundle, error)
}

// RateLookup resolves one negotiated rate.
type RateLookup interface {
	Lookup(q store.RateQuery, ranks map[string]int) (plan.NegotiatedRate, error)
}

// Orchestrator wires the sources, matcher, and engine into the estimate
// pipeline. Safe for concurrent use.
type Orchestrator struct {
	benefits BenefitFetcher
	accums   AccumulatorFetcher
	rates    RateLookup
	matcher  *matcher.Matcher
	engine   *engine.Engine
	refdata  *refdata.Service
	audit    *store.AuditRecorder
	workers  int
	logger   *slog.Logger
}

// Options carries the orchestrator's collaborators. Audit may be nil.
type Options struct {
	Benefits BenefitFetcher
	Accums   AccumulatorFetcher
	Rates    RateLookup
	Matcher  *matcher.Matcher
	Engine   *engine.Engine
	Refdata  *refdata.Service
	Audit    *store.AuditRecorder
	Workers  int
	Logger   *slog.Logger
}

func New(opts Options) *Orchestrator {
	if opts.Workers < 1 {
		opts.Workers = 12
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Orchestrator{
		benefits: opts.Benefits,
		accums:   opts.Accums,
		rates:    opts.Rates,
		matcher:  opts.Matcher,
		engine:   opts.Engine,
		refdata:  opts.Refdata,
		audit:    opts.Audit,
		workers:  opts.Workers,
		logger:   opts.Logger,
	}
}

// providerFetch holds one deduplicated provider key's source answers.
type providerFetch struct {
	catalog    plan.BenefitCatalog
	benefitErr error
	rate       plan.NegotiatedRate
	rateErr    error
}

// Estimate runs one request end to end. Provider-local failures land in
// that provider's response slot; only request-scope failures (invalid
// input, member not found, accumulator source down, cancellation) return
// an error.
func (o *Orchestrator) Estimate(ctx context.Context, req *EstimateRequest) (*EstimateResponse, error) {
	start := time.Now()
	defer func() {
		metrics.EstimateDuration.Observe(time.Since(start).Seconds())
	}()

	if err := req.Validate(); err != nil {
		metrics.EstimateRequestsTotal.WithLabelValues("invalid").Inc()
		return nil, err
	}
	metrics.ProvidersPerRequest.Observe(float64(len(req.ProviderInfo)))

	snap := o.refdata.Current()

	// Tier 1: fan out to the three sources. Benefit and rate queries are
	// deduplicated by the provider hash; the accumulator bundle is one
	// fetch per member.
	fetches := make(map[string]*providerFetch)
	for i := range req.ProviderInfo {
		key := req.ProviderInfo[i].Key(req.ZipCode)
		if _, ok := fetches[key]; !ok {
			fetches[key] = &providerFetch{}
		}
	}

	var (
		wg        sync.WaitGroup
		bundle    plan.AccumulatorBundle
		bundleErr error
	)

	wg.Add(1)
	go func() {
		defer wg.Done()
		bundle, bundleErr = o.accums.Fetch(ctx, req.MembershipID)
	}()

	seen := make(map[string]bool, len(fetches))
	for i := range req.ProviderInfo {
		p := &req.ProviderInfo[i]
		key := p.Key(req.ZipCode)
		if seen[key] {
			continue
		}
		seen[key] = true
		pf := fetches[key]

		wg.Add(2)
		go func(p *ProviderInfo, pf *providerFetch) {
			defer wg.Done()
			pf.catalog, pf.benefitErr = o.benefits.Fetch(ctx, source.BenefitQuery{
				MembershipID:   req.MembershipID,
				PlanID:         req.BenefitProductType,
				ServiceCode:    req.Service.Code,
				PlaceOfService: req.Service.PlaceOfService.Code,
				ProviderID:     p.ProviderIdentificationNumber,
				NetworkID:      p.ProviderNetworks.NetworkID,
				ProviderTier:   p.ProviderNetworkParticipation.ProviderTier,
			})
		}(p, pf)
		go func(p *ProviderInfo, pf *providerFetch) {
			defer wg.Done()
			pf.rate, pf.rateErr = o.rates.Lookup(store.RateQuery{
				ServiceCode:  req.Service.Code,
				MembershipID: req.MembershipID,
				ProviderID:   p.ProviderIdentificationNumber,
				NetworkID:    p.ProviderNetworks.NetworkID,
			}, snap.PaymentRanks)
		}(p, pf)
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		metrics.EstimateRequestsTotal.WithLabelValues("error").Inc()
		return nil, E(KindCancelled, err, "request deadline exceeded")
	}
	if bundleErr != nil {
		return nil, o.classifyBundleErr(bundleErr)
	}

	// Tier 2: per-provider matcher + engine on a bounded pool, results
	// placed by request index.
	requestID := uuid.NewString()
	entries := make([]CostEstimate, len(req.ProviderInfo))
	sem := make(chan struct{}, o.workers)
	var pwg sync.WaitGroup
	for i := range req.ProviderInfo {
		pwg.Add(1)
		sem <- struct{}{}
		go func(i int) {
			defer pwg.Done()
			defer func() { <-sem }()
			p := &req.ProviderInfo[i]
			entries[i] = o.estimateProvider(ctx, req, requestID, p, fetches[p.Key(req.ZipCode)], bundle, snap)
		}(i)
	}
	pwg.Wait()

	if err := ctx.Err(); err != nil {
		metrics.EstimateRequestsTotal.WithLabelValues("error").Inc()
		return nil, E(KindCancelled, err, "request deadline exceeded")
	}

	metrics.EstimateRequestsTotal.WithLabelValues("ok").Inc()
	return &EstimateResponse{
		Service:      req.Service,
		CostEstimate: entries,
	}, nil
}

func (o *Orchestrator) classifyBundleErr(err error) error {
	metrics.EstimateRequestsTotal.WithLabelValues("member_not_found").Inc()
	switch {
	case errors.Is(err, source.ErrMemberNotFound):
		return E(KindMemberNotFound, err, "accumulator source does not know the member")
	case errors.Is(err, source.ErrAuthExpired):
		return E(KindAuthExpired, err, "accumulator source rejected credentials")
	default:
		return E(KindSourceUnavailable, err, "accumulator source failed")
	}
}

// estimateProvider produces the response slot for one provider. Every
// failure is recovered into an error entry; nothing here fails the request.
func (o *Orchestrator) estimateProvider(ctx context.Context, req *EstimateRequest, requestID string, p *ProviderInfo, pf *providerFetch, bundle plan.AccumulatorBundle, snap *refdata.Snapshot) CostEstimate {
	if err := pf.benefitErr; err != nil {
		metrics.ProviderFailuresTotal.WithLabelValues("benefit_source").Inc()
		o.logger.Warn("estimator: benefit fetch failed",
			"provider", p.ProviderIdentificationNumber, "error", err)
		return errorEntry(*p, KindSourceUnavailable, "benefit source failed for this provider")
	}
	if len(pf.catalog.Benefits) == 0 {
		metrics.ProviderFailuresTotal.WithLabelValues("benefits_not_found").Inc()
		return errorEntry(*p, KindBenefitsNotFound, "no benefit catalog for this provider")
	}
	if err := pf.rateErr; err != nil {
		metrics.ProviderFailuresTotal.WithLabelValues("rate_source").Inc()
		o.logger.Warn("estimator: rate lookup failed",
			"provider", p.ProviderIdentificationNumber, "error", err)
		return errorEntry(*p, KindSourceUnavailable, "rate lookup failed for this provider")
	}
	if !pf.rate.Found {
		metrics.ProviderFailuresTotal.WithLabelValues("rate_missing").Inc()
		return errorEntry(*p, KindRateMissing, "no negotiated rate for this provider")
	}

	if pf.rate.RateType == plan.RateTypePercentage && !req.Service.BilledAmount.IsPositive() {
		metrics.ProviderFailuresTotal.WithLabelValues("rate_missing").Inc()
		return errorEntry(*p, KindRateMissing, "percentage rate requires a billed amount")
	}
	effectiveRate := pf.rate.EffectiveAmount(req.Service.BilledAmount)

	candidates := o.matcher.Match(pf.catalog.Benefits, bundle, p.ToPlanProvider(), p.OutOfNetwork(), snap.PCPSpecialties)
	if len(candidates) == 0 {
		metrics.ProviderFailuresTotal.WithLabelValues("no_matching_benefits").Inc()
		return errorEntry(*p, KindBenefitsNotFound, "no matching benefits for this provider")
	}
	metrics.CandidatesEvaluated.Observe(float64(len(candidates)))

	rec, winner, err := o.engine.HighestMemberPay(ctx, effectiveRate, candidates)
	if err != nil {
		metrics.EngineFailuresTotal.Inc()
		metrics.ProviderFailuresTotal.WithLabelValues("engine").Inc()
		o.logger.Warn("estimator: engine failed for provider",
			"provider", p.ProviderIdentificationNumber, "error", err)
		return errorEntry(*p, KindEngineConfig, "calculation failed for this provider")
	}

	if o.audit != nil {
		o.audit.Record(store.AuditEntry{
			RequestID:    requestID,
			MembershipID: req.MembershipID,
			ServiceCode:  req.Service.Code,
			ProviderID:   p.ProviderIdentificationNumber,
			BenefitName:  candidates[winner].Benefit.Name,
			Rate:         effectiveRate,
			MemberPays:   rec.MemberPays,
			Trace:        rec.Trace,
		})
	}

	return buildSuccessEntry(*p, pf.rate, effectiveRate, candidates[winner], rec)
}
