package estimator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/carecost/carecost/internal/engine"
	"github.com/carecost/carecost/internal/matcher"
	"github.com/carecost/carecost/internal/refdata"
	"github.com/carecost/carecost/internal/source"
	"github.com/carecost/carecost/internal/store"
	"github.com/carecost/carecost/pkg/plan"
)

type fakeBenefits struct {
	mu      sync.Mutex
	calls   int
	err     error
	perProv map[string]plan.BenefitCatalog
	catalog plan.BenefitCatalog
}

func (f *fakeBenefits) Fetch(_ context.Context, q source.BenefitQuery) (plan.BenefitCatalog, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.err != nil {
		return plan.BenefitCatalog{}, f.err
	}
	if f.perProv != nil {
		if c, ok := f.perProv[q.ProviderID]; ok {
			return c, nil
		}
	}
	return f.catalog, nil
}

type fakeAccums struct {
	err    error
	bundle plan.AccumulatorBundle
	delay  time.Duration
}

func (f *fakeAccums) Fetch(ctx context.Context, membershipID string) (plan.AccumulatorBundle, error) {
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return plan.AccumulatorBundle{}, ctx.Err()
		}
	}
	if f.err != nil {
		return plan.AccumulatorBundle{}, f.err
	}
	return f.bundle, nil
}

type fakeRates struct {
	calls int64
	err   error
	rate  plan.NegotiatedRate
}

func (f *fakeRates) Lookup(_ store.RateQuery, _ map[string]int) (plan.NegotiatedRate, error) {
	atomic.AddInt64(&f.calls, 1)
	if f.err != nil {
		return plan.NegotiatedRate{}, f.err
	}
	return f.rate, nil
}

func copayBenefit(name string, copay int64) plan.Benefit {
	return plan.Benefit{
		Name:             name,
		NetworkCategory:  plan.NetworkCategoryIn,
		IsServiceCovered: true,
		CostShareCopay:   decimal.NewFromInt(copay),
	}
}

func memberBundle() plan.AccumulatorBundle {
	return plan.AccumulatorBundle{MembershipID: "M1001"}
}

func dollarRate(amount int64) plan.NegotiatedRate {
	return plan.NegotiatedRate{
		Amount:   decimal.NewFromInt(amount),
		RateType: plan.RateTypeAmount,
		Found:    true,
	}
}

func reqProvider(id string) ProviderInfo {
	return ProviderInfo{
		ProviderIdentificationNumber: id,
		ProviderNetworks:             ProviderNetworks{NetworkID: "N1"},
	}
}

func newTestOrchestrator(b BenefitFetcher, a AccumulatorFetcher, r RateLookup) *Orchestrator {
	logger := slog.Default()
	return New(Options{
		Benefits: b,
		Accums:   a,
		Rates:    r,
		Matcher:  matcher.New(logger),
		Engine:   engine.New(4, logger),
		Refdata:  refdata.New(nil, logger),
		Workers:  4,
		Logger:   logger,
	})
}

func validRequest(providers ...ProviderInfo) *EstimateRequest {
	return &EstimateRequest{
		MembershipID: "M1001",
		ZipCode:      "30301",
		Service:      ServiceInfo{Code: "99213"},
		ProviderInfo: providers,
	}
}

func TestEstimate_SingleProviderSuccess(t *testing.T) {
	benefits := &fakeBenefits{catalog: plan.BenefitCatalog{Benefits: []plan.Benefit{copayBenefit("office visit", 25)}}}
	orch := newTestOrchestrator(benefits, &fakeAccums{bundle: memberBundle()}, &fakeRates{rate: dollarRate(900)})

	resp, err := orch.Estimate(context.Background(), validRequest(reqProvider("P1")))
	if err != nil {
		t.Fatalf("Estimate() error = %v", err)
	}
	if len(resp.CostEstimate) != 1 {
		t.Fatalf("len(CostEstimate) = %d, want 1", len(resp.CostEstimate))
	}
	entry := resp.CostEstimate[0]
	if entry.Exception != nil {
		t.Fatalf("Exception = %+v, want success entry", entry.Exception)
	}
	if got, want := entry.HealthClaim.AmountResponsibility, decimal.NewFromInt(25); !got.Equal(want) {
		t.Errorf("AmountResponsibility = %v, want %v", got, want)
	}
	if got, want := entry.HealthClaim.AmountPayable, decimal.NewFromInt(875); !got.Equal(want) {
		t.Errorf("AmountPayable = %v, want %v", got, want)
	}
	if entry.Coverage.BenefitName != "office visit" {
		t.Errorf("BenefitName = %q, want %q", entry.Coverage.BenefitName, "office visit")
	}
}

func TestEstimate_ResponseAlignsWithRequestOrder(t *testing.T) {
	benefits := &fakeBenefits{catalog: plan.BenefitCatalog{Benefits: []plan.Benefit{copayBenefit("b", 25)}}}
	orch := newTestOrchestrator(benefits, &fakeAccums{bundle: memberBundle()}, &fakeRates{rate: dollarRate(900)})

	providers := make([]ProviderInfo, 8)
	for i := range providers {
		providers[i] = reqProvider(fmt.Sprintf("P%d", i))
	}
	resp, err := orch.Estimate(context.Background(), validRequest(providers...))
	if err != nil {
		t.Fatalf("Estimate() error = %v", err)
	}
	if len(resp.CostEstimate) != len(providers) {
		t.Fatalf("len(CostEstimate) = %d, want %d", len(resp.CostEstimate), len(providers))
	}
	for i, entry := range resp.CostEstimate {
		if got, want := entry.ProviderInfo.ProviderIdentificationNumber, providers[i].ProviderIdentificationNumber; got != want {
			t.Errorf("CostEstimate[%d].ProviderInfo.ProviderIdentificationNumber = %q, want %q", i, got, want)
		}
	}
}

func TestEstimate_DuplicateProvidersFetchOnce(t *testing.T) {
	benefits := &fakeBenefits{catalog: plan.BenefitCatalog{Benefits: []plan.Benefit{copayBenefit("b", 25)}}}
	rates := &fakeRates{rate: dollarRate(900)}
	orch := newTestOrchestrator(benefits, &fakeAccums{bundle: memberBundle()}, rates)

	// Same provider three times: one benefit fetch, one rate lookup.
	resp, err := orch.Estimate(context.Background(), validRequest(
		reqProvider("P1"), reqProvider("P1"), reqProvider("P1"),
	))
	if err != nil {
		t.Fatalf("Estimate() error = %v", err)
	}
	if len(resp.CostEstimate) != 3 {
		t.Fatalf("len(CostEstimate) = %d, want 3", len(resp.CostEstimate))
	}
	if benefits.calls != 1 {
		t.Errorf("benefit fetches = %d, want 1", benefits.calls)
	}
	if got := atomic.LoadInt64(&rates.calls); got != 1 {
		t.Errorf("rate lookups = %d, want 1", got)
	}
}

func TestEstimate_ProviderFailureIsIsolated(t *testing.T) {
	benefits := &fakeBenefits{perProv: map[string]plan.BenefitCatalog{
		"good": {Benefits: []plan.Benefit{copayBenefit("b", 25)}},
		"bad":  {},
	}}
	orch := newTestOrchestrator(benefits, &fakeAccums{bundle: memberBundle()}, &fakeRates{rate: dollarRate(900)})

	resp, err := orch.Estimate(context.Background(), validRequest(reqProvider("bad"), reqProvider("good")))
	if err != nil {
		t.Fatalf("Estimate() error = %v", err)
	}
	if resp.CostEstimate[0].Exception == nil {
		t.Error("CostEstimate[0].Exception = nil, want BENEFITS_NOT_FOUND")
	} else if got, want := resp.CostEstimate[0].Exception.Code, string(KindBenefitsNotFound); got != want {
		t.Errorf("CostEstimate[0].Exception.Code = %q, want %q", got, want)
	}
	if resp.CostEstimate[1].Exception != nil {
		t.Errorf("CostEstimate[1].Exception = %+v, want success for the healthy provider", resp.CostEstimate[1].Exception)
	}
}

func TestEstimate_MemberNotFoundFailsRequest(t *testing.T) {
	benefits := &fakeBenefits{catalog: plan.BenefitCatalog{Benefits: []plan.Benefit{copayBenefit("b", 25)}}}
	accums := &fakeAccums{err: fmt.Errorf("member M1001: %w", source.ErrMemberNotFound)}
	orch := newTestOrchestrator(benefits, accums, &fakeRates{rate: dollarRate(900)})

	_, err := orch.Estimate(context.Background(), validRequest(reqProvider("P1")))
	if err == nil {
		t.Fatal("Estimate() error = nil, want member-not-found")
	}
	if got := KindOf(err); got != KindMemberNotFound {
		t.Errorf("KindOf(err) = %q, want %q", got, KindMemberNotFound)
	}
}

func TestEstimate_AccumulatorSourceDownFailsRequest(t *testing.T) {
	benefits := &fakeBenefits{catalog: plan.BenefitCatalog{Benefits: []plan.Benefit{copayBenefit("b", 25)}}}
	accums := &fakeAccums{err: errors.New("connection refused")}
	orch := newTestOrchestrator(benefits, accums, &fakeRates{rate: dollarRate(900)})

	_, err := orch.Estimate(context.Background(), validRequest(reqProvider("P1")))
	if err == nil {
		t.Fatal("Estimate() error = nil, want source-unavailable")
	}
	if got := KindOf(err); got != KindSourceUnavailable {
		t.Errorf("KindOf(err) = %q, want %q", got, KindSourceUnavailable)
	}
}

func TestEstimate_BenefitSourceDownIsProviderLocal(t *testing.T) {
	benefits := &fakeBenefits{err: errors.New("upstream 503")}
	orch := newTestOrchestrator(benefits, &fakeAccums{bundle: memberBundle()}, &fakeRates{rate: dollarRate(900)})

	resp, err := orch.Estimate(context.Background(), validRequest(reqProvider("P1")))
	if err != nil {
		t.Fatalf("Estimate() error = %v, want provider-local exception", err)
	}
	exc := resp.CostEstimate[0].Exception
	if exc == nil || exc.Code != string(KindSourceUnavailable) {
		t.Errorf("Exception = %+v, want code %q", exc, KindSourceUnavailable)
	}
}

func TestEstimate_MissingRateIsProviderLocal(t *testing.T) {
	benefits := &fakeBenefits{catalog: plan.BenefitCatalog{Benefits: []plan.Benefit{copayBenefit("b", 25)}}}
	orch := newTestOrchestrator(benefits, &fakeAccums{bundle: memberBundle()}, &fakeRates{rate: plan.NegotiatedRate{Found: false}})

	resp, err := orch.Estimate(context.Background(), validRequest(reqProvider("P1")))
	if err != nil {
		t.Fatalf("Estimate() error = %v", err)
	}
	exc := resp.CostEstimate[0].Exception
	if exc == nil || exc.Code != string(KindRateMissing) {
		t.Errorf("Exception = %+v, want code %q", exc, KindRateMissing)
	}
}

func TestEstimate_PercentageRateRequiresBilledAmount(t *testing.T) {
	benefits := &fakeBenefits{catalog: plan.BenefitCatalog{Benefits: []plan.Benefit{copayBenefit("b", 25)}}}
	rate := plan.NegotiatedRate{
		Amount:   decimal.NewFromInt(80),
		RateType: plan.RateTypePercentage,
		Found:    true,
	}
	orch := newTestOrchestrator(benefits, &fakeAccums{bundle: memberBundle()}, &fakeRates{rate: rate})

	// No billed amount: provider-local RATE_MISSING.
	resp, err := orch.Estimate(context.Background(), validRequest(reqProvider("P1")))
	if err != nil {
		t.Fatalf("Estimate() error = %v", err)
	}
	exc := resp.CostEstimate[0].Exception
	if exc == nil || exc.Code != string(KindRateMissing) {
		t.Fatalf("Exception = %+v, want code %q", exc, KindRateMissing)
	}

	// With a billed amount the percentage scales it: 80% of 500 = 400.
	req := validRequest(reqProvider("P1"))
	req.Service.BilledAmount = decimal.NewFromInt(500)
	resp, err = orch.Estimate(context.Background(), req)
	if err != nil {
		t.Fatalf("Estimate() error = %v", err)
	}
	entry := resp.CostEstimate[0]
	if entry.Exception != nil {
		t.Fatalf("Exception = %+v, want success", entry.Exception)
	}
	if got, want := entry.Cost.InNetworkCosts, decimal.NewFromInt(400); !got.Equal(want) {
		t.Errorf("InNetworkCosts = %v, want %v", got, want)
	}
}

func TestEstimate_WorstCaseBenefitWins(t *testing.T) {
	benefits := &fakeBenefits{catalog: plan.BenefitCatalog{Benefits: []plan.Benefit{
		copayBenefit("cheap", 10),
		copayBenefit("expensive", 40),
	}}}
	orch := newTestOrchestrator(benefits, &fakeAccums{bundle: memberBundle()}, &fakeRates{rate: dollarRate(900)})

	resp, err := orch.Estimate(context.Background(), validRequest(reqProvider("P1")))
	if err != nil {
		t.Fatalf("Estimate() error = %v", err)
	}
	entry := resp.CostEstimate[0]
	if entry.Coverage.BenefitName != "expensive" {
		t.Errorf("BenefitName = %q, want the highest member pay candidate", entry.Coverage.BenefitName)
	}
	if got, want := entry.HealthClaim.AmountResponsibility, decimal.NewFromInt(40); !got.Equal(want) {
		t.Errorf("AmountResponsibility = %v, want %v", got, want)
	}
}

func TestEstimate_InvalidRequests(t *testing.T) {
	orch := newTestOrchestrator(&fakeBenefits{}, &fakeAccums{bundle: memberBundle()}, &fakeRates{})

	tests := []struct {
		name string
		req  *EstimateRequest
	}{
		{"missing membership", &EstimateRequest{Service: ServiceInfo{Code: "99213"}, ProviderInfo: []ProviderInfo{reqProvider("P1")}}},
		{"missing service code", &EstimateRequest{MembershipID: "M1", ProviderInfo: []ProviderInfo{reqProvider("P1")}}},
		{"no providers", &EstimateRequest{MembershipID: "M1", Service: ServiceInfo{Code: "99213"}}},
		{"provider without id", &EstimateRequest{MembershipID: "M1", Service: ServiceInfo{Code: "99213"}, ProviderInfo: []ProviderInfo{{}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := orch.Estimate(context.Background(), tt.req)
			if got := KindOf(err); got != KindRequestInvalid {
				t.Errorf("KindOf(err) = %q, want %q", got, KindRequestInvalid)
			}
		})
	}
}

func TestEstimate_CancelledContext(t *testing.T) {
	benefits := &fakeBenefits{catalog: plan.BenefitCatalog{Benefits: []plan.Benefit{copayBenefit("b", 25)}}}
	accums := &fakeAccums{bundle: memberBundle(), delay: 200 * time.Millisecond}
	orch := newTestOrchestrator(benefits, accums, &fakeRates{rate: dollarRate(900)})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := orch.Estimate(ctx, validRequest(reqProvider("P1")))
	if err == nil {
		t.Fatal("Estimate() error = nil, want cancellation")
	}
	if got := KindOf(err); got != KindCancelled {
		t.Errorf("KindOf(err) = %q, want %q", got, KindCancelled)
	}
}
