// Package matcher filters the benefit catalog down to the benefits that
// apply to one provider and binds each survivor to the member accumulators
// it must consult.
package matcher

import (
	"log/slog"

	"github.com/carecost/carecost/internal/engine"
	"github.com/carecost/carecost/pkg/plan"
)

// DesignationPCP is the only provider designation derived today: the
// provider's specialty code is in the plan's PCP specialty set.
const DesignationPCP = "PCP"

// Matcher applies the network / tier / designation predicates and the
// accumulator binding rules. Stateless and safe for concurrent use.
type Matcher struct {
	logger *slog.Logger
}

func New(logger *slog.Logger) *Matcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Matcher{logger: logger}
}

// Match returns the candidates for one provider, in catalog order. A
// benefit with no accumulator matches is kept; its engine run sees the
// missing kinds as not part of the plan. An empty accumulator bundle (the
// member was not found upstream) yields an empty result.
func (m *Matcher) Match(catalog []plan.Benefit, bundle plan.AccumulatorBundle, provider plan.Provider, outOfNetwork bool, pcpSpecialties map[string]struct{}) []engine.Candidate {
	if bundle.MembershipID == "" {
		return nil
	}

	designation := ""
	if provider.IsPCP(pcpSpecialties) {
		designation = DesignationPCP
	}

	var out []engine.Candidate
	for i := range catalog {
		b := catalog[i]
		if !networkMatches(&b, outOfNetwork) {
			continue
		}
		if !tierMatches(&b, &provider, m.logger) {
			continue
		}
		if !designationMatches(&b, designation) {
			continue
		}
		out = append(out, engine.Candidate{
			Benefit:      b,
			Accumulators: bindAccumulators(&b, bundle.Accumulators),
		})
	}
	return out
}

// networkMatches: an in-network provider passes only in-network benefits
// and vice versa.
func networkMatches(b *plan.Benefit, outOfNetwork bool) bool {
	inNetworkBenefit := b.NetworkCategory == plan.NetworkCategoryIn
	return inNetworkBenefit == !outOfNetwork
}

// tierMatches: a tierless provider cannot satisfy a tiered benefit; that
// benefit is dropped with a warning. Otherwise tiers compare as strings.
func tierMatches(b *plan.Benefit, p *plan.Provider, logger *slog.Logger) bool {
	if b.Tier == "" {
		return true
	}
	if p.Tier == "" {
		logger.Warn("matcher: dropping tiered benefit for tierless provider",
			"benefit", b.Name, "benefitTier", b.Tier, "provider", p.ID)
		return false
	}
	return b.Tier == p.Tier
}

// designationMatches: the benefit survives when the provider has no
// designation, or both sides carry one and they are equal.
func designationMatches(b *plan.Benefit, providerDesignation string) bool {
	if providerDesignation == "" {
		return true
	}
	benefitDesignation := b.Designation()
	return benefitDesignation != "" && benefitDesignation == providerDesignation
}

// bindAccumulators resolves each of the benefit's related-accumulator
// references to the first member accumulator satisfying all five identity
// fields. First match wins; a reference may bind at most one accumulator.
func bindAccumulators(b *plan.Benefit, accums []plan.Accumulator) []plan.Accumulator {
	var matched []plan.Accumulator
	for _, ref := range b.RelatedAccumulators {
		refCode := ref.Code
		if refCode == "" {
			refCode = plan.CodeLimit
		}
		for i := range accums {
			a := &accums[i]
			if a.Code != refCode {
				continue
			}
			if a.Level != ref.Level {
				continue
			}
			if a.NetworkIndicatorCode != ref.NetworkIndicatorCode {
				continue
			}
			if !exCodeMatches(ref.AccumExCode, a.AccumExCode) {
				continue
			}
			if !exCodeMatches(ref.DeductibleCode, a.DeductibleCode) {
				continue
			}
			matched = append(matched, *a)
			break
		}
	}
	return matched
}

// exCodeMatches: an empty reference code matches an absent (null) member
// code; otherwise the strings must be equal.
func exCodeMatches(ref string, member *string) bool {
	if ref == "" {
		return member == nil
	}
	return member != nil && *member == ref
}
