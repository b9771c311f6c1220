// Package plan holds the domain types shared by the benefit catalog, the
// member accumulator bundle, and the negotiated-rate store.
package plan

import (
	"strings"

	"github.com/shopspring/decimal"
)

// Accumulator codes as returned by the accumulator source.
const (
	CodeDeductible = "Deductible"
	CodeOOPMax     = "OOP Max"
	CodeLimit      = "Limit"
)

// Accumulator levels.
const (
	LevelIndividual = "Individual"
	LevelFamily     = "Family"
)

// Network categories carried on benefits.
const (
	NetworkCategoryIn  = "InNetwork"
	NetworkCategoryOut = "OutOfNetwork"
)

// Limit accumulator types. A dollar limit caps covered spend; a counter
// limit caps visits.
const (
	LimitTypeDollar  = "dollar"
	LimitTypeCounter = "counter"
)

// RelatedAccumulator is a benefit's reference to a member accumulator. An
// empty Code is treated as "Limit" during matching.
type RelatedAccumulator struct {
	Code                 string `json:"code"`
	Level                string `json:"level"`
	DeductibleCode       string `json:"deductibleCode"`
	AccumExCode          string `json:"accumExCode"`
	NetworkIndicatorCode string `json:"networkIndicatorCode"`
}

// ServiceProvider is the provider-facing slice of a benefit: which
// designation (e.g. PCP) the benefit is restricted to, if any.
type ServiceProvider struct {
	ProviderDesignation string `json:"providerDesignation"`
}

// Benefit is one candidate coverage rule from the benefit catalog, keyed by
// (network category, tier, provider designation).
type Benefit struct {
	Name            string `json:"benefitName"`
	NetworkCategory string `json:"networkCategory"`
	Tier            string `json:"benefitTier"`

	IsServiceCovered bool `json:"isServiceCovered"`

	CostShareCopay       decimal.Decimal `json:"costShareCopay"`
	CostShareCoinsurance decimal.Decimal `json:"costShareCoinsurance"`

	IsDeductibleBeforeCopay        bool `json:"isDeductibleBeforeCopay"`
	CopayAppliesOOP                bool `json:"copayAppliesOutOfPocket"`
	CoinsuranceAppliesOOP          bool `json:"coinsuranceAppliesOutOfPocket"`
	DeductibleAppliesOOP           bool `json:"deductibleAppliesOutOfPocket"`
	CopayCountToDeductible         bool `json:"copayCountToDeductibleIndicator"`
	CopayContinueWhenDeductibleMet bool `json:"isCopayBeforeDeductible"`
	CopayContinueWhenOOPMet        bool `json:"copayContinueWhenOutOfPocketMaxMet"`

	ServiceProviders    []ServiceProvider    `json:"serviceProvider"`
	RelatedAccumulators []RelatedAccumulator `json:"relatedAccumulators"`
}

// Designation returns the benefit's first non-empty provider designation,
// or "" when the benefit is not designation-specific.
func (b *Benefit) Designation() string {
	for _, sp := range b.ServiceProviders {
		if sp.ProviderDesignation != "" {
			return sp.ProviderDesignation
		}
	}
	return ""
}

// Accumulator is a member-side running total. CalculatedValue is
// limit - current clamped at zero, computed by the accumulator source.
type Accumulator struct {
	Code                 string  `json:"code"`
	Level                string  `json:"level"`
	DeductibleCode       *string `json:"deductibleCode"`
	AccumExCode          *string `json:"accumExCode"`
	NetworkIndicatorCode string  `json:"networkIndicatorCode"`

	LimitValue      decimal.Decimal `json:"limitValue"`
	CurrentValue    decimal.Decimal `json:"currentValue"`
	CalculatedValue decimal.Decimal `json:"calculatedValue"`

	// LimitType distinguishes dollar and counter limits. Meaningful only
	// when Code is "Limit".
	LimitType string `json:"limitType,omitempty"`

	// Embedded-deductible progress, present on family deductibles of
	// embedded plans.
	IndividualsMet    int `json:"individualsMet,omitempty"`
	IndividualsNeeded int `json:"individualsNeeded,omitempty"`
}

// LevelKey returns the lowercased "<code>_<level>" key used by the engine's
// accumulator level set, e.g. "oopmax_individual".
func (a *Accumulator) LevelKey() string {
	return CodeKey(a.Code) + "_" + strings.ToLower(a.Level)
}

// CodeKey normalizes an accumulator code to the engine's lowercase form:
// "OOP Max" -> "oopmax", "Deductible" -> "deductible", "Limit" -> "limit".
func CodeKey(code string) string {
	return strings.ToLower(strings.ReplaceAll(code, " ", ""))
}

// AccumulatorBundle is everything the accumulator source knows about one
// member.
type AccumulatorBundle struct {
	MembershipID string        `json:"membershipId"`
	Accumulators []Accumulator `json:"accumulators"`
}

// Provider is one candidate provider from the inbound request.
type Provider struct {
	ID              string `json:"providerIdentificationNumber"`
	SpecialtyCode   string `json:"specialtyCode"`
	Tier            string `json:"providerTier"`
	NetworkID       string `json:"networkID"`
	ServiceLocation string `json:"serviceLocation"`
	ProviderType    string `json:"providerType"`
}

// IsPCP reports whether the provider's specialty is in the plan's PCP
// specialty set.
func (p *Provider) IsPCP(pcpSpecialties map[string]struct{}) bool {
	_, ok := pcpSpecialties[p.SpecialtyCode]
	return ok
}

// Rate types for negotiated rates.
const (
	RateTypeAmount     = "Amount"
	RateTypePercentage = "Percentage"
)

// NegotiatedRate is the plan-negotiated price for a service at a provider.
// A missing rate is in-band (Found = false), not an error.
type NegotiatedRate struct {
	Amount            decimal.Decimal `json:"amount"`
	RateType          string          `json:"rateType"`
	PaymentMethodCode string          `json:"paymentMethodCode"`
	Found             bool            `json:"found"`
}

// EffectiveAmount resolves the rate against a billed amount: percentage
// rates scale the billed amount, dollar rates stand alone.
func (r *NegotiatedRate) EffectiveAmount(billed decimal.Decimal) decimal.Decimal {
	if r.RateType == RateTypePercentage {
		return billed.Mul(r.Amount).Div(decimal.NewFromInt(100)).Round(2)
	}
	return r.Amount
}

// BenefitCatalog is the benefit source's answer for one provider query.
type BenefitCatalog struct {
	Benefits []Benefit `json:"benefits"`
}
