package estimator

import (
	"github.com/shopspring/decimal"

	"github.com/carecost/carecost/internal/engine"
	"github.com/carecost/carecost/pkg/plan"
)

var oneHundred = decimal.NewFromInt(100)

// buildSuccessEntry projects one winning engine run into the response
// shape. amountPayable is the plan's share of the effective rate;
// percentResponsibility is the member's share as a percentage rounded to
// one decimal.
func buildSuccessEntry(p ProviderInfo, rate plan.NegotiatedRate, effectiveRate decimal.Decimal, c engine.Candidate, rec *engine.Record) CostEstimate {
	responsibility := rec.MemberPays
	payable := effectiveRate.Sub(responsibility)
	if payable.IsNegative() {
		payable = decimal.Zero
	}

	percent := decimal.Zero
	if effectiveRate.IsPositive() {
		percent = responsibility.Div(effectiveRate).Mul(oneHundred).Round(1)
	}

	return CostEstimate{
		ProviderInfo: p,
		Coverage: &Coverage{
			IsServiceCovered:     c.Benefit.IsServiceCovered,
			CostShareCopay:       c.Benefit.CostShareCopay,
			CostShareCoinsurance: c.Benefit.CostShareCoinsurance,
			BenefitName:          c.Benefit.Name,
		},
		Cost: &Cost{
			InNetworkCosts:     effectiveRate,
			InNetworkCostsType: rate.RateType,
		},
		HealthClaim: &HealthClaimLine{
			AmountCopay:           rec.AmountCopay,
			AmountCoinsurance:     rec.AmountCoinsurance,
			AmountResponsibility:  responsibility,
			PercentResponsibility: percent,
			AmountPayable:         payable,
		},
		Accumulators: accumulatorOutcomes(c.Accumulators, rec),
	}
}

// accumulatorOutcomes reports each bound accumulator's remaining value
// after the hypothetical claim and the portion this claim applied.
func accumulatorOutcomes(accums []plan.Accumulator, rec *engine.Record) []AccumulatorOutcome {
	var out []AccumulatorOutcome
	for i := range accums {
		a := accums[i]
		remaining, ok := remainingFor(&a, rec)
		if !ok {
			remaining = a.CalculatedValue
		}
		applied := a.CalculatedValue.Sub(remaining)
		if applied.IsNegative() {
			applied = decimal.Zero
		}
		out = append(out, AccumulatorOutcome{
			Accumulator: a,
			Calculation: AccumulatorCalculation{
				RemainingValue: remaining,
				AppliedValue:   applied,
			},
		})
	}
	return out
}

func remainingFor(a *plan.Accumulator, rec *engine.Record) (decimal.Decimal, bool) {
	code := plan.CodeKey(a.Code)
	switch {
	case code == "deductible" && a.Level == plan.LevelIndividual && rec.DeductibleIndividual != nil:
		return *rec.DeductibleIndividual, true
	case code == "deductible" && a.Level == plan.LevelFamily && rec.DeductibleFamily != nil:
		return *rec.DeductibleFamily, true
	case code == "oopmax" && a.Level == plan.LevelIndividual && rec.OOPMaxIndividual != nil:
		return *rec.OOPMaxIndividual, true
	case code == "oopmax" && a.Level == plan.LevelFamily && rec.OOPMaxFamily != nil:
		return *rec.OOPMaxFamily, true
	case code == "limit" && rec.LimitValue != nil:
		return *rec.LimitValue, true
	}
	return decimal.Zero, false
}

// errorEntry fills one provider slot with the taxonomy exception.
func errorEntry(p ProviderInfo, kind Kind, message string) CostEstimate {
	return CostEstimate{
		ProviderInfo: p,
		Exception:    &Exception{Code: string(kind), Message: message},
	}
}
