// Package engine implements the deterministic cost-share calculation: a set
// of decision nodes wired into a fixed graph, each consuming and mutating a
// per-benefit calculation record until a terminal node settles the member's
// share of the service amount.
package engine

import (
	"github.com/shopspring/decimal"

	"github.com/carecost/carecost/pkg/plan"
)

// TraceEntry is one decision the graph took. Appended by every node that
// runs; never removed.
type TraceEntry struct {
	Node     string `json:"node"`
	Decision string `json:"decision"`
	Value    string `json:"value,omitempty"`
}

// Record carries the arithmetic state for one candidate benefit through the
// node graph. A Record is single-owner: constructed, mutated, and read by
// one goroutine, then discarded.
//
// Accumulator remainders are pointers: nil means the accumulator kind is not
// part of the plan (never consulted, never decremented), zero means the plan
// has it and it is exhausted. The two route differently.
type Record struct {
	ServiceAmount     decimal.Decimal
	MemberPays        decimal.Decimal
	AmountCopay       decimal.Decimal
	AmountCoinsurance decimal.Decimal

	CostShareCopay       decimal.Decimal
	CostShareCoinsurance int64 // integer percent 0..100, truncated

	IsServiceCovered        bool
	IsDeductibleBeforeCopay bool

	CopayAppliesOOP      bool
	CoinsuranceAppliesOOP bool
	DeductibleAppliesOOP bool

	CopayCountToDeductible         bool
	CopayContinueWhenDeductibleMet bool
	CopayContinueWhenOOPMet        bool

	DeductibleIndividual *decimal.Decimal
	DeductibleFamily     *decimal.Decimal
	OOPMaxIndividual     *decimal.Decimal
	OOPMaxFamily         *decimal.Decimal

	LimitType  string
	LimitValue *decimal.Decimal

	AccumCodes  map[string]bool
	AccumLevels map[string]bool

	IndividualsMet    int
	IndividualsNeeded int

	CalculationComplete bool

	Trace []TraceEntry
}

// NewRecord builds the defaulted record for one candidate: the negotiated
// rate becomes the opening service amount, the benefit supplies cost-share
// numerics and flags, and the matched accumulators supply the remainders.
// Fields with no source default to zero / false / nil.
func NewRecord(rate decimal.Decimal, b plan.Benefit, accums []plan.Accumulator) *Record {
	r := &Record{
		ServiceAmount:        rate,
		CostShareCopay:       b.CostShareCopay,
		CostShareCoinsurance: b.CostShareCoinsurance.IntPart(), // truncate fractional percents

		IsServiceCovered:        b.IsServiceCovered,
		IsDeductibleBeforeCopay: b.IsDeductibleBeforeCopay,

		CopayAppliesOOP:       b.CopayAppliesOOP,
		CoinsuranceAppliesOOP: b.CoinsuranceAppliesOOP,
		DeductibleAppliesOOP:  b.DeductibleAppliesOOP,

		CopayCountToDeductible:         b.CopayCountToDeductible,
		CopayContinueWhenDeductibleMet: b.CopayContinueWhenDeductibleMet,
		CopayContinueWhenOOPMet:        b.CopayContinueWhenOOPMet,

		AccumCodes:  make(map[string]bool),
		AccumLevels: make(map[string]bool),
	}

	for i := range accums {
		a := &accums[i]
		code := plan.CodeKey(a.Code)
		r.AccumCodes[code] = true
		r.AccumLevels[a.LevelKey()] = true

		v := a.CalculatedValue
		switch {
		case code == "deductible" && a.Level == plan.LevelIndividual:
			r.DeductibleIndividual = decPtr(v)
		case code == "deductible" && a.Level == plan.LevelFamily:
			r.DeductibleFamily = decPtr(v)
			if a.IndividualsNeeded > 0 {
				r.IndividualsMet = a.IndividualsMet
				r.IndividualsNeeded = a.IndividualsNeeded
			}
		case code == "oopmax" && a.Level == plan.LevelIndividual:
			r.OOPMaxIndividual = decPtr(v)
		case code == "oopmax" && a.Level == plan.LevelFamily:
			r.OOPMaxFamily = decPtr(v)
		case code == "limit":
			r.LimitType = a.LimitType
			r.LimitValue = decPtr(v)
		}
	}

	return r
}

func decPtr(d decimal.Decimal) *decimal.Decimal {
	cp := d
	return &cp
}

func (r *Record) trace(node, decision string, value decimal.Decimal) {
	r.Trace = append(r.Trace, TraceEntry{Node: node, Decision: decision, Value: value.String()})
}

func (r *Record) traceMsg(node, decision string) {
	r.Trace = append(r.Trace, TraceEntry{Node: node, Decision: decision})
}

// settle moves amount from the open service balance to the member. Clamping
// is by construction: callers never pass more than ServiceAmount.
func (r *Record) settle(amount decimal.Decimal) {
	r.MemberPays = r.MemberPays.Add(amount)
	r.ServiceAmount = r.ServiceAmount.Sub(amount)
	if r.ServiceAmount.IsNegative() {
		r.ServiceAmount = decimal.Zero
	}
}

// decrement subtracts amount from an accumulator remainder, clamping at
// zero. Nil remainders (kind not in the plan) are untouched.
func decrement(acc **decimal.Decimal, amount decimal.Decimal) {
	if *acc == nil {
		return
	}
	v := (*acc).Sub(amount)
	if v.IsNegative() {
		v = decimal.Zero
	}
	*acc = &v
}

// decrementOOPMax reduces both applicable OOPM remainders by amount.
func (r *Record) decrementOOPMax(amount decimal.Decimal) {
	decrement(&r.OOPMaxIndividual, amount)
	decrement(&r.OOPMaxFamily, amount)
}

// decrementDeductibles reduces both applicable deductible remainders by
// amount.
func (r *Record) decrementDeductibles(amount decimal.Decimal) {
	decrement(&r.DeductibleIndividual, amount)
	decrement(&r.DeductibleFamily, amount)
}

// oopMaxMet reports whether any applicable OOPM remainder is exhausted.
func (r *Record) oopMaxMet() bool {
	if r.OOPMaxFamily != nil && r.OOPMaxFamily.IsZero() {
		return true
	}
	if r.OOPMaxIndividual != nil && r.OOPMaxIndividual.IsZero() {
		return true
	}
	return false
}

// minOOPMax returns the lesser of the applicable OOPM remainders. ok is
// false when neither level is part of the plan.
func (r *Record) minOOPMax() (decimal.Decimal, bool) {
	switch {
	case r.OOPMaxIndividual != nil && r.OOPMaxFamily != nil:
		if r.OOPMaxFamily.LessThan(*r.OOPMaxIndividual) {
			return *r.OOPMaxFamily, true
		}
		return *r.OOPMaxIndividual, true
	case r.OOPMaxIndividual != nil:
		return *r.OOPMaxIndividual, true
	case r.OOPMaxFamily != nil:
		return *r.OOPMaxFamily, true
	}
	return decimal.Zero, false
}

// deductibleRemaining returns the remaining individual deductible, falling
// back to the family remainder on plans with no individual level.
func (r *Record) deductibleRemaining() decimal.Decimal {
	if r.DeductibleIndividual != nil {
		return *r.DeductibleIndividual
	}
	if r.DeductibleFamily != nil {
		return *r.DeductibleFamily
	}
	return decimal.Zero
}
