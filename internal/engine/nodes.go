package engine

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// nodeID identifies a decision node in the graph. nodeDone is the terminal
// pseudo-node.
type nodeID int

const (
	nodeDone nodeID = iota
	nodeCoverage
	nodeLimit
	nodeOOPMaxGate
	nodeOOPMaxCopay
	nodeDeductibleGate
	nodeDeductibleOOPMax
	nodeCostShareRouter
	nodeDeductibleCopay
	nodeSimpleCopay
	nodePreDeductible
	nodeCoinsurance
)

var nodeNames = map[nodeID]string{
	nodeDone:             "done",
	nodeCoverage:         "coverage",
	nodeLimit:            "limit",
	nodeOOPMaxGate:       "oopmax_gate",
	nodeOOPMaxCopay:      "oopmax_copay",
	nodeDeductibleGate:   "deductible_gate",
	nodeDeductibleOOPMax: "deductible_oopmax",
	nodeCostShareRouter:  "cost_share_router",
	nodeDeductibleCopay:  "deductible_copay",
	nodeSimpleCopay:      "simple_copay",
	nodePreDeductible:    "pre_deductible",
	nodeCoinsurance:      "coinsurance",
}

func (n nodeID) String() string { return nodeNames[n] }

// step dispatches one node. Every node is a pure function over the record:
// no I/O, no goroutines, no clock.
func step(id nodeID, r *Record) (nodeID, error) {
	if r.CalculationComplete {
		return nodeDone, nil
	}
	switch id {
	case nodeCoverage:
		return runCoverage(r), nil
	case nodeLimit:
		return runLimit(r)
	case nodeOOPMaxGate:
		return runOOPMaxGate(r), nil
	case nodeOOPMaxCopay:
		return runOOPMaxCopay(r), nil
	case nodeDeductibleGate:
		return runDeductibleGate(r), nil
	case nodeDeductibleOOPMax:
		return runDeductibleOOPMax(r), nil
	case nodeCostShareRouter:
		return runCostShareRouter(r), nil
	case nodeDeductibleCopay:
		return runDeductibleCopay(r), nil
	case nodeSimpleCopay:
		return runSimpleCopay(r), nil
	case nodePreDeductible:
		return runPreDeductible(r), nil
	case nodeCoinsurance:
		return runCoinsurance(r), nil
	}
	return nodeDone, fmt.Errorf("unknown node %d", id)
}

// runCoverage: an uncovered service is owed in full by the member.
func runCoverage(r *Record) nodeID {
	if !r.IsServiceCovered {
		paid := r.ServiceAmount
		r.settle(paid)
		r.CalculationComplete = true
		r.trace("coverage", "not covered, member pays in full", paid)
		return nodeDone
	}
	r.traceMsg("coverage", "service covered")
	return nodeLimit
}

// runLimit: dollar limits cap what insurance covers, counter limits
// consume one visit. Counter mode terminates without consuming copay or
// coinsurance; whether the visit should still cost-share is an open product
// question and the stored behavior stands.
func runLimit(r *Record) (nodeID, error) {
	if !r.AccumCodes["limit"] {
		return nodeOOPMaxGate, nil
	}

	if r.LimitValue == nil || r.LimitValue.IsZero() {
		paid := r.ServiceAmount
		r.settle(paid)
		r.CalculationComplete = true
		r.trace("limit", "limit exhausted, member pays remaining", paid)
		return nodeDone, nil
	}

	switch r.LimitType {
	case "dollar":
		if r.ServiceAmount.GreaterThan(*r.LimitValue) {
			excess := r.ServiceAmount.Sub(*r.LimitValue)
			// The member-paid excess still counts toward any OOPM in force.
			if r.AccumCodes["oopmax"] {
				r.decrementOOPMax(excess)
			}
			r.settle(excess)
			r.ServiceAmount = decimal.Zero
			zero := decimal.Zero
			r.LimitValue = &zero
			r.CalculationComplete = true
			r.trace("limit", "dollar limit partial, member pays excess", excess)
			return nodeDone, nil
		}
		remaining := r.LimitValue.Sub(r.ServiceAmount)
		r.LimitValue = &remaining
		r.ServiceAmount = decimal.Zero
		r.CalculationComplete = true
		r.trace("limit", "dollar limit covers service", remaining)
		return nodeDone, nil

	case "counter":
		remaining := r.LimitValue.Sub(decimal.NewFromInt(1))
		if remaining.IsNegative() {
			remaining = decimal.Zero
		}
		r.LimitValue = &remaining
		r.CalculationComplete = true
		r.trace("limit", "counter limit, visit consumed", remaining)
		return nodeDone, nil
	}

	return nodeDone, fmt.Errorf("unknown limit type %q", r.LimitType)
}

// runOOPMaxGate: routes to the post-OOPM copay node when any
// applicable out-of-pocket maximum is already exhausted.
func runOOPMaxGate(r *Record) nodeID {
	if !r.AccumCodes["oopmax"] {
		r.traceMsg("oopmax_gate", "no oopmax accumulator")
		return nodeDeductibleGate
	}
	if r.oopMaxMet() {
		r.traceMsg("oopmax_gate", "oopmax met")
		return nodeOOPMaxCopay
	}
	r.traceMsg("oopmax_gate", "oopmax not met")
	return nodeDeductibleGate
}

// runOOPMaxCopay: the member has met OOPM; only a continuing copay can
// still be charged. Deductible and OOPM totals are already settled and are
// not touched here.
func runOOPMaxCopay(r *Record) nodeID {
	if r.CostShareCopay.Sign() <= 0 || !r.CopayContinueWhenOOPMet {
		r.CalculationComplete = true
		r.traceMsg("oopmax_copay", "no continuing copay, no charge")
		return nodeDone
	}
	c := decimal.Min(r.CostShareCopay, r.ServiceAmount)
	r.settle(c)
	r.AmountCopay = r.AmountCopay.Add(c)
	r.CostShareCopay = r.CostShareCopay.Sub(c)
	r.CalculationComplete = true
	r.trace("oopmax_copay", "continuing copay charged", c)
	return nodeDone
}

// runDeductibleGate: decides whether the deductible still stands
// between the member and cost sharing, and in which order copay applies.
func runDeductibleGate(r *Record) nodeID {
	if !r.AccumCodes["deductible"] {
		r.traceMsg("deductible_gate", "no deductible accumulator")
		return nodePreDeductible
	}

	familyMet := r.DeductibleFamily != nil && r.DeductibleFamily.IsZero()
	embeddedMet := r.IndividualsNeeded > 0 && r.IndividualsMet == r.IndividualsNeeded
	individualMet := r.DeductibleIndividual != nil && r.DeductibleIndividual.IsZero()

	if familyMet || embeddedMet || individualMet {
		r.traceMsg("deductible_gate", "deductible met")
		return nodeCostShareRouter
	}
	if !r.IsDeductibleBeforeCopay && r.CostShareCopay.Sign() > 0 {
		r.traceMsg("deductible_gate", "copay before deductible")
		return nodeDeductibleCopay
	}
	r.traceMsg("deductible_gate", "deductible first")
	return nodeDeductibleOOPMax
}

// runDeductibleOOPMax: settles service dollars against the unmet
// deductible, flowing the payment into OOPM when the plan counts deductible
// spend toward it.
func runDeductibleOOPMax(r *Record) nodeID {
	d := r.deductibleRemaining()
	s := r.ServiceAmount

	if s.LessThan(d) {
		r.settle(s)
		r.decrementDeductibles(s)
		if r.DeductibleAppliesOOP {
			r.decrementOOPMax(s)
		}
		r.CalculationComplete = true
		r.trace("deductible_oopmax", "service within deductible, member pays all", s)
		return nodeDone
	}

	r.settle(d)
	if r.DeductibleIndividual != nil {
		zero := decimal.Zero
		r.DeductibleIndividual = &zero
	}
	decrement(&r.DeductibleFamily, d)
	if r.DeductibleAppliesOOP {
		r.decrementOOPMax(d)
	}
	r.trace("deductible_oopmax", "deductible met this claim", d)

	if r.IsDeductibleBeforeCopay {
		return nodeCostShareRouter
	}
	return nodeCoinsurance
}

// runCostShareRouter: deductible is met; route to copay when the plan
// keeps charging it, otherwise straight to coinsurance.
func runCostShareRouter(r *Record) nodeID {
	if r.CopayContinueWhenDeductibleMet && r.CostShareCopay.Sign() > 0 {
		r.traceMsg("cost_share_router", "copay continues after deductible")
		return nodeDeductibleCopay
	}
	r.traceMsg("cost_share_router", "to coinsurance")
	return nodeCoinsurance
}

// runDeductibleCopay: copay applied while a deductible is still in
// view, either copay-first ordering or copay continuing past a just-met
// deductible. The most intricate node: copay interacts with both OOPM caps
// and, when copay dollars count toward the deductible, with the deductible
// remainders themselves.
func runDeductibleCopay(r *Record) nodeID {
	copay := r.CostShareCopay
	s := r.ServiceAmount

	// (a) OOPM already exhausted: nothing more to charge here.
	if r.oopMaxMet() {
		r.CalculationComplete = true
		r.traceMsg("deductible_copay", "oopmax met, no copay")
		return nodeDone
	}

	// (b) copay does not reduce OOPM.
	if !r.CopayAppliesOOP {
		if copay.GreaterThan(s) {
			r.settle(s)
			r.AmountCopay = r.AmountCopay.Add(s)
			r.CalculationComplete = true
			r.trace("deductible_copay", "copay exceeds service, member pays service", s)
			return nodeDone
		}
		r.settle(copay)
		r.AmountCopay = r.AmountCopay.Add(copay)
		r.CostShareCopay = decimal.Zero
		r.trace("deductible_copay", "copay charged", copay)
		if r.IsDeductibleBeforeCopay {
			return nodeCoinsurance
		}
		if r.CopayCountToDeductible {
			// Deliberately mirrors the stored behavior: the copay reduces
			// the deductibles here and the deductible node then settles
			// what remains.
			r.decrementDeductibles(copay)
			r.trace("deductible_copay", "copay counted to deductible", copay)
		}
		return nodeDeductibleOOPMax
	}

	minOOP, capped := r.minOOPMax()

	// (c) copay reduces OOPM and exceeds the service amount.
	if copay.GreaterThan(s) {
		if !capped || s.LessThan(minOOP) {
			r.settle(s)
			r.AmountCopay = r.AmountCopay.Add(s)
			r.decrementOOPMax(s)
			r.CalculationComplete = true
			r.trace("deductible_copay", "copay exceeds service, member pays service", s)
			return nodeDone
		}
		r.settleToOOPMaxCap(minOOP)
		return nodeOOPMaxCopay
	}

	// (d) copay reduces OOPM and fits within the service amount.
	if capped && copay.GreaterThanOrEqual(minOOP) {
		r.settleToOOPMaxCap(minOOP)
		return nodeOOPMaxCopay
	}

	r.settle(copay)
	r.AmountCopay = r.AmountCopay.Add(copay)
	r.decrementOOPMax(copay)
	r.CostShareCopay = decimal.Zero
	r.trace("deductible_copay", "copay charged", copay)
	if r.IsDeductibleBeforeCopay {
		return nodeCoinsurance
	}
	if r.CopayCountToDeductible {
		r.decrementDeductibles(copay)
		r.trace("deductible_copay", "copay counted to deductible", copay)
	}
	return nodeDeductibleOOPMax
}

// settleToOOPMaxCap charges the member exactly the smaller applicable OOPM
// remainder, zeroes both OOPM levels, and leaves the unconsumed copay for
// the post-OOPM continuation node.
func (r *Record) settleToOOPMaxCap(minOOP decimal.Decimal) {
	r.settle(minOOP)
	r.AmountCopay = r.AmountCopay.Add(minOOP)
	zero := decimal.Zero
	if r.OOPMaxIndividual != nil {
		r.OOPMaxIndividual = &zero
	}
	if r.OOPMaxFamily != nil {
		r.OOPMaxFamily = &zero
	}
	r.CostShareCopay = r.CostShareCopay.Sub(minOOP)
	if r.CostShareCopay.IsNegative() {
		r.CostShareCopay = decimal.Zero
	}
	r.trace("deductible_copay", "copay capped at oopmax", minOOP)
}

// runSimpleCopay: copay with no deductible in the plan. Mirrors the
// copay/service split of the deductible-copay node without any deductible
// mutation. Leaves the record open only when the copay is fully consumed
// and service dollars remain for coinsurance.
func runSimpleCopay(r *Record) nodeID {
	copay := r.CostShareCopay
	s := r.ServiceAmount

	if r.oopMaxMet() {
		r.CalculationComplete = true
		r.traceMsg("simple_copay", "oopmax met, no copay")
		return nodeDone
	}

	if !r.CopayAppliesOOP {
		if copay.GreaterThan(s) {
			r.settle(s)
			r.AmountCopay = r.AmountCopay.Add(s)
			r.CalculationComplete = true
			r.trace("simple_copay", "copay exceeds service, member pays service", s)
			return nodeDone
		}
		r.settle(copay)
		r.AmountCopay = r.AmountCopay.Add(copay)
		r.CostShareCopay = decimal.Zero
		r.trace("simple_copay", "copay charged", copay)
		return nodeDone
	}

	minOOP, capped := r.minOOPMax()

	if copay.GreaterThan(s) {
		if !capped || s.LessThan(minOOP) {
			r.settle(s)
			r.AmountCopay = r.AmountCopay.Add(s)
			r.decrementOOPMax(s)
			r.CalculationComplete = true
			r.trace("simple_copay", "copay exceeds service, member pays service", s)
			return nodeDone
		}
		r.settle(minOOP)
		r.AmountCopay = r.AmountCopay.Add(minOOP)
		zero := decimal.Zero
		if r.OOPMaxIndividual != nil {
			r.OOPMaxIndividual = &zero
		}
		if r.OOPMaxFamily != nil {
			r.OOPMaxFamily = &zero
		}
		r.CostShareCopay = r.CostShareCopay.Sub(minOOP)
		r.CalculationComplete = true
		r.trace("simple_copay", "copay capped at oopmax", minOOP)
		return nodeDone
	}

	if capped && copay.GreaterThanOrEqual(minOOP) {
		r.settle(minOOP)
		r.AmountCopay = r.AmountCopay.Add(minOOP)
		zero := decimal.Zero
		if r.OOPMaxIndividual != nil {
			r.OOPMaxIndividual = &zero
		}
		if r.OOPMaxFamily != nil {
			r.OOPMaxFamily = &zero
		}
		r.CalculationComplete = true
		r.trace("simple_copay", "copay capped at oopmax", minOOP)
		return nodeDone
	}

	r.settle(copay)
	r.AmountCopay = r.AmountCopay.Add(copay)
	r.decrementOOPMax(copay)
	r.CostShareCopay = decimal.Zero
	r.trace("simple_copay", "copay charged", copay)
	return nodeDone
}

// runPreDeductible: composite cost-share for plans with no deductible
// accumulator. Runs the simple copay first, then coinsurance on the
// residual; with neither configured, the member owes nothing.
func runPreDeductible(r *Record) nodeID {
	r.traceMsg("pre_deductible", "no deductible in plan")
	if r.CostShareCopay.Sign() > 0 {
		runSimpleCopay(r)
		if r.CalculationComplete {
			return nodeDone
		}
	}
	if r.CostShareCoinsurance > 0 {
		return nodeCoinsurance
	}
	r.CalculationComplete = true
	r.traceMsg("pre_deductible", "no cost share configured")
	return nodeDone
}

// runCoinsurance: percentage cost share, capped at the remaining OOPM.
// When OOPM is already met this node re-anchors member pay to zero, the
// "100% covered after OOPM" rule.
func runCoinsurance(r *Record) nodeID {
	p := r.CostShareCoinsurance
	if p <= 0 {
		r.CalculationComplete = true
		r.traceMsg("coinsurance", "no coinsurance")
		return nodeDone
	}

	c := r.ServiceAmount.Mul(decimal.NewFromInt(p)).Div(decimal.NewFromInt(100)).Round(2)

	if !r.CoinsuranceAppliesOOP {
		r.settle(c)
		r.AmountCoinsurance = c
		r.CalculationComplete = true
		r.trace("coinsurance", "coinsurance charged", c)
		return nodeDone
	}

	if r.oopMaxMet() {
		r.MemberPays = decimal.Zero
		r.CalculationComplete = true
		r.traceMsg("coinsurance", "oopmax met, member pay re-anchored to zero")
		return nodeDone
	}

	minOOP, capped := r.minOOPMax()
	if !capped || c.LessThan(minOOP) {
		r.settle(c)
		r.decrementOOPMax(c)
		r.AmountCoinsurance = c
		r.CalculationComplete = true
		r.trace("coinsurance", "coinsurance charged", c)
		return nodeDone
	}

	r.settle(minOOP)
	zero := decimal.Zero
	if r.OOPMaxIndividual != nil {
		r.OOPMaxIndividual = &zero
	}
	if r.OOPMaxFamily != nil {
		r.OOPMaxFamily = &zero
	}
	r.AmountCoinsurance = minOOP
	r.CalculationComplete = true
	r.trace("coinsurance", "coinsurance capped at oopmax", minOOP)
	return nodeDone
}
