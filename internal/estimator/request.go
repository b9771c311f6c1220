package estimator

import (
	"strings"

	"github.com/shopspring/decimal"

	"github.com/carecost/carecost/pkg/plan"
)

// EstimateRequest is the inbound estimate request.
type EstimateRequest struct {
	MembershipID       string         `json:"membershipId"`
	ZipCode            string         `json:"zipCode"`
	BenefitProductType string         `json:"benefitProductType"`
	LanguageCode       string         `json:"languageCode"`
	Service            ServiceInfo    `json:"service"`
	ProviderInfo       []ProviderInfo `json:"providerInfo"`
}

// ServiceInfo identifies the service being estimated and is echoed back in
// the response.
type ServiceInfo struct {
	Code           string         `json:"code"`
	Type           string         `json:"type"`
	Description    string         `json:"description,omitempty"`
	PlaceOfService PlaceOfService `json:"placeOfService"`

	// BilledAmount scales percentage-type negotiated rates. Optional;
	// dollar rates ignore it.
	BilledAmount decimal.Decimal `json:"billedAmount,omitempty"`
}

type PlaceOfService struct {
	Code string `json:"code"`
}

// ProviderInfo is one candidate provider in the inbound request.
type ProviderInfo struct {
	ServiceLocation              string               `json:"serviceLocation"`
	ProviderType                 string               `json:"providerType"`
	Specialty                    Specialty            `json:"specialty"`
	ProviderNetworks             ProviderNetworks     `json:"providerNetworks"`
	ProviderIdentificationNumber string               `json:"providerIdentificationNumber"`
	ProviderNetworkParticipation NetworkParticipation `json:"providerNetworkParticipation"`
}

type Specialty struct {
	Code string `json:"code"`
}

type ProviderNetworks struct {
	NetworkID string `json:"networkID"`
}

type NetworkParticipation struct {
	ProviderTier string `json:"providerTier,omitempty"`
}

// OutOfNetwork: a provider carrying no network id is treated as out of
// network.
func (p *ProviderInfo) OutOfNetwork() bool {
	return p.ProviderNetworks.NetworkID == ""
}

// Key is the deterministic provider hash used to deduplicate source
// queries across providers that would receive identical answers.
func (p *ProviderInfo) Key(zip string) string {
	return strings.Join([]string{
		zip,
		p.Specialty.Code,
		p.ProviderNetworks.NetworkID,
		p.ProviderIdentificationNumber,
	}, "|")
}

// ToPlanProvider converts the request shape into the matcher's provider.
func (p *ProviderInfo) ToPlanProvider() plan.Provider {
	return plan.Provider{
		ID:              p.ProviderIdentificationNumber,
		SpecialtyCode:   p.Specialty.Code,
		Tier:            p.ProviderNetworkParticipation.ProviderTier,
		NetworkID:       p.ProviderNetworks.NetworkID,
		ServiceLocation: p.ServiceLocation,
		ProviderType:    p.ProviderType,
	}
}

// Validate enforces the minimum shape an estimate needs.
func (r *EstimateRequest) Validate() error {
	if r.MembershipID == "" {
		return E(KindRequestInvalid, nil, "membershipId is required")
	}
	if r.Service.Code == "" {
		return E(KindRequestInvalid, nil, "service.code is required")
	}
	if len(r.ProviderInfo) == 0 {
		return E(KindRequestInvalid, nil, "providerInfo must contain at least one provider")
	}
	for i := range r.ProviderInfo {
		if r.ProviderInfo[i].ProviderIdentificationNumber == "" {
			return E(KindRequestInvalid, nil, "providerInfo[%d].providerIdentificationNumber is required", i)
		}
	}
	return nil
}

// EstimateResponse is the outbound shape: the echoed service plus one entry
// per requested provider, aligned by index.
type EstimateResponse struct {
	Service      ServiceInfo    `json:"service"`
	CostEstimate []CostEstimate `json:"costEstimate"`
}

// CostEstimate is one provider's slot: either the success fields or an
// exception, never both.
type CostEstimate struct {
	ProviderInfo ProviderInfo          `json:"providerInfo"`
	Coverage     *Coverage             `json:"coverage,omitempty"`
	Cost         *Cost                 `json:"cost,omitempty"`
	HealthClaim  *HealthClaimLine      `json:"healthClaimLine,omitempty"`
	Accumulators []AccumulatorOutcome  `json:"accumulators,omitempty"`
	Exception    *Exception            `json:"exception,omitempty"`
}

type Coverage struct {
	IsServiceCovered     bool            `json:"isServiceCovered"`
	CostShareCopay       decimal.Decimal `json:"costShareCopay"`
	CostShareCoinsurance decimal.Decimal `json:"costShareCoinsurance"`
	BenefitName          string          `json:"benefitName,omitempty"`
}

type Cost struct {
	InNetworkCosts     decimal.Decimal `json:"inNetworkCosts"`
	InNetworkCostsType string          `json:"inNetworkCostsType"`
}

type HealthClaimLine struct {
	AmountCopay           decimal.Decimal `json:"amountCopay"`
	AmountCoinsurance     decimal.Decimal `json:"amountCoinsurance"`
	AmountResponsibility  decimal.Decimal `json:"amountResponsibility"`
	PercentResponsibility decimal.Decimal `json:"percentResponsibility"`
	AmountPayable         decimal.Decimal `json:"amountPayable"`
}

// AccumulatorOutcome pairs one bound accumulator with its post-claim state.
type AccumulatorOutcome struct {
	Accumulator plan.Accumulator       `json:"accumulator"`
	Calculation AccumulatorCalculation `json:"accumulatorCalculation"`
}

type AccumulatorCalculation struct {
	RemainingValue decimal.Decimal `json:"remainingValue"`
	AppliedValue   decimal.Decimal `json:"appliedValue"`
}

type Exception struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
