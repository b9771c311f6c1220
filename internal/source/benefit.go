package source

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/carecost/carecost/pkg/plan"
)

// BenefitQuery identifies one benefit catalog fetch: the member's plan plus
// the provider attributes that scope which benefits can apply.
type BenefitQuery struct {
	MembershipID    string `json:"membershipId"`
	PlanID          string `json:"planId"`
	ServiceCode     string `json:"serviceCode"`
	PlaceOfService  string `json:"placeOfService"`
	ProviderID      string `json:"providerIdentificationNumber"`
	NetworkID       string `json:"networkID"`
	ProviderTier    string `json:"providerTier"`
	NetworkCategory string `json:"networkCategory"`
}

// BenefitSource fetches benefit catalogs from the upstream benefit service.
type BenefitSource struct {
	client  *Client
	baseURL string
}

func NewBenefitSource(client *Client, baseURL string) *BenefitSource {
	return &BenefitSource{client: client, baseURL: baseURL}
}

// Fetch returns the benefit catalog for one provider query. An empty
// catalog is a valid answer; transport failures wrap ErrUnavailable.
func (s *BenefitSource) Fetch(ctx context.Context, q BenefitQuery) (plan.BenefitCatalog, error) {
	body, err := json.Marshal(q)
	if err != nil {
		return plan.BenefitCatalog{}, fmt.Errorf("encoding benefit query: %w", err)
	}

	resp, err := s.client.Do(ctx, "benefit", http.MethodPost, s.baseURL+"/benefits", bytes.NewReader(body))
	if err != nil {
		return plan.BenefitCatalog{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return plan.BenefitCatalog{}, fmt.Errorf("benefit source returned status %d: %s", resp.StatusCode, string(b))
	}

	var catalog plan.BenefitCatalog
	if err := json.NewDecoder(resp.Body).Decode(&catalog); err != nil {
		return plan.BenefitCatalog{}, fmt.Errorf("decoding benefit response: %w", err)
	}
	return catalog, nil
}
