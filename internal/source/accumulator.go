package source

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/carecost/carecost/pkg/plan"
)

// AccumulatorSource fetches a member's running accumulator totals.
type AccumulatorSource struct {
	client  *Client
	baseURL string
}

func NewAccumulatorSource(client *Client, baseURL string) *AccumulatorSource {
	return &AccumulatorSource{client: client, baseURL: baseURL}
}

// Fetch returns the accumulator bundle for one member. An unknown member is
// ErrMemberNotFound; a member with no accumulators is a valid empty bundle.
func (s *AccumulatorSource) Fetch(ctx context.Context, membershipID string) (plan.AccumulatorBundle, error) {
	if membershipID == "" {
		return plan.AccumulatorBundle{}, fmt.Errorf("empty membership id: %w", ErrMemberNotFound)
	}

	reqURL := s.baseURL + "/accumulators/" + url.PathEscape(membershipID)
	resp, err := s.client.Do(ctx, "accumulator", http.MethodGet, reqURL, nil)
	if err != nil {
		return plan.AccumulatorBundle{}, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return plan.AccumulatorBundle{}, fmt.Errorf("member %s: %w", membershipID, ErrMemberNotFound)
	default:
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return plan.AccumulatorBundle{}, fmt.Errorf("accumulator source returned status %d: %s", resp.StatusCode, string(b))
	}

	var bundle plan.AccumulatorBundle
	if err := json.NewDecoder(resp.Body).Decode(&bundle); err != nil {
		return plan.AccumulatorBundle{}, fmt.Errorf("decoding accumulator response: %w", err)
	}
	return bundle, nil
}
