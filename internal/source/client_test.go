package source

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/carecost/carecost/internal/state"
)

// newTokenServer serves client-credentials tokens, handing out a new token
// on every fetch so tests can observe refreshes.
func newTokenServer(t *testing.T) (*httptest.Server, *atomic.Int64) {
	t.Helper()
	var fetches atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := fetches.Add(1)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"access_token":"tok-%d","token_type":"Bearer","expires_in":3600}`, n)
	}))
	t.Cleanup(srv.Close)
	return srv, &fetches
}

func fastOptions() ClientOptions {
	return ClientOptions{
		Timeout:    2 * time.Second,
		MaxRetries: 3,
		BaseDelay:  time.Millisecond,
		MaxDelay:   5 * time.Millisecond,
	}
}

func newTestClient(t *testing.T, breaker *state.CircuitBreaker) (*Client, *atomic.Int64) {
	tokenSrv, fetches := newTokenServer(t)
	tokens := NewTokenManager(tokenSrv.URL, "id", "secret", nil, time.Hour)
	return NewClient(tokens, breaker, fastOptions()), fetches
}

func TestClient_RefreshesTokenOn401(t *testing.T) {
	client, fetches := newTestClient(t, nil)

	var attempts atomic.Int64
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		if r.Header.Get("Authorization") == "Bearer tok-1" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer upstream.Close()

	resp, err := client.Do(context.Background(), "benefit", http.MethodGet, upstream.URL, nil)
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	resp.Body.Close()

	if got := attempts.Load(); got != 2 {
		t.Errorf("upstream attempts = %d, want 2 (401 then success)", got)
	}
	if got := fetches.Load(); got != 2 {
		t.Errorf("token fetches = %d, want 2 (initial plus refresh)", got)
	}
}

func TestClient_SecondUnauthorizedGivesUp(t *testing.T) {
	client, _ := newTestClient(t, nil)

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer upstream.Close()

	_, err := client.Do(context.Background(), "benefit", http.MethodGet, upstream.URL, nil)
	if !errors.Is(err, ErrAuthExpired) {
		t.Errorf("Do() error = %v, want ErrAuthExpired", err)
	}
}

func TestClient_RetriesTransientFailures(t *testing.T) {
	client, _ := newTestClient(t, nil)

	var attempts atomic.Int64
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) <= 2 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer upstream.Close()

	resp, err := client.Do(context.Background(), "benefit", http.MethodGet, upstream.URL, nil)
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	resp.Body.Close()

	if got := attempts.Load(); got != 3 {
		t.Errorf("upstream attempts = %d, want 3", got)
	}
}

func TestClient_ExhaustedRetries(t *testing.T) {
	client, _ := newTestClient(t, nil)

	var attempts atomic.Int64
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer upstream.Close()

	_, err := client.Do(context.Background(), "benefit", http.MethodGet, upstream.URL, nil)
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("Do() error = %v, want ErrUnavailable", err)
	}
	if got := attempts.Load(); got != 4 {
		t.Errorf("upstream attempts = %d, want 4 (initial plus 3 retries)", got)
	}
}

func TestClient_ReplaysBodyOnRetry(t *testing.T) {
	client, _ := newTestClient(t, nil)

	var attempts atomic.Int64
	var lastBody atomic.Value
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		buf := make([]byte, 64)
		n, _ := r.Body.Read(buf)
		lastBody.Store(string(buf[:n]))
		if attempts.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer upstream.Close()

	resp, err := client.Do(context.Background(), "benefit", http.MethodPost, upstream.URL, strings.NewReader(`{"q":1}`))
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	resp.Body.Close()

	if got := lastBody.Load(); got != `{"q":1}` {
		t.Errorf("retried request body = %q, want %q", got, `{"q":1}`)
	}
}

func TestClient_OpenBreakerShortCircuits(t *testing.T) {
	breaker := state.NewCircuitBreaker(0.5, time.Minute)
	for i := 0; i < 5; i++ {
		breaker.RecordFailure("benefit")
	}
	if !breaker.IsTripped("benefit") {
		t.Fatal("breaker not tripped after five failures")
	}

	client, _ := newTestClient(t, breaker)

	var attempts atomic.Int64
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
	}))
	defer upstream.Close()

	_, err := client.Do(context.Background(), "benefit", http.MethodGet, upstream.URL, nil)
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("Do() error = %v, want ErrUnavailable with open breaker", err)
	}
	if got := attempts.Load(); got != 0 {
		t.Errorf("upstream attempts = %d, want 0 (short-circuited)", got)
	}
}

func TestTokenManager_ReusesTokenUntilInvalidated(t *testing.T) {
	tokenSrv, fetches := newTokenServer(t)
	tokens := NewTokenManager(tokenSrv.URL, "id", "secret", nil, time.Hour)

	for i := 0; i < 3; i++ {
		if _, err := tokens.Token(context.Background()); err != nil {
			t.Fatalf("Token() error = %v", err)
		}
	}
	if got := fetches.Load(); got != 1 {
		t.Errorf("token fetches = %d, want 1 (reuse within TTL)", got)
	}

	tokens.Invalidate()
	tok, err := tokens.Token(context.Background())
	if err != nil {
		t.Fatalf("Token() error = %v", err)
	}
	if tok != "tok-2" {
		t.Errorf("token after Invalidate = %q, want %q", tok, "tok-2")
	}
}

func TestBenefitSource_Fetch(t *testing.T) {
	client, _ := newTestClient(t, nil)

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/benefits" || r.Method != http.MethodPost {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"benefits":[{"benefitName":"office visit","networkCategory":"InNetwork","isServiceCovered":true}]}`)
	}))
	defer upstream.Close()

	catalog, err := NewBenefitSource(client, upstream.URL).Fetch(context.Background(), BenefitQuery{
		MembershipID: "M1001",
		ServiceCode:  "99213",
	})
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if len(catalog.Benefits) != 1 {
		t.Fatalf("len(Benefits) = %d, want 1", len(catalog.Benefits))
	}
	if catalog.Benefits[0].Name != "office visit" {
		t.Errorf("Benefits[0].Name = %q, want %q", catalog.Benefits[0].Name, "office visit")
	}
}

func TestAccumulatorSource_Fetch(t *testing.T) {
	client, _ := newTestClient(t, nil)

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/accumulators/M1001":
			w.Header().Set("Content-Type", "application/json")
			fmt.Fprint(w, `{"membershipId":"M1001","accumulators":[{"code":"Deductible","level":"Individual","calculatedValue":"1500"}]}`)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer upstream.Close()

	src := NewAccumulatorSource(client, upstream.URL)

	bundle, err := src.Fetch(context.Background(), "M1001")
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if bundle.MembershipID != "M1001" || len(bundle.Accumulators) != 1 {
		t.Errorf("bundle = %+v, want M1001 with one accumulator", bundle)
	}

	_, err = src.Fetch(context.Background(), "UNKNOWN")
	if !errors.Is(err, ErrMemberNotFound) {
		t.Errorf("Fetch(UNKNOWN) error = %v, want ErrMemberNotFound", err)
	}

	_, err = src.Fetch(context.Background(), "")
	if !errors.Is(err, ErrMemberNotFound) {
		t.Errorf("Fetch(\"\") error = %v, want ErrMemberNotFound", err)
	}
}
