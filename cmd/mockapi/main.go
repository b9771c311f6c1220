// mockapi is a standalone stand-in for the upstream benefit and accumulator
// services plus their shared OAuth token endpoint. It serves canned data for
// a handful of members so the estimator can run end to end without network
// access to the real sources.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"strings"
	"time"
)

var (
	failPct  = flag.Float64("fail-pct", 0, "Fraction of requests answered with 503 (0..1)")
	slowMs   = flag.Int("slow-ms", 0, "Added latency per request in milliseconds")
	tokenTTL = flag.Int("token-ttl", 3600, "Token lifetime in seconds")
)

const authToken = "mock-token-carecost"

func main() {
	port := flag.Int("port", 9090, "Mock API port")
	flag.Parse()

	mux := http.NewServeMux()
	mux.HandleFunc("/token", tokenHandler)
	mux.HandleFunc("/benefits", authed(benefitsHandler))
	mux.HandleFunc("/accumulators/", authed(accumulatorsHandler))

	addr := fmt.Sprintf(":%d", *port)
	log.Printf("Mock CareCost sources on %s", addr)
	log.Fatal(http.ListenAndServe(addr, chaosMiddleware(mux)))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// chaosMiddleware injects the configured latency and failure rate so retry
// and breaker behavior can be exercised locally. The token endpoint is
// exempt so auth never becomes the flaky part.
func chaosMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if *slowMs > 0 {
			time.Sleep(time.Duration(*slowMs) * time.Millisecond)
		}
		if *failPct > 0 && r.URL.Path != "/token" && rand.Float64() < *failPct {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "simulated outage"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func authed(fn http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		got := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if got != authToken {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid or expired token"})
			return
		}
		fn(w, r)
	}
}

// ── Token ──

func tokenHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "POST required"})
		return
	}
	if err := r.ParseForm(); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_request"})
		return
	}
	if r.PostForm.Get("grant_type") != "client_credentials" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unsupported_grant_type"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"access_token": authToken,
		"token_type":   "Bearer",
		"expires_in":   *tokenTTL,
	})
}

// ── Benefits ──

func benefitsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "POST required"})
		return
	}
	var q struct {
		MembershipID string `json:"membershipId"`
		ServiceCode  string `json:"serviceCode"`
		ProviderTier string `json:"providerTier"`
		NetworkID    string `json:"networkID"`
	}
	if err := json.NewDecoder(r.Body).Decode(&q); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "malformed query"})
		return
	}
	if q.MembershipID == "" || q.ServiceCode == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "membershipId and serviceCode are required"})
		return
	}

	// Unknown service codes get an empty catalog, which is a valid answer.
	if q.ServiceCode == "00000" {
		writeJSON(w, http.StatusOK, map[string]any{"benefits": []any{}})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"benefits": benefitCatalog(q.ProviderTier)})
}

func benefitCatalog(tier string) []map[string]any {
	benefits := []map[string]any{
		{
			"benefitName":                  "Office Visit In-Network",
			"networkCategory":              "InNetwork",
			"benefitTier":                  "",
			"isServiceCovered":             true,
			"costShareCopay":               "30",
			"costShareCoinsurance":         "0",
			"isDeductibleBeforeCopay":      false,
			"copayAppliesOutOfPocket":      true,
			"deductibleAppliesOutOfPocket": true,
			"serviceProvider":              []map[string]any{},
			"relatedAccumulators": []map[string]any{
				{"code": "OOP Max", "level": "Individual", "networkIndicatorCode": "InNetwork"},
				{"code": "OOP Max", "level": "Family", "networkIndicatorCode": "InNetwork"},
			},
		},
		{
			"benefitName":             "Office Visit PCP",
			"networkCategory":         "InNetwork",
			"benefitTier":             "",
			"isServiceCovered":        true,
			"costShareCopay":          "10",
			"costShareCoinsurance":    "0",
			"copayAppliesOutOfPocket": true,
			"serviceProvider":         []map[string]any{{"providerDesignation": "PCP"}},
			"relatedAccumulators": []map[string]any{
				{"code": "OOP Max", "level": "Individual", "networkIndicatorCode": "InNetwork"},
			},
		},
		{
			"benefitName":                   "Office Visit Coinsurance",
			"networkCategory":               "InNetwork",
			"benefitTier":                   "",
			"isServiceCovered":              true,
			"costShareCopay":                "0",
			"costShareCoinsurance":          "20",
			"isDeductibleBeforeCopay":       true,
			"coinsuranceAppliesOutOfPocket": true,
			"deductibleAppliesOutOfPocket":  true,
			"serviceProvider":               []map[string]any{},
			"relatedAccumulators": []map[string]any{
				{"code": "Deductible", "level": "Individual", "deductibleCode": "", "networkIndicatorCode": "InNetwork"},
				{"code": "OOP Max", "level": "Individual", "networkIndicatorCode": "InNetwork"},
			},
		},
		{
			"benefitName":                   "Office Visit Out-of-Network",
			"networkCategory":               "OutOfNetwork",
			"benefitTier":                   "",
			"isServiceCovered":              true,
			"costShareCopay":                "0",
			"costShareCoinsurance":          "40",
			"isDeductibleBeforeCopay":       true,
			"coinsuranceAppliesOutOfPocket": true,
			"deductibleAppliesOutOfPocket":  true,
			"serviceProvider":               []map[string]any{},
			"relatedAccumulators": []map[string]any{
				{"code": "Deductible", "level": "Individual", "deductibleCode": "", "networkIndicatorCode": "OutOfNetwork"},
				{"code": "OOP Max", "level": "Individual", "networkIndicatorCode": "OutOfNetwork"},
			},
		},
	}
	if tier != "" {
		benefits = append(benefits, map[string]any{
			"benefitName":             "Office Visit Tiered",
			"networkCategory":         "InNetwork",
			"benefitTier":             tier,
			"isServiceCovered":        true,
			"costShareCopay":          "20",
			"costShareCoinsurance":    "0",
			"copayAppliesOutOfPocket": true,
			"serviceProvider":         []map[string]any{},
			"relatedAccumulators": []map[string]any{
				{"code": "OOP Max", "level": "Individual", "networkIndicatorCode": "InNetwork"},
			},
		})
	}
	return benefits
}

// ── Accumulators ──

var memberAccumulators = map[string][]map[string]any{
	// Fresh plan year: nothing met.
	"M1001": {
		accum("Deductible", "Individual", 1500, 0),
		accum("Deductible", "Family", 3000, 250),
		accum("OOP Max", "Individual", 5000, 0),
		accum("OOP Max", "Family", 10000, 250),
	},
	// Deductible met, OOP max close.
	"M1002": {
		accum("Deductible", "Individual", 1500, 1500),
		accum("OOP Max", "Individual", 5000, 4920),
	},
	// Everything exhausted.
	"M1003": {
		accum("Deductible", "Individual", 1500, 1500),
		accum("OOP Max", "Individual", 5000, 5000),
	},
	// No accumulators on file: valid empty bundle.
	"M1004": {},
}

func accum(code, level string, limit, current float64) map[string]any {
	calc := limit - current
	if calc < 0 {
		calc = 0
	}
	return map[string]any{
		"code":                 code,
		"level":                level,
		"deductibleCode":       nil,
		"accumExCode":          nil,
		"networkIndicatorCode": "InNetwork",
		"limitValue":           limit,
		"currentValue":         current,
		"calculatedValue":      calc,
	}
}

func accumulatorsHandler(w http.ResponseWriter, r *http.Request) {
	membershipID := strings.TrimPrefix(r.URL.Path, "/accumulators/")
	if membershipID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "membershipId is required"})
		return
	}
	accums, ok := memberAccumulators[membershipID]
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "member not found"})
		return
	}
	if accums == nil {
		accums = []map[string]any{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"membershipId": membershipID,
		"accumulators": accums,
	})
}
