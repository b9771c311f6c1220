package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/shopspring/decimal"

	"github.com/carecost/carecost/internal/metrics"
)

// AuditEntry is one winning calculation persisted for later review. The
// trace is stored as JSON so support can replay the decision path.
type AuditEntry struct {
	Timestamp    time.Time
	RequestID    string
	MembershipID string
	ServiceCode  string
	ProviderID   string
	BenefitName  string
	Rate         decimal.Decimal
	MemberPays   decimal.Decimal
	Trace        any
}

// AuditRecorder queues audit rows onto the async writer. Recording never
// blocks an estimate response.
type AuditRecorder struct {
	writer *Writer
}

func NewAuditRecorder(writer *Writer) *AuditRecorder {
	return &AuditRecorder{writer: writer}
}

// Record enqueues one audit row. Dropped rows are counted by the writer.
func (r *AuditRecorder) Record(e AuditEntry) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	traceJSON, err := json.Marshal(e.Trace)
	if err != nil {
		traceJSON = []byte("[]")
	}
	r.writer.Enqueue(func(db *sql.DB) {
		_, err := db.Exec(
			`INSERT INTO estimate_audit
				(timestamp, request_id, membership_id, service_code, provider_id, benefit_name, rate, member_pays, trace)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			e.Timestamp.Format(time.RFC3339), e.RequestID, e.MembershipID,
			e.ServiceCode, e.ProviderID, e.BenefitName,
			e.Rate.String(), e.MemberPays.String(), string(traceJSON),
		)
		if err != nil {
			fmt.Fprintf(os.Stderr, "store: audit insert failed: %v\n", err)
			return
		}
		metrics.AuditWritesTotal.Inc()
	})
}

// RecentEntries returns the newest audit rows for one member, newest first.
func (d *DB) RecentEntries(membershipID string, limit int) ([]AuditEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := d.db.Query(
		`SELECT timestamp, request_id, membership_id, service_code, provider_id, benefit_name, rate, member_pays
		 FROM estimate_audit WHERE membership_id = ? ORDER BY timestamp DESC LIMIT ?`,
		membershipID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying estimate_audit: %w", err)
	}
	defer rows.Close()

	var out []AuditEntry
	for rows.Next() {
		var e AuditEntry
		var ts, rate, pays string
		if err := rows.Scan(&ts, &e.RequestID, &e.MembershipID, &e.ServiceCode,
			&e.ProviderID, &e.BenefitName, &rate, &pays); err != nil {
			return nil, err
		}
		e.Timestamp, _ = time.Parse(time.RFC3339, ts)
		e.Rate, _ = decimal.NewFromString(rate)
		e.MemberPays, _ = decimal.NewFromString(pays)
		out = append(out, e)
	}
	return out, rows.Err()
}
