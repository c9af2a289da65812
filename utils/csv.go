package utils

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"time"

	"github.com/memberly/memberly_backend/models"
)

// BuildPayoutBatchCSV renders a settled (or pending) payout batch as CSV.
// Pure function over already-loaded data: quoting follows standard CSV rules
// (fields containing commas, quotes or newlines are quote-wrapped, internal
// quotes doubled), money is cents rendered as a two-decimal amount.
func BuildPayoutBatchCSV(batch *models.PayoutBatch, referrals []models.Referral) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	header := []string{"referralId", "referredName", "referredEmail", "signedUpAt", "qualifiedAt", "amount", "currency", "status", "paidAt"}
	if err := w.Write(header); err != nil {
		return nil, fmt.Errorf("failed to write csv header: %w", err)
	}

	for _, r := range referrals {
		record := []string{
			r.ID.Hex(),
			r.ReferredName,
			r.ReferredEmail,
			formatCSVTime(r.SignedUpAt),
			formatCSVTime(r.QualifiedAt),
			FormatCents(r.CommissionAmountCents),
			r.Currency,
			string(r.Status),
			formatCSVTime(r.PaidAt),
		}
		if err := w.Write(record); err != nil {
			return nil, fmt.Errorf("failed to write csv row: %w", err)
		}
	}

	total := []string{"", "", "", "", "total", FormatCents(batch.TotalAmountCents), batch.Currency, string(batch.Status), formatCSVTime(batch.PaidAt)}
	if err := w.Write(total); err != nil {
		return nil, fmt.Errorf("failed to write csv total: %w", err)
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("failed to flush csv: %w", err)
	}
	return buf.Bytes(), nil
}

// FormatCents renders an integer cents amount as a fixed two-decimal string.
func FormatCents(cents int64) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	return fmt.Sprintf("%s%d.%02d", sign, cents/100, cents%100)
}

func formatCSVTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
