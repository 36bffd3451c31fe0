package ingest

import (
	"regexp"
	"strings"

	"github.com/opensource-finance/ringwatch/internal/domain"
)

// Semantic column names every input table must provide.
const (
	ColTransactionID = "transaction_id"
	ColSenderID      = "sender_id"
	ColReceiverID    = "receiver_id"
	ColAmount        = "amount"
	ColTimestamp     = "timestamp"
)

type columnPattern struct {
	name string
	re   *regexp.Regexp
}

// columnPatterns are tried in this order. Each semantic column takes the
// first header, in table order, that its pattern matches anywhere.
var columnPatterns = []columnPattern{
	{ColTransactionID, regexp.MustCompile(`(?i)(txn|trans|transaction).*(id|no|number|ref)?`)},
	{ColSenderID, regexp.MustCompile(`(?i)(sender|from|debitor|source|paid.{0,3}by)`)},
	{ColReceiverID, regexp.MustCompile(`(?i)(receiver|to|creditor|destination|beneficiary|paid.{0,3}to)`)},
	{ColAmount, regexp.MustCompile(`(?i)(amount|amt|money|value|rs|inr|debit|credit)`)},
	{ColTimestamp, regexp.MustCompile(`(?i)(date|time|timestamp|datetime|transaction.{0,3}date)`)},
}

// labelHeaders are the accepted ground-truth label column names.
var labelHeaders = map[string]bool{
	"is_fraud":    true,
	"isfraud":     true,
	"fraud_label": true,
	"label":       true,
}

// ColumnMap holds header indexes for each semantic column. Label is -1
// when the table has no label column.
type ColumnMap struct {
	TransactionID int
	SenderID      int
	ReceiverID    int
	Amount        int
	Timestamp     int
	Label         int
}

// MatchColumns maps raw headers to semantic columns. A missing required
// column yields a *domain.SchemaValidationError naming it.
func MatchColumns(headers []string) (ColumnMap, error) {
	found := make(map[string]int, len(columnPatterns))
	for _, p := range columnPatterns {
		idx := -1
		for i, h := range headers {
			if p.re.MatchString(h) {
				idx = i
				break
			}
		}
		if idx < 0 {
			return ColumnMap{}, &domain.SchemaValidationError{Column: p.name}
		}
		found[p.name] = idx
	}

	cm := ColumnMap{
		TransactionID: found[ColTransactionID],
		SenderID:      found[ColSenderID],
		ReceiverID:    found[ColReceiverID],
		Amount:        found[ColAmount],
		Timestamp:     found[ColTimestamp],
		Label:         -1,
	}
	for i, h := range headers {
		if labelHeaders[normalizeHeader(h)] {
			cm.Label = i
			break
		}
	}
	return cm, nil
}

// normalizeHeader lowercases and trims a header and drops any BOM.
func normalizeHeader(h string) string {
	h = strings.ReplaceAll(h, "\ufeff", "")
	return strings.ToLower(strings.TrimSpace(h))
}
