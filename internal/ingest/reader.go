// Package ingest turns uploaded transaction tables into validated datasets.
//
// Headers are matched to semantic columns by pattern, so inputs exported
// by different banks can be read without a fixed schema. Unparseable
// amounts and timestamps degrade to NaN and null and are counted rather
// than rejected.
package ingest

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/opensource-finance/ringwatch/internal/domain"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// candidateDelimiters are the separators the sniffer chooses between.
var candidateDelimiters = []rune{',', ';', '\t', '|'}

// IsCSV reports whether name has a .csv extension, case-insensitively.
func IsCSV(name string) bool {
	return strings.HasSuffix(strings.ToLower(name), ".csv")
}

// ReadFile loads and parses a CSV file from disk.
func ReadFile(path string) (*domain.Dataset, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return Parse(filepath.Base(path), content)
}

// Parse decodes content and builds a dataset named name. The returned error
// is a *domain.SchemaValidationError when a required column is missing.
func Parse(name string, content []byte) (*domain.Dataset, error) {
	text := Decode(content)
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("%s: %w", name, domain.ErrEmptyInput)
	}

	r := csv.NewReader(strings.NewReader(text))
	r.Comma = SniffDelimiter(text)
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	headers, err := r.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%s: %w", name, domain.ErrEmptyInput)
		}
		return nil, fmt.Errorf("failed to read header of %s: %w", name, err)
	}

	cols, err := MatchColumns(headers)
	if err != nil {
		return nil, err
	}

	ds := &domain.Dataset{
		Name:      name,
		HasLabels: cols.Label >= 0,
	}

	for {
		record, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", name, err)
		}

		amount, ok := ParseAmount(field(record, cols.Amount))
		if !ok {
			ds.Coercion.InvalidAmounts++
		}
		ts, ok := ParseTimestamp(field(record, cols.Timestamp))
		if !ok {
			ds.Coercion.InvalidTimestamps++
		}

		tx := domain.Transaction{
			ID:         strings.TrimSpace(field(record, cols.TransactionID)),
			SenderID:   strings.TrimSpace(field(record, cols.SenderID)),
			ReceiverID: strings.TrimSpace(field(record, cols.ReceiverID)),
			Amount:     amount,
			Timestamp:  ts,
		}
		if ds.HasLabels {
			tx.IsFraud = ParseLabel(field(record, cols.Label))
		}
		ds.Transactions = append(ds.Transactions, tx)
	}

	return ds, nil
}

// Decode returns content as text. Invalid UTF-8 is read as Latin-1.
// A leading byte order mark is dropped.
func Decode(content []byte) string {
	content = bytes.TrimPrefix(content, utf8BOM)
	if utf8.Valid(content) {
		return string(content)
	}

	var b strings.Builder
	b.Grow(len(content))
	for _, c := range content {
		b.WriteRune(rune(c))
	}
	return b.String()
}

// SniffDelimiter picks the candidate separator that occurs most often
// outside quotes on the first line. It defaults to a comma.
func SniffDelimiter(text string) rune {
	line := text
	if i := strings.IndexAny(text, "\r\n"); i >= 0 {
		line = text[:i]
	}

	counts := make(map[rune]int, len(candidateDelimiters))
	quoted := false
	for _, c := range line {
		if c == '"' {
			quoted = !quoted
			continue
		}
		if !quoted {
			counts[c]++
		}
	}

	best, bestCount := ',', 0
	for _, d := range candidateDelimiters {
		if counts[d] > bestCount {
			best, bestCount = d, counts[d]
		}
	}
	return best
}

func field(record []string, i int) string {
	if i < 0 || i >= len(record) {
		return ""
	}
	return record[i]
}
