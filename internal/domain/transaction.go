package domain

import (
	"time"
)

// Transaction is one cleaned row of an uploaded transaction table.
type Transaction struct {
	ID         string `json:"transaction_id"`
	SenderID   string `json:"sender_id"`
	ReceiverID string `json:"receiver_id"`

	// Amount is NaN when the source value could not be coerced.
	Amount float64 `json:"amount"`

	// Timestamp is the zero time when the source value could not be parsed.
	Timestamp time.Time `json:"timestamp"`

	// IsFraud is the ground-truth label (0 or 1). Only meaningful when
	// the owning Dataset has labels.
	IsFraud int `json:"is_fraud,omitempty"`
}

// HasTimestamp reports whether the row carries a parsed timestamp.
func (t Transaction) HasTimestamp() bool {
	return !t.Timestamp.IsZero()
}

// Dataset is a validated transaction table ready for analysis.
type Dataset struct {
	// Name identifies the source (usually the uploaded file name).
	Name string

	Transactions []Transaction

	// HasLabels is true when the source table carried a fraud label column.
	HasLabels bool

	// Coercion counts values that degraded to NaN/null during cleaning.
	Coercion CoercionStats
}

// CoercionStats records non-fatal data coercion failures.
type CoercionStats struct {
	InvalidAmounts    int `json:"invalidAmounts"`
	InvalidTimestamps int `json:"invalidTimestamps"`
}

// Total returns the number of coerced values.
func (c CoercionStats) Total() int {
	return c.InvalidAmounts + c.InvalidTimestamps
}

// Len returns the number of transactions.
func (d *Dataset) Len() int {
	if d == nil {
		return 0
	}
	return len(d.Transactions)
}
