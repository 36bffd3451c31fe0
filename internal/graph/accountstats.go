package graph

import (
	"sort"
	"time"

	"github.com/opensource-finance/ringwatch/internal/domain"
	"github.com/opensource-finance/ringwatch/internal/stats"
)

// AccountStats is the per-account aggregate computed once per analysis run.
type AccountStats struct {
	Sent     int
	Received int

	// FirstSeen and LastSeen span the account's timestamped rows.
	FirstSeen time.Time
	LastSeen  time.Time

	// DistinctReceivers counts unique counterparties the account paid.
	DistinctReceivers int

	// Amount aggregates ignore NaN amounts. Std is the sample deviation
	// and is NaN with fewer than two valid amounts.
	SentMean     float64
	SentStd      float64
	ReceivedMean float64
	ReceivedStd  float64
}

// Total returns the number of rows the account appears in as sender plus
// as receiver.
func (a AccountStats) Total() int {
	return a.Sent + a.Received
}

// ActiveSpan is the time between the first and the last timestamped row,
// zero when the account has none.
func (a AccountStats) ActiveSpan() time.Duration {
	if a.FirstSeen.IsZero() {
		return 0
	}
	return a.LastSeen.Sub(a.FirstSeen)
}

// StatsIndex maps account id to its aggregate.
type StatsIndex map[string]AccountStats

// Get returns the aggregate for id, zero-valued when the account is unknown.
func (idx StatsIndex) Get(id string) AccountStats {
	return idx[id]
}

// ComputeStats aggregates per-account activity over txs. Rows are
// ordered ascending by timestamp with null timestamps last before any
// time-dependent aggregation.
func ComputeStats(txs []domain.Transaction) StatsIndex {
	rows := make([]domain.Transaction, len(txs))
	copy(rows, txs)
	sort.SliceStable(rows, func(i, j int) bool {
		a, b := rows[i], rows[j]
		if !a.HasTimestamp() {
			return false
		}
		if !b.HasTimestamp() {
			return true
		}
		return a.Timestamp.Before(b.Timestamp)
	})

	type acc struct {
		AccountStats
		receivers map[string]struct{}
		sent      []float64
		received  []float64
	}
	work := make(map[string]*acc)
	get := func(id string) *acc {
		a, ok := work[id]
		if !ok {
			a = &acc{receivers: make(map[string]struct{})}
			work[id] = a
		}
		return a
	}
	touch := func(a *acc, ts time.Time) {
		if ts.IsZero() {
			return
		}
		if a.FirstSeen.IsZero() || ts.Before(a.FirstSeen) {
			a.FirstSeen = ts
		}
		if ts.After(a.LastSeen) {
			a.LastSeen = ts
		}
	}

	for _, tx := range rows {
		s := get(tx.SenderID)
		s.Sent++
		s.receivers[tx.ReceiverID] = struct{}{}
		s.sent = append(s.sent, tx.Amount)
		touch(s, tx.Timestamp)

		r := get(tx.ReceiverID)
		r.Received++
		r.received = append(r.received, tx.Amount)
		touch(r, tx.Timestamp)
	}

	out := make(StatsIndex, len(work))
	for id, a := range work {
		a.DistinctReceivers = len(a.receivers)
		a.SentMean = stats.NaNMean(a.sent)
		a.SentStd = stats.SampleStd(a.sent)
		a.ReceivedMean = stats.NaNMean(a.received)
		a.ReceivedStd = stats.SampleStd(a.received)
		out[id] = a.AccountStats
	}
	return out
}
