// Package explain produces the ordered reason codes attached to each
// suspicious account.
package explain

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/opensource-finance/ringwatch/internal/domain"
	"github.com/opensource-finance/ringwatch/internal/graph"
	"github.com/opensource-finance/ringwatch/internal/rules"
	"github.com/opensource-finance/ringwatch/internal/stats"
)

// lowActivity is the total row count below which an account is gated.
const lowActivity = 5

// activityPenalty is reported on gated accounts. It does not alter scores.
const activityPenalty = 0.2

// Account is everything the explainer needs to know about one account.
type Account struct {
	ID        string
	Score     float64
	InDegree  int
	OutDegree int
	Degree    int

	// TotalTx counts rows with the account as sender plus as receiver.
	TotalTx int

	// Patterns holds raw pattern tags in first-detection order.
	Patterns []string

	RingID string

	// Activity holds the account's row aggregates for reason rules.
	Activity graph.AccountStats
}

func (a Account) has(tag string) bool {
	for _, p := range a.Patterns {
		if p == tag {
			return true
		}
	}
	return false
}

// Explainer builds reason codes from built-in templates followed by any
// configured reason rules.
type Explainer struct {
	rules  *rules.Engine
	logger *slog.Logger
}

// New creates an explainer. engine may be nil when no reason rules are
// configured.
func New(engine *rules.Engine, logger *slog.Logger) *Explainer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Explainer{rules: engine, logger: logger}
}

// Reasons returns the reason codes for a, in a fixed order.
func (e *Explainer) Reasons(ctx context.Context, a Account) []string {
	reasons := BuiltinReasons(a)

	if e.rules == nil || e.rules.RulesCount() == 0 {
		return reasons
	}

	cleaned := make([]string, len(a.Patterns))
	for i, p := range a.Patterns {
		cleaned[i] = domain.CleanPattern(p)
	}
	extra, err := e.rules.Evaluate(ctx, rules.Facts{
		AccountID: a.ID,
		Score:     a.Score,
		InDegree:  a.InDegree,
		OutDegree: a.OutDegree,
		Degree:    a.Degree,
		TotalTx:   a.TotalTx,
		Patterns:  cleaned,
		RingID:    a.RingID,

		DistinctReceivers: a.Activity.DistinctReceivers,
		SentMean:          a.Activity.SentMean,
		SentStd:           a.Activity.SentStd,
		ReceivedMean:      a.Activity.ReceivedMean,
		ReceivedStd:       a.Activity.ReceivedStd,
		ActiveHours:       a.Activity.ActiveSpan().Hours(),
	})
	if err != nil {
		e.logger.Warn("reason rule evaluation failed",
			"account", a.ID,
			"error", err,
		)
	}
	return append(reasons, extra...)
}

// BuiltinReasons returns the template reasons for a:
// activity gate, cycle centrality, fan-in and fan-out intensity,
// layered shell membership, low activity cap.
func BuiltinReasons(a Account) []string {
	reasons := []string{}
	gated := a.TotalTx < lowActivity

	if gated {
		reasons = append(reasons, fmt.Sprintf("activity_gate(total_tx=%d,penalty=%s)", a.TotalTx, reasonFloat(activityPenalty)))
	}
	if a.has(domain.PatternCycle) || a.has("cycle") {
		reasons = append(reasons, fmt.Sprintf("cycle_centrality(deg=%d,size=%d)", a.Degree, a.Degree+1))
	}
	if a.has(domain.PatternFanIn) {
		reasons = append(reasons, fmt.Sprintf("fan_in_intensity(in=%d)", a.InDegree))
	}
	if a.has(domain.PatternFanOut) {
		reasons = append(reasons, fmt.Sprintf("fan_out_intensity(out=%d)", a.OutDegree))
	}
	if a.has(domain.PatternLayeredShell) {
		reasons = append(reasons, "layered_shell_member")
	}
	if gated {
		reasons = append(reasons, fmt.Sprintf("low_activity_cap(total_tx=%d,score_cap=%s)", a.TotalTx, reasonFloat(stats.Round(a.Score, 1))))
	}
	return reasons
}

// reasonFloat formats f in shortest round-trip form and always keeps a
// decimal point, so 50 prints as "50.0".
func reasonFloat(f float64) string {
	s := strconv.FormatFloat(f, 'f', -1, 64)
	if !strings.ContainsAny(s, ".eEnN") {
		s += ".0"
	}
	return s
}
