// Package rings groups suspicious accounts into non-overlapping fraud
// rings and summarizes them.
package rings

import (
	"fmt"
	"sort"
	"strings"

	"github.com/opensource-finance/ringwatch/internal/domain"
	"github.com/opensource-finance/ringwatch/internal/graph"
	"github.com/opensource-finance/ringwatch/internal/stats"
)

// ScoreFunc looks up the final score of an account.
type ScoreFunc func(account string) (float64, bool)

// Build commits cycle groups, then shell groups, as rings. A group that
// shares any account with an already committed ring is skipped, so rings
// partition their members. Smurfing findings never form rings.
func Build(f domain.Findings, score ScoreFunc) []domain.FraudRing {
	rings := []domain.FraudRing{}
	used := make(map[string]bool)

	groups := make([]domain.GroupFinding, 0, len(f.Cycles)+len(f.Shells))
	groups = append(groups, f.Cycles...)
	groups = append(groups, f.Shells...)

	for _, group := range groups {
		members := uniqueMembers(group.Accounts)
		if overlaps(members, used) {
			continue
		}
		for _, m := range members {
			used[m] = true
		}

		scores := memberScores(members, score)
		risk := 0.5*stats.Mean(scores) + 0.3*float64(len(members))*5 + 0.2*stats.Max(scores)
		risk = stats.Round(stats.Clamp(risk, 100), 2)

		rings = append(rings, domain.FraudRing{
			RingID:         fmt.Sprintf("RING_%03d", len(rings)+1),
			PatternType:    group.Pattern,
			MemberAccounts: members,
			RiskScore:      risk,
		})
	}
	return rings
}

// Summary builds the per-ring summary table sorted by risk descending.
// Rings with equal risk keep their commit order.
func Summary(g *graph.Graph, rings []domain.FraudRing, score ScoreFunc) []domain.RingSummaryRow {
	rows := make([]domain.RingSummaryRow, 0, len(rings))
	for _, ring := range rings {
		mc := len(ring.MemberAccounts)
		internal := g.InternalEdges(ring.MemberAccounts)

		maxEdges := 1
		if mc > 1 {
			maxEdges = mc * (mc - 1)
		}
		scores := memberScores(ring.MemberAccounts, score)

		sorted := make([]string, mc)
		copy(sorted, ring.MemberAccounts)
		sort.Strings(sorted)

		rows = append(rows, domain.RingSummaryRow{
			RingID:               ring.RingID,
			PatternType:          ring.PatternType,
			MemberCount:          mc,
			RiskScore:            ring.RiskScore,
			MemberAccountIDs:     strings.Join(sorted, ", "),
			AvgMemberScore:       stats.Round(stats.Mean(scores), 2),
			MaxMemberScore:       stats.Round(stats.Max(scores), 2),
			StructuralComplexity: mc + internal,
			InternalEdgeCount:    internal,
			RingDensity:          stats.Round(float64(internal)/float64(maxEdges), 3),
			RiskCategory:         Category(ring.RiskScore),
		})
	}

	sort.SliceStable(rows, func(i, j int) bool {
		return rows[i].RiskScore > rows[j].RiskScore
	})
	return rows
}

// Category buckets a ring risk score for the summary table.
func Category(risk float64) string {
	return domain.MatchBand(risk, domain.RiskCategoryBands, domain.CategoryLow)
}

func uniqueMembers(accounts []string) []string {
	out := make([]string, 0, len(accounts))
	seen := make(map[string]bool, len(accounts))
	for _, a := range accounts {
		if !seen[a] {
			seen[a] = true
			out = append(out, a)
		}
	}
	return out
}

func overlaps(members []string, used map[string]bool) bool {
	for _, m := range members {
		if used[m] {
			return true
		}
	}
	return false
}

func memberScores(members []string, score ScoreFunc) []float64 {
	out := make([]float64, len(members))
	for i, m := range members {
		if s, ok := score(m); ok {
			out[i] = s
		}
	}
	return out
}
