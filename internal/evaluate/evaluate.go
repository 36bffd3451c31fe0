// Package evaluate measures suspicion scores against ground-truth labels.
package evaluate

import (
	"sort"

	"github.com/opensource-finance/ringwatch/internal/domain"
	"github.com/opensource-finance/ringwatch/internal/stats"
)

// FallbackThreshold is used when the best F1 point has no threshold,
// which happens when the curve's terminal point wins.
const FallbackThreshold = 50.0

const f1Epsilon = 1e-8

// AccountLabels returns one label per account: the maximum label over the
// rows the account sent. Accounts that never sent default to 0.
func AccountLabels(accounts []string, txs []domain.Transaction) []int {
	bySender := make(map[string]int, len(accounts))
	for _, tx := range txs {
		if tx.IsFraud > bySender[tx.SenderID] {
			bySender[tx.SenderID] = tx.IsFraud
		}
	}

	labels := make([]int, len(accounts))
	for i, a := range accounts {
		labels[i] = bySender[a]
	}
	return labels
}

// Curve is a precision-recall curve. Precision and Recall have one more
// point than Thresholds: the terminal point with precision 1 and recall 0.
// Thresholds ascend.
type Curve struct {
	Precision  []float64
	Recall     []float64
	Thresholds []float64
}

// PrecisionRecallCurve computes the curve over every distinct score.
func PrecisionRecallCurve(labels []int, scores []float64) Curve {
	n := len(scores)
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return scores[order[a]] > scores[order[b]]
	})

	var tps, fps, thresholds []float64
	var tp, fp float64
	for k, i := range order {
		if labels[i] > 0 {
			tp++
		} else {
			fp++
		}
		// Emit a point at the last index of each run of equal scores.
		if k == n-1 || scores[order[k+1]] != scores[i] {
			tps = append(tps, tp)
			fps = append(fps, fp)
			thresholds = append(thresholds, scores[i])
		}
	}

	m := len(thresholds)
	c := Curve{
		Precision:  make([]float64, 0, m+1),
		Recall:     make([]float64, 0, m+1),
		Thresholds: make([]float64, 0, m),
	}
	var totalPos float64
	if m > 0 {
		totalPos = tps[m-1]
	}

	for k := m - 1; k >= 0; k-- {
		var p float64
		if d := tps[k] + fps[k]; d > 0 {
			p = tps[k] / d
		}
		r := 1.0
		if totalPos > 0 {
			r = tps[k] / totalPos
		}
		c.Precision = append(c.Precision, p)
		c.Recall = append(c.Recall, r)
		c.Thresholds = append(c.Thresholds, thresholds[k])
	}
	c.Precision = append(c.Precision, 1)
	c.Recall = append(c.Recall, 0)
	return c
}

// OptimalThreshold returns the threshold at the first point of maximum F1.
func OptimalThreshold(c Curve) float64 {
	best, bestF1 := 0, -1.0
	for i := range c.Precision {
		p, r := c.Precision[i], c.Recall[i]
		f1 := 2 * p * r / (p + r + f1Epsilon)
		if f1 > bestF1 {
			best, bestF1 = i, f1
		}
	}
	if best < len(c.Thresholds) {
		return c.Thresholds[best]
	}
	return FallbackThreshold
}

// Evaluate scores predictions made at the optimal F1 threshold. Ratios
// with an empty denominator are 0. Metrics are rounded to 4 places and
// the threshold to 2.
func Evaluate(labels []int, scores []float64) *domain.EvalMetrics {
	threshold := OptimalThreshold(PrecisionRecallCurve(labels, scores))

	var tp, fp, tn, fn float64
	for i, s := range scores {
		predicted := s >= threshold
		actual := labels[i] > 0
		switch {
		case predicted && actual:
			tp++
		case predicted && !actual:
			fp++
		case !predicted && actual:
			fn++
		default:
			tn++
		}
	}

	return &domain.EvalMetrics{
		Precision:        stats.Round(ratio(tp, tp+fp), 4),
		Recall:           stats.Round(ratio(tp, tp+fn), 4),
		F1Score:          stats.Round(ratio(2*tp, 2*tp+fp+fn), 4),
		Accuracy:         stats.Round(ratio(tp+tn, float64(len(scores))), 4),
		OptimalThreshold: stats.Round(threshold, 2),
	}
}

func ratio(num, den float64) float64 {
	if den == 0 {
		return 0
	}
	return num / den
}
