// Package scoring turns structural findings into per-account suspicion
// scores in [0, 100].
//
// Five component signals are computed per account, blended linearly and
// squashed through a logistic curve:
//
//	raw   = 0.35·structural + 0.25·behavioral + 0.15·statistical + 0.10·network − 0.25·legitimate
//	final = round2(100 / (1 + e^(−5·raw)))
package scoring

import (
	"math"

	"github.com/opensource-finance/ringwatch/internal/domain"
	"github.com/opensource-finance/ringwatch/internal/graph"
	"github.com/opensource-finance/ringwatch/internal/stats"
)

// Weights are the blend coefficients and pattern bonuses of the scorer.
type Weights struct {
	Structural  float64
	Behavioral  float64
	Statistical float64
	Network     float64
	Legitimate  float64

	// Slope is the logistic steepness applied to the raw blend.
	Slope float64

	// Pattern bonuses summed into the structural signal before capping.
	CycleBonus float64
	SmurfBonus float64
	ShellBonus float64

	// BehavioralScale divides total degree for the behavioral signal.
	BehavioralScale float64

	// LegitimateMinDegree is the in- and out-degree an account must
	// exceed to receive LegitimateDampener.
	LegitimateMinDegree int
	LegitimateDampener  float64
}

// DefaultWeights returns the production scoring weights.
func DefaultWeights() Weights {
	return Weights{
		Structural:          0.35,
		Behavioral:          0.25,
		Statistical:         0.15,
		Network:             0.10,
		Legitimate:          0.25,
		Slope:               5.0,
		CycleBonus:          1.0,
		SmurfBonus:          0.7,
		ShellBonus:          0.8,
		BehavioralScale:     20.0,
		LegitimateMinDegree: 50,
		LegitimateDampener:  0.5,
	}
}

// Breakdown holds every intermediate signal of one scoring pass, indexed
// like Accounts.
type Breakdown struct {
	Accounts []string

	Structural  []float64
	Behavioral  []float64
	Statistical []float64
	Network     []float64
	Legitimate  []float64
	Raw         []float64
	Final       []float64

	byAccount map[string]float64
}

// Score returns the final score of an account and whether it was scored.
func (b *Breakdown) Score(account string) (float64, bool) {
	s, ok := b.byAccount[account]
	return s, ok
}

// Scores returns a copy of the final scores keyed by account.
func (b *Breakdown) Scores() map[string]float64 {
	out := make(map[string]float64, len(b.byAccount))
	for k, v := range b.byAccount {
		out[k] = v
	}
	return out
}

// Scorer computes suspicion scores from a graph and its findings.
type Scorer struct {
	w Weights
}

// NewScorer creates a scorer with the given weights.
func NewScorer(w Weights) *Scorer {
	return &Scorer{w: w}
}

// Compute scores every account of g.
func (s *Scorer) Compute(g *graph.Graph, f domain.Findings) *Breakdown {
	n := g.Len()
	b := &Breakdown{
		Accounts:    g.Accounts(),
		Structural:  make([]float64, n),
		Behavioral:  make([]float64, n),
		Statistical: make([]float64, n),
		Legitimate:  make([]float64, n),
		Raw:         make([]float64, n),
		Final:       make([]float64, n),
		byAccount:   make(map[string]float64, n),
	}

	cycleMembers := groupMembers(f.Cycles)
	shellMembers := groupMembers(f.Shells)
	smurfs := make(map[string]bool, len(f.Smurfing))
	for _, sf := range f.Smurfing {
		smurfs[sf.Account] = true
	}

	degrees := make([]float64, n)
	for i := 0; i < n; i++ {
		degrees[i] = float64(g.Degree(i))
	}
	meanDeg := stats.Mean(degrees)
	stdDeg := stats.Std(degrees)
	if stdDeg == 0 {
		stdDeg = 1.0
	}

	for i, acc := range b.Accounts {
		var structural float64
		if cycleMembers[acc] {
			structural += s.w.CycleBonus
		}
		if smurfs[acc] {
			structural += s.w.SmurfBonus
		}
		if shellMembers[acc] {
			structural += s.w.ShellBonus
		}
		b.Structural[i] = stats.Clamp(structural, 1.0)

		b.Behavioral[i] = stats.Clamp(degrees[i]/s.w.BehavioralScale, 1.0)

		z := math.Abs(degrees[i]-meanDeg) / stdDeg
		b.Statistical[i] = stats.Clamp(z/3.0, 1.0)

		if g.InDegree(i) > s.w.LegitimateMinDegree && g.OutDegree(i) > s.w.LegitimateMinDegree {
			b.Legitimate[i] = s.w.LegitimateDampener
		}
	}

	b.Network = normalizeByMax(symmetricAdjacency(g).mulVec(b.Structural))

	for i, acc := range b.Accounts {
		raw := s.w.Structural*b.Structural[i] +
			s.w.Behavioral*b.Behavioral[i] +
			s.w.Statistical*b.Statistical[i] +
			s.w.Network*b.Network[i] -
			s.w.Legitimate*b.Legitimate[i]
		b.Raw[i] = raw
		b.Final[i] = stats.RoundScaled(100.0/(1.0+math.Exp(-s.w.Slope*raw)), 2)
		b.byAccount[acc] = b.Final[i]
	}

	return b
}

func groupMembers(groups []domain.GroupFinding) map[string]bool {
	out := make(map[string]bool)
	for _, g := range groups {
		for _, a := range g.Accounts {
			out[a] = true
		}
	}
	return out
}

// AdaptiveThreshold returns mean + 1·population std of the final scores,
// or 0 when there are none.
func AdaptiveThreshold(scores []float64) float64 {
	if len(scores) == 0 {
		return 0
	}
	return stats.Mean(scores) + stats.Std(scores)
}

// RiskLevel buckets a suspicion score into HIGH, MED or LOW.
func RiskLevel(score float64) string {
	return domain.MatchBand(score, domain.RiskLevelBands, domain.RiskLow)
}
