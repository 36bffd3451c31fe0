// Package detect implements the structural laundering pattern detectors.
//
// All detectors read the collapsed structure graph only; transaction
// multiplicity never affects a finding. Each detector is a pure function
// of the graph and the detection config.
package detect

import (
	"sort"
	"strings"

	"github.com/opensource-finance/ringwatch/internal/domain"
	"github.com/opensource-finance/ringwatch/internal/graph"
)

// Detector runs the cycle, smurfing and layered shell detectors.
type Detector struct {
	cfg domain.DetectionConfig
}

// New creates a detector. Zero-valued config fields fall back to defaults.
func New(cfg domain.DetectionConfig) *Detector {
	def := domain.DefaultDetectionConfig()
	if cfg.FanThreshold <= 0 {
		cfg.FanThreshold = def.FanThreshold
	}
	if cfg.ShellMaxOutDegree <= 0 {
		cfg.ShellMaxOutDegree = def.ShellMaxOutDegree
	}
	if cfg.ShellMaxChainsPerNode <= 0 {
		cfg.ShellMaxChainsPerNode = def.ShellMaxChainsPerNode
	}
	return &Detector{cfg: cfg}
}

// Config returns the effective detection config.
func (d *Detector) Config() domain.DetectionConfig {
	return d.cfg
}

// Run executes all three detectors.
func (d *Detector) Run(g *graph.Graph) domain.Findings {
	return domain.Findings{
		Cycles:   d.Cycles(g),
		Smurfing: d.Smurfing(g),
		Shells:   d.LayeredShells(g),
	}
}

// Cycles finds directed 3-cycles u→v→w→u. Each cycle is reported once per
// rotation, so a triangle yields three findings.
func (d *Detector) Cycles(g *graph.Graph) []domain.GroupFinding {
	var out []domain.GroupFinding
	for u := 0; u < g.Len(); u++ {
		for _, v := range g.Successors(u) {
			if v == u {
				continue
			}
			for _, w := range g.Successors(v) {
				if w == u || w == v {
					continue
				}
				if g.HasEdge(w, u) {
					out = append(out, domain.GroupFinding{
						Accounts: []string{g.Account(u), g.Account(v), g.Account(w)},
						Pattern:  domain.PatternCycle,
					})
				}
			}
		}
	}
	return out
}

// Smurfing flags accounts whose distinct counterparty count in either
// direction reaches the fan threshold. An account can be flagged twice.
func (d *Detector) Smurfing(g *graph.Graph) []domain.AccountFinding {
	var out []domain.AccountFinding
	for i := 0; i < g.Len(); i++ {
		if g.InDegree(i) >= d.cfg.FanThreshold {
			out = append(out, domain.AccountFinding{Account: g.Account(i), Pattern: domain.PatternFanIn})
		}
		if g.OutDegree(i) >= d.cfg.FanThreshold {
			out = append(out, domain.AccountFinding{Account: g.Account(i), Pattern: domain.PatternFanOut})
		}
	}
	return out
}

// LayeredShells finds 2-hop chains node→intermediate→next through
// low-fan-out intermediates. Chains over the same account set are
// reported once, and each origin emits at most ShellMaxChainsPerNode.
func (d *Detector) LayeredShells(g *graph.Graph) []domain.GroupFinding {
	var out []domain.GroupFinding
	seen := make(map[string]struct{})

	for node := 0; node < g.Len(); node++ {
		emitted := 0
	scan:
		for _, mid := range g.Successors(node) {
			if g.OutDegree(mid) > d.cfg.ShellMaxOutDegree {
				continue
			}
			for _, next := range g.Successors(mid) {
				if next == node {
					continue
				}
				chain := []string{g.Account(node), g.Account(mid), g.Account(next)}
				key := setKey(chain)
				if _, ok := seen[key]; ok {
					continue
				}
				seen[key] = struct{}{}
				out = append(out, domain.GroupFinding{Accounts: chain, Pattern: domain.PatternLayeredShell})

				emitted++
				if emitted >= d.cfg.ShellMaxChainsPerNode {
					break scan
				}
			}
		}
	}
	return out
}

// setKey identifies a group by its distinct members regardless of order.
func setKey(accounts []string) string {
	uniq := make([]string, 0, len(accounts))
	have := make(map[string]bool, len(accounts))
	for _, a := range accounts {
		if !have[a] {
			have[a] = true
			uniq = append(uniq, a)
		}
	}
	sort.Strings(uniq)
	return strings.Join(uniq, "\x00")
}
