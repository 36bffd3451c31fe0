package domain

// Pattern tags emitted by the structural detectors.
const (
	PatternCycle        = "cycle_length_3"
	PatternFanIn        = "fan_in"
	PatternFanOut       = "fan_out"
	PatternLayeredShell = "layered_shell"
)

// GroupFinding flags an ordered group of accounts (cycles, layered shells).
type GroupFinding struct {
	Accounts []string `json:"accounts"`
	Pattern  string   `json:"pattern"`
}

// AccountFinding flags a single account (fan-in, fan-out).
type AccountFinding struct {
	Account string `json:"account"`
	Pattern string `json:"pattern"`
}

// Findings bundles the output of all three detectors for one run.
type Findings struct {
	Cycles   []GroupFinding
	Smurfing []AccountFinding
	Shells   []GroupFinding
}

// CleanPattern maps an internal pattern tag to its reported name.
func CleanPattern(tag string) string {
	if tag == PatternCycle {
		return "cycle"
	}
	return tag
}
