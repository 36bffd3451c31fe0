package domain

import "encoding/json"

// Risk levels assigned to suspicious accounts.
const (
	RiskHigh   = "HIGH"
	RiskMedium = "MED"
	RiskLow    = "LOW"
)

// Ring risk categories used in the summary table.
const (
	CategoryCritical = "Critical"
	CategoryHigh     = "High"
	CategoryMedium   = "Medium"
	CategoryLow      = "Low"
)

// FraudRing is a non-overlapping group of accounts implicated by one finding.
type FraudRing struct {
	RingID         string   `json:"ring_id"`
	PatternType    string   `json:"pattern_type"`
	MemberAccounts []string `json:"member_accounts"`
	RiskScore      float64  `json:"risk_score"`
}

// SuspiciousAccount is an account whose score reached the adaptive threshold.
type SuspiciousAccount struct {
	AccountID        string   `json:"account_id"`
	SuspicionScore   float64  `json:"suspicion_score"`
	RiskLevel        string   `json:"risk_level"`
	Reasons          []string `json:"reasons"`
	DetectedPatterns []string `json:"detected_patterns"`
	RingID           *string  `json:"ring_id"`
}

// EvalMetrics scores the engine against ground-truth labels.
type EvalMetrics struct {
	Precision        float64 `json:"precision"`
	Recall           float64 `json:"recall"`
	F1Score          float64 `json:"f1_score"`
	Accuracy         float64 `json:"accuracy"`
	OptimalThreshold float64 `json:"optimal_threshold"`
}

// Summary holds run-level counters.
type Summary struct {
	TotalAccountsAnalyzed     int     `json:"total_accounts_analyzed"`
	SuspiciousAccountsFlagged int     `json:"suspicious_accounts_flagged"`
	FraudRingsDetected        int     `json:"fraud_rings_detected"`
	ProcessingTimeSeconds     float64 `json:"processing_time_seconds"`
}

// Report is the complete output of one pipeline run.
type Report struct {
	SuspiciousAccounts []SuspiciousAccount `json:"suspicious_accounts"`
	FraudRings         []FraudRing         `json:"fraud_rings"`
	AccountScores      map[string]float64  `json:"account_scores"`

	// EvalMetrics is nil when the dataset carried no labels.
	EvalMetrics *EvalMetrics `json:"eval_metrics"`

	Summary Summary `json:"summary"`

	// Threshold is the adaptive cutoff used for this run. Not serialized.
	Threshold float64 `json:"-"`

	// public reports leave account_scores out of their JSON.
	public bool
}

// Public returns a shallow copy without per-account scores, which is the
// form persisted and returned to clients.
func (r *Report) Public() *Report {
	if r == nil {
		return nil
	}
	cp := *r
	cp.AccountScores = nil
	cp.public = true
	return &cp
}

// IsPublic reports whether r is the persisted form without account scores.
func (r *Report) IsPublic() bool {
	return r != nil && r.public
}

// MarshalJSON always writes account_scores for a full report, as an empty
// object when there are no accounts, and never for a public one.
func (r Report) MarshalJSON() ([]byte, error) {
	type plain Report
	if r.public {
		return json.Marshal(struct {
			plain
			AccountScores map[string]float64 `json:"account_scores,omitempty"`
		}{plain: plain(r)})
	}
	if r.AccountScores == nil {
		r.AccountScores = map[string]float64{}
	}
	return json.Marshal(plain(r))
}

// UnmarshalJSON treats a document without account_scores as public.
func (r *Report) UnmarshalJSON(data []byte) error {
	type plain Report
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*r = Report(p)
	r.public = p.AccountScores == nil
	return nil
}

// RingSummaryRow is one row of the ring summary table.
type RingSummaryRow struct {
	RingID               string  `json:"Ring ID"`
	PatternType          string  `json:"Pattern Type"`
	MemberCount          int     `json:"Member Count"`
	RiskScore            float64 `json:"Risk Score"`
	MemberAccountIDs     string  `json:"Member Account IDs"`
	AvgMemberScore       float64 `json:"Avg Member Score"`
	MaxMemberScore       float64 `json:"Max Member Score"`
	StructuralComplexity int     `json:"Structural Complexity"`
	InternalEdgeCount    int     `json:"Internal Edge Count"`
	RingDensity          float64 `json:"Ring Density"`
	RiskCategory         string  `json:"Risk Category"`
}

// FileResult is what the analysis service returns per uploaded file.
type FileResult struct {
	Report  *Report          `json:"report"`
	Summary []RingSummaryRow `json:"summary"`
	SavedTo string           `json:"saved_to"`
	Cached  bool             `json:"cached,omitempty"`
}
