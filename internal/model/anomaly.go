package model

// AnomalyLabel classifies how unusual a transaction is.
type AnomalyLabel string

// Anomaly label constants.
const (
	LabelNormal     AnomalyLabel = "NORMAL"
	LabelSuspicious AnomalyLabel = "SUSPICIOUS"
	LabelSevere     AnomalyLabel = "SEVERE"
)

// AnomalyExplanation compares a transaction amount with the baseline it was judged against.
type AnomalyExplanation struct {
	Notes    string  `json:"notes"`
	Baseline float64 `json:"baseline"`
	Residual float64 `json:"residual"`
}

// AnomalyResult is the scorer output for one record.
type AnomalyResult struct {
	ID    string             `json:"id"`
	Label AnomalyLabel       `json:"label"`
	Why   AnomalyExplanation `json:"why"`
	Score float64            `json:"score"`
}

// Flagged reports whether the result needs a human to look at it.
func (r AnomalyResult) Flagged() bool {
	return r.Label != LabelNormal
}
