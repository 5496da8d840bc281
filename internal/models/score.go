package models

// Model represents one observed version of a scoring model. The numeric ID is
// assigned on first sight of the name and stays stable across versions; exactly
// one version row per name is marked current at a time.
type Model struct {
	ID        int    `db:"model_id" json:"id"`
	Name      string `db:"name" json:"name"`
	Version   string `db:"version" json:"version"`
	IsCurrent bool   `db:"is_current" json:"is_current"`
}

// ClassificationRecord is the normalized storage row for one class probability
// of one (revision, model) pair. The baseline class (index 0) is never stored
// for non-aggregated models; for aggregated models a single synthetic row with
// ClassIndex 0 carries the weighted score.
type ClassificationRecord struct {
	RevisionID  int64   `db:"revision_id" json:"revision_id"`
	ModelID     int     `db:"model_id" json:"model_id"`
	ClassIndex  int     `db:"class_index" json:"class_index"`
	Probability float64 `db:"probability" json:"probability"`
	IsPredicted bool    `db:"is_predicted" json:"is_predicted"`
}

// OutcomeKind classifies what the remote scorer returned for one
// (revision, model) pair.
type OutcomeKind int

const (
	OutcomeSuccess OutcomeKind = iota
	// OutcomeNotFound: the revision is unknown to the upstream content store.
	OutcomeNotFound
	// OutcomeNotScorable: the revision exists but is structurally ineligible
	// (e.g. a page's first revision for a model that requires a parent).
	OutcomeNotScorable
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeSuccess:
		return "success"
	case OutcomeNotFound:
		return "not_found"
	case OutcomeNotScorable:
		return "not_scorable"
	}
	return "unknown"
}

// ScoreOutcome is the per-item result of a scoring call. Prediction is always
// a class name; boolean predictions are normalized to "true"/"false" by the
// client so they can be compared against configured class keys.
type ScoreOutcome struct {
	Kind          OutcomeKind        `json:"kind"`
	Prediction    string             `json:"prediction,omitempty"`
	Probabilities map[string]float64 `json:"probabilities,omitempty"`
	Message       string             `json:"message,omitempty"`
}

// Bounds is a resolved probability band for one filter level.
type Bounds struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// StatThreshold is one threshold statistic returned by the scorer for a
// formula under a given outcome.
type StatThreshold struct {
	Threshold float64 `json:"threshold"`
}

// Statistics maps outcome ("true"/"false") -> canonical formula string ->
// threshold, as returned by the scorer's statistics endpoint.
type Statistics map[string]map[string]StatThreshold
