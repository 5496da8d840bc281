package threshold

import (
	"fmt"
	"strconv"
	"strings"

	"revscore/internal/models"
)

// FormulaKind identifies the statistic a threshold formula asks for.
type FormulaKind int

const (
	// RecallAtPrecision: the probability threshold that maximizes recall
	// while keeping precision at or above the target.
	RecallAtPrecision FormulaKind = iota
	// FilterRateAtRecall: the threshold that maximizes the filter rate while
	// keeping recall at or above the target.
	FilterRateAtRecall
)

// Formula is the canonical AST both textual grammars normalize into. Bound
// extraction evaluates only this AST, never raw strings.
type Formula struct {
	Kind   FormulaKind
	Target float64
}

// String renders the canonical (current-grammar) form, which is also the key
// the scorer's statistics endpoint responds under.
func (f *Formula) String() string {
	target := strconv.FormatFloat(f.Target, 'g', -1, 64)
	switch f.Kind {
	case RecallAtPrecision:
		return "maximum recall @ precision >= " + target
	case FilterRateAtRecall:
		return "maximum filter_rate @ recall >= " + target
	}
	return "unknown"
}

// BoundSpec is one side of a filter level: either a literal probability or a
// formula reference.
type BoundSpec struct {
	Literal *float64
	Formula *Formula
}

// ParseBound parses a min/max spec string: a bare numeric literal passes
// through as a literal bound, anything else must parse as a formula.
func ParseBound(spec string) (BoundSpec, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return BoundSpec{}, &models.ConfigError{Field: "filter_levels", Message: "empty bound spec"}
	}
	if v, err := strconv.ParseFloat(spec, 64); err == nil {
		return BoundSpec{Literal: &v}, nil
	}
	f, err := Parse(spec)
	if err != nil {
		return BoundSpec{}, err
	}
	return BoundSpec{Formula: f}, nil
}

// Parse accepts both threshold-formula grammars:
//
//	legacy:  recall_at_precision(min_precision=0.15)
//	current: maximum recall @ precision >= 0.15
//
// and produces the canonical AST. An unrecognized pattern is a hard
// configuration error.
func Parse(s string) (*Formula, error) {
	s = strings.TrimSpace(s)
	if strings.Contains(s, "(") {
		return parseLegacy(s)
	}
	return parseCurrent(s)
}

func parseCurrent(s string) (*Formula, error) {
	fields := strings.Fields(s)
	if len(fields) != 6 || fields[0] != "maximum" || fields[2] != "@" || fields[4] != ">=" {
		return nil, &models.ConfigError{
			Field:   "threshold formula",
			Message: fmt.Sprintf("unrecognized formula %q", s),
		}
	}

	target, err := strconv.ParseFloat(fields[5], 64)
	if err != nil {
		return nil, &models.ConfigError{
			Field:   "threshold formula",
			Message: fmt.Sprintf("invalid target in formula %q", s),
		}
	}

	switch {
	case fields[1] == "recall" && fields[3] == "precision":
		return &Formula{Kind: RecallAtPrecision, Target: target}, nil
	case fields[1] == "filter_rate" && fields[3] == "recall":
		return &Formula{Kind: FilterRateAtRecall, Target: target}, nil
	}
	return nil, &models.ConfigError{
		Field:   "threshold formula",
		Message: fmt.Sprintf("unsupported statistic pair in formula %q", s),
	}
}

func parseLegacy(s string) (*Formula, error) {
	open := strings.Index(s, "(")
	if open < 0 || !strings.HasSuffix(s, ")") {
		return nil, &models.ConfigError{
			Field:   "threshold formula",
			Message: fmt.Sprintf("unrecognized legacy formula %q", s),
		}
	}

	name := strings.TrimSpace(s[:open])
	arg := strings.TrimSpace(s[open+1 : len(s)-1])

	var kind FormulaKind
	var param string
	switch name {
	case "recall_at_precision":
		kind, param = RecallAtPrecision, "min_precision"
	case "filter_rate_at_recall":
		kind, param = FilterRateAtRecall, "min_recall"
	default:
		return nil, &models.ConfigError{
			Field:   "threshold formula",
			Message: fmt.Sprintf("unrecognized legacy formula %q", s),
		}
	}

	key, value, found := strings.Cut(arg, "=")
	if !found || strings.TrimSpace(key) != param {
		return nil, &models.ConfigError{
			Field:   "threshold formula",
			Message: fmt.Sprintf("legacy formula %q must take a single %s argument", s, param),
		}
	}

	target, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return nil, &models.ConfigError{
			Field:   "threshold formula",
			Message: fmt.Sprintf("invalid target in legacy formula %q", s),
		}
	}
	return &Formula{Kind: kind, Target: target}, nil
}
