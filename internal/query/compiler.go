package query

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/lib/pq"
	"go.uber.org/zap"

	"revscore/internal/config"
	"revscore/internal/models"
)

// Predicate is a compiled SQL filter fragment over classification_records,
// with positional arguments starting at $1. Callers splice it into their
// listing queries.
type Predicate struct {
	SQL  string
	Args []interface{}
}

// ThresholdSource resolves a model's filter levels to numeric bounds.
type ThresholdSource interface {
	Thresholds(ctx context.Context, modelName string) (map[string]models.Bounds, error)
}

// ModelResolver is the slice of the registry the compiler needs.
type ModelResolver interface {
	GetID(ctx context.Context, modelName string) (int, error)
}

// Compiler turns user filter selections into store predicates. Range mode
// compiles selected levels into a disjunction of BETWEEN clauses over merged
// bounds; discrete mode compiles selected classes into a predicted-class
// membership test.
type Compiler struct {
	cfg        *config.Config
	thresholds ThresholdSource
	registry   ModelResolver
	logger     *zap.Logger
}

func NewCompiler(cfg *config.Config, thresholds ThresholdSource, registry ModelResolver, logger *zap.Logger) *Compiler {
	return &Compiler{cfg: cfg, thresholds: thresholds, registry: registry, logger: logger}
}

// FilterPredicate compiles the user's selection for one model. A nil
// predicate with a nil error means "no filter": the selection was empty
// after validation, or it covered every available option.
func (c *Compiler) FilterPredicate(ctx context.Context, modelName string, selected []string) (*Predicate, error) {
	mc, ok := c.cfg.Model(modelName)
	if !ok {
		return nil, models.ErrModelNotFound
	}

	if mc.FilterMode == "discrete" {
		return c.compileDiscrete(ctx, modelName, mc, selected)
	}
	return c.compileRange(ctx, modelName, mc, selected)
}

func (c *Compiler) compileRange(ctx context.Context, modelName string, mc config.ModelConfig, selected []string) (*Predicate, error) {
	valid := make([]string, 0, len(mc.FilterLevels))
	for name := range mc.FilterLevels {
		valid = append(valid, name)
	}

	selection := NormalizeSelection(selected, valid)
	if len(selection) == 0 {
		return nil, nil
	}

	bounds, err := c.thresholds.Thresholds(ctx, modelName)
	if err != nil {
		return nil, err
	}

	ranges := make([]Range, 0, len(selection))
	for _, name := range selection {
		b, ok := bounds[name]
		if !ok {
			// The level was dropped during threshold compilation.
			c.logger.Warn("Selected filter level has no resolved bounds",
				zap.String("model", modelName), zap.String("level", name))
			continue
		}
		ranges = append(ranges, Range{Min: b.Min, Max: b.Max})
	}
	if len(ranges) == 0 {
		return nil, nil
	}

	modelID, err := c.registry.GetID(ctx, modelName)
	if err != nil {
		return nil, err
	}
	classIndex, err := scoredClassIndex(modelName, mc)
	if err != nil {
		return nil, err
	}

	merged := Merge(ranges)

	args := []interface{}{modelID, classIndex}
	clauses := make([]string, 0, len(merged))
	for _, r := range merged {
		clauses = append(clauses, fmt.Sprintf("probability BETWEEN $%d AND $%d", len(args)+1, len(args)+2))
		args = append(args, r.Min, r.Max)
	}

	sql := fmt.Sprintf("model_id = $1 AND class_index = $2 AND (%s)", strings.Join(clauses, " OR "))
	return &Predicate{SQL: sql, Args: args}, nil
}

func (c *Compiler) compileDiscrete(ctx context.Context, modelName string, mc config.ModelConfig, selected []string) (*Predicate, error) {
	valid := make([]string, 0, len(mc.Classes))
	for name := range mc.Classes {
		valid = append(valid, name)
	}

	selection := NormalizeSelection(selected, valid)
	if len(selection) == 0 {
		return nil, nil
	}

	modelID, err := c.registry.GetID(ctx, modelName)
	if err != nil {
		return nil, err
	}

	indexes := make([]int64, 0, len(selection))
	for _, name := range selection {
		indexes = append(indexes, int64(mc.Classes[name]))
	}
	sort.Slice(indexes, func(i, j int) bool { return indexes[i] < indexes[j] })

	return &Predicate{
		SQL:  "model_id = $1 AND is_predicted AND class_index = ANY($2)",
		Args: []interface{}{modelID, pq.Array(indexes)},
	}, nil
}

// scoredClassIndex picks the class whose probability rows back range
// predicates: the synthetic aggregate row for aggregated models, otherwise
// the "true" class of a binary model.
func scoredClassIndex(modelName string, mc config.ModelConfig) (int, error) {
	if mc.Aggregated {
		return 0, nil
	}
	idx, ok := mc.Classes["true"]
	if !ok {
		return 0, &models.ConfigError{
			Field:   "classes",
			Message: fmt.Sprintf("model %q uses range filtering but has no \"true\" class", modelName),
		}
	}
	return idx, nil
}

// NormalizeSelection de-duplicates the selection and intersects it with the
// valid option names. An empty result means no filter. Selecting every
// option when more than one exists is short-circuited to no filter: it is
// equivalent to not filtering at all. The sole option of a single-option
// model still produces a real filter, which matters for binary
// single-threshold models where selecting the only level must still exclude
// unscored rows.
func NormalizeSelection(selected, valid []string) []string {
	validSet := make(map[string]struct{}, len(valid))
	for _, v := range valid {
		validSet[v] = struct{}{}
	}

	seen := make(map[string]struct{}, len(selected))
	var selection []string
	for _, s := range selected {
		if _, ok := validSet[s]; !ok {
			continue
		}
		if _, dup := seen[s]; dup {
			continue
		}
		seen[s] = struct{}{}
		selection = append(selection, s)
	}

	if len(selection) == len(valid) && len(valid) > 1 {
		return nil
	}
	return selection
}
