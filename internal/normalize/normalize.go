package normalize

import (
	"context"
	"fmt"

	"revscore/internal/config"
	"revscore/internal/models"
)

// IDResolver is the slice of the model registry the normalizer needs.
type IDResolver interface {
	GetID(ctx context.Context, modelName string) (int, error)
}

// Result is the per-item outcome of normalizing one (revision, model) score.
// Exactly one of Records or Err is set; the batch driver collects successes
// and failures without aborting on expected per-item errors.
type Result struct {
	RevisionID int64
	Model      string
	Records    []models.ClassificationRecord
	Err        *models.ItemError
}

// Normalizer converts raw scorer outcomes into minimal storage rows.
type Normalizer struct {
	cfg      *config.Config
	resolver IDResolver
}

func New(cfg *config.Config, resolver IDResolver) *Normalizer {
	return &Normalizer{cfg: cfg, resolver: resolver}
}

// Normalize turns one raw per-model outcome into classification records.
//
// For a non-aggregated model the baseline class (index 0) is omitted: its
// probability is always 1 minus the sum of the stored ones, which roughly
// halves storage for binary models. For an aggregated model all class rows
// are collapsed into a single synthetic record with class index 0 carrying
// the weighted-average score.
func (n *Normalizer) Normalize(ctx context.Context, revisionID int64, modelName string, outcome models.ScoreOutcome) Result {
	res := Result{RevisionID: revisionID, Model: modelName}

	switch outcome.Kind {
	case models.OutcomeNotFound:
		res.Err = &models.ItemError{
			Kind: models.ItemNotFound, RevisionID: revisionID, Model: modelName,
			Message: outcome.Message,
		}
		return res
	case models.OutcomeNotScorable:
		res.Err = &models.ItemError{
			Kind: models.ItemNotScorable, RevisionID: revisionID, Model: modelName,
			Message: outcome.Message,
		}
		return res
	}

	mc, ok := n.cfg.Model(modelName)
	if !ok {
		res.Err = &models.ItemError{
			Kind: models.ItemUnconfiguredModel, RevisionID: revisionID, Model: modelName,
			Message: "model not present in static configuration",
		}
		return res
	}

	modelID, err := n.resolver.GetID(ctx, modelName)
	if err != nil {
		res.Err = &models.ItemError{
			Kind: models.ItemUnconfiguredModel, RevisionID: revisionID, Model: modelName,
			Message: err.Error(),
		}
		return res
	}

	// Every returned class name must be configured before any row is built.
	for className := range outcome.Probabilities {
		if _, ok := mc.Classes[className]; !ok {
			res.Err = &models.ItemError{
				Kind: models.ItemUnconfiguredClass, RevisionID: revisionID, Model: modelName,
				Message: fmt.Sprintf("class %q not present in static configuration", className),
			}
			return res
		}
	}

	if mc.Aggregated {
		res.Records = []models.ClassificationRecord{aggregate(revisionID, modelID, mc, outcome)}
		return res
	}

	records := make([]models.ClassificationRecord, 0, len(outcome.Probabilities))
	for className, probability := range outcome.Probabilities {
		classIndex := mc.Classes[className]
		if classIndex == 0 {
			// Baseline class, recoverable as 1 - sum(others).
			continue
		}
		records = append(records, models.ClassificationRecord{
			RevisionID:  revisionID,
			ModelID:     modelID,
			ClassIndex:  classIndex,
			Probability: probability,
			IsPredicted: outcome.Prediction == className,
		})
	}
	res.Records = records
	return res
}

// aggregate turns an ordinal multiclass output into a single continuous
// score: the class-index-weighted probability sum over the class count.
func aggregate(revisionID int64, modelID int, mc config.ModelConfig, outcome models.ScoreOutcome) models.ClassificationRecord {
	var weighted float64
	for className, probability := range outcome.Probabilities {
		weighted += probability * float64(mc.Classes[className])
	}
	return models.ClassificationRecord{
		RevisionID:  revisionID,
		ModelID:     modelID,
		ClassIndex:  0,
		Probability: weighted / float64(len(mc.Classes)),
		IsPredicted: false,
	}
}
