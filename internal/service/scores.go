package service

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"revscore/internal/config"
	"revscore/internal/jobs"
	"revscore/internal/metrics"
	"revscore/internal/models"
	"revscore/internal/normalize"
	"revscore/internal/repository"
)

// Scorer is the slice of the remote client the service needs.
type Scorer interface {
	Score(ctx context.Context, modelNames []string, revisionIDs []int64) (map[int64]map[string]models.ScoreOutcome, error)
}

// ModelRegistry resolves model names to ids.
type ModelRegistry interface {
	GetID(ctx context.Context, modelName string) (int, error)
}

// ScoreService orchestrates the store-first scoring path: cached records are
// served directly, a bounded slice of misses is fetched inline, and the rest
// is fanned out to capped background jobs.
type ScoreService struct {
	cfg        *config.Config
	repo       repository.ScoreRepository
	registry   ModelRegistry
	normalizer *normalize.Normalizer
	scorer     Scorer
	queue      jobs.Queue
	logger     *zap.Logger
	metrics    *metrics.Metrics
}

func NewScoreService(
	cfg *config.Config,
	repo repository.ScoreRepository,
	registry ModelRegistry,
	normalizer *normalize.Normalizer,
	scorer Scorer,
	queue jobs.Queue,
	m *metrics.Metrics,
	logger *zap.Logger,
) *ScoreService {
	return &ScoreService{
		cfg:        cfg,
		repo:       repo,
		registry:   registry,
		normalizer: normalizer,
		scorer:     scorer,
		queue:      queue,
		logger:     logger,
		metrics:    m,
	}
}

// GetScores returns cached records for the requested revisions, fetching a
// bounded number of misses inline and deferring the rest to background jobs.
// The boolean result is the continuation signal: true means some requested
// revisions could not be resolved within the inline budget and a later
// request may find more. Scoring failures never fail the call; the caller
// always gets the usable partial result.
func (s *ScoreService) GetScores(ctx context.Context, revisionIDs []int64, modelNames []string, parents map[int64]int64) (map[int64][]models.ClassificationRecord, bool, error) {
	revisionIDs = dedupe(revisionIDs)
	if len(modelNames) == 0 {
		modelNames = s.cfg.EnabledModels()
		sort.Strings(modelNames)
	}

	modelIDs, err := s.resolveModelIDs(ctx, modelNames)
	if err != nil {
		return nil, false, err
	}

	cached, err := s.repo.GetRecords(revisionIDs, modelIDs)
	if err != nil {
		return nil, false, fmt.Errorf("failed to read cached scores: %w", err)
	}

	results := make(map[int64][]models.ClassificationRecord, len(revisionIDs))
	covered := make(map[int64]map[int]bool)
	for _, rec := range cached {
		results[rec.RevisionID] = append(results[rec.RevisionID], rec)
		if covered[rec.RevisionID] == nil {
			covered[rec.RevisionID] = make(map[int]bool)
		}
		covered[rec.RevisionID][rec.ModelID] = true
	}

	// A revision missing any requested model counts as a miss and is
	// re-fetched for all requested models; the idempotent store discards the
	// store-side duplicates and the response-side ones are filtered below.
	var misses []int64
	for _, revID := range revisionIDs {
		for _, modelID := range modelIDs {
			if !covered[revID][modelID] {
				misses = append(misses, revID)
				break
			}
		}
	}
	if len(misses) == 0 {
		return results, false, nil
	}

	inline := misses
	if len(inline) > s.cfg.Fetch.InlineBatchSize {
		inline = inline[:s.cfg.Fetch.InlineBatchSize]
	}
	remainder := misses[len(inline):]

	fetched, err := s.fetchAndStore(ctx, inline, modelNames, parents)
	continuation := len(remainder) > 0
	if err != nil {
		// Hard scorer failure: the inline revisions stay unresolved, but the
		// cached partial result is still usable.
		s.logger.Error("Inline score fetch failed", zap.Error(err))
		continuation = true
	}
	for _, rec := range fetched {
		if covered[rec.RevisionID][rec.ModelID] {
			// Already served from the cache read above.
			continue
		}
		results[rec.RevisionID] = append(results[rec.RevisionID], rec)
	}

	s.enqueueBackground(remainder, modelNames, parents)

	return results, continuation, nil
}

// enqueueBackground splits the leftover misses into fixed-size job batches
// and enqueues at most the configured number of jobs. Excess batches are
// counted as dropped and deferred to a future request.
func (s *ScoreService) enqueueBackground(misses []int64, modelNames []string, parents map[int64]int64) {
	if len(misses) == 0 {
		return
	}

	enqueued := 0
	for start := 0; start < len(misses); start += s.cfg.Fetch.JobBatchSize {
		if enqueued >= s.cfg.Fetch.MaxJobsPerRequest {
			// The full-queue path is counted by the pool itself.
			s.metrics.JobsDropped.Inc()
			continue
		}
		end := start + s.cfg.Fetch.JobBatchSize
		if end > len(misses) {
			end = len(misses)
		}
		batch := misses[start:end]
		spec := jobs.NewFetchJobSpec(batch, modelNames, parentsFor(batch, parents))
		if !s.queue.Enqueue(spec) {
			break
		}
		enqueued++
	}

	if enqueued > 0 {
		s.logger.Info("Enqueued background fetch jobs",
			zap.Int("jobs", enqueued), zap.Int("pending_revisions", len(misses)))
	}
}

// RunFetchJob executes one background fetch job. Hard failures propagate to
// the job runner for its own retry/alerting policy.
func (s *ScoreService) RunFetchJob(ctx context.Context, spec jobs.FetchJobSpec) error {
	_, err := s.fetchAndStore(ctx, spec.RevisionIDs, spec.Models, spec.Parents)
	return err
}

// fetchAndStore is the shared fetch path for the inline slice and background
// jobs: one scorer round trip (with its single internal retry), per-item
// normalization, one idempotent bulk write, then superseded-parent cleanup.
func (s *ScoreService) fetchAndStore(ctx context.Context, revisionIDs []int64, modelNames []string, parents map[int64]int64) ([]models.ClassificationRecord, error) {
	// Covers the round trip plus its internal retry.
	ctx, cancel := context.WithTimeout(ctx, 2*time.Duration(s.cfg.Scorer.TimeoutSeconds)*time.Second)
	defer cancel()

	outcomes, err := s.scorer.Score(ctx, modelNames, revisionIDs)
	if err != nil {
		return nil, err
	}

	var records []models.ClassificationRecord
	scoredRevisions := make(map[int64]bool)
	for revID, perModel := range outcomes {
		for modelName, outcome := range perModel {
			s.metrics.ScorerOutcomes.WithLabelValues(outcome.Kind.String()).Inc()

			result := s.normalizer.Normalize(ctx, revID, modelName, outcome)
			if result.Err != nil {
				// Per-item failures never abort the batch; the revision is
				// excluded from stored results.
				if result.Err.Benign() {
					s.logger.Debug("Skipping unscorable revision", zap.Error(result.Err))
				} else {
					s.logger.Warn("Skipping misconfigured score result", zap.Error(result.Err))
				}
				continue
			}
			records = append(records, result.Records...)
			if len(result.Records) > 0 {
				scoredRevisions[revID] = true
			}
		}
	}

	if len(records) > 0 {
		if err := s.repo.InsertRecords(records); err != nil {
			// A hard storage error aborts only this write. The fetched
			// records are still returned to the caller, and parent cleanup
			// is skipped rather than run against a known-bad write.
			s.logger.Error("Failed to store classification records", zap.Error(err))
			return records, nil
		}
		s.metrics.RecordsStored.Add(float64(len(records)))
		s.cleanupSupersededParents(ctx, scoredRevisions, modelNames, parents)
	}

	return records, nil
}

// cleanupSupersededParents deletes the records of each newly-scored
// revision's immediate predecessor. Most consumers only need the latest
// revision of a lineage, so this bounds storage growth for high-churn
// content without a separate GC sweep.
func (s *ScoreService) cleanupSupersededParents(ctx context.Context, scoredRevisions map[int64]bool, modelNames []string, parents map[int64]int64) {
	if len(parents) == 0 {
		return
	}

	var parentIDs []int64
	for revID := range scoredRevisions {
		if parentID, ok := parents[revID]; ok && parentID > 0 {
			parentIDs = append(parentIDs, parentID)
		}
	}
	if len(parentIDs) == 0 {
		return
	}

	modelIDs, err := s.resolveModelIDs(ctx, modelNames)
	if err != nil {
		s.logger.Warn("Skipping parent cleanup, model resolution failed", zap.Error(err))
		return
	}

	if err := s.repo.DeleteParentRecords(parentIDs, modelIDs); err != nil {
		s.logger.Error("Failed to clean up superseded parent scores", zap.Error(err))
	}
}

// Purge deletes all records for the given revisions, except those belonging
// to keep-forever models.
func (s *ScoreService) Purge(ctx context.Context, revisionIDs []int64) error {
	var protected []int
	for name, mc := range s.cfg.Models {
		if !mc.KeepForever {
			continue
		}
		id, err := s.registry.GetID(ctx, name)
		if err != nil {
			// Never observed yet, so it has no rows to protect.
			continue
		}
		protected = append(protected, id)
	}
	return s.repo.PurgeRevisions(dedupe(revisionIDs), protected)
}

// OnContentPurged cascades a content deletion: every record for the given
// revisions goes, keep-forever models included, because the content they
// scored no longer exists.
func (s *ScoreService) OnContentPurged(ctx context.Context, revisionIDs []int64) error {
	return s.repo.DeleteAllForRevisions(dedupe(revisionIDs))
}

func (s *ScoreService) resolveModelIDs(ctx context.Context, modelNames []string) ([]int, error) {
	ids := make([]int, 0, len(modelNames))
	for _, name := range modelNames {
		id, err := s.registry.GetID(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve model %q: %w", name, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func parentsFor(revisionIDs []int64, parents map[int64]int64) map[int64]int64 {
	if len(parents) == 0 {
		return nil
	}
	out := make(map[int64]int64)
	for _, revID := range revisionIDs {
		if parentID, ok := parents[revID]; ok {
			out[revID] = parentID
		}
	}
	return out
}

func dedupe(ids []int64) []int64 {
	seen := make(map[int64]struct{}, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
