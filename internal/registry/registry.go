package registry

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"revscore/internal/config"
	"revscore/internal/models"
	"revscore/internal/repository"
)

// InfoFetcher is the slice of the scorer client needed for cold-start
// bootstrap.
type InfoFetcher interface {
	ModelInfo(ctx context.Context, modelName string) (string, error)
}

// Registry maps model names to stable ids and tracks the current version of
// each model. The in-memory cache is process-scoped and constructed
// explicitly here; it mirrors the scoring_models tables and is refreshed on
// version observations.
type Registry struct {
	cfg     *config.Config
	repo    repository.ModelRepository
	fetcher InfoFetcher
	logger  *zap.Logger

	mu     sync.RWMutex
	byName map[string]models.Model
	loaded bool
}

func New(cfg *config.Config, repo repository.ModelRepository, fetcher InfoFetcher, logger *zap.Logger) *Registry {
	return &Registry{
		cfg:     cfg,
		repo:    repo,
		fetcher: fetcher,
		logger:  logger,
		byName:  make(map[string]models.Model),
	}
}

// GetID returns the stable numeric id for the named model.
func (r *Registry) GetID(ctx context.Context, name string) (int, error) {
	m, err := r.get(ctx, name)
	if err != nil {
		return 0, err
	}
	return m.ID, nil
}

// GetVersion returns the current version string for the named model.
func (r *Registry) GetVersion(ctx context.Context, name string) (string, error) {
	m, err := r.get(ctx, name)
	if err != nil {
		return "", err
	}
	return m.Version, nil
}

// ListModels returns the current version row of every known model, lazily
// bootstrapping from the remote scorer when storage is empty.
func (r *Registry) ListModels(ctx context.Context) (map[string]models.Model, error) {
	if err := r.ensureLoaded(ctx); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]models.Model, len(r.byName))
	for name, m := range r.byName {
		out[name] = m
	}
	return out, nil
}

// RecordObservedVersion records a version string seen in a scoring response.
// A version differing from the stored current one demotes the old row and
// promotes the new one. Last-writer-wins: versions are cache-busting metadata
// only, so racing updates need no cross-process lock.
func (r *Registry) RecordObservedVersion(name, version string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cached, ok := r.byName[name]; ok && cached.Version == version {
		return
	}

	m, err := r.repo.EnsureCurrent(name, version)
	if err != nil {
		// A failed flip must not fail the scoring path that observed it.
		r.logger.Error("Failed to record observed model version",
			zap.String("model", name), zap.String("version", version), zap.Error(err))
		return
	}

	r.logger.Info("Model version updated",
		zap.String("model", name), zap.String("version", version))
	r.byName[name] = *m
}

func (r *Registry) get(ctx context.Context, name string) (models.Model, error) {
	if err := r.ensureLoaded(ctx); err != nil {
		return models.Model{}, err
	}

	r.mu.RLock()
	m, ok := r.byName[name]
	r.mu.RUnlock()
	if !ok {
		return models.Model{}, models.ErrModelNotFound
	}
	return m, nil
}

func (r *Registry) ensureLoaded(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.loaded {
		return nil
	}

	known, err := r.repo.GetAllCurrent()
	if err != nil {
		return err
	}
	for _, m := range known {
		r.byName[m.Name] = m
	}

	// Cold start: nothing in storage yet, ask the scorer for every enabled
	// model so ids get assigned.
	if len(known) == 0 {
		for _, name := range r.cfg.EnabledModels() {
			version, err := r.fetcher.ModelInfo(ctx, name)
			if err != nil {
				r.logger.Warn("Bootstrap: failed to fetch model info",
					zap.String("model", name), zap.Error(err))
				continue
			}
			m, err := r.repo.EnsureCurrent(name, version)
			if err != nil {
				r.logger.Error("Bootstrap: failed to store model",
					zap.String("model", name), zap.Error(err))
				continue
			}
			r.byName[name] = *m
		}
	}

	r.loaded = true
	return nil
}
