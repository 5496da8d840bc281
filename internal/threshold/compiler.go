package threshold

import (
	"context"
	"fmt"
	"hash/fnv"
	"sort"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"revscore/internal/config"
	"revscore/internal/metrics"
	"revscore/internal/models"
)

// StatisticsFetcher is the slice of the scorer client the compiler needs.
type StatisticsFetcher interface {
	FetchStatistics(ctx context.Context, modelName string, formulas []string) (models.Statistics, error)
}

// VersionGetter is the slice of the model registry the compiler needs.
type VersionGetter interface {
	GetVersion(ctx context.Context, modelName string) (string, error)
}

type cacheEntry struct {
	bounds  map[string]models.Bounds
	err     error
	expires time.Time
}

// Compiler resolves a model's configured filter levels into numeric
// probability bounds. Computed bound sets are cached per (model, version,
// level-config hash); upstream failures are cached briefly so a failing
// scorer is not hammered, and singleflight collapses concurrent misses for
// the same key into one upstream request.
type Compiler struct {
	cfg      *config.Config
	stats    StatisticsFetcher
	versions VersionGetter
	logger   *zap.Logger
	metrics  *metrics.Metrics

	cache       *lru.Cache[string, cacheEntry]
	flight      singleflight.Group
	ttl         time.Duration
	negativeTTL time.Duration
}

func NewCompiler(cfg *config.Config, stats StatisticsFetcher, versions VersionGetter, m *metrics.Metrics, logger *zap.Logger) (*Compiler, error) {
	cache, err := lru.New[string, cacheEntry](cfg.Thresholds.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create threshold cache: %w", err)
	}
	return &Compiler{
		cfg:         cfg,
		stats:       stats,
		versions:    versions,
		logger:      logger,
		metrics:     m,
		cache:       cache,
		ttl:         time.Duration(cfg.Thresholds.CacheTTLSeconds) * time.Second,
		negativeTTL: time.Duration(cfg.Thresholds.NegativeTTLSeconds) * time.Second,
	}, nil
}

// Thresholds returns the resolved [min,max] bounds per filter level for the
// named model. Levels whose bounds cannot be resolved from the statistics are
// dropped from the result, never defaulted.
func (c *Compiler) Thresholds(ctx context.Context, modelName string) (map[string]models.Bounds, error) {
	mc, ok := c.cfg.Model(modelName)
	if !ok {
		return nil, models.ErrModelNotFound
	}
	if len(mc.FilterLevels) == 0 {
		return nil, &models.ConfigError{
			Field:   "filter_levels",
			Message: fmt.Sprintf("model %q has no filter levels configured", modelName),
		}
	}

	version, err := c.versions.GetVersion(ctx, modelName)
	if err != nil {
		return nil, err
	}

	key := cacheKey(modelName, version, mc.FilterLevels)
	if entry, ok := c.cache.Get(key); ok && time.Now().Before(entry.expires) {
		c.metrics.ThresholdCacheHits.Inc()
		return entry.bounds, entry.err
	}
	c.metrics.ThresholdCacheMisses.Inc()

	v, err, _ := c.flight.Do(key, func() (interface{}, error) {
		bounds, err := c.compile(ctx, modelName, mc)
		if err != nil {
			// Negative caching: keep the failure briefly so concurrent and
			// immediately-following requests do not hammer a failing scorer.
			c.cache.Add(key, cacheEntry{err: err, expires: time.Now().Add(c.negativeTTL)})
			return nil, err
		}
		c.cache.Add(key, cacheEntry{bounds: bounds, expires: time.Now().Add(c.ttl)})
		return bounds, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(map[string]models.Bounds), nil
}

func (c *Compiler) compile(ctx context.Context, modelName string, mc config.ModelConfig) (map[string]models.Bounds, error) {
	type parsedLevel struct {
		name     string
		min, max BoundSpec
	}

	parsed := make([]parsedLevel, 0, len(mc.FilterLevels))
	formulaSet := make(map[string]struct{})
	for name, spec := range mc.FilterLevels {
		minSpec, err := ParseBound(spec.Min)
		if err != nil {
			return nil, err
		}
		maxSpec, err := ParseBound(spec.Max)
		if err != nil {
			return nil, err
		}
		if minSpec.Formula != nil {
			formulaSet[minSpec.Formula.String()] = struct{}{}
		}
		if maxSpec.Formula != nil {
			formulaSet[maxSpec.Formula.String()] = struct{}{}
		}
		parsed = append(parsed, parsedLevel{name: name, min: minSpec, max: maxSpec})
	}

	var stats models.Statistics
	if len(formulaSet) > 0 {
		formulas := make([]string, 0, len(formulaSet))
		for f := range formulaSet {
			formulas = append(formulas, f)
		}
		sort.Strings(formulas)

		var err error
		stats, err = c.stats.FetchStatistics(ctx, modelName, formulas)
		if err != nil {
			return nil, err
		}
	}

	bounds := make(map[string]models.Bounds, len(parsed))
	for _, level := range parsed {
		min, okMin := c.resolveBound(stats, level.min, false)
		max, okMax := c.resolveBound(stats, level.max, true)
		if !okMin || !okMax {
			// Dropping the level beats silently widening it to [0,1].
			c.logger.Warn("Dropping filter level with unresolvable bounds",
				zap.String("model", modelName), zap.String("level", level.name))
			continue
		}
		bounds[level.name] = models.Bounds{Min: min, Max: max}
	}
	return bounds, nil
}

// resolveBound turns one bound spec into a number. Formula-based max bounds
// are looked up under the "false" outcome and mirrored onto the "true"
// probability scale (1 - threshold): the statistics for the "false" outcome
// are computed against the complementary class, so using them unmirrored
// would yield systematically wrong upper bounds.
func (c *Compiler) resolveBound(stats models.Statistics, spec BoundSpec, isMax bool) (float64, bool) {
	if spec.Literal != nil {
		return *spec.Literal, true
	}

	outcome := "true"
	if isMax {
		outcome = "false"
	}
	st, ok := stats[outcome][spec.Formula.String()]
	if !ok {
		return 0, false
	}
	if isMax {
		return 1 - st.Threshold, true
	}
	return st.Threshold, true
}

// cacheKey hashes the level configuration so a config change invalidates the
// cached bound set even within one model version.
func cacheKey(model, version string, levels map[string]config.LevelSpec) string {
	names := make([]string, 0, len(levels))
	for name := range levels {
		names = append(names, name)
	}
	sort.Strings(names)

	h := fnv.New64a()
	for _, name := range names {
		spec := levels[name]
		fmt.Fprintf(h, "%s\x00%s\x00%s\x00", name, spec.Min, spec.Max)
	}
	return fmt.Sprintf("%s@%s#%x", model, version, h.Sum64())
}
