package threshold

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"revscore/internal/config"
	"revscore/internal/metrics"
	"revscore/internal/models"
)

type fakeStats struct {
	stats models.Statistics
	err   error
	calls int
}

func (f *fakeStats) FetchStatistics(_ context.Context, _ string, _ []string) (models.Statistics, error) {
	f.calls++
	return f.stats, f.err
}

type fakeVersions struct {
	version string
}

func (f *fakeVersions) GetVersion(_ context.Context, _ string) (string, error) {
	return f.version, nil
}

func testConfig(levels map[string]config.LevelSpec) *config.Config {
	cfg := &config.Config{}
	cfg.Thresholds.CacheSize = 16
	cfg.Thresholds.CacheTTLSeconds = 3600
	cfg.Thresholds.NegativeTTLSeconds = 60
	cfg.Models = map[string]config.ModelConfig{
		"damaging": {
			Enabled:      true,
			Classes:      map[string]int{"false": 0, "true": 1},
			FilterMode:   "range",
			FilterLevels: levels,
		},
	}
	return cfg
}

func newTestCompiler(t *testing.T, levels map[string]config.LevelSpec, stats *fakeStats) *Compiler {
	t.Helper()
	c, err := NewCompiler(testConfig(levels), stats, &fakeVersions{version: "0.5.1"}, metrics.New(), zap.NewNop())
	require.NoError(t, err)
	return c
}

func TestThresholds_FormulaBounds(t *testing.T) {
	// min comes from the "true" outcome directly; max is mirrored from the
	// "false" outcome onto the "true" probability scale.
	stats := &fakeStats{stats: models.Statistics{
		"true": {
			"maximum recall @ precision >= 0.945": {Threshold: 0.945},
		},
		"false": {
			"maximum recall @ precision >= 0.259": {Threshold: 0.259},
		},
	}}
	levels := map[string]config.LevelSpec{
		"likelybad": {
			Min: "maximum recall @ precision >= 0.945",
			Max: "maximum recall @ precision >= 0.259",
		},
	}

	c := newTestCompiler(t, levels, stats)
	bounds, err := c.Thresholds(context.Background(), "damaging")
	require.NoError(t, err)

	require.Contains(t, bounds, "likelybad")
	assert.InDelta(t, 0.945, bounds["likelybad"].Min, 1e-9)
	assert.InDelta(t, 0.741, bounds["likelybad"].Max, 1e-9)
}

func TestThresholds_LiteralBoundsNeedNoStatistics(t *testing.T) {
	stats := &fakeStats{}
	levels := map[string]config.LevelSpec{
		"verylikelygood": {Min: "0", Max: "0.3"},
	}

	c := newTestCompiler(t, levels, stats)
	bounds, err := c.Thresholds(context.Background(), "damaging")
	require.NoError(t, err)

	assert.Equal(t, models.Bounds{Min: 0, Max: 0.3}, bounds["verylikelygood"])
	assert.Equal(t, 0, stats.calls)
}

func TestThresholds_UnresolvableLevelIsDropped(t *testing.T) {
	stats := &fakeStats{stats: models.Statistics{
		"true":  {},
		"false": {},
	}}
	levels := map[string]config.LevelSpec{
		"likelybad": {Min: "maximum recall @ precision >= 0.6", Max: "1"},
		"literal":   {Min: "0.2", Max: "0.8"},
	}

	c := newTestCompiler(t, levels, stats)
	bounds, err := c.Thresholds(context.Background(), "damaging")
	require.NoError(t, err)

	assert.NotContains(t, bounds, "likelybad")
	assert.Contains(t, bounds, "literal")
}

func TestThresholds_ResultIsCached(t *testing.T) {
	stats := &fakeStats{stats: models.Statistics{
		"true":  {"maximum recall @ precision >= 0.15": {Threshold: 0.5}},
		"false": {},
	}}
	levels := map[string]config.LevelSpec{
		"maybebad": {Min: "maximum recall @ precision >= 0.15", Max: "1"},
	}

	c := newTestCompiler(t, levels, stats)
	_, err := c.Thresholds(context.Background(), "damaging")
	require.NoError(t, err)
	_, err = c.Thresholds(context.Background(), "damaging")
	require.NoError(t, err)

	assert.Equal(t, 1, stats.calls)
}

func TestThresholds_UpstreamFailureIsCachedBriefly(t *testing.T) {
	stats := &fakeStats{err: &models.ServiceError{StatusCode: 500, Message: "boom"}}
	levels := map[string]config.LevelSpec{
		"maybebad": {Min: "maximum recall @ precision >= 0.15", Max: "1"},
	}

	c := newTestCompiler(t, levels, stats)
	_, err := c.Thresholds(context.Background(), "damaging")
	require.Error(t, err)
	_, err = c.Thresholds(context.Background(), "damaging")
	require.Error(t, err)

	// Second call was served from the negative cache.
	assert.Equal(t, 1, stats.calls)
}

func TestThresholds_CacheExpires(t *testing.T) {
	stats := &fakeStats{stats: models.Statistics{
		"true":  {"maximum recall @ precision >= 0.15": {Threshold: 0.5}},
		"false": {},
	}}
	levels := map[string]config.LevelSpec{
		"maybebad": {Min: "maximum recall @ precision >= 0.15", Max: "1"},
	}

	c := newTestCompiler(t, levels, stats)
	c.ttl = time.Millisecond

	_, err := c.Thresholds(context.Background(), "damaging")
	require.NoError(t, err)
	time.Sleep(5 * time.Millisecond)
	_, err = c.Thresholds(context.Background(), "damaging")
	require.NoError(t, err)

	assert.Equal(t, 2, stats.calls)
}

func TestThresholds_UnknownLegacyFormulaIsHardError(t *testing.T) {
	levels := map[string]config.LevelSpec{
		"broken": {Min: "bogus_statistic(x=1)", Max: "1"},
	}

	c := newTestCompiler(t, levels, &fakeStats{})
	_, err := c.Thresholds(context.Background(), "damaging")
	require.Error(t, err)
	var cfgErr *models.ConfigError
	assert.ErrorAs(t, err, &cfgErr)
}

func TestThresholds_UnknownModel(t *testing.T) {
	c := newTestCompiler(t, map[string]config.LevelSpec{"x": {Min: "0", Max: "1"}}, &fakeStats{})
	_, err := c.Thresholds(context.Background(), "nonexistent")
	assert.ErrorIs(t, err, models.ErrModelNotFound)
}
