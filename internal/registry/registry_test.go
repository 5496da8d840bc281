package registry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"revscore/internal/config"
	"revscore/internal/models"
)

type fakeModelRepo struct {
	current map[string]models.Model
	nextID  int
	flips   int
}

func newFakeModelRepo() *fakeModelRepo {
	return &fakeModelRepo{current: make(map[string]models.Model), nextID: 1}
}

func (f *fakeModelRepo) GetCurrent(name string) (*models.Model, error) {
	m, ok := f.current[name]
	if !ok {
		return nil, models.ErrModelNotFound
	}
	return &m, nil
}

func (f *fakeModelRepo) GetAllCurrent() ([]models.Model, error) {
	var out []models.Model
	for _, m := range f.current {
		out = append(out, m)
	}
	return out, nil
}

func (f *fakeModelRepo) EnsureCurrent(name, version string) (*models.Model, error) {
	f.flips++
	existing, ok := f.current[name]
	id := existing.ID
	if !ok {
		id = f.nextID
		f.nextID++
	}
	m := models.Model{ID: id, Name: name, Version: version, IsCurrent: true}
	f.current[name] = m
	return &m, nil
}

type fakeFetcher struct {
	versions map[string]string
	calls    int
}

func (f *fakeFetcher) ModelInfo(_ context.Context, name string) (string, error) {
	f.calls++
	version, ok := f.versions[name]
	if !ok {
		return "", &models.ServiceError{StatusCode: 404, Message: "unknown model"}
	}
	return version, nil
}

func registryConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Models = map[string]config.ModelConfig{
		"damaging":  {Enabled: true, Classes: map[string]int{"false": 0, "true": 1}},
		"goodfaith": {Enabled: true, Classes: map[string]int{"false": 0, "true": 1}},
		"disabled":  {Enabled: false, Classes: map[string]int{"false": 0, "true": 1}},
	}
	return cfg
}

func TestListModels_ColdStartBootstrapsFromScorer(t *testing.T) {
	repo := newFakeModelRepo()
	fetcher := &fakeFetcher{versions: map[string]string{"damaging": "0.5.1", "goodfaith": "0.4.0"}}
	reg := New(registryConfig(), repo, fetcher, zap.NewNop())

	known, err := reg.ListModels(context.Background())
	require.NoError(t, err)

	assert.Len(t, known, 2, "only enabled models are bootstrapped")
	assert.Equal(t, "0.5.1", known["damaging"].Version)
	assert.NotZero(t, known["damaging"].ID)
	assert.NotContains(t, known, "disabled")
}

func TestListModels_WarmStartSkipsScorer(t *testing.T) {
	repo := newFakeModelRepo()
	_, err := repo.EnsureCurrent("damaging", "0.5.1")
	require.NoError(t, err)

	fetcher := &fakeFetcher{}
	reg := New(registryConfig(), repo, fetcher, zap.NewNop())

	known, err := reg.ListModels(context.Background())
	require.NoError(t, err)

	assert.Len(t, known, 1)
	assert.Equal(t, 0, fetcher.calls)
}

func TestGetIDAndVersion(t *testing.T) {
	repo := newFakeModelRepo()
	fetcher := &fakeFetcher{versions: map[string]string{"damaging": "0.5.1", "goodfaith": "0.4.0"}}
	reg := New(registryConfig(), repo, fetcher, zap.NewNop())

	id, err := reg.GetID(context.Background(), "damaging")
	require.NoError(t, err)
	assert.NotZero(t, id)

	version, err := reg.GetVersion(context.Background(), "damaging")
	require.NoError(t, err)
	assert.Equal(t, "0.5.1", version)

	_, err = reg.GetID(context.Background(), "mystery")
	assert.ErrorIs(t, err, models.ErrModelNotFound)
}

func TestRecordObservedVersion_FlipsOnlyOnChange(t *testing.T) {
	repo := newFakeModelRepo()
	fetcher := &fakeFetcher{versions: map[string]string{"damaging": "0.5.1", "goodfaith": "0.4.0"}}
	reg := New(registryConfig(), repo, fetcher, zap.NewNop())

	_, err := reg.ListModels(context.Background())
	require.NoError(t, err)
	flipsAfterBootstrap := repo.flips

	// Same version: no write.
	reg.RecordObservedVersion("damaging", "0.5.1")
	assert.Equal(t, flipsAfterBootstrap, repo.flips)

	// New version: demote-and-promote, id stays stable.
	idBefore, err := reg.GetID(context.Background(), "damaging")
	require.NoError(t, err)
	reg.RecordObservedVersion("damaging", "0.6.0")
	assert.Equal(t, flipsAfterBootstrap+1, repo.flips)

	version, err := reg.GetVersion(context.Background(), "damaging")
	require.NoError(t, err)
	assert.Equal(t, "0.6.0", version)

	idAfter, err := reg.GetID(context.Background(), "damaging")
	require.NoError(t, err)
	assert.Equal(t, idBefore, idAfter)
}

// An observation arriving before any read still lands, even when the model
// was never bootstrapped.
func TestRecordObservedVersion_NewModel(t *testing.T) {
	repo := newFakeModelRepo()
	reg := New(registryConfig(), repo, &fakeFetcher{}, zap.NewNop())

	reg.RecordObservedVersion("damaging", "0.5.1")

	m, err := repo.GetCurrent("damaging")
	require.NoError(t, err)
	assert.Equal(t, "0.5.1", m.Version)
}
