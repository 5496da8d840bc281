package threshold

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"revscore/internal/models"
)

func TestParse_CurrentGrammar(t *testing.T) {
	f, err := Parse("maximum recall @ precision >= 0.15")
	require.NoError(t, err)
	assert.Equal(t, RecallAtPrecision, f.Kind)
	assert.Equal(t, 0.15, f.Target)

	f, err = Parse("maximum filter_rate @ recall >= 0.45")
	require.NoError(t, err)
	assert.Equal(t, FilterRateAtRecall, f.Kind)
	assert.Equal(t, 0.45, f.Target)
}

func TestParse_LegacyGrammar(t *testing.T) {
	f, err := Parse("recall_at_precision(min_precision=0.15)")
	require.NoError(t, err)
	assert.Equal(t, RecallAtPrecision, f.Kind)
	assert.Equal(t, 0.15, f.Target)

	f, err = Parse("filter_rate_at_recall(min_recall=0.45)")
	require.NoError(t, err)
	assert.Equal(t, FilterRateAtRecall, f.Kind)
	assert.Equal(t, 0.45, f.Target)
}

func TestParse_LegacyNormalizesToCurrentString(t *testing.T) {
	legacy, err := Parse("recall_at_precision(min_precision=0.6)")
	require.NoError(t, err)
	current, err := Parse("maximum recall @ precision >= 0.6")
	require.NoError(t, err)

	assert.Equal(t, current.String(), legacy.String())
	assert.Equal(t, "maximum recall @ precision >= 0.6", legacy.String())
}

func TestParse_Errors(t *testing.T) {
	cases := []string{
		"",
		"maximum recall @ precision > 0.15",
		"maximum accuracy @ precision >= 0.15",
		"maximum recall @ recall >= 0.15",
		"recall_at_precision(min_recall=0.15)",
		"some_other_statistic(x=1)",
		"recall_at_precision(min_precision=abc)",
		"maximum recall @ precision >= abc",
	}
	for _, input := range cases {
		_, err := Parse(input)
		require.Error(t, err, "input %q", input)
		var cfgErr *models.ConfigError
		assert.ErrorAs(t, err, &cfgErr, "input %q", input)
	}
}

func TestParseBound(t *testing.T) {
	b, err := ParseBound("0.945")
	require.NoError(t, err)
	require.NotNil(t, b.Literal)
	assert.Equal(t, 0.945, *b.Literal)
	assert.Nil(t, b.Formula)

	b, err = ParseBound("maximum recall @ precision >= 0.15")
	require.NoError(t, err)
	require.NotNil(t, b.Formula)
	assert.Nil(t, b.Literal)

	_, err = ParseBound("")
	assert.Error(t, err)

	_, err = ParseBound("not a formula")
	assert.Error(t, err)
}
