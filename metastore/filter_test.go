package metastore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/tablescan/errors"
)

func TestParseFilterMatch(t *testing.T) {
	us := map[string]string{"region": "US", "dt": "2024-01-02", "hour": "9"}
	eu := map[string]string{"region": "EU", "dt": "2024-01-01", "hour": "10"}

	tests := []struct {
		expr   string
		wantUS bool
		wantEU bool
	}{
		{"", true, true},
		{"   ", true, true},
		{"region='US'", true, false},
		{`region = "EU"`, false, true},
		{"region=US", true, false},
		{"region != 'US'", false, true},
		{"region <> 'US'", false, true},
		{"dt >= '2024-01-02'", true, false},
		{"dt < 2024-01-02", false, true},
		{"hour > 9", false, true},   // numeric, not lexical
		{"hour <= 9", true, false},  // numeric
		{"hour > '10'", false, false},
		{"region='US' or region='EU'", true, true},
		{"region='US' and dt='2024-01-01'", false, false},
		{"region='EU' or region='US' and dt='2024-01-01'", false, true},
		{"(region='EU' or region='US') and dt='2024-01-02'", true, false},
		{"region='US' AND hour=9 OR region='EU' And hour=10", true, true},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			f, err := ParseFilter(tt.expr)
			require.NoError(t, err)
			assert.Equal(t, tt.wantUS, f.Match(us), "US")
			assert.Equal(t, tt.wantEU, f.Match(eu), "EU")
		})
	}
}

func TestParseFilterNonFiniteValues(t *testing.T) {
	tests := []struct {
		expr  string
		value string
		want  bool
	}{
		{"v = 'nan'", "3", false},
		{"v = 'nan'", "nan", true},
		{"v = 3", "NaN", false},
		{"v = 'inf'", "1e400", false},
		{"v = 'infinity'", "5", false},
		{"v = 16", "0x10", false},
		{"v = 1000", "1_000", false},
		{"v = 1000", "1e3", true},
		{"v < 10", "9.5", true},
	}
	for _, tt := range tests {
		t.Run(tt.expr+"/"+tt.value, func(t *testing.T) {
			f, err := ParseFilter(tt.expr)
			require.NoError(t, err)
			assert.Equal(t, tt.want, f.Match(map[string]string{"v": tt.value}))
		})
	}

	// exactly one of a comparison and its negation holds
	for _, value := range []string{"NaN", "nan", "inf", "-Inf", "3"} {
		lt, err := ParseFilter("v < 5")
		require.NoError(t, err)
		ge, err := ParseFilter("v >= 5")
		require.NoError(t, err)
		partition := map[string]string{"v": value}
		assert.NotEqual(t, lt.Match(partition), ge.Match(partition), value)
	}
}

func TestParseFilterMissingKeyIsFalse(t *testing.T) {
	f, err := ParseFilter("region='US'")
	require.NoError(t, err)
	assert.False(t, f.Match(map[string]string{"dt": "2024-01-01"}))
	assert.False(t, f.Match(nil))
}

func TestParseFilterErrors(t *testing.T) {
	for _, expr := range []string{
		"region",
		"region =",
		"= 'US'",
		"region == 'US'",
		"region = 'US",
		"region = 'US' and",
		"(region = 'US'",
		"region = 'US')",
		"region = 'US' 'EU'",
		"and = 1",
		"region ! 'US'",
	} {
		t.Run(expr, func(t *testing.T) {
			_, err := ParseFilter(expr)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidFilter))
		})
	}
}

func TestFilterKeys(t *testing.T) {
	f, err := ParseFilter("region='US' or (dt > 1 and region='EU')")
	require.NoError(t, err)
	assert.Equal(t, []string{"dt", "region"}, f.Keys())
	assert.False(t, f.IsEmpty())

	empty, err := ParseFilter("")
	require.NoError(t, err)
	assert.Nil(t, empty.Keys())
	assert.True(t, empty.IsEmpty())
}

func TestFilterCheckKeys(t *testing.T) {
	f, err := ParseFilter("region='US' and dt='2024-01-01'")
	require.NoError(t, err)

	assert.NoError(t, f.CheckKeys([]string{"dt", "region"}))

	err = f.CheckKeys([]string{"region"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidFilter))
	assert.Contains(t, err.Error(), `"dt"`)
	assert.NotEmpty(t, errors.GetAllHints(err))
}
