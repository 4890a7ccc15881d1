package autofix

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGroupedRollingMeanRewritesWholeFrameAverage(t *testing.T) {
	source := `import pandas as pd

class MomentumScanner:
    def compute_features(self, df):
        df['volume_ma'] = df['volume'].rolling(20).mean()
        return df
`
	result := New().Fix(source)

	require.True(t, result.Changed)
	assert.Equal(t, []string{RuleGroupedRollingMean}, result.Applied)
	assert.Contains(t, result.Source,
		"df['volume_ma'] = df.groupby('ticker')['volume'].transform(lambda s: s.rolling(20).mean())")
	assert.NotContains(t, result.Source, "df['volume'].rolling(20)")
}

func TestGroupedRollingMeanLeavesCorrectIdiomAlone(t *testing.T) {
	source := `class MomentumScanner:
    def compute_features(self, df):
        df['volume_ma'] = df.groupby('ticker')['volume'].transform(lambda s: s.rolling(20).mean())
        return df
`
	result := New().Fix(source)

	assert.False(t, result.Changed)
	assert.Empty(t, result.Applied)
	assert.Equal(t, source, result.Source, "Correct source passes through untouched")
}

func TestGroupedRollingMeanSkipsComments(t *testing.T) {
	source := `class MomentumScanner:
    def compute_features(self, df):
        # df['volume_ma'] = df['volume'].rolling(20).mean()
        return df
`
	result := New().Fix(source)
	assert.False(t, result.Changed)
}

func TestCanonicalDateFieldsRenamesSynonymsEverywhere(t *testing.T) {
	source := `class GapScanner:
    def __init__(self, tickers, startDate, endDate):
        self.tickers = tickers
        self.startDate = startDate
        self.endDate = endDate
`
	result := New().Fix(source)

	require.True(t, result.Changed)
	assert.Equal(t, []string{RuleCanonicalDateFields}, result.Applied)
	assert.Contains(t, result.Source, "def __init__(self, tickers, start_date, end_date):")
	assert.Contains(t, result.Source, "self.start_date = start_date")
	assert.Contains(t, result.Source, "self.end_date = end_date")
	assert.NotContains(t, result.Source, "startDate")
	assert.NotContains(t, result.Source, "endDate")
}

func TestCanonicalDateFieldsIgnoresPandasToDatetime(t *testing.T) {
	source := `class GapScanner:
    def fetch_data(self):
        df['date'] = pd.to_datetime(df['date'])
        return df
`
	result := New().Fix(source)
	assert.False(t, result.Changed, "to_datetime is not the to_date synonym")
}

func TestMissingSelfAssignmentInjectedAtTopOfConstructor(t *testing.T) {
	source := `class BreakoutScanner:
    def __init__(self, tickers, start_date, end_date, min_volume=1000000):
        self.tickers = tickers
        self.start_date = start_date
        self.end_date = end_date

    def apply_filters(self, df):
        return df[df['volume'] > self.min_volume]
`
	result := New().Fix(source)

	require.True(t, result.Changed)
	assert.Equal(t, []string{RuleMissingSelfAssignment}, result.Applied)
	assert.Contains(t, result.Source,
		"def __init__(self, tickers, start_date, end_date, min_volume=1000000):\n        self.min_volume = min_volume\n        self.tickers = tickers",
		"Injected assignment opens the constructor body")
}

func TestMissingSelfAssignmentLeavesCompleteConstructorAlone(t *testing.T) {
	source := `class BreakoutScanner:
    def __init__(self, tickers, min_volume=1000000):
        self.tickers = tickers
        self.min_volume = min_volume

    def apply_filters(self, df):
        return df[df['volume'] > self.min_volume]
`
	result := New().Fix(source)
	assert.False(t, result.Changed)
}

func TestStripFenceMarkersRemovesMarkdownResidue(t *testing.T) {
	source := "```python\nimport pandas as pd\n\nclass GapScanner:\n    pass\n```\n"

	result := New().Fix(source)

	require.True(t, result.Changed)
	assert.Equal(t, []string{RuleStripFenceMarkers}, result.Applied)
	assert.Equal(t, "import pandas as pd\n\nclass GapScanner:\n    pass\n", result.Source)
}

// brokenScanner carries all four known generation defects at once.
const brokenScanner = "```python\n" + `import pandas as pd

class SqueezeScanner:
    def __init__(self, tickers, startDate, endDate, min_gap_pct=0.03):
        self.tickers = tickers
        self.startDate = startDate
        self.endDate = endDate

    def compute_features(self, df):
        df['vol_ma'] = df['volume'].rolling(20).mean()
        df['prev_close'] = df.groupby('ticker')['close'].transform(lambda s: s.shift(1))
        return df

    def apply_filters(self, df):
        return df[df['gap_pct'] > self.min_gap_pct]
` + "```\n"

func TestFixAppliesRulesInOrder(t *testing.T) {
	result := New().Fix(brokenScanner)

	require.True(t, result.Changed)
	assert.Equal(t, []string{
		RuleGroupedRollingMean,
		RuleCanonicalDateFields,
		RuleMissingSelfAssignment,
		RuleStripFenceMarkers,
	}, result.Applied)

	assert.Contains(t, result.Source, "df.groupby('ticker')['volume'].transform(lambda s: s.rolling(20).mean())")
	assert.Contains(t, result.Source, "self.start_date = start_date")
	assert.Contains(t, result.Source, "self.min_gap_pct = min_gap_pct")
	assert.NotContains(t, result.Source, "```")
}

func TestFixIsIdempotent(t *testing.T) {
	first := New().Fix(brokenScanner)
	second := New().Fix(first.Source)

	assert.Equal(t, first.Source, second.Source, "Fixing fixed source changes nothing")
	assert.False(t, second.Changed)
	assert.Empty(t, second.Applied)
}

func TestFixLeavesCleanSourceIdentical(t *testing.T) {
	source := `import pandas as pd

class GapScanner:
    def __init__(self, tickers, start_date, end_date, min_gap_pct=0.03):
        self.tickers = tickers
        self.start_date = start_date
        self.end_date = end_date
        self.min_gap_pct = min_gap_pct

    def run(self):
        return []
`
	result := New().Fix(source)

	assert.False(t, result.Changed)
	assert.Empty(t, result.Applied)
	assert.Equal(t, source, result.Source)
}
