package semantic

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kart-io/shopfloor-copilot/pkg/utils/errors"
)

func testConfig() *Config {
	return &Config{
		StationTypes: map[string][]SignalDef{
			"assembly": {
				{
					SemanticID: "station.state",
					OpcSource:  "State",
					LossCategoryMap: map[string]string{
						"FAULTED":          "availability_loss",
						"MATERIALSHORTAGE": "availability_loss",
						"STARVED":          "performance_loss",
					},
				},
				{
					SemanticID: "cycle.time_s",
					OpcSource:  "CycleTime_s",
					Transforms: []Transform{
						{Type: "range_check", Min: 0, Max: 600},
						{Type: "moving_average", Window: 3},
					},
					LossCategoryRules: []LossRule{
						{Rule: "value > 60", Category: "performance_loss"},
					},
				},
				{
					SemanticID:   "throughput.scrap_ratio",
					OpcSource:    "ScrapCount",
					Transforms:   []Transform{{Type: "scale", Factor: 0.01}},
					LossCategory: "quality_loss",
				},
			},
		},
	}
}

func TestValidateRequiresStateSignal(t *testing.T) {
	require.NoError(t, Validate(testConfig()))

	bad := &Config{StationTypes: map[string][]SignalDef{
		"test": {{SemanticID: "cycle.time_s", OpcSource: "CycleTime_s", LossCategory: "x"}},
	}}
	assert.Error(t, Validate(bad))

	noLoss := &Config{StationTypes: map[string][]SignalDef{
		"test": {{SemanticID: "station.state", OpcSource: "State"}},
	}}
	assert.Error(t, Validate(noLoss))
}

func TestMapStateSignal(t *testing.T) {
	m := New(testConfig(), "")
	signals, err := m.Map("assembly", map[string]any{"State": "FAULTED"})
	require.NoError(t, err)

	require.Len(t, signals, 1)
	assert.Equal(t, "station.state", signals[0].SemanticID)
	assert.Equal(t, "FAULTED", signals[0].Value)
	assert.Equal(t, "availability_loss", signals[0].LossCategory)
}

func TestMapRunningStateHasNoLossCategory(t *testing.T) {
	m := New(testConfig(), "")
	signals, err := m.Map("assembly", map[string]any{"State": "RUNNING"})
	require.NoError(t, err)
	require.Len(t, signals, 1)
	assert.Empty(t, signals[0].LossCategory)
}

func TestMapUnclassifiedStoppedStateFailsValidation(t *testing.T) {
	m := New(testConfig(), "")

	// BLOCKED 不在值映射里：停机却无法归类损失必须报错
	signals, err := m.Map("assembly", map[string]any{"State": "BLOCKED"})
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrValidationFailed.Code))
	assert.Nil(t, signals)
}

func TestLossCategoryMapFallsThroughToRules(t *testing.T) {
	def := SignalDef{
		SemanticID:      "station.state",
		OpcSource:       "State",
		LossCategoryMap: map[string]string{"FAULTED": "availability_loss"},
		LossCategoryRules: []LossRule{
			{Rule: "value != RUNNING", Category: "availability_loss"},
		},
	}
	assert.Equal(t, "availability_loss", lossCategory(def, "FAULTED"))
	assert.Equal(t, "availability_loss", lossCategory(def, "BLOCKED"))
	assert.Empty(t, lossCategory(def, "RUNNING"))
}

func TestTransformsAppliedInOrder(t *testing.T) {
	m := New(testConfig(), "")

	// range_check 先截断到 600，再进入滑动平均
	s1, err := m.Map("assembly", map[string]any{"CycleTime_s": 900.0})
	require.NoError(t, err)
	require.Len(t, s1, 1)
	assert.Equal(t, 600.0, s1[0].Value)
	assert.Equal(t, "performance_loss", s1[0].LossCategory)

	s2, err := m.Map("assembly", map[string]any{"CycleTime_s": 300.0})
	require.NoError(t, err)
	assert.Equal(t, 450.0, s2[0].Value) // (600+300)/2
}

func TestScaleTransform(t *testing.T) {
	m := New(testConfig(), "")
	signals, err := m.Map("assembly", map[string]any{"ScrapCount": 42})
	require.NoError(t, err)
	require.Len(t, signals, 1)
	assert.InDelta(t, 0.42, signals[0].Value.(float64), 1e-9)
	assert.Equal(t, "quality_loss", signals[0].LossCategory)
}

func TestUnknownStationTypeYieldsRawSignals(t *testing.T) {
	m := New(testConfig(), "")
	signals, err := m.Map("painting", map[string]any{"Temp": 81.5, "Booth": "B2"})
	require.NoError(t, err)

	require.Len(t, signals, 2)
	assert.Equal(t, "raw.Booth", signals[0].SemanticID)
	assert.Equal(t, "B2", signals[0].Value)
	assert.Equal(t, "raw.Temp", signals[1].SemanticID)
	assert.Empty(t, signals[0].LossCategory)
}

func TestEvalRule(t *testing.T) {
	assert.True(t, evalRule("value > 60", 61.0))
	assert.False(t, evalRule("value > 60", 60.0))
	assert.True(t, evalRule("value == FAULTED", "FAULTED"))
	assert.True(t, evalRule("value != RUNNING", "BLOCKED"))
	assert.False(t, evalRule("garbage", 1.0))
}
