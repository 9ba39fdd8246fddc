package opcbridge

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kart-io/shopfloor-copilot/internal/plant"
)

func newTestBridge(t *testing.T) (*Bridge, *plant.State) {
	t.Helper()
	state := plant.New(&plant.ModelConfig{
		Plant: "P1",
		Lines: []plant.LineConfig{
			{ID: "L1", Stations: []plant.StationConfig{{ID: "S10"}, {ID: "S20"}}},
		},
	})
	b, err := New(state, Options{Host: "localhost", Port: 4840})
	require.NoError(t, err)
	return b, state
}

func TestAddressSpaceHierarchy(t *testing.T) {
	b, _ := newTestBridge(t)

	// 产线与工位各有一个对象节点，变量挂在对象之下
	require.Contains(t, b.objects, "L1")
	require.Contains(t, b.objects, "L1/S10")
	require.Contains(t, b.objects, "L1/S20")
	assert.Equal(t, "L1", b.objects["L1"].BrowseName().Name)
	assert.Equal(t, "L1.S10", b.objects["L1/S10"].BrowseName().Name)

	for _, key := range []string{
		"L1/Status", "L1/OEE", "L1/Availability", "L1/Performance", "L1/Quality",
		"L1/S10/State", "L1/S10/CycleTime_s", "L1/S10/GoodCount", "L1/S10/ScrapCount",
	} {
		assert.Contains(t, b.nodes, key)
	}
	assert.Equal(t, "OEE", b.nodes["L1/OEE"].BrowseName().Name)
	assert.Equal(t, "State", b.nodes["L1/S10/State"].BrowseName().Name)
}

func TestPublishRefreshesVariables(t *testing.T) {
	b, state := newTestBridge(t)

	avail := -0.3
	require.NoError(t, state.ApplyScenario(plant.ScenarioInput{
		Line: "L1", Station: "S10", Event: "Fault",
		Impact: plant.Impact{Availability: &avail},
	}))
	b.publish()

	stateVal := b.nodes["L1/S10/State"].Value()
	require.NotNil(t, stateVal)
	assert.Equal(t, plant.StationFaulted, stateVal.Value.Value())

	availVal := b.nodes["L1/Availability"].Value()
	require.NotNil(t, availVal)
	assert.InDelta(t, 0.60, availVal.Value.Value().(float64), 1e-9)
}
