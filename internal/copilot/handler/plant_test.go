package handler

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kart-io/shopfloor-copilot/internal/plant"
	"github.com/kart-io/shopfloor-copilot/internal/plant/scenario"
)

func testModel() *plant.ModelConfig {
	return &plant.ModelConfig{
		Plant: "PLANT-A",
		Lines: []plant.LineConfig{
			{ID: "L1", Stations: []plant.StationConfig{
				{ID: "S10", Type: "press", Critical: true},
				{ID: "S20", Type: "weld"},
				{ID: "S30", Type: "assembly"},
			}},
		},
	}
}

func testCatalogue() *scenario.Catalogue {
	tpl := scenario.Template{
		ID:              "press_hydraulic_failure",
		Name:            "Press hydraulic failure",
		Category:        "equipment_failure",
		StationTypes:    []string{"press"},
		DefaultSeverity: "major",
		DurationS:       600,
		Alarms:          []string{"ALM_HYDRAULIC_PRESSURE"},
		Cascading:       true,
		Event:           "fault",
	}
	tpl.Impact.Availability = -0.35
	return &scenario.Catalogue{
		Taxonomy:  []string{"equipment_failure"},
		Templates: []scenario.Template{tpl},
	}
}

func newPlantRouter(t *testing.T) (*gin.Engine, *plant.State) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	cfg := testModel()
	state := plant.New(cfg)
	h := NewPlantHandler(state, cfg, scenario.NewEngine(testCatalogue()), nil, nil, nil)

	engine := gin.New()
	engine.GET("/snapshot", h.Snapshot)
	engine.GET("/model", h.Model)
	engine.GET("/semantic/snapshot", h.SemanticSnapshot)
	engine.POST("/scenario/apply", h.ScenarioApply)
	engine.GET("/scenario/templates", h.ScenarioTemplates)
	engine.GET("/scenario/taxonomy", h.ScenarioTaxonomy)
	engine.GET("/historian/status", h.HistorianStatus)
	engine.GET("/healthz", h.Healthz)
	return engine, state
}

func TestScenarioApply_ManualImpact(t *testing.T) {
	engine, state := newPlantRouter(t)

	w := doJSON(t, engine, http.MethodPost, "/scenario/apply", gin.H{
		"line":    "L1",
		"station": "S10",
		"event":   "fault",
		"impact":  gin.H{"availability": -0.2},
		"alarms":  []string{"ALM_TEST"},
	})
	require.Equal(t, http.StatusOK, w.Code)

	var envelope struct {
		Data ScenarioApplyResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &envelope))
	assert.True(t, envelope.Data.OK)

	_, st, ok := state.FindStation("L1", "S10")
	require.True(t, ok)
	assert.Equal(t, plant.StationFaulted, st.State)
	assert.Contains(t, st.Alarms, "ALM_TEST")
}

func TestScenarioApply_UnknownStationListsScopes(t *testing.T) {
	engine, state := newPlantRouter(t)
	before := state.Snapshot()

	w := doJSON(t, engine, http.MethodPost, "/scenario/apply", gin.H{
		"line":    "L1",
		"station": "S99",
		"event":   "fault",
	})
	require.Equal(t, http.StatusOK, w.Code)

	var envelope struct {
		Data ScenarioApplyResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &envelope))
	assert.False(t, envelope.Data.OK)
	assert.Contains(t, envelope.Data.Available, "L1/S10")
	assert.Contains(t, envelope.Data.Available, "L1/S30")

	after := state.Snapshot()
	assert.Equal(t, before.Lines[0].OEE, after.Lines[0].OEE)
}

func TestScenarioApply_Template(t *testing.T) {
	engine, state := newPlantRouter(t)

	w := doJSON(t, engine, http.MethodPost, "/scenario/apply", gin.H{
		"line":        "L1",
		"station":     "S10",
		"template_id": "press_hydraulic_failure",
	})
	require.Equal(t, http.StatusOK, w.Code)

	var envelope struct {
		Data ScenarioApplyResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &envelope))
	require.True(t, envelope.Data.OK)
	require.NotNil(t, envelope.Data.TemplateApplied)
	assert.Equal(t, "major", envelope.Data.TemplateApplied.Severity)

	line, st, ok := state.FindStation("L1", "S10")
	require.True(t, ok)
	assert.Equal(t, plant.StationFaulted, st.State)
	assert.Less(t, line.Availability, 0.90)
	assert.Contains(t, st.Alarms, "ALM_HYDRAULIC_PRESSURE")
}

func TestScenarioApply_UnknownTemplate(t *testing.T) {
	engine, state := newPlantRouter(t)
	before := state.Snapshot()

	w := doJSON(t, engine, http.MethodPost, "/scenario/apply", gin.H{
		"line":        "L1",
		"station":     "S10",
		"template_id": "does_not_exist",
	})
	require.Equal(t, http.StatusOK, w.Code)

	var envelope struct {
		Data ScenarioApplyResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &envelope))
	assert.False(t, envelope.Data.OK)
	assert.Contains(t, envelope.Data.Error, "unknown scenario template")

	after := state.Snapshot()
	assert.Equal(t, before.Lines[0].OEE, after.Lines[0].OEE)
	assert.Equal(t, plant.StationRunning, after.Lines[0].Stations[0].State)
}

func TestSemanticSnapshot_UnknownStation(t *testing.T) {
	engine, _ := newPlantRouter(t)

	w := doJSON(t, engine, http.MethodGet, "/semantic/snapshot?station=S99", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestModelAndTaxonomy(t *testing.T) {
	engine, _ := newPlantRouter(t)

	w := doJSON(t, engine, http.MethodGet, "/model", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var modelEnvelope struct {
		Data plant.ModelConfig `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &modelEnvelope))
	assert.Equal(t, "PLANT-A", modelEnvelope.Data.Plant)

	w = doJSON(t, engine, http.MethodGet, "/scenario/taxonomy", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "equipment_failure")
}
