package handler

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	glog "gorm.io/gorm/logger"

	"github.com/kart-io/shopfloor-copilot/internal/copilot/store"
	"github.com/kart-io/shopfloor-copilot/internal/model"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: glog.Default.LogMode(glog.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&model.Violation{}, &model.ViolationAck{}))
	return db
}

func newViolationRouter(t *testing.T) (*gin.Engine, *store.ViolationStore) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	vs := store.NewViolationStore(newTestDB(t))
	h := NewViolationHandler(vs)

	engine := gin.New()
	v := engine.Group("/api/violations")
	v.GET("/active", h.Active)
	v.GET("/history", h.History)
	v.GET("/:id/timeline", h.Timeline)
	v.POST("/:id/ack", h.Ack)
	v.POST("/:id/resolve", h.Resolve)
	return engine, vs
}

func seedViolation(t *testing.T, vs *store.ViolationStore, station string, blocking []string) string {
	t.Helper()
	id, created, err := vs.Upsert(t.Context(), store.UpsertInput{
		Profile:              "aerospace",
		Plant:                "PLANT-A",
		Line:                 "L1",
		Station:              station,
		Severity:             "critical",
		ViolatedExpectations: []string{"serial_unit_bound"},
		BlockingConditions:   blocking,
	})
	require.NoError(t, err)
	require.True(t, created)
	return id
}

func doJSON(t *testing.T, engine *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)
	return w
}

func TestViolationAck_JustifyWithoutComment(t *testing.T) {
	engine, vs := newViolationRouter(t)
	id := seedViolation(t, vs, "S10", []string{"serial_unit_bound"})

	w := doJSON(t, engine, http.MethodPost, "/api/violations/"+id+"/ack", gin.H{
		"ack_type": model.AckTypeJustified,
		"ack_by":   "inspector-7",
	})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestViolationAck_ThenTimeline(t *testing.T) {
	engine, vs := newViolationRouter(t)
	id := seedViolation(t, vs, "S10", []string{"serial_unit_bound"})

	w := doJSON(t, engine, http.MethodPost, "/api/violations/"+id+"/ack", gin.H{
		"ack_type": model.AckTypeAcknowledged,
		"ack_by":   "operator-3",
		"comment":  "checking the traveler",
	})
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, engine, http.MethodGet, "/api/violations/"+id+"/timeline", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var envelope struct {
		Code int            `json:"code"`
		Data store.Timeline `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &envelope))
	assert.Equal(t, 0, envelope.Code)
	assert.Equal(t, model.ViolationStateAcknowledged, envelope.Data.State)
	require.Len(t, envelope.Data.Acks, 1)
	assert.Equal(t, "operator-3", envelope.Data.Acks[0].AckBy)
}

func TestViolationResolve_Twice(t *testing.T) {
	engine, vs := newViolationRouter(t)
	id := seedViolation(t, vs, "S10", []string{"serial_unit_bound"})

	w := doJSON(t, engine, http.MethodPost, "/api/violations/"+id+"/resolve", gin.H{"ack_by": "lead-1"})
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, engine, http.MethodPost, "/api/violations/"+id+"/resolve", gin.H{"ack_by": "lead-1"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestViolationAck_UnknownID(t *testing.T) {
	engine, _ := newViolationRouter(t)

	w := doJSON(t, engine, http.MethodPost, "/api/violations/does-not-exist/ack", gin.H{
		"ack_type": model.AckTypeAcknowledged,
		"ack_by":   "operator-3",
	})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestViolationActive_Filters(t *testing.T) {
	engine, vs := newViolationRouter(t)
	seedViolation(t, vs, "S10", []string{"serial_unit_bound"})
	seedViolation(t, vs, "S20", nil)

	w := doJSON(t, engine, http.MethodGet, "/api/violations/active?station=S10", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var envelope struct {
		Data []model.Violation `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &envelope))
	require.Len(t, envelope.Data, 1)
	assert.Equal(t, "S10", envelope.Data[0].Station)

	w = doJSON(t, engine, http.MethodGet, "/api/violations/active?blocking_only=true", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &envelope))
	require.Len(t, envelope.Data, 1)
	assert.Equal(t, "S10", envelope.Data[0].Station)
}

func TestViolationHistory_BadLimit(t *testing.T) {
	engine, _ := newViolationRouter(t)

	w := doJSON(t, engine, http.MethodGet, "/api/violations/history?limit=zero", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
