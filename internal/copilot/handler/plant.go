package handler

import (
	"fmt"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/kart-io/shopfloor-copilot/internal/pkg/httputils"
	"github.com/kart-io/shopfloor-copilot/internal/plant"
	"github.com/kart-io/shopfloor-copilot/internal/plant/evidence"
	"github.com/kart-io/shopfloor-copilot/internal/plant/historian"
	"github.com/kart-io/shopfloor-copilot/internal/plant/scenario"
	"github.com/kart-io/shopfloor-copilot/internal/plant/semantic"
	"github.com/kart-io/shopfloor-copilot/pkg/utils/errors"
)

// PlantHandler 车间状态、语义快照、场景与历史库接口。
type PlantHandler struct {
	state     *plant.State
	modelCfg  *plant.ModelConfig
	engine    *scenario.Engine
	historian *historian.Historian
	mapper    *semantic.Mapper
	evidence  *evidence.Provider
}

// NewPlantHandler 创建车间处理器。historian、mapper、evidence 可为 nil。
func NewPlantHandler(state *plant.State, modelCfg *plant.ModelConfig, engine *scenario.Engine, h *historian.Historian, mapper *semantic.Mapper, ev *evidence.Provider) *PlantHandler {
	return &PlantHandler{
		state:     state,
		modelCfg:  modelCfg,
		engine:    engine,
		historian: h,
		mapper:    mapper,
		evidence:  ev,
	}
}

// Snapshot 返回当前状态树的深拷贝。
func (h *PlantHandler) Snapshot(c *gin.Context) {
	httputils.WriteResponse(c, nil, h.state.Snapshot())
}

// Model 返回声明式车间模型。
func (h *PlantHandler) Model(c *gin.Context) {
	httputils.WriteResponse(c, nil, h.modelCfg)
}

// SemanticStation 语义快照中的一个工位。
type SemanticStation struct {
	ID              string                    `json:"id"`
	Line            string                    `json:"line"`
	Type            string                    `json:"type"`
	Signals         []semantic.Signal         `json:"signals"`
	MaterialContext *evidence.MaterialContext `json:"material_context,omitempty"`
}

// SemanticSnapshot 把原始快照映射到语义信号层，并附带物料上下文。
// 可用 station 查询参数限定到单个工位。
func (h *PlantHandler) SemanticSnapshot(c *gin.Context) {
	snap := h.state.Snapshot()
	want := strings.ToLower(c.Query("station"))

	var stations []SemanticStation
	for _, line := range snap.Lines {
		for _, st := range line.Stations {
			if want != "" && strings.ToLower(st.ID) != want {
				continue
			}
			out := SemanticStation{ID: st.ID, Line: line.ID, Type: st.Type}
			if h.mapper != nil {
				signals, err := h.mapper.Map(st.Type, stationTags(line, st))
				if err != nil {
					httputils.WriteResponse(c, err, nil)
					return
				}
				out.Signals = signals
			}
			if h.evidence != nil {
				out.MaterialContext = h.evidence.GetMaterialContext(c.Request.Context(), snap.Plant, line.ID, st.ID)
			}
			stations = append(stations, out)
		}
	}

	if want != "" && len(stations) == 0 {
		httputils.WriteResponse(c, errors.ErrUnknownScope.WithMessagef("unknown station: %s", c.Query("station")), nil)
		return
	}
	httputils.WriteResponse(c, nil, gin.H{"plant": snap.Plant, "stations": stations})
}

// stationTags 把工位运行时状态展开为 OPC 风格的原始标签。
func stationTags(line *plant.Line, st *plant.Station) map[string]any {
	return map[string]any{
		"state":        st.State,
		"cycle_time_s": st.CycleTimeS,
		"good_count":   st.GoodCount,
		"scrap_count":  st.ScrapCount,
		"alarm_count":  len(st.Alarms),
		"availability": line.Availability,
		"performance":  line.Performance,
		"quality":      line.Quality,
	}
}

// ScenarioApplyRequest 场景注入请求。template_id 为空时按手工
// impact/event 注入，否则解析模板并叠加级联效应。
type ScenarioApplyRequest struct {
	Line        string       `json:"line" binding:"required"`
	Station     string       `json:"station" binding:"required"`
	Event       string       `json:"event"`
	DurationMin float64      `json:"duration_min"`
	Impact      plant.Impact `json:"impact"`
	Alarms      []string     `json:"alarms"`
	TemplateID  string       `json:"template_id"`
	Severity    string       `json:"severity"`
}

// ScenarioApplyResponse 场景注入结果。
type ScenarioApplyResponse struct {
	OK              bool              `json:"ok"`
	Error           string            `json:"error,omitempty"`
	Available       []string          `json:"available,omitempty"`
	TemplateApplied *scenario.Applied `json:"template_applied,omitempty"`
}

// ScenarioApply 向状态树注入一次场景。未知产线/工位或未知模板
// 返回 ok=false 且不改动任何状态。
func (h *PlantHandler) ScenarioApply(c *gin.Context) {
	var req ScenarioApplyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httputils.WriteResponse(c, errors.ErrInvalidRequest.WithMessage(err.Error()), nil)
		return
	}

	line, station, ok := h.state.FindStation(req.Line, req.Station)
	if !ok {
		httputils.WriteResponse(c, nil, ScenarioApplyResponse{
			OK:        false,
			Error:     fmt.Sprintf("unknown line or station: %s/%s", req.Line, req.Station),
			Available: h.availableScopes(),
		})
		return
	}

	if req.TemplateID != "" {
		h.applyTemplate(c, req, line, station)
		return
	}
	h.applyManual(c, req, line, station)
}

func (h *PlantHandler) applyTemplate(c *gin.Context, req ScenarioApplyRequest, line *plant.Line, station *plant.Station) {
	applied, err := h.engine.ApplyTemplate(req.TemplateID, station, req.Severity)
	if err != nil {
		httputils.WriteResponse(c, nil, ScenarioApplyResponse{OK: false, Error: err.Error()})
		return
	}
	if req.DurationMin > 0 {
		applied.DurationS = int(req.DurationMin * 60)
		applied.EndTime = applied.StartTime.Add(time.Duration(applied.DurationS) * time.Second)
	}

	availability := applied.Impact["availability"]
	performance := applied.Impact["performance"]
	quality := applied.Impact["quality"]
	err = h.state.ApplyScenario(plant.ScenarioInput{
		Line:    line.ID,
		Station: station.ID,
		Event:   applied.Template.Event,
		Impact: plant.Impact{
			Availability: &availability,
			Performance:  &performance,
			Quality:      &quality,
		},
		Alarms: applied.Alarms,
	})
	if err != nil {
		httputils.WriteResponse(c, nil, ScenarioApplyResponse{OK: false, Error: err.Error()})
		return
	}

	scenario.ApplyCascade(h.state, line.ID, station.ID, applied.Cascading)
	h.engine.Track(applied, line.ID, station.ID)
	h.recordEvent(c, line.ID, station.ID, applied.Template.ID, applied.Severity, map[string]any{
		"impact":     applied.Impact,
		"duration_s": applied.DurationS,
	})

	httputils.WriteResponse(c, nil, ScenarioApplyResponse{OK: true, TemplateApplied: applied})
}

func (h *PlantHandler) applyManual(c *gin.Context, req ScenarioApplyRequest, line *plant.Line, station *plant.Station) {
	err := h.state.ApplyScenario(plant.ScenarioInput{
		Line:    line.ID,
		Station: station.ID,
		Event:   req.Event,
		Impact:  req.Impact,
		Alarms:  req.Alarms,
	})
	if err != nil {
		httputils.WriteResponse(c, nil, ScenarioApplyResponse{OK: false, Error: err.Error()})
		return
	}

	if req.DurationMin > 0 {
		now := time.Now()
		h.engine.Track(&scenario.Applied{
			Template:  scenario.Template{ID: "manual:" + req.Event},
			StartTime: now,
			EndTime:   now.Add(time.Duration(req.DurationMin * float64(time.Minute))),
		}, line.ID, station.ID)
	}
	h.recordEvent(c, line.ID, station.ID, "manual:"+req.Event, "", map[string]any{
		"duration_min": req.DurationMin,
	})

	httputils.WriteResponse(c, nil, ScenarioApplyResponse{OK: true})
}

func (h *PlantHandler) recordEvent(c *gin.Context, line, station, eventType, severity string, payload map[string]any) {
	if h.historian == nil {
		return
	}
	h.historian.RecordEvent(c.Request.Context(), h.state.Plant(), line, station, eventType, severity, payload)
}

func (h *PlantHandler) availableScopes() []string {
	snap := h.state.Snapshot()
	var out []string
	for _, line := range snap.Lines {
		for _, st := range line.Stations {
			out = append(out, line.ID+"/"+st.ID)
		}
	}
	return out
}

// ScenarioTemplates 返回全部场景模板。
func (h *PlantHandler) ScenarioTemplates(c *gin.Context) {
	httputils.WriteResponse(c, nil, gin.H{"templates": h.engine.Templates()})
}

// ScenarioTaxonomy 返回场景分类。
func (h *PlantHandler) ScenarioTaxonomy(c *gin.Context) {
	httputils.WriteResponse(c, nil, gin.H{"taxonomy": h.engine.Taxonomy()})
}

// HistorianStatus 返回历史库写入器状态。
func (h *PlantHandler) HistorianStatus(c *gin.Context) {
	if h.historian == nil {
		httputils.WriteResponse(c, nil, historian.Status{Enabled: false})
		return
	}
	httputils.WriteResponse(c, nil, h.historian.Status())
}

// Healthz 存活检查。
func (h *PlantHandler) Healthz(c *gin.Context) {
	httputils.WriteResponse(c, nil, gin.H{"status": "ok", "plant": h.state.Plant()})
}
