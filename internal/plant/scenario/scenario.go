// Package scenario 实现扰动场景引擎：模板目录、严重度随机化、
// 级联效应推导与过期监控。
package scenario

import (
	"fmt"
	"math/rand"
	"os"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/kart-io/shopfloor-copilot/internal/plant"
)

// 严重度等级。
const (
	SeverityMinor    = "minor"
	SeverityModerate = "moderate"
	SeverityMajor    = "major"
	SeverityCritical = "critical"
)

// severityRanges 每档严重度对应的随机增量区间（绝对值）。
var severityRanges = map[string][2]float64{
	SeverityMinor:    {0.00, 0.05},
	SeverityModerate: {0.05, 0.15},
	SeverityMajor:    {0.15, 0.30},
	SeverityCritical: {0.30, 0.50},
}

// randomScale 随机增量的缩放系数。
const randomScale = 0.3

// Template 场景模板。
type Template struct {
	ID              string   `yaml:"id" json:"id"`
	Name            string   `yaml:"name" json:"name"`
	Category        string   `yaml:"category" json:"category"`
	Description     string   `yaml:"description" json:"description"`
	StationTypes    []string `yaml:"station_types" json:"station_types"`
	DefaultSeverity string   `yaml:"default_severity" json:"default_severity"`
	DurationS       int      `yaml:"duration_s" json:"duration_s"`
	Impact          struct {
		Availability float64 `yaml:"availability" json:"availability"`
		Performance  float64 `yaml:"performance" json:"performance"`
		Quality      float64 `yaml:"quality" json:"quality"`
	} `yaml:"impact" json:"impact"`
	Alarms    []string `yaml:"alarms" json:"alarms"`
	Cascading bool     `yaml:"cascading" json:"cascading"`
	DelayS    int      `yaml:"delay_s" json:"delay_s"`
	Event     string   `yaml:"event" json:"event"`
}

// Catalogue 模板目录文件。
type Catalogue struct {
	Taxonomy  []string   `yaml:"taxonomy"`
	Templates []Template `yaml:"templates"`
}

// 级联效应的操作种类。
const (
	OpMulAvailability = "mul_availability"
	OpMulPerformance  = "mul_performance"
	OpMulQuality      = "mul_quality"
	OpSetState        = "set_state"
	OpAddAlarms       = "add_alarms"
)

// EffectOp 级联效应中的一个操作。
type EffectOp struct {
	Op     string   `json:"op"`
	Value  float64  `json:"value,omitempty"`
	State  string   `json:"state,omitempty"`
	Alarms []string `json:"alarms,omitempty"`
}

// CascadeEffect 一条级联效应：作用对象加一串操作。
type CascadeEffect struct {
	Rule   string     `json:"rule"`
	Target string     `json:"target"` // line | downstream_stations
	DelayS int        `json:"delay_s,omitempty"`
	Ops    []EffectOp `json:"ops"`
}

// Applied 一次模板应用的结果。
type Applied struct {
	Template    Template           `json:"template"`
	Severity    string             `json:"severity"`
	DurationS   int                `json:"duration_s"`
	Impact      map[string]float64 `json:"impact"`
	Alarms      []string           `json:"alarms"`
	Cascading   []CascadeEffect    `json:"cascading"`
	Description string             `json:"description"`
	StartTime   time.Time          `json:"start_time"`
	EndTime     time.Time          `json:"end_time"`
}

// Engine 场景引擎。活跃场景由引擎跟踪并在过期后恢复基线。
type Engine struct {
	mu        sync.Mutex
	taxonomy  []string
	templates map[string]Template
	order     []string
	rng       *rand.Rand
	active    []*activeScenario
}

type activeScenario struct {
	templateID string
	line       string
	station    string
	endTime    time.Time
}

// Load 从 YAML 目录文件构建引擎。
func Load(path string) (*Engine, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario catalogue: %w", err)
	}
	var cat Catalogue
	if err := yaml.Unmarshal(raw, &cat); err != nil {
		return nil, fmt.Errorf("failed to parse scenario catalogue: %w", err)
	}
	return NewEngine(&cat), nil
}

// NewEngine 从已解析的目录构建引擎。
func NewEngine(cat *Catalogue) *Engine {
	e := &Engine{
		taxonomy:  cat.Taxonomy,
		templates: make(map[string]Template, len(cat.Templates)),
		rng:       rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, t := range cat.Templates {
		e.templates[t.ID] = t
		e.order = append(e.order, t.ID)
	}
	return e
}

// Taxonomy 返回场景分类法。
func (e *Engine) Taxonomy() []string {
	return append([]string(nil), e.taxonomy...)
}

// Templates 按目录声明顺序返回全部模板。
func (e *Engine) Templates() []Template {
	out := make([]Template, 0, len(e.order))
	for _, id := range e.order {
		out = append(out, e.templates[id])
	}
	return out
}

// ApplyTemplate 解析模板并计算随机化的影响与级联效应。
// severityOverride 为空时使用模板默认严重度。
// 未知模板返回错误，调用方负责把结果落到状态树上。
func (e *Engine) ApplyTemplate(templateID string, station *plant.Station, severityOverride string) (*Applied, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	tpl, ok := e.templates[templateID]
	if !ok {
		return nil, fmt.Errorf("unknown scenario template: %s", templateID)
	}

	severity := tpl.DefaultSeverity
	if severityOverride != "" {
		if _, ok := severityRanges[severityOverride]; !ok {
			return nil, fmt.Errorf("unknown severity: %s", severityOverride)
		}
		severity = severityOverride
	}

	impact := map[string]float64{
		"availability": e.randomizeImpact(tpl.Impact.Availability, severity),
		"performance":  e.randomizeImpact(tpl.Impact.Performance, severity),
		"quality":      e.randomizeImpact(tpl.Impact.Quality, severity),
	}

	now := time.Now()
	applied := &Applied{
		Template:    tpl,
		Severity:    severity,
		DurationS:   tpl.DurationS,
		Impact:      impact,
		Alarms:      append([]string(nil), tpl.Alarms...),
		Cascading:   cascadeEffects(tpl, station, impact["availability"]),
		Description: tpl.Description,
		StartTime:   now,
		EndTime:     now.Add(time.Duration(tpl.DurationS) * time.Second),
	}
	return applied, nil
}

// Track 记录一个已落到状态树上的活跃场景，供过期监控使用。
func (e *Engine) Track(applied *Applied, line, station string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.active = append(e.active, &activeScenario{
		templateID: applied.Template.ID,
		line:       line,
		station:    station,
		endTime:    applied.EndTime,
	})
}

// ExpireDue 取出所有已过期的活跃场景，返回受影响的产线集合。
func (e *Engine) ExpireDue(now time.Time) []string {
	e.mu.Lock()
	defer e.mu.Unlock()

	var remaining []*activeScenario
	seen := make(map[string]bool)
	var lines []string
	for _, a := range e.active {
		if now.Before(a.endTime) {
			remaining = append(remaining, a)
			continue
		}
		if !seen[a.line] {
			seen[a.line] = true
			lines = append(lines, a.line)
		}
	}
	e.active = remaining
	return lines
}

// ActiveCount 返回活跃场景数。
func (e *Engine) ActiveCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.active)
}

// randomizeImpact 从严重度区间取随机增量，缩放后叠加到基础影响，
// 结果截断到 [-1, 0]。基础影响为 0 的指标保持 0。
func (e *Engine) randomizeImpact(base float64, severity string) float64 {
	if base == 0 {
		return 0
	}
	r := severityRanges[severity]
	delta := (r[0] + e.rng.Float64()*(r[1]-r[0])) * randomScale
	v := base - delta
	if v < -1 {
		v = -1
	}
	if v > 0 {
		v = 0
	}
	return v
}

// cascadeEffects 按规则推导级联效应。
func cascadeEffects(tpl Template, station *plant.Station, availabilityImpact float64) []CascadeEffect {
	if !tpl.Cascading {
		return nil
	}

	var effects []CascadeEffect
	category := strings.ReplaceAll(strings.ToLower(tpl.Category), "_", " ")

	if station != nil && station.Critical && availabilityImpact < -0.3 {
		effects = append(effects, CascadeEffect{
			Rule:   "critical_station_down",
			Target: "line",
			Ops: []EffectOp{
				{Op: OpMulAvailability, Value: 0.5},
				{Op: OpMulPerformance, Value: 0.8},
			},
		})
	}
	if strings.Contains(category, "material shortage") {
		effects = append(effects, CascadeEffect{
			Rule:   "material_shortage",
			Target: "downstream_stations",
			DelayS: tpl.DelayS,
			Ops: []EffectOp{
				{Op: OpSetState, State: plant.StationStarved},
				{Op: OpAddAlarms, Alarms: []string{"ALM_UPSTREAM_SHORTAGE"}},
			},
		})
	}
	if strings.Contains(category, "quality issue") {
		effects = append(effects, CascadeEffect{
			Rule:   "quality_issue",
			Target: "line",
			Ops:    []EffectOp{{Op: OpMulQuality, Value: 0.85}},
		})
	}
	return effects
}

// ApplyCascade 把级联效应落到状态树：line 目标应用 KPI 乘数，
// downstream_stations 目标置状态并追加告警到触发工位之后的工位。
func ApplyCascade(state *plant.State, lineID, stationID string, effects []CascadeEffect) {
	for _, eff := range effects {
		switch eff.Target {
		case "line":
			a, p, q := 1.0, 1.0, 1.0
			for _, op := range eff.Ops {
				switch op.Op {
				case OpMulAvailability:
					a = op.Value
				case OpMulPerformance:
					p = op.Value
				case OpMulQuality:
					q = op.Value
				}
			}
			_ = state.ScaleLine(lineID, a, p, q)
		case "downstream_stations":
			for _, ds := range downstreamStations(state, lineID, stationID) {
				for _, op := range eff.Ops {
					switch op.Op {
					case OpSetState:
						_ = state.SetStationState(lineID, ds, op.State)
					case OpAddAlarms:
						_ = state.AddAlarms(lineID, ds, op.Alarms...)
					}
				}
			}
		}
	}
}

// downstreamStations 返回产线内位于触发工位之后的工位 ID。
func downstreamStations(state *plant.State, lineID, stationID string) []string {
	snap := state.Snapshot()
	for _, line := range snap.Lines {
		if !strings.EqualFold(line.ID, lineID) {
			continue
		}
		var out []string
		passed := false
		for _, st := range line.Stations {
			if passed {
				out = append(out, st.ID)
			}
			if strings.EqualFold(st.ID, stationID) {
				passed = true
			}
		}
		return out
	}
	return nil
}
