// Package plant 实现车间遥测模拟器的核心状态树：
// plant → lines → stations，所有变更串行通过本包的入口。
package plant

import (
	"fmt"
	"math"
	"os"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// 产线初始 KPI 与工位初始节拍，OEE 由三因子推导。
const (
	initialAvailability = 0.90
	initialPerformance  = 0.88
	initialQuality      = 0.93
	initialCycleTimeS   = 42.0

	// 场景过期后恢复的基线可用率。
	baselineAvailability = 0.92
)

// 工位状态。
const (
	StationRunning          = "RUNNING"
	StationFaulted          = "FAULTED"
	StationMaterialShortage = "MATERIALSHORTAGE"
	StationBlocked          = "BLOCKED"
	StationStarved          = "STARVED"
)

// ModelConfig 声明式车间模型。
type ModelConfig struct {
	Plant string       `yaml:"plant"`
	Lines []LineConfig `yaml:"lines"`
}

// LineConfig 产线声明。
type LineConfig struct {
	ID       string          `yaml:"id"`
	Stations []StationConfig `yaml:"stations"`
}

// StationConfig 工位声明。
type StationConfig struct {
	ID       string `yaml:"id"`
	Type     string `yaml:"type"`
	Critical bool   `yaml:"critical"`
}

// Station 工位运行时状态。
type Station struct {
	ID         string   `json:"id"`
	Type       string   `json:"type"`
	Critical   bool     `json:"critical"`
	State      string   `json:"state"`
	CycleTimeS float64  `json:"cycle_time_s"`
	GoodCount  int64    `json:"good_count"`
	ScrapCount int64    `json:"scrap_count"`
	Alarms     []string `json:"alarms"`
}

// Line 产线运行时状态，oee 在任何变更后满足 round(a·p·q, 4)。
type Line struct {
	ID           string     `json:"id"`
	Status       string     `json:"status"`
	OEE          float64    `json:"oee"`
	Availability float64    `json:"availability"`
	Performance  float64    `json:"performance"`
	Quality      float64    `json:"quality"`
	Stations     []*Station `json:"stations"`

	stationIndex map[string]int // 小写 ID → Stations 下标
}

// State 整棵状态树，读写都经过内部锁。
type State struct {
	mu        sync.RWMutex
	plant     string
	lines     []*Line
	lineIndex map[string]int // 小写 ID → lines 下标
}

// LoadModel 从 YAML 文件读取车间模型。
func LoadModel(path string) (*ModelConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read plant model: %w", err)
	}
	var cfg ModelConfig
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse plant model: %w", err)
	}
	if cfg.Plant == "" || len(cfg.Lines) == 0 {
		return nil, fmt.Errorf("plant model must declare a plant id and at least one line")
	}
	return &cfg, nil
}

// New 从模型构建初始状态。
func New(cfg *ModelConfig) *State {
	s := &State{
		plant:     cfg.Plant,
		lineIndex: make(map[string]int, len(cfg.Lines)),
	}
	for i, lc := range cfg.Lines {
		line := &Line{
			ID:           lc.ID,
			Status:       "RUNNING",
			Availability: initialAvailability,
			Performance:  initialPerformance,
			Quality:      initialQuality,
			stationIndex: make(map[string]int, len(lc.Stations)),
		}
		recomputeOEE(line)
		for j, sc := range lc.Stations {
			line.Stations = append(line.Stations, &Station{
				ID:         sc.ID,
				Type:       sc.Type,
				Critical:   sc.Critical,
				State:      StationRunning,
				CycleTimeS: initialCycleTimeS,
				Alarms:     []string{},
			})
			line.stationIndex[strings.ToLower(sc.ID)] = j
		}
		s.lines = append(s.lines, line)
		s.lineIndex[strings.ToLower(lc.ID)] = i
	}
	return s
}

// Plant 返回工厂 ID。
func (s *State) Plant() string {
	return s.plant
}

// Impact KPI 增量，nil 表示该指标不变。
type Impact struct {
	Availability *float64 `json:"availability,omitempty"`
	Performance  *float64 `json:"performance,omitempty"`
	Quality      *float64 `json:"quality,omitempty"`
}

// ScenarioInput 一次场景对状态树的作用。
type ScenarioInput struct {
	Line    string
	Station string
	Event   string
	Impact  Impact
	Alarms  []string
}

// ApplyScenario 应用场景：KPI 增量叠加后截断到 [0,1] 并重算 oee，
// 告警去重追加，已知事件更新工位状态。产线与工位按大小写不敏感解析。
func (s *State) ApplyScenario(in ScenarioInput) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	line, ok := s.lookupLine(in.Line)
	if !ok {
		return fmt.Errorf("unknown line: %s", in.Line)
	}
	station, ok := lookupStation(line, in.Station)
	if !ok {
		return fmt.Errorf("unknown station: %s", in.Station)
	}

	if in.Impact.Availability != nil {
		line.Availability = clamp01(line.Availability + *in.Impact.Availability)
	}
	if in.Impact.Performance != nil {
		line.Performance = clamp01(line.Performance + *in.Impact.Performance)
	}
	if in.Impact.Quality != nil {
		line.Quality = clamp01(line.Quality + *in.Impact.Quality)
	}
	recomputeOEE(line)

	for _, alarm := range in.Alarms {
		appendAlarm(station, alarm)
	}

	switch strings.ToLower(in.Event) {
	case "fault":
		station.State = StationFaulted
	case "materialshortage", "blocked", "starved":
		station.State = strings.ToUpper(in.Event)
	}

	return nil
}

// ScaleLine 将产线三项 KPI 乘以各自的系数，用于级联效应。
func (s *State) ScaleLine(lineID string, availability, performance, quality float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	line, ok := s.lookupLine(lineID)
	if !ok {
		return fmt.Errorf("unknown line: %s", lineID)
	}
	line.Availability = clamp01(line.Availability * availability)
	line.Performance = clamp01(line.Performance * performance)
	line.Quality = clamp01(line.Quality * quality)
	recomputeOEE(line)
	return nil
}

// SetStationState 设置工位状态并可追加告警，用于级联的下游传播。
func (s *State) SetStationState(lineID, stationID, state string, alarms ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	line, ok := s.lookupLine(lineID)
	if !ok {
		return fmt.Errorf("unknown line: %s", lineID)
	}
	station, ok := lookupStation(line, stationID)
	if !ok {
		return fmt.Errorf("unknown station: %s", stationID)
	}
	station.State = state
	for _, alarm := range alarms {
		appendAlarm(station, alarm)
	}
	return nil
}

// AddAlarms 去重追加告警，不改变工位状态。
func (s *State) AddAlarms(lineID, stationID string, alarms ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	line, ok := s.lookupLine(lineID)
	if !ok {
		return fmt.Errorf("unknown line: %s", lineID)
	}
	station, ok := lookupStation(line, stationID)
	if !ok {
		return fmt.Errorf("unknown station: %s", stationID)
	}
	for _, alarm := range alarms {
		appendAlarm(station, alarm)
	}
	return nil
}

// RestoreBaseline 场景过期后恢复产线基线 KPI，
// 清空工位告警并将状态复位为 RUNNING。
func (s *State) RestoreBaseline(lineID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	line, ok := s.lookupLine(lineID)
	if !ok {
		return fmt.Errorf("unknown line: %s", lineID)
	}
	line.Availability = baselineAvailability
	line.Performance = initialPerformance
	line.Quality = initialQuality
	line.Status = "RUNNING"
	recomputeOEE(line)

	for _, st := range line.Stations {
		st.State = StationRunning
		st.Alarms = []string{}
	}
	return nil
}

// AdvanceProduction 按节拍推进计数，模拟时钟每拍调用一次。
// 质量低于阈值时按比例计废品。
func (s *State) AdvanceProduction() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, line := range s.lines {
		for _, st := range line.Stations {
			if st.State != StationRunning {
				continue
			}
			st.GoodCount++
			// 质量劣化体现为偶发废品
			if line.Quality < 0.9 && st.GoodCount%10 == 0 {
				st.ScrapCount++
			}
		}
	}
}

// Snapshot 当前状态的深拷贝视图。
type Snapshot struct {
	Plant string  `json:"plant"`
	Lines []*Line `json:"lines"`
}

// Snapshot 返回深拷贝的当前状态。
func (s *State) Snapshot() *Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := &Snapshot{Plant: s.plant}
	for _, line := range s.lines {
		cl := &Line{
			ID:           line.ID,
			Status:       line.Status,
			OEE:          line.OEE,
			Availability: line.Availability,
			Performance:  line.Performance,
			Quality:      line.Quality,
		}
		for _, st := range line.Stations {
			cs := *st
			cs.Alarms = append([]string{}, st.Alarms...)
			cl.Stations = append(cl.Stations, &cs)
		}
		snap.Lines = append(snap.Lines, cl)
	}
	return snap
}

// FindStation 大小写不敏感解析 (line, station)，返回深拷贝。
func (s *State) FindStation(lineID, stationID string) (*Line, *Station, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	line, ok := s.lookupLine(lineID)
	if !ok {
		return nil, nil, false
	}
	station, ok := lookupStation(line, stationID)
	if !ok {
		return nil, nil, false
	}

	cl := *line
	cl.Stations = nil
	cl.stationIndex = nil
	cs := *station
	cs.Alarms = append([]string{}, station.Alarms...)
	return &cl, &cs, true
}

func (s *State) lookupLine(id string) (*Line, bool) {
	i, ok := s.lineIndex[strings.ToLower(id)]
	if !ok {
		return nil, false
	}
	return s.lines[i], true
}

func lookupStation(line *Line, id string) (*Station, bool) {
	i, ok := line.stationIndex[strings.ToLower(id)]
	if !ok {
		return nil, false
	}
	return line.Stations[i], true
}

func appendAlarm(st *Station, alarm string) {
	for _, a := range st.Alarms {
		if a == alarm {
			return
		}
	}
	st.Alarms = append(st.Alarms, alarm)
}

func recomputeOEE(line *Line) {
	line.OEE = math.Round(line.Availability*line.Performance*line.Quality*10000) / 10000
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
