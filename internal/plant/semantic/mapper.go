// Package semantic 按 YAML 规则把原始 OPC 标签映射为稳定的语义信号，
// 并强制为每个非运行状态标注损失类别。
package semantic

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/kart-io/shopfloor-copilot/pkg/log"
	"github.com/kart-io/shopfloor-copilot/pkg/utils/errors"
)

// Config 语义映射配置：工位类型 → 信号定义列表。
type Config struct {
	StationTypes map[string][]SignalDef `yaml:"station_types"`
}

// SignalDef 一个语义信号的定义。
type SignalDef struct {
	SemanticID string `yaml:"semantic_id"`
	OpcSource  string `yaml:"opc_source"`

	// Transforms 按声明顺序应用。
	Transforms []Transform `yaml:"transforms"`

	// 损失类别按序求值：固定值、按值映射、规则列表。
	LossCategory      string            `yaml:"loss_category"`
	LossCategoryMap   map[string]string `yaml:"loss_category_map"`
	LossCategoryRules []LossRule        `yaml:"loss_category_rules"`
}

// Transform 一步变换。
type Transform struct {
	Type string  `yaml:"type"` // range_check | moving_average | scale | offset
	Min  float64 `yaml:"min"`
	Max  float64 `yaml:"max"`
	// Window moving_average 的窗口大小。
	Window int `yaml:"window"`
	// Factor scale 的乘数，Value offset 的加数。
	Factor float64 `yaml:"factor"`
	Value  float64 `yaml:"value"`
}

// LossRule 一条布尔规则，形如 "value > 0.5" 或 "value == FAULTED"。
type LossRule struct {
	Rule     string `yaml:"rule"`
	Category string `yaml:"category"`
}

// Signal 一条映射后的语义信号。
type Signal struct {
	SemanticID   string `json:"semantic_id"`
	Source       string `json:"source"`
	Value        any    `json:"value"`
	LossCategory string `json:"loss_category,omitempty"`
}

// Mapper 语义映射器。Reload 可在运行中替换配置。
type Mapper struct {
	mu      sync.RWMutex
	cfg     *Config
	path    string
	windows map[string][]float64 // moving_average 状态，键为 stationType/semanticID
}

// LoadConfig 读取并校验配置文件。
func LoadConfig(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read semantic mapping: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse semantic mapping: %w", err)
	}
	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate 校验配置：每个工位类型必须有 station.state 信号，
// 且该信号对每个非 RUNNING 值都能给出损失类别。
func Validate(cfg *Config) error {
	for stype, signals := range cfg.StationTypes {
		var stateSig *SignalDef
		for i := range signals {
			if signals[i].SemanticID == "station.state" {
				stateSig = &signals[i]
			}
		}
		if stateSig == nil {
			return fmt.Errorf("station type %q: required signal station.state is missing", stype)
		}
		if stateSig.LossCategory == "" && len(stateSig.LossCategoryMap) == 0 && len(stateSig.LossCategoryRules) == 0 {
			return fmt.Errorf("station type %q: station.state must determine a loss category", stype)
		}
	}
	return nil
}

// New 创建映射器。path 仅用作热重载来源，可为空。
func New(cfg *Config, path string) *Mapper {
	return &Mapper{
		cfg:     cfg,
		path:    path,
		windows: make(map[string][]float64),
	}
}

// Reload 重新读取配置文件，校验失败时保留旧配置。
func (m *Mapper) Reload() error {
	if m.path == "" {
		return fmt.Errorf("no config path to reload from")
	}
	cfg, err := LoadConfig(m.path)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.cfg = cfg
	m.windows = make(map[string][]float64)
	m.mu.Unlock()
	return nil
}

// Map 将一个工位的原始标签映射为语义信号。
// 未知工位类型时每个标签降级为一条 raw.<tag> 信号。
// 非 RUNNING 的 station.state 在规则未命中时无法归类损失，
// 视为配置与车间状态脱节，返回校验错误。
func (m *Mapper) Map(stationType string, tags map[string]any) ([]Signal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	defs, ok := m.cfg.StationTypes[stationType]
	if !ok {
		return rawSignals(tags), nil
	}

	signals := make([]Signal, 0, len(defs))
	for _, def := range defs {
		raw, ok := tags[def.OpcSource]
		if !ok {
			continue
		}
		value := m.applyTransforms(stationType, def, raw)
		sig := Signal{
			SemanticID: def.SemanticID,
			Source:     def.OpcSource,
			Value:      value,
		}
		sig.LossCategory = lossCategory(def, value)
		if def.SemanticID == "station.state" && sig.LossCategory == "" {
			if s, ok := value.(string); ok && s != "RUNNING" {
				log.Warnw("semantic state without loss category",
					"station_type", stationType, "state", s)
				return nil, errors.ErrValidationFailed.WithMessagef(
					"station type %s: state %s carries no loss category", stationType, s)
			}
		}
		signals = append(signals, sig)
	}
	return signals, nil
}

// Snapshot 返回当前配置的只读视图。
func (m *Mapper) Snapshot() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg
}

// applyTransforms 按声明顺序应用变换。非数值标签原样透传。
func (m *Mapper) applyTransforms(stationType string, def SignalDef, raw any) any {
	num, isNum := toFloat(raw)
	if !isNum {
		return raw
	}

	for _, tr := range def.Transforms {
		switch tr.Type {
		case "range_check":
			if num < tr.Min {
				num = tr.Min
			}
			if num > tr.Max {
				num = tr.Max
			}
		case "moving_average":
			key := stationType + "/" + def.SemanticID
			window := tr.Window
			if window <= 0 {
				window = 5
			}
			w := append(m.windows[key], num)
			if len(w) > window {
				w = w[len(w)-window:]
			}
			m.windows[key] = w
			var sum float64
			for _, v := range w {
				sum += v
			}
			num = sum / float64(len(w))
		case "scale":
			num *= tr.Factor
		case "offset":
			num += tr.Value
		}
	}
	return num
}

// lossCategory 按定义确定损失类别：固定值优先，其次按值映射，
// 映射未命中时继续按规则求值。
func lossCategory(def SignalDef, value any) string {
	if def.LossCategory != "" {
		return def.LossCategory
	}
	if cat, ok := def.LossCategoryMap[fmt.Sprintf("%v", value)]; ok {
		return cat
	}
	for _, rule := range def.LossCategoryRules {
		if evalRule(rule.Rule, value) {
			return rule.Category
		}
	}
	return ""
}

// evalRule 求值形如 "value <op> literal" 的规则。
// 字符串比较只支持 == 与 !=，数值比较支持全部关系运算符。
func evalRule(rule string, value any) bool {
	fields := strings.Fields(rule)
	if len(fields) != 3 || fields[0] != "value" {
		return false
	}
	op, lit := fields[1], strings.Trim(fields[2], `'"`)

	if num, ok := toFloat(value); ok {
		ref, err := strconv.ParseFloat(lit, 64)
		if err == nil {
			switch op {
			case "==":
				return num == ref
			case "!=":
				return num != ref
			case ">":
				return num > ref
			case "<":
				return num < ref
			case ">=":
				return num >= ref
			case "<=":
				return num <= ref
			}
			return false
		}
	}

	s := fmt.Sprintf("%v", value)
	switch op {
	case "==":
		return s == lit
	case "!=":
		return s != lit
	}
	return false
}

func rawSignals(tags map[string]any) []Signal {
	keys := make([]string, 0, len(tags))
	for k := range tags {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	signals := make([]Signal, 0, len(keys))
	for _, k := range keys {
		signals = append(signals, Signal{
			SemanticID: "raw." + k,
			Source:     k,
			Value:      tags[k],
		})
	}
	return signals
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}
