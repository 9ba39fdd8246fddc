// Package expectation 按行业画像对 (车间状态, 物料证据) 求值，
// 产出结构化的期望违背结果。
package expectation

import (
	"fmt"

	"github.com/kart-io/shopfloor-copilot/internal/model"
	"github.com/kart-io/shopfloor-copilot/internal/plant"
	"github.com/kart-io/shopfloor-copilot/internal/plant/evidence"
)

// 行业画像。
const (
	ProfileAerospace  = "aerospace"
	ProfilePharma     = "pharma"
	ProfileAutomotive = "automotive"
)

// 结果严重度，info < warning < critical。
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

var severityRank = map[string]int{
	SeverityInfo:     0,
	SeverityWarning:  1,
	SeverityCritical: 2,
}

// Input 一次求值的输入。
type Input struct {
	Line     *plant.Line
	Station  *plant.Station
	Material *evidence.MaterialContext
}

// Emission 单条规则的一次产出。
type Emission struct {
	ExpectationID string
	Severity      string
	Blocking      bool
}

// Result 聚合后的求值结果。
type Result struct {
	Severity                  string   `json:"severity"`
	RequiresHumanConfirmation bool     `json:"requires_human_confirmation"`
	ViolatedExpectations      []string `json:"violated_expectations"`
	BlockingConditions        []string `json:"blocking_conditions"`
	Warnings                  []string `json:"warnings"`
}

// Rule 一条期望规则。
type Rule func(in Input) []Emission

// profiles 画像 → 规则集的调度表。
var profiles = map[string][]Rule{
	ProfileAerospace:  {ruleSerialBinding, ruleToolingCalibrated(true), ruleOperatorCertified(true)},
	ProfilePharma:     {ruleHoldWithoutDeviation, ruleOperatorCertified(true), ruleToolingCalibrated(false)},
	ProfileAutomotive: {ruleMaterialEvidenceWithStartupGrace, ruleToolingCalibrated(false)},
}

// Profiles 返回已知画像名。
func Profiles() []string {
	return []string{ProfileAerospace, ProfilePharma, ProfileAutomotive}
}

// Evaluate 对一个工位按画像求值。
// severity 取所有产出的最大值；blocking_conditions 按首次产出顺序；
// requires_human_confirmation 在有阻断条件或严重度为 critical 时为真。
func Evaluate(profile string, in Input) (*Result, error) {
	rules, ok := profiles[profile]
	if !ok {
		return nil, fmt.Errorf("unknown profile: %s", profile)
	}

	result := &Result{
		Severity:             SeverityInfo,
		ViolatedExpectations: []string{},
		BlockingConditions:   []string{},
		Warnings:             []string{},
	}

	seen := make(map[string]bool)
	for _, rule := range rules {
		for _, e := range rule(in) {
			if seen[e.ExpectationID] {
				continue
			}
			seen[e.ExpectationID] = true

			result.ViolatedExpectations = append(result.ViolatedExpectations, e.ExpectationID)
			if e.Blocking {
				result.BlockingConditions = append(result.BlockingConditions, e.ExpectationID)
			} else {
				result.Warnings = append(result.Warnings, e.ExpectationID)
			}
			if severityRank[e.Severity] > severityRank[result.Severity] {
				result.Severity = e.Severity
			}
		}
	}

	result.RequiresHumanConfirmation = len(result.BlockingConditions) > 0 || result.Severity == SeverityCritical
	return result, nil
}

// ruleSerialBinding 航空航天：序列号模式下必须绑定 active_serial。
func ruleSerialBinding(in Input) []Emission {
	if in.Material == nil {
		return nil
	}
	if in.Material.Mode == model.TraceModeSerial && in.Material.ActiveSerial == "" {
		return []Emission{{
			ExpectationID: "missing_serial_binding",
			Severity:      SeverityCritical,
			Blocking:      true,
		}}
	}
	return nil
}

// ruleHoldWithoutDeviation 制药：HOLD 状态的物料没有偏差单时阻断生产。
func ruleHoldWithoutDeviation(in Input) []Emission {
	if in.Material == nil {
		return nil
	}
	if in.Material.QualityStatus == model.QualityStatusHold && in.Material.DeviationID == "" {
		return []Emission{{
			ExpectationID: "hold_without_deviation",
			Severity:      SeverityCritical,
			Blocking:      true,
		}}
	}
	return nil
}

// ruleMaterialEvidenceWithStartupGrace 汽车：启动阶段（尚无产出）
// 允许缺物料证据；启动后缺证据且无空跑授权才告警。
func ruleMaterialEvidenceWithStartupGrace(in Input) []Emission {
	if in.Material == nil || in.Station == nil {
		return nil
	}
	if in.Material.EvidencePresent || in.Material.DryRunAuthorization {
		return nil
	}
	if in.Station.GoodCount == 0 {
		// 启动宽限期，不阻断
		return []Emission{{
			ExpectationID: "startup_without_material_evidence",
			Severity:      SeverityInfo,
		}}
	}
	return []Emission{{
		ExpectationID: "missing_material_evidence",
		Severity:      SeverityWarning,
		Blocking:      true,
	}}
}

// ruleToolingCalibrated 工装必须在校准有效期内。
// 仅当工位有物料证据（在产）时生效；
// blocking 由画像决定：强监管行业阻断，汽车仅告警。
func ruleToolingCalibrated(blocking bool) Rule {
	return func(in Input) []Emission {
		if in.Material == nil || !in.Material.EvidencePresent || in.Material.ToolingCalibrationOK {
			return nil
		}
		severity := SeverityWarning
		if blocking {
			severity = SeverityCritical
		}
		return []Emission{{
			ExpectationID: "tooling_not_calibrated",
			Severity:      severity,
			Blocking:      blocking,
		}}
	}
}

// ruleOperatorCertified 操作员必须持证上岗，仅在产时生效。
func ruleOperatorCertified(blocking bool) Rule {
	return func(in Input) []Emission {
		if in.Material == nil || !in.Material.EvidencePresent || in.Material.OperatorCertified {
			return nil
		}
		return []Emission{{
			ExpectationID: "operator_not_certified",
			Severity:      SeverityWarning,
			Blocking:      blocking,
		}}
	}
}
