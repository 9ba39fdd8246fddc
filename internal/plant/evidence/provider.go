// Package evidence 提供工位物料证据的只读视图，聚合四个独立来源：
// 物料实例、工位授权、工装状态与操作员资质。
package evidence

import (
	"context"

	"github.com/kart-io/shopfloor-copilot/internal/copilot/store"
	"github.com/kart-io/shopfloor-copilot/internal/model"
	"github.com/kart-io/shopfloor-copilot/pkg/log"
)

// MaterialContext 某工位的物料上下文快照。
type MaterialContext struct {
	Plant                string `json:"plant"`
	Line                 string `json:"line"`
	Station              string `json:"station"`
	Mode                 string `json:"mode"`
	ActiveSerial         string `json:"active_serial,omitempty"`
	ActiveLot            string `json:"active_lot,omitempty"`
	WorkOrder            string `json:"work_order,omitempty"`
	Operation            string `json:"operation,omitempty"`
	BomRevision          string `json:"bom_revision,omitempty"`
	AsBuiltRevision      string `json:"as_built_revision,omitempty"`
	QualityStatus        string `json:"quality_status"`
	DeviationID          string `json:"deviation_id,omitempty"`
	DryRunAuthorization  bool   `json:"dry_run_authorization"`
	ToolingCalibrationOK bool   `json:"tooling_calibration_ok"`
	OperatorCertified    bool   `json:"operator_certified"`
	EvidencePresent      bool   `json:"evidence_present"`
}

// Provider 物料证据提供器。任何底层失败都降级为空上下文，不上抛。
type Provider struct {
	store *store.EvidenceStore
}

// NewProvider 创建物料证据提供器。
func NewProvider(s *store.EvidenceStore) *Provider {
	return &Provider{store: s}
}

// GetMaterialContext 返回工位的物料上下文。
// 来源缺失时相应字段取默认值；evidence_present 仅在物料实例存在时为真。
func (p *Provider) GetMaterialContext(ctx context.Context, plant, line, station string) *MaterialContext {
	mc := &MaterialContext{
		Plant:         plant,
		Line:          line,
		Station:       station,
		Mode:          model.TraceModeNone,
		QualityStatus: "none",
	}

	if inst, err := p.store.MaterialInstance(ctx, station); err != nil {
		log.Warnw("material instance lookup failed", "station", station, "error", err)
	} else if inst != nil {
		mc.EvidencePresent = true
		mc.Mode = inst.Mode
		mc.ActiveSerial = inst.ActiveSerial
		mc.ActiveLot = inst.ActiveLot
		mc.WorkOrder = inst.WorkOrder
		mc.Operation = inst.Operation
		mc.BomRevision = inst.BomRevision
		mc.AsBuiltRevision = inst.AsBuiltRevision
		if inst.QualityStatus != "" {
			mc.QualityStatus = inst.QualityStatus
		}
		mc.DeviationID = inst.DeviationID
	}

	if auth, err := p.store.Authorization(ctx, station); err != nil {
		log.Warnw("authorization lookup failed", "station", station, "error", err)
	} else if auth != nil {
		mc.DryRunAuthorization = auth.DryRunAuthorization
	}

	if tooling, err := p.store.Tooling(ctx, station); err != nil {
		log.Warnw("tooling lookup failed", "station", station, "error", err)
	} else if tooling != nil {
		mc.ToolingCalibrationOK = tooling.CalibrationOK
	}

	if cert, err := p.store.OperatorCert(ctx, station); err != nil {
		log.Warnw("operator cert lookup failed", "station", station, "error", err)
	} else if cert != nil {
		mc.OperatorCertified = cert.Certified
	}

	return mc
}
