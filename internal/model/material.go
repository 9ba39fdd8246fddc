package model

import (
	"time"
)

// 物料追溯模式。
const (
	TraceModeSerial = "serial"
	TraceModeLot    = "lot"
	TraceModeNone   = "none"
)

// 物料质量状态。
const (
	QualityStatusReleased   = "RELEASED"
	QualityStatusHold       = "HOLD"
	QualityStatusQuarantine = "QUARANTINE"
)

// MaterialInstance 某工位当前激活的物料实例。
type MaterialInstance struct {
	ID              uint64    `json:"id" gorm:"primaryKey;autoIncrement"`
	Station         string    `json:"station" gorm:"type:varchar(64);uniqueIndex"`
	Mode            string    `json:"mode" gorm:"type:varchar(16)"`
	ActiveSerial    string    `json:"active_serial" gorm:"type:varchar(64)"`
	ActiveLot       string    `json:"active_lot" gorm:"type:varchar(64)"`
	WorkOrder       string    `json:"work_order" gorm:"type:varchar(64)"`
	Operation       string    `json:"operation" gorm:"type:varchar(64)"`
	BomRevision     string    `json:"bom_revision" gorm:"type:varchar(32)"`
	AsBuiltRevision string    `json:"as_built_revision" gorm:"type:varchar(32)"`
	QualityStatus   string    `json:"quality_status" gorm:"type:varchar(16)"`
	DeviationID     string    `json:"deviation_id" gorm:"type:varchar(64)"`
	UpdatedAt       time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}

// TableName returns the table name for GORM.
func (MaterialInstance) TableName() string {
	return "material_instances"
}

// StationAuthorization 工位级授权（如空跑授权）。
type StationAuthorization struct {
	ID                  uint64    `json:"id" gorm:"primaryKey;autoIncrement"`
	Station             string    `json:"station" gorm:"type:varchar(64);uniqueIndex"`
	DryRunAuthorization bool      `json:"dry_run_authorization"`
	AuthorizedBy        string    `json:"authorized_by" gorm:"type:varchar(64)"`
	UpdatedAt           time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}

// TableName returns the table name for GORM.
func (StationAuthorization) TableName() string {
	return "station_authorizations"
}

// ToolingStatus 工装校准状态。
type ToolingStatus struct {
	ID            uint64    `json:"id" gorm:"primaryKey;autoIncrement"`
	Station       string    `json:"station" gorm:"type:varchar(64);uniqueIndex"`
	ToolID        string    `json:"tool_id" gorm:"type:varchar(64)"`
	CalibrationOK bool      `json:"calibration_ok"`
	CalibratedAt  time.Time `json:"calibrated_at"`
	UpdatedAt     time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}

// TableName returns the table name for GORM.
func (ToolingStatus) TableName() string {
	return "tooling_status"
}

// OperatorCert 操作员资质。
type OperatorCert struct {
	ID         uint64    `json:"id" gorm:"primaryKey;autoIncrement"`
	Station    string    `json:"station" gorm:"type:varchar(64);uniqueIndex"`
	OperatorID string    `json:"operator_id" gorm:"type:varchar(64)"`
	Certified  bool      `json:"certified"`
	UpdatedAt  time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}

// TableName returns the table name for GORM.
func (OperatorCert) TableName() string {
	return "operator_certs"
}
