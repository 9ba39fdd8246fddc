// Package model 定义合规违规、遥测采样与物料证据的数据模型。
package model

import (
	"time"
)

// 确认类型。
const (
	AckTypeAcknowledged  = "acknowledged"
	AckTypeJustified     = "justified"
	AckTypeFalsePositive = "false_positive"
	AckTypeResolved      = "resolved"
)

// 派生的违规状态，不落库，由 ts_end 与最近一条确认推导。
const (
	ViolationStateOpen         = "OPEN"
	ViolationStateAcknowledged = "ACKNOWLEDGED"
	ViolationStateJustified    = "JUSTIFIED"
	ViolationStateResolved     = "RESOLVED"
)

// Violation 一条违规记录。station + blocking_conditions 相同的
// 活跃违规在复现时就地更新，不产生新行。
type Violation struct {
	ID                        string     `json:"id" gorm:"primaryKey;type:varchar(32)"`
	Profile                   string     `json:"profile" gorm:"type:varchar(32);index"`
	Plant                     string     `json:"plant" gorm:"type:varchar(64)"`
	Line                      string     `json:"line" gorm:"type:varchar(64)"`
	Station                   string     `json:"station" gorm:"type:varchar(64);index"`
	Severity                  string     `json:"severity" gorm:"type:varchar(16)"`
	RequiresHumanConfirmation bool       `json:"requires_human_confirmation"`
	ViolatedExpectations      []string   `json:"violated_expectations" gorm:"serializer:json;type:text"`
	BlockingConditions        []string   `json:"blocking_conditions" gorm:"serializer:json;type:text"`
	Warnings                  []string   `json:"warnings" gorm:"serializer:json;type:text"`
	MaterialRef               string     `json:"material_ref" gorm:"type:text"`
	SnapshotRef               string     `json:"snapshot_ref" gorm:"type:text"`
	TsStart                   time.Time  `json:"ts_start"`
	TsEnd                     *time.Time `json:"ts_end" gorm:"index"`
	UpdatedAt                 time.Time  `json:"updated_at" gorm:"autoUpdateTime"`
}

// TableName returns the table name for GORM.
func (Violation) TableName() string {
	return "violations"
}

// ViolationAck 违规确认记录，按 ts 升序构成时间线。
type ViolationAck struct {
	ID          uint64    `json:"id" gorm:"primaryKey;autoIncrement"`
	ViolationID string    `json:"violation_id" gorm:"type:varchar(32);index;not null"`
	AckBy       string    `json:"ack_by" gorm:"type:varchar(64)"`
	AckType     string    `json:"ack_type" gorm:"type:varchar(16)"`
	Comment     string    `json:"comment" gorm:"type:text"`
	EvidenceRef string    `json:"evidence_ref" gorm:"type:varchar(255)"`
	Ts          time.Time `json:"ts" gorm:"autoCreateTime"`
}

// TableName returns the table name for GORM.
func (ViolationAck) TableName() string {
	return "violation_ack"
}

// DeriveState 按 ts_end 与最近一条确认推导违规状态。
// acks 必须按 ts 升序传入。
func DeriveState(v *Violation, acks []ViolationAck) string {
	if v.TsEnd != nil {
		return ViolationStateResolved
	}
	if len(acks) > 0 {
		switch acks[len(acks)-1].AckType {
		case AckTypeJustified:
			return ViolationStateJustified
		case AckTypeAcknowledged:
			return ViolationStateAcknowledged
		}
	}
	return ViolationStateOpen
}
