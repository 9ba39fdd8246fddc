package model

import (
	"time"
)

// OpcKpiSample 产线级 KPI 快照采样。
type OpcKpiSample struct {
	ID           uint64    `json:"id" gorm:"primaryKey;autoIncrement"`
	Ts           time.Time `json:"ts" gorm:"index"`
	Plant        string    `json:"plant" gorm:"type:varchar(64)"`
	Line         string    `json:"line" gorm:"type:varchar(64);index"`
	OEE          float64   `json:"oee"`
	Availability float64   `json:"availability"`
	Performance  float64   `json:"performance"`
	Quality      float64   `json:"quality"`
	Status       string    `json:"status" gorm:"type:varchar(32)"`
}

// TableName returns the table name for GORM.
func (OpcKpiSample) TableName() string {
	return "opc_kpi_samples"
}

// OpcStationSample 工位级状态采样。
type OpcStationSample struct {
	ID         uint64    `json:"id" gorm:"primaryKey;autoIncrement"`
	Ts         time.Time `json:"ts" gorm:"index"`
	Plant      string    `json:"plant" gorm:"type:varchar(64)"`
	Line       string    `json:"line" gorm:"type:varchar(64)"`
	Station    string    `json:"station" gorm:"type:varchar(64);index"`
	State      string    `json:"state" gorm:"type:varchar(32)"`
	CycleTimeS float64   `json:"cycle_time_s"`
	GoodCount  int64     `json:"good_count"`
	ScrapCount int64     `json:"scrap_count"`
	Alarms     []string  `json:"alarms" gorm:"serializer:json;type:text"`
}

// TableName returns the table name for GORM.
func (OpcStationSample) TableName() string {
	return "opc_station_samples"
}

// OpcEvent 场景应用等离散事件，payload 保留原始负载。
type OpcEvent struct {
	ID        string         `json:"id" gorm:"primaryKey;type:varchar(36)"`
	Ts        time.Time      `json:"ts" gorm:"index"`
	Plant     string         `json:"plant" gorm:"type:varchar(64)"`
	Line      string         `json:"line" gorm:"type:varchar(64)"`
	Station   string         `json:"station" gorm:"type:varchar(64);index"`
	EventType string         `json:"event_type" gorm:"type:varchar(64)"`
	Severity  string         `json:"severity" gorm:"type:varchar(16)"`
	Payload   map[string]any `json:"payload" gorm:"serializer:json;type:text"`
}

// TableName returns the table name for GORM.
func (OpcEvent) TableName() string {
	return "opc_events"
}
