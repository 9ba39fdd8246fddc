package store

import (
	"context"

	"gorm.io/gorm"

	"github.com/kart-io/shopfloor-copilot/internal/model"
	"github.com/kart-io/shopfloor-copilot/pkg/utils/errors"
)

// TelemetryStore KPI 快照与离散事件的关系存储。
type TelemetryStore struct {
	db *gorm.DB
}

// NewTelemetryStore 创建遥测存储实例。
func NewTelemetryStore(db *gorm.DB) *TelemetryStore {
	return &TelemetryStore{db: db}
}

// WriteTick 在单个事务内写入一次采样的产线与工位行。
func (s *TelemetryStore) WriteTick(ctx context.Context, kpis []model.OpcKpiSample, stations []model.OpcStationSample) error {
	if len(kpis) == 0 && len(stations) == 0 {
		return nil
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if len(kpis) > 0 {
			if err := tx.Create(&kpis).Error; err != nil {
				return err
			}
		}
		if len(stations) > 0 {
			if err := tx.Create(&stations).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return errors.ErrDatabase.WithCause(err)
	}
	return nil
}

// WriteEvent 写入单条离散事件。
func (s *TelemetryStore) WriteEvent(ctx context.Context, event *model.OpcEvent) error {
	if err := s.db.WithContext(ctx).Create(event).Error; err != nil {
		return errors.ErrDatabase.WithCause(err)
	}
	return nil
}

// RecentEvents 返回最近的离散事件，按 ts 降序。
func (s *TelemetryStore) RecentEvents(ctx context.Context, limit int) ([]model.OpcEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	var out []model.OpcEvent
	if err := s.db.WithContext(ctx).
		Order("ts DESC").
		Limit(limit).
		Find(&out).Error; err != nil {
		return nil, errors.ErrDatabase.WithCause(err)
	}
	return out, nil
}
