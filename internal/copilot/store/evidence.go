package store

import (
	"context"
	goerrors "errors"

	"gorm.io/gorm"

	"github.com/kart-io/shopfloor-copilot/internal/model"
	"github.com/kart-io/shopfloor-copilot/pkg/utils/errors"
)

// EvidenceStore 物料证据的四个只读来源，按工位查询。
// 记录缺失不是错误，返回 nil。
type EvidenceStore struct {
	db *gorm.DB
}

// NewEvidenceStore 创建物料证据存储实例。
func NewEvidenceStore(db *gorm.DB) *EvidenceStore {
	return &EvidenceStore{db: db}
}

// MaterialInstance 返回工位当前激活的物料实例。
func (s *EvidenceStore) MaterialInstance(ctx context.Context, station string) (*model.MaterialInstance, error) {
	var m model.MaterialInstance
	if err := s.db.WithContext(ctx).Where("station = ?", station).First(&m).Error; err != nil {
		if goerrors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, errors.ErrDatabase.WithCause(err)
	}
	return &m, nil
}

// Authorization 返回工位授权记录。
func (s *EvidenceStore) Authorization(ctx context.Context, station string) (*model.StationAuthorization, error) {
	var a model.StationAuthorization
	if err := s.db.WithContext(ctx).Where("station = ?", station).First(&a).Error; err != nil {
		if goerrors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, errors.ErrDatabase.WithCause(err)
	}
	return &a, nil
}

// Tooling 返回工位工装状态。
func (s *EvidenceStore) Tooling(ctx context.Context, station string) (*model.ToolingStatus, error) {
	var t model.ToolingStatus
	if err := s.db.WithContext(ctx).Where("station = ?", station).First(&t).Error; err != nil {
		if goerrors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, errors.ErrDatabase.WithCause(err)
	}
	return &t, nil
}

// OperatorCert 返回工位操作员资质。
func (s *EvidenceStore) OperatorCert(ctx context.Context, station string) (*model.OperatorCert, error) {
	var o model.OperatorCert
	if err := s.db.WithContext(ctx).Where("station = ?", station).First(&o).Error; err != nil {
		if goerrors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, errors.ErrDatabase.WithCause(err)
	}
	return &o, nil
}
