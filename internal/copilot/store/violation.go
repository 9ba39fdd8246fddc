package store

import (
	"context"
	goerrors "errors"
	"sort"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/kart-io/shopfloor-copilot/internal/model"
	"github.com/kart-io/shopfloor-copilot/pkg/utils/errors"
	"github.com/kart-io/shopfloor-copilot/pkg/utils/id"
)

// ViolationStore 违规记录的关系存储。
type ViolationStore struct {
	db *gorm.DB
}

// NewViolationStore 创建违规存储实例。
func NewViolationStore(db *gorm.DB) *ViolationStore {
	return &ViolationStore{db: db}
}

// UpsertInput 违规写入参数。
type UpsertInput struct {
	Profile                   string
	Plant                     string
	Line                      string
	Station                   string
	Severity                  string
	RequiresHumanConfirmation bool
	ViolatedExpectations      []string
	BlockingConditions        []string
	Warnings                  []string
	MaterialRef               string
	SnapshotRef               string
}

// Upsert 写入违规：同一 station 且 blocking_conditions 完全一致的
// 活跃违规就地更新，否则新建。返回违规 ID 与是否新建。
// 查找与写入在同一事务内完成，支持行锁的数据库对候选行加
// FOR UPDATE，并发写同一 station 时不会产生重复活跃违规。
func (s *ViolationStore) Upsert(ctx context.Context, in UpsertInput) (string, bool, error) {
	var violationID string
	var created bool

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		q := tx.Where("station = ? AND ts_end IS NULL", in.Station)
		if tx.Dialector.Name() != "sqlite" {
			q = q.Clauses(clause.Locking{Strength: "UPDATE"})
		}
		var active []model.Violation
		if err := q.Find(&active).Error; err != nil {
			return errors.ErrDatabase.WithCause(err)
		}

		for i := range active {
			if !sameConditionSet(active[i].BlockingConditions, in.BlockingConditions) {
				continue
			}
			v := active[i]
			v.Severity = in.Severity
			v.RequiresHumanConfirmation = in.RequiresHumanConfirmation
			v.ViolatedExpectations = in.ViolatedExpectations
			v.Warnings = in.Warnings
			v.MaterialRef = in.MaterialRef
			v.SnapshotRef = in.SnapshotRef
			if err := tx.Save(&v).Error; err != nil {
				return errors.ErrDatabase.WithCause(err)
			}
			violationID = v.ID
			return nil
		}

		v := model.Violation{
			ID:                        id.NewULID(),
			Profile:                   in.Profile,
			Plant:                     in.Plant,
			Line:                      in.Line,
			Station:                   in.Station,
			Severity:                  in.Severity,
			RequiresHumanConfirmation: in.RequiresHumanConfirmation,
			ViolatedExpectations:      in.ViolatedExpectations,
			BlockingConditions:        in.BlockingConditions,
			Warnings:                  in.Warnings,
			MaterialRef:               in.MaterialRef,
			SnapshotRef:               in.SnapshotRef,
			TsStart:                   time.Now(),
		}
		if err := tx.Create(&v).Error; err != nil {
			return errors.ErrDatabase.WithCause(err)
		}
		violationID = v.ID
		created = true
		return nil
	})
	if err != nil {
		return "", false, err
	}
	return violationID, created, nil
}

// AddAcknowledgment 追加确认。justified 必须带非空 comment；
// resolved 在同一事务内设置 ts_end。
func (s *ViolationStore) AddAcknowledgment(ctx context.Context, violationID, ackBy, ackType, comment, evidenceRef string) error {
	switch ackType {
	case model.AckTypeAcknowledged, model.AckTypeJustified, model.AckTypeFalsePositive, model.AckTypeResolved:
	default:
		return errors.ErrValidationFailed.WithMessagef("unknown ack_type: %s", ackType)
	}
	if ackType == model.AckTypeJustified && comment == "" {
		return errors.ErrValidationFailed.WithMessage("justified acknowledgment requires a comment")
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var v model.Violation
		if err := tx.Where("id = ?", violationID).First(&v).Error; err != nil {
			if goerrors.Is(err, gorm.ErrRecordNotFound) {
				return errors.ErrViolationNotFound.WithMessagef("violation %s not found", violationID)
			}
			return errors.ErrDatabase.WithCause(err)
		}

		if ackType == model.AckTypeResolved {
			if v.TsEnd != nil {
				return errors.ErrInvalidRequest.WithMessagef("violation %s already resolved", violationID)
			}
			now := time.Now()
			if err := tx.Model(&model.Violation{}).
				Where("id = ?", violationID).
				Update("ts_end", now).Error; err != nil {
				return errors.ErrDatabase.WithCause(err)
			}
		}

		ack := model.ViolationAck{
			ViolationID: violationID,
			AckBy:       ackBy,
			AckType:     ackType,
			Comment:     comment,
			EvidenceRef: evidenceRef,
			Ts:          time.Now(),
		}
		if err := tx.Create(&ack).Error; err != nil {
			return errors.ErrDatabase.WithCause(err)
		}
		return nil
	})
}

// Close 幂等地设置 ts_end，返回状态是否发生变化。
func (s *ViolationStore) Close(ctx context.Context, violationID string) (bool, error) {
	var v model.Violation
	if err := s.db.WithContext(ctx).Where("id = ?", violationID).First(&v).Error; err != nil {
		if goerrors.Is(err, gorm.ErrRecordNotFound) {
			return false, errors.ErrViolationNotFound.WithMessagef("violation %s not found", violationID)
		}
		return false, errors.ErrDatabase.WithCause(err)
	}
	if v.TsEnd != nil {
		return false, nil
	}

	now := time.Now()
	if err := s.db.WithContext(ctx).Model(&model.Violation{}).
		Where("id = ? AND ts_end IS NULL", violationID).
		Update("ts_end", now).Error; err != nil {
		return false, errors.ErrDatabase.WithCause(err)
	}
	return true, nil
}

// CloseByStation 关闭某工位的全部活跃违规，返回关闭数量。
func (s *ViolationStore) CloseByStation(ctx context.Context, station string) (int64, error) {
	res := s.db.WithContext(ctx).Model(&model.Violation{}).
		Where("station = ? AND ts_end IS NULL", station).
		Update("ts_end", time.Now())
	if res.Error != nil {
		return 0, errors.ErrDatabase.WithCause(res.Error)
	}
	return res.RowsAffected, nil
}

// Timeline 违规时间线：记录本体、按 ts 升序的确认和派生状态。
type Timeline struct {
	Violation model.Violation      `json:"violation"`
	Acks      []model.ViolationAck `json:"acks"`
	State     string               `json:"state"`
}

// Timeline 返回违规的完整时间线。
func (s *ViolationStore) Timeline(ctx context.Context, violationID string) (*Timeline, error) {
	var v model.Violation
	if err := s.db.WithContext(ctx).Where("id = ?", violationID).First(&v).Error; err != nil {
		if goerrors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.ErrViolationNotFound.WithMessagef("violation %s not found", violationID)
		}
		return nil, errors.ErrDatabase.WithCause(err)
	}

	var acks []model.ViolationAck
	if err := s.db.WithContext(ctx).
		Where("violation_id = ?", violationID).
		Order("ts ASC, id ASC").
		Find(&acks).Error; err != nil {
		return nil, errors.ErrDatabase.WithCause(err)
	}

	return &Timeline{
		Violation: v,
		Acks:      acks,
		State:     model.DeriveState(&v, acks),
	}, nil
}

// ViolationQuery 活跃/历史列表的过滤条件。过滤在 SQL 侧完成，
// Limit 作用于过滤后的结果。
type ViolationQuery struct {
	Station      string
	Profile      string
	BlockingOnly bool
	Limit        int
}

func (q ViolationQuery) apply(db *gorm.DB) *gorm.DB {
	if q.Station != "" {
		db = db.Where("station = ?", q.Station)
	}
	if q.Profile != "" {
		db = db.Where("profile = ?", q.Profile)
	}
	if q.BlockingOnly {
		// blocking_conditions 是 JSON 序列化的 text 列
		db = db.Where("blocking_conditions NOT IN ('', '[]', 'null')")
	}
	if q.Limit > 0 {
		db = db.Limit(q.Limit)
	}
	return db
}

// Active 返回满足条件的活跃违规（ts_end 为空），按 ts_start 降序。
func (s *ViolationStore) Active(ctx context.Context, q ViolationQuery) ([]model.Violation, error) {
	out := make([]model.Violation, 0)
	if err := q.apply(s.db.WithContext(ctx).
		Where("ts_end IS NULL").
		Order("ts_start DESC")).
		Find(&out).Error; err != nil {
		return nil, errors.ErrDatabase.WithCause(err)
	}
	return out, nil
}

// History 返回满足条件的已关闭违规，按 ts_end 降序。
func (s *ViolationStore) History(ctx context.Context, q ViolationQuery) ([]model.Violation, error) {
	out := make([]model.Violation, 0)
	if err := q.apply(s.db.WithContext(ctx).
		Where("ts_end IS NOT NULL").
		Order("ts_end DESC")).
		Find(&out).Error; err != nil {
		return nil, errors.ErrDatabase.WithCause(err)
	}
	return out, nil
}

// sameConditionSet 比较两个 blocking_conditions 集合是否完全一致，
// 忽略顺序与重复。
func sameConditionSet(a, b []string) bool {
	as := append([]string(nil), a...)
	bs := append([]string(nil), b...)
	sort.Strings(as)
	sort.Strings(bs)
	as = dedupSorted(as)
	bs = dedupSorted(bs)
	if len(as) != len(bs) {
		return false
	}
	for i := range as {
		if as[i] != bs[i] {
			return false
		}
	}
	return true
}

func dedupSorted(s []string) []string {
	out := s[:0]
	for i, v := range s {
		if i == 0 || v != s[i-1] {
			out = append(out, v)
		}
	}
	return out
}
