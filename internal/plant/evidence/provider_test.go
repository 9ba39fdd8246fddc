package evidence

import (
	"context"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	glog "gorm.io/gorm/logger"

	"github.com/kart-io/shopfloor-copilot/internal/copilot/store"
	"github.com/kart-io/shopfloor-copilot/internal/model"
)

func setup(t *testing.T) (*Provider, *gorm.DB) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: glog.Default.LogMode(glog.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&model.MaterialInstance{}, &model.StationAuthorization{},
		&model.ToolingStatus{}, &model.OperatorCert{},
	))
	return NewProvider(store.NewEvidenceStore(db)), db
}

func TestEmptySourcesYieldDefaults(t *testing.T) {
	p, _ := setup(t)

	mc := p.GetMaterialContext(context.Background(), "P1", "L1", "S10")
	assert.Equal(t, "S10", mc.Station)
	assert.Equal(t, model.TraceModeNone, mc.Mode)
	assert.Equal(t, "none", mc.QualityStatus)
	assert.False(t, mc.EvidencePresent)
	assert.False(t, mc.DryRunAuthorization)
	assert.False(t, mc.ToolingCalibrationOK)
	assert.False(t, mc.OperatorCertified)
}

func TestEvidencePresentRequiresMaterialInstance(t *testing.T) {
	p, db := setup(t)

	// 只有授权和工装记录，没有物料实例
	require.NoError(t, db.Create(&model.StationAuthorization{Station: "S10", DryRunAuthorization: true}).Error)
	require.NoError(t, db.Create(&model.ToolingStatus{Station: "S10", CalibrationOK: true}).Error)

	mc := p.GetMaterialContext(context.Background(), "P1", "L1", "S10")
	assert.False(t, mc.EvidencePresent)
	assert.True(t, mc.DryRunAuthorization)
	assert.True(t, mc.ToolingCalibrationOK)
}

func TestFullContext(t *testing.T) {
	p, db := setup(t)

	require.NoError(t, db.Create(&model.MaterialInstance{
		Station:       "S10",
		Mode:          model.TraceModeSerial,
		ActiveSerial:  "SN-001",
		WorkOrder:     "WO-77",
		QualityStatus: model.QualityStatusHold,
		DeviationID:   "DEV-3",
	}).Error)
	require.NoError(t, db.Create(&model.OperatorCert{Station: "S10", Certified: true}).Error)

	mc := p.GetMaterialContext(context.Background(), "P1", "L1", "S10")
	assert.True(t, mc.EvidencePresent)
	assert.Equal(t, model.TraceModeSerial, mc.Mode)
	assert.Equal(t, "SN-001", mc.ActiveSerial)
	assert.Equal(t, model.QualityStatusHold, mc.QualityStatus)
	assert.Equal(t, "DEV-3", mc.DeviationID)
	assert.True(t, mc.OperatorCertified)
}
