package store

import (
	"context"
	"sync"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	glog "gorm.io/gorm/logger"

	"github.com/kart-io/shopfloor-copilot/internal/model"
	"github.com/kart-io/shopfloor-copilot/pkg/utils/errors"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: glog.Default.LogMode(glog.Silent),
	})
	require.NoError(t, err)

	// :memory: 下每个连接是独立数据库，收敛到单连接
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.AutoMigrate(
		&model.Violation{}, &model.ViolationAck{},
		&model.OpcKpiSample{}, &model.OpcStationSample{}, &model.OpcEvent{},
		&model.MaterialInstance{}, &model.StationAuthorization{},
		&model.ToolingStatus{}, &model.OperatorCert{},
	))
	return db
}

func sampleInput() UpsertInput {
	return UpsertInput{
		Profile:                   "aerospace",
		Plant:                     "P1",
		Line:                      "L1",
		Station:                   "S10",
		Severity:                  "critical",
		RequiresHumanConfirmation: true,
		ViolatedExpectations:      []string{"missing_serial_binding"},
		BlockingConditions:        []string{"missing_serial_binding"},
	}
}

func TestUpsertNoDuplicateActive(t *testing.T) {
	s := NewViolationStore(newTestDB(t))
	ctx := context.Background()

	id1, created, err := s.Upsert(ctx, sampleInput())
	require.NoError(t, err)
	assert.True(t, created)

	in := sampleInput()
	in.Severity = "warning"
	id2, created, err := s.Upsert(ctx, in)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, id1, id2)

	active, err := s.Active(ctx, ViolationQuery{})
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "warning", active[0].Severity)
}

func TestUpsertConcurrentSameStation(t *testing.T) {
	s := NewViolationStore(newTestDB(t))
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := s.Upsert(ctx, sampleInput())
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	// 同 station 同 blocking_conditions 并发写入仍只有一条活跃违规
	active, err := s.Active(ctx, ViolationQuery{})
	require.NoError(t, err)
	assert.Len(t, active, 1)
}

func TestUpsertDifferentConditionsCreatesNew(t *testing.T) {
	s := NewViolationStore(newTestDB(t))
	ctx := context.Background()

	id1, _, err := s.Upsert(ctx, sampleInput())
	require.NoError(t, err)

	in := sampleInput()
	in.BlockingConditions = []string{"tooling_not_calibrated"}
	id2, created, err := s.Upsert(ctx, in)
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEqual(t, id1, id2)

	active, err := s.Active(ctx, ViolationQuery{})
	require.NoError(t, err)
	assert.Len(t, active, 2)
}

func TestUpsertAfterCloseCreatesNew(t *testing.T) {
	s := NewViolationStore(newTestDB(t))
	ctx := context.Background()

	id1, _, err := s.Upsert(ctx, sampleInput())
	require.NoError(t, err)

	changed, err := s.Close(ctx, id1)
	require.NoError(t, err)
	assert.True(t, changed)

	id2, created, err := s.Upsert(ctx, sampleInput())
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEqual(t, id1, id2)
}

func TestJustifiedRequiresComment(t *testing.T) {
	s := NewViolationStore(newTestDB(t))
	ctx := context.Background()

	vid, _, err := s.Upsert(ctx, sampleInput())
	require.NoError(t, err)

	err = s.AddAcknowledgment(ctx, vid, "qe1", model.AckTypeJustified, "", "")
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrValidationFailed.Code))

	err = s.AddAcknowledgment(ctx, vid, "qe1", model.AckTypeJustified, "deviation DEV-7 covers this", "")
	require.NoError(t, err)

	tl, err := s.Timeline(ctx, vid)
	require.NoError(t, err)
	assert.Equal(t, model.ViolationStateJustified, tl.State)
}

func TestResolveSetsTsEndOnce(t *testing.T) {
	s := NewViolationStore(newTestDB(t))
	ctx := context.Background()

	vid, _, err := s.Upsert(ctx, sampleInput())
	require.NoError(t, err)

	require.NoError(t, s.AddAcknowledgment(ctx, vid, "sup1", model.AckTypeResolved, "fixed", ""))

	tl, err := s.Timeline(ctx, vid)
	require.NoError(t, err)
	assert.Equal(t, model.ViolationStateResolved, tl.State)
	require.NotNil(t, tl.Violation.TsEnd)

	// 再次 resolve 返回 400
	err = s.AddAcknowledgment(ctx, vid, "sup1", model.AckTypeResolved, "again", "")
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrInvalidRequest.Code))
}

func TestCloseIdempotent(t *testing.T) {
	s := NewViolationStore(newTestDB(t))
	ctx := context.Background()

	vid, _, err := s.Upsert(ctx, sampleInput())
	require.NoError(t, err)

	changed, err := s.Close(ctx, vid)
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = s.Close(ctx, vid)
	require.NoError(t, err)
	assert.False(t, changed)

	history, err := s.History(ctx, ViolationQuery{})
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestCloseByStation(t *testing.T) {
	s := NewViolationStore(newTestDB(t))
	ctx := context.Background()

	_, _, err := s.Upsert(ctx, sampleInput())
	require.NoError(t, err)
	other := sampleInput()
	other.BlockingConditions = []string{"operator_not_certified"}
	_, _, err = s.Upsert(ctx, other)
	require.NoError(t, err)

	n, err := s.CloseByStation(ctx, "S10")
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	active, err := s.Active(ctx, ViolationQuery{})
	require.NoError(t, err)
	assert.Empty(t, active)
}

func TestHistoryFiltersBeforeLimit(t *testing.T) {
	s := NewViolationStore(newTestDB(t))
	ctx := context.Background()

	// S10 三条已关闭，S20 两条最新关闭；limit 必须在过滤之后生效
	for i := 0; i < 3; i++ {
		vid, _, err := s.Upsert(ctx, sampleInput())
		require.NoError(t, err)
		_, err = s.Close(ctx, vid)
		require.NoError(t, err)
	}
	for i := 0; i < 2; i++ {
		in := sampleInput()
		in.Station = "S20"
		vid, _, err := s.Upsert(ctx, in)
		require.NoError(t, err)
		_, err = s.Close(ctx, vid)
		require.NoError(t, err)
	}

	history, err := s.History(ctx, ViolationQuery{Station: "S10", Limit: 2})
	require.NoError(t, err)
	require.Len(t, history, 2)
	for _, v := range history {
		assert.Equal(t, "S10", v.Station)
	}

	history, err = s.History(ctx, ViolationQuery{Station: "S10", Limit: 10})
	require.NoError(t, err)
	assert.Len(t, history, 3)
}

func TestTimelineStateProgression(t *testing.T) {
	s := NewViolationStore(newTestDB(t))
	ctx := context.Background()

	vid, _, err := s.Upsert(ctx, sampleInput())
	require.NoError(t, err)

	tl, err := s.Timeline(ctx, vid)
	require.NoError(t, err)
	assert.Equal(t, model.ViolationStateOpen, tl.State)

	require.NoError(t, s.AddAcknowledgment(ctx, vid, "op1", model.AckTypeAcknowledged, "", ""))
	tl, err = s.Timeline(ctx, vid)
	require.NoError(t, err)
	assert.Equal(t, model.ViolationStateAcknowledged, tl.State)
	assert.Len(t, tl.Acks, 1)
}

func TestTimelineNotFound(t *testing.T) {
	s := NewViolationStore(newTestDB(t))
	_, err := s.Timeline(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrViolationNotFound.Code))
}
