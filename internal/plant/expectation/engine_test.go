package expectation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kart-io/shopfloor-copilot/internal/model"
	"github.com/kart-io/shopfloor-copilot/internal/plant"
	"github.com/kart-io/shopfloor-copilot/internal/plant/evidence"
)

func cleanContext() *evidence.MaterialContext {
	return &evidence.MaterialContext{
		Plant: "P1", Line: "L1", Station: "S10",
		Mode:                 model.TraceModeSerial,
		ActiveSerial:         "SN-001",
		QualityStatus:        model.QualityStatusReleased,
		ToolingCalibrationOK: true,
		OperatorCertified:    true,
		EvidencePresent:      true,
	}
}

func station() *plant.Station {
	return &plant.Station{ID: "S10", State: plant.StationRunning, GoodCount: 12}
}

func TestUnknownProfile(t *testing.T) {
	_, err := Evaluate("shipbuilding", Input{})
	assert.Error(t, err)
}

func TestCleanStationNoViolations(t *testing.T) {
	for _, profile := range Profiles() {
		res, err := Evaluate(profile, Input{Station: station(), Material: cleanContext()})
		require.NoError(t, err)
		assert.Empty(t, res.ViolatedExpectations, profile)
		assert.Equal(t, SeverityInfo, res.Severity, profile)
		assert.False(t, res.RequiresHumanConfirmation, profile)
	}
}

func TestAerospaceMissingSerialBinding(t *testing.T) {
	mc := cleanContext()
	mc.ActiveSerial = ""

	res, err := Evaluate(ProfileAerospace, Input{Station: station(), Material: mc})
	require.NoError(t, err)
	assert.Equal(t, SeverityCritical, res.Severity)
	assert.Equal(t, []string{"missing_serial_binding"}, res.BlockingConditions)
	assert.True(t, res.RequiresHumanConfirmation)
}

func TestAerospaceLotModeDoesNotRequireSerial(t *testing.T) {
	mc := cleanContext()
	mc.Mode = model.TraceModeLot
	mc.ActiveSerial = ""

	res, err := Evaluate(ProfileAerospace, Input{Station: station(), Material: mc})
	require.NoError(t, err)
	assert.Empty(t, res.BlockingConditions)
}

func TestPharmaHoldWithoutDeviation(t *testing.T) {
	mc := cleanContext()
	mc.QualityStatus = model.QualityStatusHold
	mc.DeviationID = ""

	res, err := Evaluate(ProfilePharma, Input{Station: station(), Material: mc})
	require.NoError(t, err)
	assert.Contains(t, res.BlockingConditions, "hold_without_deviation")
	assert.Equal(t, SeverityCritical, res.Severity)

	// 有偏差单时 HOLD 被允许
	mc.DeviationID = "DEV-9"
	res, err = Evaluate(ProfilePharma, Input{Station: station(), Material: mc})
	require.NoError(t, err)
	assert.Empty(t, res.BlockingConditions)
}

func TestAutomotiveStartupGrace(t *testing.T) {
	mc := cleanContext()
	mc.EvidencePresent = false
	st := station()
	st.GoodCount = 0

	res, err := Evaluate(ProfileAutomotive, Input{Station: st, Material: mc})
	require.NoError(t, err)
	assert.Empty(t, res.BlockingConditions)
	assert.Contains(t, res.ViolatedExpectations, "startup_without_material_evidence")
	assert.False(t, res.RequiresHumanConfirmation)
}

func TestAutomotiveMissingEvidenceAfterStartup(t *testing.T) {
	mc := cleanContext()
	mc.EvidencePresent = false

	res, err := Evaluate(ProfileAutomotive, Input{Station: station(), Material: mc})
	require.NoError(t, err)
	assert.Equal(t, []string{"missing_material_evidence"}, res.BlockingConditions)
	assert.True(t, res.RequiresHumanConfirmation)

	// 空跑授权放行
	mc.DryRunAuthorization = true
	res, err = Evaluate(ProfileAutomotive, Input{Station: station(), Material: mc})
	require.NoError(t, err)
	assert.Empty(t, res.ViolatedExpectations)
}

func TestToolingBlockingDependsOnProfile(t *testing.T) {
	mc := cleanContext()
	mc.ToolingCalibrationOK = false

	res, err := Evaluate(ProfileAerospace, Input{Station: station(), Material: mc})
	require.NoError(t, err)
	assert.Contains(t, res.BlockingConditions, "tooling_not_calibrated")
	assert.Equal(t, SeverityCritical, res.Severity)

	res, err = Evaluate(ProfileAutomotive, Input{Station: station(), Material: mc})
	require.NoError(t, err)
	assert.Contains(t, res.Warnings, "tooling_not_calibrated")
	assert.Empty(t, res.BlockingConditions)
	assert.Equal(t, SeverityWarning, res.Severity)
}

func TestBlockingOrderIsFirstEmission(t *testing.T) {
	mc := cleanContext()
	mc.ActiveSerial = ""
	mc.ToolingCalibrationOK = false
	mc.OperatorCertified = false

	res, err := Evaluate(ProfileAerospace, Input{Station: station(), Material: mc})
	require.NoError(t, err)
	assert.Equal(t, []string{"missing_serial_binding", "tooling_not_calibrated", "operator_not_certified"}, res.BlockingConditions)
}
