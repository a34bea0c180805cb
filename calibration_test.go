package focmotor

import (
	"context"
	"math"
	"testing"

	"go.viam.com/test"
)

// resistivePlant simulates a pure-resistance phase winding: the current
// that would be measured on the next tick is whatever voltage was last
// commanded, divided by the simulated resistance.
type resistivePlant struct {
	m *Motor
	r float64
}

func (p *resistivePlant) waitForCurrentMeas(ctx context.Context) bool {
	iAlpha := p.m.controller.finalVAlpha / p.r
	// Balanced three-phase split consistent with clarke()'s reconstruction:
	// Iα = -(IB+IC), so IB=IC=-Iα/2 reproduces Iα exactly.
	p.m.SetMeasurement(-iAlpha/2, -iAlpha/2)
	return true
}

func TestIdentifyResistanceMatchesSpecScenario(t *testing.T) {
	cfg := highCurrentTestConfig()
	cfg.ResistanceCalibMaxVoltage = 2.0
	m := newTestMotor(t, cfg)
	m.ts = 125e-6

	plant := &resistivePlant{m: m, r: 0.1}
	m.axis = &fakeAxis{WaitForCurrentMeasFunc: plant.waitForCurrentMeas, maxTicks: 30000}

	r, err := m.IdentifyResistance(context.Background(), 10.0)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, math.Abs(r-0.1)/0.1, test.ShouldBeLessThan, 0.01)
}

func TestIdentifyResistanceRequiresNonZeroCurrent(t *testing.T) {
	m := newTestMotor(t, highCurrentTestConfig())
	_, err := m.IdentifyResistance(context.Background(), 0)
	test.That(t, err, test.ShouldNotBeNil)
}

func TestIdentifyResistanceClampFailureRaisesFault(t *testing.T) {
	cfg := highCurrentTestConfig()
	cfg.ResistanceCalibMaxVoltage = 0.01 // tiny, so the regulator clamps almost immediately
	m := newTestMotor(t, cfg)
	m.axis = &fakeAxis{WaitForCurrentMeasFunc: func(ctx context.Context) bool { return true }, maxTicks: 30000}

	_, err := m.IdentifyResistance(context.Background(), 10.0)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, m.Errors().Has(FaultPhaseResistanceOutOfRange), test.ShouldBeTrue)
}

// squareWavePlant reports a fixed iAlpha for even ticks and a different
// fixed iAlpha for odd ticks — a current response with a known, exact
// even/odd delta, so the identified inductance is computable by hand
// instead of depending on an integrator's transient behavior.
type squareWavePlant struct {
	m              *Motor
	iAlphaLow      float64
	iAlphaHigh     float64
	tick           int
}

func (p *squareWavePlant) waitForCurrentMeas(ctx context.Context) bool {
	i := p.iAlphaLow
	if p.tick%2 == 1 {
		i = p.iAlphaHigh
	}
	p.tick++
	p.m.SetMeasurement(-i/2, -i/2)
	return true
}

func TestIdentifyInductanceMatchesHandComputedValue(t *testing.T) {
	cfg := highCurrentTestConfig()
	m := newTestMotor(t, cfg)
	m.ts = 125e-6

	const vLow, vHigh = 0.0, 1.0
	// Chosen so that L = vL / dIdt = 0.5 / 2500 = 200 uH, well inside
	// [2uH, 4mH].
	const iAlphaLow, iAlphaHigh = 0.0, 1562.5
	plant := &squareWavePlant{m: m, iAlphaLow: iAlphaLow, iAlphaHigh: iAlphaHigh}
	m.axis = &fakeAxis{WaitForCurrentMeasFunc: plant.waitForCurrentMeas, maxTicks: 2 * inductanceCalibNumCycles}

	l, err := m.IdentifyInductance(context.Background(), vLow, vHigh)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, math.Abs(l-200e-6)/200e-6, test.ShouldBeLessThan, 1e-6)
}

func TestIdentifyInductanceOutOfRangeRaisesFault(t *testing.T) {
	cfg := highCurrentTestConfig()
	m := newTestMotor(t, cfg)
	m.ts = 125e-6

	// A tiny even/odd delta means a tiny dI/dt, which identifies an
	// inductance far above the valid range.
	plant := &squareWavePlant{m: m, iAlphaLow: 0, iAlphaHigh: 1e-9}
	m.axis = &fakeAxis{WaitForCurrentMeasFunc: plant.waitForCurrentMeas, maxTicks: 2 * inductanceCalibNumCycles}

	_, err := m.IdentifyInductance(context.Background(), 0, 1.0)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, m.Errors().Has(FaultPhaseInductanceOutOfRange), test.ShouldBeTrue)
}

func TestRunCalibrationNoopForGimbal(t *testing.T) {
	m := newTestMotor(t, gimbalTestConfig())
	err := m.RunCalibration(context.Background())
	test.That(t, err, test.ShouldBeNil)
	test.That(t, m.isCalibrated, test.ShouldBeTrue)
}

func TestRunCalibrationRejectsUnknownMotorType(t *testing.T) {
	m := newTestMotor(t, highCurrentTestConfig())
	m.cfg.MotorType = "not_a_real_type"
	err := m.RunCalibration(context.Background())
	test.That(t, err, test.ShouldNotBeNil)
}

// runCalibrationPlant drives both phases RunCalibration runs in sequence
// against the same fakeAxis: a resistive response for the resistance-
// identification ticks, then a fixed even/odd square-wave response for the
// inductance-identification ticks that follow.
type runCalibrationPlant struct {
	m               *Motor
	r               float64
	resistanceTicks int
	iAlphaLow       float64
	iAlphaHigh      float64
	call            int
}

func (p *runCalibrationPlant) waitForCurrentMeas(ctx context.Context) bool {
	if p.call < p.resistanceTicks {
		iAlpha := p.m.controller.finalVAlpha / p.r
		p.m.SetMeasurement(-iAlpha/2, -iAlpha/2)
	} else {
		idx := p.call - p.resistanceTicks
		i := p.iAlphaLow
		if idx%2 == 1 {
			i = p.iAlphaHigh
		}
		p.m.SetMeasurement(-i/2, -i/2)
	}
	p.call++
	return true
}

// TestRunCalibrationUsesSymmetricFullAmplitudeInductanceProbe checks that
// RunCalibration drives IdentifyInductance with a symmetric, full-amplitude
// square wave (-resistance_calib_max_voltage, +resistance_calib_max_voltage),
// matching measure_phase_inductance in the original firmware, rather than an
// asymmetric half-amplitude one. The two give different vL and therefore a
// different identified inductance for the same current response, so this
// would fail under the old (0, V/2) wiring.
func TestRunCalibrationUsesSymmetricFullAmplitudeInductanceProbe(t *testing.T) {
	cfg := highCurrentTestConfig()
	cfg.ResistanceCalibMaxVoltage = 2.0
	cfg.CalibrationCurrent = 10.0
	m := newTestMotor(t, cfg)
	m.ts = 125e-6

	const iAlphaLow, iAlphaHigh = 0.0, 1562.5
	numResistanceTicks := int(resistanceCalibDuration/m.ts + 0.5)
	plant := &runCalibrationPlant{
		m:               m,
		r:               0.1,
		resistanceTicks: numResistanceTicks,
		iAlphaLow:       iAlphaLow,
		iAlphaHigh:      iAlphaHigh,
	}
	m.axis = &fakeAxis{WaitForCurrentMeasFunc: plant.waitForCurrentMeas, maxTicks: numResistanceTicks + 10}

	err := m.RunCalibration(context.Background())
	test.That(t, err, test.ShouldBeNil)

	dIdt := (iAlphaHigh - iAlphaLow) / (m.ts * float64(inductanceCalibNumCycles))
	wantVL := cfg.ResistanceCalibMaxVoltage // (V - (-V)) / 2 == V, the full-amplitude case
	wantL := wantVL / dIdt
	test.That(t, math.Abs(m.cfg.PhaseInductance-wantL)/wantL, test.ShouldBeLessThan, 1e-6)
}
