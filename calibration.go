package focmotor

import (
	"context"
	"math"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
)

// resistanceCalibKI is the closed-loop current regulator's integral gain
// used while identifying phase resistance (§4.D).
const resistanceCalibKI = 10.0 // V/(A·s)

// resistanceCalibDuration is how long the resistance regulator runs,
// expressed as a duration rather than a tick count so it stays correct
// across different current_meas_hz configurations.
const resistanceCalibDuration = 3.0 // seconds

// inductanceCalibNumCycles is the number of even/odd tick pairs the square-
// wave inductance probe runs for.
const inductanceCalibNumCycles = 5000

// IdentifyResistance holds a closed-loop current regulator on phase A,
// integrating voltage toward the setpoint iStar, and reports the resulting
// phase resistance. Runs in lockstep with the control ISR via
// axis.RunControlLoop, so it competes for the same measurement cadence as a
// normal armed tick would.
func (m *Motor) IdentifyResistance(ctx context.Context, iStar float64) (float64, error) {
	ctx, done := m.opMgr.New(ctx)
	defer done()

	if iStar == 0 {
		return 0, errors.New("error identifying phase resistance: calibration_current must be non-zero")
	}

	numTicks := int(resistanceCalibDuration/m.ts + 0.5)
	var v float64
	var tick int
	var loopErr error

	m.axis.RunControlLoop(ctx, func() bool {
		if !m.axis.WaitForCurrentMeas(ctx) {
			loopErr = errors.New("error identifying phase resistance: timed out waiting for current measurement")
			return false
		}

		iAlpha, _ := clarke(m.meas.phB, m.meas.phC)
		v += resistanceCalibKI * m.ts * (iStar - iAlpha)
		if math.Abs(v) > m.cfg.ResistanceCalibMaxVoltage {
			m.SetError(FaultPhaseResistanceOutOfRange)
			loopErr = errors.Errorf("error identifying phase resistance: drive voltage %v exceeded max %v", v, m.cfg.ResistanceCalibMaxVoltage)
			return false
		}
		if f := m.enqueueVoltageTimings(v, 0); f != 0 {
			loopErr = errors.Errorf("error identifying phase resistance: %s", f)
			return false
		}
		if errs := m.Errors(); errs != 0 {
			loopErr = errors.Errorf("error identifying phase resistance: motor faulted: %s", errs)
			return false
		}

		tick++
		return tick < numTicks
	})
	if loopErr != nil {
		return 0, loopErr
	}

	return v / iStar, nil
}

// IdentifyInductance applies a square-wave voltage on phase A, alternating
// between vLow and vHigh every control tick, and reports the resulting
// phase inductance from the even/odd current response.
func (m *Motor) IdentifyInductance(ctx context.Context, vLow, vHigh float64) (float64, error) {
	ctx, done := m.opMgr.New(ctx)
	defer done()

	var sumLow, sumHigh float64
	var tick int
	totalTicks := inductanceCalibNumCycles * 2
	var loopErr error

	m.axis.RunControlLoop(ctx, func() bool {
		if !m.axis.WaitForCurrentMeas(ctx) {
			loopErr = errors.New("error identifying phase inductance: timed out waiting for current measurement")
			return false
		}

		v := vLow
		high := tick%2 == 1
		if high {
			v = vHigh
		}
		if f := m.enqueueVoltageTimings(v, 0); f != 0 {
			loopErr = errors.Errorf("error identifying phase inductance: %s", f)
			return false
		}

		iAlpha, _ := clarke(m.meas.phB, m.meas.phC)
		if high {
			sumHigh += iAlpha
		} else {
			sumLow += iAlpha
		}
		if errs := m.Errors(); errs != 0 {
			loopErr = errors.Errorf("error identifying phase inductance: motor faulted: %s", errs)
			return false
		}

		tick++
		return tick < totalTicks
	})
	if loopErr != nil {
		return 0, loopErr
	}

	iAlphaLow := sumLow / float64(inductanceCalibNumCycles)
	iAlphaHigh := sumHigh / float64(inductanceCalibNumCycles)
	dIdt := (iAlphaHigh - iAlphaLow) / (m.ts * float64(inductanceCalibNumCycles))
	if dIdt == 0 {
		return 0, errors.New("error identifying phase inductance: zero current slope")
	}

	vL := (vHigh - vLow) / 2
	l := vL / dIdt
	if err := checkInductanceRange("phase_inductance", l); err != nil {
		m.SetError(FaultPhaseInductanceOutOfRange)
		return 0, err
	}
	return l, nil
}

// RunCalibration identifies phase resistance then inductance for
// HIGH_CURRENT and ACIM motors, refreshes the controller's PI gains, and
// marks the motor calibrated. GIMBAL motors are voltage-controlled and need
// no R/L identification, so this is a no-op for them. Unknown motor types
// are rejected.
//
// On success the bridge is left armed with zero current commanded; whether
// to de-energize before handing control to closed-loop operation is the
// axis supervisor's decision, not this core's.
func (m *Motor) RunCalibration(ctx context.Context) error {
	ctx, done := m.opMgr.New(ctx)
	defer done()

	switch m.cfg.MotorType {
	case MotorTypeGimbal:
		m.isCalibrated = true
		return nil
	case MotorTypeHighCurrent, MotorTypeACIM:
	default:
		return errors.Errorf("error running calibration: unimplemented motor_type %q", m.cfg.MotorType)
	}

	var r, l float64
	var rErr, lErr error
	r, rErr = m.IdentifyResistance(ctx, m.cfg.CalibrationCurrent)
	if rErr == nil {
		m.cfg.PhaseResistance = r
	}

	l, lErr = m.IdentifyInductance(ctx, -m.cfg.ResistanceCalibMaxVoltage, m.cfg.ResistanceCalibMaxVoltage)
	if lErr == nil {
		m.cfg.PhaseInductance = l
	}

	if err := multierr.Combine(rErr, lErr); err != nil {
		return errors.Wrap(err, "error running calibration")
	}

	if f := m.enqueueVoltageTimings(0, 0); f != 0 {
		return errors.Errorf("error running calibration: %s", f)
	}

	m.controller.refreshGains(m.cfg.CurrentControlBandwidth, m.cfg.PhaseResistance, m.cfg.PhaseInductance)
	m.isCalibrated = true
	return nil
}
