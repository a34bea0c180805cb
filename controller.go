package focmotor

import "math"

// currentController is the ISR-owned PI state for the d/q current loop
// (§4.C). Update, FOCCurrent and enqueueVoltageTimings write it on the control
// tick, Arm resets it, and NewMotor/RunCalibration refresh its gains.
type currentController struct {
	pGain, iGain float64
	vdInt, vqInt float64

	idMeasFilt, iqMeasFilt float64
	iqSetpoint             float64 // telemetry only
	idSetpoint             float64 // persists across ticks; ACIM autoflux accumulates into it

	ibus                    float64
	finalVAlpha, finalVBeta float64
}

// refreshGains recomputes the PI gains from bandwidth and the identified R/L,
// as required whenever either changes (calibration, or a config update).
func (c *currentController) refreshGains(bandwidth, r, l float64) {
	c.pGain = bandwidth * l
	c.iGain = (r / l) * c.pGain
}

// FOCCurrent runs one tick of the current-control loop (§4.C): saturation
// check, Clarke/Park, limit check, PI with optional feed-forward, SVM
// anti-windup, and enqueues the resulting modulation timings. idStar/iqStar
// are current setpoints in amperes; phase un-rotates the measured currents,
// pwmPhase re-rotates the commanded voltage for the upcoming PWM cycle.
func (m *Motor) FOCCurrent(idStar, iqStar, phase, pwmPhase, omega float64) Fault {
	c := &m.controller
	c.iqSetpoint = iqStar

	if math.Abs(m.meas.phB) > m.overcurrentTripLevel || math.Abs(m.meas.phC) > m.overcurrentTripLevel {
		m.SetError(FaultCurrentSenseSaturation)
		return FaultCurrentSenseSaturation
	}

	iAlpha, iBeta := clarke(m.meas.phB, m.meas.phC)
	id, iq := park(iAlpha, iBeta, phase)
	c.idMeasFilt += m.iMeasuredReportFilterK * (id - c.idMeasFilt)
	c.iqMeasFilt += m.iMeasuredReportFilterK * (iq - c.iqMeasFilt)

	limit := m.EffectiveCurrentLimit() + m.cfg.CurrentLimMargin
	if id*id+iq*iq > limit*limit {
		m.SetError(FaultCurrentLimitViolation)
		return FaultCurrentLimitViolation
	}

	errD := idStar - id
	errQ := iqStar - iq
	vd := c.vdInt + errD*c.pGain
	vq := c.vqInt + errQ*c.pGain

	if m.cfg.RWLFeedForwardEnable {
		vd += -omega*m.cfg.PhaseInductance*iqStar + m.cfg.PhaseResistance*idStar
		vq += omega*m.cfg.PhaseInductance*idStar + m.cfg.PhaseResistance*iqStar
	}
	if m.cfg.BEMFFeedForwardEnable {
		vq += omega * (2.0 / 3.0) * (m.cfg.TorqueConstant / float64(m.cfg.PolePairs))
	}

	base := (2.0 / 3.0) * m.vbusVoltage
	md := vd / base
	mq := vq / base

	mag := math.Hypot(md, mq)
	if mag == 0 {
		c.vdInt += errD * c.iGain * m.ts
		c.vqInt += errQ * c.iGain * m.ts
	} else {
		s := svmAntiWindupScale * svmMaxMagnitude / mag
		if s < 1 {
			md *= s
			mq *= s
			c.vdInt *= 0.99
			c.vqInt *= 0.99
		} else {
			c.vdInt += errD * c.iGain * m.ts
			c.vqInt += errQ * c.iGain * m.ts
		}
	}

	c.ibus = md*id + mq*iq

	mAlpha, mBeta := inversePark(md, mq, pwmPhase)
	c.finalVAlpha = base * mAlpha
	c.finalVBeta = base * mBeta

	if f := m.enqueueModulationTimings(mAlpha, mBeta); f != 0 {
		m.SetError(f)
		return f
	}
	return 0
}

// svmAntiWindupScale is the 0.80 headroom factor the anti-windup scale
// targets below the hexagon's true inscribed radius, leaving margin for the
// feed-forward terms to push the vector without clipping.
const svmAntiWindupScale = 0.80

// FOCVoltage treats (vd, vq) as commanded d/q voltages rather than current
// setpoints — used for GIMBAL motors, which are voltage- not current-
// controlled. It skips the PI loop entirely: rotate to the stationary frame
// at pwmPhase and enqueue directly.
func (m *Motor) FOCVoltage(vd, vq, pwmPhase float64) Fault {
	vAlpha, vBeta := inversePark(vd, vq, pwmPhase)
	if f := m.enqueueVoltageTimings(vAlpha, vBeta); f != 0 {
		m.SetError(f)
		return f
	}
	return 0
}
