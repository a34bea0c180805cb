package focmotor

import "math"

// gimbalHWCapFactor is the hardware-cap formula's 0.98·(1/√3) factor for
// voltage-controlled (GIMBAL) motors. It is built from the same oneBySqrt3
// constant svm() uses.
const gimbalHWCapFactor = 0.98 * oneBySqrt3

// EffectiveCurrentLimit returns the tightest of the configured current
// limit, the hardware cap for this motor type, and both thermistors'
// present caps (§4.E). HIGH_CURRENT/ACIM motors are current-controlled and
// capped by maxAllowedCurrent; GIMBAL motors are voltage-controlled and
// capped by the bus voltage via the 1/√3 relation instead.
func (m *Motor) EffectiveCurrentLimit() float64 {
	hwCap := m.maxAllowedCurrent
	if m.cfg.MotorType == MotorTypeGimbal {
		hwCap = gimbalHWCapFactor * m.vbusVoltage
	}

	lim := math.Min(m.cfg.CurrentLim, hwCap)
	if m.motorThermistor != nil {
		lim = math.Min(lim, m.motorThermistor.GetCurrentLimit(m.cfg.CurrentLim))
	}
	if m.fetThermistor != nil {
		lim = math.Min(lim, m.fetThermistor.GetCurrentLimit(m.cfg.CurrentLim))
	}
	return lim
}

// MaxAvailableTorque returns the largest torque this motor can currently
// produce, given EffectiveCurrentLimit and (for ACIM) the present rotor
// flux estimate, clamped to the configured torque limit (§4.E).
//
// This intentionally ignores acimRotorFlux gating for non-ACIM motors: the
// flux term only applies where rotor flux is a meaningful, separately
// estimated quantity.
func (m *Motor) MaxAvailableTorque() float64 {
	fluxFactor := 1.0
	if m.cfg.MotorType == MotorTypeACIM {
		fluxFactor = m.acimRotorFlux
	}

	torque := m.EffectiveCurrentLimit() * m.cfg.TorqueConstant * fluxFactor
	return math.Max(0, math.Min(torque, m.cfg.TorqueLim))
}
