package focmotor

import "context"

// armState is the bridge's coarse safety state (§4.F).
type armState int32

const (
	stateDisarmed armState = iota
	stateArming
	stateArmed
)

// Arm transitions DISARMED -> ARMING -> ARMED: resets controller and axis
// controller state, waits for two successive current-measurement ISRs so the
// loop starts from a full quantum, then invokes the hardware-level arm
// primitive. Returns false (and leaves the bridge disarmed) if ctx is
// cancelled or a measurement never arrives.
func (m *Motor) Arm(ctx context.Context) bool {
	m.armState.Store(int32(stateArming))

	m.controller = currentController{}
	m.acimRotorFlux = 0
	m.asyncPhaseOffset = 0
	m.timing.valid.Store(false)
	m.axis.ResetController()

	for i := 0; i < 2; i++ {
		if !m.axis.WaitForCurrentMeas(ctx) {
			m.SetError(FaultCurrentMeasurementTimeout)
			return false
		}
	}

	m.armState.Store(int32(stateArmed))
	m.logger.Debugf("motor armed")
	return true
}

// SetError OR-accumulates kind into the sticky error mask, notifies the
// axis of the failure, and disarms. Safe to call from any context; it is the
// one place the hot-path arithmetic functions reach out to the logger, and
// it never runs inside the timing-critical portion of a control tick.
func (m *Motor) SetError(kind Fault) {
	for {
		old := m.errorMask.Load()
		next := old | uint32(kind)
		if next == old || m.errorMask.CompareAndSwap(old, next) {
			break
		}
	}
	m.armState.Store(int32(stateDisarmed))
	m.axis.NotifyMotorFailed(kind)
	m.logger.CErrorf(context.Background(), "motor disarmed: %s", kind)
}

// ClearErrors resets the sticky error mask. The caller (axis supervisor)
// must still call Arm to re-energize; clearing errors alone does not rearm.
func (m *Motor) ClearErrors() {
	m.errorMask.Store(0)
}

// Errors returns the current sticky fault mask.
func (m *Motor) Errors() Fault {
	return Fault(m.errorMask.Load())
}

// IsArmed reports whether the bridge is currently following next_timings.
func (m *Motor) IsArmed() bool {
	return armState(m.armState.Load()) == stateArmed
}

// TimUpdateCB is the PWM-timer reload ISR hook (§4.F, §5): if the producer
// has not published a valid timing set since the last reload, the bridge
// disarms with CONTROL_DEADLINE_MISSED; otherwise it consumes (and clears)
// the handoff. Returns the timings to latch into hardware compare registers,
// and whether they should be latched at all.
func (m *Motor) TimUpdateCB() (timings [3]uint32, ok bool) {
	if !m.IsArmed() {
		return [3]uint32{}, false
	}

	timings, ok = m.timing.take()
	if !ok {
		m.SetError(FaultControlDeadlineMissed)
		return [3]uint32{}, false
	}
	return timings, true
}

// DoChecks polls the gate driver for latched hardware faults and both
// thermistors for over-temperature, on the background supervisor's cadence
// (§4.F, §5). Returns false if any check raised a new error.
func (m *Motor) DoChecks() bool {
	ok := true
	if m.gateDriver.CheckFault() {
		m.SetError(FaultDrvFault)
		ok = false
	}
	if m.motorThermistor != nil && !m.motorThermistor.DoChecks() {
		m.SetError(FaultMotorThermistorOverTemp)
		ok = false
	}
	if m.fetThermistor != nil && !m.fetThermistor.DoChecks() {
		m.SetError(FaultFETThermistorOverTemp)
		ok = false
	}
	return ok
}
