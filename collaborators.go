package focmotor

import "context"

// GateDriver is the narrow contract the core needs from the gate-driver IC.
// The SPI register layer that actually talks to the chip is out of scope
// (§1) and lives in the caller.
type GateDriver interface {
	Init() bool
	// CheckFault reports whether the gate driver currently has a latched
	// hardware fault: true means faulted, false means healthy.
	CheckFault() bool
}

// OpAmp negotiates the current-sense amplifier gain. The caller owns the
// op-amp hardware handle exclusively; the core only ever calls SetGain once,
// from Setup.
type OpAmp interface {
	// SetGain requests a gain and reports the gain actually programmed
	// (which may differ, e.g. due to discrete gain steps). Returns false on
	// failure to negotiate any gain.
	SetGain(requested float64) (actual float64, ok bool)
}

// Thermistor is a read-only shared input: bus-voltage/thermistor acquisition
// is out of scope (§1), wired via ADC/DMA the caller owns.
type Thermistor interface {
	// DoChecks samples the thermistor and reports whether it is currently
	// healthy (not over-temperature).
	DoChecks() bool
	// GetCurrentLimit returns the current this thermistor allows right now,
	// clamped to at most cap.
	GetCurrentLimit(cap float64) float64
}

// Axis is the back-reference to the external axis-level supervisor (§1, §9):
// a weak observer edge used only to propagate errors and to drive the
// calibration control loop in lock-step with the ISR.
type Axis interface {
	// WaitForCurrentMeas blocks until the next current-measurement ISR has
	// run, or ctx is done. Returns false on timeout/cancellation.
	WaitForCurrentMeas(ctx context.Context) bool
	// RunControlLoop repeatedly invokes body once per control period until
	// body returns false or ctx is done. body submits voltage timings; the
	// ISR consumes them on the following reload.
	RunControlLoop(ctx context.Context, body func() bool)
	// SampleEncoderNow forces an out-of-band encoder sample, to read
	// phase/velocity outside the normal ISR cadence. Nothing in this package
	// calls it.
	SampleEncoderNow()
	// NotifyMotorFailed is called once per SetError with the triggering
	// fault, mirroring the axis's error_ bitmask union in the original
	// design.
	NotifyMotorFailed(f Fault)
	// ResetController resets the axis-level position/velocity controller
	// state, invoked as part of Arm.
	ResetController()
}
