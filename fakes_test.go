package focmotor

import (
	"context"
	"testing"

	"go.viam.com/rdk/logging"
)

// fakeGateDriver is a hand-written fake following the inject.SPI{OpenHandleFunc: ...}
// shape: each method is backed by an optional function field the test sets.
type fakeGateDriver struct {
	InitFunc       func() bool
	CheckFaultFunc func() bool
}

func (f *fakeGateDriver) Init() bool {
	if f.InitFunc != nil {
		return f.InitFunc()
	}
	return true
}

func (f *fakeGateDriver) CheckFault() bool {
	if f.CheckFaultFunc != nil {
		return f.CheckFaultFunc()
	}
	return false
}

type fakeOpAmp struct {
	SetGainFunc func(requested float64) (float64, bool)
}

func (f *fakeOpAmp) SetGain(requested float64) (float64, bool) {
	if f.SetGainFunc != nil {
		return f.SetGainFunc(requested)
	}
	return requested, true
}

type fakeThermistor struct {
	DoChecksFunc       func() bool
	GetCurrentLimitFunc func(cap float64) float64
}

func (f *fakeThermistor) DoChecks() bool {
	if f.DoChecksFunc != nil {
		return f.DoChecksFunc()
	}
	return true
}

func (f *fakeThermistor) GetCurrentLimit(cap float64) float64 {
	if f.GetCurrentLimitFunc != nil {
		return f.GetCurrentLimitFunc(cap)
	}
	return cap
}

// fakeAxis drives RunControlLoop synchronously in-process, calling body
// until it returns false or a tick budget is exhausted, mimicking the ISR
// cadence without any real concurrency.
type fakeAxis struct {
	WaitForCurrentMeasFunc func(ctx context.Context) bool
	NotifyMotorFailedFunc  func(f Fault)
	ResetControllerFunc    func()

	maxTicks int // safety valve so a runaway body can't loop forever in a test
}

func (f *fakeAxis) WaitForCurrentMeas(ctx context.Context) bool {
	if f.WaitForCurrentMeasFunc != nil {
		return f.WaitForCurrentMeasFunc(ctx)
	}
	select {
	case <-ctx.Done():
		return false
	default:
		return true
	}
}

func (f *fakeAxis) RunControlLoop(ctx context.Context, body func() bool) {
	limit := f.maxTicks
	if limit == 0 {
		limit = 1_000_000
	}
	for i := 0; i < limit; i++ {
		if ctx.Err() != nil {
			return
		}
		if !body() {
			return
		}
	}
}

func (f *fakeAxis) SampleEncoderNow() {}

func (f *fakeAxis) NotifyMotorFailed(fault Fault) {
	if f.NotifyMotorFailedFunc != nil {
		f.NotifyMotorFailedFunc(fault)
	}
}

func (f *fakeAxis) ResetController() {
	if f.ResetControllerFunc != nil {
		f.ResetControllerFunc()
	}
}

// newTestMotor builds a Motor with innocuous defaults and all-fake
// collaborators, suitable as a starting point for most tests in this
// package.
func newTestMotor(t *testing.T, cfg Config) *Motor {
	t.Helper()
	logger := logging.NewTestLogger(t)

	m, err := NewMotor(logger, NewMotorParams{
		Name:                  "test-motor",
		Config:                cfg,
		GateDriver:            &fakeGateDriver{},
		OpAmp:                 &fakeOpAmp{},
		MotorThermistor:       &fakeThermistor{},
		FETThermistor:         &fakeThermistor{},
		Axis:                  &fakeAxis{},
		VbusVoltage:           24.0,
		CurrentMeasPeriod:     125e-6,
		PWMPeriodTicks:        4096,
		MeasuredReportFilterK: 1.0,
		ShuntConductance:      1000.0,
	})
	if err != nil {
		t.Fatalf("newTestMotor: %v", err)
	}
	// Tests exercise Update/FOCCurrent directly without going through Setup,
	// so seed the trip levels Setup would otherwise have derived from the
	// negotiated op-amp gain.
	m.maxAllowedCurrent = 60.0
	m.overcurrentTripLevel = 75.0
	m.phaseCurrentRevGain = 1.0 / 20.0
	m.armState.Store(int32(stateArmed))
	return m
}
