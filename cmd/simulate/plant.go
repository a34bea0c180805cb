package main

import (
	"context"
	"math"

	focmotor "github.com/viam-modules/foc-motor-core"
)

// rlPlant is a minimal RL-circuit stand-in for a real motor's phase
// windings, plus trivial stubs for the gate driver/op-amp/thermistor
// collaborators. It exists only so cmd/simulate can exercise the full
// control loop without hardware.
type rlPlant struct {
	r, l, vbus float64

	iAlpha, iBeta float64 // actual (simulated) stator currents
	motor         *focmotor.Motor
}

func newRLPlant(r, l, vbus float64) *rlPlant {
	return &rlPlant{r: r, l: l, vbus: vbus}
}

// bindMotor lets the plant read back the motor's last-commanded voltage
// vector, mirroring the real axis's ownership of both the motor and its
// current-sense ADC feed.
func (p *rlPlant) bindMotor(m *focmotor.Motor) {
	p.motor = m
}

// GateDriver.
func (p *rlPlant) Init() bool       { return true }
func (p *rlPlant) CheckFault() bool { return false }

// OpAmp.
func (p *rlPlant) SetGain(requested float64) (float64, bool) { return requested, true }

// Thermistor (used for both the motor and FET thermistor slots).
func (p *rlPlant) DoChecks() bool                        { return true }
func (p *rlPlant) GetCurrentLimit(cap float64) float64 { return cap }

// Axis.
func (p *rlPlant) WaitForCurrentMeas(ctx context.Context) bool {
	p.integrate(125e-6)
	p.publishMeasurement()
	return ctx.Err() == nil
}

func (p *rlPlant) RunControlLoop(ctx context.Context, body func() bool) {
	for ctx.Err() == nil {
		if !body() {
			return
		}
	}
}

func (p *rlPlant) SampleEncoderNow() {}

func (p *rlPlant) NotifyMotorFailed(f focmotor.Fault) {}

func (p *rlPlant) ResetController() {
	p.iAlpha, p.iBeta = 0, 0
}

// integrate advances the RL circuit one tick using the most recently
// commanded alpha/beta voltage.
func (p *rlPlant) integrate(dt float64) {
	vAlpha, vBeta := p.motor.LastVoltageCommand()
	p.iAlpha += (vAlpha - p.r*p.iAlpha) / p.l * dt
	p.iBeta += (vBeta - p.r*p.iBeta) / p.l * dt
}

// step is called once per outer control-loop iteration by main, outside the
// calibration/Axis-driven path: it advances the plant and republishes the
// measurement the upcoming Update/FOCCurrent tick will read.
func (p *rlPlant) step() {
	p.integrate(125e-6)
	p.publishMeasurement()
}

func (p *rlPlant) publishMeasurement() {
	iB, iC := inverseClarke(p.iAlpha, p.iBeta)
	p.motor.SetMeasurement(iB, iC)
}

// inverseClarke recovers phase currents from the simulated stationary-frame
// state; a local copy of the same transform the core uses internally,
// since that's an unexported implementation detail of focmotor.
func inverseClarke(iAlpha, iBeta float64) (iB, iC float64) {
	const sqrt3 = 1.7320508075688772
	iB = (-iAlpha + sqrt3*iBeta) / 2
	iC = (-iAlpha - sqrt3*iBeta) / 2
	return iB, iC
}

// applyTimings is a no-op in this simulation: the plant already integrates
// directly from LastVoltageCommand rather than from raw PWM duty counts,
// since no real timer hardware exists to drive.
func (p *rlPlant) applyTimings(timings [3]uint32) {}

// electricalVelocity derives a simple proportional electrical speed from the
// stator current magnitude,
// enough to give cmd/simulate's phase integration something nontrivial to
// track; it is not a physically accurate mechanical model.
func (p *rlPlant) electricalVelocity() float64 {
	return 0.5 * math.Hypot(p.iAlpha, p.iBeta)
}
