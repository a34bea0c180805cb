package focmotor

import (
	"context"
	"math"
	"sync/atomic"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/operation"
)

// Motor is the top-level field-oriented-control core for one motor (§4.G).
// It owns the current controller, the ACIM flux/slip estimator, and the
// arm/fault state machine, and dispatches update() to FOCCurrent or
// FOCVoltage depending on motor type. Everything it touches outside this
// package is behind the four §6 collaborator interfaces.
type Motor struct {
	name   string
	logger logging.Logger
	cfg    Config

	gateDriver      GateDriver
	opAmp           OpAmp
	motorThermistor Thermistor
	fetThermistor   Thermistor
	axis            Axis

	opMgr *operation.SingleOperationManager

	vbusVoltage       float64
	pwmPeriodTicks    uint32
	timing            *timingHandoff
	ts                float64 // current_meas_period, seconds
	maxAllowedCurrent float64
	overcurrentTripLevel    float64
	iMeasuredReportFilterK  float64
	phaseCurrentRevGain     float64 // inverse of the negotiated amplifier gain; set by Setup
	shuntConductance        float64 // 1/R_shunt, a fixed board constant

	controller currentController

	armState  atomic.Int32
	errorMask atomic.Uint32

	acimRotorFlux    float64
	asyncPhaseOffset float64

	meas currentMeas

	isCalibrated bool
}

// NewMotorParams bundles the construction-time wiring a caller (the axis
// supervisor) must supply; everything here is either a hardware handle or a
// value that cannot be derived from Config alone.
type NewMotorParams struct {
	Name   string
	Config Config

	GateDriver      GateDriver
	OpAmp           OpAmp
	MotorThermistor Thermistor
	FETThermistor   Thermistor
	Axis            Axis

	VbusVoltage        float64
	CurrentMeasPeriod  float64 // seconds
	PWMPeriodTicks     uint32
	MeasuredReportFilterK  float64
	ShuntConductance       float64 // 1/R_shunt; a fixed board constant, not negotiated
}

// NewMotor validates params.Config and constructs a Motor. It does not talk
// to any hardware; that happens in Setup.
func NewMotor(logger logging.Logger, params NewMotorParams) (*Motor, error) {
	if err := params.Config.Validate(params.Name); err != nil {
		return nil, err
	}

	m := &Motor{
		name:   params.Name,
		logger: logger,
		cfg:    params.Config,

		gateDriver:      params.GateDriver,
		opAmp:           params.OpAmp,
		motorThermistor: params.MotorThermistor,
		fetThermistor:   params.FETThermistor,
		axis:            params.Axis,

		opMgr: operation.NewSingleOperationManager(),

		vbusVoltage:       params.VbusVoltage,
		pwmPeriodTicks:    params.PWMPeriodTicks,
		timing:            &timingHandoff{},
		ts:                params.CurrentMeasPeriod,
		iMeasuredReportFilterK: params.MeasuredReportFilterK,
		shuntConductance:       params.ShuntConductance,
	}

	if params.Config.PreCalibrated {
		m.controller.refreshGains(params.Config.CurrentControlBandwidth, params.Config.PhaseResistance, params.Config.PhaseInductance)
		m.isCalibrated = true
	}

	return m, nil
}

// overcurrentTripMargin is the headroom fraction (§3) between max_allowed_current
// and the harder overcurrent_trip_level fault threshold above it.
const overcurrentTripMargin = 0.90

// Setup negotiates the op-amp gain, derives the current trip levels from it
// (§3 Lifecycle: "setup() negotiates amplifier gain and computes current trip
// levels"), and initializes the gate driver and thermistors, combining their
// independent failures the way the teacher's makeMotor combines its
// register-write chain.
func (m *Motor) Setup(ctx context.Context) error {
	var errs error

	if !m.gateDriver.Init() {
		errs = multierr.Append(errs, errors.Errorf("error setting up motor %s: gate driver init failed", m.name))
	}

	if actual, ok := m.opAmp.SetGain(m.cfg.RequestedCurrentRange); !ok {
		errs = multierr.Append(errs, errors.Errorf("error setting up motor %s: op-amp gain negotiation failed", m.name))
	} else {
		if actual != m.cfg.RequestedCurrentRange {
			m.logger.CWarnf(ctx, "motor %s: op-amp negotiated gain %v, requested %v", m.name, actual, m.cfg.RequestedCurrentRange)
		}
		m.phaseCurrentRevGain = 1.0 / actual
		m.maxAllowedCurrent = (adcRefVoltage / 2) * m.phaseCurrentRevGain * m.shuntConductance
		m.overcurrentTripLevel = m.maxAllowedCurrent / overcurrentTripMargin
	}

	if m.motorThermistor != nil && !m.motorThermistor.DoChecks() {
		errs = multierr.Append(errs, errors.Errorf("error setting up motor %s: motor thermistor check failed", m.name))
	}
	if m.fetThermistor != nil && !m.fetThermistor.DoChecks() {
		errs = multierr.Append(errs, errors.Errorf("error setting up motor %s: FET thermistor check failed", m.name))
	}

	return errs
}

// LastVoltageCommand returns the most recently commanded stator voltage
// vector in the stationary α/β frame, as recorded by FOCCurrent/
// enqueueVoltageTimings for sensorless estimators (§4.C).
func (m *Motor) LastVoltageCommand() (vAlpha, vBeta float64) {
	return m.controller.finalVAlpha, m.controller.finalVBeta
}

// SetMeasurement updates the phase currents the next Update/FOCCurrent tick
// will consume. Called by the caller's ADC layer ahead of every control-ISR
// invocation (§6); not part of the hot-path arithmetic itself.
func (m *Motor) SetMeasurement(phB, phC float64) {
	m.meas = currentMeas{phB: phB, phC: phC}
}

// SetMeasurementFromADC is the raw-code counterpart of SetMeasurement: it
// converts the two phase ADC codes to amperes via phase_current_from_adcval
// (§4.A, §6) using the gain Setup negotiated, then latches the result. This
// is the entry point a real ADC ISR calls; SetMeasurement itself stays
// available for callers (calibration, simulation) that already have
// current in amperes.
func (m *Motor) SetMeasurementFromADC(codeB, codeC uint16) {
	m.SetMeasurement(
		phaseCurrentFromADCVal(codeB, m.phaseCurrentRevGain, m.shuntConductance),
		phaseCurrentFromADCVal(codeC, m.phaseCurrentRevGain, m.shuntConductance),
	)
}

// wrapPhase wraps a phase angle into (-pi, pi].
func wrapPhase(phase float64) float64 {
	phase = math.Mod(phase+math.Pi, 2*math.Pi)
	if phase < 0 {
		phase += 2 * math.Pi
	}
	return phase - math.Pi
}

// Update runs one control-ISR tick (§4.G): maps torque_setpoint to a current
// (or voltage, for GIMBAL) setpoint, applies ACIM slip/flux tracking when
// relevant, and dispatches to FOCCurrent or FOCVoltage. Returns false if the
// tick failed (a Fault was raised); the caller does not need the Fault value
// itself, since SetError already recorded it.
func (m *Motor) Update(torqueSetpoint, phase, phaseVel float64) bool {
	if !m.IsArmed() {
		return false
	}

	direction := float64(m.cfg.Direction)
	torqueSetpoint *= direction
	phaseVel *= direction

	var iStar float64
	switch m.cfg.MotorType {
	case MotorTypeACIM:
		flux := math.Max(m.acimRotorFlux, m.cfg.ACIM.GainMinFlux)
		iStar = torqueSetpoint / (m.cfg.TorqueConstant * flux)
	case MotorTypeHighCurrent, MotorTypeGimbal:
		iStar = torqueSetpoint / m.cfg.TorqueConstant
	default:
		m.SetError(FaultNotImplementedMotorType)
		return false
	}
	iStar *= direction

	limit := m.EffectiveCurrentLimit()
	m.controller.idSetpoint = clampAbs(m.controller.idSetpoint, limit)
	idSetpoint := m.controller.idSetpoint
	iqStar := clampAbs(iStar, limit)

	if m.cfg.MotorType == MotorTypeACIM {
		idSetpoint, iqStar, phaseVel, phase = m.updateACIM(idSetpoint, iqStar, phaseVel, phase, limit)
		m.controller.idSetpoint = idSetpoint
	}

	pwmPhase := phase + 1.5*m.ts*phaseVel

	var f Fault
	switch m.cfg.MotorType {
	case MotorTypeHighCurrent, MotorTypeACIM:
		f = m.FOCCurrent(idSetpoint, iqStar, phase, pwmPhase, phaseVel)
	case MotorTypeGimbal:
		f = m.FOCVoltage(idSetpoint, iqStar, pwmPhase)
	default:
		m.SetError(FaultNotImplementedMotorType)
		return false
	}
	return f == 0
}

// updateACIM applies induction-motor auto-flux regulation and slip-velocity
// tracking (§4.G), returning the possibly-adjusted Id setpoint, Iq setpoint,
// electrical velocity, and phase. idSetpoint is the persisted current_control
// Id_setpoint from the previous tick; autoflux accumulates into it rather
// than starting over from zero each tick.
func (m *Motor) updateACIM(idSetpoint, iqStar, phaseVel, phase, limit float64) (float64, float64, float64, float64) {
	acim := m.cfg.ACIM
	if acim.AutofluxEnable {
		gain := acim.AutofluxDecayGain
		if math.Abs(iqStar) > idSetpoint {
			gain = acim.AutofluxAttackGain
		}
		idSetpoint += gain * (math.Abs(iqStar) - idSetpoint) * m.ts
		idSetpoint = math.Max(acim.AutofluxMinID, math.Min(idSetpoint, limit))
	}

	m.acimRotorFlux += acim.SlipVelocity * (idSetpoint - m.acimRotorFlux) * m.ts

	fMeas := 1.0 / m.ts
	slipVel := acim.SlipVelocity * (iqStar / m.acimRotorFlux)
	if math.IsNaN(slipVel) || math.Abs(slipVel) > 0.1*fMeas {
		slipVel = 0
	}

	phaseVel += slipVel
	m.asyncPhaseOffset = wrapPhase(m.asyncPhaseOffset + slipVel*m.ts)
	phase = wrapPhase(phase + m.asyncPhaseOffset)

	return idSetpoint, iqStar, phaseVel, phase
}

func clampAbs(v, limit float64) float64 {
	if v > limit {
		return limit
	}
	if v < -limit {
		return -limit
	}
	return v
}
