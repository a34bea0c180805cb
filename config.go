package focmotor

import (
	"github.com/pkg/errors"
	"go.viam.com/rdk/resource"
)

// MotorType selects the electrical plant model driven by this core.
type MotorType string

// Supported motor types.
const (
	MotorTypeHighCurrent MotorType = "high_current"
	MotorTypeGimbal      MotorType = "gimbal"
	MotorTypeACIM        MotorType = "acim"
)

// ACIMConfig holds the induction-motor-specific tuning knobs. Zero value is
// valid for non-ACIM motors (the fields are simply unused).
type ACIMConfig struct {
	SlipVelocity float64 `json:"acim_slip_velocity,omitempty"`
	GainMinFlux  float64 `json:"acim_gain_min_flux,omitempty"`

	AutofluxEnable    bool    `json:"acim_autoflux_enable,omitempty"`
	AutofluxMinID     float64 `json:"acim_autoflux_min_id,omitempty"`
	AutofluxAttackGain float64 `json:"acim_autoflux_attack_gain,omitempty"`
	AutofluxDecayGain  float64 `json:"acim_autoflux_decay_gain,omitempty"`
}

// Config is the user-writable configuration for one motor instance. It is
// constructed in-process by the (out-of-scope) axis supervisor and handed to
// NewMotor; the core itself never reads or writes a config file.
type Config struct {
	MotorType MotorType `json:"motor_type"`

	PhaseResistance float64 `json:"phase_resistance,omitempty"`
	PhaseInductance float64 `json:"phase_inductance,omitempty"`

	TorqueConstant float64 `json:"torque_constant"`
	PolePairs      int     `json:"pole_pairs"`

	CurrentLim       float64 `json:"current_lim"`
	CurrentLimMargin float64 `json:"current_lim_margin"`
	TorqueLim        float64 `json:"torque_lim"`

	RequestedCurrentRange float64 `json:"requested_current_range"`

	CalibrationCurrent         float64 `json:"calibration_current"`
	ResistanceCalibMaxVoltage float64 `json:"resistance_calib_max_voltage"`

	CurrentControlBandwidth float64 `json:"current_control_bandwidth"`

	Direction int `json:"direction"`

	RWLFeedForwardEnable bool `json:"r_wl_ff_enable,omitempty"`
	BEMFFeedForwardEnable bool `json:"bemf_ff_enable,omitempty"`

	ACIM ACIMConfig `json:"acim,omitempty"`

	// PreCalibrated, if true, marks PhaseResistance/PhaseInductance as
	// already-identified values: Validate range-checks them, and NewMotor
	// computes the PI gains from them and marks the motor calibrated.
	// RunCalibration does not read this flag; calling it re-runs the
	// open-loop identification routines.
	PreCalibrated bool `json:"pre_calibrated,omitempty"`
}

// Validate checks required fields and numeric ranges, returning a wrapped
// error naming the offending field the same way the teacher's
// rampParameters.validate()/checkRange does for TMC5072 ramp registers.
func (c *Config) Validate(path string) error {
	switch c.MotorType {
	case MotorTypeHighCurrent, MotorTypeGimbal, MotorTypeACIM:
	case "":
		return resource.NewConfigValidationFieldRequiredError(path, "motor_type")
	default:
		return errors.Errorf("%s: unknown motor_type %q", path, c.MotorType)
	}

	if c.TorqueConstant == 0 {
		return resource.NewConfigValidationFieldRequiredError(path, "torque_constant")
	}
	if c.PolePairs <= 0 {
		return errors.Errorf("%s: pole_pairs must be positive, got %d", path, c.PolePairs)
	}
	if c.CurrentLim <= 0 {
		return resource.NewConfigValidationFieldRequiredError(path, "current_lim")
	}
	if c.CurrentLimMargin < 0 {
		return errors.Errorf("%s: current_lim_margin must be non-negative, got %v", path, c.CurrentLimMargin)
	}
	if c.TorqueLim <= 0 {
		return resource.NewConfigValidationFieldRequiredError(path, "torque_lim")
	}
	if c.Direction != 1 && c.Direction != -1 {
		return errors.Errorf("%s: direction must be +1 or -1, got %d", path, c.Direction)
	}
	if c.CurrentControlBandwidth <= 0 {
		return resource.NewConfigValidationFieldRequiredError(path, "current_control_bandwidth")
	}

	if c.PreCalibrated {
		if err := checkInductanceRange(path, c.PhaseInductance); err != nil {
			return err
		}
		if c.PhaseResistance <= 0 {
			return errors.Errorf("%s: pre_calibrated requires a positive phase_resistance", path)
		}
	}

	if c.MotorType == MotorTypeACIM {
		if c.ACIM.SlipVelocity == 0 {
			return resource.NewConfigValidationFieldRequiredError(path, "acim.acim_slip_velocity")
		}
		if c.ACIM.GainMinFlux <= 0 {
			return errors.Errorf("%s: acim.acim_gain_min_flux must be positive, got %v", path, c.ACIM.GainMinFlux)
		}
	}

	return nil
}

const (
	minPhaseInductance = 2e-6
	maxPhaseInductance = 4e-3
)

func checkInductanceRange(path string, l float64) error {
	if l < minPhaseInductance || l > maxPhaseInductance {
		return errors.Errorf("%s: phase_inductance %v out of range [%v, %v]", path, l, minPhaseInductance, maxPhaseInductance)
	}
	return nil
}
