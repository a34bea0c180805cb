// Command simulate drives a Motor against an in-process RL plant model, to
// exercise the control loop end to end without real hardware. It is a demo
// harness, not a CLI product: no flags, no persisted config, no RDK module
// registration.
package main

import (
	"context"
	"fmt"
	"math"

	focmotor "github.com/viam-modules/foc-motor-core"
	"go.viam.com/rdk/logging"
	"go.viam.com/utils"
)

func main() {
	utils.ContextualMain(mainWithArgs, logging.NewLogger("foc-motor-core-sim"))
}

func mainWithArgs(ctx context.Context, args []string, logger logging.Logger) error {
	plant := newRLPlant(0.1, 150e-6, 24.0)

	m, err := focmotor.NewMotor(logger, focmotor.NewMotorParams{
		Name:   "sim-motor",
		Config: simConfig(),

		GateDriver:      plant,
		OpAmp:           plant,
		MotorThermistor: plant,
		FETThermistor:   plant,
		Axis:            plant,

		VbusVoltage:           plant.vbus,
		CurrentMeasPeriod:     125e-6,
		PWMPeriodTicks:        4096,
		MeasuredReportFilterK: 0.1,
		ShuntConductance:      1000.0, // 1/R_shunt, R_shunt = 1 mOhm
	})
	if err != nil {
		return err
	}
	plant.bindMotor(m)

	if err := m.Setup(ctx); err != nil {
		return err
	}

	if err := m.RunCalibration(ctx); err != nil {
		return err
	}
	logger.Infof("calibration done (plant model: R=%.4f ohm, L=%.2f uH)", plant.r, plant.l*1e6)

	if !m.Arm(ctx) {
		return fmt.Errorf("arm failed: %s", m.Errors())
	}

	var phase, phaseVel float64
	const torqueSetpoint = 0.02 // Nm
	const ticks = 2000
	for i := 0; i < ticks; i++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		plant.step()
		if !m.Update(torqueSetpoint, phase, phaseVel) {
			return fmt.Errorf("update failed at tick %d: %s", i, m.Errors())
		}

		timings, ok := m.TimUpdateCB()
		if ok {
			plant.applyTimings(timings)
		}

		phaseVel = plant.electricalVelocity()
		phase = focmotorWrap(phase + phaseVel*125e-6)
	}

	logger.Infof("final electrical velocity: %.2f rad/s", plant.electricalVelocity())
	return nil
}

func focmotorWrap(phase float64) float64 {
	phase = math.Mod(phase+math.Pi, 2*math.Pi)
	if phase < 0 {
		phase += 2 * math.Pi
	}
	return phase - math.Pi
}

func simConfig() focmotor.Config {
	return focmotor.Config{
		MotorType:               focmotor.MotorTypeHighCurrent,
		TorqueConstant:          0.03,
		PolePairs:               7,
		CurrentLim:              20,
		CurrentLimMargin:        2,
		TorqueLim:               1.0,
		Direction:               1,
		CurrentControlBandwidth: 1000,
		RequestedCurrentRange:   20,
		CalibrationCurrent:      10,
		ResistanceCalibMaxVoltage: 2.0,
		RWLFeedForwardEnable:    true,
	}
}
