package focmotor

import "strings"

// Fault is a sticky, OR-accumulated bitmask of everything that can take the
// bridge out of ARMED. Once set, a bit is only cleared by an external reset
// (ClearErrors) followed by Arm.
type Fault uint32

// Fault bits, one per kind in the motor control core's error taxonomy.
const (
	FaultPhaseResistanceOutOfRange Fault = 1 << iota
	FaultPhaseInductanceOutOfRange
	FaultDrvFault
	FaultMotorThermistorOverTemp
	FaultFETThermistorOverTemp
	FaultCurrentMeasurementTimeout
	FaultControlDeadlineMissed
	FaultCurrentSenseSaturation
	FaultCurrentLimitViolation
	FaultModulationMagnitude
	FaultModulationIsNaN
	FaultNotImplementedMotorType
)

var faultNames = map[Fault]string{
	FaultPhaseResistanceOutOfRange: "PHASE_RESISTANCE_OUT_OF_RANGE",
	FaultPhaseInductanceOutOfRange: "PHASE_INDUCTANCE_OUT_OF_RANGE",
	FaultDrvFault:                  "DRV_FAULT",
	FaultMotorThermistorOverTemp:   "MOTOR_THERMISTOR_OVER_TEMP",
	FaultFETThermistorOverTemp:     "FET_THERMISTOR_OVER_TEMP",
	FaultCurrentMeasurementTimeout: "CURRENT_MEASUREMENT_TIMEOUT",
	FaultControlDeadlineMissed:     "CONTROL_DEADLINE_MISSED",
	FaultCurrentSenseSaturation:    "CURRENT_SENSE_SATURATION",
	FaultCurrentLimitViolation:     "CURRENT_LIMIT_VIOLATION",
	FaultModulationMagnitude:       "MODULATION_MAGNITUDE",
	FaultModulationIsNaN:           "MODULATION_IS_NAN",
	FaultNotImplementedMotorType:   "NOT_IMPLEMENTED_MOTOR_TYPE",
}

// String renders the set bits of a Fault mask as a "|"-joined list of names,
// lowest bit first, e.g. "DRV_FAULT|CURRENT_LIMIT_VIOLATION". Returns "" for
// a zero mask.
func (f Fault) String() string {
	if f == 0 {
		return ""
	}
	var names []string
	for bit := Fault(1); bit != 0 && bit <= f; bit <<= 1 {
		if f&bit != 0 {
			if name, ok := faultNames[bit]; ok {
				names = append(names, name)
			}
		}
	}
	return strings.Join(names, "|")
}

// Has reports whether any bit of want is set in f.
func (f Fault) Has(want Fault) bool {
	return f&want != 0
}
