package focmotor

import (
	"math"
	"sync/atomic"
)

// svmMaxMagnitude is the inscribed-hexagon radius (√3/2) that bounds the
// linear modulation range of space-vector modulation.
const svmMaxMagnitude = 0.8660254037844386 // math.Sqrt(3) / 2

// sqrt3 is used throughout the Clarke/SVM math.
const sqrt3 = 1.7320508075688772

// clarke projects balanced phase currents I_B, I_C onto the stationary α/β
// frame, reconstructing I_A as -(I_B + I_C) per §4.A/§4.B.
func clarke(iB, iC float64) (iAlpha, iBeta float64) {
	iAlpha = -iB - iC
	iBeta = (iB - iC) / sqrt3
	return iAlpha, iBeta
}

// inverseClarke recovers phase currents I_B, I_C from the stationary α/β
// frame. Nothing in the control ISR or calibration calls it: both only ever
// go phase -> alpha/beta via clarke(). The package tests use it to check
// clarke(), and cmd/simulate keeps its own copy since this one is unexported.
func inverseClarke(iAlpha, iBeta float64) (iB, iC float64) {
	iB = (-iAlpha + sqrt3*iBeta) / 2
	iC = (-iAlpha - sqrt3*iBeta) / 2
	return iB, iC
}

// park rotates the stationary α/β frame into the synchronous d/q frame at
// electrical angle theta.
func park(iAlpha, iBeta, theta float64) (id, iq float64) {
	s, c := math.Sincos(theta)
	id = c*iAlpha + s*iBeta
	iq = c*iBeta - s*iAlpha
	return id, iq
}

// inversePark rotates a d/q modulation vector back into the stationary
// alpha/beta frame at electrical angle theta.
func inversePark(md, mq, theta float64) (mAlpha, mBeta float64) {
	s, c := math.Sincos(theta)
	mAlpha = c*md - s*mq
	mBeta = c*mq + s*md
	return mAlpha, mBeta
}

const oneBySqrt3 = 1.0 / sqrt3
const twoBySqrt3 = 2.0 / sqrt3

// svm maps a normalised modulation vector (mAlpha, mBeta) to three duty
// fractions in [0,1], using the sextant/projection space-vector algorithm:
// classify (mAlpha, mBeta) into one of six 60-degree sextants by its
// projections onto the three phase axes, then compute each phase's on-time
// as a running sum of the two active-vector times for that sextant. Returns
// ok=false when the vector's magnitude exceeds the hexagon's inscribed-circle
// radius (the linear modulation limit, √3/2).
func svm(mAlpha, mBeta float64) (tA, tB, tC float64, ok bool) {
	if math.Hypot(mAlpha, mBeta) > svmMaxMagnitude {
		return 0, 0, 0, false
	}

	var sextant int
	switch {
	case mBeta >= 0:
		switch {
		case mAlpha >= 0:
			if oneBySqrt3*mBeta > mAlpha {
				sextant = 2
			} else {
				sextant = 1
			}
		default:
			if -oneBySqrt3*mBeta > mAlpha {
				sextant = 3
			} else {
				sextant = 2
			}
		}
	default:
		switch {
		case mAlpha >= 0:
			if -oneBySqrt3*mBeta > mAlpha {
				sextant = 5
			} else {
				sextant = 6
			}
		default:
			if oneBySqrt3*mBeta > mAlpha {
				sextant = 4
			} else {
				sextant = 5
			}
		}
	}

	switch sextant {
	case 1:
		t1 := mAlpha - oneBySqrt3*mBeta
		t2 := twoBySqrt3 * mBeta
		tA = (1 - t1 - t2) * 0.5
		tB = tA + t1
		tC = tB + t2
	case 2:
		t2 := mAlpha + oneBySqrt3*mBeta
		t3 := -mAlpha + oneBySqrt3*mBeta
		tB = (1 - t2 - t3) * 0.5
		tA = tB + t3
		tC = tA + t2
	case 3:
		t3 := twoBySqrt3 * mBeta
		t4 := -mAlpha - oneBySqrt3*mBeta
		tB = (1 - t3 - t4) * 0.5
		tC = tB + t3
		tA = tC + t4
	case 4:
		t4 := -mAlpha + oneBySqrt3*mBeta
		t5 := -twoBySqrt3 * mBeta
		tC = (1 - t4 - t5) * 0.5
		tB = tC + t5
		tA = tB + t4
	case 5:
		t5 := -mAlpha - oneBySqrt3*mBeta
		t6 := mAlpha - oneBySqrt3*mBeta
		tC = (1 - t5 - t6) * 0.5
		tA = tC + t5
		tB = tA + t6
	case 6:
		t6 := -twoBySqrt3 * mBeta
		t1 := mAlpha + oneBySqrt3*mBeta
		tA = (1 - t6 - t1) * 0.5
		tC = tA + t1
		tB = tC + t6
	}

	if tA < 0 || tA > 1 || tB < 0 || tB > 1 || tC < 0 || tC > 1 {
		return 0, 0, 0, false
	}
	return tA, tB, tC, true
}

// timingHandoff is the single-producer/single-consumer slot through which
// the control ISR (producer) hands duty counts to the PWM reload ISR
// (consumer). Set is a release, Take is an acquire-and-clear: no mutex is
// needed because there is exactly one writer and one reader (§5).
type timingHandoff struct {
	timings [3]uint32
	valid   atomic.Bool
}

func (h *timingHandoff) set(a, b, c uint32) {
	h.timings[0], h.timings[1], h.timings[2] = a, b, c
	h.valid.Store(true)
}

// take returns the latched timings and whether they were valid, clearing the
// valid flag as a side effect (as the PWM reload ISR does every period).
func (h *timingHandoff) take() (timings [3]uint32, ok bool) {
	ok = h.valid.Load()
	timings = h.timings
	h.valid.Store(false)
	return timings, ok
}

// dutyToTicks converts a duty fraction in [0,1] to timer compare counts,
// rounding to the nearest count. periodTicks is the number of timer compare
// counts per PWM period (TIM_1_8_PERIOD_CLOCKS, §6), which the Motor takes
// once at construction.
func dutyToTicks(t float64, periodTicks uint32) uint32 {
	return uint32(math.Round(t * float64(periodTicks)))
}

// enqueueModulationTimings validates (mAlpha, mBeta), runs SVM, and on
// success latches duty counts into the timing handoff. Returns the fault (if
// any) that should be raised instead of enqueuing.
func (m *Motor) enqueueModulationTimings(mAlpha, mBeta float64) Fault {
	if math.IsNaN(mAlpha) || math.IsNaN(mBeta) {
		return FaultModulationIsNaN
	}

	tA, tB, tC, ok := svm(mAlpha, mBeta)
	if !ok {
		return FaultModulationMagnitude
	}

	m.timing.set(
		dutyToTicks(tA, m.pwmPeriodTicks),
		dutyToTicks(tB, m.pwmPeriodTicks),
		dutyToTicks(tC, m.pwmPeriodTicks),
	)
	return 0
}

// enqueueVoltageTimings converts a commanded stator voltage vector to a
// modulation vector given the bus voltage, then forwards to
// enqueueModulationTimings.
func (m *Motor) enqueueVoltageTimings(vAlpha, vBeta float64) Fault {
	base := (2.0 / 3.0) * m.vbusVoltage
	if base == 0 {
		return FaultModulationIsNaN
	}
	m.controller.finalVAlpha = vAlpha
	m.controller.finalVBeta = vBeta
	return m.enqueueModulationTimings(vAlpha/base, vBeta/base)
}
