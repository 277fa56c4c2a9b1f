package inference

import (
	"fmt"
	"math"

	"codenerd/internal/store"
)

// applyPlatt maps a raw model confidence through a fitted sigmoid:
// calibrated = 1 / (1 + exp(-(a*raw + b))). With no fitted params (a==0,
// b==0) it returns raw clamped to [0, 1], the passthrough used before enough
// samples have accumulated to fit a real calibrator.
func applyPlatt(raw float64, params store.CalibrationParams) float64 {
	if params.A == 0 && params.B == 0 {
		return clamp01(raw)
	}
	z := params.A*raw + params.B
	return clamp01(1.0 / (1.0 + math.Exp(-z)))
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// fitPlatt fits scalar Platt-scaling parameters (a, b) for
// calibrated = sigmoid(a*raw + b) by gradient descent on the logistic loss,
// the standard closed-form-free approach for scalar calibration (Platt
// 1999's original formulation is itself an iterative Newton fit for the
// same objective).
func fitPlatt(samples []store.CalibrationSample) (a, b float64, err error) {
	if len(samples) < 2 {
		return 0, 0, fmt.Errorf("at least 2 calibration samples required, got %d", len(samples))
	}

	a, b = 1.0, 0.0
	const lr = 0.05
	const iterations = 500
	n := float64(len(samples))

	for iter := 0; iter < iterations; iter++ {
		var gradA, gradB float64
		for _, s := range samples {
			z := a*s.Predicted + b
			p := 1.0 / (1.0 + math.Exp(-z))
			diff := p - s.Actual
			gradA += diff * s.Predicted
			gradB += diff
		}
		a -= lr * gradA / n
		b -= lr * gradB / n
	}

	if math.IsNaN(a) || math.IsNaN(b) || math.IsInf(a, 0) || math.IsInf(b, 0) {
		return 0, 0, fmt.Errorf("platt fit diverged")
	}
	return a, b, nil
}

// RefitCalibrator refits and activates a new calibration version for source
// from its retained samples, returning the new version number. It is not on
// the request path, and no control command or scheduled job calls it.
func RefitCalibrator(st *store.Store, source string, minSamples int) (int, error) {
	samples, err := st.ListCalibrationSamples(source)
	if err != nil {
		return 0, fmt.Errorf("failed to list calibration samples for %s: %w", source, err)
	}
	if len(samples) < minSamples {
		return 0, fmt.Errorf("insufficient calibration samples for %s: have %d, need %d", source, len(samples), minSamples)
	}

	a, b, err := fitPlatt(samples)
	if err != nil {
		return 0, fmt.Errorf("failed to fit calibrator for %s: %w", source, err)
	}

	versions, err := st.ListCalibrationVersions(source)
	if err != nil {
		return 0, fmt.Errorf("failed to list calibration versions for %s: %w", source, err)
	}
	nextVersion := 1
	for _, v := range versions {
		if v.Version >= nextVersion {
			nextVersion = v.Version + 1
		}
	}

	if err := st.InsertCalibrationVersion(source, nextVersion, a, b); err != nil {
		return 0, fmt.Errorf("failed to insert calibration version for %s: %w", source, err)
	}
	if err := st.ActivateCalibrationVersion(source, nextVersion); err != nil {
		return 0, fmt.Errorf("failed to activate calibration version for %s: %w", source, err)
	}
	return nextVersion, nil
}

// RollbackCalibrator atomically reactivates a prior calibration version for
// source, the operation behind the control surface's calibration_rollback.
func RollbackCalibrator(st *store.Store, source string, version int) error {
	versions, err := st.ListCalibrationVersions(source)
	if err != nil {
		return fmt.Errorf("failed to list calibration versions for %s: %w", source, err)
	}
	found := false
	for _, v := range versions {
		if v.Version == version {
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("calibration version %d not found for source %s", version, source)
	}
	return st.ActivateCalibrationVersion(source, version)
}
