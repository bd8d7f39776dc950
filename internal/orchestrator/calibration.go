package orchestrator

// Calibration is a per-module affine score transform applied before
// merging (spec.md 4.7: "score' = a_m·score + b_m. If a module uses a
// different model, a per-module affine calibration ... is applied before
// merging"). Identity is the default for every module, since they all
// currently share the same embedding model and cosine metric.
type Calibration struct {
	A float32
	B float32
}

func identityCalibration() Calibration {
	return Calibration{A: 1, B: 0}
}

// Apply maps a raw module score through the calibration.
func (c Calibration) Apply(score float32) float32 {
	return c.A*score + c.B
}
