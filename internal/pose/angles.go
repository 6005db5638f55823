package pose

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

// Vertical points up in image space, where Y grows downward.
var Vertical = r3.Vec{X: 0, Y: -1, Z: 0}

// AngleSet is the fixed set of joint angles for one frame, in degrees within [0, 180].
type AngleSet struct {
	ShoulderFlexion float64
	ElbowFlexion    float64
	WristNeutral    float64
	NeckFlexion     float64
	TrunkFlexion    float64
}

// AngleBetween returns the angle in degrees between u and v.
// Zero-length vectors do not fail; the epsilon keeps the result defined. Vectors with an
// infinite component have no direction and yield NaN.
func AngleBetween(u, v r3.Vec) float64 {
	const eps = 1e-8
	u, v = shrink(u), shrink(v)
	uu := r3.Scale(1/(r3.Norm(u)+eps), u)
	vu := r3.Scale(1/(r3.Norm(v)+eps), v)
	cos := math.Max(-1, math.Min(1, r3.Dot(uu, vu)))
	return math.Acos(cos) * 180 / math.Pi
}

// shrink divides v by its largest component when that exceeds 1, so squaring in the norm
// cannot overflow. Direction is unchanged.
func shrink(v r3.Vec) r3.Vec {
	m := max(math.Abs(v.X), math.Abs(v.Y), math.Abs(v.Z))
	if m <= 1 || math.IsInf(m, 0) {
		return v
	}
	return r3.Scale(1/m, v)
}

func (a AngleSet) finite() bool {
	for _, v := range []float64{a.ShoulderFlexion, a.ElbowFlexion, a.WristNeutral, a.NeckFlexion, a.TrunkFlexion} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// WristMode selects how the wrist deviation is measured.
type WristMode int

const (
	// WristLiteral compares the forearm with its own reverse and always yields 180°.
	// It is kept as the default so scores stay comparable with earlier assessments.
	WristLiteral WristMode = iota
	// WristHandVector compares the forearm with the wrist-to-index-finger vector and
	// requires the right_index landmark.
	WristHandVector
)

func (m WristMode) String() string {
	switch m {
	case WristLiteral:
		return "literal"
	case WristHandVector:
		return "hand"
	default:
		return fmt.Sprintf("wrist_mode(%d)", int(m))
	}
}

// ParseWristMode accepts "literal" or "hand".
func ParseWristMode(value string) (WristMode, error) {
	switch value {
	case "", "literal":
		return WristLiteral, nil
	case "hand":
		return WristHandVector, nil
	default:
		return WristLiteral, fmt.Errorf("unknown wrist mode %q", value)
	}
}

// ExtractorOption configures an Extractor.
type ExtractorOption func(*Extractor)

// WithWristMode overrides the wrist measurement.
func WithWristMode(mode WristMode) ExtractorOption {
	return func(e *Extractor) {
		e.wristMode = mode
	}
}

// Extractor computes AngleSets from landmark frames using the right side of the body.
type Extractor struct {
	wristMode WristMode
}

// NewExtractor constructs an Extractor.
func NewExtractor(opts ...ExtractorOption) *Extractor {
	e := &Extractor{wristMode: WristLiteral}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// WristMode reports the configured wrist measurement.
func (e *Extractor) WristMode() WristMode {
	return e.wristMode
}

// Extract computes the joint angles for one frame.
func (e *Extractor) Extract(set LandmarkSet) (AngleSet, error) {
	if err := set.Validate(); err != nil {
		return AngleSet{}, err
	}
	if e.wristMode == WristHandVector {
		if err := set.Require(RightIndex); err != nil {
			return AngleSet{}, err
		}
	}

	shoulder := set.point(RightShoulder)
	elbow := set.point(RightElbow)
	wrist := set.point(RightWrist)
	nose := set.point(Nose)

	shoulderMid := midpoint(set.point(LeftShoulder), shoulder)
	hipMid := midpoint(set.point(LeftHip), set.point(RightHip))

	forearm := r3.Sub(wrist, elbow)

	angles := AngleSet{
		ShoulderFlexion: AngleBetween(r3.Sub(elbow, shoulder), Vertical),
		ElbowFlexion:    AngleBetween(forearm, r3.Sub(shoulder, elbow)),
		NeckFlexion:     AngleBetween(r3.Sub(nose, shoulderMid), Vertical),
		TrunkFlexion:    AngleBetween(r3.Sub(shoulderMid, hipMid), Vertical),
	}

	switch e.wristMode {
	case WristHandVector:
		angles.WristNeutral = AngleBetween(forearm, r3.Sub(set.point(RightIndex), wrist))
	default:
		angles.WristNeutral = AngleBetween(r3.Sub(elbow, wrist), forearm)
	}
	// Finite coordinates can still overflow when subtracted.
	if !angles.finite() {
		return AngleSet{}, fmt.Errorf("%w: coordinates too large to measure angles", ErrInvalidLandmarkData)
	}
	return angles, nil
}

func midpoint(a, b r3.Vec) r3.Vec {
	return r3.Scale(0.5, r3.Add(a, b))
}
