package pose

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

// ErrInvalidLandmarkData is returned when a frame lacks a required joint or carries non-finite coordinates.
var ErrInvalidLandmarkData = errors.New("invalid landmark data")

// Landmark is a single detected joint position. Confidence is the detector's visibility in [0,1].
type Landmark struct {
	X          float64
	Y          float64
	Z          float64
	Confidence float64
}

// Vec returns the position as a 3D vector.
func (l Landmark) Vec() r3.Vec {
	return r3.Vec{X: l.X, Y: l.Y, Z: l.Z}
}

func (l Landmark) finite() bool {
	for _, v := range []float64{l.X, l.Y, l.Z} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// LandmarkSet holds one frame of landmarks keyed by Joint. The zero value is an empty frame.
type LandmarkSet struct {
	points  [jointCount]Landmark
	present [jointCount]bool
}

// Set stores the landmark for a joint, replacing any previous value.
func (s *LandmarkSet) Set(j Joint, l Landmark) error {
	if !j.valid() {
		return fmt.Errorf("%w: %s out of range", ErrInvalidLandmarkData, j)
	}
	s.points[j] = l
	s.present[j] = true
	return nil
}

// Get returns the landmark for a joint and whether it was set.
func (s LandmarkSet) Get(j Joint) (Landmark, bool) {
	if !j.valid() {
		return Landmark{}, false
	}
	return s.points[j], s.present[j]
}

// Len reports how many joints are populated.
func (s LandmarkSet) Len() int {
	n := 0
	for _, ok := range s.present {
		if ok {
			n++
		}
	}
	return n
}

// Require checks that every listed joint is present with finite coordinates.
func (s LandmarkSet) Require(joints ...Joint) error {
	for _, j := range joints {
		l, ok := s.Get(j)
		if !ok {
			return fmt.Errorf("%w: missing %s", ErrInvalidLandmarkData, j)
		}
		if !l.finite() {
			return fmt.Errorf("%w: non-finite coordinates for %s", ErrInvalidLandmarkData, j)
		}
	}
	return nil
}

// Validate checks the required joint contract.
func (s LandmarkSet) Validate() error {
	return s.Require(RequiredJoints...)
}

// point returns the position of a joint the caller already validated.
func (s LandmarkSet) point(j Joint) r3.Vec {
	return s.points[j].Vec()
}

// FromMediaPipe maps MediaPipe Pose rows of [x, y, z, visibility] onto the joint schema.
// Rows beyond the schema are ignored; a short row or a short table is rejected.
func FromMediaPipe(rows [][]float64) (LandmarkSet, error) {
	var set LandmarkSet
	if len(rows) != MediaPipeLandmarkCount {
		return set, fmt.Errorf("%w: expected %d landmarks, got %d", ErrInvalidLandmarkData, MediaPipeLandmarkCount, len(rows))
	}
	for j := Joint(0); j < jointCount; j++ {
		row := rows[mediaPipeIndex[j]]
		if len(row) < 3 {
			return set, fmt.Errorf("%w: landmark %d has %d values", ErrInvalidLandmarkData, mediaPipeIndex[j], len(row))
		}
		l := Landmark{X: row[0], Y: row[1], Z: row[2]}
		if len(row) > 3 {
			l.Confidence = row[3]
			if !(l.Confidence >= 0 && l.Confidence <= 1) {
				return set, fmt.Errorf("%w: landmark %d visibility %v outside [0,1]", ErrInvalidLandmarkData, mediaPipeIndex[j], l.Confidence)
			}
		}
		_ = set.Set(j, l)
	}
	return set, nil
}
