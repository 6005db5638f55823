package pose

import (
	"errors"

	"gonum.org/v1/gonum/stat"
)

// ErrEmptyFrameSequence is returned when there is no usable frame to aggregate.
var ErrEmptyFrameSequence = errors.New("no usable frames")

// AggregatedAngleSet is the per-angle mean over a sequence of frames.
type AggregatedAngleSet struct {
	AngleSet
	Frames int
}

// Aggregate averages each angle across frames.
func Aggregate(frames []AngleSet) (AggregatedAngleSet, error) {
	if len(frames) == 0 {
		return AggregatedAngleSet{}, ErrEmptyFrameSequence
	}

	shoulder := make([]float64, len(frames))
	elbow := make([]float64, len(frames))
	wrist := make([]float64, len(frames))
	neck := make([]float64, len(frames))
	trunk := make([]float64, len(frames))
	for i, f := range frames {
		shoulder[i] = f.ShoulderFlexion
		elbow[i] = f.ElbowFlexion
		wrist[i] = f.WristNeutral
		neck[i] = f.NeckFlexion
		trunk[i] = f.TrunkFlexion
	}

	return AggregatedAngleSet{
		AngleSet: AngleSet{
			ShoulderFlexion: stat.Mean(shoulder, nil),
			ElbowFlexion:    stat.Mean(elbow, nil),
			WristNeutral:    stat.Mean(wrist, nil),
			NeckFlexion:     stat.Mean(neck, nil),
			TrunkFlexion:    stat.Mean(trunk, nil),
		},
		Frames: len(frames),
	}, nil
}
