package domain

import (
	"errors"
	"fmt"

	"example.com/ergorisk/internal/pose"
	"example.com/ergorisk/internal/rula"
)

// Evaluation is the outcome of scoring one sequence of landmark frames.
type Evaluation struct {
	Angles         pose.AggregatedAngleSet
	Score          rula.Score
	FramesAnalyzed int
	FramesRejected int
}

// Evaluate extracts angles per frame, averages them and scores the result.
// Frames with invalid landmark data are skipped; if none remain the returned error
// matches both pose.ErrEmptyFrameSequence and the first rejection.
func Evaluate(extractor *pose.Extractor, frames []pose.LandmarkSet) (Evaluation, error) {
	perFrame := make([]pose.AngleSet, 0, len(frames))
	var firstRejection error
	rejected := 0

	for i, frame := range frames {
		angles, err := extractor.Extract(frame)
		if err != nil {
			if !errors.Is(err, pose.ErrInvalidLandmarkData) {
				return Evaluation{}, err
			}
			if firstRejection == nil {
				firstRejection = fmt.Errorf("frame %d: %w", i, err)
			}
			rejected++
			continue
		}
		perFrame = append(perFrame, angles)
	}

	aggregated, err := pose.Aggregate(perFrame)
	if err != nil {
		if firstRejection != nil {
			err = errors.Join(err, firstRejection)
		}
		return Evaluation{FramesRejected: rejected}, err
	}

	return Evaluation{
		Angles:         aggregated,
		Score:          rula.Assess(aggregated.AngleSet),
		FramesAnalyzed: aggregated.Frames,
		FramesRejected: rejected,
	}, nil
}
