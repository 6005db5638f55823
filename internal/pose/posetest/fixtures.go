// Package posetest provides landmark frames for tests.
package posetest

import "example.com/ergorisk/internal/pose"

// Upright is a standing subject with the right upper arm hanging down and the forearm held
// horizontally forward. Scores composite 6 with the literal wrist.
func Upright() pose.LandmarkSet {
	return build(map[pose.Joint]pose.Landmark{
		pose.Nose:          {X: 0.5, Y: 0.1, Confidence: 0.99},
		pose.LeftShoulder:  {X: 0.6, Y: 0.3, Confidence: 0.98},
		pose.RightShoulder: {X: 0.4, Y: 0.3, Confidence: 0.98},
		pose.LeftElbow:     {X: 0.6, Y: 0.5, Confidence: 0.9},
		pose.RightElbow:    {X: 0.4, Y: 0.5, Confidence: 0.9},
		pose.LeftWrist:     {X: 0.6, Y: 0.7, Confidence: 0.85},
		pose.RightWrist:    {X: 0.6, Y: 0.5, Confidence: 0.85},
		pose.LeftHip:       {X: 0.55, Y: 0.7, Confidence: 0.95},
		pose.RightHip:      {X: 0.45, Y: 0.7, Confidence: 0.95},
		pose.LeftKnee:      {X: 0.55, Y: 0.9, Confidence: 0.9},
		pose.RightKnee:     {X: 0.45, Y: 0.9, Confidence: 0.9},
	})
}

// ArmRaised keeps the trunk and neck upright with the right upper arm pointing straight up
// and the elbow bent at 90°. Scores composite 3 with the literal wrist.
func ArmRaised() pose.LandmarkSet {
	set := Upright()
	_ = set.Set(pose.RightElbow, pose.Landmark{X: 0.4, Y: 0.1, Confidence: 0.9})
	_ = set.Set(pose.RightWrist, pose.Landmark{X: 0.6, Y: 0.1, Confidence: 0.85})
	return set
}

// Stooped leans the trunk and neck far forward with the arm reaching out and the elbow
// almost straight. Scores composite 7.
func Stooped() pose.LandmarkSet {
	return build(map[pose.Joint]pose.Landmark{
		pose.Nose:          {X: 1.1, Y: 0.4, Confidence: 0.9},
		pose.LeftShoulder:  {X: 1.0, Y: 0.5, Confidence: 0.9},
		pose.RightShoulder: {X: 0.8, Y: 0.5, Confidence: 0.9},
		pose.LeftElbow:     {X: 1.1, Y: 0.6, Confidence: 0.8},
		pose.RightElbow:    {X: 1.0, Y: 0.55, Confidence: 0.8},
		pose.LeftWrist:     {X: 1.2, Y: 0.7, Confidence: 0.8},
		pose.RightWrist:    {X: 1.2, Y: 0.55, Confidence: 0.8},
		pose.LeftHip:       {X: 0.55, Y: 0.7, Confidence: 0.95},
		pose.RightHip:      {X: 0.45, Y: 0.7, Confidence: 0.95},
		pose.LeftKnee:      {X: 0.55, Y: 0.9, Confidence: 0.9},
		pose.RightKnee:     {X: 0.45, Y: 0.9, Confidence: 0.9},
	})
}

// Without returns a copy of set lacking the given joint.
func Without(set pose.LandmarkSet, missing pose.Joint) pose.LandmarkSet {
	var out pose.LandmarkSet
	for _, j := range pose.Joints() {
		if j == missing {
			continue
		}
		if l, ok := set.Get(j); ok {
			_ = out.Set(j, l)
		}
	}
	return out
}

// MediaPipeRows renders set as 33 MediaPipe rows of [x, y, z, visibility]; joints outside
// the schema are zero.
func MediaPipeRows(set pose.LandmarkSet) [][]float64 {
	rows := make([][]float64, pose.MediaPipeLandmarkCount)
	for i := range rows {
		rows[i] = []float64{0, 0, 0, 0}
	}
	for _, j := range pose.Joints() {
		if l, ok := set.Get(j); ok {
			rows[pose.MediaPipeIndex(j)] = []float64{l.X, l.Y, l.Z, l.Confidence}
		}
	}
	return rows
}

func build(points map[pose.Joint]pose.Landmark) pose.LandmarkSet {
	var set pose.LandmarkSet
	for j, l := range points {
		_ = set.Set(j, l)
	}
	return set
}
