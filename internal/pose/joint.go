// Package pose turns detected body landmarks into the joint angles used for posture scoring.
package pose

import (
	"fmt"
	"strings"
)

// Joint identifies a body landmark in the fixed schema.
type Joint int

const (
	Nose Joint = iota
	LeftShoulder
	RightShoulder
	LeftElbow
	RightElbow
	LeftWrist
	RightWrist
	LeftHip
	RightHip
	LeftKnee
	RightKnee
	RightIndex

	jointCount
)

var jointNames = [jointCount]string{
	Nose:          "nose",
	LeftShoulder:  "left_shoulder",
	RightShoulder: "right_shoulder",
	LeftElbow:     "left_elbow",
	RightElbow:    "right_elbow",
	LeftWrist:     "left_wrist",
	RightWrist:    "right_wrist",
	LeftHip:       "left_hip",
	RightHip:      "right_hip",
	LeftKnee:      "left_knee",
	RightKnee:     "right_knee",
	RightIndex:    "right_index",
}

// MediaPipe Pose row index of each joint in the 33-landmark output.
var mediaPipeIndex = [jointCount]int{
	Nose:          0,
	LeftShoulder:  11,
	RightShoulder: 12,
	LeftElbow:     13,
	RightElbow:    14,
	LeftWrist:     15,
	RightWrist:    16,
	RightIndex:    20,
	LeftHip:       23,
	RightHip:      24,
	LeftKnee:      25,
	RightKnee:     26,
}

// MediaPipeLandmarkCount is the number of rows produced by MediaPipe Pose per detection.
const MediaPipeLandmarkCount = 33

// RequiredJoints must be present and finite in every frame.
var RequiredJoints = []Joint{
	Nose,
	LeftShoulder, RightShoulder,
	LeftElbow, RightElbow,
	LeftWrist, RightWrist,
	LeftHip, RightHip,
	LeftKnee, RightKnee,
}

// Joints lists every joint in the schema.
func Joints() []Joint {
	out := make([]Joint, 0, jointCount)
	for j := Joint(0); j < jointCount; j++ {
		out = append(out, j)
	}
	return out
}

func (j Joint) valid() bool {
	return j >= 0 && j < jointCount
}

func (j Joint) String() string {
	if !j.valid() {
		return fmt.Sprintf("joint(%d)", int(j))
	}
	return jointNames[j]
}

// MediaPipeIndex returns the joint's row in MediaPipe Pose output, or -1 when out of range.
func MediaPipeIndex(j Joint) int {
	if !j.valid() {
		return -1
	}
	return mediaPipeIndex[j]
}

// ParseJoint resolves a snake_case joint name.
func ParseJoint(name string) (Joint, error) {
	normalized := strings.ToLower(strings.TrimSpace(name))
	for j, candidate := range jointNames {
		if candidate == normalized {
			return Joint(j), nil
		}
	}
	return 0, fmt.Errorf("%w: unknown joint %q", ErrInvalidLandmarkData, name)
}
