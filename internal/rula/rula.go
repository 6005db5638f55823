// Package rula scores posture angles with a simplified Rapid Upper Limb Assessment.
//
// Regions are banded into ordinal scores and combined additively:
// groupA = max(upperArm, lowerArm) plus one when the wrist is deviated,
// groupB = max(neck, trunk), composite = min(7, groupA+groupB).
// Muscle-use and load adjustments and the canonical group lookup tables are not applied.
package rula

import "example.com/ergorisk/internal/pose"

// MaxComposite caps the composite score.
const MaxComposite = 7

// Breakdown holds the per-region and group scores behind a composite.
type Breakdown struct {
	UpperArm int `json:"upperArm"`
	LowerArm int `json:"lowerArm"`
	Wrist    int `json:"wrist"`
	Neck     int `json:"neck"`
	Trunk    int `json:"trunk"`
	GroupA   int `json:"groupA"`
	GroupB   int `json:"groupB"`
}

// Score is the composite risk indicator in [1, 7] plus its breakdown.
type Score struct {
	Composite int       `json:"compositeScore"`
	Breakdown Breakdown `json:"breakdown"`
}

// Assess scores an angle set.
func Assess(angles pose.AngleSet) Score {
	b := Breakdown{
		UpperArm: UpperArm(angles.ShoulderFlexion),
		LowerArm: LowerArm(angles.ElbowFlexion),
		Wrist:    Wrist(angles.WristNeutral),
		Neck:     Neck(angles.NeckFlexion),
		Trunk:    Trunk(angles.TrunkFlexion),
	}

	b.GroupA = max(b.UpperArm, b.LowerArm)
	if b.Wrist >= 2 {
		b.GroupA++
	}
	b.GroupB = max(b.Neck, b.Trunk)

	return Score{
		Composite: min(MaxComposite, b.GroupA+b.GroupB),
		Breakdown: b,
	}
}

// ActionLevel returns the RULA action level for the composite.
func (s Score) ActionLevel() ActionLevel {
	return ActionLevelFor(s.Composite)
}

// UpperArm bands shoulder flexion.
func UpperArm(deg float64) int {
	switch {
	case deg < 20:
		return 1
	case deg < 45:
		return 2
	case deg < 90:
		return 3
	default:
		return 4
	}
}

// LowerArm bands elbow flexion; 60–100° is the neutral working range.
func LowerArm(deg float64) int {
	switch {
	case deg >= 60 && deg <= 100:
		return 1
	case deg >= 0 && deg < 60, deg > 100 && deg <= 120:
		return 2
	default:
		return 3
	}
}

// Wrist bands wrist deviation.
func Wrist(deg float64) int {
	switch {
	case deg < 15:
		return 1
	case deg < 35:
		return 2
	default:
		return 3
	}
}

// Neck bands neck flexion.
func Neck(deg float64) int {
	switch {
	case deg < 10:
		return 1
	case deg < 20:
		return 2
	case deg < 45:
		return 3
	default:
		return 4
	}
}

// Trunk bands trunk flexion.
func Trunk(deg float64) int {
	switch {
	case deg < 5:
		return 1
	case deg < 20:
		return 2
	case deg < 60:
		return 3
	default:
		return 4
	}
}
