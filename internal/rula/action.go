package rula

// ActionLevel is the recommended follow-up for a composite score.
type ActionLevel int

const (
	ActionAcceptable ActionLevel = iota + 1
	ActionInvestigate
	ActionChangeSoon
	ActionChangeImmediately
)

// ActionLevelFor maps a composite score onto the four RULA action levels.
func ActionLevelFor(composite int) ActionLevel {
	switch {
	case composite <= 2:
		return ActionAcceptable
	case composite <= 4:
		return ActionInvestigate
	case composite <= 6:
		return ActionChangeSoon
	default:
		return ActionChangeImmediately
	}
}

func (a ActionLevel) String() string {
	switch a {
	case ActionAcceptable:
		return "acceptable"
	case ActionInvestigate:
		return "investigate"
	case ActionChangeSoon:
		return "change_soon"
	case ActionChangeImmediately:
		return "change_immediately"
	default:
		return "unknown"
	}
}
