package queue

type Action string

const (
	ActionCall  Action = "call"
	ActionServe Action = "serve"
	ActionSkip  Action = "skip"
)

type transition struct {
	from []Status
	to   Status
}

// transitions allows waiting→called→served and waiting→skipped. A called
// patient who never shows up is skipped as well.
var transitions = map[Action]transition{
	ActionCall:  {from: []Status{StatusWaiting}, to: StatusCalled},
	ActionServe: {from: []Status{StatusCalled}, to: StatusServed},
	ActionSkip:  {from: []Status{StatusWaiting, StatusCalled}, to: StatusSkipped},
}

// ValidTransition returns the target status when action may be applied to an
// item in status from.
func ValidTransition(action Action, from Status) (Status, bool) {
	t, ok := transitions[action]
	if !ok {
		return "", false
	}
	for _, s := range t.from {
		if s == from {
			return t.to, true
		}
	}
	return "", false
}

func allowedFrom(action Action) []Status {
	return transitions[action].from
}
