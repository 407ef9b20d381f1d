package control

import "fmt"

// Signal drives every worker's state machine.
// Workers start in Wait; Exit is terminal.
type Signal uint8

const (
	Wait Signal = iota
	Run
	Exit
)

func (s Signal) String() string {
	switch s {
	case Wait:
		return "wait"
	case Run:
		return "run"
	case Exit:
		return "exit"
	default:
		return fmt.Sprintf("Signal(%d)", uint8(s))
	}
}

// Next folds pending signals into the current state, oldest first.
// Once Exit is reached later signals are ignored.
func Next(current Signal, pending []Signal) Signal {
	for _, s := range pending {
		if current == Exit {
			return Exit
		}
		switch s {
		case Wait, Run, Exit:
			current = s
		}
	}
	return current
}
