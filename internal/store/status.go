package store

// OutboundStatus is the lifecycle state of an MT message.
type OutboundStatus string

const (
	OutboundNew       OutboundStatus = "new"
	OutboundSending   OutboundStatus = "sending"
	OutboundSent      OutboundStatus = "sent"
	OutboundDelivered OutboundStatus = "delivered"
	OutboundError     OutboundStatus = "error"
)

// InboundStatus is the lifecycle state of an MO message.
type InboundStatus string

const (
	InboundNew        InboundStatus = "new"
	InboundProcessing InboundStatus = "processing"
	InboundDone       InboundStatus = "done"
	InboundError      InboundStatus = "error"
)

// Legal transitions. Anything missing, including every edge out of a terminal
// state, is refused by the UPDATE guards built from these tables.
var outboundTransitions = map[OutboundStatus][]OutboundStatus{
	OutboundNew:     {OutboundSending},
	OutboundSending: {OutboundSent, OutboundError, OutboundDelivered},
	OutboundSent:    {OutboundDelivered},
}

var inboundTransitions = map[InboundStatus][]InboundStatus{
	InboundNew:        {InboundProcessing},
	InboundProcessing: {InboundDone, InboundError, InboundNew},
}

// CanTransitionTo reports whether s may move to next.
func (s OutboundStatus) CanTransitionTo(next OutboundStatus) bool {
	for _, to := range outboundTransitions[s] {
		if to == next {
			return true
		}
	}
	return false
}

// Terminal reports whether no transition leaves s.
func (s OutboundStatus) Terminal() bool {
	return len(outboundTransitions[s]) == 0
}

// CanTransitionTo reports whether s may move to next.
func (s InboundStatus) CanTransitionTo(next InboundStatus) bool {
	for _, to := range inboundTransitions[s] {
		if to == next {
			return true
		}
	}
	return false
}

// Terminal reports whether no transition leaves s.
func (s InboundStatus) Terminal() bool {
	return len(inboundTransitions[s]) == 0
}

// outboundSources lists the states from which next is reachable, in a stable order.
func outboundSources(next OutboundStatus) []string {
	var out []string
	for _, from := range []OutboundStatus{OutboundNew, OutboundSending, OutboundSent, OutboundDelivered, OutboundError} {
		if from.CanTransitionTo(next) {
			out = append(out, string(from))
		}
	}
	return out
}

func inboundSources(next InboundStatus) []string {
	var out []string
	for _, from := range []InboundStatus{InboundNew, InboundProcessing, InboundDone, InboundError} {
		if from.CanTransitionTo(next) {
			out = append(out, string(from))
		}
	}
	return out
}
