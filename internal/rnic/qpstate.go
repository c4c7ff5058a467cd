package rnic

// qpTransitions is the set of legal queue pair state transitions, keyed by
// current state. Transitions to StateErr are legal from every state and are
// handled separately in validTransition.
//
// The drain edges (RTS<->SQD, SQD->SQE) and the recovery edges (ERR->RESET,
// SQE->RESET) follow the verbs state diagram for RC queue pairs.
var qpTransitions = map[QPState][]QPState{
	StateReset: {StateInit},
	StateInit:  {StateRTR},
	StateRTR:   {StateRTS},
	StateRTS:   {StateSQD, StateSQE},
	StateSQD:   {StateRTS, StateSQE},
	StateSQE:   {StateReset},
	StateErr:   {StateReset},
}

// validTransition reports whether a queue pair may move from one state to
// another. There are no implicit self-loops.
func validTransition(from, to QPState) bool {
	if to == StateErr {
		return true
	}

	for _, next := range qpTransitions[from] {
		if next == to {
			return true
		}
	}

	return false
}
