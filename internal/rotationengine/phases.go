// Package rotationengine drives the per-rotation state machine described
// in spec.md §4.2: prepare, generate a CSR, issue a certificate, canary
// test the new key, cut over, validate post-cutover, and either complete
// or roll back.
package rotationengine

import "github.com/systmms/signctl/internal/ctlerrors"

// Phase is one state of a rotation's state machine.
type Phase string

const (
	PhaseScheduled             Phase = "Scheduled"
	PhasePreparing             Phase = "Preparing"
	PhaseGeneratingCSR         Phase = "GeneratingCSR"
	PhaseIssuingCertificate    Phase = "IssuingCertificate"
	PhaseCanaryTesting         Phase = "CanaryTesting"
	PhaseReadyForCutover       Phase = "ReadyForCutover"
	PhaseCuttingOver           Phase = "CuttingOver"
	PhasePostCutoverValidation Phase = "PostCutoverValidation"
	PhaseCompleted             Phase = "Completed"
	PhaseFailed                Phase = "Failed"
	PhaseRolledBack            Phase = "RolledBack"
)

// IsTerminal reports whether p is a terminal phase the engine never
// resumes from.
func (p Phase) IsTerminal() bool {
	switch p {
	case PhaseCompleted, PhaseFailed, PhaseRolledBack:
		return true
	default:
		return false
	}
}

// validTransitions enumerates the edges of the state machine in spec.md
// §4.2. Every non-terminal phase may also transition to Failed on a fatal
// error; that edge is checked separately in canFail rather than listed
// for every row here, matching the rollback package's ValidTransitions
// idiom of listing the happy-path edges plus one shared failure exit.
var validTransitions = map[Phase][]Phase{
	PhaseScheduled:             {PhasePreparing},
	PhasePreparing:             {PhaseGeneratingCSR},
	PhaseGeneratingCSR:         {PhaseIssuingCertificate},
	PhaseIssuingCertificate:    {PhaseCanaryTesting},
	PhaseCanaryTesting:         {PhaseReadyForCutover},
	PhaseReadyForCutover:       {PhaseCuttingOver},
	PhaseCuttingOver:           {PhasePostCutoverValidation},
	PhasePostCutoverValidation: {PhaseCompleted, PhaseRolledBack},
}

// canFail reports whether p may transition directly to Failed. Every
// non-terminal phase can.
func canFail(p Phase) bool {
	return !p.IsTerminal()
}

// CanTransitionTo reports whether the state machine allows from -> to.
func (p Phase) CanTransitionTo(to Phase) bool {
	if to == PhaseFailed && canFail(p) {
		return true
	}
	for _, next := range validTransitions[p] {
		if next == to {
			return true
		}
	}
	return false
}

// checkTransition returns a StateMachine error if from -> to is not an
// edge of the rotation state machine.
func checkTransition(op string, from, to Phase) error {
	if from.CanTransitionTo(to) {
		return nil
	}
	return ctlerrors.New(ctlerrors.StateMachine, op, "invalid rotation phase transition "+string(from)+" -> "+string(to))
}
