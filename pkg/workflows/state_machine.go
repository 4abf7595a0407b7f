package workflows

import "fmt"

// Step names one state of the certificate issuance pipeline.
type Step string

const (
	StepFetchTemplate Step = "FetchTemplate"
	StepBindVariables Step = "BindVariables"
	StepLedgerWrite   Step = "LedgerWrite"
	StepDbCreate      Step = "DbCreate"
	StepRender        Step = "Render"
	StepDbFinalize    Step = "DbFinalize"
	StepLinkUser      Step = "LinkUser"
	StepDone          Step = "Done"

	// StepFetchLedger replaces FetchTemplate..DbCreate when an existing
	// certificate is re-rendered from ledger truth.
	StepFetchLedger Step = "FetchLedger"
)

// StateMachine enforces issuance step transitions
type StateMachine struct {
	allowedTransitions map[Step][]Step
}

// NewIssuanceStateMachine creates the state machine for fresh issuance.
func NewIssuanceStateMachine() *StateMachine {
	return &StateMachine{
		allowedTransitions: map[Step][]Step{
			StepFetchTemplate: {StepBindVariables},
			StepBindVariables: {StepLedgerWrite},
			StepLedgerWrite:   {StepDbCreate},
			StepDbCreate:      {StepRender},
			StepRender:        {StepDbFinalize},
			StepDbFinalize:    {StepLinkUser},
			StepLinkUser:      {StepDone},
			StepDone:          {},
		},
	}
}

// NewRerenderStateMachine creates the state machine used to render an
// already ledger-anchored certificate again. It never visits LedgerWrite.
func NewRerenderStateMachine() *StateMachine {
	return &StateMachine{
		allowedTransitions: map[Step][]Step{
			StepFetchLedger:   {StepFetchTemplate},
			StepFetchTemplate: {StepBindVariables},
			StepBindVariables: {StepRender},
			StepRender:        {StepDbFinalize},
			StepDbFinalize:    {StepDone},
			StepDone:          {},
		},
	}
}

// GetAllowedTransitions returns the allowed next steps for a given step
func (sm *StateMachine) GetAllowedTransitions(from Step) []Step {
	allowed, exists := sm.allowedTransitions[from]
	if !exists {
		return []Step{}
	}
	return allowed
}

// Path walks the machine from start to Done, following the single allowed
// transition at each step. It fails if a step branches or dead-ends.
func (sm *StateMachine) Path(start Step) ([]Step, error) {
	path := []Step{start}
	current := start
	for current != StepDone {
		next := sm.GetAllowedTransitions(current)
		if len(next) != 1 {
			return nil, fmt.Errorf("step %s has %d successors", current, len(next))
		}
		current = next[0]
		path = append(path, current)
		if len(path) > len(sm.allowedTransitions)+1 {
			return nil, fmt.Errorf("cycle detected at step %s", current)
		}
	}
	return path, nil
}
