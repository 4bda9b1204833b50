package agent

// State identifies one stage of the task loop. A task advances
// RETRIEVE -> CONSULT_TOOLS -> GENERATE -> JUDGE -> EXTRACT ->
// CONSOLIDATE -> DONE, with GENERATE allowed to repeat for bounded
// refinement before handing off to JUDGE.
type State string

const (
	StateRetrieve     State = "RETRIEVE"
	StateConsultTools State = "CONSULT_TOOLS"
	StateGenerate     State = "GENERATE"
	StateJudge        State = "JUDGE"
	StateExtract      State = "EXTRACT"
	StateConsolidate  State = "CONSOLIDATE"
	StateDone         State = "DONE"
)

// String returns the state name.
func (s State) String() string { return string(s) }

// spanName is the per-state trace span identifier.
func (s State) spanName() string {
	switch s {
	case StateRetrieve:
		return "agent.retrieve"
	case StateConsultTools:
		return "agent.consult_tools"
	case StateGenerate:
		return "agent.generate"
	case StateJudge:
		return "agent.judge"
	case StateExtract:
		return "agent.extract"
	case StateConsolidate:
		return "agent.consolidate"
	default:
		return "agent.done"
	}
}
