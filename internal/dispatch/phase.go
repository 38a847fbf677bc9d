package dispatch

// Phase is a state of one dispatch.
type Phase string

const (
	PhaseInit          Phase = "init"
	PhaseResolveShard  Phase = "resolve_shard"
	PhaseResolvePaths  Phase = "resolve_paths"
	PhaseFetchInput    Phase = "fetch_input"
	PhaseInvoke        Phase = "invoke"
	PhasePersistOutput Phase = "persist_output"
	PhaseUpload        Phase = "upload"
	PhaseDone          Phase = "done"
	PhaseError         Phase = "error"
)

// Terminal reports whether no transition leaves p.
func (p Phase) Terminal() bool {
	return p == PhaseDone || p == PhaseError
}

// CanTransition enforces forward-only progression. Phases may be skipped;
// error is reachable from every non-terminal phase.
func CanTransition(current, next Phase) bool {
	if current == "" || next == "" || current.Terminal() {
		return false
	}
	if next == PhaseError {
		return true
	}
	return phaseOrder(current) > 0 && phaseOrder(current) < phaseOrder(next)
}

func phaseOrder(p Phase) int {
	switch p {
	case PhaseInit:
		return 1
	case PhaseResolveShard:
		return 2
	case PhaseResolvePaths:
		return 3
	case PhaseFetchInput:
		return 4
	case PhaseInvoke:
		return 5
	case PhasePersistOutput:
		return 6
	case PhaseUpload:
		return 7
	case PhaseDone:
		return 8
	default:
		return 0
	}
}
