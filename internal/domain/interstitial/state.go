package interstitial

// State is the lifecycle state of the active ad handle
type State int

const (
	StateIdle State = iota
	StateLoading
	StatePreloaded
	StateShowing
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLoading:
		return "loading"
	case StatePreloaded:
		return "preloaded"
	case StateShowing:
		return "showing"
	default:
		return "unknown"
	}
}

// Intent records what a successful load should lead to
type Intent int

const (
	IntentNone Intent = iota
	IntentPreload
	IntentShow
)

func (i Intent) String() string {
	switch i {
	case IntentPreload:
		return "preload"
	case IntentShow:
		return "show"
	default:
		return "none"
	}
}

// Snapshot is a point-in-time copy of the coordinator state
type Snapshot struct {
	State          State
	Intent         Intent
	PlacementID    string
	Generation     uint64
	ShowPending    bool
	PreloadPending bool
	DidClick       bool
	Stopped        bool
}

// IsPreloaded reports whether a loaded handle is waiting to be shown
func (s Snapshot) IsPreloaded() bool {
	return s.State == StatePreloaded
}

// ShowWhenLoaded reports whether the in-flight load will be shown immediately
func (s Snapshot) ShowWhenLoaded() bool {
	return s.State == StateLoading && s.Intent == IntentShow
}

// HasHandle reports whether a provider handle is currently owned
func (s Snapshot) HasHandle() bool {
	return s.State != StateIdle
}
