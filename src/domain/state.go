package domain

// ConnectorState is the per-connector state machine (§4.G).
type ConnectorState int

const (
	StateUndef ConnectorState = iota
	StateStopped
	StateInitializing
	StatePaused
	StateSyncing
	StateParsing
	StateConverting
	StateExecuting
	StateOffsetUpdate
	StateRestarting
	StateSchemaSyncDone
	StateReloadObjmap
)

func (s ConnectorState) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateInitializing:
		return "initializing"
	case StatePaused:
		return "paused"
	case StateSyncing:
		return "syncing"
	case StateParsing:
		return "parsing"
	case StateConverting:
		return "converting"
	case StateExecuting:
		return "executing"
	case StateOffsetUpdate:
		return "offset_update"
	case StateRestarting:
		return "restarting"
	case StateSchemaSyncDone:
		return "schema_sync_done"
	case StateReloadObjmap:
		return "reload_objmap"
	default:
		return "undef"
	}
}

// ConnectorStage is the coarse-grained progress reported to observers.
type ConnectorStage int

const (
	StageUndef ConnectorStage = iota
	StageInitialSnapshot
	StageChangeDataCapture
	StageSchemaSync
)

func (s ConnectorStage) String() string {
	switch s {
	case StageInitialSnapshot:
		return "initial_snapshot"
	case StageChangeDataCapture:
		return "change_data_capture"
	case StageSchemaSync:
		return "schema_sync"
	default:
		return "undef"
	}
}

// RequestedState is what an external caller may ask a supervisor to
// transition into via the single-slot request mailbox.
type RequestedState int

const (
	RequestNone RequestedState = iota
	RequestStart
	RequestStop
	RequestPause
	RequestResume
	RequestSetOffset
)

func (r RequestedState) String() string {
	switch r {
	case RequestStart:
		return "start"
	case RequestStop:
		return "stop"
	case RequestPause:
		return "pause"
	case RequestResume:
		return "resume"
	case RequestSetOffset:
		return "set_offset"
	default:
		return "none"
	}
}

// Request is the ephemeral, single-slot mailbox payload for one connector.
type Request struct {
	State RequestedState
	Data  string // e.g. the new offset string for RequestSetOffset
}

// IsEmpty reports whether the slot currently holds no pending request.
func (r Request) IsEmpty() bool {
	return r.State == RequestNone
}

// allowedTransitions enumerates the state machine edges §4.G documents.
// Any requested transition not present here is ignored with a warning.
var allowedTransitions = map[ConnectorState]map[RequestedState]ConnectorState{
	StateSyncing: {
		RequestPause: StatePaused,
	},
	StatePaused: {
		RequestResume:    StateSyncing,
		RequestSetOffset: StateOffsetUpdate,
	},
}

// NextState resolves the destination state for a requested transition out of
// from, or (from, false) if the transition is disallowed.
func NextState(from ConnectorState, req RequestedState) (ConnectorState, bool) {
	edges, ok := allowedTransitions[from]
	if !ok {
		return from, false
	}
	to, ok := edges[req]
	return to, ok
}
