package model

// State is a poll loop phase.
type State string

const (
	StateIdle           State = "idle"
	StateAuthenticating State = "authenticating"
	StateFetching       State = "fetching"
	StateTransforming   State = "transforming"
	StateUploading      State = "uploading"
	StateSleeping       State = "sleeping"
	StateStopped        State = "stopped"
)

// States lists every phase in cycle order.
var States = []State{
	StateIdle,
	StateAuthenticating,
	StateFetching,
	StateTransforming,
	StateUploading,
	StateSleeping,
	StateStopped,
}
