package domain

type EventKind string

const (
	EventProgress EventKind = "progress"
	EventDone     EventKind = "done"
	EventNoPeers  EventKind = "noPeers"
	EventError    EventKind = "error"
)

// NoPeersDHT marks the fatal variant of a noPeers event: the distributed
// hash table produced nobody to download from. Other sources are
// informational.
const NoPeersDHT = "dht"

// TransferEvent is one tick from a peer-client handle. Progress events carry
// the telemetry gauges; NoPeers carries its source; Error carries Err.
type TransferEvent struct {
	Kind             EventKind
	Progress         float64
	SpeedBytesPerSec int64
	TimeRemainingMS  int64
	NumPeers         int
	NoPeersSource    string
	Err              error
}

// FileRef identifies one file inside a torrent.
type FileRef struct {
	Index  int    `json:"index"`
	Path   string `json:"path"`
	Length int64  `json:"length"`
}
