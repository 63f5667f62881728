package domain

import "errors"

type DownloadStatus string

const (
	DownloadQueued      DownloadStatus = "queued"
	DownloadConnecting  DownloadStatus = "connecting"
	DownloadDownloading DownloadStatus = "downloading"
	DownloadComplete    DownloadStatus = "complete"
	DownloadFailed      DownloadStatus = "failed"
	DownloadRemoved     DownloadStatus = "removed"
)

// Pending reports whether a download in this status still occupies (or will
// occupy) a worker slot and must be re-driven after a restart.
func (s DownloadStatus) Pending() bool {
	switch s {
	case DownloadQueued, DownloadConnecting, DownloadDownloading:
		return true
	default:
		return false
	}
}

// Terminal reports whether the status ends the download's state machine.
func (s DownloadStatus) Terminal() bool {
	switch s {
	case DownloadComplete, DownloadFailed, DownloadRemoved:
		return true
	default:
		return false
	}
}

type ItemType string

const (
	ItemMovie   ItemType = "movie"
	ItemEpisode ItemType = "episode"
)

type DownloadType string

const (
	// TypeDownload is a background acquisition; TypeStream is requested for
	// immediate playback. Both are served strictly FIFO today.
	TypeDownload DownloadType = "download"
	TypeStream   DownloadType = "stream"
)

// Download is one requested acquisition of a catalog item at a specific
// quality. Its ID is shared with the parent Movie or Episode.
type Download struct {
	ID            string         `json:"id"`
	ItemType      ItemType       `json:"itemType"`
	Quality       string         `json:"quality"`
	Type          DownloadType   `json:"type"`
	Status        DownloadStatus `json:"status"`
	Progress      float64        `json:"progress"`
	Speed         *int64         `json:"speed"`
	TimeRemaining *int64         `json:"timeRemaining"`
	NumPeers      *int           `json:"numPeers"`
	UpdatedAt     int64          `json:"updatedAt"`
}

// Validate checks domain invariants for Download.
func (d Download) Validate() error {
	if d.ID == "" {
		return errors.New("download id is required")
	}
	switch d.ItemType {
	case ItemMovie, ItemEpisode:
	case "":
		return errors.New("itemType is required")
	default:
		return errors.New("invalid itemType: " + string(d.ItemType))
	}
	if d.Progress < 0 || d.Progress > 100 {
		return errors.New("progress must be within [0,100]")
	}
	if d.Progress == 100 && d.Status != DownloadComplete {
		return errors.New("progress 100 requires status complete")
	}
	if d.Status == DownloadComplete && d.Progress != 100 {
		return errors.New("status complete requires progress 100")
	}
	switch d.Status {
	case DownloadQueued, DownloadConnecting, DownloadDownloading,
		DownloadComplete, DownloadFailed, DownloadRemoved:
	case "":
		return errors.New("status is required")
	default:
		return errors.New("invalid status: " + string(d.Status))
	}
	return nil
}

// DownloadPatch holds the mutable telemetry fields of a Download. Nil pointer
// fields are left untouched by the store's merge update; the three nullable
// gauges use a double pointer so a patch can explicitly null them out.
type DownloadPatch struct {
	Status        *DownloadStatus
	Progress      *float64
	Speed         **int64
	TimeRemaining **int64
	NumPeers      **int
}

func StatusPatch(s DownloadStatus) *DownloadStatus { return &s }

func ProgressPatch(p float64) *float64 { return &p }

// NullSpeed, NullTime and NullPeers produce patch values that clear the
// corresponding gauge.
func NullSpeed() **int64 { var v *int64; return &v }

func NullTime() **int64 { var v *int64; return &v }

func NullPeers() **int { var v *int; return &v }

func SpeedPatch(v int64) **int64 { p := &v; return &p }

func TimePatch(v int64) **int64 { p := &v; return &p }

func PeersPatch(v int) **int { p := &v; return &p }
