package domain

// TorrentRef is one advertised magnet for a catalog item.
type TorrentRef struct {
	Quality string `json:"quality"`
	URL     string `json:"url"`
	Seeds   int    `json:"seeds"`
	Peers   int    `json:"peers"`
	Size    int64  `json:"size"`
}

// ItemDownload is the download sub-document embedded in a Movie or Episode.
// It mirrors the Download record so UIs polling the item observe the same
// queued -> connecting -> downloading -> complete/failed sequence.
type ItemDownload struct {
	DownloadStatus   DownloadStatus `json:"downloadStatus"`
	Downloading      bool           `json:"downloading"`
	DownloadComplete bool           `json:"downloadComplete"`
	DownloadedOn     int64          `json:"downloadedOn"`
}

// Item is the part of a Movie or Episode record the engine reads and writes.
// The catalog metadata source owns everything else.
type Item struct {
	ID       string       `json:"id"`
	Type     ItemType     `json:"-"`
	Title    string       `json:"title"`
	Torrents []TorrentRef `json:"torrents"`
	Download ItemDownload `json:"download"`
}

// TorrentForQuality returns the magnet matching quality exactly.
func (i Item) TorrentForQuality(quality string) (TorrentRef, bool) {
	for _, t := range i.Torrents {
		if t.Quality == quality {
			return t, true
		}
	}
	return TorrentRef{}, false
}

// ItemDownloadPatch is a merge patch for the download sub-document.
type ItemDownloadPatch struct {
	DownloadStatus   *DownloadStatus
	Downloading      *bool
	DownloadComplete *bool
	DownloadedOn     *int64
}

func BoolPatch(v bool) *bool { return &v }

func Int64Patch(v int64) *int64 { return &v }
