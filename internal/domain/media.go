package domain

import "strings"

// MediaTrack is one stream inside a probed media container.
type MediaTrack struct {
	Index    int    `json:"index"`
	Type     string `json:"type"`
	Codec    string `json:"codec"`
	Language string `json:"language,omitempty"`
	Default  bool   `json:"default"`
}

// MediaInfo is the probe result for a media file. Duration is in seconds.
type MediaInfo struct {
	Tracks   []MediaTrack `json:"tracks"`
	Duration float64      `json:"duration"`
}

// VideoCodec returns the codec of the first video track, lowercased, or the
// empty string when the container carries no video.
func (m MediaInfo) VideoCodec() string {
	for _, t := range m.Tracks {
		if t.Type == "video" {
			return strings.ToLower(t.Codec)
		}
	}
	return ""
}

// transcodeCodecs lists video codecs browsers and cast devices cannot decode
// natively; files carrying one go through the transcode pipeline.
var transcodeCodecs = map[string]bool{
	"hevc": true,
	"h265": true,
	"x265": true,
}

// NeedsTranscode reports whether the probed file must be re-encoded for the
// requesting device.
func (m MediaInfo) NeedsTranscode() bool {
	return transcodeCodecs[m.VideoCodec()]
}

// playableExtensions lists the container formats browsers and media players
// can be expected to open directly. The peer client downloads only files
// matching this list and the streaming handler serves only them.
var playableExtensions = []string{".mp4", ".ogg", ".mov", ".webmv", ".mkv", ".wmv", ".avi"}

// PlayableFile reports whether the path carries a playable extension.
// Matching is case-insensitive.
func PlayableFile(path string) bool {
	lower := strings.ToLower(path)
	for _, ext := range playableExtensions {
		if strings.HasSuffix(lower, ext) {
			return true
		}
	}
	return false
}
