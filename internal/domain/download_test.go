package domain

import "testing"

func validDownload() Download {
	return Download{
		ID:       "d1",
		ItemType: ItemMovie,
		Quality:  "1080p",
		Type:     TypeDownload,
		Status:   DownloadQueued,
	}
}

func TestDownloadValidate(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(*Download)
		wantErr bool
	}{
		{name: "valid", mutate: func(d *Download) {}},
		{name: "missing id", mutate: func(d *Download) { d.ID = "" }, wantErr: true},
		{name: "missing item type", mutate: func(d *Download) { d.ItemType = "" }, wantErr: true},
		{name: "bogus item type", mutate: func(d *Download) { d.ItemType = "series" }, wantErr: true},
		{name: "missing status", mutate: func(d *Download) { d.Status = "" }, wantErr: true},
		{name: "bogus status", mutate: func(d *Download) { d.Status = "paused" }, wantErr: true},
		{name: "progress below zero", mutate: func(d *Download) { d.Progress = -1 }, wantErr: true},
		{name: "progress above hundred", mutate: func(d *Download) { d.Progress = 100.1 }, wantErr: true},
		{name: "full progress without complete", mutate: func(d *Download) { d.Progress = 100; d.Status = DownloadDownloading }, wantErr: true},
		{name: "complete without full progress", mutate: func(d *Download) { d.Status = DownloadComplete; d.Progress = 99.9 }, wantErr: true},
		{name: "complete with full progress", mutate: func(d *Download) { d.Status = DownloadComplete; d.Progress = 100 }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d := validDownload()
			tc.mutate(&d)
			err := d.Validate()
			if tc.wantErr && err == nil {
				t.Error("want error, got nil")
			}
			if !tc.wantErr && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestStatusPendingTerminal(t *testing.T) {
	pending := []DownloadStatus{DownloadQueued, DownloadConnecting, DownloadDownloading}
	terminal := []DownloadStatus{DownloadComplete, DownloadFailed, DownloadRemoved}

	for _, s := range pending {
		if !s.Pending() || s.Terminal() {
			t.Errorf("%s: Pending=%v Terminal=%v, want true/false", s, s.Pending(), s.Terminal())
		}
	}
	for _, s := range terminal {
		if s.Pending() || !s.Terminal() {
			t.Errorf("%s: Pending=%v Terminal=%v, want false/true", s, s.Pending(), s.Terminal())
		}
	}
}

func TestPlayableFile(t *testing.T) {
	playable := []string{
		"Movie.2024.1080p.mkv",
		"nested/dir/episode.MP4",
		"clip.WebMV",
		"old.avi",
	}
	for _, p := range playable {
		if !PlayableFile(p) {
			t.Errorf("PlayableFile(%q) = false, want true", p)
		}
	}
	notPlayable := []string{
		"sample.txt",
		"movie.webm",
		"movie.mkv.part",
		"subs.srt",
		"",
	}
	for _, p := range notPlayable {
		if PlayableFile(p) {
			t.Errorf("PlayableFile(%q) = true, want false", p)
		}
	}
}

func TestNeedsTranscode(t *testing.T) {
	cases := []struct {
		codec string
		want  bool
	}{
		{"hevc", true},
		{"HEVC", true},
		{"h265", true},
		{"x265", true},
		{"h264", false},
		{"vp9", false},
		{"", false},
	}
	for _, tc := range cases {
		info := MediaInfo{}
		if tc.codec != "" {
			info.Tracks = []MediaTrack{{Type: "video", Codec: tc.codec}}
		}
		if got := info.NeedsTranscode(); got != tc.want {
			t.Errorf("NeedsTranscode(%q) = %v, want %v", tc.codec, got, tc.want)
		}
	}

	// Audio-only containers never transcode.
	audioOnly := MediaInfo{Tracks: []MediaTrack{{Type: "audio", Codec: "flac"}}}
	if audioOnly.NeedsTranscode() {
		t.Error("audio-only container must not transcode")
	}
	if audioOnly.VideoCodec() != "" {
		t.Errorf("VideoCodec = %q, want empty", audioOnly.VideoCodec())
	}
}
