package ffprobe

import "testing"

func TestParseProbeOutput(t *testing.T) {
	raw := []byte(`{
		"streams": [
			{"codec_type": "video", "codec_name": "hevc", "disposition": {"default": 1}},
			{"codec_type": "audio", "codec_name": "aac", "tags": {"language": "eng"}},
			{"codec_type": "subtitle", "codec_name": "subrip", "tags": {"language": "eng"}},
			{"codec_type": "data", "codec_name": "bin_data"}
		],
		"format": {"duration": "5400.123"}
	}`)

	info, err := parseProbeOutput(raw)
	if err != nil {
		t.Fatalf("parseProbeOutput: %v", err)
	}
	if len(info.Tracks) != 3 {
		t.Fatalf("got %d tracks, want 3 (data stream skipped)", len(info.Tracks))
	}
	if info.VideoCodec() != "hevc" {
		t.Errorf("VideoCodec = %q, want hevc", info.VideoCodec())
	}
	if !info.NeedsTranscode() {
		t.Error("hevc video should require transcoding")
	}
	if info.Duration != 5400.123 {
		t.Errorf("Duration = %v, want 5400.123", info.Duration)
	}
	if info.Tracks[1].Language != "eng" {
		t.Errorf("audio language = %q, want eng", info.Tracks[1].Language)
	}
}

func TestParseProbeOutputH264(t *testing.T) {
	raw := []byte(`{"streams": [{"codec_type": "video", "codec_name": "h264"}], "format": {}}`)
	info, err := parseProbeOutput(raw)
	if err != nil {
		t.Fatalf("parseProbeOutput: %v", err)
	}
	if info.NeedsTranscode() {
		t.Error("h264 video should not require transcoding")
	}
}

func TestParseProbeOutputGarbage(t *testing.T) {
	if _, err := parseProbeOutput([]byte("not json")); err == nil {
		t.Fatal("expected parse error")
	}
}
