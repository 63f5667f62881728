package anacrolix

import (
	"testing"

	"mediaengine/internal/domain"
)

func TestSelectPlayablePicksLargest(t *testing.T) {
	files := []domain.FileRef{
		{Index: 0, Path: "Movie.2020/sample.mp4", Length: 50 << 20},
		{Index: 1, Path: "Movie.2020/Movie.2020.1080p.MKV", Length: 4 << 30},
		{Index: 2, Path: "Movie.2020/info.txt", Length: 1 << 10},
	}

	idx, ok := selectPlayable(files)
	if !ok {
		t.Fatal("expected a playable file")
	}
	if idx != 1 {
		t.Fatalf("selected index %d, want 1", idx)
	}
}

func TestSelectPlayableCaseInsensitive(t *testing.T) {
	files := []domain.FileRef{
		{Index: 0, Path: "EPISODE.S01E01.AVI", Length: 700 << 20},
	}
	if _, ok := selectPlayable(files); !ok {
		t.Fatal("uppercase extension should be playable")
	}
}

func TestSelectPlayableNoMatch(t *testing.T) {
	files := []domain.FileRef{
		{Index: 0, Path: "readme.nfo", Length: 2 << 10},
		{Index: 1, Path: "subs/english.srt", Length: 40 << 10},
	}
	if _, ok := selectPlayable(files); ok {
		t.Fatal("expected no playable file")
	}
}

func TestSelectPlayableIgnoresNonVideoSuffixMatches(t *testing.T) {
	// ".webm" alone is not in the playable set, only ".webmv".
	files := []domain.FileRef{
		{Index: 0, Path: "clip.webm", Length: 100 << 20},
		{Index: 1, Path: "clip.webmv", Length: 10 << 20},
	}
	idx, ok := selectPlayable(files)
	if !ok || idx != 1 {
		t.Fatalf("selectPlayable = (%d, %v), want (1, true)", idx, ok)
	}
}
