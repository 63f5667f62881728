package apihttp

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"

	"mediaengine/internal/domain"
	"mediaengine/internal/metrics"
)

// handleWatch serves GET /watch/{id}: the media payload of a download,
// with byte-range support and an optional transcode for devices that
// cannot decode the source codec.
func (s *Server) handleWatch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "use GET")
		return
	}

	id := strings.TrimPrefix(r.URL.Path, "/watch/")
	if id == "" || strings.Contains(id, "/") {
		writeError(w, http.StatusNotFound, "not_found", "media not found")
		return
	}

	mediaPath, ok := s.pickMediaFile(id)
	if !ok {
		writeError(w, http.StatusNotFound, "not_found", "media not found")
		return
	}

	fi, err := os.Stat(mediaPath)
	if err != nil {
		writeError(w, http.StatusNotFound, "not_found", "media not found")
		return
	}
	mediaSize := fi.Size()

	start := int64(0)
	end := mediaSize - 1
	ranged := false
	if rangeHeader := r.Header.Get("Range"); rangeHeader != "" {
		rs, re, err := parseByteRange(rangeHeader, mediaSize)
		if err != nil {
			// A malformed or unsatisfiable range falls back to the full
			// resource rather than failing playback.
			s.logger.Debug("ignoring range header",
				slog.String("range", rangeHeader),
				slog.String("error", err.Error()),
			)
		} else {
			start, end, ranged = rs, re, true
		}
	}

	src, live, err := s.openSource(id, mediaPath, start, end)
	if err != nil {
		writeError(w, http.StatusNotFound, "not_found", "media not found")
		return
	}
	defer src.Close()

	transcode := s.shouldTranscode(r, id, mediaPath)
	chunkSize := end - start + 1

	w.Header().Set("Content-Type", "video/mp4")
	w.Header().Set("Accept-Ranges", "bytes")
	if ranged {
		// The denominator is the chunk size, not the media size. Players
		// in the field depend on this shape; see the range parser tests.
		w.Header().Set("Content-Range",
			"bytes "+strconv.FormatInt(start, 10)+"-"+strconv.FormatInt(end, 10)+"/"+strconv.FormatInt(chunkSize, 10))
	}
	switch {
	case transcode:
		// Output length is unknowable up front.
	case ranged:
		w.Header().Set("Content-Length", strconv.FormatInt(chunkSize, 10))
	case !live:
		w.Header().Set("Content-Length", strconv.FormatInt(mediaSize, 10))
	}

	status := http.StatusOK
	if ranged {
		status = http.StatusPartialContent
	}
	w.WriteHeader(status)

	if r.Method == http.MethodHead {
		return
	}

	if transcode {
		metrics.TranscodeStartsTotal.Inc()
		if err := s.transcoder.Stream(r.Context(), src, w); err != nil && !errors.Is(err, context.Canceled) {
			metrics.TranscodeFailuresTotal.Inc()
			s.logger.Error("transcode pipeline failed",
				slog.String("downloadId", id),
				slog.String("error", err.Error()),
			)
		}
		return
	}

	if _, err := io.Copy(w, src); err != nil {
		// Client disconnects are routine for video playback.
		s.logger.Debug("stream copy ended",
			slog.String("downloadId", id),
			slog.String("error", err.Error()),
		)
	}
}

// pickMediaFile locates the playable payload inside a download's directory:
// recursive listing, playable-extension filter, paths containing
// "transcoding" excluded (reserved for intermediate files), longest path
// wins as a stable tie-break.
func (s *Server) pickMediaFile(id string) (string, bool) {
	files, err := s.layout.ListFiles(id)
	if err != nil || len(files) == 0 {
		return "", false
	}

	var best string
	for _, path := range files {
		if !domain.PlayableFile(path) {
			continue
		}
		if strings.Contains(path, "transcoding") {
			continue
		}
		if len(path) > len(best) {
			best = path
		}
	}
	if best == "" {
		return "", false
	}
	return best, true
}

// openSource prefers a live transfer's reader so the requested bytes get
// priority in the swarm; finished downloads read from disk.
func (s *Server) openSource(id, mediaPath string, start, end int64) (io.ReadCloser, bool, error) {
	if handle, ok := s.queue.ActiveHandle(id); ok {
		if rd, err := handle.NewReader(start, end); err == nil {
			return rd, true, nil
		}
		// Metadata not resolved yet or the range is outside the chosen
		// file; fall back to whatever is on disk.
	}

	f, err := os.Open(mediaPath)
	if err != nil {
		return nil, false, err
	}
	return &sectionReadCloser{
		SectionReader: io.NewSectionReader(f, start, end-start+1),
		f:             f,
	}, false, nil
}

// shouldTranscode applies the transcode gate: the client must ask for it
// (device=chromecast or a truthy transcode param), and the probe must find
// an incompatible codec unless transcoding is forced. A failed probe means
// the raw stream is served.
func (s *Server) shouldTranscode(r *http.Request, id, mediaPath string) bool {
	q := r.URL.Query()
	requested := q.Get("device") == "chromecast" || truthyQuery(q.Get("transcode"))
	if !requested || s.prober == nil || s.transcoder == nil {
		return false
	}

	info, err := s.prober.Probe(r.Context(), mediaPath)
	if err != nil {
		info, err = s.probeLive(r.Context(), id)
	}
	if err != nil {
		s.logger.Warn("media probe failed, serving raw stream",
			slog.String("path", mediaPath),
			slog.String("error", err.Error()),
		)
		return false
	}
	return s.forceTranscoding || info.NeedsTranscode()
}

// probeWindowBytes bounds how much of an in-flight transfer is pulled off
// the swarm just to identify the codec.
const probeWindowBytes = 8 << 20

// probeLive probes the leading bytes of a live transfer. Used when the
// on-disk copy is still too sparse for ffprobe to open.
func (s *Server) probeLive(ctx context.Context, id string) (domain.MediaInfo, error) {
	handle, ok := s.queue.ActiveHandle(id)
	if !ok {
		return domain.MediaInfo{}, errors.New("no live transfer to probe")
	}
	length := handle.ChosenFile().Length
	if length == 0 {
		return domain.MediaInfo{}, errors.New("transfer metadata not resolved")
	}
	end := int64(probeWindowBytes) - 1
	if end >= length {
		end = length - 1
	}
	rd, err := handle.NewReader(0, end)
	if err != nil {
		return domain.MediaInfo{}, err
	}
	defer rd.Close()
	return s.prober.ProbeReader(ctx, rd)
}

type sectionReadCloser struct {
	*io.SectionReader
	f *os.File
}

func (s *sectionReadCloser) Close() error {
	return s.f.Close()
}
