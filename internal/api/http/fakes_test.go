package apihttp

import (
	"context"
	"io"
	"strings"
	"sync"

	"mediaengine/internal/domain"
	"mediaengine/internal/domain/ports"
)

type fakeQueue struct {
	mu      sync.Mutex
	added   []domain.Download
	started int
	stopped []string
	cleaned []string
	handles map[string]ports.Handle
}

func newFakeQueue() *fakeQueue {
	return &fakeQueue{handles: make(map[string]ports.Handle)}
}

func (q *fakeQueue) AddDownload(d domain.Download) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.added = append(q.added, d)
}

func (q *fakeQueue) StartDownloads() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.started++
}

func (q *fakeQueue) StopDownloading(ctx context.Context, id string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.stopped = append(q.stopped, id)
}

func (q *fakeQueue) CleanUpDownload(ctx context.Context, id string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.cleaned = append(q.cleaned, id)
}

func (q *fakeQueue) ActiveHandle(id string) (ports.Handle, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	h, ok := q.handles[id]
	return h, ok
}

func (q *fakeQueue) Snapshot() []domain.Download { return nil }

// liveHandle serves a fixed payload as if it came straight off the swarm.
type liveHandle struct {
	payload string
}

func (h *liveHandle) Events() <-chan domain.TransferEvent { return nil }

func (h *liveHandle) ChosenFile() domain.FileRef {
	return domain.FileRef{Path: "movie.mkv", Length: int64(len(h.payload))}
}

func (h *liveHandle) NewReader(start, end int64) (io.ReadCloser, error) {
	if start < 0 || end >= int64(len(h.payload)) || start > end {
		return nil, io.ErrUnexpectedEOF
	}
	return io.NopCloser(strings.NewReader(h.payload[start : end+1])), nil
}

func (h *liveHandle) Destroy() {}

type fakeStore struct {
	mu        sync.Mutex
	downloads map[string]domain.Download
}

func newFakeStore() *fakeStore {
	return &fakeStore{downloads: make(map[string]domain.Download)}
}

func (s *fakeStore) seed(d domain.Download) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.downloads[d.ID] = d
}

func (s *fakeStore) GetDownload(ctx context.Context, id string) (domain.Download, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.downloads[id]
	if !ok {
		return domain.Download{}, domain.ErrNotFound
	}
	return d, nil
}

func (s *fakeStore) ListPending(ctx context.Context) ([]domain.Download, error) { return nil, nil }

func (s *fakeStore) GetItem(ctx context.Context, d domain.Download) (domain.Item, error) {
	return domain.Item{}, domain.ErrNotFound
}

func (s *fakeStore) UpdateDownload(ctx context.Context, d domain.Download, patch domain.DownloadPatch) domain.Download {
	return d
}

func (s *fakeStore) UpdateItemDownload(ctx context.Context, item domain.Item, patch domain.ItemDownloadPatch) domain.Item {
	return item
}

func (s *fakeStore) DeleteDownload(ctx context.Context, id string) error { return nil }

type fakeProber struct {
	info domain.MediaInfo
	err  error

	readerInfo domain.MediaInfo
	readerErr  error
	readerUsed bool
}

func (p *fakeProber) Probe(ctx context.Context, filePath string) (domain.MediaInfo, error) {
	return p.info, p.err
}

func (p *fakeProber) ProbeReader(ctx context.Context, reader io.Reader) (domain.MediaInfo, error) {
	p.readerUsed = true
	_, _ = io.Copy(io.Discard, reader)
	return p.readerInfo, p.readerErr
}

// fakeTranscoder prefixes the payload so tests can tell a converted stream
// from a raw copy.
type fakeTranscoder struct{}

func (fakeTranscoder) Stream(ctx context.Context, src io.Reader, dst io.Writer) error {
	if _, err := io.WriteString(dst, "TRANSCODED|"); err != nil {
		return err
	}
	_, err := io.Copy(dst, src)
	return err
}

func hevcInfo() domain.MediaInfo {
	return domain.MediaInfo{
		Tracks: []domain.MediaTrack{
			{Index: 0, Type: "video", Codec: "hevc", Default: true},
			{Index: 0, Type: "audio", Codec: "aac", Language: "eng", Default: true},
		},
		Duration: 5400,
	}
}

func h264Info() domain.MediaInfo {
	return domain.MediaInfo{
		Tracks: []domain.MediaTrack{
			{Index: 0, Type: "video", Codec: "h264", Default: true},
		},
		Duration: 5400,
	}
}
