package anacrolix

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/anacrolix/torrent"

	"mediaengine/internal/domain"
)

const (
	tickInterval  = time.Second
	readaheadSize = 8 << 20
)

// Handle is one active swarm participation. A background loop samples the
// torrent once per second and turns the samples into transfer events. The
// loop ends on completion, peer starvation or Destroy, and closing the
// events channel is always its last act.
type Handle struct {
	t       *torrent.Torrent
	magnet  string
	timeout time.Duration
	logger  *slog.Logger
	onClose func()
	fatal   func(error)

	events chan domain.TransferEvent
	stop   chan struct{}
	loop   chan struct{}

	destroyOnce sync.Once

	mu         sync.RWMutex
	chosen     *torrent.File
	chosenRef  domain.FileRef
	lastSample speedSample
}

type speedSample struct {
	at    time.Time
	bytes int64
}

func newHandle(t *torrent.Torrent, magnet string, timeout time.Duration, logger *slog.Logger, onClose func(), fatal func(error)) *Handle {
	return &Handle{
		t:       t,
		magnet:  magnet,
		timeout: timeout,
		logger:  logger,
		onClose: onClose,
		fatal:   fatal,
		events:  make(chan domain.TransferEvent, 16),
		stop:    make(chan struct{}),
		loop:    make(chan struct{}),
	}
}

func (h *Handle) Events() <-chan domain.TransferEvent {
	return h.events
}

// ChosenFile returns the file selected for playback. Zero value until the
// torrent's metadata has been resolved.
func (h *Handle) ChosenFile() domain.FileRef {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.chosenRef
}

// NewReader returns a reader over [start, end] of the chosen file. Reads
// block until the underlying pieces arrive; the readahead window pulls
// pieces ahead of the playhead.
func (h *Handle) NewReader(start, end int64) (io.ReadCloser, error) {
	h.mu.RLock()
	f := h.chosen
	length := h.chosenRef.Length
	h.mu.RUnlock()

	if f == nil {
		return nil, errors.New("torrent metadata not resolved yet")
	}
	if start < 0 || end >= length || start > end {
		return nil, fmt.Errorf("byte range [%d,%d] outside file of length %d", start, end, length)
	}

	r := f.NewReader()
	r.SetReadahead(readaheadSize)
	r.SetResponsive()
	if _, err := r.Seek(start, io.SeekStart); err != nil {
		r.Close()
		return nil, fmt.Errorf("seek to %d: %w", start, err)
	}
	return &rangeReader{r: r, remaining: end - start + 1}, nil
}

// Destroy detaches from the swarm. Idempotent; once it returns no further
// events are emitted.
func (h *Handle) Destroy() {
	h.destroyOnce.Do(func() {
		close(h.stop)
		<-h.loop
		h.t.Drop()
	})
}

func (h *Handle) run() {
	defer close(h.loop)
	defer close(h.events)
	defer h.onClose()

	// Metadata resolution needs peers too: a swarm nobody is seeding never
	// gets past this point.
	select {
	case <-h.t.GotInfo():
	case <-time.After(h.timeout):
		h.emit(domain.TransferEvent{Kind: domain.EventNoPeers, NoPeersSource: domain.NoPeersDHT})
		return
	case <-h.t.Closed():
		h.reportClosed()
		return
	case <-h.stop:
		return
	}

	if err := h.selectFile(); err != nil {
		h.emit(domain.TransferEvent{Kind: domain.EventError, Err: err})
		return
	}

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	lastPeerSeen := time.Now()

	for {
		select {
		case <-h.stop:
			return
		case <-h.t.Closed():
			h.reportClosed()
			return
		case now := <-ticker.C:
			ev, terminal := h.sample(now, &lastPeerSeen)
			h.emit(ev)
			if terminal {
				return
			}
		}
	}
}

// selectFile picks the file to download: the largest one with a playable
// extension, or the first file when nothing matches. Every other file is
// deprioritized so the swarm's bandwidth goes to the payload alone.
func (h *Handle) selectFile() error {
	files := h.t.Files()
	if len(files) == 0 {
		return errors.New("torrent has no files")
	}

	refs := make([]domain.FileRef, 0, len(files))
	for i, f := range files {
		refs = append(refs, domain.FileRef{Index: i, Path: f.Path(), Length: f.Length()})
	}

	idx, ok := selectPlayable(refs)
	if !ok {
		idx = 0
		h.logger.Warn("no playable file in torrent, falling back to first",
			slog.String("path", refs[0].Path),
		)
	}

	for i, f := range files {
		if i == idx {
			continue
		}
		f.SetPriority(torrent.PiecePriorityNone)
	}
	files[idx].SetPriority(torrent.PiecePriorityNormal)

	h.mu.Lock()
	h.chosen = files[idx]
	h.chosenRef = refs[idx]
	h.mu.Unlock()
	return nil
}

func (h *Handle) sample(now time.Time, lastPeerSeen *time.Time) (domain.TransferEvent, bool) {
	h.mu.RLock()
	f := h.chosen
	length := h.chosenRef.Length
	h.mu.RUnlock()

	completed := f.BytesCompleted()
	stats := h.t.Stats()
	peers := stats.ActivePeers

	if peers > 0 {
		*lastPeerSeen = now
	}

	if completed >= length {
		return domain.TransferEvent{Kind: domain.EventDone, Progress: 100, NumPeers: peers}, true
	}

	if now.Sub(*lastPeerSeen) > h.timeout {
		return domain.TransferEvent{Kind: domain.EventNoPeers, NoPeersSource: domain.NoPeersDHT}, true
	}

	speed := h.speed(now, stats.BytesReadUsefulData.Int64())

	var remainingMS int64
	if speed > 0 {
		remainingMS = (length - completed) * 1000 / speed
	}

	progress := float64(0)
	if length > 0 {
		progress = float64(completed) / float64(length) * 100
	}
	// Progress 100 is reserved for the done event.
	if progress >= 100 {
		progress = 99.99
	}

	return domain.TransferEvent{
		Kind:             domain.EventProgress,
		Progress:         progress,
		SpeedBytesPerSec: speed,
		TimeRemainingMS:  remainingMS,
		NumPeers:         peers,
	}, false
}

func (h *Handle) speed(now time.Time, bytesRead int64) int64 {
	h.mu.Lock()
	defer h.mu.Unlock()

	prev := h.lastSample
	h.lastSample = speedSample{at: now, bytes: bytesRead}

	if prev.at.IsZero() {
		return 0
	}
	dt := now.Sub(prev.at).Seconds()
	if dt <= 0 {
		return 0
	}
	delta := bytesRead - prev.bytes
	if delta < 0 {
		delta = 0
	}
	return int64(float64(delta) / dt)
}

func (h *Handle) emit(ev domain.TransferEvent) {
	select {
	case h.events <- ev:
	case <-h.stop:
	}
}

// reportClosed signals a client-level failure. No error event is emitted:
// the events channel simply closes, which tells the worker to exit without
// touching the record so the supervisor's rebuild re-drives it.
func (h *Handle) reportClosed() {
	h.fatal(errors.New("torrent client dropped active transfer: " + h.magnet))
}

type rangeReader struct {
	r         torrent.Reader
	remaining int64
}

func (rr *rangeReader) Read(p []byte) (int, error) {
	if rr.remaining <= 0 {
		return 0, io.EOF
	}
	if int64(len(p)) > rr.remaining {
		p = p[:rr.remaining]
	}
	n, err := rr.r.Read(p)
	rr.remaining -= int64(n)
	return n, err
}

func (rr *rangeReader) Close() error {
	return rr.r.Close()
}
