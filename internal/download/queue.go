package download

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"mediaengine/internal/domain"
	"mediaengine/internal/domain/ports"
	"mediaengine/internal/metrics"
	"mediaengine/internal/storage/layout"
)

// activeTransfer is one live swarm participation owned by a worker. The
// queue keeps at most one per download id.
type activeTransfer struct {
	handle   ports.Handle
	magnet   string
	cancel   chan struct{}
	stopOnce sync.Once

	mu      sync.Mutex
	current domain.Download
}

func (a *activeTransfer) stop() {
	a.stopOnce.Do(func() { close(a.cancel) })
}

func (a *activeTransfer) snapshot() domain.Download {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.current
}

func (a *activeTransfer) setCurrent(d domain.Download) {
	a.mu.Lock()
	a.current = d
	a.mu.Unlock()
}

// Manager owns the pending download queue and dispatches workers over it
// with bounded parallelism. One batch runs at a time: downloads added while
// a batch is draining wait for the next StartDownloads, which the drain
// itself triggers when it finishes.
type Manager struct {
	store         ports.Store
	layout        *layout.Layout
	logger        *slog.Logger
	maxConcurrent int

	mu       sync.Mutex
	client   ports.Client
	queue    []domain.Download
	active   map[string]*activeTransfer
	draining bool
}

func NewManager(store ports.Store, client ports.Client, lay *layout.Layout, logger *slog.Logger, maxConcurrent int) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	return &Manager{
		store:         store,
		client:        client,
		layout:        lay,
		logger:        logger,
		maxConcurrent: maxConcurrent,
		active:        make(map[string]*activeTransfer),
	}
}

// SetClient swaps the peer client. Used by the supervisor after a fatal
// client error; workers pick the new client up on their next Add.
func (m *Manager) SetClient(c ports.Client) {
	m.mu.Lock()
	m.client = c
	m.mu.Unlock()
}

func (m *Manager) peerClient() ports.Client {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.client
}

// AddDownload appends to the pending queue. No deduplication: callers must
// not double-enqueue.
func (m *Manager) AddDownload(d domain.Download) {
	m.mu.Lock()
	m.queue = append(m.queue, d)
	size := len(m.queue)
	m.mu.Unlock()

	metrics.QueuedDownloads.Set(float64(size))
	m.logger.Info("download queued",
		slog.String("downloadId", d.ID),
		slog.String("quality", d.Quality),
		slog.Int("queueSize", size),
	)
}

// StartDownloads dispatches workers over a snapshot of the current queue,
// at most maxConcurrent at a time. No-op while a batch is already draining
// or when the queue is empty. Downloads added mid-batch are picked up by
// the re-trigger that runs when the batch drains.
func (m *Manager) StartDownloads() {
	m.mu.Lock()
	if m.draining || len(m.queue) == 0 {
		m.mu.Unlock()
		return
	}
	m.draining = true
	batch := make([]domain.Download, len(m.queue))
	copy(batch, m.queue)
	m.mu.Unlock()

	go m.drain(batch)
}

func (m *Manager) drain(batch []domain.Download) {
	m.logger.Info("starting download batch",
		slog.Int("size", len(batch)),
		slog.Int("maxConcurrent", m.maxConcurrent),
	)

	sem := make(chan struct{}, m.maxConcurrent)
	var wg sync.WaitGroup
	for _, d := range batch {
		sem <- struct{}{}
		wg.Add(1)
		go func(d domain.Download) {
			defer wg.Done()
			defer func() { <-sem }()
			m.runWorker(d)
		}(d)
	}
	wg.Wait()

	m.mu.Lock()
	m.draining = false
	remaining := len(m.queue)
	m.mu.Unlock()

	m.logger.Info("download batch drained", slog.Int("remaining", remaining))
	if remaining > 0 {
		m.StartDownloads()
	}
}

// StopDownloading cancels the download with the given id. A live transfer
// is destroyed and its worker records the removed status; a download still
// waiting in the queue is removed and marked directly. Idempotent.
func (m *Manager) StopDownloading(ctx context.Context, id string) {
	m.mu.Lock()
	at := m.active[id]
	m.mu.Unlock()

	if at != nil {
		at.stop()
		// Await destruction so no further events can race the caller.
		at.handle.Destroy()
		return
	}

	if queued, ok := m.removeFromQueue(id); ok {
		m.store.UpdateDownload(ctx, queued, domain.DownloadPatch{
			Status: domain.StatusPatch(domain.DownloadRemoved),
		})
	}
}

// RehydrateOnStart loads every pending record and re-drives it. Records
// stuck in connecting or downloading from a prior crash start from scratch;
// partial bytes on disk are reused by the peer client's resume logic.
func (m *Manager) RehydrateOnStart(ctx context.Context) error {
	pending, err := m.store.ListPending(ctx)
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		return nil
	}
	m.logger.Info("rehydrating pending downloads", slog.Int("count", len(pending)))
	for _, d := range pending {
		// A record can still sit in the queue or hold a live handle when
		// rehydration runs after a client rebuild; never double-enqueue it.
		if m.tracked(d.ID) {
			continue
		}
		m.AddDownload(d)
	}
	m.StartDownloads()
	return nil
}

func (m *Manager) tracked(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.active[id]; ok {
		return true
	}
	for _, d := range m.queue {
		if d.ID == id {
			return true
		}
	}
	return false
}

// CleanUpDownload deletes the store record, drops the queue entry and
// removes the download's directory. Safe on unknown ids.
func (m *Manager) CleanUpDownload(ctx context.Context, id string) {
	if err := m.store.DeleteDownload(ctx, id); err != nil && !errors.Is(err, domain.ErrNotFound) {
		m.logger.Warn("download record not deleted",
			slog.String("downloadId", id),
			slog.String("error", err.Error()),
		)
	}
	m.removeFromQueue(id)
	m.layout.RemoveDir(id)
}

// ActiveHandle returns the live handle for id, if a worker holds one. The
// streaming handler prefers it over the on-disk file so reads prioritize
// the requested bytes in the swarm.
func (m *Manager) ActiveHandle(id string) (ports.Handle, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	at, ok := m.active[id]
	if !ok {
		return nil, false
	}
	return at.handle, true
}

// Snapshot returns the latest known state of every live transfer and
// refreshes the aggregate gauges.
func (m *Manager) Snapshot() []domain.Download {
	m.mu.Lock()
	transfers := make([]*activeTransfer, 0, len(m.active))
	for _, at := range m.active {
		transfers = append(transfers, at)
	}
	queued := len(m.queue)
	m.mu.Unlock()

	out := make([]domain.Download, 0, len(transfers))
	var speed int64
	var peers int
	for _, at := range transfers {
		d := at.snapshot()
		if d.Speed != nil {
			speed += *d.Speed
		}
		if d.NumPeers != nil {
			peers += *d.NumPeers
		}
		out = append(out, d)
	}

	metrics.ActiveDownloads.Set(float64(len(out)))
	metrics.QueuedDownloads.Set(float64(queued))
	metrics.DownloadSpeedBytes.Set(float64(speed))
	metrics.PeersConnected.Set(float64(peers))
	return out
}

// Shutdown destroys every live handle without touching the store: pending
// statuses survive and rehydrate on the next start.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	transfers := make([]*activeTransfer, 0, len(m.active))
	for _, at := range m.active {
		transfers = append(transfers, at)
	}
	m.mu.Unlock()

	// Destroy without the cancel latch: the worker must see a plain event
	// channel close, which leaves the record pending instead of removed.
	for _, at := range transfers {
		at.handle.Destroy()
	}
}

func (m *Manager) registerActive(id string, at *activeTransfer) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.active[id]; exists {
		return false
	}
	m.active[id] = at
	return true
}

func (m *Manager) unregisterActive(id string) {
	m.mu.Lock()
	delete(m.active, id)
	m.mu.Unlock()
}

// removeFromQueue drops the first queue entry with the given id and reports
// whether one was found.
func (m *Manager) removeFromQueue(id string) (domain.Download, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, d := range m.queue {
		if d.ID == id {
			m.queue = append(m.queue[:i], m.queue[i+1:]...)
			metrics.QueuedDownloads.Set(float64(len(m.queue)))
			m.logger.Info("download left queue",
				slog.String("downloadId", id),
				slog.Int("queueSize", len(m.queue)),
			)
			return d, true
		}
	}
	return domain.Download{}, false
}
