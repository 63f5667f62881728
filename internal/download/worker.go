package download

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"mediaengine/internal/domain"
	"mediaengine/internal/metrics"
)

// worker drives one download through its state machine:
//
//	queued -> connecting -> downloading -> complete
//	                     \-> failed (no magnet, noPeers(dht), transfer error)
//	any active -> removed (StopDownloading)
//
// All phase transitions happen inline on the event loop; only coalesced
// progress writes run on a side goroutine, guarded so two store writes for
// the same record never interleave.
type worker struct {
	m      *Manager
	logger *slog.Logger

	at   *activeTransfer
	item domain.Item

	stateMu sync.Mutex
	d       domain.Download

	updating      atomic.Bool
	updatedParent bool
	lastProgress  float64
	lastPeers     int
}

func (m *Manager) runWorker(d domain.Download) {
	w := &worker{
		m:         m,
		logger:    m.logger.With(slog.String("downloadId", d.ID)),
		d:         d,
		lastPeers: -1,
	}
	w.run(context.Background())
}

func (w *worker) run(ctx context.Context) {
	item, err := w.m.store.GetItem(ctx, w.d)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			w.logger.Error("catalog item missing")
			w.fail(ctx, "item_missing", false)
			return
		}
		// Transient store error: leave the record pending so the next
		// rehydration retries it.
		w.logger.Warn("catalog item fetch failed", slog.String("error", err.Error()))
		w.m.removeFromQueue(w.d.ID)
		return
	}
	w.item = item

	magnet, ok := item.TorrentForQuality(w.d.Quality)
	if !ok {
		w.logger.Error("no magnet for requested quality", slog.String("quality", w.d.Quality))
		w.fail(ctx, "no_magnet", true)
		return
	}

	w.setConnecting(ctx)

	dir, err := w.m.layout.EnsureDir(w.d.ID)
	if err != nil {
		w.logger.Error("download directory unavailable", slog.String("error", err.Error()))
		w.fail(ctx, "storage", true)
		return
	}

	handle, err := w.m.peerClient().Add(ctx, magnet.URL, dir)
	if err != nil {
		if errors.Is(err, domain.ErrClientClosed) {
			// The supervisor is rebuilding the client; the pending record
			// will be re-driven.
			w.logger.Info("peer client closed, leaving record pending")
			w.m.removeFromQueue(w.d.ID)
			return
		}
		w.logger.Error("swarm join failed", slog.String("error", err.Error()))
		w.fail(ctx, "add_failed", true)
		return
	}

	at := &activeTransfer{handle: handle, magnet: magnet.URL, cancel: make(chan struct{})}
	at.setCurrent(w.d)
	if !w.m.registerActive(w.d.ID, at) {
		// Another worker already owns a live handle for this id.
		w.logger.Warn("duplicate live transfer, dropping this worker")
		w.m.removeFromQueue(w.d.ID)
		return
	}
	w.at = at
	defer w.m.unregisterActive(w.d.ID)

	for {
		select {
		case <-at.cancel:
			w.markRemoved(ctx)
			return

		case ev, open := <-handle.Events():
			if !open {
				select {
				case <-at.cancel:
					w.markRemoved(ctx)
				default:
					// Client-level teardown: record stays pending for the
					// rebuilt client to re-drive.
					w.logger.Info("transfer interrupted, leaving record pending")
					w.m.removeFromQueue(w.d.ID)
				}
				return
			}

			switch ev.Kind {
			case domain.EventProgress:
				w.onProgress(ctx, ev)

			case domain.EventDone:
				w.onDone(ctx)
				_ = w.m.peerClient().Remove(magnet.URL)
				return

			case domain.EventNoPeers:
				if ev.NoPeersSource != domain.NoPeersDHT {
					w.logger.Debug("peer shortage reported",
						slog.String("source", ev.NoPeersSource),
					)
					continue
				}
				w.onNoPeers(ctx)
				_ = w.m.peerClient().Remove(magnet.URL)
				return

			case domain.EventError:
				w.logger.Error("transfer failed", slog.Any("error", ev.Err))
				w.fail(ctx, "transfer_error", true)
				_ = w.m.peerClient().Remove(magnet.URL)
				return
			}
		}
	}
}

func (w *worker) setConnecting(ctx context.Context) {
	w.stateMu.Lock()
	st := domain.DownloadConnecting
	w.d = w.m.store.UpdateDownload(ctx, w.d, domain.DownloadPatch{
		Status:        &st,
		Speed:         domain.NullSpeed(),
		TimeRemaining: domain.NullTime(),
		NumPeers:      domain.NullPeers(),
	})
	w.stateMu.Unlock()

	ds := domain.DownloadConnecting
	w.item = w.m.store.UpdateItemDownload(ctx, w.item, domain.ItemDownloadPatch{
		DownloadStatus: &ds,
		Downloading:    domain.BoolPatch(true),
	})
}

func (w *worker) onProgress(ctx context.Context, ev domain.TransferEvent) {
	if w.currentStatus() == domain.DownloadConnecting {
		// First tick: phase transition, written inline so ordering stays
		// strict relative to later terminal transitions.
		st := domain.DownloadDownloading
		w.stateMu.Lock()
		w.d = w.m.store.UpdateDownload(ctx, w.d, patchFromEvent(ev, &st))
		w.at.setCurrent(w.d)
		w.stateMu.Unlock()

		if !w.updatedParent {
			w.updatedParent = true
			ds := domain.DownloadDownloading
			w.item = w.m.store.UpdateItemDownload(ctx, w.item, domain.ItemDownloadPatch{
				DownloadStatus: &ds,
				Downloading:    domain.BoolPatch(true),
			})
		}
		w.lastProgress = ev.Progress
		w.lastPeers = ev.NumPeers
		return
	}

	// Coalescing: push only when progress advanced half a point or the
	// peer count changed since the last push.
	if ev.Progress-w.lastProgress < 0.5 && ev.NumPeers == w.lastPeers {
		return
	}
	// One store write in flight per download; overlapping ticks are
	// dropped, a later tick carries fresher data.
	if !w.updating.CompareAndSwap(false, true) {
		return
	}
	w.lastProgress = ev.Progress
	w.lastPeers = ev.NumPeers

	go func(ev domain.TransferEvent) {
		defer w.updating.Store(false)
		w.stateMu.Lock()
		defer w.stateMu.Unlock()
		if w.d.Status.Terminal() {
			return
		}
		w.d = w.m.store.UpdateDownload(ctx, w.d, patchFromEvent(ev, nil))
		w.at.setCurrent(w.d)
	}(ev)
}

func (w *worker) onDone(ctx context.Context) {
	w.stateMu.Lock()
	st := domain.DownloadComplete
	w.d = w.m.store.UpdateDownload(ctx, w.d, domain.DownloadPatch{
		Status:        &st,
		Progress:      domain.ProgressPatch(100),
		Speed:         domain.NullSpeed(),
		TimeRemaining: domain.NullTime(),
		NumPeers:      domain.NullPeers(),
	})
	w.at.setCurrent(w.d)
	w.stateMu.Unlock()

	ds := domain.DownloadComplete
	w.item = w.m.store.UpdateItemDownload(ctx, w.item, domain.ItemDownloadPatch{
		DownloadStatus:   &ds,
		Downloading:      domain.BoolPatch(false),
		DownloadComplete: domain.BoolPatch(true),
		DownloadedOn:     domain.Int64Patch(time.Now().UnixMilli()),
	})

	metrics.DownloadsCompletedTotal.Inc()
	w.m.removeFromQueue(w.d.ID)
	w.logger.Info("download complete")
}

// onNoPeers handles the fatal variant: the swarm produced nobody to
// download from, so the record and partial payload are discarded.
func (w *worker) onNoPeers(ctx context.Context) {
	w.logger.Warn("no peers found, abandoning download")
	w.fail(ctx, "no_peers", true)
	w.m.CleanUpDownload(ctx, w.d.ID)
}

func (w *worker) markRemoved(ctx context.Context) {
	w.stateMu.Lock()
	st := domain.DownloadRemoved
	w.d = w.m.store.UpdateDownload(ctx, w.d, domain.DownloadPatch{
		Status:        &st,
		Speed:         domain.NullSpeed(),
		TimeRemaining: domain.NullTime(),
		NumPeers:      domain.NullPeers(),
	})
	w.stateMu.Unlock()

	ds := domain.DownloadRemoved
	w.item = w.m.store.UpdateItemDownload(ctx, w.item, domain.ItemDownloadPatch{
		DownloadStatus: &ds,
		Downloading:    domain.BoolPatch(false),
	})

	w.m.removeFromQueue(w.d.ID)
	w.logger.Info("download stopped")
}

func (w *worker) fail(ctx context.Context, reason string, withParent bool) {
	w.stateMu.Lock()
	st := domain.DownloadFailed
	w.d = w.m.store.UpdateDownload(ctx, w.d, domain.DownloadPatch{
		Status:        &st,
		Speed:         domain.NullSpeed(),
		TimeRemaining: domain.NullTime(),
		NumPeers:      domain.NullPeers(),
	})
	if w.at != nil {
		w.at.setCurrent(w.d)
	}
	w.stateMu.Unlock()

	if withParent {
		ds := domain.DownloadFailed
		w.item = w.m.store.UpdateItemDownload(ctx, w.item, domain.ItemDownloadPatch{
			DownloadStatus: &ds,
			Downloading:    domain.BoolPatch(false),
		})
	}

	metrics.DownloadsFailedTotal.WithLabelValues(reason).Inc()
	w.m.removeFromQueue(w.d.ID)
}

func (w *worker) currentStatus() domain.DownloadStatus {
	w.stateMu.Lock()
	defer w.stateMu.Unlock()
	return w.d.Status
}

func patchFromEvent(ev domain.TransferEvent, status *domain.DownloadStatus) domain.DownloadPatch {
	return domain.DownloadPatch{
		Status:        status,
		Progress:      domain.ProgressPatch(roundProgress(ev.Progress)),
		Speed:         domain.SpeedPatch(ev.SpeedBytesPerSec),
		TimeRemaining: domain.TimePatch(ev.TimeRemainingMS),
		NumPeers:      domain.PeersPatch(ev.NumPeers),
	}
}

// roundProgress keeps one decimal place and never reports 100 before done.
func roundProgress(p float64) float64 {
	r := math.Round(p*10) / 10
	if r >= 100 {
		r = 99.9
	}
	if r < 0 {
		r = 0
	}
	return r
}
