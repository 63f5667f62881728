package download

import (
	"context"
	"errors"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"mediaengine/internal/domain"
	"mediaengine/internal/domain/ports"
)

type fakeStore struct {
	mu        sync.Mutex
	downloads map[string]domain.Download
	items     map[string]domain.Item

	downloadWrites int
	itemWrites     int
	deleted        []string
	listErr        error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		downloads: make(map[string]domain.Download),
		items:     make(map[string]domain.Item),
	}
}

func (s *fakeStore) seed(d domain.Download, item domain.Item) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.downloads[d.ID] = d
	s.items[item.ID] = item
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

func (s *fakeStore) ListPending(ctx context.Context) ([]domain.Download, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listErr != nil {
		return nil, s.listErr
	}
	var pending []domain.Download
	for _, d := range s.downloads {
		if d.Status.Pending() {
			pending = append(pending, d)
		}
	}
	sort.Slice(pending, func(i, j int) bool { return pending[i].UpdatedAt < pending[j].UpdatedAt })
	return pending, nil
}

func (s *fakeStore) GetItem(ctx context.Context, d domain.Download) (domain.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.items[d.ID]
	if !ok {
		return domain.Item{}, domain.ErrNotFound
	}
	return item, nil
}

func (s *fakeStore) UpdateDownload(ctx context.Context, d domain.Download, patch domain.DownloadPatch) domain.Download {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.downloadWrites++

	if patch.Status != nil {
		d.Status = *patch.Status
	}
	if patch.Progress != nil {
		d.Progress = *patch.Progress
	}
	if patch.Speed != nil {
		d.Speed = *patch.Speed
	}
	if patch.TimeRemaining != nil {
		d.TimeRemaining = *patch.TimeRemaining
	}
	if patch.NumPeers != nil {
		d.NumPeers = *patch.NumPeers
	}
	d.UpdatedAt = time.Now().UnixMilli()
	s.downloads[d.ID] = d
	return d
}

func (s *fakeStore) UpdateItemDownload(ctx context.Context, item domain.Item, patch domain.ItemDownloadPatch) domain.Item {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.itemWrites++

	if patch.DownloadStatus != nil {
		item.Download.DownloadStatus = *patch.DownloadStatus
	}
	if patch.Downloading != nil {
		item.Download.Downloading = *patch.Downloading
	}
	if patch.DownloadComplete != nil {
		item.Download.DownloadComplete = *patch.DownloadComplete
	}
	if patch.DownloadedOn != nil {
		item.Download.DownloadedOn = *patch.DownloadedOn
	}
	s.items[item.ID] = item
	return item
}

func (s *fakeStore) DeleteDownload(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.downloads[id]; !ok {
		return domain.ErrNotFound
	}
	delete(s.downloads, id)
	s.deleted = append(s.deleted, id)
	return nil
}

func (s *fakeStore) download(id string) (domain.Download, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.downloads[id]
	return d, ok
}

func (s *fakeStore) item(id string) (domain.Item, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.items[id]
	return item, ok
}

func (s *fakeStore) writeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.downloadWrites
}

type fakeHandle struct {
	events    chan domain.TransferEvent
	chosen    domain.FileRef
	destroyed chan struct{}
	once      sync.Once
}

func newFakeHandle() *fakeHandle {
	return &fakeHandle{
		events:    make(chan domain.TransferEvent, 16),
		destroyed: make(chan struct{}),
	}
}

func (h *fakeHandle) Events() <-chan domain.TransferEvent { return h.events }

func (h *fakeHandle) ChosenFile() domain.FileRef { return h.chosen }

func (h *fakeHandle) NewReader(start, end int64) (io.ReadCloser, error) {
	return io.NopCloser(strings.NewReader("")), nil
}

func (h *fakeHandle) Destroy() {
	h.once.Do(func() {
		close(h.destroyed)
		close(h.events)
	})
}

func (h *fakeHandle) emit(ev domain.TransferEvent) {
	select {
	case h.events <- ev:
	case <-h.destroyed:
	}
}

func (h *fakeHandle) finish() {
	h.once.Do(func() {
		close(h.destroyed)
		close(h.events)
	})
}

type fakeClient struct {
	mu      sync.Mutex
	handles map[string]*fakeHandle
	added   []string
	dirs    map[string]string
	removed []string
	addErr  error
	errs    chan error
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		handles: make(map[string]*fakeHandle),
		dirs:    make(map[string]string),
		errs:    make(chan error, 1),
	}
}

// handleFor pre-registers the handle returned for a magnet.
func (c *fakeClient) handleFor(magnet string) *fakeHandle {
	c.mu.Lock()
	defer c.mu.Unlock()
	h, ok := c.handles[magnet]
	if !ok {
		h = newFakeHandle()
		c.handles[magnet] = h
	}
	return h
}

func (c *fakeClient) Add(ctx context.Context, magnetURI, targetDir string) (ports.Handle, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.addErr != nil {
		return nil, c.addErr
	}
	c.added = append(c.added, magnetURI)
	c.dirs[magnetURI] = targetDir
	h, ok := c.handles[magnetURI]
	if !ok {
		h = newFakeHandle()
		c.handles[magnetURI] = h
	}
	return h, nil
}

func (c *fakeClient) Remove(magnetURI string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.removed = append(c.removed, magnetURI)
	if h, ok := c.handles[magnetURI]; ok {
		h.finish()
		delete(c.handles, magnetURI)
	}
	return nil
}

func (c *fakeClient) Errors() <-chan error { return c.errs }

func (c *fakeClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, h := range c.handles {
		h.finish()
	}
	c.handles = make(map[string]*fakeHandle)
	return nil
}

func (c *fakeClient) addedCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.added)
}

func (c *fakeClient) removedMagnets() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.removed))
	copy(out, c.removed)
	return out
}

var errTransient = errors.New("transient failure")
