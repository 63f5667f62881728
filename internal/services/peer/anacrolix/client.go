package anacrolix

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"runtime/debug"
	"sync"
	"time"

	"github.com/anacrolix/torrent"
	"github.com/anacrolix/torrent/storage"

	"mediaengine/internal/domain"
	"mediaengine/internal/domain/ports"
)

// addSpecTimeout caps the time we wait for the anacrolix client to accept a
// magnet. AddTorrentSpec can block on an internal client mutex when the
// client is busy resolving metadata for another torrent.
const addSpecTimeout = 10 * time.Second

type Config struct {
	// NoPeersTimeout is how long a transfer may sit without a single peer
	// before it is declared dead.
	NoPeersTimeout time.Duration
	// ListenPort of 0 lets the client pick one.
	ListenPort int
}

// Client owns one anacrolix torrent client shared by every transfer. Each
// transfer gets its own file-backed storage directory so payload for
// different downloads never mixes.
type Client struct {
	client  *torrent.Client
	cfg     Config
	logger  *slog.Logger
	errs    chan error
	mu      sync.Mutex
	handles map[string]*Handle // keyed by magnet URI
	closed  bool
}

func NewClient(cfg Config, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.NoPeersTimeout <= 0 {
		cfg.NoPeersTimeout = 90 * time.Second
	}

	clientConfig := torrent.NewDefaultClientConfig()
	clientConfig.ListenPort = cfg.ListenPort
	clientConfig.Seed = false

	client, err := torrent.NewClient(clientConfig)
	if err != nil {
		return nil, fmt.Errorf("create torrent client: %w", err)
	}

	return &Client{
		client:  client,
		cfg:     cfg,
		logger:  logger,
		errs:    make(chan error, 1),
		handles: make(map[string]*Handle),
	}, nil
}

// Add joins the swarm described by magnetURI and writes payload under
// targetDir. The returned handle streams transfer events until a terminal
// event or Destroy.
func (c *Client) Add(ctx context.Context, magnetURI, targetDir string) (ports.Handle, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, domain.ErrClientClosed
	}
	if h, exists := c.handles[magnetURI]; exists {
		c.mu.Unlock()
		return h, nil
	}
	c.mu.Unlock()

	spec, err := torrent.TorrentSpecFromMagnetUri(magnetURI)
	if err != nil {
		return nil, fmt.Errorf("parse magnet: %w", err)
	}
	spec.Storage = storage.NewFile(targetDir)

	// AddTorrentSpec with a timeout so a busy client never blocks the
	// caller indefinitely.
	type addResult struct {
		t   *torrent.Torrent
		err error
	}
	ch := make(chan addResult, 1)
	go func() {
		t, _, err := c.client.AddTorrentSpec(spec)
		ch <- addResult{t, err}
	}()

	var t *torrent.Torrent
	select {
	case res := <-ch:
		if res.err != nil {
			return nil, res.err
		}
		t = res.t
	case <-time.After(addSpecTimeout):
		go func() {
			if res := <-ch; res.t != nil {
				res.t.Drop()
			}
		}()
		return nil, errors.New("torrent client busy, try again later")
	case <-ctx.Done():
		go func() {
			if res := <-ch; res.t != nil {
				res.t.Drop()
			}
		}()
		return nil, ctx.Err()
	}

	h := newHandle(t, magnetURI, c.cfg.NoPeersTimeout, c.logger, func() {
		c.forget(magnetURI)
	}, c.reportFatal)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		// The handle's loop never started; drop the torrent directly.
		t.Drop()
		return nil, domain.ErrClientClosed
	}
	c.handles[magnetURI] = h
	c.mu.Unlock()

	go h.run()
	return h, nil
}

// Remove detaches from the swarm. Unknown magnets are a no-op: removal after
// a completed or failed transfer already cleaned up is expected.
func (c *Client) Remove(magnetURI string) error {
	c.mu.Lock()
	h := c.handles[magnetURI]
	delete(c.handles, magnetURI)
	c.mu.Unlock()

	if h != nil {
		h.Destroy()
	}
	return nil
}

// Errors delivers process-wide fatal client errors. On receipt the owner
// must tear this client down and build a new one.
func (c *Client) Errors() <-chan error {
	return c.errs
}

func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	handles := make([]*Handle, 0, len(c.handles))
	for _, h := range c.handles {
		handles = append(handles, h)
	}
	c.handles = make(map[string]*Handle)
	c.mu.Unlock()

	for _, h := range handles {
		h.Destroy()
	}

	errList := c.client.Close()
	// Return memory to the OS promptly after tearing down the client.
	freeOSMemory()
	if len(errList) > 0 {
		return errList[0]
	}
	return nil
}

func (c *Client) forget(magnetURI string) {
	c.mu.Lock()
	delete(c.handles, magnetURI)
	c.mu.Unlock()
	freeOSMemory()
}

// reportFatal pushes a client-level error to the supervisor without ever
// blocking the event loop that found it.
func (c *Client) reportFatal(err error) {
	select {
	case c.errs <- err:
	default:
	}
}

func freeOSMemory() {
	runtime.GC()
	debug.FreeOSMemory()
}
