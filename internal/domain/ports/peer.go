package ports

import (
	"context"
	"io"

	"mediaengine/internal/domain"
)

// Client is the peer-to-peer boundary. Add joins a swarm and writes payload
// under targetDir; Remove detaches from the swarm (safe after done or
// noPeers). Errors delivers process-wide fatal errors: on receipt the
// supervisor tears the client down, builds a new one and re-drives the
// pending queue.
type Client interface {
	Add(ctx context.Context, magnetURI, targetDir string) (Handle, error)
	Remove(magnetURI string) error
	Errors() <-chan error
	Close() error
}

// Handle is one active swarm participation. Events terminates after a done,
// noPeers(dht) or error event, or after Destroy. Destroy is idempotent and
// guarantees no further events are emitted once it returns.
type Handle interface {
	Events() <-chan domain.TransferEvent
	ChosenFile() domain.FileRef
	NewReader(start, end int64) (io.ReadCloser, error)
	Destroy()
}
