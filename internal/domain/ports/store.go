package ports

import (
	"context"

	"mediaengine/internal/domain"
)

// Store is the catalog persistence boundary. Update operations merge and are
// best-effort: they return the merged in-memory record and never fail the
// caller on a persistence error (progress writes are telemetry; losing one
// must not abort a download).
type Store interface {
	GetDownload(ctx context.Context, id string) (domain.Download, error)
	ListPending(ctx context.Context) ([]domain.Download, error)
	GetItem(ctx context.Context, d domain.Download) (domain.Item, error)
	UpdateDownload(ctx context.Context, d domain.Download, patch domain.DownloadPatch) domain.Download
	UpdateItemDownload(ctx context.Context, item domain.Item, patch domain.ItemDownloadPatch) domain.Item
	DeleteDownload(ctx context.Context, id string) error
}
