package mongo

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"mediaengine/internal/domain"
)

// Collection names match the catalog schema shared with the metadata source.
const (
	downloadsCollection = "Downloads"
	moviesCollection    = "Movies"
	episodesCollection  = "Episodes"
)

// Store adapts the three catalog collections. Update operations merge a
// patch into the stored document and are best-effort: a persistence failure
// is logged and the merged in-memory record returned, so a lost telemetry
// write never aborts a download.
type Store struct {
	downloads *mongo.Collection
	movies    *mongo.Collection
	episodes  *mongo.Collection
	logger    *slog.Logger
	now       func() time.Time
}

func NewStore(client *mongo.Client, dbName string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	db := client.Database(dbName)
	return &Store{
		downloads: db.Collection(downloadsCollection),
		movies:    db.Collection(moviesCollection),
		episodes:  db.Collection(episodesCollection),
		logger:    logger,
		now:       time.Now,
	}
}

func Connect(ctx context.Context, uri string, extra ...*options.ClientOptions) (*mongo.Client, error) {
	opts := append([]*options.ClientOptions{options.Client().ApplyURI(uri)}, extra...)
	return mongo.Connect(ctx, opts...)
}

func (s *Store) EnsureIndexes(ctx context.Context) error {
	if s == nil || s.downloads == nil {
		return nil
	}
	models := []mongo.IndexModel{
		{Keys: bson.D{{Key: "status", Value: 1}}},
		{Keys: bson.D{{Key: "updatedAt", Value: 1}}},
	}
	_, err := s.downloads.Indexes().CreateMany(ctx, models)
	return err
}

type downloadDoc struct {
	ID            string  `bson:"_id"`
	ItemType      string  `bson:"itemType"`
	Quality       string  `bson:"quality"`
	Type          string  `bson:"type"`
	Status        string  `bson:"status"`
	Progress      float64 `bson:"progress"`
	Speed         *int64  `bson:"speed"`
	TimeRemaining *int64  `bson:"timeRemaining"`
	NumPeers      *int    `bson:"numPeers"`
	UpdatedAt     int64   `bson:"updatedAt"`
}

type torrentRefDoc struct {
	Quality string `bson:"quality"`
	URL     string `bson:"url"`
	Seeds   int    `bson:"seeds"`
	Peers   int    `bson:"peers"`
	Size    int64  `bson:"size"`
}

type itemDownloadDoc struct {
	DownloadStatus   string `bson:"downloadStatus"`
	Downloading      bool   `bson:"downloading"`
	DownloadComplete bool   `bson:"downloadComplete"`
	DownloadedOn     int64  `bson:"downloadedOn"`
}

type itemDoc struct {
	ID       string          `bson:"_id"`
	Title    string          `bson:"title"`
	Torrents []torrentRefDoc `bson:"torrents"`
	Download itemDownloadDoc `bson:"download"`
}

func (s *Store) GetDownload(ctx context.Context, id string) (domain.Download, error) {
	var doc downloadDoc
	if err := s.downloads.FindOne(ctx, bson.M{"_id": id}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return domain.Download{}, domain.ErrNotFound
		}
		return domain.Download{}, err
	}
	return downloadFromDoc(doc), nil
}

// ListPending returns every download still occupying the queue, oldest
// update first so rehydration preserves the original ordering.
func (s *Store) ListPending(ctx context.Context) ([]domain.Download, error) {
	filter := bson.M{"status": bson.M{"$in": []string{
		string(domain.DownloadQueued),
		string(domain.DownloadConnecting),
		string(domain.DownloadDownloading),
	}}}
	opts := options.Find().SetSort(bson.D{{Key: "updatedAt", Value: 1}})

	cursor, err := s.downloads.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var docs []downloadDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, err
	}

	pending := make([]domain.Download, 0, len(docs))
	for _, doc := range docs {
		pending = append(pending, downloadFromDoc(doc))
	}
	return pending, nil
}

func (s *Store) GetItem(ctx context.Context, d domain.Download) (domain.Item, error) {
	collection, err := s.itemCollection(d.ItemType)
	if err != nil {
		return domain.Item{}, err
	}

	var doc itemDoc
	if err := collection.FindOne(ctx, bson.M{"_id": d.ID}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return domain.Item{}, domain.ErrNotFound
		}
		return domain.Item{}, err
	}
	return itemFromDoc(doc, d.ItemType), nil
}

// UpdateDownload merges patch into the stored download. The write always
// stamps updatedAt. Persistence errors are logged, never returned.
func (s *Store) UpdateDownload(ctx context.Context, d domain.Download, patch domain.DownloadPatch) domain.Download {
	merged := mergeDownload(d, patch)
	merged.UpdatedAt = s.now().UnixMilli()

	set := bson.M{"updatedAt": merged.UpdatedAt}
	if patch.Status != nil {
		set["status"] = string(*patch.Status)
	}
	if patch.Progress != nil {
		set["progress"] = *patch.Progress
	}
	if patch.Speed != nil {
		set["speed"] = *patch.Speed
	}
	if patch.TimeRemaining != nil {
		set["timeRemaining"] = *patch.TimeRemaining
	}
	if patch.NumPeers != nil {
		set["numPeers"] = *patch.NumPeers
	}

	if _, err := s.downloads.UpdateOne(ctx, bson.M{"_id": d.ID}, bson.M{"$set": set}); err != nil {
		s.logger.Warn("download update not persisted",
			slog.String("downloadId", d.ID),
			slog.String("error", err.Error()),
		)
	}
	return merged
}

// UpdateItemDownload merges patch into the item's download sub-document.
// Only download.* fields are touched; the catalog owns the rest of the
// record. Persistence errors are logged, never returned.
func (s *Store) UpdateItemDownload(ctx context.Context, item domain.Item, patch domain.ItemDownloadPatch) domain.Item {
	merged := mergeItemDownload(item, patch)

	set := bson.M{}
	if patch.DownloadStatus != nil {
		set["download.downloadStatus"] = string(*patch.DownloadStatus)
	}
	if patch.Downloading != nil {
		set["download.downloading"] = *patch.Downloading
	}
	if patch.DownloadComplete != nil {
		set["download.downloadComplete"] = *patch.DownloadComplete
	}
	if patch.DownloadedOn != nil {
		set["download.downloadedOn"] = *patch.DownloadedOn
	}
	if len(set) == 0 {
		return merged
	}

	collection, err := s.itemCollection(item.Type)
	if err != nil {
		s.logger.Warn("item update not persisted",
			slog.String("itemId", item.ID),
			slog.String("error", err.Error()),
		)
		return merged
	}

	if _, err := collection.UpdateOne(ctx, bson.M{"_id": item.ID}, bson.M{"$set": set}); err != nil {
		s.logger.Warn("item update not persisted",
			slog.String("itemId", item.ID),
			slog.String("error", err.Error()),
		)
	}
	return merged
}

func (s *Store) DeleteDownload(ctx context.Context, id string) error {
	res, err := s.downloads.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (s *Store) itemCollection(t domain.ItemType) (*mongo.Collection, error) {
	switch t {
	case domain.ItemMovie:
		return s.movies, nil
	case domain.ItemEpisode:
		return s.episodes, nil
	default:
		return nil, errors.New("unknown item type: " + string(t))
	}
}

func mergeDownload(d domain.Download, patch domain.DownloadPatch) domain.Download {
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
	return d
}

func mergeItemDownload(item domain.Item, patch domain.ItemDownloadPatch) domain.Item {
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
	return item
}

func downloadFromDoc(doc downloadDoc) domain.Download {
	return domain.Download{
		ID:            doc.ID,
		ItemType:      domain.ItemType(doc.ItemType),
		Quality:       doc.Quality,
		Type:          domain.DownloadType(doc.Type),
		Status:        domain.DownloadStatus(doc.Status),
		Progress:      doc.Progress,
		Speed:         doc.Speed,
		TimeRemaining: doc.TimeRemaining,
		NumPeers:      doc.NumPeers,
		UpdatedAt:     doc.UpdatedAt,
	}
}

func itemFromDoc(doc itemDoc, t domain.ItemType) domain.Item {
	torrents := make([]domain.TorrentRef, 0, len(doc.Torrents))
	for _, ref := range doc.Torrents {
		torrents = append(torrents, domain.TorrentRef{
			Quality: ref.Quality,
			URL:     ref.URL,
			Seeds:   ref.Seeds,
			Peers:   ref.Peers,
			Size:    ref.Size,
		})
	}
	return domain.Item{
		ID:       doc.ID,
		Type:     t,
		Title:    doc.Title,
		Torrents: torrents,
		Download: domain.ItemDownload{
			DownloadStatus:   domain.DownloadStatus(doc.Download.DownloadStatus),
			Downloading:      doc.Download.Downloading,
			DownloadComplete: doc.Download.DownloadComplete,
			DownloadedOn:     doc.Download.DownloadedOn,
		},
	}
}
