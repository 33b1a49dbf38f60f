package domain

import (
	"context"
	"iter"
)

// RecordRepository persists documents per collection plus the sync history
type RecordRepository interface {
	// Get returns ErrNotFound when no record exists under key
	Get(ctx context.Context, collection Collection, key string) (Document, error)
	// Put replaces the stored document under key
	Put(ctx context.Context, collection Collection, key string, doc Document) error
	DeleteBatch(ctx context.Context, collection Collection, keys []string) error
	// ListKeys returns every key of the network in the collection
	ListKeys(ctx context.Context, collection Collection, network Network) ([]string, error)
	// List returns every record of the collection; an empty network means all
	List(ctx context.Context, collection Collection, network Network) ([]Record, error)
	// FindByAdvertiser matches advertiserId with its exact stored type, so a
	// string id and its legacy numeric form are separate queries.
	FindByAdvertiser(ctx context.Context, collection Collection, network Network, advertiserID any) ([]Record, error)
	AppendSyncLog(ctx context.Context, log SyncLog) error
	// ListSyncLogs returns the newest entries first
	ListSyncLogs(ctx context.Context, network Network, limit int) ([]SyncLog, error)
}

// OfferContext is what the offer pass knows about the network's advertisers
type OfferContext struct {
	AdvertiserNames map[string]string
}

// NetworkAdapter fetches and maps one affiliate network's records.
//
// Missing credentials yield empty results and a nil error. When some units
// fail, the collected records are returned together with an error wrapping
// ErrPartialResult.
type NetworkAdapter interface {
	Network() Network
	FetchAdvertisers(ctx context.Context) ([]Advertiser, error)
	FetchOffers(ctx context.Context, oc OfferContext) ([]Offer, error)
	// FetchProducts yields product pages on demand. A yielded error marks a
	// failed unit; the sequence continues with the next one. Single use.
	FetchProducts(ctx context.Context) iter.Seq2[[]Product, error]
}

// ImageCache stores images content-addressed and returns their public URL
type ImageCache interface {
	Cache(ctx context.Context, sourceURL, folder string) (string, error)
	StoreBytes(ctx context.Context, data []byte, folder, contentType string) (string, error)
}

// ObjectStore is the backing store of the image cache
type ObjectStore interface {
	Exists(ctx context.Context, key string) (bool, error)
	Put(ctx context.Context, key string, data []byte, contentType string) error
	PublicURL(key string) string
}

// BrandLookup resolves a logo URL for a domain from a third-party service
type BrandLookup interface {
	LogoURL(ctx context.Context, domain string) (string, error)
}
