package interfaces

import (
	"context"
)

// StorageKind is the closed set of supported backends.
type StorageKind string

const (
	KindFilesystem StorageKind = "filesystem"
	KindSingleFile StorageKind = "singlefile"
	KindHTTP       StorageKind = "http"
	KindCaldav     StorageKind = "caldav"
	KindCarddav    StorageKind = "carddav"
)

// ParseStorageKind validates a storage type name.
func ParseStorageKind(s string) (StorageKind, bool) {
	switch k := StorageKind(s); k {
	case KindFilesystem, KindSingleFile, KindHTTP, KindCaldav, KindCarddav:
		return k, true
	default:
		return "", false
	}
}

// ListingEntry is one (href, etag) pair of a listing snapshot.
type ListingEntry struct {
	Href string `json:"href"`
	Etag string `json:"etag"`
}

// GetResult is an item together with the etag it had when fetched.
type GetResult struct {
	Item *Item
	Etag string
}

// UploadResult is the href and etag assigned to a newly created item.
type UploadResult struct {
	Href string `json:"href"`
	Etag string `json:"etag"`
}

// Storage is a collection of items with optimistic concurrency control.
// Implementations are not safe for concurrent use; callers serialize access
// to one instance.
type Storage interface {
	// List takes one snapshot of the collection.
	List(ctx context.Context) (*Listing, error)

	// Get returns the item stored at href and its current etag.
	Get(ctx context.Context, href string) (*GetResult, error)

	// Upload creates a new item. Fails with ErrItemAlreadyExisting if the
	// href derived from the item is taken.
	Upload(ctx context.Context, item *Item) (*UploadResult, error)

	// Update replaces the item at href if its etag still matches.
	Update(ctx context.Context, href string, item *Item, etag string) (string, error)

	// Delete removes the item at href if its etag still matches.
	Delete(ctx context.Context, href string, etag string) error

	// Buffered stages subsequent mutations until Flush.
	Buffered()

	// Flush commits staged mutations. No-op when not buffered.
	Flush(ctx context.Context) error

	// Kind returns the backend variant.
	Kind() StorageKind

	// Name returns identifier for logging.
	Name() string
}

// MetaKey names a collection property.
type MetaKey string

const (
	MetaDisplayName MetaKey = "displayname"
	MetaColor       MetaKey = "color"
)

// MetadataStorage is implemented by backends that keep collection metadata.
type MetadataStorage interface {
	GetMeta(ctx context.Context, key MetaKey) (string, error)
	SetMeta(ctx context.Context, key MetaKey, value string) error
}

// CollectionDeleter is implemented by backends that can remove the whole
// collection.
type CollectionDeleter interface {
	DeleteCollection(ctx context.Context) error
}
