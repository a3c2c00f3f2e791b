// Package interfaces defines the storage contract, the item model and the
// error taxonomy shared by every backend, separating them from the
// implementations in the storage packages.
//
// # Storage
//
// Storage: a collection of calendar objects or contact cards addressed by
// href, with etag based optimistic concurrency for Update and Delete and an
// optional buffered mode committed by Flush. Backends may additionally
// implement MetadataStorage and CollectionDeleter.
//
// Listing: a one-shot, forward-only cursor over one snapshot of the
// collection.
//
// # Items
//
// Item wraps the raw text of one VCALENDAR or VCARD. It exposes the UID,
// a memoized content hash that ignores volatile properties, and WithUID to
// derive a copy with a new identifier. SplitCollection and JoinCollection
// convert between a whole collection file and its items.
//
// # Errors
//
// Every failure is an *Error with a closed ErrorKind, or a *DavError for
// WebDAV responses missing required data. Both wrap their cause and match the
// exported sentinels with errors.Is:
//
//	if errors.Is(err, interfaces.ErrWrongEtag) {
//	    // reload and retry
//	}
//
// # Configuration
//
// FilesystemConfig, SingleFileConfig, HTTPStorageConfig, DavConfig and
// CaldavConfig carry the fully resolved parameters of each backend. They are
// the payload of discovery and creation and decode from both JSON and TOML.
package interfaces
