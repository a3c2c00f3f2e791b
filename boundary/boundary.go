package boundary

import (
	"context"
	"log/slog"

	"github.com/puzpuzpuz/xsync/v3"
	"github.com/ruteri/pim-storage/discovery"
	"github.com/ruteri/pim-storage/interfaces"
	"github.com/ruteri/pim-storage/storage"
	"go.uber.org/atomic"
)

// Handle refers to an object owned by the caller until it is released.
// The zero Handle refers to nothing; as an error output it means success.
type Handle uint64

const NoHandle Handle = 0

// Boundary keeps every object handed out to the caller in a handle table.
// It is safe for concurrent use, although each storage handle must only be
// driven by one caller at a time.
type Boundary struct {
	objects    *xsync.MapOf[Handle, any]
	next       atomic.Uint64
	factory    *storage.StorageFactory
	discoverer *discovery.Discoverer
	log        *slog.Logger
}

// New creates an empty handle table. With instrument set, storages are
// wrapped with logging and metrics.
func New(log *slog.Logger, instrument bool) *Boundary {
	if log == nil {
		log = slog.Default()
	}
	return &Boundary{
		objects:    xsync.NewMapOf[Handle, any](),
		factory:    storage.NewStorageFactory(log, instrument),
		discoverer: discovery.New(log),
		log:        log,
	}
}

func (b *Boundary) put(v any) Handle {
	h := Handle(b.next.Inc())
	b.objects.Store(h, v)
	return h
}

// fail stores err and returns its handle, NoHandle for a nil error.
func (b *Boundary) fail(err error) Handle {
	if err == nil {
		return NoHandle
	}
	return b.put(err)
}

func lookup[T any](b *Boundary, h Handle) (T, error) {
	var zero T
	v, ok := b.objects.Load(h)
	if !ok {
		return zero, errInvalidHandle
	}
	t, ok := v.(T)
	if !ok {
		return zero, errInvalidHandle
	}
	return t, nil
}

// Release frees h. It reports false if h is unknown or already released.
func (b *Boundary) Release(h Handle) bool {
	_, ok := b.objects.LoadAndDelete(h)
	if !ok {
		b.log.Debug("Release of unknown handle", slog.Uint64("handle", uint64(h)))
	}
	return ok
}

// Live returns the number of unreleased handles.
func (b *Boundary) Live() int {
	return b.objects.Size()
}

// OpenStorage creates a storage from a JSON configuration.
func (b *Boundary) OpenStorage(kind string, configJSON []byte) (Handle, Handle) {
	k, ok := interfaces.ParseStorageKind(kind)
	if !ok {
		return NoHandle, b.fail(interfaces.BadCollectionConfig("unknown storage type "+kind, nil))
	}
	s, err := b.factory.StorageForJSON(k, configJSON)
	if err != nil {
		return NoHandle, b.fail(err)
	}
	return b.put(s), NoHandle
}

// Discover returns the JSON configurations of the collections found for a
// base configuration.
func (b *Boundary) Discover(ctx context.Context, kind string, configJSON []byte) (string, Handle) {
	out, err := b.discoverer.Discover(ctx, interfaces.StorageKind(kind), configJSON)
	if err != nil {
		return "", b.fail(err)
	}
	return string(out), NoHandle
}

// Create creates the collection named by configJSON and returns its JSON
// configuration.
func (b *Boundary) Create(ctx context.Context, kind string, configJSON []byte) (string, Handle) {
	out, err := b.discoverer.Create(ctx, interfaces.StorageKind(kind), configJSON)
	if err != nil {
		return "", b.fail(err)
	}
	return string(out), NoHandle
}

func (b *Boundary) ItemFromRaw(raw string) (Handle, Handle) {
	item, err := interfaces.ItemFromRaw(raw)
	if err != nil {
		return NoHandle, b.fail(err)
	}
	return b.put(item), NoHandle
}

func (b *Boundary) ItemRaw(h Handle) (string, Handle) {
	item, err := lookup[*interfaces.Item](b, h)
	if err != nil {
		return "", b.fail(err)
	}
	return item.Raw(), NoHandle
}

func (b *Boundary) ItemUID(h Handle) (string, Handle) {
	item, err := lookup[*interfaces.Item](b, h)
	if err != nil {
		return "", b.fail(err)
	}
	return item.UID(), NoHandle
}

func (b *Boundary) ItemHash(h Handle) (string, Handle) {
	item, err := lookup[*interfaces.Item](b, h)
	if err != nil {
		return "", b.fail(err)
	}
	hash, err := item.Hash()
	if err != nil {
		return "", b.fail(err)
	}
	return hash, NoHandle
}

// ItemWithUID returns a new item handle; h stays valid and unchanged.
func (b *Boundary) ItemWithUID(h Handle, uid string) (Handle, Handle) {
	item, err := lookup[*interfaces.Item](b, h)
	if err != nil {
		return NoHandle, b.fail(err)
	}
	return b.put(item.WithUID(uid)), NoHandle
}

func (b *Boundary) StorageList(ctx context.Context, h Handle) (Handle, Handle) {
	s, err := lookup[interfaces.Storage](b, h)
	if err != nil {
		return NoHandle, b.fail(err)
	}
	listing, err := s.List(ctx)
	if err != nil {
		return NoHandle, b.fail(err)
	}
	return b.put(listing), NoHandle
}

// ListingNext advances the listing cursor. It returns false once the
// listing is exhausted and for invalid handles.
func (b *Boundary) ListingNext(h Handle) bool {
	l, err := lookup[*interfaces.Listing](b, h)
	if err != nil {
		return false
	}
	return l.Next()
}

func (b *Boundary) ListingHref(h Handle) string {
	l, err := lookup[*interfaces.Listing](b, h)
	if err != nil {
		return ""
	}
	return l.Href()
}

func (b *Boundary) ListingEtag(h Handle) string {
	l, err := lookup[*interfaces.Listing](b, h)
	if err != nil {
		return ""
	}
	return l.Etag()
}

func (b *Boundary) StorageGet(ctx context.Context, h Handle, href string) (Handle, Handle) {
	s, err := lookup[interfaces.Storage](b, h)
	if err != nil {
		return NoHandle, b.fail(err)
	}
	res, err := s.Get(ctx, href)
	if err != nil {
		return NoHandle, b.fail(err)
	}
	return b.put(res), NoHandle
}

// GetResultItem returns a new handle for the fetched item, independent of
// the result handle.
func (b *Boundary) GetResultItem(h Handle) (Handle, Handle) {
	res, err := lookup[*interfaces.GetResult](b, h)
	if err != nil {
		return NoHandle, b.fail(err)
	}
	return b.put(res.Item), NoHandle
}

func (b *Boundary) GetResultEtag(h Handle) (string, Handle) {
	res, err := lookup[*interfaces.GetResult](b, h)
	if err != nil {
		return "", b.fail(err)
	}
	return res.Etag, NoHandle
}

func (b *Boundary) StorageUpload(ctx context.Context, h, item Handle) (Handle, Handle) {
	s, err := lookup[interfaces.Storage](b, h)
	if err != nil {
		return NoHandle, b.fail(err)
	}
	it, err := lookup[*interfaces.Item](b, item)
	if err != nil {
		return NoHandle, b.fail(err)
	}
	res, err := s.Upload(ctx, it)
	if err != nil {
		return NoHandle, b.fail(err)
	}
	return b.put(res), NoHandle
}

func (b *Boundary) UploadResultHref(h Handle) (string, Handle) {
	res, err := lookup[*interfaces.UploadResult](b, h)
	if err != nil {
		return "", b.fail(err)
	}
	return res.Href, NoHandle
}

func (b *Boundary) UploadResultEtag(h Handle) (string, Handle) {
	res, err := lookup[*interfaces.UploadResult](b, h)
	if err != nil {
		return "", b.fail(err)
	}
	return res.Etag, NoHandle
}

// StorageUpdate returns the new etag.
func (b *Boundary) StorageUpdate(ctx context.Context, h Handle, href string, item Handle, etag string) (string, Handle) {
	s, err := lookup[interfaces.Storage](b, h)
	if err != nil {
		return "", b.fail(err)
	}
	it, err := lookup[*interfaces.Item](b, item)
	if err != nil {
		return "", b.fail(err)
	}
	newEtag, err := s.Update(ctx, href, it, etag)
	if err != nil {
		return "", b.fail(err)
	}
	return newEtag, NoHandle
}

func (b *Boundary) StorageDelete(ctx context.Context, h Handle, href, etag string) Handle {
	s, err := lookup[interfaces.Storage](b, h)
	if err != nil {
		return b.fail(err)
	}
	return b.fail(s.Delete(ctx, href, etag))
}

func (b *Boundary) StorageBuffered(h Handle) Handle {
	s, err := lookup[interfaces.Storage](b, h)
	if err != nil {
		return b.fail(err)
	}
	s.Buffered()
	return NoHandle
}

func (b *Boundary) StorageFlush(ctx context.Context, h Handle) Handle {
	s, err := lookup[interfaces.Storage](b, h)
	if err != nil {
		return b.fail(err)
	}
	return b.fail(s.Flush(ctx))
}

// ErrorVariant returns the tag of an error handle, VariantInvalidHandle if
// h is not an error.
func (b *Boundary) ErrorVariant(h Handle) Variant {
	err, lerr := lookup[error](b, h)
	if lerr != nil {
		return VariantInvalidHandle
	}
	return variantOf(err)
}

// ErrorDisplay returns the message of an error handle.
func (b *Boundary) ErrorDisplay(h Handle) string {
	err, lerr := lookup[error](b, h)
	if lerr != nil {
		return lerr.Error()
	}
	return err.Error()
}

// ErrorDebug renders the error and its whole cause chain.
func (b *Boundary) ErrorDebug(h Handle) string {
	err, lerr := lookup[error](b, h)
	if lerr != nil {
		return debugString(lerr)
	}
	return debugString(err)
}

// ErrorCause describes the error wrapped by the one behind h. It reports
// false when there is none.
func (b *Boundary) ErrorCause(h Handle) (Cause, bool) {
	err, lerr := lookup[error](b, h)
	if lerr != nil {
		return Cause{}, false
	}
	cause := causeOf(err)
	if cause == nil {
		return Cause{}, false
	}
	return describeCause(cause), true
}
