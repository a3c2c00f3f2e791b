package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ruteri/pim-storage/interfaces"
	"github.com/ruteri/pim-storage/metrics"
)

// InstrumentedStorage wraps a Storage, logging every call and recording
// per-operation metrics. Metadata and collection deletion are forwarded
// when the wrapped storage supports them.
type InstrumentedStorage struct {
	inner interfaces.Storage
	log   *slog.Logger
}

func NewInstrumentedStorage(inner interfaces.Storage, log *slog.Logger) *InstrumentedStorage {
	if log == nil {
		log = slog.Default()
	}
	return &InstrumentedStorage{
		inner: inner,
		log:   log.With(slog.String("storage", inner.Name())),
	}
}

// Unwrap returns the wrapped storage.
func (s *InstrumentedStorage) Unwrap() interfaces.Storage {
	return s.inner
}

func (s *InstrumentedStorage) observe(op, href string, start time.Time, err error) {
	metrics.RecordOperation(s.inner.Kind(), op, err, start)

	attrs := []any{
		slog.String("op", op),
		slog.Duration("duration", time.Since(start)),
	}
	if href != "" {
		attrs = append(attrs, slog.String("href", href))
	}
	if err != nil {
		s.log.Warn("Storage operation failed", append(attrs, "err", err)...)
		return
	}
	s.log.Debug("Storage operation", attrs...)
}

func (s *InstrumentedStorage) List(ctx context.Context) (*interfaces.Listing, error) {
	start := time.Now()
	listing, err := s.inner.List(ctx)
	s.observe("list", "", start, err)
	if err != nil {
		return nil, err
	}

	entries := listing.Collect()
	metrics.RecordListing(s.inner.Name(), len(entries))
	return interfaces.NewListing(entries), nil
}

func (s *InstrumentedStorage) Get(ctx context.Context, href string) (*interfaces.GetResult, error) {
	start := time.Now()
	res, err := s.inner.Get(ctx, href)
	s.observe("get", href, start, err)
	return res, err
}

func (s *InstrumentedStorage) Upload(ctx context.Context, item *interfaces.Item) (*interfaces.UploadResult, error) {
	start := time.Now()
	res, err := s.inner.Upload(ctx, item)
	href := ""
	if res != nil {
		href = res.Href
	}
	s.observe("upload", href, start, err)
	return res, err
}

func (s *InstrumentedStorage) Update(ctx context.Context, href string, item *interfaces.Item, etag string) (string, error) {
	start := time.Now()
	newEtag, err := s.inner.Update(ctx, href, item, etag)
	s.observe("update", href, start, err)
	return newEtag, err
}

func (s *InstrumentedStorage) Delete(ctx context.Context, href string, etag string) error {
	start := time.Now()
	err := s.inner.Delete(ctx, href, etag)
	s.observe("delete", href, start, err)
	return err
}

func (s *InstrumentedStorage) Buffered() {
	s.inner.Buffered()
}

func (s *InstrumentedStorage) Flush(ctx context.Context) error {
	start := time.Now()
	err := s.inner.Flush(ctx)
	s.observe("flush", "", start, err)
	return err
}

func (s *InstrumentedStorage) Kind() interfaces.StorageKind {
	return s.inner.Kind()
}

func (s *InstrumentedStorage) Name() string {
	return s.inner.Name()
}

func (s *InstrumentedStorage) GetMeta(ctx context.Context, key interfaces.MetaKey) (string, error) {
	ms, ok := s.inner.(interfaces.MetadataStorage)
	if !ok {
		return "", interfaces.MetadataUnsupported(key)
	}
	start := time.Now()
	value, err := ms.GetMeta(ctx, key)
	s.observe("get_meta", "", start, err)
	return value, err
}

func (s *InstrumentedStorage) SetMeta(ctx context.Context, key interfaces.MetaKey, value string) error {
	ms, ok := s.inner.(interfaces.MetadataStorage)
	if !ok {
		return interfaces.MetadataUnsupported(key)
	}
	start := time.Now()
	err := ms.SetMeta(ctx, key, value)
	s.observe("set_meta", "", start, err)
	return err
}

func (s *InstrumentedStorage) DeleteCollection(ctx context.Context) error {
	cd, ok := s.inner.(interfaces.CollectionDeleter)
	if !ok {
		return fmt.Errorf("%s: %w", s.inner.Kind(), errors.ErrUnsupported)
	}
	start := time.Now()
	err := cd.DeleteCollection(ctx)
	s.observe("delete_collection", "", start, err)
	return err
}
