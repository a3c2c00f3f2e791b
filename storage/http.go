package storage

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"

	"github.com/ruteri/pim-storage/interfaces"
	"github.com/ruteri/pim-storage/transport"
)

// HTTPStorage is a read-only collection published as one iCalendar or vCard
// document at a URL, such as a shared calendar feed.
//
// The document is fetched and split on List. Items are keyed by ident and
// their etag is the content hash. Unless KeepUIDs is set every UID is
// replaced by the item hash, so that feeds which regenerate UIDs on each
// request still produce stable hrefs.
type HTTPStorage struct {
	url      string
	keepUIDs bool
	client   *transport.Client
	log      *slog.Logger

	items map[string]*cachedItem
}

// NewHTTPStorage validates the URL and prepares the HTTP client.
func NewHTTPStorage(cfg interfaces.HTTPStorageConfig, log *slog.Logger) (*HTTPStorage, error) {
	if log == nil {
		log = slog.Default()
	}

	u, err := url.Parse(cfg.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, interfaces.BadCollectionConfig(fmt.Sprintf("invalid url %q", cfg.URL), err)
	}

	client, err := transport.New(cfg.HTTPConfig, log)
	if err != nil {
		return nil, err
	}

	return &HTTPStorage{
		url:      cfg.URL,
		keepUIDs: cfg.KeepUIDs,
		client:   client,
		log:      log,
	}, nil
}

func (s *HTTPStorage) Kind() interfaces.StorageKind {
	return interfaces.KindHTTP
}

func (s *HTTPStorage) Name() string {
	return "http-" + s.url
}

func (s *HTTPStorage) List(ctx context.Context) (*interfaces.Listing, error) {
	body, _, err := s.client.Get(ctx, s.url)
	if err != nil {
		return nil, err
	}

	split, err := interfaces.SplitCollection(string(body))
	if err != nil {
		return nil, err
	}

	items := make(map[string]*cachedItem, len(split))
	entries := make([]interfaces.ListingEntry, 0, len(split))
	for _, item := range split {
		if !s.keepUIDs {
			hash, err := item.Hash()
			if err != nil {
				return nil, err
			}
			item = item.WithUID(hash)
		}

		hash, err := item.Hash()
		if err != nil {
			return nil, err
		}
		ident, err := item.Ident()
		if err != nil {
			return nil, err
		}
		items[ident] = &cachedItem{item: item, hash: hash}
		entries = append(entries, interfaces.ListingEntry{Href: ident, Etag: hash})
	}
	s.items = items

	s.log.Debug("Fetched collection",
		slog.String("url", s.url),
		slog.Int("items", len(items)))
	return interfaces.NewListing(entries), nil
}

// Get serves items from the last listing, fetching one if none was taken.
func (s *HTTPStorage) Get(ctx context.Context, href string) (*interfaces.GetResult, error) {
	if s.items == nil {
		if _, err := s.List(ctx); err != nil {
			return nil, err
		}
	}
	c, ok := s.items[href]
	if !ok {
		return nil, interfaces.ItemNotFound(href)
	}
	return &interfaces.GetResult{Item: c.item, Etag: c.hash}, nil
}

func (s *HTTPStorage) Upload(ctx context.Context, item *interfaces.Item) (*interfaces.UploadResult, error) {
	return nil, interfaces.ReadOnly()
}

func (s *HTTPStorage) Update(ctx context.Context, href string, item *interfaces.Item, etag string) (string, error) {
	return "", interfaces.ReadOnly()
}

func (s *HTTPStorage) Delete(ctx context.Context, href string, etag string) error {
	return interfaces.ReadOnly()
}

func (s *HTTPStorage) Buffered() {}

func (s *HTTPStorage) Flush(ctx context.Context) error {
	return nil
}
