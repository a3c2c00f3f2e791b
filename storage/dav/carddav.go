package dav

import (
	"context"
	"log/slog"

	"github.com/ruteri/pim-storage/interfaces"
)

// CarddavStorage is an address book on a CardDAV server.
type CarddavStorage struct {
	*davStorage
}

// NewCarddavStorage connects to the address book at cfg.URL. No request is
// made until the first operation.
func NewCarddavStorage(cfg interfaces.DavConfig, log *slog.Logger) (*CarddavStorage, error) {
	base, err := newDavStorage(cfg, carddavType, log)
	if err != nil {
		return nil, err
	}
	return &CarddavStorage{davStorage: base}, nil
}

func (s *CarddavStorage) Kind() interfaces.StorageKind {
	return interfaces.KindCarddav
}

func (s *CarddavStorage) List(ctx context.Context) (*interfaces.Listing, error) {
	entries, err := s.session.List(ctx, s.ct.mimetype)
	if err != nil {
		return nil, err
	}
	return interfaces.NewListing(entries), nil
}
