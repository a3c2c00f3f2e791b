package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/ruteri/pim-storage/interfaces"
	"github.com/ruteri/pim-storage/storage"
	"github.com/ruteri/pim-storage/storage/dav"
)

// Discoverer turns a base configuration into the configurations of the
// collections found or created under it.
type Discoverer struct {
	log *slog.Logger
}

func New(log *slog.Logger) *Discoverer {
	if log == nil {
		log = slog.Default()
	}
	return &Discoverer{log: log}
}

// Discover decodes configJSON for kind and returns a JSON array with one
// configuration per collection found.
func (d *Discoverer) Discover(ctx context.Context, kind interfaces.StorageKind, configJSON []byte) ([]byte, error) {
	cfg, err := decode(kind, configJSON)
	if err != nil {
		return nil, err
	}

	var found any
	switch c := cfg.(type) {
	case *interfaces.FilesystemConfig:
		found, err = storage.DiscoverFilesystem(*c)
	case *interfaces.SingleFileConfig:
		found, err = storage.DiscoverSingleFile(*c)
	case *interfaces.CaldavConfig:
		found, err = dav.DiscoverCaldav(ctx, *c, d.log)
	case *interfaces.DavConfig:
		found, err = dav.DiscoverCarddav(ctx, *c, d.log)
	default:
		return nil, interfaces.DiscoveryNotPossible(string(kind) + " storages have no collections to discover")
	}
	if err != nil {
		return nil, err
	}

	out, err := json.Marshal(found)
	if err != nil {
		return nil, fmt.Errorf("failed to encode discovered configs: %w", err)
	}
	// a nil slice encodes as null
	if string(out) == "null" {
		out = []byte("[]")
	}

	d.log.Debug("Discovered collections",
		slog.String("kind", string(kind)),
		slog.Int("bytes", len(out)))
	return out, nil
}

// Create decodes configJSON for kind, creates the collection it names and
// returns the configuration of the created collection.
func (d *Discoverer) Create(ctx context.Context, kind interfaces.StorageKind, configJSON []byte) ([]byte, error) {
	cfg, err := decode(kind, configJSON)
	if err != nil {
		return nil, err
	}

	var created any
	switch c := cfg.(type) {
	case *interfaces.FilesystemConfig:
		created, err = storage.CreateFilesystem(*c)
	case *interfaces.SingleFileConfig:
		created, err = storage.CreateSingleFile(*c)
	case *interfaces.CaldavConfig:
		created, err = dav.CreateCaldav(ctx, *c, d.log)
	case *interfaces.DavConfig:
		created, err = dav.CreateCarddav(ctx, *c, d.log)
	default:
		return nil, interfaces.DiscoveryNotPossible(string(kind) + " storages cannot create collections")
	}
	if err != nil {
		return nil, err
	}

	out, err := json.Marshal(created)
	if err != nil {
		return nil, fmt.Errorf("failed to encode created config: %w", err)
	}

	d.log.Info("Created collection", slog.String("kind", string(kind)))
	return out, nil
}

func decode(kind interfaces.StorageKind, configJSON []byte) (any, error) {
	cfg, err := storage.ConfigFor(kind)
	if err != nil {
		return nil, interfaces.BadDiscoveryConfig(err.Error())
	}
	if err := json.Unmarshal(configJSON, cfg); err != nil {
		return nil, interfaces.BadDiscoveryConfig(fmt.Sprintf("invalid %s configuration: %v", kind, err))
	}
	return cfg, nil
}
