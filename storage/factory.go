package storage

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/ruteri/pim-storage/interfaces"
	"github.com/ruteri/pim-storage/storage/dav"
)

// StorageFactory creates storages from per-kind configurations.
type StorageFactory struct {
	log        *slog.Logger
	instrument bool
}

// NewStorageFactory creates a factory. With instrument set every storage
// it returns is wrapped in an InstrumentedStorage.
func NewStorageFactory(logger *slog.Logger, instrument bool) *StorageFactory {
	if logger == nil {
		logger = slog.Default()
	}
	return &StorageFactory{log: logger, instrument: instrument}
}

// ConfigFor returns a pointer to an empty configuration of the kind, ready
// to be decoded into.
func ConfigFor(kind interfaces.StorageKind) (any, error) {
	switch kind {
	case interfaces.KindFilesystem:
		return &interfaces.FilesystemConfig{}, nil
	case interfaces.KindSingleFile:
		return &interfaces.SingleFileConfig{}, nil
	case interfaces.KindHTTP:
		return &interfaces.HTTPStorageConfig{}, nil
	case interfaces.KindCaldav:
		return &interfaces.CaldavConfig{}, nil
	case interfaces.KindCarddav:
		return &interfaces.DavConfig{}, nil
	default:
		return nil, interfaces.BadCollectionConfig(fmt.Sprintf("unknown storage type %q", kind), nil)
	}
}

// DecodeConfig parses a JSON configuration of the kind.
func DecodeConfig(kind interfaces.StorageKind, data []byte) (any, error) {
	cfg, err := ConfigFor(kind)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, interfaces.BadCollectionConfig("invalid "+string(kind)+" configuration", err)
	}
	return cfg, nil
}

// StorageFor opens the storage described by cfg, a pointer returned by
// ConfigFor or DecodeConfig.
func (sf *StorageFactory) StorageFor(kind interfaces.StorageKind, cfg any) (interfaces.Storage, error) {
	s, err := sf.open(kind, cfg)
	if err != nil {
		return nil, err
	}

	sf.log.Debug("Created storage",
		slog.String("kind", string(kind)),
		slog.String("name", s.Name()))

	if sf.instrument {
		return NewInstrumentedStorage(s, sf.log), nil
	}
	return s, nil
}

func (sf *StorageFactory) open(kind interfaces.StorageKind, cfg any) (interfaces.Storage, error) {
	mismatch := interfaces.BadCollectionConfig(fmt.Sprintf("%T is not a %s configuration", cfg, kind), nil)

	switch kind {
	case interfaces.KindFilesystem:
		c, ok := cfg.(*interfaces.FilesystemConfig)
		if !ok {
			return nil, mismatch
		}
		return NewFilesystemStorage(*c, sf.log)
	case interfaces.KindSingleFile:
		c, ok := cfg.(*interfaces.SingleFileConfig)
		if !ok {
			return nil, mismatch
		}
		return NewSingleFileStorage(*c, sf.log)
	case interfaces.KindHTTP:
		c, ok := cfg.(*interfaces.HTTPStorageConfig)
		if !ok {
			return nil, mismatch
		}
		return NewHTTPStorage(*c, sf.log)
	case interfaces.KindCaldav:
		c, ok := cfg.(*interfaces.CaldavConfig)
		if !ok {
			return nil, mismatch
		}
		return dav.NewCaldavStorage(*c, sf.log)
	case interfaces.KindCarddav:
		c, ok := cfg.(*interfaces.DavConfig)
		if !ok {
			return nil, mismatch
		}
		return dav.NewCarddavStorage(*c, sf.log)
	default:
		return nil, interfaces.BadCollectionConfig(fmt.Sprintf("unknown storage type %q", kind), nil)
	}
}

// StorageForJSON decodes a JSON configuration and opens the storage.
func (sf *StorageFactory) StorageForJSON(kind interfaces.StorageKind, data []byte) (interfaces.Storage, error) {
	cfg, err := DecodeConfig(kind, data)
	if err != nil {
		return nil, err
	}
	return sf.StorageFor(kind, cfg)
}
