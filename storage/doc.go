// Package storage implements the local and read-only backends of the
// interfaces.Storage contract, the factory that opens any backend from its
// configuration, and collection discovery for the local backends.
//
// # Backends
//
//   - FilesystemStorage: one file per item in a directory. Etags combine
//     the modification time in nanoseconds, the size and the inode, and
//     every write moves the modification time strictly forward so an etag
//     never repeats. Writes go through a temporary file and a rename. An
//     optional post hook is run with the path of every written file.
//   - SingleFileStorage: a whole collection in one .ics or .vcf file,
//     split into items by UID. Writes are rejected with MtimeMismatch when
//     another process changed the file since it was read.
//   - HTTPStorage: a read-only collection fetched with GET. UIDs are
//     replaced with the content hash unless keep_uids is set.
//
// CalDAV and CardDAV live in the dav subpackage.
//
// # Factory
//
// StorageFactory opens a backend from a kind and a configuration struct
// or its JSON encoding:
//
//	factory := storage.NewStorageFactory(logger, true)
//	s, err := factory.StorageForJSON(interfaces.KindFilesystem,
//		[]byte(`{"path": "/home/alice/.calendars/work", "fileext": ".ics"}`))
//
// With instrumentation enabled every backend is wrapped in an
// InstrumentedStorage that logs failed operations and records per-kind
// operation counters and latency histograms.
//
// # Discovery
//
// DiscoverFilesystem and DiscoverSingleFile enumerate the collections below
// a configured root. CreateFilesystem and CreateSingleFile create one.
package storage
