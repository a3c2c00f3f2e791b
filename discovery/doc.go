// Package discovery is the JSON handshake used before a storage is opened.
//
// Callers pass a base configuration (a parent directory, a single-file path
// with a "%s" placeholder, or a CalDAV/CardDAV server URL with credentials)
// and get back the configurations of concrete collections, ready for
// storage.StorageFactory.StorageForJSON.
package discovery
