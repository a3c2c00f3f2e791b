// Package transport is the HTTP client shared by the http, CalDAV and
// CardDAV storages. It applies basic authentication, the user agent, the TLS
// verification policy and client certificates of an interfaces.HTTPConfig.
package transport
