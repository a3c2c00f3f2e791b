// Package main (cmd/pimstorage) works with the calendar and contact
// collections named in a TOML configuration file.
//
// Every [storages.<name>] table carries a type key (filesystem, singlefile,
// http, caldav or carddav) and the options of that backend, using the same
// key names as the discovery JSON:
//
//	[storages.personal]
//	type = "filesystem"
//	path = "/home/alice/.calendars/personal"
//	fileext = ".ics"
//
//	[storages.work]
//	type = "caldav"
//	url = "https://dav.example.com/"
//	username = "alice"
//	password = "secret"
//
// Item commands print tab separated href and etag pairs:
//
//	pimstorage --config pimstorage.toml list personal
//	pimstorage upload personal event.ics
//	pimstorage update personal standup.ics "<etag>" event.ics
//	pimstorage delete personal standup.ics "<etag>"
//
// discover and create print configurations as JSON. serve exposes one
// storage through the collection HTTP API, with request logging, metrics and
// optional pprof:
//
//	pimstorage serve --listen-addr 0.0.0.0:8080 --metrics-addr 127.0.0.1:8090 work
package main
