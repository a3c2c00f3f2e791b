/*
Package httpserver serves one storage as a collection over plain HTTP.

The server is meant for local use: exposing a filesystem or single-file
collection to tools that speak HTTP, including this module's own http
storage, which reads the joined document from /collection.

# Endpoints

  - GET /collection - all items joined into one iCalendar or vCard document
  - GET /items - JSON listing of {"href", "etag"} pairs
  - GET /items/{href} - one item, with its etag in the ETag header
  - PUT /items/{href} - create (If-None-Match: *) or replace (If-Match)
  - DELETE /items/{href} - remove, If-Match required
  - GET /livez, /readyz, /drain, /undrain - health and draining

Hrefs are path-escaped in the URL. Storage errors are mapped to status
codes: ItemNotFound to 404, WrongEtag, ItemAlreadyExisting and
MtimeMismatch to 412, ReadOnly to 403, unparseable items to 400.

Per-operation metrics are recorded when the storage is instrumented and
are served on the metrics address.
*/
package httpserver
