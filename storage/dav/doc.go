// Package dav implements the CalDAV and CardDAV storages.
//
// A Session is the conditional HTTP layer: GET with a mandatory ETag, PUT
// with If-Match or If-None-Match, DELETE with If-Match, and PROPFIND
// listings. Precondition failures map to interfaces.ErrWrongEtag or
// interfaces.ErrItemAlreadyExisting, missing resources to
// interfaces.ErrItemNotFound.
//
// Discovery follows RFC 6764 (optional SRV lookup, well-known URIs,
// current-user-principal, home set) and confirms the home set advertises
// calendar-access or addressbook in its DAV header before enumerating
// collections. Create reuses a discovered collection or issues an extended
// MKCOL.
//
// DAV storages apply every mutation immediately; Flush has nothing to do.
package dav
