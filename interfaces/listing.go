package interfaces

// Listing is a one-shot, forward-only cursor over a listing snapshot.
//
//	for l.Next() {
//		e := l.Entry()
//	}
//
// Next keeps returning false once the entries are exhausted.
type Listing struct {
	entries []ListingEntry
	pos     int
}

// NewListing wraps a snapshot. Duplicate hrefs are dropped, keeping the
// first occurrence.
func NewListing(entries []ListingEntry) *Listing {
	seen := make(map[string]struct{}, len(entries))
	unique := make([]ListingEntry, 0, len(entries))
	for _, e := range entries {
		if _, ok := seen[e.Href]; ok {
			continue
		}
		seen[e.Href] = struct{}{}
		unique = append(unique, e)
	}
	return &Listing{entries: unique, pos: -1}
}

// Next advances the cursor.
func (l *Listing) Next() bool {
	if l.pos >= len(l.entries) {
		return false
	}
	l.pos++
	return l.pos < len(l.entries)
}

// Entry returns the entry under the cursor. Only valid after Next returned true.
func (l *Listing) Entry() ListingEntry {
	if l.pos < 0 || l.pos >= len(l.entries) {
		return ListingEntry{}
	}
	return l.entries[l.pos]
}

// Href returns the href under the cursor.
func (l *Listing) Href() string {
	return l.Entry().Href
}

// Etag returns the etag under the cursor.
func (l *Listing) Etag() string {
	return l.Entry().Etag
}

// Collect drains the remaining entries.
func (l *Listing) Collect() []ListingEntry {
	var out []ListingEntry
	for l.Next() {
		out = append(out, l.Entry())
	}
	return out
}
