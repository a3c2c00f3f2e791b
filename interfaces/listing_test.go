package interfaces

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestListing(t *testing.T) {
	l := NewListing([]ListingEntry{
		{Href: "a.ics", Etag: "1"},
		{Href: "b.ics", Etag: "2"},
		{Href: "a.ics", Etag: "3"},
	})

	assert.Equal(t, ListingEntry{}, l.Entry())

	assert.True(t, l.Next())
	assert.Equal(t, "a.ics", l.Href())
	assert.Equal(t, "1", l.Etag())

	assert.True(t, l.Next())
	assert.Equal(t, "b.ics", l.Href())

	assert.False(t, l.Next())
	assert.False(t, l.Next())
	assert.Equal(t, ListingEntry{}, l.Entry())
}

func TestListingCollect(t *testing.T) {
	l := NewListing([]ListingEntry{{Href: "x"}, {Href: "y"}})
	assert.True(t, l.Next())
	assert.Equal(t, []ListingEntry{{Href: "y"}}, l.Collect())
	assert.Empty(t, l.Collect())
}
