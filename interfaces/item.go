package interfaces

import (
	"crypto/sha256"
	"encoding/hex"
	"slices"
	"strings"
	"sync"

	"github.com/emersion/go-ical"
	"github.com/emersion/go-vcard"
	"github.com/ruteri/pim-storage/vobject"
)

// Properties that change without the item changing in a meaningful way.
// They are left out of the content hash.
var hashIgnoredProps = []string{
	"PRODID",
	"METHOD",
	"X-RADICALE-NAME",
	"X-WR-CALNAME",
	"REV",
	"LAST-MODIFIED",
	"CREATED",
	"DTSTAMP",
	"UID",
}

// Components that carry a UID of their own.
var uidComponents = []string{"VEVENT", "VTODO", "VJOURNAL", "VCARD"}

// Calendar components that make up an item.
var calendarObjects = []string{"VEVENT", "VTODO", "VJOURNAL"}

var calendarChildren = []string{"VEVENT", "VTODO", "VJOURNAL", "VTIMEZONE", "VFREEBUSY"}

// isCalendarChild reports whether a component may appear directly inside
// a VCALENDAR item.
func isCalendarChild(name string) bool {
	return slices.Contains(calendarChildren, name) || strings.HasPrefix(name, "X-")
}

var vcardVersions = []string{"2.1", "3.0", "4.0"}

// Item is one calendar object or contact card. It is immutable: WithUID
// returns a new Item and the hash is computed once on first use.
type Item struct {
	raw       string
	component *vobject.Component
	uid       string

	hashOnce sync.Once
	hash     string
	hashErr  error
}

// ItemFromRaw parses raw into an Item. The raw text is kept verbatim.
func ItemFromRaw(raw string) (*Item, error) {
	c, err := vobject.ParseComponent(raw)
	if err != nil {
		return nil, ItemUnparseable(err)
	}

	// The decoders only see the normalized encoding.
	normalized := c.Encode()

	switch c.Name {
	case "VCALENDAR":
		if v := strings.TrimSpace(c.Value("VERSION")); v != "" && v != "2.0" {
			return nil, UnexpectedVobjectVersion(v, "2.0")
		}
		for _, child := range c.Children {
			if !isCalendarChild(child.Name) {
				return nil, UnexpectedVobject(child.Name, strings.Join(calendarChildren, " | "))
			}
		}
		if _, err := ical.NewDecoder(strings.NewReader(normalized)).Decode(); err != nil {
			return nil, ItemUnparseable(err)
		}
	case "VCARD":
		if v := strings.TrimSpace(c.Value("VERSION")); v != "" && !slices.Contains(vcardVersions, v) {
			return nil, UnexpectedVobjectVersion(v, strings.Join(vcardVersions, " | "))
		}
		if _, err := vcard.NewDecoder(strings.NewReader(normalized)).Decode(); err != nil {
			return nil, ItemUnparseable(err)
		}
	default:
		return nil, UnsupportedVobject(c.Name)
	}

	return newItem(raw, c), nil
}

func newItem(raw string, c *vobject.Component) *Item {
	return &Item{
		raw:       raw,
		component: c,
		uid:       findUID(c),
	}
}

func findUID(c *vobject.Component) string {
	var uid string
	found := false
	c.Walk(func(comp *vobject.Component) {
		if found {
			return
		}
		if p := comp.Get("UID"); p != nil {
			uid = strings.TrimSpace(p.Value)
			found = true
		}
	})
	return uid
}

// Raw returns the text the item was created from.
func (i *Item) Raw() string {
	return i.raw
}

// UID returns the first UID found in the item, or "" if there is none.
func (i *Item) UID() string {
	return i.uid
}

// Name returns the top-level component name (VCALENDAR or VCARD).
func (i *Item) Name() string {
	return i.component.Name
}

// Component returns a copy of the parsed item.
func (i *Item) Component() *vobject.Component {
	return i.component.Clone()
}

// Hash returns a SHA-256 digest of the item content with volatile properties
// and timezone definitions stripped.
func (i *Item) Hash() (string, error) {
	i.hashOnce.Do(func() {
		i.hash, i.hashErr = hashComponent(i.component)
	})
	return i.hash, i.hashErr
}

// Ident returns the UID, or the hash for items without one. It is used to
// derive hrefs and to match items across storages.
func (i *Item) Ident() (string, error) {
	if i.uid != "" {
		return i.uid, nil
	}
	return i.Hash()
}

// WithUID returns a copy of the item with every UID replaced by uid. An empty
// uid removes the UID properties.
func (i *Item) WithUID(uid string) *Item {
	c := i.component.Clone()
	c.Walk(func(comp *vobject.Component) {
		if !slices.Contains(uidComponents, comp.Name) {
			return
		}
		if uid == "" {
			comp.Remove("UID")
		} else {
			comp.Set(vobject.NewProperty("UID", uid))
		}
	})
	return newItem(c.Encode(), c)
}

func hashComponent(c *vobject.Component) (string, error) {
	c = c.Clone()

	if c.Name == "VCALENDAR" {
		kept := c.Children[:0]
		hasItem := false
		for _, child := range c.Children {
			switch child.Name {
			case "VTIMEZONE":
				continue
			case "VEVENT", "VTODO", "VJOURNAL":
				hasItem = true
			}
			kept = append(kept, child)
		}
		if !hasItem {
			return "", UnexpectedVobject("VCALENDAR", "VCALENDAR with VEVENT | VTODO | VJOURNAL")
		}
		c.Children = kept
	}

	c.Walk(func(comp *vobject.Component) {
		for _, name := range hashIgnoredProps {
			comp.Remove(name)
		}
	})

	lines := make([]string, 0, len(c.Props))
	for _, line := range c.Lines() {
		if line = strings.TrimSpace(line); line != "" {
			lines = append(lines, line)
		}
	}
	slices.Sort(lines)

	sum := sha256.Sum256([]byte(strings.Join(lines, "\r\n")))
	return hex.EncodeToString(sum[:]), nil
}
