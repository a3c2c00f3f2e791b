package interfaces

import (
	"slices"
	"strings"

	"github.com/ruteri/pim-storage/vobject"
)

// SplitCollection splits a whole calendar or address book into items.
//
// Calendar objects are grouped by UID into one VCALENDAR each, carrying the
// VTIMEZONE definitions they reference; METHOD is dropped. Cards are taken
// as is, either standalone or from a VADDRESSBOOK wrapper.
func SplitCollection(text string) ([]*Item, error) {
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}

	roots, err := vobject.Parse(text)
	if err != nil {
		return nil, ItemUnparseable(err)
	}

	var components []*vobject.Component
	for _, root := range roots {
		switch root.Name {
		case "VCALENDAR":
			split, err := splitCalendar(root)
			if err != nil {
				return nil, err
			}
			components = append(components, split...)
		case "VCARD":
			components = append(components, root)
		case "VADDRESSBOOK":
			for _, card := range root.Children {
				if card.Name != "VCARD" {
					return nil, UnexpectedVobject(card.Name, "VCARD")
				}
				components = append(components, card)
			}
		default:
			return nil, UnexpectedVobject(root.Name, "VCALENDAR | VCARD | VADDRESSBOOK")
		}
	}

	items := make([]*Item, 0, len(components))
	for _, c := range components {
		item, err := ItemFromRaw(c.Encode())
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, nil
}

func splitCalendar(cal *vobject.Component) ([]*vobject.Component, error) {
	cal = cal.Clone()
	cal.Remove("METHOD")

	timezones := map[string]*vobject.Component{}
	for _, child := range cal.Children {
		if child.Name == "VTIMEZONE" {
			if tzid := child.Value("TZID"); tzid != "" {
				timezones[tzid] = child
			}
		}
	}

	var (
		order []string
		byUID = map[string]*vobject.Component{}
		noUID []*vobject.Component

		// companions are children like VFREEBUSY that travel with the
		// object written next to them
		last    *vobject.Component
		pending []*vobject.Component
	)

	for _, obj := range cal.Children {
		switch {
		case obj.Name == "VTIMEZONE":
			continue
		case slices.Contains(calendarObjects, obj.Name):
		case isCalendarChild(obj.Name):
			if last != nil {
				last.Children = append(last.Children, obj)
			} else {
				pending = append(pending, obj)
			}
			continue
		default:
			return nil, UnexpectedVobject(obj.Name, strings.Join(calendarChildren, " | "))
		}

		uid := strings.TrimSpace(obj.Value("UID"))

		wrapper, ok := byUID[uid]
		if uid == "" || !ok {
			wrapper = (&vobject.Component{Name: cal.Name, Props: cal.Props}).Clone()
		}

		for _, p := range obj.Props {
			tzid, ok := p.Param("TZID")
			if !ok || hasTimezone(wrapper, tzid) {
				continue
			}
			if tz, ok := timezones[tzid]; ok {
				wrapper.Children = append(wrapper.Children, tz.Clone())
			}
		}
		wrapper.Children = append(wrapper.Children, pending...)
		wrapper.Children = append(wrapper.Children, obj)
		pending = nil
		last = wrapper

		switch {
		case uid == "":
			noUID = append(noUID, wrapper)
		case !ok:
			byUID[uid] = wrapper
			order = append(order, uid)
		}
	}

	out := make([]*vobject.Component, 0, len(order)+len(noUID))
	for _, uid := range order {
		out = append(out, byUID[uid])
	}
	return append(out, noUID...), nil
}

func hasTimezone(c *vobject.Component, tzid string) bool {
	for _, child := range c.Children {
		if child.Name == "VTIMEZONE" && child.Value("TZID") == tzid {
			return true
		}
	}
	return false
}

// JoinCollection serializes items as one collection. Calendars are merged
// into a single VCALENDAR, cards are wrapped in a VADDRESSBOOK.
func JoinCollection(items []*Item) (string, error) {
	if len(items) == 0 {
		return "", nil
	}

	itemName := items[0].Name()
	var wrapperName string
	switch itemName {
	case "VCARD":
		wrapperName = "VADDRESSBOOK"
	case "VCALENDAR":
		wrapperName = "VCALENDAR"
	default:
		return "", UnexpectedVobject(itemName, "VCARD | VCALENDAR")
	}

	wrapper := vobject.NewComponent(wrapperName)
	var version *vobject.Property
	seen := map[string]bool{}

	for _, item := range items {
		c := item.Component()
		if c.Name != itemName {
			return "", UnexpectedVobject(c.Name, itemName)
		}
		if itemName != wrapperName {
			wrapper.Children = append(wrapper.Children, c)
			continue
		}

		// wrapper properties are kept once each, in order of appearance
		for _, p := range c.Props {
			if p.Name == "VERSION" {
				if version != nil && version.Value != p.Value {
					return "", UnexpectedVobjectVersion(p.Value, version.Value)
				}
				version = p
			}
			if line := p.String(); !seen[line] {
				seen[line] = true
				wrapper.Props = append(wrapper.Props, p)
			}
		}
		// companions go after the objects so splitting attaches them to
		// this item again
		var companions []*vobject.Component
		for _, child := range c.Children {
			switch {
			case child.Name == "VTIMEZONE":
				if !hasTimezone(wrapper, child.Value("TZID")) {
					wrapper.Children = append(wrapper.Children, child)
				}
			case slices.Contains(calendarObjects, child.Name):
				wrapper.Children = append(wrapper.Children, child)
			default:
				companions = append(companions, child)
			}
		}
		wrapper.Children = append(wrapper.Children, companions...)
	}

	return wrapper.Encode(), nil
}
