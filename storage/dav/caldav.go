package dav

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/emersion/go-ical"
	"github.com/ruteri/pim-storage/interfaces"
	"github.com/ruteri/pim-storage/transport"
)

const caldavTimeFormat = "20060102T150405Z"

var caldavItemTypes = []string{ical.CompEvent, ical.CompToDo, ical.CompJournal}

// CaldavStorage is a calendar on a CalDAV server, optionally restricted to
// some component types and a time range.
type CaldavStorage struct {
	*davStorage

	start, end *time.Time
	itemTypes  []string
}

// NewCaldavStorage connects to the calendar at cfg.URL. The date range
// needs both ends or neither. No request is made until the first operation.
func NewCaldavStorage(cfg interfaces.CaldavConfig, log *slog.Logger) (*CaldavStorage, error) {
	if (cfg.StartDate == nil) != (cfg.EndDate == nil) {
		return nil, interfaces.BadCollectionConfig("start_date and end_date must be given together", nil)
	}
	if cfg.StartDate != nil && cfg.EndDate.Before(*cfg.StartDate) {
		return nil, interfaces.BadCollectionConfig("end_date is before start_date", nil)
	}

	itemTypes := make([]string, 0, len(cfg.ItemTypes))
	for _, t := range cfg.ItemTypes {
		t = strings.ToUpper(t)
		if !slices.Contains(caldavItemTypes, t) {
			return nil, interfaces.BadCollectionConfig(fmt.Sprintf("unsupported item type %q", t), nil)
		}
		itemTypes = append(itemTypes, t)
	}

	base, err := newDavStorage(cfg.DavConfig, caldavType, log)
	if err != nil {
		return nil, err
	}
	return &CaldavStorage{
		davStorage: base,
		start:      cfg.StartDate,
		end:        cfg.EndDate,
		itemTypes:  itemTypes,
	}, nil
}

func (s *CaldavStorage) Kind() interfaces.StorageKind {
	return interfaces.KindCaldav
}

// queryTypes returns the component types to query for. A date range
// without explicit types covers events and to-dos.
func (s *CaldavStorage) queryTypes() []string {
	if len(s.itemTypes) == 0 && s.start != nil {
		return []string{ical.CompToDo, ical.CompEvent}
	}
	return s.itemTypes
}

func (s *CaldavStorage) filters() []string {
	timeRange := ""
	if s.start != nil {
		timeRange = fmt.Sprintf(`<C:time-range start="%s" end="%s"/>`,
			s.start.UTC().Format(caldavTimeFormat),
			s.end.UTC().Format(caldavTimeFormat))
	}

	types := s.queryTypes()
	filters := make([]string, 0, len(types))
	for _, t := range types {
		filters = append(filters, fmt.Sprintf(
			`<C:comp-filter name="VCALENDAR"><C:comp-filter name="%s">%s</C:comp-filter></C:comp-filter>`,
			t, timeRange))
	}
	return filters
}

// List uses PROPFIND when unfiltered and one calendar-query REPORT per
// component type otherwise. Servers that refuse the REPORT are filtered
// client side.
func (s *CaldavStorage) List(ctx context.Context) (*interfaces.Listing, error) {
	filters := s.filters()
	if len(filters) == 0 {
		entries, err := s.session.List(ctx, s.ct.mimetype)
		if err != nil {
			return nil, err
		}
		return interfaces.NewListing(entries), nil
	}

	var entries []interfaces.ListingEntry
	for _, filter := range filters {
		responses, err := s.session.report(ctx, s.session.base, calendarQuery(filter))
		if transport.HasStatus(err, http.StatusBadRequest, http.StatusForbidden, http.StatusMethodNotAllowed, http.StatusNotImplemented) {
			s.log.Warn("Server rejected calendar-query, filtering locally",
				slog.String("url", s.session.URL()),
				"err", err)
			return s.listFiltered(ctx)
		}
		if err != nil {
			return nil, err
		}
		entries = append(entries, s.session.listingEntries(responses, s.ct.mimetype)...)
	}
	return interfaces.NewListing(entries), nil
}

func (s *CaldavStorage) listFiltered(ctx context.Context) (*interfaces.Listing, error) {
	all, err := s.session.List(ctx, s.ct.mimetype)
	if err != nil {
		return nil, err
	}

	entries := make([]interfaces.ListingEntry, 0, len(all))
	for _, entry := range all {
		res, err := s.session.Get(ctx, entry.Href)
		if err != nil {
			return nil, err
		}
		ok, err := s.matches(res.Item)
		if err != nil {
			return nil, err
		}
		if ok {
			entries = append(entries, interfaces.ListingEntry{Href: entry.Href, Etag: res.Etag})
		}
	}
	return interfaces.NewListing(entries), nil
}

// matches applies the component type and time range filters to one item.
func (s *CaldavStorage) matches(item *interfaces.Item) (bool, error) {
	cal, err := ical.NewDecoder(strings.NewReader(item.Component().Encode())).Decode()
	if err != nil {
		return false, interfaces.ItemUnparseable(err)
	}

	types := s.queryTypes()
	for _, child := range cal.Children {
		if !slices.Contains(types, child.Name) {
			continue
		}
		if s.start == nil {
			return true, nil
		}
		in, err := s.inRange(child)
		if err != nil {
			return false, err
		}
		if in {
			return true, nil
		}
	}
	return false, nil
}

// inRange reports whether the component overlaps [start, end). Components
// without any date match every range.
func (s *CaldavStorage) inRange(comp *ical.Component) (bool, error) {
	from, err := propTime(comp, ical.PropDateTimeStart)
	if err != nil {
		return false, err
	}
	to, err := propTime(comp, ical.PropDateTimeEnd)
	if err != nil {
		return false, err
	}
	if to.IsZero() {
		if to, err = propTime(comp, ical.PropDue); err != nil {
			return false, err
		}
	}

	switch {
	case from.IsZero() && to.IsZero():
		return true, nil
	case from.IsZero():
		from = to
	case to.IsZero():
		to = from
	}
	return from.Before(*s.end) && !to.Before(*s.start), nil
}

// propTime reads a date or date-time property. A TZID that is not a known
// zone name, such as a Windows zone, is read as floating time.
func propTime(comp *ical.Component, name string) (time.Time, error) {
	prop := comp.Props.Get(name)
	if prop == nil {
		return time.Time{}, nil
	}
	t, err := prop.DateTime(time.UTC)
	if err != nil && prop.Params.Get(ical.ParamTimezoneID) != "" {
		floating := *prop
		floating.Params = make(ical.Params, len(prop.Params))
		for k, v := range prop.Params {
			if k != ical.ParamTimezoneID {
				floating.Params[k] = v
			}
		}
		t, err = floating.DateTime(time.UTC)
	}
	if err != nil {
		return time.Time{}, interfaces.ItemUnparseable(err)
	}
	return t, nil
}
