package dav

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/ruteri/pim-storage/interfaces"
)

// discoverer finds the collections of one account.
type discoverer struct {
	session     *Session
	ct          *collectionType
	srvResolver string
	log         *slog.Logger
}

func newDiscoverer(cfg interfaces.DavConfig, ct *collectionType, log *slog.Logger) (*discoverer, error) {
	if log == nil {
		log = slog.Default()
	}
	session, err := NewSession(cfg.URL, cfg.HTTPConfig, log)
	if err != nil {
		return nil, err
	}
	return &discoverer{session: session, ct: ct, srvResolver: cfg.SRVResolver, log: log}, nil
}

// serviceURL applies the SRV lookup, then the well-known URI. Failures fall
// back to the configured URL.
func (d *discoverer) serviceURL(ctx context.Context) *url.URL {
	base := d.session.base

	if d.srvResolver != "" {
		srvURL, err := srvBaseURL(ctx, d.srvResolver, d.ct.service, base)
		switch {
		case err != nil:
			d.log.Debug("SRV lookup failed", slog.String("host", base.Hostname()), "err", err)
		case srvURL != nil:
			d.log.Debug("Using SRV target", slog.String("url", srvURL.String()))
			base = srvURL
		}
	}

	wellKnown := base.ResolveReference(&url.URL{Path: d.ct.wellKnown})
	_, resp, err := d.session.client.Get(ctx, wellKnown.String())
	if err != nil {
		d.log.Debug("Well-known URI not usable, using configured URL",
			slog.String("url", wellKnown.String()),
			"err", err)
		return base
	}
	return resp.Request.URL
}

func (d *discoverer) principalURL(ctx context.Context) (*url.URL, error) {
	serviceURL := d.serviceURL(ctx)

	responses, err := d.session.propfind(ctx, serviceURL, "0", propfindPrincipal)
	if err != nil {
		return nil, err
	}
	for _, r := range responses {
		if r.CurrentUserPrincipal == "" {
			continue
		}
		return resolveHref(serviceURL, r.CurrentUserPrincipal)
	}
	return nil, &interfaces.DavError{Kind: interfaces.KindNoPrincipalURL, URL: serviceURL.String()}
}

// homeSetURL returns the configured URL when it has a path, otherwise the
// home set of the current user principal.
func (d *discoverer) homeSetURL(ctx context.Context) (*url.URL, error) {
	if d.session.base.Path != "/" {
		return d.session.base, nil
	}

	principal, err := d.principalURL(ctx)
	if err != nil {
		return nil, err
	}

	responses, err := d.session.propfind(ctx, principal, "0", propfindHomeSet(d.ct.homeSet.ns, d.ct.homeSet.name))
	if err != nil {
		return nil, err
	}
	for _, r := range responses {
		if href := d.ct.homeSetHref(r); href != "" {
			u, err := resolveHref(principal, href)
			if err != nil {
				return nil, err
			}
			if !strings.HasSuffix(u.Path, "/") {
				u.Path += "/"
			}
			return u, nil
		}
	}
	return nil, &interfaces.DavError{Kind: interfaces.KindNoHomesetURL, URL: principal.String()}
}

// checkCapability verifies the DAV header of the home set advertises the
// collection type.
func (d *discoverer) checkCapability(ctx context.Context, homeSet *url.URL) error {
	resp, err := d.session.request(ctx, http.MethodOptions, homeSet, "", nil)
	if err != nil {
		e := interfaces.DiscoveryNotPossible(fmt.Sprintf("OPTIONS %s failed", homeSet))
		e.Err = err
		return e
	}
	resp.Body.Close()

	for _, value := range resp.Header.Values("DAV") {
		for _, token := range strings.Split(value, ",") {
			if strings.TrimSpace(token) == d.ct.capability {
				return nil
			}
		}
	}
	return interfaces.DiscoveryNotPossible(fmt.Sprintf("%s does not advertise %s", homeSet, d.ct.capability))
}

// collections lists the collections below the home set.
func (d *discoverer) collections(ctx context.Context) ([]discovered, error) {
	homeSet, err := d.homeSetURL(ctx)
	if err != nil {
		return nil, err
	}
	if err := d.checkCapability(ctx, homeSet); err != nil {
		return nil, err
	}

	responses, err := d.session.propfind(ctx, homeSet, "1", propfindResourceType)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{}, len(responses))
	var found []discovered
	for _, r := range responses {
		if !d.ct.isCollection(r) {
			continue
		}
		u, err := resolveHref(homeSet, r.Href)
		if err != nil {
			continue
		}
		name := collectionName(u)
		if name == "" {
			continue
		}
		if _, dup := seen[u.String()]; dup {
			continue
		}
		seen[u.String()] = struct{}{}
		found = append(found, discovered{url: u.String(), collection: name})
	}

	d.log.Debug("Discovered collections",
		slog.String("homeset", homeSet.String()),
		slog.Int("count", len(found)))
	return found, nil
}

// mkcol creates the collection at u with an extended MKCOL.
func (d *discoverer) mkcol(ctx context.Context, u *url.URL) (string, error) {
	header := http.Header{}
	header.Set("Content-Type", "application/xml; charset=utf-8")

	resp, err := d.session.request(ctx, MethodMkcol, u, mkcolBody(d.ct.resourceType), header)
	if err != nil {
		return "", err
	}
	resp.Body.Close()
	return resp.Request.URL.String(), nil
}

type discovered struct {
	url        string
	collection string
}

func resolveHref(base *url.URL, href string) (*url.URL, error) {
	ref, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return nil, fmt.Errorf("invalid href %q: %w", href, err)
	}
	return base.ResolveReference(ref), nil
}

// collectionName is the last non-empty path segment.
func collectionName(u *url.URL) string {
	segments := strings.Split(u.Path, "/")
	for i := len(segments) - 1; i >= 0; i-- {
		if segments[i] != "" {
			return segments[i]
		}
	}
	return ""
}

func discoverDav(ctx context.Context, cfg interfaces.DavConfig, ct *collectionType, log *slog.Logger) ([]interfaces.DavConfig, error) {
	if cfg.Collection != nil {
		return nil, interfaces.BadDiscoveryConfig("collection argument must not be given when discovering collections")
	}

	d, err := newDiscoverer(cfg, ct, log)
	if err != nil {
		return nil, err
	}
	found, err := d.collections(ctx)
	if err != nil {
		return nil, err
	}

	configs := make([]interfaces.DavConfig, 0, len(found))
	for _, f := range found {
		c := cfg
		c.URL = f.url
		name := f.collection
		c.Collection = &name
		configs = append(configs, c)
	}
	return configs, nil
}

func createDav(ctx context.Context, cfg interfaces.DavConfig, ct *collectionType, log *slog.Logger) (interfaces.DavConfig, error) {
	d, err := newDiscoverer(cfg, ct, log)
	if err != nil {
		return interfaces.DavConfig{}, err
	}

	var name string
	var target *url.URL
	if cfg.Collection != nil {
		name = *cfg.Collection
		homeSet, err := d.homeSetURL(ctx)
		if err != nil {
			return interfaces.DavConfig{}, err
		}
		target = homeSet.ResolveReference(&url.URL{Path: name + "/"})
	} else {
		name = collectionName(d.session.base)
		if name == "" {
			return interfaces.DavConfig{}, interfaces.BadDiscoveryConfig(
				"the URL points to the server root and collection is unset; set collection to a name to create")
		}
		target = d.session.base
	}

	probe := cfg
	probe.Collection = nil
	if existing, err := discoverDav(ctx, probe, ct, log); err == nil {
		for _, c := range existing {
			if interfaces.CollectionName(c.Collection) == name {
				return c, nil
			}
		}
	}

	created, err := d.mkcol(ctx, target)
	if err != nil {
		return interfaces.DavConfig{}, fmt.Errorf("failed to create collection %s: %w", name, err)
	}

	d.log.Info("Created collection", slog.String("url", created), slog.String("collection", name))
	cfg.URL = created
	cfg.Collection = &name
	return cfg, nil
}

// DiscoverCarddav lists the address books reachable from cfg.URL.
func DiscoverCarddav(ctx context.Context, cfg interfaces.DavConfig, log *slog.Logger) ([]interfaces.DavConfig, error) {
	return discoverDav(ctx, cfg, carddavType, log)
}

// CreateCarddav returns the address book named by cfg, creating it if it
// does not exist.
func CreateCarddav(ctx context.Context, cfg interfaces.DavConfig, log *slog.Logger) (interfaces.DavConfig, error) {
	return createDav(ctx, cfg, carddavType, log)
}

// DiscoverCaldav lists the calendars reachable from cfg.URL. Filters are
// copied to every result.
func DiscoverCaldav(ctx context.Context, cfg interfaces.CaldavConfig, log *slog.Logger) ([]interfaces.CaldavConfig, error) {
	found, err := discoverDav(ctx, cfg.DavConfig, caldavType, log)
	if err != nil {
		return nil, err
	}
	configs := make([]interfaces.CaldavConfig, 0, len(found))
	for _, dc := range found {
		c := cfg
		c.DavConfig = dc
		configs = append(configs, c)
	}
	return configs, nil
}

// CreateCaldav returns the calendar named by cfg, creating it if it does
// not exist.
func CreateCaldav(ctx context.Context, cfg interfaces.CaldavConfig, log *slog.Logger) (interfaces.CaldavConfig, error) {
	dc, err := createDav(ctx, cfg.DavConfig, caldavType, log)
	if err != nil {
		return interfaces.CaldavConfig{}, err
	}
	cfg.DavConfig = dc
	return cfg, nil
}
