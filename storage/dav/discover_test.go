package dav

import (
	"context"
	"net"
	"net/url"
	"strconv"
	"testing"

	"github.com/miekg/dns"
	"github.com/ruteri/pim-storage/interfaces"
	"github.com/ruteri/pim-storage/storage/dav/davtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func populated(t *testing.T) *davtest.Server {
	srv := newServer(t)
	srv.AddCollection("/dav/user/work/", davtest.KindCalendar)
	srv.AddCollection("/dav/user/home/", davtest.KindCalendar)
	srv.AddCollection("/dav/user/contacts/", davtest.KindAddressbook)
	return srv
}

func TestDiscoverCaldav(t *testing.T) {
	srv := populated(t)

	configs, err := DiscoverCaldav(context.Background(), interfaces.CaldavConfig{
		DavConfig: interfaces.DavConfig{
			URL:        srv.URL,
			HTTPConfig: interfaces.HTTPConfig{Username: "user"},
		},
		ItemTypes: []string{"VEVENT"},
	}, testLogger())
	require.NoError(t, err)
	require.Len(t, configs, 2)

	assert.Equal(t, srv.URLFor("/dav/user/home/"), configs[0].URL)
	assert.Equal(t, "home", interfaces.CollectionName(configs[0].Collection))
	assert.Equal(t, srv.URLFor("/dav/user/work/"), configs[1].URL)
	assert.Equal(t, "work", interfaces.CollectionName(configs[1].Collection))
	assert.Equal(t, "user", configs[1].Username)
	assert.Equal(t, []string{"VEVENT"}, configs[1].ItemTypes)

	assert.Equal(t, []string{
		"GET /.well-known/caldav",
		"PROPFIND /",
		"PROPFIND /principals/user/",
		"OPTIONS /dav/user/",
		"PROPFIND /dav/user/",
	}, srv.Requests())
}

func TestDiscoverCarddav(t *testing.T) {
	srv := populated(t)
	srv.WellKnownTarget = "/"

	configs, err := DiscoverCarddav(context.Background(), interfaces.DavConfig{URL: srv.URL}, testLogger())
	require.NoError(t, err)
	require.Len(t, configs, 1)
	assert.Equal(t, "contacts", interfaces.CollectionName(configs[0].Collection))
}

func TestDiscoverWithHomeSetPath(t *testing.T) {
	srv := populated(t)

	configs, err := DiscoverCarddav(context.Background(), interfaces.DavConfig{URL: srv.URLFor("/dav/user/")}, testLogger())
	require.NoError(t, err)
	require.Len(t, configs, 1)
	assert.Equal(t, []string{"OPTIONS /dav/user/", "PROPFIND /dav/user/"}, srv.Requests())
}

func TestDiscoverWithoutPrincipalStops(t *testing.T) {
	srv := populated(t)
	srv.NoPrincipal = true

	_, err := DiscoverCaldav(context.Background(), interfaces.CaldavConfig{DavConfig: interfaces.DavConfig{URL: srv.URL}}, testLogger())
	assert.ErrorIs(t, err, interfaces.ErrNoPrincipalURL)
	assert.Equal(t, []string{"GET /.well-known/caldav", "PROPFIND /"}, srv.Requests())
}

func TestDiscoverErrors(t *testing.T) {
	name := "work"
	tests := []struct {
		name     string
		setup    func(*davtest.Server)
		cfg      func(*davtest.Server) interfaces.DavConfig
		expected error
	}{
		{
			name:     "no home set",
			setup:    func(s *davtest.Server) { s.NoHomeSet = true },
			cfg:      func(s *davtest.Server) interfaces.DavConfig { return interfaces.DavConfig{URL: s.URL} },
			expected: interfaces.ErrNoHomesetURL,
		},
		{
			name:     "capability missing",
			setup:    func(s *davtest.Server) { s.DAVHeader = "1, 2, 3" },
			cfg:      func(s *davtest.Server) interfaces.DavConfig { return interfaces.DavConfig{URL: s.URL} },
			expected: interfaces.ErrDiscoveryNotPossible,
		},
		{
			name:     "collection given",
			setup:    func(s *davtest.Server) {},
			cfg:      func(s *davtest.Server) interfaces.DavConfig { return interfaces.DavConfig{URL: s.URL, Collection: &name} },
			expected: interfaces.ErrBadDiscoveryConfig,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := populated(t)
			tt.setup(srv)
			_, err := DiscoverCarddav(context.Background(), tt.cfg(srv), testLogger())
			assert.ErrorIs(t, err, tt.expected)
		})
	}
}

func TestCreateCaldav(t *testing.T) {
	ctx := context.Background()
	srv := populated(t)

	name := "new"
	cfg, err := CreateCaldav(ctx, interfaces.CaldavConfig{DavConfig: interfaces.DavConfig{URL: srv.URL, Collection: &name}}, testLogger())
	require.NoError(t, err)
	assert.Equal(t, srv.URLFor("/dav/user/new/"), cfg.URL)
	assert.Equal(t, "new", interfaces.CollectionName(cfg.Collection))

	c, ok := srv.Collection("/dav/user/new/")
	require.True(t, ok)
	assert.Equal(t, davtest.KindCalendar, c.Kind)

	existing := "work"
	cfg, err = CreateCaldav(ctx, interfaces.CaldavConfig{DavConfig: interfaces.DavConfig{URL: srv.URL, Collection: &existing}}, testLogger())
	require.NoError(t, err)
	assert.Equal(t, srv.URLFor("/dav/user/work/"), cfg.URL)
	assert.NotContains(t, srv.Requests(), "MKCOL /dav/user/work/")
}

func TestCreateCarddavFromURL(t *testing.T) {
	srv := populated(t)

	cfg, err := CreateCarddav(context.Background(), interfaces.DavConfig{URL: srv.URLFor("/dav/user/friends/")}, testLogger())
	require.NoError(t, err)
	assert.Equal(t, "friends", interfaces.CollectionName(cfg.Collection))

	c, ok := srv.Collection("/dav/user/friends/")
	require.True(t, ok)
	assert.Equal(t, davtest.KindAddressbook, c.Kind)

	_, err = CreateCarddav(context.Background(), interfaces.DavConfig{URL: srv.URL}, testLogger())
	assert.ErrorIs(t, err, interfaces.ErrBadDiscoveryConfig)
}

func startDNS(t *testing.T, handler dns.HandlerFunc) string {
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)

	started := make(chan struct{})
	server := &dns.Server{PacketConn: pc, Handler: handler, NotifyStartedFunc: func() { close(started) }}
	go func() { _ = server.ActivateAndServe() }()
	<-started
	t.Cleanup(func() { _ = server.Shutdown() })

	return pc.LocalAddr().String()
}

func TestDiscoverThroughSRV(t *testing.T) {
	srv := populated(t)
	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	port, err := strconv.Atoi(u.Port())
	require.NoError(t, err)

	asked := make(chan string, 8)
	resolver := startDNS(t, func(w dns.ResponseWriter, r *dns.Msg) {
		q := r.Question[0]
		asked <- q.Name

		m := new(dns.Msg)
		m.SetReply(r)
		m.Answer = append(m.Answer,
			&dns.SRV{
				Hdr:      dns.RR_Header{Name: q.Name, Rrtype: dns.TypeSRV, Class: dns.ClassINET, Ttl: 60},
				Priority: 20,
				Port:     1,
				Target:   "backup.invalid.",
			},
			&dns.SRV{
				Hdr:      dns.RR_Header{Name: q.Name, Rrtype: dns.TypeSRV, Class: dns.ClassINET, Ttl: 60},
				Priority: 10,
				Port:     uint16(port),
				Target:   "127.0.0.1.",
			})
		_ = w.WriteMsg(m)
	})

	configs, err := DiscoverCaldav(context.Background(), interfaces.CaldavConfig{
		DavConfig: interfaces.DavConfig{URL: "http://calendar.invalid/", SRVResolver: resolver},
	}, testLogger())
	require.NoError(t, err)
	require.Len(t, configs, 2)
	assert.Equal(t, srv.URLFor("/dav/user/home/"), configs[0].URL)
	require.Len(t, asked, 1)
	assert.Equal(t, "_caldav._tcp.calendar.invalid.", <-asked)
}

func TestLookupSRVOrdering(t *testing.T) {
	resolver := startDNS(t, func(w dns.ResponseWriter, r *dns.Msg) {
		q := r.Question[0]
		m := new(dns.Msg)
		m.SetReply(r)
		for _, rec := range []struct {
			prio, weight uint16
			target       string
		}{{20, 0, "c."}, {10, 1, "b."}, {10, 5, "a."}} {
			m.Answer = append(m.Answer, &dns.SRV{
				Hdr:      dns.RR_Header{Name: q.Name, Rrtype: dns.TypeSRV, Class: dns.ClassINET, Ttl: 60},
				Priority: rec.prio,
				Weight:   rec.weight,
				Port:     443,
				Target:   rec.target,
			})
		}
		_ = w.WriteMsg(m)
	})

	targets, err := lookupSRV(context.Background(), resolver, "_caldavs._tcp.example.com")
	require.NoError(t, err)
	require.Len(t, targets, 3)
	assert.Equal(t, "a", targets[0].host)
	assert.Equal(t, "b", targets[1].host)
	assert.Equal(t, "c", targets[2].host)
}
