package geoip

import (
	"errors"
	"net/netip"
	"os"
	"path/filepath"
	"reflect"
	"sync"
	"testing"

	"github.com/CVDpl/go-live-geoip/internal/common"
	"github.com/CVDpl/go-live-geoip/internal/testdb"
	"github.com/CVDpl/go-live-geoip/pkg/geoip/decoder"
	"github.com/CVDpl/go-live-geoip/pkg/geoip/utils"
)

func cityDB(t *testing.T, ipVersion, recordSize uint16) *testdb.Database {
	t.Helper()
	b := testdb.New(ipVersion, recordSize)
	b.DatabaseType = "Test-City"
	b.Description = testdb.Map{{"en", "City test data"}}

	germany := b.Data().MustAppend(testdb.Map{
		{"iso_code", "DE"},
		{"names", testdb.Map{{"de", "Deutschland"}, {"en", "Germany"}}},
	})
	b.MustInsert("81.2.0.0/16", testdb.Map{{"country", testdb.Pointer(germany)}})
	b.MustInsert("81.2.69.0/24", testdb.Map{
		{"city", testdb.Map{{"names", testdb.Map{{"en", "Berlin"}}}}},
		{"country", testdb.Pointer(germany)},
		{"location", testdb.Map{{"latitude", 52.52}, {"longitude", 13.40}}},
		{"subdivisions", testdb.Array{testdb.Map{{"iso_code", "BE"}}}},
	})
	if ipVersion == common.IPv6 {
		b.MustInsert("2001:db8::/32", testdb.Map{{"country", testdb.Pointer(germany)}})
	}
	return b.MustBuild()
}

func writeDB(t *testing.T, db *testdb.Database) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.mmdb")
	if err := os.WriteFile(path, db.Bytes, 0o644); err != nil {
		t.Fatalf("write database: %v", err)
	}
	return path
}

func quietOptions() *Options {
	opts := DefaultOptions()
	opts.Logger = common.NewNullLogger()
	return opts
}

func TestOpenModes(t *testing.T) {
	path := writeDB(t, cityDB(t, common.IPv6, 28))

	for _, mode := range []Mode{ModeMmap, ModeMemory} {
		t.Run(mode.String(), func(t *testing.T) {
			opts := quietOptions()
			opts.Mode = mode
			r, err := Open(path, opts)
			if err != nil {
				t.Fatalf("Open: %v", err)
			}
			defer r.Close()

			if r.Mode() != mode {
				t.Errorf("mode = %s, want %s", r.Mode(), mode)
			}
			if got := r.Metadata().DatabaseType; got != "Test-City" {
				t.Errorf("database_type = %q", got)
			}
			if got := r.Metadata().Description["en"]; got != "City test data" {
				t.Errorf("description = %q", got)
			}

			res, err := r.LookupString("81.2.69.160")
			if err != nil {
				t.Fatalf("lookup: %v", err)
			}
			if !res.Found || res.Network.String() != "81.2.69.0/24" || res.PrefixLen != 120 {
				t.Fatalf("unexpected result %+v", res)
			}
			v, found, err := res.Entry.Get(decoder.Key("country"), decoder.Key("names"), decoder.Key("en"))
			if err != nil || !found || v.Text() != "Germany" {
				t.Errorf("country name = %q found=%v err=%v", v.Text(), found, err)
			}
		})
	}
}

func TestOpenErrors(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "missing.mmdb"), quietOptions())
	if !errors.Is(err, ErrFileOpen) {
		t.Errorf("missing file: got %v", err)
	}

	empty := filepath.Join(t.TempDir(), "empty.mmdb")
	if err := os.WriteFile(empty, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	_, err = Open(empty, quietOptions())
	if !errors.Is(err, ErrInvalidDatabase) {
		t.Errorf("empty file: got %v", err)
	}

	opts := quietOptions()
	opts.Mode = Mode(7)
	_, err = Open(empty, opts)
	if !errors.Is(err, ErrFileOpen) {
		t.Errorf("bad mode: got %v", err)
	}
}

func TestLookupIPv4Database(t *testing.T) {
	r, err := FromBytes(cityDB(t, common.IPv4, 24).Bytes, quietOptions())
	if err != nil {
		t.Fatalf("FromBytes: %v", err)
	}
	defer r.Close()

	if r.Mode() != ModeMemory {
		t.Errorf("mode = %s", r.Mode())
	}

	cases := []struct {
		ip        string
		found     bool
		prefixLen int
		network   string
	}{
		{"81.2.69.160", true, 24, "81.2.69.0/24"},
		// the /16 leaf is split where the /24 was carved out
		{"81.2.1.1", true, 18, "81.2.0.0/18"},
		{"::ffff:81.2.69.1", true, 24, "81.2.69.0/24"},
		{"8.8.8.8", false, 2, "0.0.0.0/2"},
	}
	for _, tc := range cases {
		res, err := r.LookupString(tc.ip)
		if err != nil {
			t.Fatalf("%s: %v", tc.ip, err)
		}
		if res.Found != tc.found || res.PrefixLen != tc.prefixLen || res.Network.String() != tc.network {
			t.Errorf("%s: got found=%v len=%d net=%s", tc.ip, res.Found, res.PrefixLen, res.Network)
		}
		if res.Entry.Valid() != tc.found {
			t.Errorf("%s: entry valid=%v", tc.ip, res.Entry.Valid())
		}
	}

	if _, err := r.LookupString("2001:db8::1"); !errors.Is(err, ErrAddressFamily) {
		t.Errorf("IPv6 in IPv4 database: got %v", err)
	}
	if _, err := r.LookupString("not an ip"); !errors.Is(err, ErrInvalidAddress) {
		t.Errorf("bad address: got %v", err)
	}
	if _, err := r.Lookup(netip.Addr{}); !errors.Is(err, ErrInvalidAddress) {
		t.Errorf("zero address: got %v", err)
	}
	if _, err := r.LookupBytes([]byte{1, 2, 3}); !errors.Is(err, ErrInvalidAddress) {
		t.Errorf("3-byte address: got %v", err)
	}
}

func TestLookupIPv6Database(t *testing.T) {
	r, err := FromBytes(cityDB(t, common.IPv6, 32).Bytes, quietOptions())
	if err != nil {
		t.Fatalf("FromBytes: %v", err)
	}
	defer r.Close()

	res, err := r.LookupString("2001:db8:abcd::1")
	if err != nil {
		t.Fatal(err)
	}
	if !res.Found || res.PrefixLen != 32 || res.Network.String() != "2001:db8::/32" {
		t.Errorf("unexpected result %+v", res)
	}

	// raw 4-byte lookups report bits in the tree's width
	raw, err := r.LookupBytes([]byte{81, 2, 69, 1})
	if err != nil {
		t.Fatal(err)
	}
	if raw.PrefixLen != 120 {
		t.Errorf("raw prefix len = %d, want 120", raw.PrefixLen)
	}

	res, err = r.LookupString("81.2.69.1")
	if err != nil {
		t.Fatal(err)
	}
	if res.Network.String() != "81.2.69.0/24" || res.Entry.Offset != raw.Entry.Offset {
		t.Errorf("IPv4 lookup %+v does not match raw %+v", res, raw)
	}

	res, err = r.LookupString("ff00::1")
	if err != nil {
		t.Fatal(err)
	}
	if res.Found || res.Entry.Valid() {
		t.Errorf("expected no match, got %+v", res)
	}
}

func TestEntryAccess(t *testing.T) {
	r, err := FromBytes(cityDB(t, common.IPv6, 24).Bytes, quietOptions())
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	res, err := r.LookupString("81.2.69.1")
	if err != nil || !res.Found {
		t.Fatalf("lookup: %+v %v", res, err)
	}
	e := res.Entry

	v, err := e.Value()
	if err != nil || v.Kind != decoder.KindMap || v.Size != 4 {
		t.Errorf("Value = %+v, %v", v, err)
	}

	v, found, err := e.Get(decoder.Key("subdivisions"), decoder.Index(0), decoder.Key("iso_code"))
	if err != nil || !found || v.Text() != "BE" {
		t.Errorf("subdivision = %q found=%v err=%v", v.Text(), found, err)
	}

	_, found, err = e.Get(decoder.Key("postal"))
	if err != nil || found {
		t.Errorf("missing key: found=%v err=%v", found, err)
	}

	_, _, err = e.Get(decoder.Index(0))
	if !errors.Is(err, ErrInvalidData) {
		t.Errorf("index into map: got %v", err)
	}
	if r.Stats().DecodeErrors != 1 {
		t.Errorf("decode errors = %d, want 1", r.Stats().DecodeErrors)
	}

	got, err := e.Decode()
	if err != nil {
		t.Fatal(err)
	}
	want := map[string]any{
		"city": map[string]any{"names": map[string]any{"en": "Berlin"}},
		"country": map[string]any{
			"iso_code": "DE",
			"names":    map[string]any{"de": "Deutschland", "en": "Germany"},
		},
		"location":     map[string]any{"latitude": 52.52, "longitude": 13.40},
		"subdivisions": []any{map[string]any{"iso_code": "BE"}},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Decode = %#v", got)
	}

	again := r.EntryAt(e.Offset)
	nodes, err := again.Materialize()
	if err != nil {
		t.Fatal(err)
	}
	if nodes[0].Offset != e.Offset || nodes[0].Kind != decoder.KindMap {
		t.Errorf("first node = %+v", nodes[0])
	}

	var detached Entry
	if _, err := detached.Value(); !errors.Is(err, ErrInvalidData) {
		t.Errorf("detached entry: got %v", err)
	}
	if _, err := r.EntryAt(1 << 30).Value(); !errors.Is(err, ErrInvalidData) {
		t.Errorf("offset past data: got %v", err)
	}
}

func TestRecordCache(t *testing.T) {
	opts := quietOptions()
	opts.CacheSize = 8
	r, err := FromBytes(cityDB(t, common.IPv6, 28).Bytes, opts)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	res, err := r.LookupString("81.2.69.1")
	if err != nil {
		t.Fatal(err)
	}

	first, err := res.Entry.Materialize()
	if err != nil {
		t.Fatal(err)
	}
	second, err := res.Entry.Materialize()
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Error("cached record differs from decoded record")
	}

	// caller copies are independent of the cached one
	first[0].Size = 99
	third, _ := res.Entry.Materialize()
	if third[0].Size != 4 {
		t.Errorf("cache entry was modified through a returned slice")
	}

	s := r.Stats()
	if s.CacheMisses != 1 || s.CacheHits != 2 {
		t.Errorf("cache hits=%d misses=%d", s.CacheHits, s.CacheMisses)
	}
	if r.cache.len() != 1 {
		t.Errorf("cache len = %d", r.cache.len())
	}
}

func TestExpectedBLAKE3(t *testing.T) {
	db := cityDB(t, common.IPv4, 28)
	digest := utils.ComputeBLAKE3(db.Bytes)

	opts := quietOptions()
	opts.ExpectedBLAKE3 = digest
	r, err := FromBytes(db.Bytes, opts)
	if err != nil {
		t.Fatalf("matching digest: %v", err)
	}
	got, err := r.Digest()
	if err != nil || got != digest {
		t.Errorf("Digest = %s, %v", got, err)
	}
	r.Close()

	opts.ExpectedBLAKE3 = "00" + digest[2:]
	if digest[:2] == "00" {
		opts.ExpectedBLAKE3 = "ff" + digest[2:]
	}
	if _, err := FromBytes(db.Bytes, opts); !errors.Is(err, ErrCorruptDatabase) {
		t.Errorf("mismatched digest: got %v", err)
	}
}

func TestClose(t *testing.T) {
	path := writeDB(t, cityDB(t, common.IPv4, 24))
	r, err := Open(path, quietOptions())
	if err != nil {
		t.Fatal(err)
	}
	res, err := r.LookupString("81.2.69.1")
	if err != nil {
		t.Fatal(err)
	}

	if err := r.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := r.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}

	if _, err := r.LookupString("81.2.69.1"); !errors.Is(err, ErrClosed) {
		t.Errorf("lookup after close: got %v", err)
	}
	if _, _, err := res.Entry.Get(decoder.Key("city")); !errors.Is(err, ErrClosed) {
		t.Errorf("resolve after close: got %v", err)
	}
	if _, err := res.Entry.Materialize(); !errors.Is(err, ErrClosed) {
		t.Errorf("materialize after close: got %v", err)
	}
	if _, err := r.Digest(); !errors.Is(err, ErrClosed) {
		t.Errorf("digest after close: got %v", err)
	}
}

func TestConcurrentLookups(t *testing.T) {
	opts := quietOptions()
	opts.CacheSize = 2
	r, err := FromBytes(cityDB(t, common.IPv6, 28).Bytes, opts)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	ips := []string{"81.2.69.1", "81.2.3.4", "2001:db8::5", "10.0.0.1", "::"}
	want := make([]any, len(ips))
	for i, ip := range ips {
		res, err := r.LookupString(ip)
		if err != nil {
			t.Fatal(err)
		}
		if res.Found {
			if want[i], err = res.Entry.Decode(); err != nil {
				t.Fatal(err)
			}
		}
	}

	var wg sync.WaitGroup
	errs := make(chan error, 16)
	for g := 0; g < 16; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for n := 0; n < 200; n++ {
				i := (g + n) % len(ips)
				res, err := r.LookupString(ips[i])
				if err != nil {
					errs <- err
					return
				}
				var got any
				if res.Found {
					if got, err = res.Entry.Decode(); err != nil {
						errs <- err
						return
					}
				}
				if !reflect.DeepEqual(got, want[i]) {
					errs <- errors.New("concurrent result differs for " + ips[i])
					return
				}
			}
		}(g)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}

	s := r.Stats()
	if s.Lookups != uint64(len(ips)+16*200) {
		t.Errorf("lookups = %d", s.Lookups)
	}
	if s.Matches+s.Misses != s.Lookups || s.LookupErrors != 0 {
		t.Errorf("inconsistent stats %+v", s)
	}
}
