package decoder

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CVDpl/go-live-geoip/internal/common"
	"github.com/CVDpl/go-live-geoip/internal/testdb"
)

func cityRecord() testdb.Map {
	return testdb.Map{
		{"city", testdb.Map{
			{"geoname_id", testdb.Uint32(2950159)},
			{"names", testdb.Map{
				{"de", "Berlin"},
				{"en", "Berlin"},
				{"ru", "Берлин"},
			}},
		}},
		{"location", testdb.Map{
			{"latitude", 52.5244},
			{"longitude", 13.4105},
		}},
		{"subdivisions", testdb.Array{
			testdb.Map{{"iso_code", "BE"}},
			testdb.Map{{"iso_code", "XX"}},
		}},
		{"is_in_european_union", true},
	}
}

func TestResolve(t *testing.T) {
	d := decoderFor(t, cityRecord())

	t.Run("nested key", func(t *testing.T) {
		v, found, err := d.Resolve(0, Path{Key("city"), Key("names"), Key("ru")})
		require.NoError(t, err)
		require.True(t, found)
		assert.Equal(t, "Берлин", v.Text())
	})

	t.Run("array index", func(t *testing.T) {
		v, found, err := d.Resolve(0, Path{Key("subdivisions"), Index(1), Key("iso_code")})
		require.NoError(t, err)
		require.True(t, found)
		assert.Equal(t, "XX", v.Text())
	})

	t.Run("scalar after skipped siblings", func(t *testing.T) {
		v, found, err := d.Resolve(0, Path{Key("is_in_european_union")})
		require.NoError(t, err)
		require.True(t, found)
		assert.True(t, v.Bool())

		v, found, err = d.Resolve(0, Path{Key("location"), Key("longitude")})
		require.NoError(t, err)
		require.True(t, found)
		assert.Equal(t, 13.4105, v.Float64())
	})

	t.Run("container result", func(t *testing.T) {
		v, found, err := d.Resolve(0, Path{Key("subdivisions")})
		require.NoError(t, err)
		require.True(t, found)
		assert.Equal(t, KindArray, v.Kind)
		assert.Equal(t, uint(2), v.Size)
	})

	t.Run("empty path", func(t *testing.T) {
		v, found, err := d.Resolve(0, nil)
		require.NoError(t, err)
		require.True(t, found)
		assert.Equal(t, KindMap, v.Kind)
		assert.Equal(t, uint(4), v.Size)
	})

	t.Run("missing key is not an error", func(t *testing.T) {
		_, found, err := d.Resolve(0, Path{Key("city"), Key("names"), Key("fr")})
		require.NoError(t, err)
		assert.False(t, found)

		_, found, err = d.Resolve(0, Path{Key("country")})
		require.NoError(t, err)
		assert.False(t, found)
	})

	t.Run("index past end is not an error", func(t *testing.T) {
		_, found, err := d.Resolve(0, Path{Key("subdivisions"), Index(2)})
		require.NoError(t, err)
		assert.False(t, found)
	})

	mismatches := map[string]Path{
		"index into map":      {Index(0)},
		"key into array":      {Key("subdivisions"), Key("iso_code")},
		"step into primitive": {Key("is_in_european_union"), Key("x")},
		"negative index":      {Key("subdivisions"), Index(-1)},
	}
	for name, path := range mismatches {
		t.Run(name, func(t *testing.T) {
			_, found, err := d.Resolve(0, path)
			require.Error(t, err)
			assert.False(t, found)
			assert.True(t, errors.Is(err, common.ErrInvalidData), "got %v", err)
		})
	}
}

func TestResolveKeyComparisonIsExact(t *testing.T) {
	d := decoderFor(t, testdb.Map{{"en", "a"}, {"EN", "b"}, {"en ", "c"}})

	v, found, err := d.Resolve(0, Path{Key("EN")})
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "b", v.Text())

	_, found, err = d.Resolve(0, Path{Key("e")})
	require.NoError(t, err)
	assert.False(t, found)
}

func TestResolveThroughPointers(t *testing.T) {
	var e testdb.Encoder
	shared := e.MustAppend(testdb.Map{{"iso_code", "DE"}})
	key := e.MustAppend("country")
	root := e.MustAppend(testdb.Map{
		{testdb.Pointer(key), testdb.Pointer(shared)},
		{"continent", "EU"},
	})
	d := New(e.Bytes(), DefaultLimits())

	v, found, err := d.Resolve(uint(root), Path{Key("country"), Key("iso_code")})
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "DE", v.Text())

	// the pointed-to map must be skipped by its pointer width only
	v, found, err = d.Resolve(uint(root), Path{Key("continent")})
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "EU", v.Text())
}

func TestResolveRejectsNonStringKeys(t *testing.T) {
	d := decoderFor(t, testdb.Map{{testdb.Uint16(1), "x"}})
	_, _, err := d.Resolve(0, Path{Key("a")})
	require.Error(t, err)
	assert.True(t, errors.Is(err, common.ErrInvalidData))
}

func TestParsePath(t *testing.T) {
	p, err := ParsePath("subdivisions.0.names.en")
	require.NoError(t, err)
	assert.Equal(t, Path{Key("subdivisions"), Index(0), Key("names"), Key("en")}, p)
	assert.True(t, p[1].IsIndex())
	assert.Equal(t, `["subdivisions" 0 "names" "en"]`, p.String())

	p, err = ParsePath("")
	require.NoError(t, err)
	assert.Empty(t, p)

	_, err = ParsePath("a..b")
	assert.True(t, errors.Is(err, common.ErrInvalidData))
}
