package geoip

import (
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/CVDpl/go-live-geoip/pkg/geoip/decoder"
)

// recordCache keeps materialized records by value-section offset. Many
// prefixes share one record, so hot records are decoded once. Callers always
// receive their own copy of the slice.
type recordCache struct {
	lru   *lru.Cache[uint, []decoder.Value]
	stats *StatsCollector
}

func newRecordCache(size int, stats *StatsCollector) (*recordCache, error) {
	c, err := lru.New[uint, []decoder.Value](size)
	if err != nil {
		return nil, err
	}
	return &recordCache{lru: c, stats: stats}, nil
}

func (c *recordCache) get(offset uint) ([]decoder.Value, bool) {
	nodes, ok := c.lru.Get(offset)
	if !ok {
		c.stats.RecordCacheMiss()
		return nil, false
	}
	c.stats.RecordCacheHit()
	return append([]decoder.Value(nil), nodes...), true
}

func (c *recordCache) add(offset uint, nodes []decoder.Value) {
	c.lru.Add(offset, append([]decoder.Value(nil), nodes...))
}

func (c *recordCache) len() int { return c.lru.Len() }

func (c *recordCache) purge() { c.lru.Purge() }
