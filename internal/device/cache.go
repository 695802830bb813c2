package device

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultCacheSize bounds the number of memoized extractions.
const DefaultCacheSize = 256

// Cache memoizes extraction results by content, so that repeated runs over
// an unchanged framework skip parsing. Safe for concurrent use.
type Cache struct {
	entries *lru.Cache[string, cached]
}

type cached struct {
	contract Contract
	ok       bool
}

// NewCache returns a cache holding up to size results.
func NewCache(size int) (*Cache, error) {
	if size <= 0 {
		size = DefaultCacheSize
	}
	entries, err := lru.New[string, cached](size)
	if err != nil {
		return nil, fmt.Errorf("device: new cache: %w", err)
	}
	return &Cache{entries: entries}, nil
}

// Len returns the number of cached results.
func (c *Cache) Len() int {
	return c.entries.Len()
}

func (c *Cache) get(src Source) (Contract, bool, bool) {
	e, hit := c.entries.Get(cacheKey(src))
	return e.contract, e.ok, hit
}

func (c *Cache) put(src Source, contract Contract, ok bool) {
	c.entries.Add(cacheKey(src), cached{contract: contract, ok: ok})
}

func cacheKey(src Source) string {
	h := sha256.New()
	h.Write([]byte(src.Name))
	h.Write([]byte{0})
	h.Write(src.Code)
	return hex.EncodeToString(h.Sum(nil))
}
