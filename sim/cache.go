package sim

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// Quote cache purposes.
const (
	PurposeBid    = "bid"
	PurposeAsk    = "ask"
	PurposeStop   = "stop"
	PurposeFreeze = "freeze"
)

type quoteKey struct {
	symbol  string
	purpose string
}

// QuoteCache memoizes synthesized venue values per (symbol, purpose) so
// repeated reads within a bar agree. Entries are bounded in number and age
// and are dropped whenever the symbol's bar advances.
type QuoteCache struct {
	lru *expirable.LRU[quoteKey, float64]
}

func NewQuoteCache(size int, ttl time.Duration) *QuoteCache {
	if size <= 0 {
		size = 256
	}
	return &QuoteCache{lru: expirable.NewLRU[quoteKey, float64](size, nil, ttl)}
}

func (c *QuoteCache) Get(symbol, purpose string) (float64, bool) {
	return c.lru.Get(quoteKey{symbol, purpose})
}

func (c *QuoteCache) Put(symbol, purpose string, v float64) {
	c.lru.Add(quoteKey{symbol, purpose}, v)
}

// Invalidate drops every purpose cached for symbol.
func (c *QuoteCache) Invalidate(symbol string) {
	for _, p := range []string{PurposeBid, PurposeAsk, PurposeStop, PurposeFreeze} {
		c.lru.Remove(quoteKey{symbol, p})
	}
}

func (c *QuoteCache) Len() int { return c.lru.Len() }
