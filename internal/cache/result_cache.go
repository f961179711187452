package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/weiihann/energy-stats-indexer/internal/logger"
	"github.com/weiihann/energy-stats-indexer/internal/metrics"
	"github.com/weiihann/energy-stats-indexer/pkg/utils"
	"golang.org/x/sync/singleflight"
)

// DefaultTTL is how long an aggregation result stays fresh.
const DefaultTTL = 300 * time.Second

// ResultCache memoizes aggregation results as JSON documents in a Store.
// Concurrent misses for one key share a single computation.
type ResultCache struct {
	store   Store
	ttl     time.Duration
	encoder *utils.ZstdEncoder
	decoder *utils.ZstdDecoder
	group   singleflight.Group
	log     *slog.Logger
}

func NewResultCache(store Store, ttl time.Duration, compression bool) (*ResultCache, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	decoder, err := utils.NewZstdDecoder()
	if err != nil {
		return nil, err
	}

	c := &ResultCache{
		store:   store,
		ttl:     ttl,
		decoder: decoder,
		log:     logger.GetLogger("result-cache"),
	}
	if compression {
		encoder, err := utils.NewZstdEncoder()
		if err != nil {
			decoder.Close()
			return nil, err
		}
		c.encoder = encoder
	}
	return c, nil
}

func (c *ResultCache) TTL() time.Duration { return c.ttl }

func (c *ResultCache) Close() {
	if c.encoder != nil {
		c.encoder.Close()
	}
	c.decoder.Close()
}

// lookup returns the stored document for key. Store failures and corrupt
// payloads are reported as a miss.
func (c *ResultCache) lookup(ctx context.Context, key Key) ([]byte, bool) {
	raw, ok, err := c.store.Get(ctx, key.String())
	if err != nil {
		metrics.CacheStoreErrors.WithLabelValues(string(key.Scope), "get").Inc()
		c.log.Warn("Cache read failed, computing fresh result", "cache_key", key.String(), "error", err)
		return nil, false
	}
	if !ok {
		return nil, false
	}

	if utils.IsCompressed(raw) {
		raw, err = c.decoder.Decompress(raw)
		if err != nil {
			c.log.Warn("Discarding corrupt cache entry", "cache_key", key.String(), "error", err)
			return nil, false
		}
	}
	return raw, true
}

// save writes doc under key. Failures are logged and swallowed.
func (c *ResultCache) save(ctx context.Context, key Key, doc []byte) {
	payload := doc
	if c.encoder != nil && len(doc) > 0 {
		compressed, err := c.encoder.Compress(doc)
		if err != nil {
			c.log.Warn("Could not compress cache entry, storing plain", "cache_key", key.String(), "error", err)
		} else {
			payload = compressed
		}
	}

	if err := c.store.Set(ctx, key.String(), payload, c.ttl); err != nil {
		metrics.CacheStoreErrors.WithLabelValues(string(key.Scope), "set").Inc()
		c.log.Warn("Cache write failed", "cache_key", key.String(), "error", err)
		return
	}
	c.log.Debug("Cached result",
		"cache_key", key.String(),
		"bytes", len(payload),
		"ttl", c.ttl)
}

// Fetch returns the cached value for key, or runs compute and caches its
// result. With refresh set the lookup is skipped and the stored entry is
// always overwritten. A compute error is returned as is and nothing is
// written. fromCache reports whether the value came from the store.
// Cancelling ctx abandons the wait but not the computation, which still
// completes and is cached for callers sharing it.
func Fetch[T any](ctx context.Context, c *ResultCache, key Key, refresh bool, compute func(context.Context) (T, error)) (value T, fromCache bool, err error) {
	scope := string(key.Scope)

	if !refresh {
		if doc, ok := c.lookup(ctx, key); ok {
			var cached T
			err := json.Unmarshal(doc, &cached)
			if err == nil {
				metrics.CacheRequests.WithLabelValues(scope, "hit").Inc()
				return cached, true, nil
			}
			c.log.Warn("Discarding undecodable cache entry", "cache_key", key.String(), "error", err)
		}
		metrics.CacheRequests.WithLabelValues(scope, "miss").Inc()
	} else {
		metrics.CacheRequests.WithLabelValues(scope, "refresh").Inc()
	}

	// The shared computation outlives any single caller. A caller that
	// gives up gets its own context error while the others keep waiting.
	flightCtx := context.WithoutCancel(ctx)
	ch := c.group.DoChan(key.String(), func() (any, error) {
		result, err := compute(flightCtx)
		if err != nil {
			return nil, err
		}
		doc, err := json.Marshal(result)
		if err != nil {
			return nil, fmt.Errorf("could not encode result for %s: %w", key.String(), err)
		}
		c.save(flightCtx, key, doc)
		return doc, nil
	})

	var res singleflight.Result
	select {
	case <-ctx.Done():
		var zero T
		return zero, false, ctx.Err()
	case res = <-ch:
	}
	if res.Err != nil {
		var zero T
		return zero, false, res.Err
	}
	doc := res.Val

	// Decode from the encoded document so computed and cached responses
	// are indistinguishable.
	if err := json.Unmarshal(doc.([]byte), &value); err != nil {
		var zero T
		return zero, false, fmt.Errorf("could not decode result for %s: %w", key.String(), err)
	}
	return value, false, nil
}
