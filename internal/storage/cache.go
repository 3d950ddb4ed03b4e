package storage

import (
	"context"
	"log"
)

// LayeredCache is a keyed cache with an explicit read order: local store
// first, then the remote shared cache. Hits found only remotely are copied
// back into the local layer; writes go local-synchronous, remote
// best-effort. Misses are never cached.
type LayeredCache struct {
	local  *LocalStore
	remote *Remote
	bucket string
	table  string
}

// Get returns the cached payload for key, or nil on a miss. Remote failures
// are treated as misses, never as errors.
func (c *LayeredCache) Get(ctx context.Context, key string) ([]byte, error) {
	payload, err := c.local.GetCache(ctx, c.bucket, key)
	if err != nil {
		return nil, err
	}
	if payload != nil {
		return payload, nil
	}

	if c.remote == nil {
		return nil, nil
	}

	payload, err = c.remote.GetEntry(ctx, c.table, key)
	if err != nil {
		log.Printf("cache %s: remote read for %q failed: %v", c.bucket, key, err)
		return nil, nil
	}
	if payload == nil {
		return nil, nil
	}

	if err := c.local.SetCache(ctx, c.bucket, key, payload); err != nil {
		log.Printf("cache %s: local write-back for %q failed: %v", c.bucket, key, err)
	}
	return payload, nil
}

// Put writes the payload to the local layer and mirrors it to the remote
// layer best-effort.
func (c *LayeredCache) Put(ctx context.Context, key string, payload []byte) error {
	if err := c.local.SetCache(ctx, c.bucket, key, payload); err != nil {
		return err
	}
	if c.remote != nil {
		if err := c.remote.PutEntry(ctx, c.table, key, payload); err != nil {
			log.Printf("cache %s: remote write for %q failed: %v", c.bucket, key, err)
		}
	}
	return nil
}
