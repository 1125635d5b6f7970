package main

import (
	"context"
	"fmt"
	"log"

	"github.com/dustin/go-humanize"

	"github.com/muacore/mua/hcache"
	"github.com/muacore/mua/mua-"
)

func mustOpenHeaderCache(ctx context.Context, mc *mua.Config) *hcache.Cache {
	if mc.Static.HeaderCache == "" {
		log.Fatalf("no header cache configured")
	}
	cache, err := hcache.Open(ctx, mc)
	xcheckf(err, "opening header cache")
	return cache
}

func cmdHcacheStats(c *cmd) {
	c.help = `Print statistics of the header cache.

Entries are stale when their mailbox file changed or was removed.
`
	if len(c.Parse()) != 0 {
		c.Usage()
	}

	mc := mustLoadConfig()
	ctx := cmdContext()
	cache := mustOpenHeaderCache(ctx, mc)
	defer cache.Close()
	st, err := cache.Stats(ctx)
	xcheckf(err, "gathering statistics")
	fmt.Printf("%s (%s): %d entries, %s, %d stale\n", mc.Static.HeaderCache, mc.Static.HeaderCacheBackend, st.Entries, humanize.Bytes(uint64(st.Bytes)), st.Stale)
}

func cmdHcachePurge(c *cmd) {
	c.help = `Remove stale entries from the header cache.`
	if len(c.Parse()) != 0 {
		c.Usage()
	}

	mc := mustLoadConfig()
	ctx := cmdContext()
	cache := mustOpenHeaderCache(ctx, mc)
	defer cache.Close()
	n, err := cache.Purge(ctx)
	xcheckf(err, "purging header cache")
	fmt.Printf("%d entries removed\n", n)
}
