package pattern

import (
	"context"
	"fmt"
	"log/slog"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/muacore/mua/mua-"
)

type cacheKey struct {
	s     string
	flags CompileFlags
}

// CompileCache keeps recently compiled patterns, for patterns that are
// compiled repeatedly such as those of hooks and scores.
//
// Patterns whose outcome depends on the time or state at compilation, with
// message ranges, external searches or fixed date ranges, are not cached.
type CompileCache struct {
	c     *mua.Config
	cache *lru.Cache[cacheKey, *Pattern]
}

// NewCompileCache returns a cache holding up to size patterns.
func NewCompileCache(c *mua.Config, size int) (*CompileCache, error) {
	cache, err := lru.New[cacheKey, *Pattern](size)
	if err != nil {
		return nil, fmt.Errorf("new pattern cache: %v", err)
	}
	return &CompileCache{c, cache}, nil
}

// Compile returns a compiled pattern from the cache, compiling it when absent.
// Compiled patterns are shared and must not be modified.
func (cc *CompileCache) Compile(ctx context.Context, s string, opts Options) (*Pattern, error) {
	k := cacheKey{s, opts.Flags}
	if p, ok := cc.cache.Get(k); ok {
		return p, nil
	}
	p, err := Compile(ctx, cc.c, s, opts)
	if err != nil {
		return nil, err
	}
	if cacheable(p) {
		cc.cache.Add(k, p)
	} else {
		pkglog.Debug("pattern not cacheable", slog.String("pattern", s))
	}
	return p, nil
}

// Len returns the number of cached patterns.
func (cc *CompileCache) Len() int {
	return cc.cache.Len()
}

func cacheable(p *Pattern) bool {
	switch p.Op {
	case OpMessage, OpIDExternal:
		return false
	case OpDate, OpDateReceived:
		return p.Dynamic
	}
	for _, c := range p.Children {
		if !cacheable(c) {
			return false
		}
	}
	return true
}
