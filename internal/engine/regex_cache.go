package engine

import (
	"fmt"
	"regexp"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultRegexCacheSize bounds the number of compiled patterns kept per engine.
const DefaultRegexCacheSize = 256

// regexCache memoises compiled regex operator patterns. Rules are evaluated
// repeatedly against many entities, so each pattern is compiled once.
// Patterns are RE2, so matching stays linear in the input whatever their
// size or nesting.
//
// Thread-safety: the underlying LRU is safe for concurrent use.
type regexCache struct {
	cache *lru.Cache[string, *regexp.Regexp]
}

func newRegexCache(size int) *regexCache {
	if size <= 0 {
		size = DefaultRegexCacheSize
	}
	c, err := lru.New[string, *regexp.Regexp](size)
	if err != nil {
		// lru.New only fails for non-positive sizes.
		panic(fmt.Sprintf("regex cache: %v", err))
	}
	return &regexCache{cache: c}
}

// compile returns a cached compiled regex or compiles and caches a new one.
// Invalid patterns are not cached.
func (rc *regexCache) compile(pattern string) (*regexp.Regexp, error) {
	if re, ok := rc.cache.Get(pattern); ok {
		return re, nil
	}

	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid regex pattern %q: %w", pattern, err)
	}

	rc.cache.Add(pattern, re)
	return re, nil
}

func (rc *regexCache) len() int {
	return rc.cache.Len()
}
