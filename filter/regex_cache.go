package filter

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/c360/mapgate/pkg/cache"
)

// regexCache holds compiled patterns for the matches operator. Filter
// expressions repeat across messages, so a small LRU keeps compilation off
// the hot path.
var regexCache *cache.Bounded[string, *regexp.Regexp]

func init() {
	var err error
	regexCache, err = cache.NewBounded[string, *regexp.Regexp](100)
	if err != nil {
		panic(fmt.Sprintf("failed to initialize regex cache: %v", err))
	}
}

func compileRegex(pattern string) (*regexp.Regexp, error) {
	if re, found := regexCache.Get(pattern); found {
		return re, nil
	}

	if err := validateRegexComplexity(pattern); err != nil {
		return nil, err
	}

	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid regex pattern '%s': %w", pattern, err)
	}
	regexCache.Set(pattern, re)
	return re, nil
}

// validateRegexComplexity rejects patterns likely to cause exponential
// backtracking. Filter expressions are tenant-supplied, so unbounded
// patterns are a denial-of-service vector.
func validateRegexComplexity(pattern string) error {
	if len(pattern) > 500 {
		return fmt.Errorf("regex pattern too long (max 500 chars): %d chars", len(pattern))
	}
	if strings.Count(pattern, "(") > 20 {
		return fmt.Errorf("regex pattern has too many groups (max 20)")
	}

	nestLevel, maxNest := 0, 0
	for _, ch := range pattern {
		switch ch {
		case '(':
			nestLevel++
			if nestLevel > maxNest {
				maxNest = nestLevel
			}
		case ')':
			nestLevel--
		}
	}
	if maxNest > 5 {
		return fmt.Errorf("regex pattern has excessive nesting depth (max 5 levels)")
	}
	return nil
}
