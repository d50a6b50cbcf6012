package config

import (
	"regexp"
	"sync"
)

var reCache sync.Map // map[string]*regexp.Regexp

// fullMatch reports whether line fully matches pattern (Python re.fullmatch
// semantics: the whole string must match, not merely a substring).
func fullMatch(pattern, line string) bool {
	re, err := compileCached(`^(?:` + pattern + `)$`)
	if err != nil {
		return false
	}
	return re.MatchString(line)
}

func compileCached(pattern string) (*regexp.Regexp, error) {
	if v, ok := reCache.Load(pattern); ok {
		return v.(*regexp.Regexp), nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}
	reCache.Store(pattern, re)
	return re, nil
}
