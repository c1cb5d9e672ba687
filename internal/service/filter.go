package service

import (
	"log/slog"
	"regexp"
	"strings"
	"sync"

	"github.com/tracefact/evidenced/internal/config"
)

// importanceFilter decides whether a domain is worth spending evaluator
// calls on. Suffix rules match whole host suffixes; pattern rules are
// regular expressions against the normalized host. Compiled patterns are
// cached so hot-reloaded configs only pay for new expressions.
type importanceFilter struct {
	mu       sync.Mutex
	compiled map[string]*regexp.Regexp
}

func newImportanceFilter() *importanceFilter {
	return &importanceFilter{compiled: make(map[string]*regexp.Regexp)}
}

// Match returns the rule that filters the host, or ok=false when the host
// passes and deserves evaluation.
func (f *importanceFilter) Match(host string, cfg config.Filter) (rule string, ok bool) {
	if cfg.SuffixesEnabled {
		for _, suffix := range cfg.Suffixes {
			if strings.HasSuffix(host, suffix) {
				return "suffix:" + suffix, true
			}
		}
	}
	if cfg.PatternsEnabled {
		for _, pattern := range cfg.Patterns {
			re := f.pattern(pattern)
			if re != nil && re.MatchString(host) {
				return "pattern:" + pattern, true
			}
		}
	}
	return "", false
}

func (f *importanceFilter) pattern(expr string) *regexp.Regexp {
	f.mu.Lock()
	defer f.mu.Unlock()
	if re, ok := f.compiled[expr]; ok {
		return re
	}
	re, err := regexp.Compile(expr)
	if err != nil {
		slog.Warn("invalid filter pattern ignored", "pattern", expr, "error", err)
		re = nil
	}
	f.compiled[expr] = re
	return re
}
