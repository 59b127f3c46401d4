package memory

import (
	"regexp"
	"strings"
	"sync"
)

// Default generic entity names. Personal names come from config or runtime
// registration.
var defaultEntities = []string{"config", "system", "note", "project"}

// Common English words that look like entities but aren't. Rejected
// regardless of case or position.
var rejectWords = map[string]struct{}{
	"still": {}, "just": {}, "acts": {}, "you": {}, "it": {}, "the": {},
	"this": {}, "that": {}, "they": {}, "we": {}, "he": {}, "she": {},
	"my": {}, "or": {}, "if": {}, "up": {}, "an": {}, "no": {}, "so": {},
	"do": {}, "go": {}, "is": {}, "are": {}, "was": {}, "has": {},
	"had": {}, "can": {}, "not": {}, "but": {}, "and": {}, "also": {},
	"very": {}, "much": {}, "more": {}, "less": {}, "what": {}, "how": {},
	"why": {}, "where": {}, "when": {}, "who": {}, "well": {}, "oh": {},
	"ah": {}, "looks": {}, "community": {}, "here": {}, "there": {},
	"then": {}, "now": {}, "already": {}, "really": {}, "actually": {},
	"maybe": {}, "would": {}, "each": {},
}

var (
	// External entity name format: leading letter, then letters/digits/
	// underscore/dot.
	entityNameRe = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_.]*$`)

	// PascalCase multi-word shape, e.g. TradingSystem.
	pascalCaseRe = regexp.MustCompile(`^[A-Z][a-z]+[A-Z]`)
)

// ValidateEntityName checks the external registration format.
func ValidateEntityName(name string) error {
	if len(name) < 2 || len(name) > 60 || !entityNameRe.MatchString(name) {
		return ErrInvalidEntityName
	}
	return nil
}

// EntityRegistry is the owned set of known subject names. Membership is
// case-insensitive; names are only ever added, never removed.
type EntityRegistry struct {
	mu    sync.RWMutex
	names map[string]struct{}
}

// NewEntityRegistry merges the built-in defaults with configured and
// persisted names, all lowercased.
func NewEntityRegistry(configured, persisted []string) *EntityRegistry {
	r := &EntityRegistry{names: make(map[string]struct{})}
	for _, name := range defaultEntities {
		r.names[strings.ToLower(name)] = struct{}{}
	}
	for _, name := range configured {
		if name != "" {
			r.names[strings.ToLower(name)] = struct{}{}
		}
	}
	for _, name := range persisted {
		if name != "" {
			r.names[strings.ToLower(name)] = struct{}{}
		}
	}
	return r
}

// Add registers a name at runtime.
func (r *EntityRegistry) Add(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.names[strings.ToLower(name)] = struct{}{}
}

// Has reports case-insensitive membership.
func (r *EntityRegistry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.names[strings.ToLower(name)]
	return ok
}

// Size returns the number of known names.
func (r *EntityRegistry) Size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.names)
}

// IsValidEntity decides whether a name may be used as a fact subject.
// Accepts known names (by their dot-prefix segment) and unknown PascalCase
// multi-word names; rejects common words, digit/url-prefixed names, and
// anything outside 2-60 characters.
func (r *EntityRegistry) IsValidEntity(entity string) bool {
	if len(entity) < 2 || len(entity) > 60 {
		return false
	}
	lower := strings.ToLower(entity)
	if entity[0] >= '0' && entity[0] <= '9' {
		return false
	}
	if strings.HasPrefix(lower, "http") || strings.HasPrefix(lower, "www") {
		return false
	}

	base, _, _ := strings.Cut(lower, ".")
	if _, rejected := rejectWords[base]; rejected {
		return false
	}
	if r.Has(base) {
		return true
	}
	return pascalCaseRe.MatchString(entity)
}
