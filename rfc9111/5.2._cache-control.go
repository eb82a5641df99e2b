package rfc9111

import (
	"net/http"
	"strings"
	"time"
)

// CacheControl implements parsing of the "Cache-Control" header (/field).
//
// §  5.2. Cache-Control
// §
// §  [...] Cache directives are identified by a token, to be compared
// §  case-insensitively, and have an optional argument that can use both
// §  token and quoted-string syntax.
// §
// §    Cache-Control   = #cache-directive
// §
// §    cache-directive = token [ "=" ( token / quoted-string ) ]
type CacheControl struct {
	directives map[string]string
}

// Response directives this package knows by name.
const (
	DirectiveMaxAge         = "max-age"
	DirectiveMustRevalidate = "must-revalidate"
	DirectiveNoCache        = "no-cache"
	DirectiveNoStore        = "no-store"
	DirectivePrivate        = "private"
	DirectivePublic         = "public"
	DirectiveSMaxAge        = "s-maxage"
)

// Get returns the value (/argument) of the specified directive,
// along with a boolean indicating whether this directive is present
func (c CacheControl) Get(directive string) (string, bool) {
	val, ok := c.directives[strings.ToLower(directive)]
	return val, ok
}

// HasDirective returns whether the specified directive is present
func (c CacheControl) HasDirective(directive string) bool {
	_, ok := c.Get(directive)
	return ok
}

// Len returns the number of distinct directives.
func (c CacheControl) Len() int {
	return len(c.directives)
}

// ParseCacheControl takes Cache-Control headers as a slice of strings
// and returns an instance of `CacheControl`.
func ParseCacheControl(headers []string) CacheControl {
	m := make(map[string]string)
	// note setting map values like this means last defined directive wins
	for _, header := range headers {
		// "#" means comma-separated list, with optional whitespace
		for _, directive := range strings.Split(header, ",") {
			directive = strings.TrimSpace(directive)
			if directive == "" {
				continue
			}
			name, arg, _ := strings.Cut(directive, "=")
			m[getCacheControlDirectiveName(name)] = getCacheControlDirectiveArgument(arg)
		}
	}
	return CacheControl{m}
}

// ResponseCacheControl parses all Cache-Control field lines of a header.
func ResponseCacheControl(header http.Header) CacheControl {
	return ParseCacheControl(header.Values("Cache-Control"))
}

// getCacheControlDirectiveName returns a normalized name for the given directive.
func getCacheControlDirectiveName(token string) string {
	// §  [...] to be compared case-insensitively [...]
	return strings.ToLower(strings.TrimSpace(token))
}

// getCacheControlDirectiveArgument returns the directive argument in token form,
// i.e. it converts the argument from "quoted-string" to "token" form if needed.
func getCacheControlDirectiveArgument(arg string) string {
	// §  [...] argument that can use both token and quoted-string syntax. [...]
	return strings.Trim(strings.TrimSpace(arg), "\"")
}

// §  5.2.2.1. max-age
// §
// §  Argument syntax:
// §
// §      delta-seconds (see Section 1.2.2)
// §
// §  The max-age response directive indicates that the response is to be
// §  considered stale after its age is greater than the specified number of
// §  seconds.

// MaxAge returns "max-age" as a duration, along with a boolean indicating
// whether the "max-age" directive was present with an argument.
// An argument that is not valid delta-seconds is reported as zero, since
// such a response is to be considered stale.
func (c CacheControl) MaxAge() (time.Duration, bool) {
	return c.getDeltaSeconds(DirectiveMaxAge)
}

// SMaxAge returns "s-maxage" like MaxAge does.
func (c CacheControl) SMaxAge() (time.Duration, bool) {
	return c.getDeltaSeconds(DirectiveSMaxAge)
}

// getDeltaSeconds returns the "delta-seconds" as `time.Duration`,
// as well as a boolean indicating whether the directive was set.
//
// Examples:
// directive    -> 0,  false
// directive=0  -> 0,  true
// directive=60 -> 60, true
func (c CacheControl) getDeltaSeconds(directive string) (time.Duration, bool) {
	secondsStr, ok := c.Get(directive)
	if !ok || secondsStr == "" {
		return 0, false
	}
	seconds, _ := deltaSeconds(secondsStr)
	return seconds, true
}
