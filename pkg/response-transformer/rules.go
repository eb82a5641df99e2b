package responsetransformer

import (
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"
)

// Rules are matched in order; the first matching rule is applied.
type Rules []Rule

// Rule adjusts the headers of successful GET responses below a path.
// Use it to make storage decisions for origins that send no or unsuitable
// Cache-Control headers.
type Rule struct {
	Prefix   string            `yaml:"prefix"`
	Path     string            `yaml:"path"`
	Default  string            `yaml:"default"`
	Override string            `yaml:"override"`
	Query    map[string]string `yaml:"query"`
	Headers  map[string]string `yaml:"headers"`
}

// Apply applies the first matching rule to the response headers.
// The response must have its Request set.
func (r Rules) Apply(res *http.Response) {
	// only apply rules for successes
	if res.StatusCode != http.StatusOK || res.Request == nil {
		return
	}
	if rule := r.find(res); rule != nil {
		applyRuleToResponse(*rule, res)
	}
}

func applyRuleToResponse(rule Rule, res *http.Response) {
	if rule.Override != "" {
		log.Trace().Str("path", res.Request.URL.Path).Msg("Overriding Cache-Control header")
		res.Header.Set("Cache-Control", rule.Override)
	} else if rule.Default != "" && res.Header.Get("Cache-Control") == "" {
		log.Trace().Str("path", res.Request.URL.Path).Msg("Applying default Cache-Control header")
		res.Header.Set("Cache-Control", rule.Default)
	}
	for name, value := range rule.Headers {
		res.Header.Set(name, value)
	}
}

func (r Rules) find(res *http.Response) *Rule {
	if res.Request.Method != http.MethodGet {
		return nil
	}
rulesLoop:
	for i, rule := range r {
		if rule.Path != "" && rule.Path != res.Request.URL.Path {
			continue
		}
		if rule.Prefix != "" && !strings.HasPrefix(res.Request.URL.Path, rule.Prefix) {
			continue
		}
		if len(rule.Query) > 0 {
			qry := res.Request.URL.Query()
			for name, value := range rule.Query {
				if value == "" && !qry.Has(name) {
					continue rulesLoop
				} else if value != "" && qry.Get(name) != value {
					continue rulesLoop
				}
			}
		}
		return &r[i]
	}
	return nil
}
