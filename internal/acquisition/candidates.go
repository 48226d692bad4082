package acquisition

import (
	"net/url"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

// CandidateRule derives extra URLs for one publisher family. Rule receives
// the parsed URL, the raw URL string, and the DOI, and returns candidates in
// preference order. Duplicates are removed by the generator.
type CandidateRule struct {
	// Name identifies the rule in logs.
	Name string
	// HostPattern is matched as a case-insensitive substring of the hostname.
	HostPattern string
	// Rule produces candidate URLs.
	Rule func(u *url.URL, raw, doi string) []string
}

var wileyHosts = []string{
	"onlinelibrary.wiley.com",
	"febs.onlinelibrary.wiley.com",
	"bpspubs.onlinelibrary.wiley.com",
}

// DefaultCandidateRules returns the built-in publisher URL conventions.
func DefaultCandidateRules() []CandidateRule {
	return []CandidateRule{
		{Name: "wiley", HostPattern: "wiley", Rule: wileyRule},
		{Name: "sciencedirect", HostPattern: "sciencedirect", Rule: scienceDirectRule},
		{Name: "springer", HostPattern: "springer", Rule: springerRule},
		{Name: "jaad", HostPattern: "jaad", Rule: jaadRule},
		{Name: "tandfonline", HostPattern: "tandfonline", Rule: doiPathRule("/doi/pdf/", "/doi/epub/")},
		{Name: "oup", HostPattern: "academic.oup", Rule: doiPathRule("/doi/pdf/")},
		{Name: "sage", HostPattern: "sagepub", Rule: doiPathRule("/doi/pdf/")},
	}
}

func wileyRule(u *url.URL, raw, doi string) []string {
	var out []string
	if strings.Contains(u.Path, "/doi/") {
		out = append(out, strings.ReplaceAll(raw, "/doi/", "/doi/epdf/"))
	}
	for _, host := range wileyHosts {
		out = append(out,
			"https://"+host+"/doi/pdf/"+doi,
			"https://"+host+"/doi/full/"+doi,
		)
	}
	return out
}

func scienceDirectRule(_ *url.URL, raw, _ string) []string {
	pdfURL := strings.ReplaceAll(raw, "/article/", "/pdf/")
	out := []string{pdfURL}
	if !strings.HasSuffix(pdfURL, "/pdfft") {
		out = append(out, strings.TrimRight(pdfURL, "/")+"/pdfft")
	}
	return out
}

func springerRule(u *url.URL, raw, _ string) []string {
	if !strings.Contains(u.Path, "/chapter/") && !strings.Contains(u.Path, "/article/") {
		return nil
	}
	base := strings.TrimRight(raw, "/")
	return []string{base + ".pdf", base + ".epub"}
}

func jaadRule(_ *url.URL, raw, _ string) []string {
	id := raw[strings.LastIndex(raw, "/")+1:]
	id = strings.ReplaceAll(id, ".pdf", "")
	if id == "" {
		return nil
	}
	return []string{
		"http://www.jaad.org/article/" + id + "/pdf",
		"https://www.jaad.org/article/" + id + "/pdf",
		"http://www.jaad.org/pdf/" + id,
		"https://www.jaad.org/pdf/" + id,
	}
}

// doiPathRule rewrites "/doi/" in the URL to each replacement, in order.
func doiPathRule(replacements ...string) func(*url.URL, string, string) []string {
	return func(u *url.URL, raw, _ string) []string {
		if !strings.Contains(u.Path, "/doi/") {
			return nil
		}
		out := make([]string, 0, len(replacements))
		for _, r := range replacements {
			out = append(out, strings.ReplaceAll(raw, "/doi/", r))
		}
		return out
	}
}

// CandidateGenerator expands a URL into publisher-specific alternatives
// using a registered list of rules. It is safe for concurrent use.
type CandidateGenerator struct {
	mu     sync.RWMutex
	rules  []CandidateRule
	logger zerolog.Logger
}

// NewCandidateGenerator creates a generator with the given rules. Pass
// DefaultCandidateRules() for the built-in table.
func NewCandidateGenerator(logger zerolog.Logger, rules ...CandidateRule) *CandidateGenerator {
	return &CandidateGenerator{
		rules:  append([]CandidateRule(nil), rules...),
		logger: logger.With().Str("component", "candidate_generator").Logger(),
	}
}

// Register appends a rule. Rules run in registration order.
func (g *CandidateGenerator) Register(rule CandidateRule) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.rules = append(g.rules, rule)
}

// Expand returns the sanitized baseURL followed by the candidates of every
// rule whose host pattern matches, deduplicated in discovery order. It never
// fails: an empty URL yields nil, and an unparsable URL or a panicking rule
// leaves only the original.
func (g *CandidateGenerator) Expand(baseURL, doi string) []string {
	raw, ok := SanitizeURL(baseURL)
	if !ok {
		return nil
	}

	u, err := url.Parse(raw)
	if err != nil || u.Hostname() == "" {
		return []string{raw}
	}
	host := strings.ToLower(u.Hostname())

	g.mu.RLock()
	rules := g.rules
	g.mu.RUnlock()

	out := []string{raw}
	seen := map[string]struct{}{raw: {}}
	for _, rule := range rules {
		if rule.Rule == nil || !strings.Contains(host, strings.ToLower(rule.HostPattern)) {
			continue
		}
		candidates, ok := g.apply(rule, u, raw, doi)
		if !ok {
			return []string{raw}
		}
		for _, c := range candidates {
			if c == "" {
				continue
			}
			if _, dup := seen[c]; dup {
				continue
			}
			seen[c] = struct{}{}
			out = append(out, c)
		}
	}
	return out
}

// apply runs one rule, converting a panic into ok=false.
func (g *CandidateGenerator) apply(rule CandidateRule, u *url.URL, raw, doi string) (candidates []string, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			g.logger.Warn().Str("rule", rule.Name).Str("url", raw).Interface("panic", r).Msg("candidate rule panicked")
			candidates, ok = nil, false
		}
	}()
	// Rules get their own copy so one cannot mutate the URL for the next.
	cp := *u
	return rule.Rule(&cp, raw, doi), true
}
