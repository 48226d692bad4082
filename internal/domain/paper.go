package domain

import (
	"fmt"
	"net/url"
	"slices"
	"strings"
)

// Source names a place a PDF can be obtained from.
type Source string

// Known availability sources.
const (
	SourceUnpaywall Source = "unpaywall"
	SourcePublisher Source = "publisher"
)

// IsValidSource returns true if s is a recognized availability source.
func IsValidSource(s Source) bool {
	return s == SourceUnpaywall || s == SourcePublisher
}

// Default resolver bases used to build access URLs.
const (
	DefaultDOIBaseURL    = "https://doi.org"
	DefaultSciHubBaseURL = "https://sci-hub.se"
)

// Availability describes whether a PDF is plausibly obtainable and from where.
// Construct it with NewAvailability so the invariants hold.
type Availability struct {
	IsAvailable bool     `json:"is_available" yaml:"is_available"`
	IsFindable  bool     `json:"is_findable" yaml:"is_findable"`
	Sources     []Source `json:"sources" yaml:"sources"`
}

// NewAvailability builds an Availability for doi from the sources that
// reported a PDF. Unknown and duplicate sources are dropped.
func NewAvailability(doi string, sources []Source) Availability {
	kept := make([]Source, 0, len(sources))
	for _, s := range sources {
		if IsValidSource(s) && !slices.Contains(kept, s) {
			kept = append(kept, s)
		}
	}
	return Availability{
		IsAvailable: len(kept) > 0,
		IsFindable:  strings.TrimSpace(doi) != "",
		Sources:     kept,
	}
}

// HasSource reports whether s is among the availability sources.
func (a Availability) HasSource(s Source) bool {
	return slices.Contains(a.Sources, s)
}

// AccessURLs holds the human-facing links for a paper.
type AccessURLs struct {
	DOI       string   `json:"doi,omitempty" yaml:"doi,omitempty"`
	LibKey    string   `json:"libkey,omitempty" yaml:"libkey,omitempty"`
	Unpaywall []string `json:"unpaywall,omitempty" yaml:"unpaywall,omitempty"`
	SciHub    string   `json:"scihub,omitempty" yaml:"scihub,omitempty"`
}

// NewAccessURLs builds the resolver links for doi. An empty DOI yields no links.
func NewAccessURLs(doi, doiBase, sciHubBase string) AccessURLs {
	doi = strings.TrimSpace(doi)
	if doi == "" {
		return AccessURLs{}
	}
	if doiBase == "" {
		doiBase = DefaultDOIBaseURL
	}
	if sciHubBase == "" {
		sciHubBase = DefaultSciHubBaseURL
	}
	doiURL := DOIURL(doiBase, doi)
	return AccessURLs{
		DOI:    doiURL,
		LibKey: doiURL,
		SciHub: DOIURL(sciHubBase, doi),
	}
}

// DOIURL joins base and doi, escaping the DOI as a URL path so that
// characters such as '#', '?' and '%' stay part of it.
func DOIURL(base, doi string) string {
	return strings.TrimRight(base, "/") + "/" + (&url.URL{Path: doi}).EscapedPath()
}

// PaperRecord is the metadata for one paper as produced by a metadata source.
// The acquisition engine treats it as read-only.
type PaperRecord struct {
	Title        string       `json:"title" yaml:"title" validate:"required"`
	Authors      string       `json:"authors" yaml:"authors"`
	Year         string       `json:"year" yaml:"year"`
	Journal      string       `json:"journal" yaml:"journal"`
	DOI          string       `json:"doi,omitempty" yaml:"doi,omitempty"`
	PMID         string       `json:"pmid,omitempty" yaml:"pmid,omitempty"`
	PubMedURL    string       `json:"pubmed_url,omitempty" yaml:"pubmed_url,omitempty"`
	Abstract     string       `json:"abstract,omitempty" yaml:"abstract,omitempty"`
	AccessURLs   AccessURLs   `json:"access_urls" yaml:"access_urls"`
	Availability Availability `json:"availability" yaml:"availability"`
}

// HasDOI reports whether the record carries a non-blank DOI.
func (p PaperRecord) HasDOI() bool {
	return strings.TrimSpace(p.DOI) != ""
}

// PubMedURLFor returns the canonical PubMed page for pmid.
func PubMedURLFor(pmid string) string {
	if pmid == "" {
		return ""
	}
	return fmt.Sprintf("https://pubmed.ncbi.nlm.nih.gov/%s/", pmid)
}

// NormalizeDOI strips resolver prefixes and whitespace from a DOI.
func NormalizeDOI(doi string) string {
	doi = strings.TrimSpace(doi)
	lower := strings.ToLower(doi)
	for _, prefix := range []string{"https://doi.org/", "http://doi.org/", "https://dx.doi.org/", "http://dx.doi.org/", "doi:"} {
		if strings.HasPrefix(lower, prefix) {
			return strings.TrimSpace(doi[len(prefix):])
		}
	}
	return doi
}

// ComparePapers orders records available first, then findable, then by year,
// all descending. It is suitable for slices.SortStableFunc.
func ComparePapers(a, b PaperRecord) int {
	if a.Availability.IsAvailable != b.Availability.IsAvailable {
		if a.Availability.IsAvailable {
			return -1
		}
		return 1
	}
	if a.Availability.IsFindable != b.Availability.IsFindable {
		if a.Availability.IsFindable {
			return -1
		}
		return 1
	}
	return strings.Compare(b.Year, a.Year)
}
