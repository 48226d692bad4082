// Package unpaywall provides a client for the Unpaywall REST API, which
// reports open-access copies of scholarly articles by DOI.
//
// API documentation: https://unpaywall.org/products/api
package unpaywall

import "strings"

// Response is the subset of an Unpaywall DOI object the service uses.
type Response struct {
	DOI            string     `json:"doi"`
	Title          string     `json:"title,omitempty"`
	IsOA           bool       `json:"is_oa"`
	OAStatus       string     `json:"oa_status,omitempty"`
	BestOALocation *Location  `json:"best_oa_location"`
	OALocations    []Location `json:"oa_locations"`
}

// Location is one place an open-access copy is hosted.
type Location struct {
	URL       string `json:"url"`
	URLForPDF string `json:"url_for_pdf"`
	HostType  string `json:"host_type,omitempty"`
	Version   string `json:"version,omitempty"`
	License   string `json:"license,omitempty"`
}

// ExtractPDFURLs collects candidate PDF URLs from resp: url_for_pdf then url
// of the best location, then of each listed location. Values holding several
// comma-separated URLs are split. The result is trimmed, deduplicated, and in
// discovery order. A nil response yields nil.
func ExtractPDFURLs(resp *Response) []string {
	if resp == nil {
		return nil
	}

	locations := make([]Location, 0, len(resp.OALocations)+1)
	if resp.BestOALocation != nil {
		locations = append(locations, *resp.BestOALocation)
	}
	locations = append(locations, resp.OALocations...)

	var urls []string
	seen := make(map[string]struct{})
	for _, loc := range locations {
		for _, field := range []string{loc.URLForPDF, loc.URL} {
			for _, part := range strings.Split(field, ",") {
				part = strings.TrimSpace(part)
				if part == "" {
					continue
				}
				if _, dup := seen[part]; dup {
					continue
				}
				seen[part] = struct{}{}
				urls = append(urls, part)
			}
		}
	}
	return urls
}
