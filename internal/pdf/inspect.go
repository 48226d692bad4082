package pdf

import (
	"fmt"
	"regexp"
	"strings"

	ledongthuc "github.com/ledongthuc/pdf"

	"github.com/helixir/paper-acquisition-service/internal/domain"
)

// doiPattern matches 10.XXXX/... where XXXX is 4 to 9 digits.
var doiPattern = regexp.MustCompile(`10\.\d{4,9}/[^\s<>"{}|\\^~\[\]` + "`" + `]+`)

// inspectPages is how many leading pages are searched for DOIs.
const inspectPages = 3

// ExtractDOIs returns the DOIs printed on the first pages of the PDF at
// path, in order of appearance. A readable PDF without DOIs yields nil.
func ExtractDOIs(path string) (dois []string, err error) {
	defer func() {
		if r := recover(); r != nil {
			dois, err = nil, fmt.Errorf("%w: text extraction panic: %v", domain.ErrCorruptPDF, r)
		}
	}()

	f, r, err := ledongthuc.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrCorruptPDF, err)
	}
	defer f.Close()

	maxPages := min(r.NumPage(), inspectPages)
	seen := make(map[string]struct{})
	for i := 1; i <= maxPages; i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		for _, doi := range findDOIs(text) {
			key := strings.ToLower(doi)
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			dois = append(dois, doi)
		}
	}
	return dois, nil
}

// ContainsDOI reports whether doi is printed on the first pages of the PDF
// at path. Comparison ignores case.
func ContainsDOI(path, doi string) (bool, error) {
	want := strings.ToLower(domain.NormalizeDOI(doi))
	if want == "" {
		return false, domain.ErrNoDOI
	}
	found, err := ExtractDOIs(path)
	if err != nil {
		return false, err
	}
	for _, d := range found {
		if strings.ToLower(d) == want {
			return true, nil
		}
	}
	return false, nil
}

func findDOIs(text string) []string {
	var out []string
	for _, match := range doiPattern.FindAllString(text, -1) {
		match = strings.TrimRight(match, ".,;:)")
		if isValidDOI(match) {
			out = append(out, match)
		}
	}
	return out
}

// isValidDOI performs basic validation on a DOI.
func isValidDOI(doi string) bool {
	if len(doi) < 10 || !strings.HasPrefix(doi, "10.") {
		return false
	}
	slash := strings.Index(doi, "/")
	return slash != -1 && slash < len(doi)-1
}
