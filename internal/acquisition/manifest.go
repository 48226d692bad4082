package acquisition

import (
	"strconv"
	"strings"

	"github.com/helixir/paper-acquisition-service/internal/domain"
)

// ManifestName is the manifest's file name inside the archive.
const ManifestName = "papers_manifest.txt"

const notAvailable = "N/A"

// RenderManifest describes every paper of a batch, in input order, whether
// or not it was downloaded.
func RenderManifest(papers []domain.PaperRecord) string {
	var b strings.Builder
	for _, p := range papers {
		writeField(&b, "Title", p.Title)
		writeField(&b, "Authors", p.Authors)
		writeField(&b, "Year", p.Year)
		writeField(&b, "Journal", p.Journal)
		writeField(&b, "DOI", p.DOI)
		writeField(&b, "PubMed URL", p.PubMedURL)
		writeField(&b, "Abstract", p.Abstract)

		b.WriteString("Access URLs:\n")
		writeField(&b, "  - DOI", p.AccessURLs.DOI)
		writeField(&b, "  - LibKey", p.AccessURLs.LibKey)
		writeField(&b, "  - Unpaywall", strings.Join(p.AccessURLs.Unpaywall, ", "))
		writeField(&b, "  - Sci-Hub", p.AccessURLs.SciHub)

		sources := make([]string, len(p.Availability.Sources))
		for i, s := range p.Availability.Sources {
			sources[i] = string(s)
		}
		b.WriteString("Availability:\n")
		writeField(&b, "  - Is Available", strconv.FormatBool(p.Availability.IsAvailable))
		b.WriteString("  - Sources: " + strings.Join(sources, ", ") + "\n")
		b.WriteString("\n---\n\n")
	}
	return b.String()
}

func writeField(b *strings.Builder, label, value string) {
	value = strings.TrimSpace(value)
	if value == "" {
		value = notAvailable
	}
	b.WriteString(label)
	b.WriteString(": ")
	b.WriteString(value)
	b.WriteByte('\n')
}
