package main

import (
	"fmt"
	"io"
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/helixir/paper-acquisition-service/internal/domain"
)

// writeYAML encodes v to w with two-space indentation.
func writeYAML(w io.Writer, v any) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode yaml: %w", err)
	}
	return enc.Close()
}

// papersFile is the document form of a paper list, as written by search.
type papersFile struct {
	Papers []domain.PaperRecord `yaml:"papers"`
}

// readPapers decodes a YAML (or JSON) paper list from r. Both a bare list
// and a document with a top-level papers key are accepted. Every record
// must carry a title.
func readPapers(r io.Reader) ([]domain.PaperRecord, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read papers: %w", err)
	}

	var papers []domain.PaperRecord
	if err := yaml.Unmarshal(data, &papers); err != nil {
		var doc papersFile
		if docErr := yaml.Unmarshal(data, &doc); docErr != nil {
			return nil, fmt.Errorf("parse papers: %w", err)
		}
		papers = doc.Papers
	}
	if len(papers) == 0 {
		return nil, domain.NewValidationError("papers", "at least one paper is required")
	}

	validate := validator.New()
	for i, p := range papers {
		if err := validate.Struct(p); err != nil {
			return nil, domain.NewValidationError(fmt.Sprintf("papers[%d].title", i), "is required")
		}
	}
	return papers, nil
}

// readPapersFile reads papers from path, or from stdin when path is "-".
func readPapersFile(path string, stdin io.Reader) ([]domain.PaperRecord, error) {
	if path == "-" {
		return readPapers(stdin)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open papers: %w", err)
	}
	defer f.Close()
	return readPapers(f)
}
