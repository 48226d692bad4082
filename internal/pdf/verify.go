package pdf

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/pdfcpu/pdfcpu/pkg/api"

	"github.com/helixir/paper-acquisition-service/internal/domain"
)

var magic = []byte("%PDF")

// save streams a downloadable response to a temporary file beside dest,
// verifies it, and renames it into place. Nothing is left behind on failure.
func (f *Fetcher) save(resp *http.Response, dest string) (res *Result, err error) {
	dir := filepath.Dir(dest)
	tmp, err := os.CreateTemp(dir, ".fetch-*.part")
	if err != nil {
		return nil, fmt.Errorf("create temp file in %s: %w", dir, err)
	}
	tmpPath := tmp.Name()
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmpPath)
		}
	}()

	hasher := sha256.New()
	n, err := io.Copy(io.MultiWriter(tmp, hasher), io.LimitReader(resp.Body, f.config.MaxSize+1))
	if err != nil {
		return nil, domain.WrapTransportError(err)
	}

	if n > f.config.MaxSize {
		return nil, fmt.Errorf("%w: exceeded %d bytes", domain.ErrFileTooLarge, f.config.MaxSize)
	}
	if n < f.config.MinSize {
		return nil, fmt.Errorf("%w: %d bytes, minimum is %d", domain.ErrUndersizedFile, n, f.config.MinSize)
	}
	if err := checkMagic(tmp); err != nil {
		return nil, err
	}
	if err := tmp.Close(); err != nil {
		return nil, fmt.Errorf("close temp file: %w", err)
	}

	var pages int
	if f.config.StrictValidation {
		if pages, err = CountPages(tmpPath); err != nil {
			return nil, err
		}
	}

	if err := os.Rename(tmpPath, dest); err != nil {
		return nil, fmt.Errorf("move pdf into place: %w", err)
	}

	return &Result{
		Path:        dest,
		URL:         resp.Request.URL.String(),
		SizeBytes:   n,
		ContentHash: hex.EncodeToString(hasher.Sum(nil)),
		ContentType: resp.Header.Get("Content-Type"),
		PageCount:   pages,
	}, nil
}

func checkMagic(r io.ReaderAt) error {
	head := make([]byte, len(magic))
	if _, err := r.ReadAt(head, 0); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrBadMagicNumber, err)
	}
	if !bytes.Equal(head, magic) {
		return fmt.Errorf("%w: file starts with %q", domain.ErrBadMagicNumber, head)
	}
	return nil
}

// CountPages parses the PDF at path and returns its page count. Files that
// cannot be parsed or have no pages wrap domain.ErrCorruptPDF.
func CountPages(path string) (pages int, err error) {
	defer func() {
		if r := recover(); r != nil {
			pages, err = 0, fmt.Errorf("%w: parser panic: %v", domain.ErrCorruptPDF, r)
		}
	}()

	pages, err = api.PageCountFile(path)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", domain.ErrCorruptPDF, err)
	}
	if pages == 0 {
		return 0, fmt.Errorf("%w: no pages", domain.ErrCorruptPDF)
	}
	return pages, nil
}
