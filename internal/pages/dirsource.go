// Package pages loads pre-rendered page images from the filesystem.
package pages

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"unicode"

	"github.com/greycellz/formscan/internal/domain"
	"github.com/greycellz/formscan/internal/observability"
)

// mimeByExt maps supported page-image extensions to their MIME types.
// Anything else in the directory is skipped.
var mimeByExt = map[string]string{
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".webp": "image/webp",
}

// DirSource reads a directory of page images, one image per page, and
// implements domain.PageSource. Rasterization happens upstream; this
// source only orders and tags what it finds.
type DirSource struct {
	logger *observability.Logger
}

// NewDirSource creates a directory-backed page source.
func NewDirSource(logger *observability.Logger) *DirSource {
	if logger == nil {
		logger = observability.Nop()
	}
	return &DirSource{logger: logger.WithComponent("pages")}
}

// Pages lists the supported images under dir in natural filename order
// (page_2 before page_10) and assigns 1-based page numbers in that
// order. Fails when the directory is missing or holds no images.
func (s *DirSource) Pages(ctx context.Context, dir string) ([]domain.PageImage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, domain.IOError(fmt.Sprintf("Failed to read page directory %s", dir), err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if _, ok := mimeByExt[strings.ToLower(filepath.Ext(e.Name()))]; ok {
			names = append(names, e.Name())
		}
	}
	if len(names) == 0 {
		return nil, domain.InputError(fmt.Sprintf("no page images found in %s", dir), nil)
	}

	sort.Slice(names, func(i, j int) bool { return naturalLess(names[i], names[j]) })

	images := make([]domain.PageImage, len(names))
	for i, name := range names {
		images[i] = domain.PageImage{
			PageNumber: i + 1,
			Path:       filepath.Join(dir, name),
			MIME:       mimeByExt[strings.ToLower(filepath.Ext(name))],
		}
	}

	s.logger.Debug().Str("dir", dir).Int("pages", len(images)).Msg("Loaded page images")
	return images, nil
}

// naturalLess compares filenames so embedded numbers sort numerically.
func naturalLess(a, b string) bool {
	for len(a) > 0 && len(b) > 0 {
		aDigit := unicode.IsDigit(rune(a[0]))
		bDigit := unicode.IsDigit(rune(b[0]))

		if aDigit && bDigit {
			aNum, aRest := splitLeadingNumber(a)
			bNum, bRest := splitLeadingNumber(b)
			if aNum != bNum {
				return aNum < bNum
			}
			a, b = aRest, bRest
			continue
		}
		if a[0] != b[0] {
			return a[0] < b[0]
		}
		a, b = a[1:], b[1:]
	}
	return len(a) < len(b)
}

func splitLeadingNumber(s string) (int, string) {
	i := 0
	for i < len(s) && unicode.IsDigit(rune(s[i])) {
		i++
	}
	n := 0
	for _, ch := range s[:i] {
		n = n*10 + int(ch-'0')
	}
	return n, s[i:]
}
