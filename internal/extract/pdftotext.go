package extract

import (
	"context"
	"os"
	"strings"

	"code.sajari.com/docconv"
)

// PdftotextExtractor shells out to poppler's pdftotext through docconv. It
// handles layouts the pure-Go parser struggles with. Pages come from the form
// feeds pdftotext emits; output without them is one page. Title and author
// come from docconv's metadata.
type PdftotextExtractor struct{}

func NewPdftotextExtractor() *PdftotextExtractor {
	return &PdftotextExtractor{}
}

func (PdftotextExtractor) Extract(ctx context.Context, path string) (Document, error) {
	if err := ctx.Err(); err != nil {
		return Document{}, err
	}
	f, err := os.Open(path)
	if err != nil {
		return Document{}, extractionError(path, err)
	}
	defer f.Close()

	body, meta, err := docconv.ConvertPDF(f)
	if err != nil {
		return Document{}, extractionError(path, err)
	}
	return Document{
		Pages:  splitPages(body),
		Title:  strings.TrimSpace(meta["Title"]),
		Author: strings.TrimSpace(meta["Author"]),
	}, nil
}

// splitPages splits on form feeds when present and drops a trailing empty page.
func splitPages(body string) []string {
	pages := strings.Split(body, "\f")
	if len(pages) > 1 && strings.TrimSpace(pages[len(pages)-1]) == "" {
		pages = pages[:len(pages)-1]
	}
	return pages
}
