package extract

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ledongthuc/pdf"
)

// PDFExtractor is the pure-Go backend built on ledongthuc/pdf.
type PDFExtractor struct {
	logger *slog.Logger
}

func NewPDFExtractor() *PDFExtractor {
	return &PDFExtractor{logger: slog.Default()}
}

// Extract returns one entry per page. A page whose content stream cannot be
// decoded yields an empty string rather than failing the document.
func (e *PDFExtractor) Extract(ctx context.Context, path string) (doc Document, err error) {
	// The parser panics on some malformed streams.
	defer func() {
		if r := recover(); r != nil {
			err = extractionError(path, fmt.Errorf("parser panic: %v", r))
		}
	}()

	f, r, err := pdf.Open(path)
	if err != nil {
		return Document{}, extractionError(path, err)
	}
	defer f.Close()

	n := r.NumPage()
	if n == 0 {
		return Document{}, extractionError(path, fmt.Errorf("no pages"))
	}

	doc.Pages = make([]string, 0, n)
	fonts := make(map[string]*pdf.Font)
	for i := 1; i <= n; i++ {
		if err := ctx.Err(); err != nil {
			return Document{}, err
		}
		p := r.Page(i)
		if p.V.IsNull() {
			doc.Pages = append(doc.Pages, "")
			continue
		}
		for _, name := range p.Fonts() {
			if _, ok := fonts[name]; !ok {
				font := p.Font(name)
				fonts[name] = &font
			}
		}
		text, err := p.GetPlainText(fonts)
		if err != nil {
			e.logger.Warn("page text extraction failed", "file", path, "page", i, "error", err)
			text = ""
		}
		doc.Pages = append(doc.Pages, text)
	}

	info := r.Trailer().Key("Info")
	doc.Title = strings.TrimSpace(info.Key("Title").Text())
	doc.Author = strings.TrimSpace(info.Key("Author").Text())
	return doc, nil
}
