package arxiv

import (
	"encoding/xml"
	"fmt"
	"io"
	"strings"
	"time"

	"golang.org/x/net/html/charset"
)

// PaperInfo is the metadata of one catalog entry.
type PaperInfo struct {
	PaperID    string    `json:"paperId"`
	Title      string    `json:"title"`
	Authors    string    `json:"authors"`
	Summary    string    `json:"summary"`
	Published  time.Time `json:"published"`
	PDFURL     string    `json:"pdfUrl"`
	Categories []string  `json:"categories,omitempty"`
}

type atomFeed struct {
	Entries []atomEntry `xml:"http://www.w3.org/2005/Atom entry"`
}

type atomEntry struct {
	ID         string         `xml:"http://www.w3.org/2005/Atom id"`
	Title      string         `xml:"http://www.w3.org/2005/Atom title"`
	Summary    string         `xml:"http://www.w3.org/2005/Atom summary"`
	Published  string         `xml:"http://www.w3.org/2005/Atom published"`
	Authors    []atomAuthor   `xml:"http://www.w3.org/2005/Atom author"`
	Links      []atomLink     `xml:"http://www.w3.org/2005/Atom link"`
	Categories []atomCategory `xml:"http://www.w3.org/2005/Atom category"`
}

type atomAuthor struct {
	Name string `xml:"http://www.w3.org/2005/Atom name"`
}

type atomLink struct {
	Href  string `xml:"href,attr"`
	Type  string `xml:"type,attr"`
	Title string `xml:"title,attr"`
}

type atomCategory struct {
	Term string `xml:"term,attr"`
}

// parseFeed decodes an Atom response. Entries without an id are skipped.
func parseFeed(r io.Reader, pdfBase string) ([]PaperInfo, error) {
	dec := xml.NewDecoder(r)
	dec.CharsetReader = charset.NewReaderLabel

	var feed atomFeed
	if err := dec.Decode(&feed); err != nil {
		return nil, fmt.Errorf("parsing atom feed: %w", err)
	}

	papers := make([]PaperInfo, 0, len(feed.Entries))
	for _, e := range feed.Entries {
		id := paperID(e.ID)
		if id == "" {
			continue
		}
		p := PaperInfo{
			PaperID: id,
			Title:   collapse(e.Title),
			Summary: collapse(e.Summary),
			PDFURL:  pdfLink(e.Links),
		}
		if p.PDFURL == "" {
			p.PDFURL = pdfBase + id + ".pdf"
		}
		names := make([]string, 0, len(e.Authors))
		for _, a := range e.Authors {
			if name := collapse(a.Name); name != "" {
				names = append(names, name)
			}
		}
		p.Authors = strings.Join(names, ", ")
		if t, err := time.Parse(time.RFC3339, strings.TrimSpace(e.Published)); err == nil {
			p.Published = t
		}
		for _, c := range e.Categories {
			if c.Term != "" {
				p.Categories = append(p.Categories, c.Term)
			}
		}
		papers = append(papers, p)
	}
	return papers, nil
}

// paperID extracts "2401.12345v1" from "http://arxiv.org/abs/2401.12345v1".
func paperID(entryID string) string {
	entryID = strings.TrimSpace(entryID)
	if i := strings.LastIndex(entryID, "/abs/"); i >= 0 {
		return entryID[i+len("/abs/"):]
	}
	return entryID
}

func pdfLink(links []atomLink) string {
	for _, l := range links {
		if l.Type == "application/pdf" || l.Title == "pdf" || strings.Contains(l.Href, "/pdf/") {
			return l.Href
		}
	}
	return ""
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
