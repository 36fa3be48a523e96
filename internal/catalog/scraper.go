// Package catalog turns the remote factory-image catalog page into candidate
// update packages for the running device.
package catalog

import (
	"bytes"
	"context"
	"log/slog"
	"net/url"
	"regexp"
	"strings"

	"golang.org/x/net/html"

	"github.com/mrevell/slotstream/internal/errs"
	"github.com/mrevell/slotstream/internal/httprange"
)

// dateToken is the 6-digit YYMMDD token embedded in build ids and catalog
// version strings, e.g. "BP1A.250405.004".
var dateToken = regexp.MustCompile(`\b\d{6}\b`)

// Candidate is one catalog row applicable to the running device.
type Candidate struct {
	Version string
	URL     string
	Date    string
}

// Scraper fetches and filters the catalog page.
type Scraper struct {
	fetcher *httprange.Fetcher
	log     *slog.Logger

	// CatalogURL is the page listing per-device update packages.
	CatalogURL string
}

// NewScraper creates a catalog scraper over fetcher.
func NewScraper(fetcher *httprange.Fetcher, catalogURL string) *Scraper {
	return &Scraper{
		fetcher:    fetcher,
		log:        slog.Default().With("component", "catalog"),
		CatalogURL: catalogURL,
	}
}

// Fetch downloads the catalog page and returns the filtered candidates for
// deviceID. buildID is the running build id; its embedded date gates the
// anti-downgrade filter.
func (s *Scraper) Fetch(ctx context.Context, deviceID, buildID string, allowReinstall bool) ([]Candidate, error) {
	page, err := s.fetcher.Get(ctx, s.CatalogURL)
	if err != nil {
		return nil, err
	}
	candidates, err := Scrape(page, s.CatalogURL, deviceID, buildID, allowReinstall)
	if err != nil {
		return nil, err
	}
	s.log.InfoContext(ctx, "Scraped update catalog",
		"device", deviceID, "candidates", len(candidates))
	return candidates, nil
}

// Scrape parses the catalog HTML and returns candidates for deviceID whose
// dates pass the anti-downgrade rule. Candidates dated strictly before the
// running build are always dropped; equal-dated candidates are dropped only
// when reinstall is disallowed.
func Scrape(page []byte, baseURL, deviceID, buildID string, allowReinstall bool) ([]Candidate, error) {
	buildDate, err := extractDate(buildID)
	if err != nil {
		return nil, err
	}

	doc, err := html.Parse(bytes.NewReader(page))
	if err != nil {
		return nil, errs.Wrap(errs.KindFormat, err, "parse catalog page")
	}

	table := deviceTable(doc, deviceID)
	if table == nil {
		return nil, errs.New(errs.KindFormat, "catalog has no section for device %q", deviceID)
	}

	rows := tableRows(table)
	if len(rows) == 0 {
		return nil, errs.New(errs.KindFormat, "device table for %q has no rows", deviceID)
	}

	var out []Candidate
	for _, row := range rows[1:] { // first row is the column header
		c, err := parseRow(row, baseURL)
		if err != nil {
			return nil, err
		}

		if c.Date < buildDate {
			continue
		}
		if c.Date == buildDate && !allowReinstall {
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

// deviceTable finds the <table> following the <h2 id=deviceID> heading.
func deviceTable(doc *html.Node, deviceID string) *html.Node {
	heading := findNode(doc, func(n *html.Node) bool {
		return n.Type == html.ElementNode && n.Data == "h2" && attr(n, "id") == deviceID
	})
	if heading == nil {
		return nil
	}
	for sib := heading.NextSibling; sib != nil; sib = sib.NextSibling {
		if sib.Type == html.ElementNode && sib.Data == "table" {
			return sib
		}
	}
	return nil
}

// tableRows collects every <tr> under table, looking through thead/tbody.
func tableRows(table *html.Node) []*html.Node {
	var rows []*html.Node
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if c.Type == html.ElementNode && c.Data == "tr" {
				rows = append(rows, c)
				continue
			}
			walk(c)
		}
	}
	walk(table)
	return rows
}

// parseRow extracts the version cell and download link of one table row.
func parseRow(row *html.Node, baseURL string) (Candidate, error) {
	var cells []*html.Node
	for c := row.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode && c.Data == "td" {
			cells = append(cells, c)
		}
	}
	if len(cells) < 2 {
		return Candidate{}, errs.New(errs.KindFormat, "catalog row has %d cells, want at least 2", len(cells))
	}

	version := strings.TrimSpace(nodeText(cells[0]))
	link := findNode(cells[1], func(n *html.Node) bool {
		return n.Type == html.ElementNode && n.Data == "a"
	})
	if link == nil {
		return Candidate{}, errs.New(errs.KindFormat, "catalog row %q has no download link", version)
	}
	href := attr(link, "href")
	if href == "" {
		return Candidate{}, errs.New(errs.KindFormat, "catalog row %q link has no href", version)
	}

	resolved, err := resolveURL(baseURL, href)
	if err != nil {
		return Candidate{}, err
	}
	date, err := extractDate(version)
	if err != nil {
		return Candidate{}, err
	}

	return Candidate{Version: version, URL: resolved, Date: date}, nil
}

// extractDate pulls the 6-digit date token out of a build id or version
// string. A missing token is a hard format error, not a skip.
func extractDate(s string) (string, error) {
	token := dateToken.FindString(s)
	if token == "" {
		return "", errs.New(errs.KindFormat, "no date token in %q", s)
	}
	return token, nil
}

func resolveURL(base, href string) (string, error) {
	if base == "" {
		return href, nil
	}
	b, err := url.Parse(base)
	if err != nil {
		return "", errs.Wrap(errs.KindFormat, err, "parse base URL")
	}
	h, err := url.Parse(href)
	if err != nil {
		return "", errs.Wrap(errs.KindFormat, err, "parse link %q", href)
	}
	return b.ResolveReference(h).String(), nil
}

func findNode(n *html.Node, pred func(*html.Node) bool) *html.Node {
	if pred(n) {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findNode(c, pred); found != nil {
			return found
		}
	}
	return nil
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func nodeText(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return b.String()
}
