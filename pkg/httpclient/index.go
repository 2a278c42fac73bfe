package httpclient

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/rolloutd/rolloutd/pkg/rolloutstatus"
)

var (
	errNoRows   = errors.New("listing contains no <tr> rows")
	errNoHeader = errors.New("listing's header row contains no <th> cells")
)

// Entry is one file or subdirectory named in a directory listing.
type Entry struct {
	Name  string
	IsDir bool
	// Extra holds any additional opaque columns the native listing format
	// carries (size, mtime, ...), keyed by the header text exactly as the
	// server sent it. Apache- and Nginx-style listings never populate
	// this; the native format preserves whatever columns the server
	// chose to send, even ones this client doesn't interpret.
	Extra map[string]string
}

// Index fetches and parses the directory listing at path, auto-detecting
// which of the three supported formats the server returned.
func (c *Client) Index(ctx context.Context, path string) ([]Entry, error) {
	body, err := c.Fetch(ctx, path)
	if err != nil {
		return nil, err
	}
	html := string(body)

	if strings.Contains(html, "Rolloutd File Listing") {
		return parseNativeListing(html)
	}
	if strings.Contains(html, "<img") {
		return parseApacheListing(html), nil
	}
	if nginxRow.MatchString(html) {
		return parseNginxListing(html), nil
	}
	return nil, rolloutstatus.NewConfigError(path, fmt.Errorf("unrecognized directory listing format"))
}

var nativeHeaderRow = regexp.MustCompile(`(?is)<tr[^>]*>(.*?)</tr>`)
var nativeHeaderCell = regexp.MustCompile(`(?is)<th[^>]*>(.*?)</th>`)
var nativeDataCell = regexp.MustCompile(`(?is)<td[^>]*>(.*?)</td>`)
var nativeRowNameLink = regexp.MustCompile(`(?is)<a[^>]+href="([^"]+)"[^>]*>`)

// parseNativeListing parses the "Rolloutd File Listing" table format: a
// <table> whose header row's <th> cells name each column (the first
// column is always the entry name, linked with <a>), and whose body rows
// carry one <td> per header. Unknown header columns are preserved
// verbatim in Entry.Extra rather than dropped, since a newer server may
// add columns this client doesn't know how to interpret yet.
func parseNativeListing(html string) ([]Entry, error) {
	rows := nativeHeaderRow.FindAllStringSubmatch(html, -1)
	if len(rows) == 0 {
		return nil, rolloutstatus.NewHTTPError("parse native listing", errNoRows)
	}

	headerCells := nativeHeaderCell.FindAllStringSubmatch(rows[0][1], -1)
	if len(headerCells) == 0 {
		return nil, rolloutstatus.NewHTTPError("parse native listing", errNoHeader)
	}
	headers := make([]string, len(headerCells))
	for i, h := range headerCells {
		headers[i] = strings.TrimSpace(stripTags(h[1]))
	}

	var entries []Entry
	for _, row := range rows[1:] {
		cells := nativeDataCell.FindAllStringSubmatch(row[1], -1)
		if len(cells) == 0 {
			continue
		}

		entry := Entry{Extra: make(map[string]string)}
		for i, cell := range cells {
			raw := cell[1]
			if i == 0 {
				if m := nativeRowNameLink.FindStringSubmatch(raw); m != nil {
					entry.Name = strings.TrimSuffix(m[1], "/")
					entry.IsDir = strings.HasSuffix(m[1], "/")
				} else {
					entry.Name = strings.TrimSpace(stripTags(raw))
				}
				continue
			}
			if i < len(headers) {
				entry.Extra[headers[i]] = strings.TrimSpace(stripTags(raw))
			}
		}
		if entry.Name != "" && entry.Name != ".." && !strings.Contains(entry.Name, "?") {
			entries = append(entries, entry)
		}
	}
	return entries, nil
}

var apacheRow = regexp.MustCompile(`(?is)<img[^>]*>\s*<a href="([^"?]+)"[^>]*>`)

// parseApacheListing parses Apache's mod_autoindex HTML: each entry is an
// <img> icon immediately followed by an <a href="name">.
func parseApacheListing(html string) []Entry {
	var entries []Entry
	for _, m := range apacheRow.FindAllStringSubmatch(html, -1) {
		href := m[1]
		if href == "/" || href == "../" {
			continue
		}
		entries = append(entries, Entry{
			Name:  strings.TrimSuffix(href, "/"),
			IsDir: strings.HasSuffix(href, "/"),
		})
	}
	return entries
}

var nginxRow = regexp.MustCompile(`(?is)<a href="([^"?]+)"[^>]*>`)

// parseNginxListing parses Nginx's autoindex HTML: a bare <a href="name">
// per entry, with no icon markup.
func parseNginxListing(html string) []Entry {
	var entries []Entry
	for _, m := range nginxRow.FindAllStringSubmatch(html, -1) {
		href := m[1]
		if href == "/" || href == "../" || href == "." {
			continue
		}
		entries = append(entries, Entry{
			Name:  strings.TrimSuffix(href, "/"),
			IsDir: strings.HasSuffix(href, "/"),
		})
	}
	return entries
}

var tagPattern = regexp.MustCompile(`<[^>]*>`)

func stripTags(s string) string {
	return tagPattern.ReplaceAllString(s, "")
}
