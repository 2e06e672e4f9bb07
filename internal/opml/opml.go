// Package opml handles importing and exporting OPML subscription lists.
package opml

import (
	"encoding/xml"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/bryan-buckman/feedsync/internal/model"
)

// OPML represents the root of an OPML document.
type OPML struct {
	XMLName xml.Name `xml:"opml"`
	Version string   `xml:"version,attr"`
	Head    Head     `xml:"head"`
	Body    Body     `xml:"body"`
}

// Head contains OPML metadata.
type Head struct {
	Title       string `xml:"title,omitempty"`
	DateCreated string `xml:"dateCreated,omitempty"`
}

// Body contains the outlines.
type Body struct {
	Outlines []Outline `xml:"outline"`
}

// Outline represents a single outline element (folder or feed).
type Outline struct {
	Text     string    `xml:"text,attr"`
	Title    string    `xml:"title,attr,omitempty"`
	Type     string    `xml:"type,attr,omitempty"`
	XMLURL   string    `xml:"xmlUrl,attr,omitempty"`
	HTMLURL  string    `xml:"htmlUrl,attr,omitempty"`
	Outlines []Outline `xml:"outline,omitempty"`
}

// FeedEntry represents a flattened feed with its folder path.
type FeedEntry struct {
	FolderPath []string // e.g., ["Tech", "Google"]
	Title      string
	URL        string
	SiteURL    string
}

// Folder is the name of the folder the entry goes to. Folders are flat, so
// nested outlines are joined with "/". Empty means the root.
func (e FeedEntry) Folder() string {
	return strings.Join(e.FolderPath, "/")
}

// Parse reads an OPML document and returns a flat list of FeedEntry, in
// document order and without repeated URLs.
func Parse(r io.Reader) ([]FeedEntry, error) {
	var doc OPML
	if err := xml.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode opml: %w", err)
	}
	var entries []FeedEntry
	seen := make(map[string]bool)
	var walk func(outlines []Outline, path []string)
	walk = func(outlines []Outline, path []string) {
		for _, o := range outlines {
			switch {
			case o.XMLURL != "":
				url := strings.TrimSpace(o.XMLURL)
				if seen[url] {
					continue
				}
				seen[url] = true
				title := o.Title
				if title == "" {
					title = o.Text
				}
				entries = append(entries, FeedEntry{
					FolderPath: append([]string{}, path...),
					Title:      strings.TrimSpace(title),
					URL:        url,
					SiteURL:    o.HTMLURL,
				})
			case len(o.Outlines) > 0:
				name := o.Text
				if name == "" {
					name = o.Title
				}
				walk(o.Outlines, append(path, strings.TrimSpace(name)))
			}
		}
	}
	walk(doc.Body.Outlines, nil)
	return entries, nil
}

// Export generates an OPML document of feeds grouped by folder. Folders and
// feeds are sorted by name; feeds without a known folder go to the root.
func Export(title string, folders []model.Folder, feeds []model.Feed) ([]byte, error) {
	doc := OPML{
		Version: "2.0",
		Head: Head{
			Title:       title,
			DateCreated: time.Now().Format(time.RFC1123Z),
		},
	}

	folderOutlines := make(map[int64]*Outline, len(folders))
	for _, f := range folders {
		folderOutlines[f.ID] = &Outline{Text: f.Name, Title: f.Name}
	}

	sorted := append([]model.Feed{}, feeds...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return strings.ToLower(sorted[i].Name) < strings.ToLower(sorted[j].Name)
	})

	var rootOutlines []Outline
	for _, feed := range sorted {
		feedOutline := Outline{
			Text:    feed.Name,
			Title:   feed.Name,
			Type:    "rss",
			XMLURL:  feed.URL,
			HTMLURL: feed.SiteURL,
		}
		if feed.FolderID != nil {
			if fo, ok := folderOutlines[*feed.FolderID]; ok {
				fo.Outlines = append(fo.Outlines, feedOutline)
				continue
			}
		}
		rootOutlines = append(rootOutlines, feedOutline)
	}

	sortedFolders := append([]model.Folder{}, folders...)
	sort.SliceStable(sortedFolders, func(i, j int) bool { return sortedFolders[i].Name < sortedFolders[j].Name })
	var folderList []Outline
	for _, f := range sortedFolders {
		if fo := folderOutlines[f.ID]; len(fo.Outlines) > 0 {
			folderList = append(folderList, *fo)
		}
	}
	doc.Body.Outlines = append(folderList, rootOutlines...)

	output, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, err
	}
	return append([]byte(xml.Header), output...), nil
}
