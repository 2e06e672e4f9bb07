// Package content derives the display fields of an item from its HTML:
// clean description, image link, cover-image removal and read time.
package content

import (
	"html"
	"math"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/bryan-buckman/feedsync/internal/model"
	"github.com/microcosm-cc/bluemonday"
	xhtml "golang.org/x/net/html"
)

// WordsPerMinute is the assumed reading speed.
const WordsPerMinute = 245

// Processor enriches items before they are inserted.
// It is safe for concurrent use.
type Processor struct {
	stripTagsPolicy *bluemonday.Policy
}

// NewProcessor creates a processor.
func NewProcessor() *Processor {
	p := bluemonday.StripTagsPolicy()
	p.AddSpaceWhenStrippingTag(true)
	return &Processor{stripTagsPolicy: p}
}

// Process returns a copy of item with the derived fields filled in.
// siteURL is used to resolve relative image sources.
func (p *Processor) Process(item model.Item, siteURL string) model.Item {
	out := item

	if out.Description != "" {
		out.CleanDescription = p.CleanText(out.Description)
		if out.ImageLink == "" {
			out.ImageLink = DescImageLink(out.Description, siteURL)
		}
	}

	// The image link may come from a media field as well, so check again.
	if out.ImageLink != "" {
		if out.Content != "" {
			out.Content = DeleteCoverImage(out.Content)
		} else if out.Description != "" {
			out.Description = DeleteCoverImage(out.Description)
		}
	}

	switch {
	case out.Content != "":
		out.ReadTime = ReadTime(p.CleanText(out.Content))
	case out.Description != "":
		out.ReadTime = ReadTime(out.CleanDescription)
	}
	return out
}

// CleanText strips every tag from s and returns its text with entities
// decoded and whitespace collapsed.
func (p *Processor) CleanText(s string) string {
	text := html.UnescapeString(p.stripTagsPolicy.Sanitize(s))
	return strings.Join(strings.Fields(text), " ")
}

// ReadTime estimates the minutes needed to read text. Never less than 1.
func ReadTime(text string) int {
	words := len(strings.Fields(text))
	minutes := int(math.Round(float64(words) / WordsPerMinute))
	if minutes < 1 {
		return 1
	}
	return minutes
}

// DescImageLink returns the source of the first <img> of description that
// resolves to an absolute URL against siteURL, or "".
func DescImageLink(description, siteURL string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(description))
	if err != nil {
		return ""
	}
	base, _ := url.Parse(siteURL)

	var link string
	doc.Find("img[src]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		src, _ := s.Attr("src")
		if resolved := resolve(base, src); resolved != "" {
			link = resolved
			return false
		}
		return true
	})
	return link
}

func resolve(base *url.URL, src string) string {
	src = strings.TrimSpace(src)
	if src == "" || strings.HasPrefix(src, "data:") {
		return ""
	}
	ref, err := url.Parse(src)
	if err != nil {
		return ""
	}
	if ref.IsAbs() && ref.Host != "" {
		return ref.String()
	}
	if base == nil || !base.IsAbs() || base.Host == "" {
		return ""
	}
	return base.ResolveReference(ref).String()
}

// DeleteCoverImage removes the image the HTML starts with, if any. An image
// is leading when no text precedes it. A wrapper left empty by the removal
// (a <p> or <figure> holding only the image) goes with it. Input without a
// leading image is returned unchanged.
func DeleteCoverImage(s string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(s))
	if err != nil {
		return s
	}
	body := doc.Find("body")
	if body.Length() == 0 {
		return s
	}

	img := leadingImage(body.Nodes[0])
	if img == nil {
		return s
	}

	target := img
	for parent := img.Parent; parent != nil && parent != body.Nodes[0]; parent = parent.Parent {
		if hasOtherContent(parent, target) {
			break
		}
		target = parent
	}
	target.Parent.RemoveChild(target)

	out, err := body.Html()
	if err != nil {
		return s
	}
	return strings.TrimSpace(out)
}

// leadingImage returns the first <img> under n if no visible text comes before it.
func leadingImage(n *xhtml.Node) *xhtml.Node {
	var found *xhtml.Node
	var blocked bool
	var walk func(*xhtml.Node)
	walk = func(n *xhtml.Node) {
		for c := n.FirstChild; c != nil && found == nil && !blocked; c = c.NextSibling {
			switch {
			case c.Type == xhtml.TextNode:
				if strings.TrimSpace(c.Data) != "" {
					blocked = true
				}
			case c.Type == xhtml.ElementNode && c.Data == "img":
				found = c
			case c.Type == xhtml.ElementNode:
				walk(c)
			}
		}
	}
	walk(n)
	return found
}

// hasOtherContent reports whether n holds anything besides child and whitespace.
func hasOtherContent(n, child *xhtml.Node) bool {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c == child {
			continue
		}
		if c.Type == xhtml.TextNode && strings.TrimSpace(c.Data) == "" {
			continue
		}
		if c.Type == xhtml.CommentNode {
			continue
		}
		return true
	}
	return false
}
