package normalize

import (
	"strings"

	"github.com/bryan-buckman/feedsync/internal/model"
	"github.com/mmcdole/gofeed/atom"
	ext "github.com/mmcdole/gofeed/extensions"
	jsonfeed "github.com/mmcdole/gofeed/json"
	"github.com/mmcdole/gofeed/rss"
)

// --- RSS 2.0 ---

type rssDocument struct {
	feed *rss.Feed
}

func (d *rssDocument) Format() Format { return FormatRSS }

func (d *rssDocument) Feed() model.Feed {
	f := model.Feed{
		Name:        strings.TrimSpace(d.feed.Title),
		Description: strings.TrimSpace(d.feed.Description),
		SiteURL:     strings.TrimSpace(d.feed.Link),
	}
	if d.feed.Image != nil {
		f.IconURL = strings.TrimSpace(d.feed.Image.URL)
	}
	return f
}

func (d *rssDocument) Items() []model.Item {
	items := make([]model.Item, 0, len(d.feed.Items))
	for _, it := range d.feed.Items {
		if it == nil {
			continue
		}
		var guid, author, dcDate string
		if it.GUID != nil {
			guid = it.GUID.Value
		}
		author = it.Author
		if it.DublinCoreExt != nil {
			if author == "" && len(it.DublinCoreExt.Creator) > 0 {
				author = it.DublinCoreExt.Creator[0]
			}
			if len(it.DublinCoreExt.Date) > 0 {
				dcDate = it.DublinCoreExt.Date[0]
			}
		}
		published := parseDate(it.PubDateParsed, it.PubDate, dcDate)
		link := strings.TrimSpace(it.Link)
		title := strings.TrimSpace(it.Title)

		image := mediaImage(it.Extensions)
		if image == "" && it.Enclosure != nil && strings.HasPrefix(it.Enclosure.Type, "image/") {
			image = strings.TrimSpace(it.Enclosure.URL)
		}

		items = append(items, model.Item{
			GUID:        fallbackGUID(guid, link, title, published),
			Title:       title,
			Author:      strings.TrimSpace(author),
			Link:        link,
			Content:     strings.TrimSpace(it.Content),
			Description: strings.TrimSpace(it.Description),
			ImageLink:   image,
			PublishedAt: published,
		})
	}
	return items
}

// --- Atom ---

type atomDocument struct {
	feed *atom.Feed
}

func (d *atomDocument) Format() Format { return FormatAtom }

func (d *atomDocument) Feed() model.Feed {
	return model.Feed{
		Name:        strings.TrimSpace(d.feed.Title),
		Description: strings.TrimSpace(d.feed.Subtitle),
		SiteURL:     alternateLink(d.feed.Links),
		IconURL:     firstNonEmpty(d.feed.Icon, d.feed.Logo),
	}
}

func (d *atomDocument) Items() []model.Item {
	items := make([]model.Item, 0, len(d.feed.Entries))
	for _, e := range d.feed.Entries {
		if e == nil {
			continue
		}
		published := parseDate(e.PublishedParsed, e.Published)
		if published.IsZero() {
			published = parseDate(e.UpdatedParsed, e.Updated)
		}
		var author, content string
		if len(e.Authors) > 0 && e.Authors[0] != nil {
			author = e.Authors[0].Name
		}
		if e.Content != nil {
			content = e.Content.Value
		}
		link := alternateLink(e.Links)
		title := strings.TrimSpace(e.Title)

		items = append(items, model.Item{
			GUID:        fallbackGUID(e.ID, link, title, published),
			Title:       title,
			Author:      strings.TrimSpace(author),
			Link:        link,
			Content:     strings.TrimSpace(content),
			Description: strings.TrimSpace(e.Summary),
			ImageLink:   mediaImage(e.Extensions),
			PublishedAt: published,
		})
	}
	return items
}

// alternateLink returns the first alternate link, or the first link without rel.
func alternateLink(links []*atom.Link) string {
	var fallback string
	for _, l := range links {
		if l == nil {
			continue
		}
		switch l.Rel {
		case "alternate":
			return strings.TrimSpace(l.Href)
		case "":
			if fallback == "" {
				fallback = strings.TrimSpace(l.Href)
			}
		}
	}
	return fallback
}

// --- JSON Feed ---

type jsonDocument struct {
	feed *jsonfeed.Feed
}

func (d *jsonDocument) Format() Format { return FormatJSON }

func (d *jsonDocument) Feed() model.Feed {
	return model.Feed{
		Name:        strings.TrimSpace(d.feed.Title),
		Description: strings.TrimSpace(d.feed.Description),
		SiteURL:     strings.TrimSpace(d.feed.HomePageURL),
		IconURL:     firstNonEmpty(d.feed.Favicon, d.feed.Icon),
	}
}

func (d *jsonDocument) Items() []model.Item {
	items := make([]model.Item, 0, len(d.feed.Items))
	for _, it := range d.feed.Items {
		if it == nil {
			continue
		}
		published := parseDate(nil, it.DatePublished, it.DateModified)
		link := firstNonEmpty(it.URL, it.ExternalURL)
		title := strings.TrimSpace(it.Title)
		var author string
		if it.Author != nil {
			author = it.Author.Name
		}

		items = append(items, model.Item{
			GUID:        fallbackGUID(it.ID, link, title, published),
			Title:       title,
			Author:      strings.TrimSpace(author),
			Link:        link,
			Content:     firstNonEmpty(it.ContentHTML, it.ContentText),
			Description: strings.TrimSpace(it.Summary),
			ImageLink:   firstNonEmpty(it.Image, it.BannerImage),
			PublishedAt: published,
		})
	}
	return items
}

// mediaImage reads the Media RSS namespace (media:content, media:thumbnail,
// and the same inside media:group).
func mediaImage(exts ext.Extensions) string {
	media, ok := exts["media"]
	if !ok {
		return ""
	}
	if u := imageFromMedia(media); u != "" {
		return u
	}
	for _, group := range media["group"] {
		if u := imageFromMedia(group.Children); u != "" {
			return u
		}
	}
	return ""
}

func imageFromMedia(media map[string][]ext.Extension) string {
	for _, c := range media["content"] {
		u := strings.TrimSpace(c.Attrs["url"])
		if u == "" {
			continue
		}
		medium, typ := c.Attrs["medium"], c.Attrs["type"]
		if medium == "image" || strings.HasPrefix(typ, "image/") || (medium == "" && typ == "") {
			return u
		}
	}
	for _, t := range media["thumbnail"] {
		if u := strings.TrimSpace(t.Attrs["url"]); u != "" {
			return u
		}
	}
	return ""
}
