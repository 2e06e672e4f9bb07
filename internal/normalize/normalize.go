// Package normalize converts RSS 2.0, Atom and JSON Feed documents into the
// canonical feed and item model.
//
// The format is detected once, in Parse. Everything downstream goes through
// the Document interface and never looks at the format again.
package normalize

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"github.com/araddon/dateparse"
	"github.com/bryan-buckman/feedsync/internal/feederr"
	"github.com/bryan-buckman/feedsync/internal/model"
	"github.com/mmcdole/gofeed"
	"github.com/mmcdole/gofeed/atom"
	jsonfeed "github.com/mmcdole/gofeed/json"
	"github.com/mmcdole/gofeed/rss"
)

// Format is the syndication format of a document.
type Format int

const (
	FormatRSS Format = iota + 1
	FormatAtom
	FormatJSON
)

func (f Format) String() string {
	switch f {
	case FormatRSS:
		return "rss"
	case FormatAtom:
		return "atom"
	case FormatJSON:
		return "json"
	}
	return "unknown"
}

// ErrUnknownFormat is wrapped in the Format error returned for documents
// that are neither RSS, Atom nor JSON Feed.
var ErrUnknownFormat = errors.New("unknown feed format")

// Document is a parsed feed of a known format.
type Document interface {
	Format() Format
	// Feed returns the feed metadata. URL and ID are left for the caller.
	Feed() model.Feed
	// Items returns the entries in document order. FeedID is left unset.
	Items() []model.Item
}

// Parse detects the format of data and parses it. Data of no known format
// is a Format error; a detected document that fails to parse is a Parse
// error.
func Parse(data []byte) (Document, error) {
	switch gofeed.DetectFeedType(bytes.NewReader(data)) {
	case gofeed.FeedTypeRSS:
		var p rss.Parser
		feed, err := p.Parse(bytes.NewReader(data))
		if err != nil {
			return nil, feederr.New(feederr.Parse, "parse rss", err)
		}
		return &rssDocument{feed: feed}, nil
	case gofeed.FeedTypeAtom:
		var p atom.Parser
		feed, err := p.Parse(bytes.NewReader(data))
		if err != nil {
			return nil, feederr.New(feederr.Parse, "parse atom", err)
		}
		return &atomDocument{feed: feed}, nil
	case gofeed.FeedTypeJSON:
		var p jsonfeed.Parser
		feed, err := p.Parse(bytes.NewReader(data))
		if err != nil {
			return nil, feederr.New(feederr.Parse, "parse json feed", err)
		}
		return &jsonDocument{feed: feed}, nil
	default:
		return nil, feederr.New(feederr.Format, "detect feed", ErrUnknownFormat)
	}
}

// NewFeed builds the canonical feed for a first fetch of feedURL.
// Validators are left empty so the next fetch is never answered with 304.
func NewFeed(doc Document, feedURL string) model.Feed {
	feed := doc.Feed()
	feed.URL = feedURL
	if feed.Name == "" {
		feed.Name = feedURL
	}
	feed.ETag = ""
	feed.LastModified = ""
	return feed
}

// Items returns the canonical items of doc owned by feed, in document order.
func Items(doc Document, feed model.Feed) []model.Item {
	items := doc.Items()
	for i := range items {
		items[i].FeedID = feed.ID
		items[i].RemoteFeedID = feed.RemoteID
	}
	return items
}

// fallbackGUID derives a stable identifier for entries that carry none.
func fallbackGUID(id, link, title string, published time.Time) string {
	if id = strings.TrimSpace(id); id != "" {
		return id
	}
	if link = strings.TrimSpace(link); link != "" {
		return link
	}
	key := title
	if !published.IsZero() {
		key += published.UTC().Format(time.RFC3339)
	}
	h := sha256.Sum256([]byte(key))
	return hex.EncodeToString(h[:16])
}

// parseDate returns the first of the candidates that is set, in UTC.
// Parsed values win over raw strings, which go through dateparse.
func parseDate(parsed *time.Time, raw ...string) time.Time {
	if parsed != nil && !parsed.IsZero() {
		return parsed.UTC()
	}
	for _, s := range raw {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if t, err := dateparse.ParseAny(s); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
