package opml

import (
	"bytes"
	"strings"
	"testing"

	"github.com/bryan-buckman/feedsync/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sample = `<?xml version="1.0" encoding="UTF-8"?>
<opml version="2.0">
  <head><title>Subscriptions</title></head>
  <body>
    <outline text="Tech">
      <outline text="Go" title="The Go Blog" type="rss" xmlUrl="https://go.dev/blog/feed.atom" htmlUrl="https://go.dev/blog"/>
      <outline text="Google">
        <outline text="Research" type="rss" xmlUrl="https://research.google/feed.xml"/>
      </outline>
    </outline>
    <outline text="Loose" type="rss" xmlUrl="https://loose.example/rss"/>
    <outline text="Again" type="rss" xmlUrl="https://go.dev/blog/feed.atom"/>
  </body>
</opml>`

func TestParse(t *testing.T) {
	entries, err := Parse(strings.NewReader(sample))
	require.NoError(t, err)
	require.Len(t, entries, 3)

	assert.Equal(t, FeedEntry{
		FolderPath: []string{"Tech"},
		Title:      "The Go Blog",
		URL:        "https://go.dev/blog/feed.atom",
		SiteURL:    "https://go.dev/blog",
	}, entries[0])
	assert.Equal(t, "Tech/Google", entries[1].Folder())
	assert.Equal(t, "Research", entries[1].Title)
	assert.Empty(t, entries[2].Folder())

	_, err = Parse(strings.NewReader("not xml"))
	assert.Error(t, err)
}

func TestExportRoundTrip(t *testing.T) {
	tech := int64(1)
	missing := int64(99)
	folders := []model.Folder{{ID: tech, Name: "Tech"}, {ID: 2, Name: "Empty"}}
	feeds := []model.Feed{
		{Name: "zeta", URL: "https://z.example/rss", FolderID: &tech},
		{Name: "Alpha", URL: "https://a.example/rss", FolderID: &tech, SiteURL: "https://a.example/"},
		{Name: "Root", URL: "https://root.example/rss"},
		{Name: "Orphan", URL: "https://orphan.example/rss", FolderID: &missing},
	}

	data, err := Export("feedsync", folders, feeds)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(data, []byte("<?xml")))
	assert.NotContains(t, string(data), "Empty", "folders without feeds are left out")

	entries, err := Parse(bytes.NewReader(data))
	require.NoError(t, err)
	require.Len(t, entries, 4)
	assert.Equal(t, "https://a.example/rss", entries[0].URL, "sorted by name within the folder")
	assert.Equal(t, "Tech", entries[0].Folder())
	assert.Equal(t, "https://a.example/", entries[0].SiteURL)
	assert.Equal(t, "https://z.example/rss", entries[1].URL)
	assert.Empty(t, entries[2].Folder())
	assert.Empty(t, entries[3].Folder())
}
