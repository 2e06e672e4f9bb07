package command

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"
)

const feedXML = `<?xml version="1.0"?>
<rss version="2.0"><channel><title>Served</title><link>https://served.example/</link>
<item><title>One</title><guid>cmd-1</guid><description>first post</description></item>
</channel></rss>`

func writeConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "feedsync.toml")
	conf := `log_level = "warn"
request_timeout = "5s"

[database]
driver = "sqlite"
dsn = "` + filepath.Join(dir, "feedsync.db") + `"

[[accounts]]
name = "home"
type = "local"
`
	require.NoError(t, os.WriteFile(path, []byte(conf), 0o644))
	return path
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	app := RootApp()
	app.Writer = &out
	app.ErrWriter = &out
	app.ExitErrHandler = func(*cli.Context, error) {}
	err := app.Run(append([]string{"feedsync"}, args...))
	return out.String(), err
}

func TestCommands(t *testing.T) {
	feeds := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(feedXML))
	}))
	defer feeds.Close()
	conf := writeConfig(t)
	feedURL := feeds.URL + "/feed.xml"

	out, err := run(t, "--config", conf, "migrate")
	require.NoError(t, err)
	assert.Contains(t, out, "SQLite schema at version")

	out, err = run(t, "--config", conf, "add", feedURL)
	require.NoError(t, err)
	assert.Contains(t, out, "added")
	assert.Contains(t, out, "Served")

	out, err = run(t, "--config", conf, "add", feedURL)
	require.NoError(t, err)
	assert.Contains(t, out, "exists")

	out, err = run(t, "--config", conf, "sync", "--account", "home")
	require.NoError(t, err)
	assert.Contains(t, out, "home")
	assert.Contains(t, out, "initial")

	out, err = run(t, "--config", conf, "feeds")
	require.NoError(t, err)
	assert.Contains(t, out, feedURL)

	exported := filepath.Join(t.TempDir(), "subs.opml")
	_, err = run(t, "--config", conf, "export", "-o", exported)
	require.NoError(t, err)
	data, err := os.ReadFile(exported)
	require.NoError(t, err)
	assert.Contains(t, string(data), feedURL)
}

func TestAddRequiresURL(t *testing.T) {
	_, err := run(t, "--config", writeConfig(t), "add")
	assert.Error(t, err)
}

func TestUnknownAccount(t *testing.T) {
	_, err := run(t, "--config", writeConfig(t), "feeds", "--account", "work")
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), `no account named "work"`))
}

func TestImport(t *testing.T) {
	feeds := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(feedXML))
	}))
	defer feeds.Close()
	conf := writeConfig(t)

	doc := filepath.Join(t.TempDir(), "subs.opml")
	require.NoError(t, os.WriteFile(doc, []byte(`<?xml version="1.0"?><opml version="2.0"><body>
		<outline text="News"><outline text="Served" type="rss" xmlUrl="`+feeds.URL+`/feed.xml"/></outline>
	</body></opml>`), 0o644))

	out, err := run(t, "--config", conf, "import", doc)
	require.NoError(t, err)
	assert.Contains(t, out, "added")

	out, err = run(t, "--config", conf, "feeds")
	require.NoError(t, err)
	assert.Contains(t, out, "News")
}
