package freshrss

import (
	"strings"
	"time"

	"github.com/bryan-buckman/feedsync/internal/model"
)

type tagList struct {
	Tags []struct {
		ID   string `json:"id"`
		Type string `json:"type"`
	} `json:"tags"`
}

type category struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

type subscription struct {
	ID         string     `json:"id"`
	Title      string     `json:"title"`
	Categories []category `json:"categories"`
	URL        string     `json:"url"`
	HTMLURL    string     `json:"htmlUrl"`
	IconURL    string     `json:"iconUrl"`
}

type subscriptionList struct {
	Subscriptions []subscription `json:"subscriptions"`
}

type link struct {
	Href string `json:"href"`
	Type string `json:"type"`
}

type textContent struct {
	Content string `json:"content"`
}

type streamItem struct {
	ID         string       `json:"id"`
	Title      string       `json:"title"`
	Published  int64        `json:"published"`
	Author     string       `json:"author"`
	Canonical  []link       `json:"canonical"`
	Alternate  []link       `json:"alternate"`
	Enclosure  []link       `json:"enclosure"`
	Categories []string     `json:"categories"`
	Summary    textContent  `json:"summary"`
	Content    *textContent `json:"content"`
	Origin     struct {
		StreamID string `json:"streamId"`
	} `json:"origin"`
}

type streamContents struct {
	Items []streamItem `json:"items"`
}

func (t tagList) folders() []model.Folder {
	var folders []model.Folder
	for _, tag := range t.Tags {
		if !strings.HasPrefix(tag.ID, LabelPrefix) {
			continue
		}
		folders = append(folders, model.Folder{
			Name:     strings.TrimPrefix(tag.ID, LabelPrefix),
			RemoteID: tag.ID,
		})
	}
	return folders
}

func (s subscription) feed() model.Feed {
	f := model.Feed{
		Name:     s.Title,
		URL:      s.URL,
		SiteURL:  s.HTMLURL,
		IconURL:  s.IconURL,
		RemoteID: s.ID,
	}
	if f.URL == "" {
		f.URL = strings.TrimPrefix(s.ID, FeedPrefix)
	}
	if f.Name == "" {
		f.Name = f.URL
	}
	if len(s.Categories) > 0 {
		f.RemoteFolderID = s.Categories[0].ID
	}
	return f
}

func (it streamItem) item() model.Item {
	item := model.Item{
		GUID:         it.ID,
		RemoteID:     it.ID,
		RemoteFeedID: it.Origin.StreamID,
		Title:        it.Title,
		Author:       it.Author,
		Description:  it.Summary.Content,
	}
	if it.Content != nil {
		item.Content = it.Content.Content
	}
	if it.Published > 0 {
		item.PublishedAt = time.Unix(it.Published, 0).UTC()
	}
	switch {
	case len(it.Canonical) > 0:
		item.Link = it.Canonical[0].Href
	case len(it.Alternate) > 0:
		item.Link = it.Alternate[0].Href
	}
	for _, e := range it.Enclosure {
		if strings.HasPrefix(e.Type, "image/") {
			item.ImageLink = e.Href
			break
		}
	}
	for _, c := range it.Categories {
		switch c {
		case ReadTag:
			item.Read = true
		case StarredTag:
			item.Starred = true
		}
	}
	return item
}
