package nextcloud

import (
	"strconv"
	"strings"
	"time"

	"github.com/bryan-buckman/feedsync/internal/model"
)

type user struct {
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName"`
}

type folder struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

type folderList struct {
	Folders []folder `json:"folders"`
}

type feed struct {
	ID          int64  `json:"id"`
	URL         string `json:"url"`
	Title       string `json:"title"`
	FaviconLink string `json:"faviconLink"`
	FolderID    *int64 `json:"folderId"`
	Link        string `json:"link"`
}

type feedList struct {
	Feeds []feed `json:"feeds"`
}

type item struct {
	ID             int64   `json:"id"`
	GUID           string  `json:"guid"`
	GUIDHash       string  `json:"guidHash"`
	URL            string  `json:"url"`
	Title          string  `json:"title"`
	Author         string  `json:"author"`
	PubDate        int64   `json:"pubDate"`
	Body           string  `json:"body"`
	EnclosureMime  *string `json:"enclosureMime"`
	EnclosureLink  *string `json:"enclosureLink"`
	MediaThumbnail *string `json:"mediaThumbnail"`
	FeedID         int64   `json:"feedId"`
	Unread         bool    `json:"unread"`
	Starred        bool    `json:"starred"`
}

type itemList struct {
	Items []item `json:"items"`
}

type itemIDs struct {
	Items []int64 `json:"items"`
}

func remoteID(id int64) string {
	return strconv.FormatInt(id, 10)
}

func (f folder) folder() model.Folder {
	return model.Folder{Name: f.Name, RemoteID: remoteID(f.ID)}
}

func (f feed) feed() model.Feed {
	out := model.Feed{
		Name:     f.Title,
		URL:      f.URL,
		SiteURL:  f.Link,
		IconURL:  f.FaviconLink,
		RemoteID: remoteID(f.ID),
	}
	if out.Name == "" {
		out.Name = out.URL
	}
	if f.FolderID != nil && *f.FolderID != 0 {
		out.RemoteFolderID = remoteID(*f.FolderID)
	}
	return out
}

func (it item) item() model.Item {
	out := model.Item{
		GUID:         it.GUID,
		RemoteID:     remoteID(it.ID),
		RemoteFeedID: remoteID(it.FeedID),
		Title:        it.Title,
		Author:       it.Author,
		Link:         it.URL,
		Content:      it.Body,
		Read:         !it.Unread,
		Starred:      it.Starred,
	}
	if out.GUID == "" {
		out.GUID = it.GUIDHash
	}
	if it.PubDate > 0 {
		out.PublishedAt = time.Unix(it.PubDate, 0).UTC()
	}
	switch {
	case it.MediaThumbnail != nil && *it.MediaThumbnail != "":
		out.ImageLink = *it.MediaThumbnail
	case it.EnclosureLink != nil && it.EnclosureMime != nil && strings.HasPrefix(*it.EnclosureMime, "image/"):
		out.ImageLink = *it.EnclosureLink
	}
	return out
}
