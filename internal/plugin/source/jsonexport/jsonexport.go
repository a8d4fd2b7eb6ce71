// Package jsonexport registers a source backend that replays a local
// export directory instead of talking to the live service. The directory
// holds an export.json describing chats and items, with media files
// stored alongside it. Useful for importing offline exports and for
// exercising the engine without a network session.
package jsonexport

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/telvault/telvault/internal/config"
	registrysource "github.com/telvault/telvault/internal/registry/source"
	"github.com/telvault/telvault/internal/source"
)

const exportFileName = "export.json"

func init() {
	registrysource.Register(registrysource.Plugin{
		Name: "jsonexport",
		Loader: func(ctx context.Context) (source.Conn, error) {
			cfg := config.FromContext(ctx)
			if cfg == nil || cfg.SourcePath == "" {
				return nil, fmt.Errorf("jsonexport source requires sourcePath")
			}
			return &conn{dir: cfg.SourcePath}, nil
		},
	})
}

type conn struct {
	dir string
	src *exportSource
}

func (c *conn) Source() source.Source { return c.src }

func (c *conn) Connected() bool { return c.src != nil }

func (c *conn) Connect(ctx context.Context) error {
	if c.src != nil {
		return nil
	}
	data, err := os.ReadFile(filepath.Join(c.dir, exportFileName))
	if err != nil {
		return fmt.Errorf("read export: %w", err)
	}
	var doc exportDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("parse export: %w", err)
	}
	src, err := newExportSource(c.dir, &doc)
	if err != nil {
		return err
	}
	c.src = src
	return nil
}

func (c *conn) Close() error {
	c.src = nil
	return nil
}

// exportDoc is the on-disk schema.
type exportDoc struct {
	OwnerID int64          `json:"ownerId"`
	Chats   []exportChat   `json:"chats"`
	Folders []exportFolder `json:"folders"`
}

type exportFolder struct {
	ID      int64   `json:"id"`
	Title   string  `json:"title"`
	Emoji   string  `json:"emoji,omitempty"`
	ChatIDs []int64 `json:"chatIds"`
}

type exportChat struct {
	ID                int64        `json:"id"`
	Kind              string       `json:"kind"` // user, group, channel
	Megagroup         bool         `json:"megagroup,omitempty"`
	Bot               bool         `json:"bot,omitempty"`
	Forum             bool         `json:"forum,omitempty"`
	Archived          bool         `json:"archived,omitempty"`
	Title             string       `json:"title,omitempty"`
	Username          string       `json:"username,omitempty"`
	FirstName         string       `json:"firstName,omitempty"`
	LastName          string       `json:"lastName,omitempty"`
	Phone             string       `json:"phone,omitempty"`
	ParticipantsCount int          `json:"participantsCount,omitempty"`
	// ProfilePhoto is the avatar path relative to the export directory.
	ProfilePhoto string       `json:"profilePhoto,omitempty"`
	PinnedIDs    []int64      `json:"pinnedIds,omitempty"`
	Items        []exportItem `json:"items"`
}

type exportItem struct {
	ID              int64          `json:"id"`
	Date            time.Time      `json:"date"`
	Text            string         `json:"text,omitempty"`
	Sender          *exportSender  `json:"sender,omitempty"`
	SenderID        *int64         `json:"senderId,omitempty"`
	ReplyToMsgID    *int64         `json:"replyToMsgId,omitempty"`
	ReplyToTopID    *int64         `json:"replyToTopId,omitempty"`
	ReplyToText     string         `json:"replyToText,omitempty"`
	ForwardFromID   *int64         `json:"forwardFromId,omitempty"`
	ForwardFromName string         `json:"forwardFromName,omitempty"`
	EditDate        *time.Time     `json:"editDate,omitempty"`
	GroupedID       *int64         `json:"groupedId,omitempty"`
	Outgoing        bool           `json:"outgoing,omitempty"`
	Pinned          bool           `json:"pinned,omitempty"`
	PostAuthor      string         `json:"postAuthor,omitempty"`
	Media           *exportMedia   `json:"media,omitempty"`
	Reactions       []exportTally  `json:"reactions,omitempty"`
}

type exportSender struct {
	ID        int64  `json:"id"`
	Username  string `json:"username,omitempty"`
	FirstName string `json:"firstName,omitempty"`
	LastName  string `json:"lastName,omitempty"`
	Phone     string `json:"phone,omitempty"`
	Bot       bool   `json:"bot,omitempty"`
}

type exportTally struct {
	Emoji   string  `json:"emoji"`
	Count   int     `json:"count"`
	UserIDs []int64 `json:"userIds,omitempty"`
}

type exportMedia struct {
	Kind      string `json:"kind"` // photo, video, audio, voice, sticker, animation, document, poll, contact, geo
	ContentID string `json:"contentId,omitempty"`
	// File is the media path relative to the export directory.
	File     string `json:"file,omitempty"`
	FileName string `json:"fileName,omitempty"`
	MimeType string `json:"mimeType,omitempty"`
	Size     int64  `json:"size,omitempty"`
	Width    int    `json:"width,omitempty"`
	Height   int    `json:"height,omitempty"`
	Duration int    `json:"duration,omitempty"`

	Poll    *exportPoll    `json:"poll,omitempty"`
	Contact *exportContact `json:"contact,omitempty"`
	Geo     *exportGeo     `json:"geo,omitempty"`
}

type exportPoll struct {
	ID       int64    `json:"id"`
	Question string   `json:"question"`
	Answers  []string `json:"answers"`
	Closed   bool     `json:"closed,omitempty"`
}

type exportContact struct {
	UserID    int64  `json:"userId"`
	FirstName string `json:"firstName,omitempty"`
	LastName  string `json:"lastName,omitempty"`
	Phone     string `json:"phone,omitempty"`
}

type exportGeo struct {
	Lat  float64 `json:"lat"`
	Long float64 `json:"long"`
}

type exportSource struct {
	dir     string
	ownerID int64
	chats   map[int64]*exportChat
	order   []int64
	folders []source.Folder
	// mediaFiles maps chat/item to the export-relative media path.
	mediaFiles map[[2]int64]string
}

func newExportSource(dir string, doc *exportDoc) (*exportSource, error) {
	s := &exportSource{
		dir:        dir,
		ownerID:    doc.OwnerID,
		chats:      map[int64]*exportChat{},
		mediaFiles: map[[2]int64]string{},
	}
	for i := range doc.Chats {
		c := &doc.Chats[i]
		if _, dup := s.chats[c.ID]; dup {
			return nil, fmt.Errorf("duplicate chat %d in export", c.ID)
		}
		sort.Slice(c.Items, func(a, b int) bool { return c.Items[a].ID < c.Items[b].ID })
		s.chats[c.ID] = c
		s.order = append(s.order, c.ID)
		for _, it := range c.Items {
			if it.Media != nil && it.Media.File != "" {
				s.mediaFiles[[2]int64{c.ID, it.ID}] = it.Media.File
			}
		}
	}
	for _, f := range doc.Folders {
		s.folders = append(s.folders, source.Folder{ID: f.ID, Title: f.Title, Emoji: f.Emoji, ChatIDs: f.ChatIDs})
	}
	return s, nil
}

func (s *exportSource) Me(ctx context.Context) (int64, error) { return s.ownerID, nil }

func (s *exportSource) ListConversations(ctx context.Context, archived bool) ([]source.ConversationHandle, error) {
	var out []source.ConversationHandle
	for _, id := range s.order {
		c := s.chats[id]
		if c.Archived != archived {
			continue
		}
		out = append(out, s.handle(c))
	}
	return out, nil
}

func (s *exportSource) ResolveConversation(ctx context.Context, id int64) (source.ConversationHandle, error) {
	c, ok := s.chats[id]
	if !ok {
		return source.ConversationHandle{}, &source.AccessDeniedError{Conversation: id, Reason: "not present in export"}
	}
	return s.handle(c), nil
}

func (s *exportSource) handle(c *exportChat) source.ConversationHandle {
	h := source.ConversationHandle{
		ID:                c.ID,
		Kind:              source.EntityKind(c.Kind),
		Megagroup:         c.Megagroup,
		Bot:               c.Bot,
		Forum:             c.Forum,
		Title:             c.Title,
		Username:          c.Username,
		FirstName:         c.FirstName,
		LastName:          c.LastName,
		Phone:             c.Phone,
		ParticipantsCount: c.ParticipantsCount,
	}
	if n := len(c.Items); n > 0 {
		h.LastActivity = c.Items[n-1].Date
	}
	return h
}

func (s *exportSource) IterItems(ctx context.Context, conversation int64, sinceID int64) (source.ItemIterator, error) {
	c, ok := s.chats[conversation]
	if !ok {
		return nil, &source.AccessDeniedError{Conversation: conversation, Reason: "not present in export"}
	}
	return &iter{src: s, items: c.Items, sinceID: sinceID}, nil
}

type iter struct {
	src     *exportSource
	items   []exportItem
	sinceID int64
	pos     int
}

func (it *iter) Next(ctx context.Context) (*source.RawItem, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	for it.pos < len(it.items) {
		item := it.items[it.pos]
		it.pos++
		if item.ID > it.sinceID {
			return rawItem(&item), nil
		}
	}
	return nil, nil
}

func (s *exportSource) FetchItemsByID(ctx context.Context, conversation int64, ids []int64) ([]*source.RawItem, error) {
	c, ok := s.chats[conversation]
	if !ok {
		return nil, &source.AccessDeniedError{Conversation: conversation, Reason: "not present in export"}
	}
	byID := make(map[int64]*exportItem, len(c.Items))
	for i := range c.Items {
		byID[c.Items[i].ID] = &c.Items[i]
	}
	out := make([]*source.RawItem, len(ids))
	for i, id := range ids {
		if item, ok := byID[id]; ok {
			out[i] = rawItem(item)
		}
	}
	return out, nil
}

func (s *exportSource) DownloadAttachment(ctx context.Context, conversation int64, item *source.RawItem, path string) error {
	rel, ok := s.mediaFiles[[2]int64{conversation, item.ID}]
	if !ok {
		return &source.TransientError{Err: fmt.Errorf("no media file for item %d", item.ID)}
	}
	src, err := os.Open(filepath.Join(s.dir, rel))
	if err != nil {
		return &source.TransientError{Err: err}
	}
	defer src.Close()
	dst, err := os.Create(path)
	if err != nil {
		return err
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		return err
	}
	return dst.Close()
}

func (s *exportSource) DownloadProfilePhoto(ctx context.Context, conversation int64, path string) error {
	c, ok := s.chats[conversation]
	if !ok {
		return &source.AccessDeniedError{Conversation: conversation, Reason: "not present in export"}
	}
	if c.ProfilePhoto == "" {
		return source.ErrNoProfilePhoto
	}
	src, err := os.Open(filepath.Join(s.dir, c.ProfilePhoto))
	if err != nil {
		return &source.TransientError{Err: err}
	}
	defer src.Close()
	dst, err := os.Create(path)
	if err != nil {
		return err
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		return err
	}
	return dst.Close()
}

func (s *exportSource) GetPinnedItems(ctx context.Context, conversation int64) ([]int64, error) {
	c, ok := s.chats[conversation]
	if !ok {
		return nil, &source.AccessDeniedError{Conversation: conversation, Reason: "not present in export"}
	}
	return c.PinnedIDs, nil
}

// Exports carry no topic descriptors; topics get inferred from thread
// roots.
func (s *exportSource) GetTopics(ctx context.Context, conversation int64) ([]source.Topic, error) {
	return nil, source.ErrTopicsUnsupported
}

func (s *exportSource) GetFolders(ctx context.Context) ([]source.Folder, error) {
	return s.folders, nil
}

func rawItem(e *exportItem) *source.RawItem {
	raw := &source.RawItem{
		ID:              e.ID,
		Date:            e.Date,
		Text:            e.Text,
		SenderID:        e.SenderID,
		ReplyToMsgID:    e.ReplyToMsgID,
		ReplyToTopID:    e.ReplyToTopID,
		ReplyToText:     e.ReplyToText,
		ForwardFromID:   e.ForwardFromID,
		ForwardFromName: e.ForwardFromName,
		EditDate:        e.EditDate,
		GroupedID:       e.GroupedID,
		Outgoing:        e.Outgoing,
		Pinned:          e.Pinned,
		PostAuthor:      e.PostAuthor,
	}
	if e.Sender != nil {
		raw.Sender = &source.Sender{
			ID:        e.Sender.ID,
			Username:  e.Sender.Username,
			FirstName: e.Sender.FirstName,
			LastName:  e.Sender.LastName,
			Phone:     e.Sender.Phone,
			Bot:       e.Sender.Bot,
		}
		if raw.SenderID == nil {
			id := e.Sender.ID
			raw.SenderID = &id
		}
	}
	for _, t := range e.Reactions {
		raw.Reactions = append(raw.Reactions, source.Reaction{Emoji: t.Emoji, Count: t.Count, UserIDs: t.UserIDs})
	}
	raw.Media = mediaVariant(e.Media)
	return raw
}

func mediaVariant(m *exportMedia) source.Media {
	if m == nil {
		return nil
	}
	switch m.Kind {
	case "photo":
		return &source.PhotoMedia{ContentID: m.ContentID, Size: m.Size, Width: m.Width, Height: m.Height}
	case "poll":
		if m.Poll == nil {
			return nil
		}
		poll := &source.PollMedia{PollID: m.Poll.ID, Question: m.Poll.Question, Closed: m.Poll.Closed}
		for i, text := range m.Poll.Answers {
			poll.Answers = append(poll.Answers, source.PollAnswer{Text: text, Option: fmt.Sprintf("%d", i)})
		}
		return poll
	case "contact":
		if m.Contact == nil {
			return nil
		}
		return &source.ContactMedia{
			UserID:    m.Contact.UserID,
			FirstName: m.Contact.FirstName,
			LastName:  m.Contact.LastName,
			Phone:     m.Contact.Phone,
		}
	case "geo":
		if m.Geo == nil {
			return nil
		}
		return &source.GeoMedia{Lat: m.Geo.Lat, Long: m.Geo.Long}
	default:
		return &source.DocumentMedia{
			ContentID: m.ContentID,
			Subtype:   m.Kind,
			FileName:  m.FileName,
			MimeType:  m.MimeType,
			Size:      m.Size,
			Width:     m.Width,
			Height:    m.Height,
			Duration:  m.Duration,
		}
	}
}
