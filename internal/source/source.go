// Package source defines the capability interface the archive engine
// consumes to talk to the remote conversational service. Implementations
// own connection, authentication, and wire details; the engine only sees
// normalized handles, raw items, and the typed errors in errors.go.
package source

import (
	"context"
	"time"
)

// EntityKind distinguishes the three identity classes encoded in a
// marked ID.
type EntityKind string

const (
	KindUser    EntityKind = "user"
	KindGroup   EntityKind = "group"
	KindChannel EntityKind = "channel"
)

// ConversationHandle identifies one remote conversation together with the
// profile fields the archive keeps.
type ConversationHandle struct {
	// ID is the marked ID: positive for users, negative for basic groups,
	// -100-prefixed for supergroups/channels.
	ID   int64
	Kind EntityKind

	// Megagroup marks a channel-namespace entity that behaves as a group.
	Megagroup bool
	// Bot marks user-kind entities that are bots.
	Bot bool
	// Forum marks group chats with topic threading enabled.
	Forum bool

	Title             string
	Username          string
	FirstName         string
	LastName          string
	Phone             string
	ParticipantsCount int

	// LastActivity orders work by recency; the zero value sorts last.
	LastActivity time.Time
}

// IsUser reports whether the handle is a non-bot person.
func (h ConversationHandle) IsUser() bool { return h.Kind == KindUser && !h.Bot }

// IsGroup reports whether the handle is a basic group or a megagroup.
func (h ConversationHandle) IsGroup() bool {
	return h.Kind == KindGroup || (h.Kind == KindChannel && h.Megagroup)
}

// IsChannel reports whether the handle is a broadcast channel.
func (h ConversationHandle) IsChannel() bool { return h.Kind == KindChannel && !h.Megagroup }

// Media is the closed set of attachment payload variants a RawItem can
// carry. The shape is resolved once by the source implementation; the
// ingest pipeline switches on the concrete type and never probes further.
type Media interface{ mediaKind() string }

// PhotoMedia is a photo attachment.
type PhotoMedia struct {
	ContentID string
	Size      int64
	Width     int
	Height    int
}

// DocumentMedia is any document-backed attachment: video, audio, voice,
// sticker, animation, or a plain file. Subtype carries the resolved kind.
type DocumentMedia struct {
	ContentID string
	Subtype   string // "video", "audio", "voice", "sticker", "animation", "document"
	FileName  string
	MimeType  string
	Size      int64
	Width     int
	Height    int
	Duration  int
}

// PollMedia is structural poll data. It is captured as metadata and never
// downloaded as a file.
type PollMedia struct {
	PollID         int64
	Question       string
	Answers        []PollAnswer
	Closed         bool
	PublicVoters   bool
	MultipleChoice bool
	Quiz           bool
	TotalVoters    int
	Results        []PollResult
}

// PollAnswer is one poll option.
type PollAnswer struct {
	Text   string
	Option string // provider option token, base64
}

// PollResult is the aggregated tally for one option.
type PollResult struct {
	Option  string
	Voters  int
	Correct bool
}

// ContactMedia is a shared contact card.
type ContactMedia struct {
	UserID    int64
	FirstName string
	LastName  string
	Phone     string
}

// GeoMedia is a shared location.
type GeoMedia struct {
	Lat  float64
	Long float64
}

func (PhotoMedia) mediaKind() string    { return "photo" }
func (DocumentMedia) mediaKind() string { return "document" }
func (PollMedia) mediaKind() string     { return "poll" }
func (ContactMedia) mediaKind() string  { return "contact" }
func (GeoMedia) mediaKind() string      { return "geo" }

// Sender carries the profile of a message author when the source can
// resolve it.
type Sender struct {
	ID        int64
	Username  string
	FirstName string
	LastName  string
	Phone     string
	Bot       bool
}

// Reaction is one emoji tally on a raw item.
type Reaction struct {
	Emoji   string
	Count   int
	UserIDs []int64 // recent reactors when the provider exposes them
}

// RawItem is one remote message as the source delivers it.
type RawItem struct {
	ID       int64
	Date     time.Time
	Text     string
	Sender   *Sender
	SenderID *int64

	ReplyToMsgID *int64
	ReplyToTopID *int64 // forum topic root, when the reply targets a topic
	ReplyToText  string // referenced item's text, untruncated

	ForwardFromID   *int64
	ForwardFromName string

	EditDate  *time.Time
	GroupedID *int64 // provider-native album id, when present
	Outgoing  bool
	Pinned    bool

	PostAuthor string

	Media     Media
	Reactions []Reaction
}

// Topic is a forum topic descriptor.
type Topic struct {
	ID        int64
	Title     string
	IconColor int
	IconEmoji string
	Closed    bool
	Pinned    bool
	Hidden    bool
	Date      time.Time
}

// Folder is a user-defined chat folder snapshot.
type Folder struct {
	ID      int64
	Title   string
	Emoji   string
	ChatIDs []int64
}

// Event is a live update delivered to the listener between scheduled runs.
type Event struct {
	ChatID  int64
	Kind    EventKind
	Item    *RawItem // set for new/edited
	ItemIDs []int64  // set for deleted
}

// EventKind classifies a live update.
type EventKind string

const (
	EventNewMessage     EventKind = "new"
	EventEditedMessage  EventKind = "edited"
	EventDeletedMessage EventKind = "deleted"
)

// Source is the remote message source capability. All calls may return
// the typed errors in errors.go; the retry policy classifies them.
type Source interface {
	// Me returns the marked ID of the authenticated account.
	Me(ctx context.Context) (int64, error)

	// ListConversations enumerates the active or archived conversation
	// list. The two lists may overlap on buggy providers; callers resolve
	// the ambiguity.
	ListConversations(ctx context.Context, archived bool) ([]ConversationHandle, error)

	// ResolveConversation fetches a handle by ID for conversations absent
	// from both lists (never-messaged or provider-filtered).
	ResolveConversation(ctx context.Context, id int64) (ConversationHandle, error)

	// IterItems streams items with ID > sinceID in ascending ID order.
	// next returns nil, nil when exhausted.
	IterItems(ctx context.Context, conversation int64, sinceID int64) (ItemIterator, error)

	// FetchItemsByID returns the current remote state of the given items,
	// aligned with ids; a nil element means the item was deleted upstream.
	FetchItemsByID(ctx context.Context, conversation int64, ids []int64) ([]*RawItem, error)

	// DownloadAttachment writes the item's media bytes to path.
	DownloadAttachment(ctx context.Context, conversation int64, item *RawItem, path string) error

	// DownloadProfilePhoto writes the conversation's current profile photo
	// to path, or returns ErrNoProfilePhoto when none is set.
	DownloadProfilePhoto(ctx context.Context, conversation int64, path string) error

	// GetPinnedItems returns the authoritative pinned-item ID set.
	GetPinnedItems(ctx context.Context, conversation int64) ([]int64, error)

	// GetTopics returns forum topics, or ErrTopicsUnsupported when the
	// provider offers no direct topic API (callers fall back to inference
	// from observed thread-root IDs).
	GetTopics(ctx context.Context, conversation int64) ([]Topic, error)

	// GetFolders returns the account's folder snapshots.
	GetFolders(ctx context.Context) ([]Folder, error)
}

// ItemIterator lazily yields raw items in ascending ID order.
type ItemIterator interface {
	// Next returns the next item, or nil when the sequence is exhausted.
	Next(ctx context.Context) (*RawItem, error)
}

// Listener is the optional live-update capability. Sources that support
// push updates implement it alongside Source.
type Listener interface {
	// Subscribe delivers events until ctx is cancelled. handler errors are
	// logged by the caller and do not stop the subscription.
	Subscribe(ctx context.Context, handler func(Event) error) error
}
