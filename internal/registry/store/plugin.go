// Package store defines the archive persistence contract and the plugin
// registry that backends register into. Backends are selected by name at
// startup from config.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/telvault/telvault/internal/model"
)

// CursorAdvance moves a chat's sync checkpoint forward. Checkpoints only
// advance: a backend must ignore an advance whose LastMessageID is not
// greater than the stored one.
type CursorAdvance struct {
	ChatID        int64
	LastMessageID int64
	Added         int64
}

// Batch is one atomic ingest commit: all rows land, and the cursor (when
// present) advances, in a single transaction. A batch with a nil Cursor
// commits data without moving the checkpoint; re-fetching those items
// later upserts harmlessly.
type Batch struct {
	Users       []model.User
	Messages    []model.Message
	Attachments []model.Attachment
	Reactions   []model.Reaction
	Cursor      *CursorAdvance
}

// MessageRef is the minimal message view the reconciler diffs against the
// provider.
type MessageRef struct {
	ID       int64
	EditDate *time.Time
}

// ChatSummary is the viewer's chat list row.
type ChatSummary struct {
	model.Chat
	MessageCount int64      `json:"messageCount"`
	LastMessage  *time.Time `json:"lastMessage,omitempty"`
}

// MessagePage is a window of a chat's history, newest first.
type MessagePage struct {
	Data  []model.Message `json:"data"`
	Total int64           `json:"total"`
}

// Stats is the archive-wide summary.
type Stats struct {
	Chats                 int64      `json:"chats"`
	Users                 int64      `json:"users"`
	Messages              int64      `json:"messages"`
	Attachments           int64      `json:"attachments"`
	DownloadedAttachments int64      `json:"downloadedAttachments"`
	MediaBytes            int64      `json:"mediaBytes"`
	OldestMessage         *time.Time `json:"oldestMessage,omitempty"`
	NewestMessage         *time.Time `json:"newestMessage,omitempty"`
	GeneratedAt           time.Time  `json:"generatedAt"`
}

// ArchiveStore is the persistence contract for the sync engine and the
// viewer.
type ArchiveStore interface {
	Migrate(ctx context.Context) error
	Close() error

	// Chats and users.
	UpsertChat(ctx context.Context, chat *model.Chat) error
	GetChat(ctx context.Context, chatID int64) (*model.Chat, error)
	ListChatIDs(ctx context.Context) ([]int64, error)
	ListChats(ctx context.Context) ([]ChatSummary, error)
	// DeleteChat removes a chat and all dependent rows (messages,
	// attachments, reactions, topics, folder memberships, checkpoint).
	DeleteChat(ctx context.Context, chatID int64) error
	UpsertUsers(ctx context.Context, users []model.User) error

	// Ingest.
	CommitBatch(ctx context.Context, batch *Batch) error
	Cursor(ctx context.Context, chatID int64) (*model.SyncCheckpoint, error)
	AdvanceCursor(ctx context.Context, adv CursorAdvance) error

	// Reconciliation.
	RecentMessageRefs(ctx context.Context, chatID int64, limit int) ([]MessageRef, error)
	DeleteMessage(ctx context.Context, chatID, messageID int64) error
	UpdateMessageText(ctx context.Context, chatID, messageID int64, text string, editDate *time.Time) error
	// ReplacePinned makes exactly the given set pinned and returns how many
	// rows flipped either way.
	ReplacePinned(ctx context.Context, chatID int64, pinnedIDs []int64) (int64, error)

	// Forum topics and folders.
	UpsertTopics(ctx context.Context, chatID int64, topics []model.ForumTopic) error
	TopicRootIDs(ctx context.Context, chatID int64) ([]int64, error)
	ReplaceFolders(ctx context.Context, folders []model.ChatFolder, members []model.ChatFolderMember) error

	// Media bookkeeping.
	ListAttachments(ctx context.Context, chatID int64, downloadedOnly bool) ([]model.Attachment, error)
	UpdateAttachment(ctx context.Context, att *model.Attachment) error
	// ClearDownloads resets download state for a chat after its files are
	// removed from disk.
	ClearDownloads(ctx context.Context, chatID int64) (int64, error)

	// Viewer.
	ListMessages(ctx context.Context, chatID int64, limit, offset int) (*MessagePage, error)
	Stats(ctx context.Context) (*Stats, error)

	// Metadata.
	GetMetadata(ctx context.Context, key string) (string, error)
	SetMetadata(ctx context.Context, key, value string) error
	// BackfillOutgoing marks historical rows sent by the account owner.
	BackfillOutgoing(ctx context.Context, ownerID int64) (int64, error)
}

// Loader creates an ArchiveStore from config carried in ctx.
type Loader func(ctx context.Context) (ArchiveStore, error)

// Plugin represents a store backend.
type Plugin struct {
	Name   string
	Loader Loader
}

var plugins []Plugin

// Register adds a store backend.
func Register(p Plugin) {
	plugins = append(plugins, p)
}

// Names returns all registered backend names.
func Names() []string {
	names := make([]string, len(plugins))
	for i, p := range plugins {
		names[i] = p.Name
	}
	return names
}

// Select returns the loader for the named backend.
func Select(name string) (Loader, error) {
	for _, p := range plugins {
		if p.Name == name {
			return p.Loader, nil
		}
	}
	return nil, fmt.Errorf("unknown store %q; valid: %v", name, Names())
}
