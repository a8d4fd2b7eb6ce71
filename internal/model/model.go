package model

import (
	"time"
)

// ChatType classifies a conversation.
type ChatType string

const (
	ChatTypePrivate ChatType = "private"
	ChatTypeGroup   ChatType = "group"
	ChatTypeChannel ChatType = "channel"
)

// Chat represents a conversation: a user, group, or broadcast channel.
// The ID is the marked ID: positive for users, negative for basic groups,
// -100-prefixed for supergroups and channels, so it matches what operators
// configure in include/exclude lists.
type Chat struct {
	ID                int64     `json:"id"                          gorm:"primaryKey;autoIncrement:false"`
	Type              ChatType  `json:"type"                        gorm:"not null"`
	Title             *string   `json:"title,omitempty"`
	Username          *string   `json:"username,omitempty"          gorm:"index:idx_chats_username"`
	FirstName         *string   `json:"firstName,omitempty"`
	LastName          *string   `json:"lastName,omitempty"`
	Phone             *string   `json:"phone,omitempty"`
	Description       *string   `json:"description,omitempty"`
	ParticipantsCount *int      `json:"participantsCount,omitempty"`
	ProfilePhotoPath  *string   `json:"profilePhotoPath,omitempty"`
	IsForum           bool      `json:"isForum"                     gorm:"not null;default:false"`
	IsArchived        bool      `json:"isArchived"                  gorm:"not null;default:false"`
	CreatedAt         time.Time `json:"createdAt"                   gorm:"not null"`
	UpdatedAt         time.Time `json:"updatedAt"                   gorm:"not null"`
}

func (Chat) TableName() string { return "chats" }

// DisplayName returns a readable name for logs and the viewer.
func (c *Chat) DisplayName() string {
	if c.Title != nil && *c.Title != "" {
		return *c.Title
	}
	name := ""
	if c.FirstName != nil {
		name = *c.FirstName
	}
	if c.LastName != nil && *c.LastName != "" {
		if name != "" {
			name += " "
		}
		name += *c.LastName
	}
	if name != "" {
		return name
	}
	if c.Username != nil && *c.Username != "" {
		return "@" + *c.Username
	}
	return "?"
}

// User represents a message sender.
type User struct {
	ID        int64     `json:"id"                  gorm:"primaryKey;autoIncrement:false"`
	Username  *string   `json:"username,omitempty"  gorm:"index:idx_users_username"`
	FirstName *string   `json:"firstName,omitempty"`
	LastName  *string   `json:"lastName,omitempty"`
	Phone     *string   `json:"phone,omitempty"`
	IsBot     bool      `json:"isBot"               gorm:"not null;default:false"`
	CreatedAt time.Time `json:"createdAt"           gorm:"not null"`
	UpdatedAt time.Time `json:"updatedAt"           gorm:"not null"`
}

func (User) TableName() string { return "users" }

// Message is one archived message. Message IDs are only unique within a
// chat, so the primary key is composite (id, chat_id). The same identity
// may be rewritten by the edit sync or removed by the deletion sync, but
// it is never duplicated: writes are upserts keyed on the full identity.
type Message struct {
	ID            int64                  `json:"id"                      gorm:"primaryKey;autoIncrement:false"`
	ChatID        int64                  `json:"chatId"                  gorm:"primaryKey;autoIncrement:false;index:idx_messages_chat_date"`
	SenderID      *int64                 `json:"senderId,omitempty"      gorm:"index:idx_messages_sender"`
	Date          time.Time              `json:"date"                    gorm:"not null;index:idx_messages_chat_date,sort:desc"`
	Text          string                 `json:"text"`
	ReplyToMsgID  *int64                 `json:"replyToMsgId,omitempty"`
	ReplyToTopID  *int64                 `json:"replyToTopId,omitempty"  gorm:"index:idx_messages_topic"`
	ReplyToText   *string                `json:"replyToText,omitempty"`
	ForwardFromID *int64                 `json:"forwardFromId,omitempty"`
	EditDate      *time.Time             `json:"editDate,omitempty"`
	GroupedID     *int64                 `json:"groupedId,omitempty"`
	RawData       map[string]interface{} `json:"rawData,omitempty"       gorm:"serializer:json"`
	IsOutgoing    bool                   `json:"isOutgoing"              gorm:"not null;default:false"`
	IsPinned      bool                   `json:"isPinned"                gorm:"not null;default:false;index:idx_messages_chat_pinned"`
	CreatedAt     time.Time              `json:"createdAt"               gorm:"not null"`
}

func (Message) TableName() string { return "messages" }

// Attachment is a media file referenced by a message. Its ID is derived
// from the provider's content identifier, so rows that share content
// resolve to one physical blob in the canonical store. FilePath is the
// per-chat reference path (symlink or real file); the canonical blob
// lives under the shared directory.
type Attachment struct {
	ID           string     `json:"id"                     gorm:"primaryKey"`
	MessageID    *int64     `json:"messageId,omitempty"    gorm:"index:idx_attachments_message"`
	ChatID       *int64     `json:"chatId,omitempty"       gorm:"index:idx_attachments_message;index:idx_attachments_downloaded"`
	ContentID    string     `json:"contentId"              gorm:"not null;index:idx_attachments_content"`
	Type         string     `json:"type"                   gorm:"not null;index:idx_attachments_type"`
	FileName     *string    `json:"fileName,omitempty"`
	FilePath     *string    `json:"filePath,omitempty"`
	FileSize     *int64     `json:"fileSize,omitempty"`
	MimeType     *string    `json:"mimeType,omitempty"`
	Width        *int       `json:"width,omitempty"`
	Height       *int       `json:"height,omitempty"`
	Duration     *int       `json:"duration,omitempty"`
	Downloaded   bool       `json:"downloaded"             gorm:"not null;default:false;index:idx_attachments_downloaded"`
	DownloadDate *time.Time `json:"downloadDate,omitempty"`
	CreatedAt    time.Time  `json:"createdAt"              gorm:"not null"`
}

func (Attachment) TableName() string { return "attachments" }

// Reaction is an emoji reaction on a message. UserID is nil for the
// aggregated remainder when individual reactor identities are unavailable.
type Reaction struct {
	ID        int64     `json:"id"               gorm:"primaryKey;autoIncrement"`
	MessageID int64     `json:"messageId"        gorm:"not null;uniqueIndex:uq_reaction;index:idx_reactions_message"`
	ChatID    int64     `json:"chatId"           gorm:"not null;uniqueIndex:uq_reaction;index:idx_reactions_message"`
	Emoji     string    `json:"emoji"            gorm:"not null;uniqueIndex:uq_reaction"`
	UserID    *int64    `json:"userId,omitempty" gorm:"uniqueIndex:uq_reaction"`
	Count     int       `json:"count"            gorm:"not null;default:1"`
	CreatedAt time.Time `json:"createdAt"        gorm:"not null"`
}

func (Reaction) TableName() string { return "reactions" }

// SyncCheckpoint records per-chat sync progress: the highest fully
// ingested message ID and a cumulative ingested count. LastMessageID is
// monotonically non-decreasing and advances only after the corresponding
// batch has been durably committed, so a crash between commit and
// checkpoint costs at most a re-fetch, never data loss.
type SyncCheckpoint struct {
	ChatID        int64     `json:"chatId"        gorm:"primaryKey;autoIncrement:false"`
	LastMessageID int64     `json:"lastMessageId" gorm:"not null;default:0"`
	MessageCount  int64     `json:"messageCount"  gorm:"not null;default:0"`
	LastSyncAt    time.Time `json:"lastSyncAt"    gorm:"not null"`
}

func (SyncCheckpoint) TableName() string { return "sync_checkpoints" }

// ForumTopic is a topic inside a forum-enabled chat.
type ForumTopic struct {
	ID        int64      `json:"id"                  gorm:"primaryKey;autoIncrement:false"`
	ChatID    int64      `json:"chatId"              gorm:"primaryKey;autoIncrement:false;index:idx_forum_topics_chat"`
	Title     string     `json:"title"               gorm:"not null"`
	IconColor *int       `json:"iconColor,omitempty"`
	IconEmoji *string    `json:"iconEmoji,omitempty"`
	IsClosed  bool       `json:"isClosed"            gorm:"not null;default:false"`
	IsPinned  bool       `json:"isPinned"            gorm:"not null;default:false"`
	IsHidden  bool       `json:"isHidden"            gorm:"not null;default:false"`
	Date      *time.Time `json:"date,omitempty"`
	CreatedAt time.Time  `json:"createdAt"           gorm:"not null"`
	UpdatedAt time.Time  `json:"updatedAt"           gorm:"not null"`
}

func (ForumTopic) TableName() string { return "forum_topics" }

// ChatFolder is a user-defined folder of chats. Folder membership is a
// snapshot: it is fully replaced on every run.
type ChatFolder struct {
	ID        int64     `json:"id"                 gorm:"primaryKey;autoIncrement:false"`
	Title     string    `json:"title"              gorm:"not null"`
	Emoticon  *string   `json:"emoticon,omitempty"`
	SortOrder int       `json:"sortOrder"          gorm:"not null;default:0"`
	CreatedAt time.Time `json:"createdAt"          gorm:"not null"`
	UpdatedAt time.Time `json:"updatedAt"          gorm:"not null"`
}

func (ChatFolder) TableName() string { return "chat_folders" }

// ChatFolderMember is the folder/chat junction.
type ChatFolderMember struct {
	FolderID int64 `json:"folderId" gorm:"primaryKey;autoIncrement:false;index:idx_folder_members_folder"`
	ChatID   int64 `json:"chatId"   gorm:"primaryKey;autoIncrement:false;index:idx_folder_members_chat"`
}

func (ChatFolderMember) TableName() string { return "chat_folder_members" }

// Metadata is a key-value row for run bookkeeping (owner id, last backup
// time, cached statistics).
type Metadata struct {
	Key       string    `json:"key"       gorm:"primaryKey"`
	Value     string    `json:"value"`
	UpdatedAt time.Time `json:"updatedAt" gorm:"not null"`
}

func (Metadata) TableName() string { return "metadata" }

// Metadata keys written by the sync engine.
const (
	MetaOwnerID        = "owner_id"
	MetaLastBackupTime = "last_backup_time"
	MetaStatistics     = "statistics"
)

// All returns every model handled by the schema migrator.
func All() []interface{} {
	return []interface{}{
		&Chat{},
		&User{},
		&Message{},
		&Attachment{},
		&Reaction{},
		&SyncCheckpoint{},
		&ForumTopic{},
		&ChatFolder{},
		&ChatFolderMember{},
		&Metadata{},
	}
}
