// Package gormstore is the shared gorm implementation of the archive
// store. The sqlite and postgres plugins differ only in how they open the
// database; everything else lives here.
package gormstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/telvault/telvault/internal/model"
	"github.com/telvault/telvault/internal/registry/store"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Store implements store.ArchiveStore over a gorm DB.
type Store struct {
	db *gorm.DB
}

// New wraps an open gorm DB.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// DB exposes the underlying handle for backend-specific setup.
func (s *Store) DB() *gorm.DB { return s.db }

func (s *Store) Migrate(ctx context.Context) error {
	return s.db.WithContext(ctx).AutoMigrate(model.All()...)
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *Store) UpsertChat(ctx context.Context, chat *model.Chat) error {
	if chat == nil || chat.ID == 0 {
		return &store.ValidationError{Field: "chat.id", Message: "must be set"}
	}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(chat).Error
}

func (s *Store) GetChat(ctx context.Context, chatID int64) (*model.Chat, error) {
	var chat model.Chat
	err := s.db.WithContext(ctx).First(&chat, "id = ?", chatID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, &store.NotFoundError{Resource: "chat", ID: strconv.FormatInt(chatID, 10)}
	}
	if err != nil {
		return nil, err
	}
	return &chat, nil
}

func (s *Store) ListChatIDs(ctx context.Context) ([]int64, error) {
	var ids []int64
	err := s.db.WithContext(ctx).Model(&model.Chat{}).Order("id").Pluck("id", &ids).Error
	return ids, err
}

func (s *Store) ListChats(ctx context.Context) ([]store.ChatSummary, error) {
	var chats []model.Chat
	if err := s.db.WithContext(ctx).Order("title").Find(&chats).Error; err != nil {
		return nil, err
	}
	type agg struct {
		ChatID int64
		Count  int64
		Last   *time.Time
	}
	var aggs []agg
	err := s.db.WithContext(ctx).Model(&model.Message{}).
		Select("chat_id, count(*) as count, max(date) as last").
		Group("chat_id").
		Scan(&aggs).Error
	if err != nil {
		return nil, err
	}
	byChat := make(map[int64]agg, len(aggs))
	for _, a := range aggs {
		byChat[a.ChatID] = a
	}
	out := make([]store.ChatSummary, 0, len(chats))
	for _, c := range chats {
		a := byChat[c.ID]
		out = append(out, store.ChatSummary{Chat: c, MessageCount: a.Count, LastMessage: a.Last})
	}
	return out, nil
}

func (s *Store) DeleteChat(ctx context.Context, chatID int64) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("chat_id = ?", chatID).Delete(&model.Reaction{}).Error; err != nil {
			return err
		}
		if err := tx.Where("chat_id = ?", chatID).Delete(&model.Attachment{}).Error; err != nil {
			return err
		}
		if err := tx.Where("chat_id = ?", chatID).Delete(&model.Message{}).Error; err != nil {
			return err
		}
		if err := tx.Where("chat_id = ?", chatID).Delete(&model.ForumTopic{}).Error; err != nil {
			return err
		}
		if err := tx.Where("chat_id = ?", chatID).Delete(&model.ChatFolderMember{}).Error; err != nil {
			return err
		}
		if err := tx.Where("chat_id = ?", chatID).Delete(&model.SyncCheckpoint{}).Error; err != nil {
			return err
		}
		return tx.Delete(&model.Chat{}, "id = ?", chatID).Error
	})
}

func (s *Store) UpsertUsers(ctx context.Context, users []model.User) error {
	if len(users) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(&users).Error
}

// CommitBatch lands one normalized batch atomically. Reactions are a
// full replace per message: the provider reports current tallies, not
// deltas. The cursor advance shares the transaction so a crash can lose
// at most re-fetchable work, never checkpointed-but-missing rows.
func (s *Store) CommitBatch(ctx context.Context, batch *store.Batch) error {
	if batch == nil {
		return nil
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if len(batch.Users) > 0 {
			if err := tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(&batch.Users).Error; err != nil {
				return fmt.Errorf("upsert users: %w", err)
			}
		}
		if len(batch.Messages) > 0 {
			if err := tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(&batch.Messages).Error; err != nil {
				return fmt.Errorf("upsert messages: %w", err)
			}
			msgIDs := make([]int64, 0, len(batch.Messages))
			chatID := batch.Messages[0].ChatID
			for _, m := range batch.Messages {
				msgIDs = append(msgIDs, m.ID)
			}
			if err := tx.Where("chat_id = ? AND message_id IN ?", chatID, msgIDs).
				Delete(&model.Reaction{}).Error; err != nil {
				return fmt.Errorf("clear reactions: %w", err)
			}
		}
		if len(batch.Attachments) > 0 {
			if err := tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(&batch.Attachments).Error; err != nil {
				return fmt.Errorf("upsert attachments: %w", err)
			}
		}
		if len(batch.Reactions) > 0 {
			if err := tx.Create(&batch.Reactions).Error; err != nil {
				return fmt.Errorf("insert reactions: %w", err)
			}
		}
		if batch.Cursor != nil {
			if err := advanceCursor(tx, *batch.Cursor); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) Cursor(ctx context.Context, chatID int64) (*model.SyncCheckpoint, error) {
	var cp model.SyncCheckpoint
	err := s.db.WithContext(ctx).First(&cp, "chat_id = ?", chatID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &cp, nil
}

func (s *Store) AdvanceCursor(ctx context.Context, adv store.CursorAdvance) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return advanceCursor(tx, adv)
	})
}

// advanceCursor is monotonic: a stale advance (last message ID not past
// the stored one) is dropped so replays and out-of-order commits can
// never move a checkpoint backwards.
func advanceCursor(tx *gorm.DB, adv store.CursorAdvance) error {
	now := time.Now()
	var cp model.SyncCheckpoint
	err := tx.First(&cp, "chat_id = ?", adv.ChatID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		cp = model.SyncCheckpoint{
			ChatID:        adv.ChatID,
			LastMessageID: adv.LastMessageID,
			MessageCount:  adv.Added,
			LastSyncAt:    now,
		}
		return tx.Create(&cp).Error
	}
	if err != nil {
		return err
	}
	if adv.LastMessageID <= cp.LastMessageID {
		return nil
	}
	return tx.Model(&model.SyncCheckpoint{}).
		Where("chat_id = ?", adv.ChatID).
		Updates(map[string]interface{}{
			"last_message_id": adv.LastMessageID,
			"message_count":   gorm.Expr("message_count + ?", adv.Added),
			"last_sync_at":    now,
		}).Error
}

func (s *Store) RecentMessageRefs(ctx context.Context, chatID int64, limit int) ([]store.MessageRef, error) {
	var refs []store.MessageRef
	err := s.db.WithContext(ctx).Model(&model.Message{}).
		Select("id, edit_date").
		Where("chat_id = ?", chatID).
		Order("id desc").
		Limit(limit).
		Scan(&refs).Error
	return refs, err
}

func (s *Store) DeleteMessage(ctx context.Context, chatID, messageID int64) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("chat_id = ? AND message_id = ?", chatID, messageID).
			Delete(&model.Reaction{}).Error; err != nil {
			return err
		}
		if err := tx.Where("chat_id = ? AND message_id = ?", chatID, messageID).
			Delete(&model.Attachment{}).Error; err != nil {
			return err
		}
		return tx.Where("chat_id = ? AND id = ?", chatID, messageID).
			Delete(&model.Message{}).Error
	})
}

func (s *Store) UpdateMessageText(ctx context.Context, chatID, messageID int64, text string, editDate *time.Time) error {
	return s.db.WithContext(ctx).Model(&model.Message{}).
		Where("chat_id = ? AND id = ?", chatID, messageID).
		Updates(map[string]interface{}{"text": text, "edit_date": editDate}).Error
}

func (s *Store) ReplacePinned(ctx context.Context, chatID int64, pinnedIDs []int64) (int64, error) {
	var changed int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		unpin := tx.Model(&model.Message{}).
			Where("chat_id = ? AND is_pinned = ?", chatID, true)
		if len(pinnedIDs) > 0 {
			unpin = unpin.Where("id NOT IN ?", pinnedIDs)
		}
		res := unpin.Update("is_pinned", false)
		if res.Error != nil {
			return res.Error
		}
		changed += res.RowsAffected
		if len(pinnedIDs) > 0 {
			res = tx.Model(&model.Message{}).
				Where("chat_id = ? AND id IN ? AND is_pinned = ?", chatID, pinnedIDs, false).
				Update("is_pinned", true)
			if res.Error != nil {
				return res.Error
			}
			changed += res.RowsAffected
		}
		return nil
	})
	return changed, err
}

func (s *Store) UpsertTopics(ctx context.Context, chatID int64, topics []model.ForumTopic) error {
	if len(topics) == 0 {
		return nil
	}
	for i := range topics {
		topics[i].ChatID = chatID
	}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(&topics).Error
}

func (s *Store) TopicRootIDs(ctx context.Context, chatID int64) ([]int64, error) {
	var ids []int64
	err := s.db.WithContext(ctx).Model(&model.ForumTopic{}).
		Where("chat_id = ?", chatID).
		Order("id").
		Pluck("id", &ids).Error
	return ids, err
}

// ReplaceFolders swaps in a full folder snapshot. Folders are cheap to
// rebuild, so replace-all beats diffing.
func (s *Store) ReplaceFolders(ctx context.Context, folders []model.ChatFolder, members []model.ChatFolderMember) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("1 = 1").Delete(&model.ChatFolderMember{}).Error; err != nil {
			return err
		}
		if err := tx.Where("1 = 1").Delete(&model.ChatFolder{}).Error; err != nil {
			return err
		}
		if len(folders) > 0 {
			if err := tx.Create(&folders).Error; err != nil {
				return err
			}
		}
		if len(members) > 0 {
			if err := tx.Create(&members).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) ListAttachments(ctx context.Context, chatID int64, downloadedOnly bool) ([]model.Attachment, error) {
	q := s.db.WithContext(ctx).Where("chat_id = ?", chatID)
	if downloadedOnly {
		q = q.Where("downloaded = ?", true)
	}
	var atts []model.Attachment
	err := q.Order("id").Find(&atts).Error
	return atts, err
}

func (s *Store) UpdateAttachment(ctx context.Context, att *model.Attachment) error {
	if att == nil || att.ID == "" {
		return &store.ValidationError{Field: "attachment.id", Message: "must be set"}
	}
	return s.db.WithContext(ctx).Save(att).Error
}

func (s *Store) ClearDownloads(ctx context.Context, chatID int64) (int64, error) {
	res := s.db.WithContext(ctx).Model(&model.Attachment{}).
		Where("chat_id = ? AND downloaded = ?", chatID, true).
		Updates(map[string]interface{}{
			"downloaded":    false,
			"file_path":     nil,
			"download_date": nil,
		})
	return res.RowsAffected, res.Error
}

func (s *Store) ListMessages(ctx context.Context, chatID int64, limit, offset int) (*store.MessagePage, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	var total int64
	if err := s.db.WithContext(ctx).Model(&model.Message{}).
		Where("chat_id = ?", chatID).Count(&total).Error; err != nil {
		return nil, err
	}
	var msgs []model.Message
	err := s.db.WithContext(ctx).
		Where("chat_id = ?", chatID).
		Order("date desc, id desc").
		Limit(limit).
		Offset(offset).
		Find(&msgs).Error
	if err != nil {
		return nil, err
	}
	return &store.MessagePage{Data: msgs, Total: total}, nil
}

func (s *Store) Stats(ctx context.Context) (*store.Stats, error) {
	db := s.db.WithContext(ctx)
	stats := &store.Stats{GeneratedAt: time.Now()}
	if err := db.Model(&model.Chat{}).Count(&stats.Chats).Error; err != nil {
		return nil, err
	}
	if err := db.Model(&model.User{}).Count(&stats.Users).Error; err != nil {
		return nil, err
	}
	if err := db.Model(&model.Message{}).Count(&stats.Messages).Error; err != nil {
		return nil, err
	}
	if err := db.Model(&model.Attachment{}).Count(&stats.Attachments).Error; err != nil {
		return nil, err
	}
	if err := db.Model(&model.Attachment{}).
		Where("downloaded = ?", true).
		Count(&stats.DownloadedAttachments).Error; err != nil {
		return nil, err
	}
	var mediaBytes *int64
	if err := db.Model(&model.Attachment{}).
		Where("downloaded = ?", true).
		Select("sum(file_size)").
		Scan(&mediaBytes).Error; err != nil {
		return nil, err
	}
	if mediaBytes != nil {
		stats.MediaBytes = *mediaBytes
	}
	type dateRange struct {
		Oldest *time.Time
		Newest *time.Time
	}
	var dr dateRange
	if err := db.Model(&model.Message{}).
		Select("min(date) as oldest, max(date) as newest").
		Scan(&dr).Error; err != nil {
		return nil, err
	}
	stats.OldestMessage = dr.Oldest
	stats.NewestMessage = dr.Newest
	return stats, nil
}

// GetMetadata returns the stored value, or "" when the key is unset.
func (s *Store) GetMetadata(ctx context.Context, key string) (string, error) {
	var m model.Metadata
	err := s.db.WithContext(ctx).First(&m, "key = ?", key).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return m.Value, nil
}

func (s *Store) SetMetadata(ctx context.Context, key, value string) error {
	m := model.Metadata{Key: key, Value: value, UpdatedAt: time.Now()}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(&m).Error
}

func (s *Store) BackfillOutgoing(ctx context.Context, ownerID int64) (int64, error) {
	res := s.db.WithContext(ctx).Model(&model.Message{}).
		Where("sender_id = ? AND is_outgoing = ?", ownerID, false).
		Update("is_outgoing", true)
	return res.RowsAffected, res.Error
}
