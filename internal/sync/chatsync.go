package sync

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/charmbracelet/log"
	"github.com/telvault/telvault/internal/ingest"
	"github.com/telvault/telvault/internal/metrics"
	"github.com/telvault/telvault/internal/model"
	"github.com/telvault/telvault/internal/registry/store"
	"github.com/telvault/telvault/internal/retry"
	"github.com/telvault/telvault/internal/source"
	"github.com/telvault/telvault/internal/tempfiles"
)

// maxAlbumItems bounds how many items an open album run may defer across
// batch flushes.
const maxAlbumItems = 10

type chatStats struct {
	initial     bool
	messages    int64
	attachments int64
	edited      int
	deleted     int
	pinned      int64
}

// syncChat ingests everything new in one conversation, then runs its side
// syncs. Data commits before the checkpoint advances, so interrupting a
// chat mid-way costs at most a re-fetch of uncheckpointed batches.
func (r *Runner) syncChat(ctx context.Context, h source.ConversationHandle) (*chatStats, error) {
	cs := &chatStats{}
	chat := r.chatRow(h)
	chat.ProfilePhotoPath = r.syncAvatar(ctx, h)
	if err := r.store.UpsertChat(ctx, chat); err != nil {
		return cs, fmt.Errorf("upsert chat: %w", err)
	}

	cursor, err := r.store.Cursor(ctx, h.ID)
	if err != nil {
		return cs, fmt.Errorf("load cursor: %w", err)
	}
	var sinceID int64
	initial := cursor == nil
	cs.initial = initial
	if cursor != nil {
		sinceID = cursor.LastMessageID
	}
	log.Info("Syncing chat", "chatId", h.ID, "name", chat.DisplayName(), "sinceId", sinceID, "initial", initial)

	var iter source.ItemIterator
	err = retry.Do(ctx, "iter-items", func() error {
		var opErr error
		iter, opErr = r.src.IterItems(ctx, h.ID, sinceID)
		return opErr
	})
	if err != nil {
		return cs, r.classifyChatErr(h.ID, err)
	}

	topicRoots := map[int64]bool{}
	var staged []*ingest.Staged
	consecutive := 0
	batchNum := 0

	// The checkpoint covers everything committed, not just the current
	// batch: pendingLast and pendingCount accumulate across batches until a
	// cursor rides along, so no committed message is ever left behind it.
	var pendingLast, pendingCount int64

	flush := func(final bool) error {
		commit := staged
		if !final {
			// An open album run at the batch boundary is deferred to the next
			// batch so it is not split into two synthetic groups. Provider
			// albums cap at 10 items, so longer runs commit as they are.
			if carry := ingest.TrailingAlbumRun(staged, r.cfg.AlbumWindow); len(carry) < maxAlbumItems {
				commit = staged[:len(staged)-len(carry)]
			}
		}
		if len(commit) == 0 {
			if final && pendingCount > 0 {
				adv := store.CursorAdvance{ChatID: h.ID, LastMessageID: pendingLast, Added: pendingCount}
				if err := r.store.AdvanceCursor(ctx, adv); err != nil {
					return fmt.Errorf("advance cursor: %w", err)
				}
				pendingCount = 0
			}
			return nil
		}
		batchNum++
		batch := r.buildBatch(commit)
		for _, m := range batch.Messages {
			if m.ID > pendingLast {
				pendingLast = m.ID
			}
		}
		checkpoint := final || batchNum%r.cfg.CheckpointInterval == 0
		if checkpoint {
			batch.Cursor = &store.CursorAdvance{
				ChatID:        h.ID,
				LastMessageID: pendingLast,
				Added:         pendingCount + int64(len(batch.Messages)),
			}
		}
		if err := r.store.CommitBatch(ctx, batch); err != nil {
			return fmt.Errorf("commit batch %d: %w", batchNum, err)
		}
		if checkpoint {
			pendingCount = 0
		} else {
			pendingCount += int64(len(batch.Messages))
		}
		cs.messages += int64(len(batch.Messages))
		metrics.MessagesIngested.Add(float64(len(batch.Messages)))
		for _, a := range batch.Attachments {
			if a.Downloaded {
				cs.attachments++
				metrics.AttachmentsDownloaded.Inc()
			}
		}
		staged = staged[:copy(staged, staged[len(commit):])]
		return nil
	}

	for {
		var item *source.RawItem
		err := retry.Do(ctx, "next-item", func() error {
			var opErr error
			item, opErr = iter.Next(ctx)
			return opErr
		})
		if err != nil {
			switch retry.Classify(err) {
			case retry.AccessDenied:
				log.Warn("Access denied, skipping chat", "chatId", h.ID, "err", err)
				return cs, nil
			case retry.Fatal:
				return cs, err
			default:
				consecutive++
				if consecutive >= r.cfg.MaxConsecutiveErrs {
					return cs, fmt.Errorf("aborting chat after %d consecutive errors: %w", consecutive, err)
				}
				log.Error("Item fetch failed, continuing", "chatId", h.ID, "errors", consecutive, "err", err)
				continue
			}
		}
		consecutive = 0
		if item == nil {
			break
		}
		s := r.pipe.Normalize(ctx, h.ID, item)
		if s.Message.SenderID != nil && *s.Message.SenderID == r.ownerID {
			s.Message.IsOutgoing = true
		}
		if s.Message.ReplyToTopID != nil {
			topicRoots[*s.Message.ReplyToTopID] = true
		}
		staged = append(staged, s)
		if len(staged) >= r.cfg.BatchSize {
			if err := flush(false); err != nil {
				return cs, err
			}
		}
	}
	if err := flush(true); err != nil {
		return cs, err
	}

	r.syncTopics(ctx, h, topicRoots)

	pinned, err := r.rec.SyncPinned(ctx, h.ID)
	if err != nil {
		if retry.Classify(err) == retry.Fatal {
			return cs, err
		}
		log.Error("Pinned sync failed", "chatId", h.ID, "err", err)
	}
	cs.pinned = pinned

	// The full rescan is expensive, so it is opt-in and never runs on the
	// initial import, where there is nothing old enough to have changed.
	if r.cfg.SyncDeletionsEdits && !initial {
		res, err := r.rec.SyncEditsAndDeletions(ctx, h.ID)
		if res != nil {
			cs.edited += res.Edited
			cs.deleted += res.Deleted
		}
		if err != nil {
			if retry.Classify(err) == retry.Fatal {
				return cs, err
			}
			log.Error("Edit/deletion sync failed", "chatId", h.ID, "err", err)
		}
	}
	return cs, nil
}

// buildBatch assembles the staged items into one atomic commit. Cursor
// placement is the caller's decision; the batch itself is data only.
func (r *Runner) buildBatch(staged []*ingest.Staged) *store.Batch {
	ingest.DetectAlbums(staged, r.cfg.AlbumWindow)

	batch := &store.Batch{}
	usersByID := map[int64]model.User{}
	for _, s := range staged {
		batch.Messages = append(batch.Messages, s.Message)
		if s.Attachment != nil {
			batch.Attachments = append(batch.Attachments, *s.Attachment)
		}
		batch.Reactions = append(batch.Reactions, s.Reactions...)
		if s.Sender != nil {
			usersByID[s.Sender.ID] = *s.Sender
		}
	}
	for _, u := range usersByID {
		batch.Users = append(batch.Users, u)
	}
	return batch
}

// avatarFileName is the fixed per-chat profile photo name under the
// chat's media directory, served by the viewer's static media route.
const avatarFileName = "avatar.jpg"

// syncAvatar ensures the conversation's profile photo exists on disk and
// returns its path. A photo already on disk is kept; providers with no
// photo for the conversation leave the path unset.
func (r *Runner) syncAvatar(ctx context.Context, h source.ConversationHandle) *string {
	if !r.cfg.Media.Download || r.cfg.Media.SkipChatIDs.Contains(h.ID) {
		return nil
	}
	dir := r.media.ChatDir(h.ID)
	path := filepath.Join(dir, avatarFileName)
	if _, err := os.Stat(path); err == nil {
		return &path
	}
	tmp, err := tempfiles.Create(dir, ".avatar-*")
	if err != nil {
		log.Error("Could not create avatar temp file", "chatId", h.ID, "err", err)
		return nil
	}
	tmpPath := tmp.Name()
	tmp.Close()
	err = retry.Do(ctx, "profile-photo", func() error {
		return r.src.DownloadProfilePhoto(ctx, h.ID, tmpPath)
	})
	if err != nil {
		tempfiles.Discard(tmpPath)
		if !errors.Is(err, source.ErrNoProfilePhoto) {
			log.Warn("Profile photo download failed", "chatId", h.ID, "err", err)
		}
		return nil
	}
	if err := tempfiles.Commit(tmpPath, path); err != nil {
		log.Error("Could not store profile photo", "chatId", h.ID, "err", err)
		return nil
	}
	return &path
}

// syncTopics persists forum topics: from the provider's topic API when it
// has one, otherwise inferred from the thread-root IDs observed during
// ingest.
func (r *Runner) syncTopics(ctx context.Context, h source.ConversationHandle, observedRoots map[int64]bool) {
	if !h.Forum {
		return
	}
	var topics []source.Topic
	err := retry.Do(ctx, "get-topics", func() error {
		var opErr error
		topics, opErr = r.src.GetTopics(ctx, h.ID)
		return opErr
	})
	switch {
	case err == nil:
		rows := make([]model.ForumTopic, 0, len(topics))
		now := time.Now()
		for _, t := range topics {
			row := model.ForumTopic{
				ID:        t.ID,
				ChatID:    h.ID,
				Title:     t.Title,
				IsClosed:  t.Closed,
				IsPinned:  t.Pinned,
				IsHidden:  t.Hidden,
				CreatedAt: now,
				UpdatedAt: now,
			}
			if t.IconColor != 0 {
				color := t.IconColor
				row.IconColor = &color
			}
			if t.IconEmoji != "" {
				emoji := t.IconEmoji
				row.IconEmoji = &emoji
			}
			if !t.Date.IsZero() {
				date := t.Date
				row.Date = &date
			}
			rows = append(rows, row)
		}
		if err := r.store.UpsertTopics(ctx, h.ID, rows); err != nil {
			log.Error("Topic upsert failed", "chatId", h.ID, "err", err)
		}
	case errors.Is(err, source.ErrTopicsUnsupported):
		r.inferTopics(ctx, h.ID, observedRoots)
	default:
		log.Error("Topic sync failed", "chatId", h.ID, "err", err)
	}
}

// inferTopics creates placeholder topics for thread roots we have seen
// but have no descriptor for. A later run against a provider with a topic
// API upserts real titles over these.
func (r *Runner) inferTopics(ctx context.Context, chatID int64, observedRoots map[int64]bool) {
	if len(observedRoots) == 0 {
		return
	}
	known, err := r.store.TopicRootIDs(ctx, chatID)
	if err != nil {
		log.Error("Topic lookup failed", "chatId", chatID, "err", err)
		return
	}
	knownSet := make(map[int64]bool, len(known))
	for _, id := range known {
		knownSet[id] = true
	}
	now := time.Now()
	var rows []model.ForumTopic
	for root := range observedRoots {
		if knownSet[root] {
			continue
		}
		rows = append(rows, model.ForumTopic{
			ID:        root,
			ChatID:    chatID,
			Title:     fmt.Sprintf("Topic %d", root),
			CreatedAt: now,
			UpdatedAt: now,
		})
	}
	if len(rows) == 0 {
		return
	}
	if err := r.store.UpsertTopics(ctx, chatID, rows); err != nil {
		log.Error("Inferred topic upsert failed", "chatId", chatID, "err", err)
		return
	}
	log.Debug("Inferred forum topics", "chatId", chatID, "topics", len(rows))
}

func (r *Runner) chatRow(h source.ConversationHandle) *model.Chat {
	now := time.Now()
	chat := &model.Chat{
		ID:         h.ID,
		IsForum:    h.Forum,
		IsArchived: r.archivedIDs[h.ID],
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	switch {
	case h.IsUser() || h.Kind == source.KindUser:
		chat.Type = model.ChatTypePrivate
	case h.IsGroup():
		chat.Type = model.ChatTypeGroup
	default:
		chat.Type = model.ChatTypeChannel
	}
	if h.Title != "" {
		title := h.Title
		chat.Title = &title
	}
	if h.Username != "" {
		username := h.Username
		chat.Username = &username
	}
	if h.FirstName != "" {
		first := h.FirstName
		chat.FirstName = &first
	}
	if h.LastName != "" {
		last := h.LastName
		chat.LastName = &last
	}
	if h.Phone != "" {
		phone := h.Phone
		chat.Phone = &phone
	}
	if h.ParticipantsCount > 0 {
		count := h.ParticipantsCount
		chat.ParticipantsCount = &count
	}
	return chat
}

func (r *Runner) classifyChatErr(chatID int64, err error) error {
	if retry.Classify(err) == retry.AccessDenied {
		log.Warn("Access denied, skipping chat", "chatId", chatID, "err", err)
		return nil
	}
	return err
}
