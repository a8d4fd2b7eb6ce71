package sync

import (
	"context"
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/telvault/telvault/internal/media"
	"github.com/telvault/telvault/internal/retry"
	"github.com/telvault/telvault/internal/source"
)

// skipMediaCleanup deletes already-downloaded media for chats on the
// media skip list, when enabled. It runs once per process: the skip list
// only changes with a restart.
func (r *Runner) skipMediaCleanup(ctx context.Context) {
	if r.skipCleanupDone || !r.cfg.Media.SkipDeleteExisting || len(r.cfg.Media.SkipChatIDs) == 0 {
		return
	}
	r.skipCleanupDone = true
	for chatID := range r.cfg.Media.SkipChatIDs {
		atts, err := r.store.ListAttachments(ctx, chatID, true)
		if err != nil {
			log.Error("Skip-media cleanup lookup failed", "chatId", chatID, "err", err)
			continue
		}
		stats := media.ReleaseStats{}
		for _, att := range atts {
			if att.FilePath == nil {
				continue
			}
			if err := r.media.Release(*att.FilePath, &stats); err != nil {
				log.Error("Could not release attachment file", "path", *att.FilePath, "err", err)
			}
		}
		cleared, err := r.store.ClearDownloads(ctx, chatID)
		if err != nil {
			log.Error("Skip-media cleanup update failed", "chatId", chatID, "err", err)
			continue
		}
		r.media.RemoveChatDirIfEmpty(chatID)
		if cleared > 0 {
			log.Info("Removed media for skipped chat",
				"chatId", chatID, "cleared", cleared, "files", stats.Files, "links", stats.Links, "freedBytes", stats.FreedBytes)
		}
	}
}

// VerifyAllMedia runs the verification pass over every archived chat,
// regardless of the per-run verify setting. Returns the number of files
// re-downloaded.
func (r *Runner) VerifyAllMedia(ctx context.Context) (int, error) {
	chatIDs, err := r.store.ListChatIDs(ctx)
	if err != nil {
		return 0, err
	}
	total := 0
	for _, chatID := range chatIDs {
		n, err := r.verifyChatMedia(ctx, chatID)
		total += n
		if err != nil {
			if retry.Classify(err) == retry.Fatal {
				return total, err
			}
			log.Error("Media verification failed", "chatId", chatID, "err", err)
		}
	}
	return total, nil
}

// verifyChatMedia checks every downloaded attachment of a chat on disk
// and re-downloads missing or corrupt files. Files whose remote item is
// gone are demoted to metadata-only records.
func (r *Runner) verifyChatMedia(ctx context.Context, chatID int64) (int, error) {
	atts, err := r.store.ListAttachments(ctx, chatID, true)
	if err != nil {
		return 0, fmt.Errorf("list attachments: %w", err)
	}
	redownloaded := 0
	for i := range atts {
		att := &atts[i]
		if att.FilePath == nil || att.FileName == nil || att.MessageID == nil {
			continue
		}
		var expected int64
		if att.FileSize != nil {
			expected = *att.FileSize
		}
		state := r.media.Verify(*att.FilePath, expected)
		if state == media.VerifyOK {
			continue
		}
		log.Warn("Attachment failed verification", "chatId", chatID, "attachment", att.ID, "state", state.String())
		r.media.Remove(chatID, *att.FileName)

		var items []*source.RawItem
		err := retry.Do(ctx, "refetch-item", func() error {
			var opErr error
			items, opErr = r.src.FetchItemsByID(ctx, chatID, []int64{*att.MessageID})
			return opErr
		})
		if err != nil {
			if retry.Classify(err) == retry.Fatal {
				return redownloaded, err
			}
			log.Error("Could not refetch item for redownload", "chatId", chatID, "itemId", *att.MessageID, "err", err)
			continue
		}
		if len(items) == 0 || items[0] == nil || items[0].Media == nil {
			// Item or media gone upstream. Keep the metadata row but stop
			// claiming the file exists.
			att.Downloaded = false
			att.FilePath = nil
			att.DownloadDate = nil
			if err := r.store.UpdateAttachment(ctx, att); err != nil {
				log.Error("Attachment demotion failed", "attachment", att.ID, "err", err)
			}
			continue
		}
		item := items[0]
		refPath, size, err := r.media.ResolveOrFetch(ctx, chatID, *att.FileName, func(ctx context.Context, path string) error {
			return r.src.DownloadAttachment(ctx, chatID, item, path)
		})
		if err != nil {
			log.Error("Redownload failed", "chatId", chatID, "attachment", att.ID, "err", err)
			continue
		}
		att.FilePath = &refPath
		att.Downloaded = true
		if size > 0 {
			att.FileSize = &size
		}
		if err := r.store.UpdateAttachment(ctx, att); err != nil {
			log.Error("Attachment update failed", "attachment", att.ID, "err", err)
			continue
		}
		redownloaded++
	}
	return redownloaded, nil
}
