package service

import (
	"context"
	"errors"
	"time"

	"github.com/charmbracelet/log"
	"github.com/telvault/telvault/internal/config"
	"github.com/telvault/telvault/internal/ingest"
	"github.com/telvault/telvault/internal/media"
	"github.com/telvault/telvault/internal/model"
	"github.com/telvault/telvault/internal/registry/store"
	"github.com/telvault/telvault/internal/source"
)

// resubscribeDelay spaces out reconnect attempts after the subscription
// dies.
const resubscribeDelay = 10 * time.Second

// Listener applies live updates between scheduled runs: new and edited
// items are normalized and committed one at a time, deletions are applied
// directly. Only chats already present in the archive are touched; the
// scheduled run owns admission. Live commits never carry a checkpoint:
// events can arrive with gaps (resubscribe windows, dropped commits), and
// a checkpoint past an unfetched item would lose it forever. The next
// scheduled run re-fetches from the last checkpoint and advances it.
type Listener struct {
	conn  *source.SharedConn
	store store.ArchiveStore
	media *media.Store
	cfg   *config.Config
}

// NewListener creates the live-update applier.
func NewListener(conn *source.SharedConn, st store.ArchiveStore, mediaStore *media.Store, cfg *config.Config) *Listener {
	return &Listener{conn: conn, store: st, media: mediaStore, cfg: cfg}
}

// Start blocks until ctx is cancelled, resubscribing whenever the
// subscription dies.
func (l *Listener) Start(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		if err := l.subscribeOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error("Listener subscription ended", "err", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(resubscribeDelay):
		}
	}
}

func (l *Listener) subscribeOnce(ctx context.Context) error {
	src, err := l.conn.Acquire(ctx)
	if err != nil {
		return err
	}
	defer l.conn.Release()

	listener, ok := src.(source.Listener)
	if !ok {
		log.Warn("Source does not support live updates, listener disabled")
		<-ctx.Done()
		return ctx.Err()
	}
	pipe := ingest.NewPipeline(src, l.media, l.cfg)

	log.Info("Listener subscribed")
	return listener.Subscribe(ctx, func(ev source.Event) error {
		if !l.archived(ctx, ev.ChatID) {
			return nil
		}
		switch ev.Kind {
		case source.EventNewMessage, source.EventEditedMessage:
			if ev.Item == nil {
				return nil
			}
			staged := pipe.Normalize(ctx, ev.ChatID, ev.Item)
			batch := &store.Batch{
				Messages:  []model.Message{staged.Message},
				Reactions: staged.Reactions,
			}
			if staged.Sender != nil {
				batch.Users = append(batch.Users, *staged.Sender)
			}
			if staged.Attachment != nil {
				batch.Attachments = append(batch.Attachments, *staged.Attachment)
			}
			if err := l.store.CommitBatch(ctx, batch); err != nil {
				log.Error("Live update commit failed", "chatId", ev.ChatID, "itemId", ev.Item.ID, "err", err)
			}
		case source.EventDeletedMessage:
			for _, id := range ev.ItemIDs {
				if err := l.store.DeleteMessage(ctx, ev.ChatID, id); err != nil {
					log.Error("Live deletion failed", "chatId", ev.ChatID, "itemId", id, "err", err)
				}
			}
		}
		return nil
	})
}

// archived reports whether the chat is already part of the archive.
func (l *Listener) archived(ctx context.Context, chatID int64) bool {
	_, err := l.store.GetChat(ctx, chatID)
	if err == nil {
		return true
	}
	var nf *store.NotFoundError
	if !errors.As(err, &nf) {
		log.Error("Chat lookup failed", "chatId", chatID, "err", err)
	}
	return false
}
