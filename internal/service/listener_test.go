package service

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/telvault/telvault/internal/config"
	"github.com/telvault/telvault/internal/media"
	"github.com/telvault/telvault/internal/model"
	"github.com/telvault/telvault/internal/plugin/store/gormstore"
	"github.com/telvault/telvault/internal/registry/store"
	"github.com/telvault/telvault/internal/source"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// liveSource delivers a fixed event sequence once, then ends the
// subscription.
type liveSource struct {
	events []source.Event
}

func (s *liveSource) Me(ctx context.Context) (int64, error) { return 1, nil }
func (s *liveSource) ListConversations(ctx context.Context, archived bool) ([]source.ConversationHandle, error) {
	return nil, nil
}
func (s *liveSource) ResolveConversation(ctx context.Context, id int64) (source.ConversationHandle, error) {
	return source.ConversationHandle{}, nil
}
func (s *liveSource) IterItems(ctx context.Context, conversation, sinceID int64) (source.ItemIterator, error) {
	return nil, nil
}
func (s *liveSource) FetchItemsByID(ctx context.Context, conversation int64, ids []int64) ([]*source.RawItem, error) {
	return make([]*source.RawItem, len(ids)), nil
}
func (s *liveSource) DownloadAttachment(ctx context.Context, conversation int64, item *source.RawItem, path string) error {
	return nil
}
func (s *liveSource) DownloadProfilePhoto(ctx context.Context, conversation int64, path string) error {
	return source.ErrNoProfilePhoto
}
func (s *liveSource) GetPinnedItems(ctx context.Context, conversation int64) ([]int64, error) {
	return nil, nil
}
func (s *liveSource) GetTopics(ctx context.Context, conversation int64) ([]source.Topic, error) {
	return nil, source.ErrTopicsUnsupported
}
func (s *liveSource) GetFolders(ctx context.Context) ([]source.Folder, error) { return nil, nil }

func (s *liveSource) Subscribe(ctx context.Context, handler func(source.Event) error) error {
	for _, ev := range s.events {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := handler(ev); err != nil {
			return err
		}
	}
	return nil
}

type liveConn struct {
	src *liveSource
}

func (c *liveConn) Source() source.Source             { return c.src }
func (c *liveConn) Connected() bool                   { return true }
func (c *liveConn) Connect(ctx context.Context) error { return nil }
func (c *liveConn) Close() error                      { return nil }

func newListenerStore(t *testing.T) store.ArchiveStore {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "test.db")), &gorm.Config{})
	require.NoError(t, err)
	s := gormstore.New(db)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { s.Close() })
	return s
}

func seedListenerChat(t *testing.T, st store.ArchiveStore, chatID int64, upTo int64) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, st.UpsertChat(ctx, &model.Chat{ID: chatID, Type: model.ChatTypePrivate}))
	base := time.Now().Add(-time.Hour).Truncate(time.Second)
	var msgs []model.Message
	for i := int64(1); i <= upTo; i++ {
		msgs = append(msgs, model.Message{ID: i, ChatID: chatID, Date: base.Add(time.Duration(i) * time.Second)})
	}
	require.NoError(t, st.CommitBatch(ctx, &store.Batch{
		Messages: msgs,
		Cursor:   &store.CursorAdvance{ChatID: chatID, LastMessageID: upTo, Added: upTo},
	}))
}

func newTestListener(st store.ArchiveStore, src *liveSource, mediaDir string) *Listener {
	cfg := config.DefaultConfig()
	cfg.Media.Path = mediaDir
	conn := source.NewSharedConn(&liveConn{src: src})
	return NewListener(conn, st, media.NewStore(mediaDir, true), &cfg)
}

// A live event beyond the checkpoint must not advance it: events can
// arrive with gaps, and a checkpoint past an unfetched item would make
// the next scheduled run skip it permanently.
func TestListener_LiveEventDoesNotAdvanceCheckpoint(t *testing.T) {
	st := newListenerStore(t)
	seedListenerChat(t, st, 101, 10)

	src := &liveSource{events: []source.Event{{
		ChatID: 101,
		Kind:   source.EventNewMessage,
		Item:   &source.RawItem{ID: 15, Date: time.Now(), Text: "ahead of the checkpoint"},
	}}}
	l := newTestListener(st, src, t.TempDir())
	require.NoError(t, l.subscribeOnce(context.Background()))

	ctx := context.Background()
	cp, err := st.Cursor(ctx, 101)
	require.NoError(t, err)
	require.Equal(t, int64(10), cp.LastMessageID, "live delivery must leave the checkpoint to the scheduled run")
	require.Equal(t, int64(10), cp.MessageCount)

	// The message itself is stored; the next scheduled run re-fetches the
	// gap and advances the checkpoint past it.
	page, err := st.ListMessages(ctx, 101, 1, 0)
	require.NoError(t, err)
	require.Equal(t, int64(15), page.Data[0].ID)
}

func TestListener_IgnoresUnknownChats(t *testing.T) {
	st := newListenerStore(t)
	seedListenerChat(t, st, 101, 1)

	src := &liveSource{events: []source.Event{{
		ChatID: 999,
		Kind:   source.EventNewMessage,
		Item:   &source.RawItem{ID: 1, Date: time.Now(), Text: "never archived"},
	}}}
	l := newTestListener(st, src, t.TempDir())
	require.NoError(t, l.subscribeOnce(context.Background()))

	_, err := st.ListMessages(context.Background(), 999, 10, 0)
	require.NoError(t, err)
	ids, err := st.ListChatIDs(context.Background())
	require.NoError(t, err)
	require.Equal(t, []int64{101}, ids)
}

func TestListener_AppliesDeletions(t *testing.T) {
	st := newListenerStore(t)
	seedListenerChat(t, st, 101, 3)

	src := &liveSource{events: []source.Event{{
		ChatID:  101,
		Kind:    source.EventDeletedMessage,
		ItemIDs: []int64{2},
	}}}
	l := newTestListener(st, src, t.TempDir())
	require.NoError(t, l.subscribeOnce(context.Background()))

	page, err := st.ListMessages(context.Background(), 101, 10, 0)
	require.NoError(t, err)
	require.Len(t, page.Data, 2)
	for _, m := range page.Data {
		require.NotEqual(t, int64(2), m.ID)
	}
}
