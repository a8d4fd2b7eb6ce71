package reconcile

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/telvault/telvault/internal/model"
	"github.com/telvault/telvault/internal/plugin/store/gormstore"
	"github.com/telvault/telvault/internal/registry/store"
	"github.com/telvault/telvault/internal/source"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// remoteState serves FetchItemsByID and GetPinnedItems from fixed maps.
type remoteState struct {
	items  map[int64]*source.RawItem // nil entry = deleted upstream
	pinned []int64
	// fetches records chunk sizes for asserting the chunking behavior.
	fetches []int
}

func (r *remoteState) Me(ctx context.Context) (int64, error) { return 1, nil }
func (r *remoteState) ListConversations(ctx context.Context, archived bool) ([]source.ConversationHandle, error) {
	return nil, nil
}
func (r *remoteState) ResolveConversation(ctx context.Context, id int64) (source.ConversationHandle, error) {
	return source.ConversationHandle{}, nil
}
func (r *remoteState) IterItems(ctx context.Context, conversation, sinceID int64) (source.ItemIterator, error) {
	return nil, nil
}
func (r *remoteState) FetchItemsByID(ctx context.Context, conversation int64, ids []int64) ([]*source.RawItem, error) {
	r.fetches = append(r.fetches, len(ids))
	out := make([]*source.RawItem, len(ids))
	for i, id := range ids {
		out[i] = r.items[id]
	}
	return out, nil
}
func (r *remoteState) DownloadAttachment(ctx context.Context, conversation int64, item *source.RawItem, path string) error {
	return nil
}
func (r *remoteState) DownloadProfilePhoto(ctx context.Context, conversation int64, path string) error {
	return source.ErrNoProfilePhoto
}
func (r *remoteState) GetPinnedItems(ctx context.Context, conversation int64) ([]int64, error) {
	return r.pinned, nil
}
func (r *remoteState) GetTopics(ctx context.Context, conversation int64) ([]source.Topic, error) {
	return nil, source.ErrTopicsUnsupported
}
func (r *remoteState) GetFolders(ctx context.Context) ([]source.Folder, error) { return nil, nil }

func newTestStore(t *testing.T) store.ArchiveStore {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "test.db")), &gorm.Config{})
	require.NoError(t, err)
	s := gormstore.New(db)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { s.Close() })
	return s
}

func seedMessages(t *testing.T, st store.ArchiveStore, chatID int64, n int) {
	t.Helper()
	base := time.Now().Truncate(time.Second)
	var msgs []model.Message
	for i := 1; i <= n; i++ {
		msgs = append(msgs, model.Message{
			ID: int64(i), ChatID: chatID, Date: base.Add(time.Duration(i) * time.Second), Text: "original",
		})
	}
	require.NoError(t, st.CommitBatch(context.Background(), &store.Batch{Messages: msgs}))
}

func TestSyncEditsAndDeletions(t *testing.T) {
	st := newTestStore(t)
	seedMessages(t, st, 1, 3)
	edit := time.Now().Add(time.Hour).Truncate(time.Second)

	remote := &remoteState{items: map[int64]*source.RawItem{
		1: {ID: 1, Text: "original"},
		2: {ID: 2, Text: "now edited", EditDate: &edit},
		// 3 missing: deleted upstream.
	}}
	r := New(remote, st, 100)

	res, err := r.SyncEditsAndDeletions(context.Background(), 1)
	require.NoError(t, err)
	require.Equal(t, 3, res.Checked)
	require.Equal(t, 1, res.Edited)
	require.Equal(t, 1, res.Deleted)

	page, err := st.ListMessages(context.Background(), 1, 10, 0)
	require.NoError(t, err)
	require.Len(t, page.Data, 2)
	for _, m := range page.Data {
		if m.ID == 2 {
			require.Equal(t, "now edited", m.Text)
			require.NotNil(t, m.EditDate)
		}
	}
}

func TestSyncEditsAndDeletions_NoChangesIsQuiet(t *testing.T) {
	st := newTestStore(t)
	seedMessages(t, st, 1, 2)
	remote := &remoteState{items: map[int64]*source.RawItem{
		1: {ID: 1}, 2: {ID: 2},
	}}
	r := New(remote, st, 100)

	res, err := r.SyncEditsAndDeletions(context.Background(), 1)
	require.NoError(t, err)
	require.Zero(t, res.Edited)
	require.Zero(t, res.Deleted)
}

func TestSyncEditsAndDeletions_ChunksLookups(t *testing.T) {
	st := newTestStore(t)
	seedMessages(t, st, 1, 150)
	remote := &remoteState{items: map[int64]*source.RawItem{}}
	for i := int64(1); i <= 150; i++ {
		remote.items[i] = &source.RawItem{ID: i}
	}
	r := New(remote, st, 1000)

	res, err := r.SyncEditsAndDeletions(context.Background(), 1)
	require.NoError(t, err)
	require.Equal(t, 150, res.Checked)
	require.Equal(t, []int{100, 50}, remote.fetches)
}

func TestSyncEditsAndDeletions_ClearedEditReverts(t *testing.T) {
	st := newTestStore(t)
	base := time.Now().Truncate(time.Second)
	edit := base.Add(time.Minute)
	require.NoError(t, st.CommitBatch(context.Background(), &store.Batch{Messages: []model.Message{
		{ID: 1, ChatID: 1, Date: base, Text: "edited once", EditDate: &edit},
	}}))
	remote := &remoteState{items: map[int64]*source.RawItem{
		1: {ID: 1, Text: "back to original"},
	}}
	r := New(remote, st, 100)

	res, err := r.SyncEditsAndDeletions(context.Background(), 1)
	require.NoError(t, err)
	require.Equal(t, 1, res.Edited)

	page, err := st.ListMessages(context.Background(), 1, 10, 0)
	require.NoError(t, err)
	require.Equal(t, "back to original", page.Data[0].Text)
	require.Nil(t, page.Data[0].EditDate)
}

func TestSyncPinned(t *testing.T) {
	st := newTestStore(t)
	seedMessages(t, st, 1, 3)
	remote := &remoteState{pinned: []int64{2, 3}}
	r := New(remote, st, 100)

	changed, err := r.SyncPinned(context.Background(), 1)
	require.NoError(t, err)
	require.Equal(t, int64(2), changed)

	changed, err = r.SyncPinned(context.Background(), 1)
	require.NoError(t, err)
	require.Zero(t, changed)
}
