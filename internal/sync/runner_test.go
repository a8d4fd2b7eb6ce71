package sync

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/telvault/telvault/internal/config"
	"github.com/telvault/telvault/internal/media"
	"github.com/telvault/telvault/internal/model"
	"github.com/telvault/telvault/internal/plugin/store/gormstore"
	registrysource "github.com/telvault/telvault/internal/registry/source"
	"github.com/telvault/telvault/internal/registry/store"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	_ "github.com/telvault/telvault/internal/plugin/source/jsonexport"
)

// testExport is a small but representative export: one private chat with
// an album, a long reply, reactions, a pin, and a photo file on disk; one
// broadcast channel; one folder.
const testExport = `{
  "ownerId": 7,
  "chats": [
    {
      "id": 101,
      "kind": "user",
      "firstName": "Alice",
      "profilePhoto": "avatar1.jpg",
      "pinnedIds": [1],
      "items": [
        {"id": 1, "date": "2024-03-01T10:00:00Z", "text": "hello",
         "sender": {"id": 7, "username": "me"},
         "reactions": [{"emoji": "A", "count": 2, "userIds": [101]}]},
        {"id": 2, "date": "2024-03-01T10:01:00Z",
         "sender": {"id": 101, "firstName": "Alice"},
         "media": {"kind": "photo", "contentId": "p1", "file": "img1.jpg", "size": 4}},
        {"id": 3, "date": "2024-03-01T10:01:01Z",
         "sender": {"id": 101, "firstName": "Alice"},
         "media": {"kind": "photo", "contentId": "p2", "file": "img2.jpg", "size": 4}},
        {"id": 4, "date": "2024-03-01T10:02:00Z", "text": "re",
         "sender": {"id": 7, "username": "me"},
         "replyToMsgId": 1, "replyToText": "%s"}
      ]
    },
    {
      "id": -100555,
      "kind": "channel",
      "title": "News",
      "items": [
        {"id": 1, "date": "2024-03-02T09:00:00Z", "text": "broadcast", "postAuthor": "editor"}
      ]
    }
  ],
  "folders": [
    {"id": 9, "title": "Work", "chatIds": [101]}
  ]
}`

func writeExport(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	longReply := strings.Repeat("x", 150)
	doc := fmt.Sprintf(testExport, longReply)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "export.json"), []byte(doc), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "img1.jpg"), []byte("aaaa"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "img2.jpg"), []byte("bbbb"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "avatar1.jpg"), []byte("face"), 0o644))
	return dir
}

func newRunEnv(t *testing.T, mutate func(*config.Config)) (*Runner, store.ArchiveStore, *config.Config) {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.SourcePath = writeExport(t)
	cfg.Media.Path = filepath.Join(t.TempDir(), "media")
	if mutate != nil {
		mutate(&cfg)
	}
	ctx := config.WithContext(context.Background(), &cfg)

	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "test.db")), &gorm.Config{})
	require.NoError(t, err)
	st := gormstore.New(db)
	require.NoError(t, st.Migrate(ctx))
	t.Cleanup(func() { st.Close() })

	loader, err := registrysource.Select("jsonexport")
	require.NoError(t, err)
	conn, err := loader(ctx)
	require.NoError(t, err)
	require.NoError(t, conn.Connect(ctx))
	t.Cleanup(func() { conn.Close() })

	mediaStore := media.NewStore(cfg.Media.Path, cfg.Media.Deduplicate)
	return NewRunner(conn.Source(), st, mediaStore, &cfg), st, &cfg
}

func TestRun_InitialImport(t *testing.T) {
	runner, st, _ := newRunEnv(t, nil)
	ctx := context.Background()

	report, err := runner.Run(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, report.ChatsSynced)
	require.Equal(t, 1, report.ChatsSkipped, "channel is outside the default type allow-list")
	require.Equal(t, int64(4), report.Messages)
	require.Equal(t, int64(2), report.AttachmentsDownloaded)
	require.True(t, report.InitialImport)
	require.NotEmpty(t, report.RunID)

	// Checkpoint covers the whole chat.
	cp, err := st.Cursor(ctx, 101)
	require.NoError(t, err)
	require.Equal(t, int64(4), cp.LastMessageID)
	require.Equal(t, int64(4), cp.MessageCount)

	page, err := st.ListMessages(ctx, 101, 10, 0)
	require.NoError(t, err)
	require.Len(t, page.Data, 4)
	byID := map[int64]model.Message{}
	for _, m := range page.Data {
		byID[m.ID] = m
	}

	// Photos from the same sender one second apart form an album rooted
	// at the first item.
	require.NotNil(t, byID[2].GroupedID)
	require.Equal(t, int64(2), *byID[2].GroupedID)
	require.Equal(t, int64(2), *byID[3].GroupedID)

	// The reply preview is truncated; the target keeps its full text.
	require.Equal(t, 100, len([]rune(*byID[4].ReplyToText)))

	// The provider's pinned set is applied.
	require.True(t, byID[1].IsPinned)
	require.False(t, byID[2].IsPinned)

	// Owner bookkeeping: items sent by account 7 are outgoing.
	owner, err := st.GetMetadata(ctx, model.MetaOwnerID)
	require.NoError(t, err)
	require.Equal(t, "7", owner)
	require.True(t, byID[1].IsOutgoing)
	require.False(t, byID[2].IsOutgoing)

	// The profile photo lands in the chat's media directory and the path
	// is recorded on the chat row.
	chat, err := st.GetChat(ctx, 101)
	require.NoError(t, err)
	require.NotNil(t, chat.ProfilePhotoPath)
	require.FileExists(t, *chat.ProfilePhotoPath)
}

// With a checkpoint interval above one, the final cursor must still cover
// every committed message, including when the last item exactly fills a
// batch, and the message count must include the non-checkpointed batches.
func TestRun_CheckpointCoversTailWithInterval(t *testing.T) {
	runner, st, _ := newRunEnv(t, func(c *config.Config) {
		c.BatchSize = 1
		c.CheckpointInterval = 3
	})
	ctx := context.Background()

	report, err := runner.Run(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(4), report.Messages)

	cp, err := st.Cursor(ctx, 101)
	require.NoError(t, err)
	require.Equal(t, int64(4), cp.LastMessageID)
	require.Equal(t, int64(4), cp.MessageCount)

	// A second run replays nothing.
	report, err = runner.Run(ctx)
	require.NoError(t, err)
	require.Zero(t, report.Messages)
}

func TestRun_AlbumSurvivesBatchBoundary(t *testing.T) {
	runner, st, _ := newRunEnv(t, func(c *config.Config) {
		c.BatchSize = 2
	})
	ctx := context.Background()

	_, err := runner.Run(ctx)
	require.NoError(t, err)

	// Photos 2 and 3 straddle the first batch boundary; the open run is
	// carried over so they still form one synthetic group.
	page, err := st.ListMessages(ctx, 101, 10, 0)
	require.NoError(t, err)
	byID := map[int64]model.Message{}
	for _, m := range page.Data {
		byID[m.ID] = m
	}
	require.NotNil(t, byID[2].GroupedID)
	require.NotNil(t, byID[3].GroupedID)
	require.Equal(t, int64(2), *byID[2].GroupedID)
	require.Equal(t, int64(2), *byID[3].GroupedID)

	cp, err := st.Cursor(ctx, 101)
	require.NoError(t, err)
	require.Equal(t, int64(4), cp.LastMessageID)
	require.Equal(t, int64(4), cp.MessageCount)
}

func TestRun_SecondRunIsIncrementalNoOp(t *testing.T) {
	runner, st, _ := newRunEnv(t, nil)
	ctx := context.Background()

	_, err := runner.Run(ctx)
	require.NoError(t, err)
	report, err := runner.Run(ctx)
	require.NoError(t, err)
	require.Zero(t, report.Messages, "everything is already past the checkpoint")
	require.False(t, report.InitialImport)

	cp, err := st.Cursor(ctx, 101)
	require.NoError(t, err)
	require.Equal(t, int64(4), cp.MessageCount, "count is not inflated by replays")
}

func TestRun_DownloadedMediaIsDeduplicatedOnDisk(t *testing.T) {
	runner, st, cfg := newRunEnv(t, nil)
	ctx := context.Background()
	_, err := runner.Run(ctx)
	require.NoError(t, err)

	atts, err := st.ListAttachments(ctx, 101, true)
	require.NoError(t, err)
	require.Len(t, atts, 2)
	for _, att := range atts {
		require.NotNil(t, att.FilePath)
		require.FileExists(t, *att.FilePath)
	}
	require.FileExists(t, filepath.Join(cfg.Media.Path, "_shared", "p1.jpg"))
}

func TestRun_ExplicitExcludePurges(t *testing.T) {
	runner, st, _ := newRunEnv(t, nil)
	ctx := context.Background()
	_, err := runner.Run(ctx)
	require.NoError(t, err)

	// Same archive, now with the chat excluded.
	runner2, _, _ := func() (*Runner, store.ArchiveStore, *config.Config) {
		cfg := config.DefaultConfig()
		cfg.SourcePath = runner.cfg.SourcePath
		cfg.Media.Path = runner.cfg.Media.Path
		cfg.Filter.ExcludeIDs = config.IDSet{101: true}
		return NewRunner(runner.src, st, runner.media, &cfg), st, &cfg
	}()

	report, err := runner2.Run(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, report.ChatsPurged)

	_, err = st.GetChat(ctx, 101)
	var nf *store.NotFoundError
	require.ErrorAs(t, err, &nf)
	require.NoDirExists(t, runner.media.ChatDir(101))
}

func TestRun_ChannelSyncsWhenEnabled(t *testing.T) {
	runner, st, _ := newRunEnv(t, func(c *config.Config) {
		c.Filter.ChatTypes = []string{"private", "group", "channel"}
	})
	ctx := context.Background()

	report, err := runner.Run(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, report.ChatsSynced)

	page, err := st.ListMessages(ctx, -100555, 10, 0)
	require.NoError(t, err)
	require.Len(t, page.Data, 1)
	require.Equal(t, "editor", page.Data[0].RawData["post_author"])
}

func TestRun_FolderSnapshotStored(t *testing.T) {
	runner, st, _ := newRunEnv(t, nil)
	_, err := runner.Run(context.Background())
	require.NoError(t, err)

	gs := st.(*gormstore.Store)
	var folders []model.ChatFolder
	require.NoError(t, gs.DB().Find(&folders).Error)
	require.Len(t, folders, 1)
	require.Equal(t, "Work", folders[0].Title)

	var members []model.ChatFolderMember
	require.NoError(t, gs.DB().Find(&members).Error)
	require.Len(t, members, 1)
	require.Equal(t, int64(101), members[0].ChatID)
}

func TestRun_StatsCached(t *testing.T) {
	runner, st, _ := newRunEnv(t, nil)
	ctx := context.Background()
	_, err := runner.Run(ctx)
	require.NoError(t, err)

	cached, err := st.GetMetadata(ctx, model.MetaStatistics)
	require.NoError(t, err)
	var stats store.Stats
	require.NoError(t, json.Unmarshal([]byte(cached), &stats))
	require.Equal(t, int64(4), stats.Messages)

	last, err := st.GetMetadata(ctx, model.MetaLastBackupTime)
	require.NoError(t, err)
	require.NotEmpty(t, last)
}
