package sync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/telvault/telvault/internal/config"
	"github.com/telvault/telvault/internal/ingest"
	"github.com/telvault/telvault/internal/media"
	"github.com/telvault/telvault/internal/metrics"
	"github.com/telvault/telvault/internal/model"
	"github.com/telvault/telvault/internal/reconcile"
	"github.com/telvault/telvault/internal/registry/store"
	"github.com/telvault/telvault/internal/retry"
	"github.com/telvault/telvault/internal/source"
)

// Runner executes one full sync run end to end.
type Runner struct {
	src    source.Source
	store  store.ArchiveStore
	media  *media.Store
	pipe   *ingest.Pipeline
	rec    *reconcile.Reconciler
	filter *Filter
	cfg    *config.Config

	// ownerID is the authenticated account, learned at run start; items
	// it sent are flagged outgoing at ingest.
	ownerID int64

	// archivedIDs holds conversations seen only in the archived list,
	// refreshed by discover each run.
	archivedIDs map[int64]bool

	// skip-media cleanup runs once per process, not once per run.
	skipCleanupDone bool
}

// NewRunner wires a runner from its collaborators.
func NewRunner(src source.Source, st store.ArchiveStore, mediaStore *media.Store, cfg *config.Config) *Runner {
	return &Runner{
		src:    src,
		store:  st,
		media:  mediaStore,
		pipe:   ingest.NewPipeline(src, mediaStore, cfg),
		rec:    reconcile.New(src, st, 10*cfg.BatchSize),
		filter: NewFilter(cfg.Filter),
		cfg:    cfg,
	}
}

// Report summarizes one run.
type Report struct {
	RunID    string    `json:"runId"`
	Started  time.Time `json:"started"`
	Finished time.Time `json:"finished"`

	// InitialImport is set when at least one synced chat had no prior
	// checkpoint.
	InitialImport bool `json:"initialImport"`

	ChatsSynced  int `json:"chatsSynced"`
	ChatsSkipped int `json:"chatsSkipped"`
	ChatsPurged  int `json:"chatsPurged"`
	ChatsFailed  int `json:"chatsFailed"`

	Messages              int64 `json:"messages"`
	AttachmentsDownloaded int64 `json:"attachmentsDownloaded"`
	Edited                int   `json:"edited"`
	Deleted               int   `json:"deleted"`
	PinnedChanges         int64 `json:"pinnedChanges"`
	Redownloaded          int   `json:"redownloaded"`
}

// Run performs a full sync: discover, filter, order, ingest per chat,
// side syncs, folders, verification, stats. Per-chat failures are
// contained; only session-fatal errors abort the run.
func (r *Runner) Run(ctx context.Context) (*Report, error) {
	report := &Report{RunID: uuid.NewString(), Started: time.Now()}
	log.Info("Sync run starting", "runId", report.RunID)
	outcome := "ok"
	defer func() {
		report.Finished = time.Now()
		metrics.SyncRuns.WithLabelValues(outcome).Inc()
		metrics.SyncDuration.Observe(report.Finished.Sub(report.Started).Seconds())
	}()

	if err := r.syncOwner(ctx); err != nil {
		outcome = "failed"
		return report, err
	}

	handles, err := r.discover(ctx)
	if err != nil {
		outcome = "failed"
		return report, err
	}

	var toSync []source.ConversationHandle
	for _, h := range handles {
		switch r.filter.Decide(h) {
		case DecisionSync:
			toSync = append(toSync, h)
		case DecisionPurge:
			if r.purge(ctx, h.ID) {
				report.ChatsPurged++
			}
			metrics.ChatsSkipped.WithLabelValues("excluded").Inc()
		default:
			report.ChatsSkipped++
			metrics.ChatsSkipped.WithLabelValues("filtered").Inc()
		}
	}
	r.filter.Order(toSync)
	log.Info("Sync plan ready", "total", len(handles), "selected", len(toSync), "skipped", report.ChatsSkipped, "purged", report.ChatsPurged)

	r.skipMediaCleanup(ctx)

	for _, h := range toSync {
		cs, err := r.syncChat(ctx, h)
		if cs != nil {
			if cs.initial {
				report.InitialImport = true
			}
			report.Messages += cs.messages
			report.AttachmentsDownloaded += cs.attachments
			report.Edited += cs.edited
			report.Deleted += cs.deleted
			report.PinnedChanges += cs.pinned
		}
		if err != nil {
			if retry.Classify(err) == retry.Fatal {
				outcome = "failed"
				return report, fmt.Errorf("sync chat %d: %w", h.ID, err)
			}
			log.Error("Chat sync failed, continuing", "chatId", h.ID, "err", err)
			report.ChatsFailed++
			continue
		}
		report.ChatsSynced++
	}

	r.syncFolders(ctx)

	if r.cfg.Media.Verify {
		for _, h := range toSync {
			n, err := r.verifyChatMedia(ctx, h.ID)
			report.Redownloaded += n
			if err != nil {
				if retry.Classify(err) == retry.Fatal {
					outcome = "failed"
					return report, err
				}
				log.Error("Media verification failed", "chatId", h.ID, "err", err)
			}
		}
	}

	r.writeStats(ctx, report.Started)
	log.Info("Sync run finished",
		"runId", report.RunID,
		"chats", report.ChatsSynced,
		"failed", report.ChatsFailed,
		"messages", report.Messages,
		"attachments", report.AttachmentsDownloaded,
		"duration", time.Since(report.Started).Round(time.Second))
	return report, nil
}

// syncOwner records the authenticated account ID and backfills the
// outgoing flag on historical rows the first time the owner is learned.
func (r *Runner) syncOwner(ctx context.Context) error {
	var me int64
	err := retry.Do(ctx, "whoami", func() error {
		var opErr error
		me, opErr = r.src.Me(ctx)
		return opErr
	})
	if err != nil {
		return fmt.Errorf("resolve own account: %w", err)
	}
	r.ownerID = me
	stored, err := r.store.GetMetadata(ctx, model.MetaOwnerID)
	if err != nil {
		return err
	}
	meStr := strconv.FormatInt(me, 10)
	if stored == meStr {
		return nil
	}
	if err := r.store.SetMetadata(ctx, model.MetaOwnerID, meStr); err != nil {
		return err
	}
	n, err := r.store.BackfillOutgoing(ctx, me)
	if err != nil {
		return err
	}
	if n > 0 {
		log.Info("Backfilled outgoing flag", "ownerId", me, "rows", n)
	}
	return nil
}

// discover merges the active and archived conversation lists and resolves
// explicitly included conversations absent from both. A conversation the
// provider reports in both lists is treated as not archived; that state
// is ambiguous and active is the safer read.
func (r *Runner) discover(ctx context.Context) ([]source.ConversationHandle, error) {
	var active, archived []source.ConversationHandle
	err := retry.Do(ctx, "list-conversations", func() error {
		var opErr error
		active, opErr = r.src.ListConversations(ctx, false)
		return opErr
	})
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	err = retry.Do(ctx, "list-archived", func() error {
		var opErr error
		archived, opErr = r.src.ListConversations(ctx, true)
		return opErr
	})
	if err != nil {
		return nil, fmt.Errorf("list archived conversations: %w", err)
	}

	inActive := make(map[int64]bool, len(active))
	out := make([]source.ConversationHandle, 0, len(active)+len(archived))
	seen := make(map[int64]bool, len(active)+len(archived))
	for _, h := range active {
		inActive[h.ID] = true
		seen[h.ID] = true
		out = append(out, h)
	}
	for _, h := range archived {
		if inActive[h.ID] {
			log.Warn("Conversation reported both active and archived, treating as active", "chatId", h.ID)
			continue
		}
		if seen[h.ID] {
			continue
		}
		seen[h.ID] = true
		out = append(out, h)
	}

	// Mark which handles came only from the archived list.
	archivedOnly := make(map[int64]bool, len(archived))
	for _, h := range archived {
		if !inActive[h.ID] {
			archivedOnly[h.ID] = true
		}
	}
	r.archivedIDs = archivedOnly

	for _, id := range r.filter.ExplicitIncludeIDs() {
		if seen[id] {
			continue
		}
		var h source.ConversationHandle
		err := retry.Do(ctx, "resolve-conversation", func() error {
			var opErr error
			h, opErr = r.src.ResolveConversation(ctx, id)
			return opErr
		})
		if err != nil {
			log.Warn("Could not resolve explicitly included conversation", "chatId", id, "err", err)
			continue
		}
		seen[id] = true
		out = append(out, h)
	}
	return out, nil
}

// purge removes an explicitly excluded chat's rows and media. Returns
// whether anything was actually archived for it.
func (r *Runner) purge(ctx context.Context, chatID int64) bool {
	_, err := r.store.GetChat(ctx, chatID)
	var nf *store.NotFoundError
	if errors.As(err, &nf) {
		return false
	}
	if err != nil {
		log.Error("Purge lookup failed", "chatId", chatID, "err", err)
		return false
	}
	log.Info("Purging excluded chat", "chatId", chatID)
	if err := r.media.ReleaseChatDir(chatID); err != nil {
		log.Error("Could not remove chat media dir", "chatId", chatID, "err", err)
	}
	if err := r.store.DeleteChat(ctx, chatID); err != nil {
		log.Error("Could not delete chat rows", "chatId", chatID, "err", err)
		return false
	}
	return true
}

func (r *Runner) syncFolders(ctx context.Context) {
	var folders []source.Folder
	err := retry.Do(ctx, "get-folders", func() error {
		var opErr error
		folders, opErr = r.src.GetFolders(ctx)
		return opErr
	})
	if err != nil {
		log.Error("Folder sync failed", "err", err)
		return
	}
	now := time.Now()
	rows := make([]model.ChatFolder, 0, len(folders))
	var members []model.ChatFolderMember
	for i, f := range folders {
		row := model.ChatFolder{ID: f.ID, Title: f.Title, SortOrder: i, CreatedAt: now, UpdatedAt: now}
		if f.Emoji != "" {
			emoji := f.Emoji
			row.Emoticon = &emoji
		}
		rows = append(rows, row)
		for _, chatID := range f.ChatIDs {
			members = append(members, model.ChatFolderMember{FolderID: f.ID, ChatID: chatID})
		}
	}
	if err := r.store.ReplaceFolders(ctx, rows, members); err != nil {
		log.Error("Folder snapshot replace failed", "err", err)
		return
	}
	log.Debug("Folder snapshot replaced", "folders", len(rows), "members", len(members))
}

// writeStats caches archive-wide statistics so the viewer serves them
// without recomputing.
func (r *Runner) writeStats(ctx context.Context, started time.Time) {
	stats, err := r.store.Stats(ctx)
	if err != nil {
		log.Error("Stats collection failed", "err", err)
		return
	}
	b, err := json.Marshal(stats)
	if err != nil {
		log.Error("Stats encoding failed", "err", err)
		return
	}
	if err := r.store.SetMetadata(ctx, model.MetaStatistics, string(b)); err != nil {
		log.Error("Stats caching failed", "err", err)
	}
	if err := r.store.SetMetadata(ctx, model.MetaLastBackupTime, started.Format(time.RFC3339)); err != nil {
		log.Error("Last backup stamp failed", "err", err)
	}
}
