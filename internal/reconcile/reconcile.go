// Package reconcile trues up already-archived items against the remote
// source: upstream deletions, later edits, and the pinned set. It only
// ever touches rows the archive already holds; new items are the ingest
// pipeline's job.
package reconcile

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/telvault/telvault/internal/registry/store"
	"github.com/telvault/telvault/internal/retry"
	"github.com/telvault/telvault/internal/source"
)

// fetchChunk caps one remote lookup; providers bound by-ID fetches.
const fetchChunk = 100

// Reconciler diffs archived rows against remote state.
type Reconciler struct {
	src   source.Source
	store store.ArchiveStore
	// window is how many of the newest archived items to check per chat.
	window int
}

// New builds a reconciler checking the newest window items per chat.
func New(src source.Source, st store.ArchiveStore, window int) *Reconciler {
	if window <= 0 {
		window = 1000
	}
	return &Reconciler{src: src, store: st, window: window}
}

// Result counts what one reconcile pass changed.
type Result struct {
	Checked int
	Edited  int
	Deleted int
}

// SyncEditsAndDeletions refetches the newest archived items in chunks and
// applies upstream deletions (nil remote state) and edits (differing edit
// stamp, including an edit the provider has since cleared).
func (r *Reconciler) SyncEditsAndDeletions(ctx context.Context, chatID int64) (*Result, error) {
	refs, err := r.store.RecentMessageRefs(ctx, chatID, r.window)
	if err != nil {
		return nil, fmt.Errorf("load recent refs: %w", err)
	}
	res := &Result{}
	for start := 0; start < len(refs); start += fetchChunk {
		end := start + fetchChunk
		if end > len(refs) {
			end = len(refs)
		}
		chunk := refs[start:end]
		ids := make([]int64, len(chunk))
		for i, ref := range chunk {
			ids[i] = ref.ID
		}

		var remote []*source.RawItem
		err := retry.Do(ctx, "fetch-items", func() error {
			var opErr error
			remote, opErr = r.src.FetchItemsByID(ctx, chatID, ids)
			return opErr
		})
		if err != nil {
			return res, fmt.Errorf("fetch items for chat %d: %w", chatID, err)
		}
		if len(remote) != len(chunk) {
			return res, fmt.Errorf("fetch items for chat %d: got %d results for %d ids", chatID, len(remote), len(chunk))
		}

		for i, item := range remote {
			res.Checked++
			ref := chunk[i]
			if item == nil {
				if err := r.store.DeleteMessage(ctx, chatID, ref.ID); err != nil {
					return res, fmt.Errorf("delete message %d: %w", ref.ID, err)
				}
				res.Deleted++
				continue
			}
			if !editStampEqual(ref.EditDate, item.EditDate) {
				if err := r.store.UpdateMessageText(ctx, chatID, ref.ID, item.Text, item.EditDate); err != nil {
					return res, fmt.Errorf("update message %d: %w", ref.ID, err)
				}
				res.Edited++
			}
		}
	}
	if res.Edited > 0 || res.Deleted > 0 {
		log.Info("Reconciled chat", "chatId", chatID, "checked", res.Checked, "edited", res.Edited, "deleted", res.Deleted)
	}
	return res, nil
}

// SyncPinned replaces the archived pinned set with the provider's
// authoritative one. The remote set is small, so full replace is simpler
// and safer than diffing.
func (r *Reconciler) SyncPinned(ctx context.Context, chatID int64) (int64, error) {
	var pinned []int64
	err := retry.Do(ctx, "get-pinned", func() error {
		var opErr error
		pinned, opErr = r.src.GetPinnedItems(ctx, chatID)
		return opErr
	})
	if err != nil {
		return 0, fmt.Errorf("get pinned for chat %d: %w", chatID, err)
	}
	changed, err := r.store.ReplacePinned(ctx, chatID, pinned)
	if err != nil {
		return 0, fmt.Errorf("replace pinned for chat %d: %w", chatID, err)
	}
	if changed > 0 {
		log.Debug("Pinned set updated", "chatId", chatID, "changed", changed)
	}
	return changed, nil
}

func editStampEqual(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}
