package ingest

import (
	"sort"
	"time"
)

// albumKinds are the attachment kinds that can form an inferred album.
var albumKinds = map[string]bool{"photo": true, "video": true}

// DetectAlbums tags runs of untagged photo/video items from the same
// sender, where each item follows its predecessor within the window, as a
// synthetic album. The group ID is the first item's message ID, so
// re-detection over an overlapping range is idempotent. An item that
// already carries a provider group ID keeps it and terminates any open
// run. Runs of a single item stay untagged.
func DetectAlbums(staged []*Staged, window time.Duration) int {
	if len(staged) < 2 {
		return 0
	}
	ordered := make([]*Staged, len(staged))
	copy(ordered, staged)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Message.ID < ordered[j].Message.ID })

	tagged := 0
	var run []*Staged
	flush := func() {
		if len(run) >= 2 {
			groupID := run[0].Message.ID
			for _, s := range run {
				s.Message.GroupedID = &groupID
				tagged++
			}
		}
		run = nil
	}

	for _, s := range ordered {
		if s.Message.GroupedID != nil {
			flush()
			continue
		}
		if s.Attachment == nil || !albumKinds[s.Attachment.Type] {
			flush()
			continue
		}
		if len(run) > 0 {
			prev := run[len(run)-1]
			sameSender := senderKey(prev) == senderKey(s)
			gap := s.Message.Date.Sub(prev.Message.Date)
			if gap < 0 {
				gap = -gap
			}
			if !sameSender || gap > window {
				flush()
			}
		}
		run = append(run, s)
	}
	flush()
	return tagged
}

// TrailingAlbumRun returns the suffix of staged that forms an open album
// candidate: untagged photo/video items from one sender, each within the
// window of its successor. Batch-oriented callers defer committing the
// suffix so a run that continues in the next batch is not split into two
// synthetic groups. staged must be in ascending item order.
func TrailingAlbumRun(staged []*Staged, window time.Duration) []*Staged {
	i := len(staged)
	for i > 0 {
		s := staged[i-1]
		if s.Message.GroupedID != nil || s.Attachment == nil || !albumKinds[s.Attachment.Type] {
			break
		}
		if i < len(staged) {
			next := staged[i]
			gap := next.Message.Date.Sub(s.Message.Date)
			if gap < 0 {
				gap = -gap
			}
			if senderKey(s) != senderKey(next) || gap > window {
				break
			}
		}
		i--
	}
	return staged[i:]
}

func senderKey(s *Staged) int64 {
	if s.Message.SenderID == nil {
		return 0
	}
	return *s.Message.SenderID
}
