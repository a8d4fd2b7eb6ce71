// Package ingest normalizes raw provider records into archive rows. The
// pipeline stages messages, attachments, and reactions for a batch commit
// it never performs itself; the only side effect is triggering downloads
// for eligible attachments through the media store.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"mime"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/telvault/telvault/internal/config"
	"github.com/telvault/telvault/internal/media"
	"github.com/telvault/telvault/internal/model"
	"github.com/telvault/telvault/internal/source"
)

// replyPreviewLimit caps stored reply previews, independent of the
// referenced message's full text.
const replyPreviewLimit = 100

// Staged is the normalized output for one raw item, ready for an atomic
// batch commit.
type Staged struct {
	Message    model.Message
	Sender     *model.User
	Attachment *model.Attachment
	Reactions  []model.Reaction
}

// Pipeline transforms raw items for one run.
type Pipeline struct {
	src   source.Source
	media *media.Store
	cfg   *config.Config
}

// NewPipeline wires the pipeline to its collaborators.
func NewPipeline(src source.Source, mediaStore *media.Store, cfg *config.Config) *Pipeline {
	return &Pipeline{src: src, media: mediaStore, cfg: cfg}
}

// Normalize converts one raw item into staged rows. Attachment downloads
// happen here, on demand, subject to the size gate and the per-chat skip
// list; download failures degrade to metadata-only records and never fail
// the item.
func (p *Pipeline) Normalize(ctx context.Context, chatID int64, raw *source.RawItem) *Staged {
	msg := model.Message{
		ID:            raw.ID,
		ChatID:        chatID,
		SenderID:      raw.SenderID,
		Date:          raw.Date,
		Text:          raw.Text,
		ReplyToMsgID:  raw.ReplyToMsgID,
		ReplyToTopID:  raw.ReplyToTopID,
		ForwardFromID: raw.ForwardFromID,
		EditDate:      raw.EditDate,
		GroupedID:     raw.GroupedID,
		IsOutgoing:    raw.Outgoing,
		IsPinned:      raw.Pinned,
		RawData:       map[string]interface{}{},
	}

	if raw.ReplyToMsgID != nil && raw.ReplyToText != "" {
		preview := truncateRunes(raw.ReplyToText, replyPreviewLimit)
		msg.ReplyToText = &preview
	}

	if name := p.forwardName(ctx, raw); name != "" {
		msg.RawData["forward_from_name"] = name
	}
	if raw.PostAuthor != "" {
		msg.RawData["post_author"] = raw.PostAuthor
	}

	staged := &Staged{Sender: senderRecord(raw.Sender)}

	switch m := raw.Media.(type) {
	case nil:
	case *source.PollMedia:
		msg.RawData["poll"] = pollData(m)
	case *source.ContactMedia:
		msg.RawData["contact"] = map[string]interface{}{
			"user_id": m.UserID, "first_name": m.FirstName, "last_name": m.LastName, "phone": m.Phone,
		}
	case *source.GeoMedia:
		msg.RawData["geo"] = map[string]interface{}{"lat": m.Lat, "long": m.Long}
	case *source.PhotoMedia:
		staged.Attachment = p.processFile(ctx, chatID, raw, "photo", m.ContentID, "", "", m.Size, m.Width, m.Height, 0)
	case *source.DocumentMedia:
		staged.Attachment = p.processFile(ctx, chatID, raw, m.Subtype, m.ContentID, m.FileName, m.MimeType, m.Size, m.Width, m.Height, m.Duration)
	default:
		log.Warn("Unknown media variant, item kept without attachment", "chatId", chatID, "itemId", raw.ID)
	}

	if len(msg.RawData) == 0 {
		msg.RawData = nil
	}
	staged.Message = msg
	staged.Reactions = expandReactions(chatID, raw)
	return staged
}

// processFile builds the attachment row for a downloadable media variant
// and, when eligible, resolves it through the content-addressed store.
func (p *Pipeline) processFile(ctx context.Context, chatID int64, raw *source.RawItem, kind, contentID, fileName, mimeType string, size int64, width, height, duration int) *model.Attachment {
	msgID := raw.ID
	att := &model.Attachment{
		ID:        fmt.Sprintf("%d_%d_%s", chatID, msgID, kind),
		MessageID: &msgID,
		ChatID:    &chatID,
		ContentID: contentID,
		Type:      kind,
	}
	if mimeType != "" {
		att.MimeType = &mimeType
	}
	if size > 0 {
		att.FileSize = &size
	}
	if width > 0 {
		att.Width = &width
	}
	if height > 0 {
		att.Height = &height
	}
	if duration > 0 {
		att.Duration = &duration
	}

	if !p.cfg.Media.Download || p.cfg.Media.SkipChatIDs.Contains(chatID) {
		return att
	}
	if size > p.cfg.Media.MaxSizeBytes() {
		log.Debug("Skipping large attachment", "chatId", chatID, "itemId", msgID, "size", size)
		return att
	}

	name := FileName(contentID, fileName, mimeType, kind, msgID, raw.Date)
	att.FileName = &name

	refPath, actualSize, err := p.media.ResolveOrFetch(ctx, chatID, name, func(ctx context.Context, path string) error {
		return p.src.DownloadAttachment(ctx, chatID, raw, path)
	})
	if err != nil {
		log.Error("Attachment download failed", "chatId", chatID, "itemId", msgID, "err", err)
		return att
	}
	now := time.Now()
	att.FilePath = &refPath
	att.Downloaded = true
	att.DownloadDate = &now
	if actualSize > 0 {
		att.FileSize = &actualSize
	}
	return att
}

// forwardName resolves forward attribution: an explicit display name
// first, then the forwarding entity, else empty (the viewer falls back to
// the numeric ID).
func (p *Pipeline) forwardName(ctx context.Context, raw *source.RawItem) string {
	if raw.ForwardFromName != "" {
		return raw.ForwardFromName
	}
	if raw.ForwardFromID == nil {
		return ""
	}
	handle, err := p.src.ResolveConversation(ctx, *raw.ForwardFromID)
	if err != nil {
		log.Debug("Could not resolve forward origin", "id", *raw.ForwardFromID, "err", err)
		return ""
	}
	if handle.Title != "" {
		return handle.Title
	}
	name := strings.TrimSpace(handle.FirstName + " " + handle.LastName)
	return name
}

// expandReactions flattens provider reaction tallies: one row per known
// reactor, plus an anonymous remainder row carrying the rest of the count.
func expandReactions(chatID int64, raw *source.RawItem) []model.Reaction {
	var out []model.Reaction
	for _, r := range raw.Reactions {
		if len(r.UserIDs) > 0 {
			for _, uid := range r.UserIDs {
				uid := uid
				out = append(out, model.Reaction{
					MessageID: raw.ID, ChatID: chatID, Emoji: r.Emoji, UserID: &uid, Count: 1,
				})
			}
			if remaining := r.Count - len(r.UserIDs); remaining > 0 {
				out = append(out, model.Reaction{
					MessageID: raw.ID, ChatID: chatID, Emoji: r.Emoji, Count: remaining,
				})
			}
			continue
		}
		count := r.Count
		if count <= 0 {
			count = 1
		}
		out = append(out, model.Reaction{
			MessageID: raw.ID, ChatID: chatID, Emoji: r.Emoji, Count: count,
		})
	}
	return out
}

func senderRecord(s *source.Sender) *model.User {
	if s == nil {
		return nil
	}
	u := &model.User{ID: s.ID, IsBot: s.Bot}
	if s.Username != "" {
		u.Username = &s.Username
	}
	if s.FirstName != "" {
		u.FirstName = &s.FirstName
	}
	if s.LastName != "" {
		u.LastName = &s.LastName
	}
	if s.Phone != "" {
		u.Phone = &s.Phone
	}
	return u
}

func pollData(m *source.PollMedia) map[string]interface{} {
	answers := make([]map[string]interface{}, 0, len(m.Answers))
	for _, a := range m.Answers {
		answers = append(answers, map[string]interface{}{"text": a.Text, "option": a.Option})
	}
	data := map[string]interface{}{
		"id":              m.PollID,
		"question":        m.Question,
		"answers":         answers,
		"closed":          m.Closed,
		"public_voters":   m.PublicVoters,
		"multiple_choice": m.MultipleChoice,
		"quiz":            m.Quiz,
	}
	if m.TotalVoters > 0 || len(m.Results) > 0 {
		results := make([]map[string]interface{}, 0, len(m.Results))
		for _, r := range m.Results {
			results = append(results, map[string]interface{}{
				"option": r.Option, "voters": r.Voters, "correct": r.Correct,
			})
		}
		data["results"] = map[string]interface{}{"total_voters": m.TotalVoters, "results": results}
	}
	return data
}

// FileName derives the content-addressed file name: the sanitized content
// ID plus the original name when known, else an extension from the MIME
// type, else a per-kind default.
func FileName(contentID, originalName, mimeType, kind string, msgID int64, date time.Time) string {
	safeID := strings.NewReplacer("/", "_", "\\", "_").Replace(contentID)
	if originalName != "" && safeID != "" {
		return safeID + "_" + originalName
	}
	ext := wellKnownExt[mimeType]
	if ext == "" && mimeType != "" {
		// mime.ExtensionsByType ordering depends on the host's mime.types,
		// so it is only the fallback for uncommon types.
		if exts, err := mime.ExtensionsByType(mimeType); err == nil && len(exts) > 0 {
			ext = strings.TrimPrefix(exts[0], ".")
		}
	}
	if ext == "" {
		ext = defaultExtension(kind)
	}
	if safeID != "" {
		return safeID + "." + ext
	}
	return fmt.Sprintf("%d_%s.%s", msgID, date.Format("20060102_150405"), ext)
}

var wellKnownExt = map[string]string{
	"image/jpeg":      "jpg",
	"image/png":       "png",
	"image/gif":       "gif",
	"image/webp":      "webp",
	"video/mp4":       "mp4",
	"video/webm":      "webm",
	"audio/mpeg":      "mp3",
	"audio/ogg":       "ogg",
	"application/pdf": "pdf",
}

func defaultExtension(kind string) string {
	switch kind {
	case "photo":
		return "jpg"
	case "video", "animation":
		return "mp4"
	case "audio":
		return "mp3"
	case "voice":
		return "ogg"
	case "sticker":
		return "webp"
	default:
		return "bin"
	}
}

func truncateRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}

// RawDataJSON renders a message's raw data for debugging output.
func RawDataJSON(m *model.Message) string {
	if m.RawData == nil {
		return "{}"
	}
	b, err := json.Marshal(m.RawData)
	if err != nil {
		return "{}"
	}
	return string(b)
}
