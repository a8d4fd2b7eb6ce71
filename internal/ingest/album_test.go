package ingest

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/telvault/telvault/internal/model"
)

func photoItem(id, sender int64, date time.Time) *Staged {
	return &Staged{
		Message:    model.Message{ID: id, SenderID: &sender, Date: date},
		Attachment: &model.Attachment{ID: "x", Type: "photo"},
	}
}

func textItem(id, sender int64, date time.Time) *Staged {
	return &Staged{Message: model.Message{ID: id, SenderID: &sender, Date: date}}
}

func TestDetectAlbums_TagsAdjacentRun(t *testing.T) {
	base := time.Now()
	items := []*Staged{
		photoItem(1, 7, base),
		photoItem(2, 7, base.Add(1*time.Second)),
		photoItem(3, 7, base.Add(2*time.Second)),
	}
	tagged := DetectAlbums(items, 2*time.Second)
	require.Equal(t, 3, tagged)
	for _, s := range items {
		require.NotNil(t, s.Message.GroupedID)
		require.Equal(t, int64(1), *s.Message.GroupedID, "group id is the first item's id")
	}
}

func TestDetectAlbums_SingleItemStaysUntagged(t *testing.T) {
	base := time.Now()
	items := []*Staged{
		photoItem(1, 7, base),
		photoItem(2, 7, base.Add(time.Minute)),
	}
	require.Zero(t, DetectAlbums(items, 2*time.Second))
	require.Nil(t, items[0].Message.GroupedID)
	require.Nil(t, items[1].Message.GroupedID)
}

func TestDetectAlbums_DifferentSenderBreaksRun(t *testing.T) {
	base := time.Now()
	items := []*Staged{
		photoItem(1, 7, base),
		photoItem(2, 8, base.Add(time.Second)),
		photoItem(3, 8, base.Add(2*time.Second)),
	}
	require.Equal(t, 2, DetectAlbums(items, 2*time.Second))
	require.Nil(t, items[0].Message.GroupedID)
	require.Equal(t, int64(2), *items[1].Message.GroupedID)
	require.Equal(t, int64(2), *items[2].Message.GroupedID)
}

func TestDetectAlbums_NonMediaBreaksRun(t *testing.T) {
	base := time.Now()
	items := []*Staged{
		photoItem(1, 7, base),
		textItem(2, 7, base.Add(time.Second)),
		photoItem(3, 7, base.Add(2*time.Second)),
	}
	require.Zero(t, DetectAlbums(items, 2*time.Second))
}

func TestDetectAlbums_NativeGroupTerminatesRun(t *testing.T) {
	base := time.Now()
	native := int64(100)
	tagged := photoItem(2, 7, base.Add(time.Second))
	tagged.Message.GroupedID = &native
	items := []*Staged{
		photoItem(1, 7, base),
		tagged,
		photoItem(3, 7, base.Add(2*time.Second)),
	}
	require.Zero(t, DetectAlbums(items, 2*time.Second))
	require.Equal(t, native, *items[1].Message.GroupedID, "provider group id is kept")
	require.Nil(t, items[0].Message.GroupedID)
	require.Nil(t, items[2].Message.GroupedID)
}

func TestDetectAlbums_Idempotent(t *testing.T) {
	base := time.Now()
	items := []*Staged{
		photoItem(1, 7, base),
		photoItem(2, 7, base.Add(time.Second)),
	}
	require.Equal(t, 2, DetectAlbums(items, 2*time.Second))
	// A second pass sees already-tagged items and leaves them alone.
	require.Zero(t, DetectAlbums(items, 2*time.Second))
	require.Equal(t, int64(1), *items[0].Message.GroupedID)
	require.Equal(t, int64(1), *items[1].Message.GroupedID)
}

func TestTrailingAlbumRun_Empty(t *testing.T) {
	require.Empty(t, TrailingAlbumRun(nil, 2*time.Second))
}

func TestTrailingAlbumRun_TextTailMeansNoCarry(t *testing.T) {
	base := time.Now()
	items := []*Staged{
		photoItem(1, 7, base),
		photoItem(2, 7, base.Add(time.Second)),
		textItem(3, 7, base.Add(2*time.Second)),
	}
	require.Empty(t, TrailingAlbumRun(items, 2*time.Second))
}

func TestTrailingAlbumRun_ReturnsOpenSuffix(t *testing.T) {
	base := time.Now()
	items := []*Staged{
		textItem(1, 7, base),
		photoItem(2, 7, base.Add(time.Second)),
		photoItem(3, 7, base.Add(2*time.Second)),
	}
	carry := TrailingAlbumRun(items, 2*time.Second)
	require.Len(t, carry, 2)
	require.Equal(t, int64(2), carry[0].Message.ID)
}

func TestTrailingAlbumRun_SenderChangeLimitsSuffix(t *testing.T) {
	base := time.Now()
	items := []*Staged{
		photoItem(1, 7, base),
		photoItem(2, 8, base.Add(time.Second)),
	}
	carry := TrailingAlbumRun(items, 2*time.Second)
	require.Len(t, carry, 1)
	require.Equal(t, int64(2), carry[0].Message.ID)
}

func TestTrailingAlbumRun_GapLimitsSuffix(t *testing.T) {
	base := time.Now()
	items := []*Staged{
		photoItem(1, 7, base),
		photoItem(2, 7, base.Add(time.Minute)),
	}
	carry := TrailingAlbumRun(items, 2*time.Second)
	require.Len(t, carry, 1)
}

func TestTrailingAlbumRun_NativeGroupStopsSuffix(t *testing.T) {
	base := time.Now()
	native := int64(100)
	tagged := photoItem(2, 7, base.Add(time.Second))
	tagged.Message.GroupedID = &native
	items := []*Staged{
		photoItem(1, 7, base),
		tagged,
		photoItem(3, 7, base.Add(2*time.Second)),
	}
	carry := TrailingAlbumRun(items, 2*time.Second)
	require.Len(t, carry, 1)
	require.Equal(t, int64(3), carry[0].Message.ID)
}

func TestDetectAlbums_UnorderedInput(t *testing.T) {
	base := time.Now()
	items := []*Staged{
		photoItem(3, 7, base.Add(2*time.Second)),
		photoItem(1, 7, base),
		photoItem(2, 7, base.Add(time.Second)),
	}
	require.Equal(t, 3, DetectAlbums(items, 2*time.Second))
	for _, s := range items {
		require.Equal(t, int64(1), *s.Message.GroupedID)
	}
}
