package sync

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/telvault/telvault/internal/config"
	"github.com/telvault/telvault/internal/source"
)

func user(id int64) source.ConversationHandle {
	return source.ConversationHandle{ID: id, Kind: source.KindUser}
}

func channel(id int64) source.ConversationHandle {
	return source.ConversationHandle{ID: id, Kind: source.KindChannel}
}

func TestDecide_TypeAllowList(t *testing.T) {
	f := NewFilter(config.FilterConfig{ChatTypes: []string{"private"}})
	require.Equal(t, DecisionSync, f.Decide(user(1)))
	require.Equal(t, DecisionSkip, f.Decide(channel(-100)))
	// Megagroups count as groups, not channels.
	mega := source.ConversationHandle{ID: -200, Kind: source.KindChannel, Megagroup: true}
	require.Equal(t, DecisionSkip, f.Decide(mega))
}

func TestDecide_ExplicitIncludeOverridesType(t *testing.T) {
	f := NewFilter(config.FilterConfig{
		ChatTypes:  []string{"private"},
		IncludeIDs: config.IDSet{-100: true},
	})
	require.Equal(t, DecisionSync, f.Decide(channel(-100)))
}

func TestDecide_ExcludeTrumpsInclude(t *testing.T) {
	f := NewFilter(config.FilterConfig{
		ChatTypes:  []string{"private"},
		IncludeIDs: config.IDSet{5: true},
		ExcludeIDs: config.IDSet{5: true},
	})
	require.Equal(t, DecisionPurge, f.Decide(user(5)))
}

func TestDecide_PerTypeSets(t *testing.T) {
	f := NewFilter(config.FilterConfig{
		ChatTypes:          []string{"private"},
		PrivateExcludeIDs:  config.IDSet{9: true},
		ChannelsIncludeIDs: config.IDSet{-300: true},
	})
	require.Equal(t, DecisionPurge, f.Decide(user(9)))
	require.Equal(t, DecisionSync, f.Decide(channel(-300)))
	require.Equal(t, DecisionSkip, f.Decide(channel(-400)))
}

func TestDecide_EmptyTypesIsWhitelistOnly(t *testing.T) {
	f := NewFilter(config.FilterConfig{IncludeIDs: config.IDSet{1: true}})
	require.Equal(t, DecisionSync, f.Decide(user(1)))
	require.Equal(t, DecisionSkip, f.Decide(user(2)))
}

func TestDecide_BotsAreNotPrivate(t *testing.T) {
	f := NewFilter(config.FilterConfig{ChatTypes: []string{"private"}})
	bot := source.ConversationHandle{ID: 3, Kind: source.KindUser, Bot: true}
	require.Equal(t, DecisionSkip, f.Decide(bot))
}

func TestExplicitIncludeIDs_Union(t *testing.T) {
	f := NewFilter(config.FilterConfig{
		IncludeIDs:       config.IDSet{1: true, 2: true},
		GroupsIncludeIDs: config.IDSet{2: true, -3: true},
	})
	require.Equal(t, []int64{-3, 1, 2}, f.ExplicitIncludeIDs())
}

func TestOrder_PriorityThenRecency(t *testing.T) {
	now := time.Now()
	old := user(1)
	old.LastActivity = now.Add(-time.Hour)
	fresh := user(2)
	fresh.LastActivity = now
	priority := user(3)
	priority.LastActivity = now.Add(-24 * time.Hour)

	f := NewFilter(config.FilterConfig{PriorityIDs: config.IDSet{3: true}})
	handles := []source.ConversationHandle{old, fresh, priority}
	f.Order(handles)

	require.Equal(t, int64(3), handles[0].ID, "priority chat first despite being stale")
	require.Equal(t, int64(2), handles[1].ID)
	require.Equal(t, int64(1), handles[2].ID)
}
