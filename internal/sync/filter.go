// Package sync drives full archive runs: discover conversations, filter
// and order them, ingest new items batch by batch, then run the side
// syncs (pinned, topics, folders, reconciliation, verification).
package sync

import (
	"sort"

	"github.com/telvault/telvault/internal/config"
	"github.com/telvault/telvault/internal/source"
)

// Decision is the filter outcome for one conversation.
type Decision int

const (
	// DecisionSync includes the conversation in this run.
	DecisionSync Decision = iota
	// DecisionSkip leaves the conversation alone; existing archived data
	// is kept.
	DecisionSkip
	// DecisionPurge excludes the conversation and removes its archived
	// data and media.
	DecisionPurge
)

func (d Decision) String() string {
	switch d {
	case DecisionSync:
		return "sync"
	case DecisionSkip:
		return "skip"
	default:
		return "purge"
	}
}

// Filter applies the layered include/exclude rules: explicit excludes
// trump everything, explicit includes trump the type allow-list, and the
// type allow-list decides the rest.
type Filter struct {
	cfg config.FilterConfig
}

// NewFilter builds a filter from config.
func NewFilter(cfg config.FilterConfig) *Filter {
	return &Filter{cfg: cfg}
}

// Decide classifies one conversation.
func (f *Filter) Decide(h source.ConversationHandle) Decision {
	typeIncl, typeExcl := f.typeSets(h)
	if f.cfg.ExcludeIDs.Contains(h.ID) || typeExcl.Contains(h.ID) {
		return DecisionPurge
	}
	if f.cfg.IncludeIDs.Contains(h.ID) || typeIncl.Contains(h.ID) {
		return DecisionSync
	}
	if f.typeEnabled(h) {
		return DecisionSync
	}
	return DecisionSkip
}

func (f *Filter) typeSets(h source.ConversationHandle) (config.IDSet, config.IDSet) {
	switch {
	case h.IsUser():
		return f.cfg.PrivateIncludeIDs, f.cfg.PrivateExcludeIDs
	case h.IsGroup():
		return f.cfg.GroupsIncludeIDs, f.cfg.GroupsExcludeIDs
	case h.IsChannel():
		return f.cfg.ChannelsIncludeIDs, f.cfg.ChannelsExcludeIDs
	default:
		return nil, nil
	}
}

func (f *Filter) typeEnabled(h source.ConversationHandle) bool {
	for _, t := range f.cfg.ChatTypes {
		switch t {
		case "private":
			if h.IsUser() {
				return true
			}
		case "group":
			if h.IsGroup() {
				return true
			}
		case "channel":
			if h.IsChannel() {
				return true
			}
		}
	}
	return false
}

// ExplicitIncludeIDs returns every explicitly included ID, for resolving
// conversations the provider's lists omit.
func (f *Filter) ExplicitIncludeIDs() []int64 {
	seen := map[int64]bool{}
	var ids []int64
	for _, set := range []config.IDSet{
		f.cfg.IncludeIDs, f.cfg.PrivateIncludeIDs, f.cfg.GroupsIncludeIDs, f.cfg.ChannelsIncludeIDs,
	} {
		for id := range set {
			if !seen[id] {
				seen[id] = true
				ids = append(ids, id)
			}
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Order sorts conversations for a run: priority chats first, then most
// recently active first. Stable within ties so runs are reproducible.
func (f *Filter) Order(handles []source.ConversationHandle) {
	priority := f.cfg.PriorityIDs
	sort.SliceStable(handles, func(i, j int) bool {
		pi, pj := priority.Contains(handles[i].ID), priority.Contains(handles[j].ID)
		if pi != pj {
			return pi
		}
		return handles[i].LastActivity.After(handles[j].LastActivity)
	})
}
