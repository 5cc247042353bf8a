package manager

import (
	"sort"
	"time"

	"github.com/loftwing/agentpool/session"
)

// PersistedRecord is an immutable snapshot of a finished session. It
// survives removal of the live session from the pool and keeps the
// conversation resumable through any of its alias keys (internal id, name,
// conversation id).
type PersistedRecord struct {
	ID             string
	ConversationID string
	Name           string
	Task           string
	Workdir        string
	Model          string
	CompletedAt    time.Time
	Status         session.Status
	Cost           float64
	AgentID        string
	OriginChannel  string
}

// recordStore is the canonical persisted-session store: one record per
// session id plus two secondary indexes (name and conversation id), so that
// eviction removes a record and all of its aliases atomically. It is owned
// by the Manager and guarded by the Manager's lock.
type recordStore struct {
	byID           map[string]*PersistedRecord
	byName         map[string]string
	byConversation map[string]string
}

func newRecordStore() *recordStore {
	return &recordStore{
		byID:           make(map[string]*PersistedRecord),
		byName:         make(map[string]string),
		byConversation: make(map[string]string),
	}
}

func (r *recordStore) has(id string) bool {
	_, ok := r.byID[id]
	return ok
}

func (r *recordStore) put(rec *PersistedRecord) {
	r.byID[rec.ID] = rec
	if rec.Name != "" {
		r.byName[rec.Name] = rec.ID
	}
	if rec.ConversationID != "" {
		r.byConversation[rec.ConversationID] = rec.ID
	}
}

// lookup resolves ref through any alias: internal id, name, or conversation
// id.
func (r *recordStore) lookup(ref string) (*PersistedRecord, bool) {
	if rec, ok := r.byID[ref]; ok {
		return rec, true
	}
	if id, ok := r.byName[ref]; ok {
		return r.byID[id], true
	}
	if id, ok := r.byConversation[ref]; ok {
		return r.byID[id], true
	}
	return nil, false
}

// list returns the records ordered newest-completed first.
func (r *recordStore) list() []*PersistedRecord {
	out := make([]*PersistedRecord, 0, len(r.byID))
	for _, rec := range r.byID {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CompletedAt.After(out[j].CompletedAt)
	})
	return out
}

// evictOldest removes the oldest-by-completion records beyond cap, deleting
// every alias of each evicted record.
func (r *recordStore) evictOldest(cap int) {
	if cap <= 0 || len(r.byID) <= cap {
		return
	}
	ordered := r.list()
	for _, rec := range ordered[cap:] {
		delete(r.byID, rec.ID)
		if id, ok := r.byName[rec.Name]; ok && id == rec.ID {
			delete(r.byName, rec.Name)
		}
		if id, ok := r.byConversation[rec.ConversationID]; ok && id == rec.ID {
			delete(r.byConversation, rec.ConversationID)
		}
	}
}
