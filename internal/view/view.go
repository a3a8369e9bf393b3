// Package view holds the in-memory projection of sessions that presentation
// code reads.
package view

import (
	"slices"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/iksnae/chatsync/internal"
)

// Snapshot is an immutable copy of the view taken after a reconciliation step
type Snapshot struct {
	Sessions  []*internal.ChatSession
	CurrentID string
	Version   uint64
}

// Current returns the current session of the snapshot, or nil
func (s *Snapshot) Current() *internal.ChatSession {
	if s == nil || s.CurrentID == "" {
		return nil
	}
	for _, session := range s.Sessions {
		if session.ID == s.CurrentID {
			return session
		}
	}
	return nil
}

// Find returns the session with id, or nil
func (s *Snapshot) Find(id string) *internal.ChatSession {
	if s == nil {
		return nil
	}
	for _, session := range s.Sessions {
		if session.ID == id {
			return session
		}
	}
	return nil
}

// Listener receives every published snapshot
type Listener func(*Snapshot)

// State is the mutable view. Mutations must come from a single goroutine;
// readers use Snapshot, which never observes a partially applied step.
type State struct {
	sessions  []*internal.ChatSession
	index     map[string]int
	owners    map[string]string // message id -> session id
	currentID string
	dirty     bool

	published atomic.Pointer[Snapshot]
	version   uint64

	listenersMu sync.Mutex
	listeners   []Listener
}

// New creates an empty view
func New() *State {
	v := &State{
		index:  make(map[string]int),
		owners: make(map[string]string),
	}
	v.published.Store(&Snapshot{Sessions: []*internal.ChatSession{}})
	return v
}

// Replace hydrates the view from sessions, dropping everything held before
func (v *State) Replace(sessions []*internal.ChatSession) {
	v.sessions = make([]*internal.ChatSession, 0, len(sessions))
	v.index = make(map[string]int, len(sessions))
	v.owners = make(map[string]string)
	for _, s := range sessions {
		if s == nil || s.ID == "" {
			continue
		}
		if _, dup := v.index[s.ID]; dup {
			continue
		}
		c := s.Clone()
		if c.Messages == nil {
			c.Messages = []internal.Message{}
		}
		v.index[c.ID] = len(v.sessions)
		v.sessions = append(v.sessions, c)
		for _, m := range c.Messages {
			v.owners[m.ID] = c.ID
		}
	}
	if _, ok := v.index[v.currentID]; !ok {
		v.currentID = ""
	}
	v.dirty = true
}

// Has reports whether a session with id is present
func (v *State) Has(id string) bool {
	_, ok := v.index[id]
	return ok
}

// Get returns the live session with id, or nil. Callers must not retain it
// past the current step.
func (v *State) Get(id string) *internal.ChatSession {
	i, ok := v.index[id]
	if !ok {
		return nil
	}
	return v.sessions[i]
}

// Sessions returns the live session list in view order
func (v *State) Sessions() []*internal.ChatSession {
	return v.sessions
}

// Len returns the number of sessions
func (v *State) Len() int {
	return len(v.sessions)
}

// CurrentID returns the current session id, "" when none is selected
func (v *State) CurrentID() string {
	return v.currentID
}

// MessageOwner returns the session holding message id
func (v *State) MessageOwner(messageID string) (string, bool) {
	id, ok := v.owners[messageID]
	return id, ok
}

// UpsertSession inserts the session or replaces the one with the same id.
// When keepMessages is set an existing session keeps its message list.
func (v *State) UpsertSession(session *internal.ChatSession, keepMessages bool) {
	if session == nil || session.ID == "" {
		return
	}
	c := session.Clone()
	if c.Messages == nil {
		c.Messages = []internal.Message{}
	}
	if i, ok := v.index[c.ID]; ok {
		old := v.sessions[i]
		if keepMessages {
			c.Messages = old.Messages
		} else {
			for _, m := range old.Messages {
				delete(v.owners, m.ID)
			}
		}
		v.sessions[i] = c
	} else {
		// new sessions go to the head; Sort settles the final position
		v.sessions = append([]*internal.ChatSession{c}, v.sessions...)
		v.reindex()
	}
	for _, m := range c.Messages {
		v.owners[m.ID] = c.ID
	}
	v.dirty = true
}

// RemoveSession drops the session; the current selection is cleared when it
// pointed at it. Removing an absent session is a no-op.
func (v *State) RemoveSession(id string) {
	i, ok := v.index[id]
	if !ok {
		return
	}
	for _, m := range v.sessions[i].Messages {
		delete(v.owners, m.ID)
	}
	v.sessions = append(v.sessions[:i], v.sessions[i+1:]...)
	v.reindex()
	if v.currentID == id {
		v.currentID = ""
	}
	v.dirty = true
}

// UpsertMessageInSession replaces the message with the same id or inserts it
// in (timestamp, id) order, the order the store loads messages in. It
// reports false when the session is not present.
func (v *State) UpsertMessageInSession(sessionID string, m internal.Message) bool {
	i, ok := v.index[sessionID]
	if !ok {
		return false
	}
	if owner, ok := v.owners[m.ID]; ok && owner != sessionID {
		v.RemoveMessageFromSession(owner, m.ID)
	}
	s := v.sessions[i]
	m = m.Clone()
	m.SessionID = sessionID
	if j := s.MessageIndex(m.ID); j >= 0 && s.Messages[j].Timestamp.Equal(m.Timestamp) {
		s.Messages[j] = m
	} else {
		if j >= 0 {
			s.Messages = slices.Delete(s.Messages, j, j+1)
		}
		s.Messages = slices.Insert(s.Messages, insertionIndex(s.Messages, m), m)
	}
	v.owners[m.ID] = sessionID
	v.dirty = true
	return true
}

// insertionIndex is the position of the first message ordered after m
func insertionIndex(messages []internal.Message, m internal.Message) int {
	for i := len(messages); i > 0; i-- {
		prev := messages[i-1]
		if prev.Timestamp.Before(m.Timestamp) || (prev.Timestamp.Equal(m.Timestamp) && prev.ID < m.ID) {
			return i
		}
	}
	return 0
}

// RemoveMessageFromSession drops the message from the session. Absent
// sessions or messages are a no-op.
func (v *State) RemoveMessageFromSession(sessionID, messageID string) bool {
	i, ok := v.index[sessionID]
	if !ok {
		return false
	}
	s := v.sessions[i]
	j := s.MessageIndex(messageID)
	if j < 0 {
		return false
	}
	s.Messages = append(s.Messages[:j], s.Messages[j+1:]...)
	delete(v.owners, messageID)
	v.dirty = true
	return true
}

// SetCurrent selects the current session; unknown ids clear the selection
func (v *State) SetCurrent(id string) {
	if _, ok := v.index[id]; !ok {
		id = ""
	}
	if v.currentID != id {
		v.currentID = id
		v.dirty = true
	}
}

// Sort orders sessions by updatedAt descending, ties broken by id
func (v *State) Sort() {
	sort.SliceStable(v.sessions, func(i, j int) bool {
		a, b := v.sessions[i], v.sessions[j]
		if !a.UpdatedAt.Equal(b.UpdatedAt) {
			return a.UpdatedAt.After(b.UpdatedAt)
		}
		return a.ID < b.ID
	})
	v.reindex()
	v.dirty = true
}

// Publish makes the current state visible to readers and listeners. Nothing
// happens when no mutation occurred since the last publish.
func (v *State) Publish() *Snapshot {
	if !v.dirty {
		return v.published.Load()
	}
	v.version++
	snap := &Snapshot{
		Sessions:  make([]*internal.ChatSession, len(v.sessions)),
		CurrentID: v.currentID,
		Version:   v.version,
	}
	for i, s := range v.sessions {
		snap.Sessions[i] = s.Clone()
	}
	v.published.Store(snap)
	v.dirty = false

	v.listenersMu.Lock()
	listeners := append([]Listener(nil), v.listeners...)
	v.listenersMu.Unlock()
	for _, l := range listeners {
		l(snap)
	}
	return snap
}

// Snapshot returns the last published snapshot. Safe from any goroutine.
func (v *State) Snapshot() *Snapshot {
	return v.published.Load()
}

// OnPublish registers a listener called after every publish
func (v *State) OnPublish(l Listener) {
	v.listenersMu.Lock()
	defer v.listenersMu.Unlock()
	v.listeners = append(v.listeners, l)
}

func (v *State) reindex() {
	v.index = make(map[string]int, len(v.sessions))
	for i, s := range v.sessions {
		v.index[s.ID] = i
	}
}
