package relay

import "sync"

// Registry is the process-wide index from session id to its live
// attachments, used for fan-out. It is rebuilt from nothing on restart;
// clients re-resolve on reconnect.
type Registry struct {
	mu        sync.RWMutex
	bySession map[string]map[*Attachment]struct{}
	sessions  map[*Attachment]string
}

// NewRegistry builds an empty registry. One instance is constructed at
// process start and injected wherever fan-out is needed.
func NewRegistry() *Registry {
	return &Registry{
		bySession: make(map[string]map[*Attachment]struct{}),
		sessions:  make(map[*Attachment]string),
	}
}

// Attach indexes att under sessionID, replacing any previous binding.
func (r *Registry) Attach(sessionID string, att *Attachment) {
	if sessionID == "" || att == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	r.removeLocked(att)
	set, ok := r.bySession[sessionID]
	if !ok {
		set = make(map[*Attachment]struct{})
		r.bySession[sessionID] = set
	}
	set[att] = struct{}{}
	r.sessions[att] = sessionID
}

// Detach removes att from the index. Safe to call twice.
func (r *Registry) Detach(att *Attachment) {
	if att == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removeLocked(att)
}

func (r *Registry) removeLocked(att *Attachment) {
	sessionID, ok := r.sessions[att]
	if !ok {
		return
	}
	delete(r.sessions, att)
	if set, ok := r.bySession[sessionID]; ok {
		delete(set, att)
		if len(set) == 0 {
			delete(r.bySession, sessionID)
		}
	}
}

// Fanout delivers env to every attachment bound to sessionID. Delivery is
// best-effort and non-blocking per attachment: the snapshot is taken under
// the read lock, sends happen outside it.
func (r *Registry) Fanout(sessionID string, env Envelope) {
	r.mu.RLock()
	set := r.bySession[sessionID]
	targets := make([]*Attachment, 0, len(set))
	for att := range set {
		targets = append(targets, att)
	}
	r.mu.RUnlock()

	for _, att := range targets {
		att.Send(env)
	}
}

// Count reports how many attachments are bound to sessionID.
func (r *Registry) Count(sessionID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.bySession[sessionID])
}
