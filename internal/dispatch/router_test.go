package dispatch

import (
	"encoding/json"
	"fmt"
	"sync"
)

type delivery struct {
	Event string
	Args  json.RawMessage
}

type reply struct {
	Ack  int64
	Args json.RawMessage
}

// recordingRouter mimics the hub's addressing rules and records what each
// connection would have received.
type recordingRouter struct {
	mu        sync.Mutex
	conns     map[string]bool
	groups    map[string]map[string]bool
	delivered map[string][]delivery
	replies   map[string][]reply
	log       []string
}

func newRecordingRouter() *recordingRouter {
	return &recordingRouter{
		conns:     make(map[string]bool),
		groups:    make(map[string]map[string]bool),
		delivered: make(map[string][]delivery),
		replies:   make(map[string][]reply),
	}
}

func (r *recordingRouter) connect(ids ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range ids {
		r.conns[id] = true
	}
}

func (r *recordingRouter) drop(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.conns, id)
	for _, members := range r.groups {
		delete(members, id)
	}
}

func mustJSON(v any) json.RawMessage {
	raw, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return raw
}

func (r *recordingRouter) Emit(connID, event string, args ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.log = append(r.log, fmt.Sprintf("conn:%s:%s", connID, event))
	if r.conns[connID] {
		r.delivered[connID] = append(r.delivered[connID], delivery{Event: event, Args: mustJSON(args)})
	}
}

func (r *recordingRouter) EmitRoom(room, except, event string, args ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.log = append(r.log, fmt.Sprintf("room:%s:%s", room, event))
	for id := range r.groups[room] {
		if id != except {
			r.delivered[id] = append(r.delivered[id], delivery{Event: event, Args: mustJSON(args)})
		}
	}
}

func (r *recordingRouter) EmitAll(event string, args ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.log = append(r.log, "all:"+event)
	for id := range r.conns {
		r.delivered[id] = append(r.delivered[id], delivery{Event: event, Args: mustJSON(args)})
	}
}

func (r *recordingRouter) Reply(connID string, ack int64, args ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.replies[connID] = append(r.replies[connID], reply{Ack: ack, Args: mustJSON(args)})
}

func (r *recordingRouter) Join(connID, room string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.conns[connID] {
		return
	}
	if r.groups[room] == nil {
		r.groups[room] = make(map[string]bool)
	}
	r.groups[room][connID] = true
}

func (r *recordingRouter) Leave(connID, room string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.groups[room], connID)
}

func (r *recordingRouter) Evict(room string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.log = append(r.log, "evict:"+room)
	var ids []string
	for id := range r.groups[room] {
		ids = append(ids, id)
	}
	delete(r.groups, room)
	return ids
}

// events returns the args of every event named event delivered to connID.
func (r *recordingRouter) events(connID, event string) []json.RawMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []json.RawMessage
	for _, d := range r.delivered[connID] {
		if d.Event == event {
			out = append(out, d.Args)
		}
	}
	return out
}

func (r *recordingRouter) eventNames(connID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.delivered[connID]))
	for _, d := range r.delivered[connID] {
		names = append(names, d.Event)
	}
	return names
}

func (r *recordingRouter) lastReply(connID string) (reply, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	replies := r.replies[connID]
	if len(replies) == 0 {
		return reply{}, false
	}
	return replies[len(replies)-1], true
}

func (r *recordingRouter) replyCount(connID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.replies[connID])
}

func (r *recordingRouter) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.delivered = make(map[string][]delivery)
	r.replies = make(map[string][]reply)
	r.log = nil
}

func (r *recordingRouter) indexOf(entry string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, e := range r.log {
		if e == entry {
			return i
		}
	}
	return -1
}
