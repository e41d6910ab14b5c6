package signaling

import "sort"

// Peer is a remote participant known to the rendezvous service.
type Peer struct {
	ID   int
	Name string
}

// Roster maps peer ids to display names. It performs no I/O; the Client
// mutates it only while handling sign-in responses and notifications.
type Roster struct {
	peers map[int]string
}

// Upsert records or renames a peer.
func (r *Roster) Upsert(id int, name string) {
	if r.peers == nil {
		r.peers = make(map[int]string)
	}
	r.peers[id] = name
}

// Remove drops a peer and reports whether it was present.
func (r *Roster) Remove(id int) bool {
	if _, ok := r.peers[id]; !ok {
		return false
	}
	delete(r.peers, id)
	return true
}

// Name returns the display name of a peer.
func (r *Roster) Name(id int) (string, bool) {
	name, ok := r.peers[id]
	return name, ok
}

// Snapshot returns the peers ordered by id.
func (r *Roster) Snapshot() []Peer {
	out := make([]Peer, 0, len(r.peers))
	for id, name := range r.peers {
		out = append(out, Peer{ID: id, Name: name})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (r *Roster) Len() int { return len(r.peers) }

// Clear empties the roster.
func (r *Roster) Clear() {
	clear(r.peers)
}
