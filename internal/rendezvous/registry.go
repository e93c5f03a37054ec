package rendezvous

// aliasEntry is the alias table's value type: owner and whether the owner
// has declared itself ready to accept connections against the alias.
type aliasEntry struct {
	ownerID   ID
	accepting bool
}

// AliasInfo is the externally-visible view of an aliasEntry.
type AliasInfo struct {
	OwnerID   ID
	Accepting bool
}

// Registry holds the client table and alias table. It has no internal
// locking: the dispatcher serializes all access to it with a single coarse
// mutex.
type Registry struct {
	clients map[ID]Transport
	aliases map[Alias]aliasEntry
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		clients: make(map[ID]Transport),
		aliases: make(map[Alias]aliasEntry),
	}
}

// AddClient registers transport under id.
func (r *Registry) AddClient(id ID, t Transport) {
	r.clients[id] = t
}

// RemoveClient removes id from the client table.
func (r *Registry) RemoveClient(id ID) {
	delete(r.clients, id)
}

// GetClient returns the transport registered for id, or nil if absent.
func (r *Registry) GetClient(id ID) Transport {
	return r.clients[id]
}

// Clients returns a stable snapshot of the client table, suitable for
// fanning out broadcasts without holding the registry lock for the duration
// of the sends.
func (r *Registry) Clients() map[ID]Transport {
	snap := make(map[ID]Transport, len(r.clients))
	for id, t := range r.clients {
		snap[id] = t
	}
	return snap
}

// BindAlias succeeds iff alias is absent, inserting it with accepting=false.
func (r *Registry) BindAlias(alias Alias, ownerID ID) bool {
	if _, exists := r.aliases[alias]; exists {
		return false
	}
	r.aliases[alias] = aliasEntry{ownerID: ownerID}
	return true
}

// SetAccepting flips accepting=true for alias, iff it is present and owned
// by ownerID. Rejection is silent: it is logged by the caller, never
// messaged to the client.
func (r *Registry) SetAccepting(alias Alias, ownerID ID) bool {
	e, ok := r.aliases[alias]
	if !ok || e.ownerID != ownerID {
		return false
	}
	e.accepting = true
	r.aliases[alias] = e
	return true
}

// UnbindAlias succeeds iff alias is present and owned by ownerID, in which
// case it is removed.
func (r *Registry) UnbindAlias(alias Alias, ownerID ID) bool {
	e, ok := r.aliases[alias]
	if !ok || e.ownerID != ownerID {
		return false
	}
	delete(r.aliases, alias)
	return true
}

// ConnectionAlias unconditionally inserts alias as a connection-type alias
// (accepting=false), owned by ownerID.
func (r *Registry) ConnectionAlias(alias Alias, ownerID ID) {
	r.aliases[alias] = aliasEntry{ownerID: ownerID}
}

// RemoveAlias removes alias unconditionally, regardless of ownership. Used
// by the goodbye procedure.
func (r *Registry) RemoveAlias(alias Alias) {
	delete(r.aliases, alias)
}

// LookupAlias returns the entry for alias, or ok=false if absent.
func (r *Registry) LookupAlias(alias Alias) (AliasInfo, bool) {
	e, ok := r.aliases[alias]
	if !ok {
		return AliasInfo{}, false
	}
	return AliasInfo{OwnerID: e.ownerID, Accepting: e.accepting}, true
}

// AliasesFor returns every alias owned by ownerID, used at disconnect.
func (r *Registry) AliasesFor(ownerID ID) []Alias {
	var out []Alias
	for alias, e := range r.aliases {
		if e.ownerID == ownerID {
			out = append(out, alias)
		}
	}
	return out
}
