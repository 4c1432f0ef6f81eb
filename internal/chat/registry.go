package chat

// portSpace is the stride used when two open connections share a remote
// port, so that id%portSpace is always the peer's port.
const portSpace = 1 << 16

// Registry maps identities to open connections. It is owned by the reactor
// goroutine and must not be touched from anywhere else.
type Registry struct {
	byID map[int]*Conn
	byFd map[int]*Conn
}

func NewRegistry() *Registry {
	return &Registry{
		byID: make(map[int]*Conn),
		byFd: make(map[int]*Conn),
	}
}

// NextID derives an identity from the remote port that no open
// connection currently holds.
func (r *Registry) NextID(port int) int {
	id := port
	for {
		if _, taken := r.byID[id]; !taken {
			return id
		}
		id += portSpace
	}
}

// Insert adds c. It reports false if the identity is already taken.
func (r *Registry) Insert(c *Conn) bool {
	if _, exists := r.byID[c.id]; exists {
		return false
	}
	r.byID[c.id] = c
	r.byFd[c.fd] = c
	return true
}

// Remove deletes the connection with the given identity and returns it.
// Removing an absent identity returns nil.
func (r *Registry) Remove(id int) *Conn {
	c, ok := r.byID[id]
	if !ok {
		return nil
	}
	delete(r.byID, id)
	delete(r.byFd, c.fd)
	return c
}

func (r *Registry) Get(id int) (*Conn, bool) {
	c, ok := r.byID[id]
	return c, ok
}

// ByFd finds the connection owning a ready descriptor.
func (r *Registry) ByFd(fd int) (*Conn, bool) {
	c, ok := r.byFd[fd]
	return c, ok
}

func (r *Registry) Len() int { return len(r.byID) }

// Each calls fn for every connection. fn must not insert or remove.
func (r *Registry) Each(fn func(*Conn)) {
	for _, c := range r.byID {
		fn(c)
	}
}

// IDs returns a snapshot of the identities currently registered.
func (r *Registry) IDs() []int {
	ids := make([]int, 0, len(r.byID))
	for id := range r.byID {
		ids = append(ids, id)
	}
	return ids
}
