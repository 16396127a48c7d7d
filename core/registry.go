package core

// Handle is one live connection as seen by the registry and the broadcaster.
// Several handles may belong to the same user.
type Handle interface {
	// ID uniquely identifies the connection.
	ID() string
	// Send queues an event for delivery. It must not block and returns
	// ErrHandleUnreachable when the event cannot be queued.
	Send(Event) error
	// Close initiates closing the connection. It is idempotent.
	Close()
}

// GroupRegistry tracks, per group name, the handles currently subscribed to it.
// It is safe for concurrent use.
type GroupRegistry struct {
	groups *SyncMap[string, map[string]Handle]
}

func NewGroupRegistry() *GroupRegistry {
	return &GroupRegistry{
		groups: NewSyncMap[string, map[string]Handle](),
	}
}

// Join adds h to group. Joining twice keeps a single entry.
func (r *GroupRegistry) Join(group string, h Handle) {
	r.groups.Update(group, func(members map[string]Handle, ok bool) (map[string]Handle, bool) {
		if !ok {
			members = make(map[string]Handle)
		}
		members[h.ID()] = h
		return members, true
	})
}

// Leave removes h from group. Removing a non-member is a no-op.
// It reports whether h was a member.
func (r *GroupRegistry) Leave(group string, h Handle) bool {
	removed := false
	r.groups.Update(group, func(members map[string]Handle, ok bool) (map[string]Handle, bool) {
		if !ok {
			return nil, false
		}
		if current, found := members[h.ID()]; found && current == h {
			delete(members, h.ID())
			removed = true
		}
		return members, len(members) > 0
	})
	return removed
}

// Members returns a snapshot of the handles in group. Later joins and leaves
// do not affect the returned slice.
func (r *GroupRegistry) Members(group string) []Handle {
	var snapshot []Handle
	r.groups.View(group, func(members map[string]Handle, ok bool) {
		if !ok {
			return
		}
		snapshot = make([]Handle, 0, len(members))
		for _, h := range members {
			snapshot = append(snapshot, h)
		}
	})
	return snapshot
}

// Contains reports whether h is currently a member of group.
func (r *GroupRegistry) Contains(group string, h Handle) bool {
	found := false
	r.groups.View(group, func(members map[string]Handle, ok bool) {
		if ok {
			_, found = members[h.ID()]
		}
	})
	return found
}

// Groups returns the number of non-empty groups.
func (r *GroupRegistry) Groups() int {
	return r.groups.Len()
}

// CloseAll closes every registered handle. Handles deregister themselves as they exit.
func (r *GroupRegistry) CloseAll() {
	handles := make([]Handle, 0)
	r.groups.RRange(func(_ string, members map[string]Handle) bool {
		for _, h := range members {
			handles = append(handles, h)
		}
		return true
	})
	for _, h := range handles {
		h.Close()
	}
}

// CloseGroup closes every handle in group. Handles deregister themselves as they exit.
func (r *GroupRegistry) CloseGroup(group string) int {
	members := r.Members(group)
	for _, h := range members {
		h.Close()
	}
	return len(members)
}
