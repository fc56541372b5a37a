package router

import "sync"

// Access is the minimum role a command needs. Roles are ordered.
type Access int

const (
	AccessEveryone Access = iota
	AccessAdmin
	AccessOwner
)

func (a Access) String() string {
	switch a {
	case AccessAdmin:
		return "admin"
	case AccessOwner:
		return "owner"
	default:
		return "everyone"
	}
}

// Roles maps user ids to their role. Owners are implicitly admins.
type Roles struct {
	mu     sync.RWMutex
	owners map[int64]struct{}
	admins map[int64]struct{}
}

func NewRoles(owners, admins []int64) *Roles {
	r := &Roles{}
	r.Set(owners, admins)
	return r
}

// Set replaces both lists. Safe during hot reload.
func (r *Roles) Set(owners, admins []int64) {
	o := make(map[int64]struct{}, len(owners))
	for _, id := range owners {
		o[id] = struct{}{}
	}
	a := make(map[int64]struct{}, len(admins))
	for _, id := range admins {
		a[id] = struct{}{}
	}
	r.mu.Lock()
	r.owners, r.admins = o, a
	r.mu.Unlock()
}

func (r *Roles) Of(userID int64) Access {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if _, ok := r.owners[userID]; ok {
		return AccessOwner
	}
	if _, ok := r.admins[userID]; ok {
		return AccessAdmin
	}
	return AccessEveryone
}

func (r *Roles) Allows(userID int64, need Access) bool { return r.Of(userID) >= need }
