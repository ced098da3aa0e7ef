package groupstate

import (
	"bytes"
	"maps"

	"github.com/Trustflow-Network-Labs/secure-groups/internal/database"
)

// RemovalStatus marks a member that an admin still has to remove
type RemovalStatus int

const (
	NotRemoved RemovalStatus = iota
	Removed
	RemovedWithMessages
)

// Info is the replicated group metadata
type Info struct {
	Name              string
	Description       string
	DisplayPictureURL string
	CreatedAt         int64
	// Disappearing messages, zero duration when off
	DisappearingType     database.DisappearingType
	DisappearingDuration int64
}

// Member is one roster entry
type Member struct {
	SessionID string
	Name      string
	Role      database.GroupRole
	Status    database.RoleStatus
	Removal   RemovalStatus
}

// Keys holds the key epoch and the credential this device holds for the
// group. AdminSeed and AuthData are mutually exclusive.
type Keys struct {
	Generation int64
	AdminSeed  []byte
	AuthData   []byte
}

// Group is the full replicated state of one group
type Group struct {
	SessionID string
	Info      Info
	Members   map[string]Member
	Keys      Keys
}

// IsAdmin reports whether this device holds the group identity seed
func (g *Group) IsAdmin() bool {
	return len(g.Keys.AdminSeed) > 0
}

// Clone returns a deep copy safe to mutate
func (g *Group) Clone() *Group {
	c := *g
	c.Members = maps.Clone(g.Members)
	if c.Members == nil {
		c.Members = make(map[string]Member)
	}
	c.Keys.AdminSeed = bytes.Clone(g.Keys.AdminSeed)
	c.Keys.AuthData = bytes.Clone(g.Keys.AuthData)
	return &c
}

// PendingRemovals lists the members flagged for removal
func (g *Group) PendingRemovals() []Member {
	var pending []Member
	for _, m := range g.Members {
		if m.Removal != NotRemoved {
			pending = append(pending, m)
		}
	}
	return pending
}

// UserGroup is this user's entry for a group in the user group list
type UserGroup struct {
	GroupSessionID string
	Name           string
	Invited        bool
	Kicked         bool
	AuthData       []byte
	AdminSeed      []byte
	JoinedAt       int64
}

func (u *UserGroup) clone() *UserGroup {
	c := *u
	c.AuthData = bytes.Clone(u.AuthData)
	c.AdminSeed = bytes.Clone(u.AdminSeed)
	return &c
}
