package database

// ThreadVariant identifies the kind of conversation
type ThreadVariant int

const (
	ThreadContact ThreadVariant = iota
	ThreadLegacyGroup
	ThreadCommunity
	ThreadGroup
)

func (v ThreadVariant) String() string {
	switch v {
	case ThreadContact:
		return "contact"
	case ThreadLegacyGroup:
		return "legacyGroup"
	case ThreadCommunity:
		return "community"
	case ThreadGroup:
		return "group"
	}
	return "unknown"
}

// GroupRole is ordered: a higher value is a higher role
type GroupRole int

const (
	RoleStandard GroupRole = iota
	RoleAdmin
)

func (r GroupRole) String() string {
	if r == RoleAdmin {
		return "admin"
	}
	return "standard"
}

// RoleStatus tracks whether a member has confirmed their role
type RoleStatus int

const (
	StatusPending RoleStatus = iota
	StatusSending
	StatusFailed
	StatusAccepted
)

func (s RoleStatus) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusSending:
		return "sending"
	case StatusFailed:
		return "failed"
	case StatusAccepted:
		return "accepted"
	}
	return "unknown"
}

// InteractionVariant classifies interaction rows
type InteractionVariant int

const (
	InteractionStandardIncoming InteractionVariant = iota
	InteractionStandardOutgoing
	InteractionInfoGroupInvited
	InteractionInfoGroupInfoUpdated
	InteractionInfoGroupMembersUpdated
	InteractionInfoGroupMemberLeft
	InteractionInfoDisappearingMessagesUpdate
)

// IsInfo reports whether the interaction is a control/info record
func (v InteractionVariant) IsInfo() bool {
	return v >= InteractionInfoGroupInvited
}

// DisappearingType mirrors the expiration mode of a thread
type DisappearingType int

const (
	DisappearingUnknown DisappearingType = iota
	DisappearAfterRead
	DisappearAfterSend
)

// SessionThread is the local conversation container
type SessionThread struct {
	ID                   string
	Variant              ThreadVariant
	CreationDate         int64
	ShouldBeVisible      bool
	DisappearingEnabled  bool
	DisappearingType     DisappearingType
	DisappearingDuration int64 // seconds
}

// ClosedGroup is the local projection of a group. Exactly one of
// GroupIdentityPrivateKey and AuthData is set for a joined group.
type ClosedGroup struct {
	ThreadID                string
	Name                    string
	Description             string
	FormationTimestamp      int64
	DisplayPictureURL       string
	ShouldPoll              bool
	GroupIdentityPrivateKey []byte
	AuthData                []byte
	Invited                 bool
}

// IsAdmin reports whether the local user holds the group identity key
func (g *ClosedGroup) IsAdmin() bool {
	return len(g.GroupIdentityPrivateKey) > 0
}

// GroupMember is one roster row in the local database
type GroupMember struct {
	GroupID    string
	ProfileID  string
	Role       GroupRole
	RoleStatus RoleStatus
	IsHidden   bool
}

// Interaction is a persisted message or info record
type Interaction struct {
	ID          int64
	ThreadID    string
	AuthorID    string
	Variant     InteractionVariant
	Body        string
	TimestampMs int64
	ServerHash  string
	ReceivedAt  int64
}

// Profile holds a user's display details
type Profile struct {
	ID                string
	Name              string
	DisplayPictureURL string
	LastUpdated       int64
}

// Contact records local trust for a user
type Contact struct {
	ID         string
	IsApproved bool
	IsBlocked  bool
}
