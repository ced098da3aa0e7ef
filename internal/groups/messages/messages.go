// Package messages defines the decoded group control commands. Wire parsing
// happens elsewhere; a Command here is already decrypted and typed.
package messages

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrInvalidMessage covers every reason a command is dropped
var ErrInvalidMessage = errors.New("invalid message")

// Kind names a command variant
type Kind string

const (
	KindInvite              Kind = "invite"
	KindPromote             Kind = "promote"
	KindInfoChange          Kind = "infoChange"
	KindMemberChange        Kind = "memberChange"
	KindMemberLeft          Kind = "memberLeft"
	KindInviteResponse      Kind = "inviteResponse"
	KindDeleteMemberContent Kind = "deleteMemberContent"
	KindGroupDelete         Kind = "groupDelete"
)

// Command is implemented only by the command structs in this package
type Command interface {
	Kind() Kind
	Header() Base
	Validate() error
	isCommand()
}

// AdminSigned is a command whose authority comes from a group admin signature
type AdminSigned interface {
	Command
	SignaturePayload() []byte
	Signature() []byte
	setSignature(sig []byte)
}

// Base carries the fields every command has
type Base struct {
	Sender          string
	SentTimestampMs uint64
}

func (b Base) Header() Base { return b }

func (Base) isCommand() {}

// Validate rejects commands missing a sender or a sent timestamp
func (b Base) Validate() error {
	if b.Sender == "" {
		return fmt.Errorf("%w: missing sender", ErrInvalidMessage)
	}
	if b.SentTimestampMs == 0 {
		return fmt.Errorf("%w: missing sent timestamp", ErrInvalidMessage)
	}
	return nil
}

// Sign sets the admin signature on cmd using the group identity key
func Sign(cmd AdminSigned, groupKey ed25519.PrivateKey) {
	cmd.setSignature(ed25519.Sign(groupKey, cmd.SignaturePayload()))
}

func timestamp(ts uint64) string {
	return strconv.FormatUint(ts, 10)
}

// Invite asks MemberSessionID to join the group
type Invite struct {
	Base
	GroupSessionID    string
	GroupName         string
	MemberSessionID   string
	MemberAuthData    []byte
	ProfileName       string
	ProfilePictureURL string
	AdminSignature    []byte
}

func (*Invite) Kind() Kind { return KindInvite }

func (m *Invite) Validate() error {
	if err := m.Base.Validate(); err != nil {
		return err
	}
	if m.GroupSessionID == "" || m.MemberSessionID == "" {
		return fmt.Errorf("%w: invite without group or member", ErrInvalidMessage)
	}
	return nil
}

func (m *Invite) SignaturePayload() []byte {
	return []byte("INVITE" + m.MemberSessionID + timestamp(m.SentTimestampMs))
}

func (m *Invite) Signature() []byte       { return m.AdminSignature }
func (m *Invite) setSignature(sig []byte) { m.AdminSignature = sig }

// Promote hands the group identity seed to a member
type Promote struct {
	Base
	GroupSessionID    string
	GroupIdentitySeed []byte
	GroupName         string
}

func (*Promote) Kind() Kind { return KindPromote }

func (m *Promote) Validate() error {
	if err := m.Base.Validate(); err != nil {
		return err
	}
	if len(m.GroupIdentitySeed) != ed25519.SeedSize {
		return fmt.Errorf("%w: seed size %d", ErrInvalidMessage, len(m.GroupIdentitySeed))
	}
	return nil
}

// InfoChangeType is what an InfoChange updated
type InfoChangeType int

const (
	InfoChangeName InfoChangeType = iota + 1
	InfoChangeAvatar
	InfoChangeDisappearingMessages
)

// InfoChange announces a metadata update made by an admin
type InfoChange struct {
	Base
	ChangeType  InfoChangeType
	UpdatedName string

	// Seconds, zero turns disappearing messages off
	UpdatedExpiration int64
	AdminSignature    []byte
}

func (*InfoChange) Kind() Kind { return KindInfoChange }

func (m *InfoChange) Validate() error {
	if err := m.Base.Validate(); err != nil {
		return err
	}
	if m.ChangeType < InfoChangeName || m.ChangeType > InfoChangeDisappearingMessages {
		return fmt.Errorf("%w: unknown info change %d", ErrInvalidMessage, m.ChangeType)
	}
	return nil
}

func (m *InfoChange) SignaturePayload() []byte {
	return []byte("INFO_CHANGE" + strconv.Itoa(int(m.ChangeType)) + timestamp(m.SentTimestampMs))
}

func (m *InfoChange) Signature() []byte       { return m.AdminSignature }
func (m *InfoChange) setSignature(sig []byte) { m.AdminSignature = sig }

// MemberChangeType is the roster change an admin made
type MemberChangeType int

const (
	MemberAdded MemberChangeType = iota + 1
	MemberRemoved
	MemberPromoted
)

// MemberChange announces roster changes made by an admin
type MemberChange struct {
	Base
	ChangeType       MemberChangeType
	MemberSessionIDs []string
	HistoryShared    bool
	AdminSignature   []byte
}

func (*MemberChange) Kind() Kind { return KindMemberChange }

func (m *MemberChange) Validate() error {
	if err := m.Base.Validate(); err != nil {
		return err
	}
	if m.ChangeType < MemberAdded || m.ChangeType > MemberPromoted {
		return fmt.Errorf("%w: unknown member change %d", ErrInvalidMessage, m.ChangeType)
	}
	if len(m.MemberSessionIDs) == 0 {
		return fmt.Errorf("%w: member change without members", ErrInvalidMessage)
	}
	return nil
}

func (m *MemberChange) SignaturePayload() []byte {
	return []byte("MEMBER_CHANGE" + strconv.Itoa(int(m.ChangeType)) + timestamp(m.SentTimestampMs))
}

func (m *MemberChange) Signature() []byte       { return m.AdminSignature }
func (m *MemberChange) setSignature(sig []byte) { m.AdminSignature = sig }

// MemberLeft is sent by a member leaving the group
type MemberLeft struct {
	Base
}

func (*MemberLeft) Kind() Kind { return KindMemberLeft }

// InviteResponse is a member's answer to an invite
type InviteResponse struct {
	Base
	IsApproved        bool
	ProfileName       string
	ProfilePictureURL string
}

func (*InviteResponse) Kind() Kind { return KindInviteResponse }

// DeleteMemberContent removes messages. Unsigned, it may only touch the
// sender's own content.
type DeleteMemberContent struct {
	Base
	MemberSessionIDs []string
	MessageHashes    []string
	AdminSignature   []byte
}

func (*DeleteMemberContent) Kind() Kind { return KindDeleteMemberContent }

func (m *DeleteMemberContent) Validate() error {
	if err := m.Base.Validate(); err != nil {
		return err
	}
	if len(m.MemberSessionIDs) == 0 && len(m.MessageHashes) == 0 {
		return fmt.Errorf("%w: nothing to delete", ErrInvalidMessage)
	}
	return nil
}

func (m *DeleteMemberContent) SignaturePayload() []byte {
	return []byte("DELETE_CONTENT" + timestamp(m.SentTimestampMs) +
		strings.Join(m.MemberSessionIDs, "") + strings.Join(m.MessageHashes, ""))
}

func (m *DeleteMemberContent) Signature() []byte       { return m.AdminSignature }
func (m *DeleteMemberContent) setSignature(sig []byte) { m.AdminSignature = sig }

// GroupDelete carries the kick payload encrypted to the group
type GroupDelete struct {
	Base
	Plaintext []byte
}

func (*GroupDelete) Kind() Kind { return KindGroupDelete }

// VisibleMessage is an ordinary chat message from a member. It is not a
// Command but shares the header and its validity rule.
type VisibleMessage struct {
	Base
	Body       string
	ServerHash string
}
