package recovery

import "github.com/Trustflow-Network-Labs/secure-groups/internal/database"

// Variant is implemented only by the record payload types below
type Variant interface {
	tag() string
}

// Record is one journal entry: what was in flight and its attachments
type Record struct {
	Variant     Variant
	Attachments []Attachment
}

// Attachment references a file uploaded alongside a message
type Attachment struct {
	ID          string
	DownloadURL string
	ByteCount   int64
}

// IncomingMessage is an envelope received but not yet processed
type IncomingMessage struct {
	RawEnvelope []byte
}

// IncomingCall is a call message that arrived before the app was ready
type IncomingCall struct {
	ThreadID        string
	ThreadVariant   database.ThreadVariant
	SentTimestampMs uint64
	CallState       string
}

// OutgoingMessage is a message sent to a swarm
type OutgoingMessage struct {
	Destination      string
	ServerHash       string
	Base64Ciphertext string
}

// OutgoingOpenGroupMessage is a message posted to a community room
type OutgoingOpenGroupMessage struct {
	RoomToken        string
	Server           string
	WhisperTo        string
	WhisperMods      bool
	FileIDs          []string
	Base64Ciphertext string
}

// OutgoingOpenGroupInboxMessage is a blinded direct message via a community
type OutgoingOpenGroupInboxMessage struct {
	Server             string
	RecipientBlindedID string
	Base64Ciphertext   string
}

// ConfigSync asks for the replicated state of PublicKey to be pushed
type ConfigSync struct {
	PublicKey string
}

func (IncomingMessage) tag() string               { return "incomingMessage" }
func (IncomingCall) tag() string                  { return "incomingCall" }
func (OutgoingMessage) tag() string               { return "outgoingMessage" }
func (OutgoingOpenGroupMessage) tag() string      { return "outgoingOpenGroupMessage" }
func (OutgoingOpenGroupInboxMessage) tag() string { return "outgoingOpenGroupInboxMessage" }
func (ConfigSync) tag() string                    { return "configSync" }

// Kind returns the variant name of r
func (r Record) Kind() string {
	if r.Variant == nil {
		return ""
	}
	return r.Variant.tag()
}
