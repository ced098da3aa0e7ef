package recovery

import (
	"errors"
	"fmt"

	"github.com/anacrolix/torrent/bencode"

	"github.com/Trustflow-Network-Labs/secure-groups/internal/database"
)

var ErrUnknownVariant = errors.New("unknown recovery record variant")

// wireRecord is the bencode form of every variant. Only the fields of the
// tagged variant are set; bencode has no booleans so flags are ints.
type wireRecord struct {
	Tag         string           `bencode:"t"`
	Attachments []wireAttachment `bencode:"a,omitempty"`

	RawEnvelope        []byte   `bencode:"envelope,omitempty"`
	ThreadID           string   `bencode:"thread_id,omitempty"`
	ThreadVariant      int      `bencode:"thread_variant,omitempty"`
	SentTimestampMs    uint64   `bencode:"sent_ts,omitempty"`
	CallState          string   `bencode:"call_state,omitempty"`
	Destination        string   `bencode:"destination,omitempty"`
	ServerHash         string   `bencode:"server_hash,omitempty"`
	Ciphertext         string   `bencode:"ciphertext,omitempty"`
	RoomToken          string   `bencode:"room,omitempty"`
	Server             string   `bencode:"server,omitempty"`
	WhisperTo          string   `bencode:"whisper_to,omitempty"`
	WhisperMods        int      `bencode:"whisper_mods,omitempty"`
	FileIDs            []string `bencode:"file_ids,omitempty"`
	RecipientBlindedID string   `bencode:"recipient,omitempty"`
	PublicKey          string   `bencode:"pubkey,omitempty"`
}

type wireAttachment struct {
	ID          string `bencode:"id"`
	DownloadURL string `bencode:"url,omitempty"`
	ByteCount   int64  `bencode:"size,omitempty"`
}

// Encode serializes a record with bencode
func Encode(r Record) ([]byte, error) {
	if r.Variant == nil {
		return nil, fmt.Errorf("%w: nil", ErrUnknownVariant)
	}

	w := wireRecord{Tag: r.Variant.tag()}
	for _, a := range r.Attachments {
		w.Attachments = append(w.Attachments, wireAttachment(a))
	}

	switch v := r.Variant.(type) {
	case IncomingMessage:
		w.RawEnvelope = v.RawEnvelope
	case IncomingCall:
		w.ThreadID = v.ThreadID
		w.ThreadVariant = int(v.ThreadVariant)
		w.SentTimestampMs = v.SentTimestampMs
		w.CallState = v.CallState
	case OutgoingMessage:
		w.Destination = v.Destination
		w.ServerHash = v.ServerHash
		w.Ciphertext = v.Base64Ciphertext
	case OutgoingOpenGroupMessage:
		w.RoomToken = v.RoomToken
		w.Server = v.Server
		w.WhisperTo = v.WhisperTo
		if v.WhisperMods {
			w.WhisperMods = 1
		}
		w.FileIDs = v.FileIDs
		w.Ciphertext = v.Base64Ciphertext
	case OutgoingOpenGroupInboxMessage:
		w.Server = v.Server
		w.RecipientBlindedID = v.RecipientBlindedID
		w.Ciphertext = v.Base64Ciphertext
	case ConfigSync:
		w.PublicKey = v.PublicKey
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownVariant, r.Variant)
	}

	return bencode.Marshal(w)
}

// Decode parses a record produced by Encode
func Decode(data []byte) (Record, error) {
	var w wireRecord
	if err := bencode.Unmarshal(data, &w); err != nil {
		return Record{}, fmt.Errorf("failed to decode recovery record: %v", err)
	}

	var r Record
	for _, a := range w.Attachments {
		r.Attachments = append(r.Attachments, Attachment(a))
	}

	switch w.Tag {
	case IncomingMessage{}.tag():
		r.Variant = IncomingMessage{RawEnvelope: w.RawEnvelope}
	case IncomingCall{}.tag():
		r.Variant = IncomingCall{
			ThreadID:        w.ThreadID,
			ThreadVariant:   database.ThreadVariant(w.ThreadVariant),
			SentTimestampMs: w.SentTimestampMs,
			CallState:       w.CallState,
		}
	case OutgoingMessage{}.tag():
		r.Variant = OutgoingMessage{Destination: w.Destination, ServerHash: w.ServerHash, Base64Ciphertext: w.Ciphertext}
	case OutgoingOpenGroupMessage{}.tag():
		r.Variant = OutgoingOpenGroupMessage{
			RoomToken:        w.RoomToken,
			Server:           w.Server,
			WhisperTo:        w.WhisperTo,
			WhisperMods:      w.WhisperMods != 0,
			FileIDs:          w.FileIDs,
			Base64Ciphertext: w.Ciphertext,
		}
	case OutgoingOpenGroupInboxMessage{}.tag():
		r.Variant = OutgoingOpenGroupInboxMessage{Server: w.Server, RecipientBlindedID: w.RecipientBlindedID, Base64Ciphertext: w.Ciphertext}
	case ConfigSync{}.tag():
		r.Variant = ConfigSync{PublicKey: w.PublicKey}
	default:
		return Record{}, fmt.Errorf("%w: %q", ErrUnknownVariant, w.Tag)
	}

	return r, nil
}
