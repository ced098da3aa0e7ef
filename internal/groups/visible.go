package groups

import (
	"github.com/Trustflow-Network-Labs/secure-groups/internal/database"
	"github.com/Trustflow-Network-Labs/secure-groups/internal/groups/messages"
)

// HandleVisibleMessage stores a chat message. In a group this device
// administers, a message from a member that never confirmed its invite
// counts as acceptance.
func (p *Processor) HandleVisibleMessage(tx *database.Tx, threadID string, threadVariant database.ThreadVariant, msg *messages.VisibleMessage) error {
	if err := msg.Validate(); err != nil {
		return err
	}

	if err := tx.InsertInteraction(&database.Interaction{
		ThreadID:    threadID,
		AuthorID:    msg.Sender,
		Variant:     database.InteractionStandardIncoming,
		Body:        msg.Body,
		TimestampMs: int64(msg.SentTimestampMs),
		ServerHash:  msg.ServerHash,
	}); err != nil {
		return err
	}

	if threadVariant != database.ThreadGroup {
		return nil
	}

	group, err := tx.FetchClosedGroup(threadID)
	if err != nil {
		return err
	}
	if group == nil || !group.IsAdmin() {
		return nil
	}
	return p.acceptMember(tx, threadID, msg.Sender)
}
