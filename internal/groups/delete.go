package groups

import (
	"fmt"

	"github.com/Trustflow-Network-Labs/secure-groups/internal/crypto"
	"github.com/Trustflow-Network-Labs/secure-groups/internal/database"
	"github.com/Trustflow-Network-Labs/secure-groups/internal/events"
	"github.com/Trustflow-Network-Labs/secure-groups/internal/groups/messages"
)

// HandleGroupDelete processes a decrypted kick payload. It is dropped unless
// it names the local user and its generation is not older than the current
// keys. Invited-only groups are removed outright; joined groups keep an
// inert thread so history stays readable.
func (p *Processor) HandleGroupDelete(tx *database.Tx, groupSessionID string, plaintext []byte) error {
	memberID, generation, err := messages.DecodeKick(plaintext)
	if err != nil {
		return err
	}

	if memberID != p.userID {
		return fmt.Errorf("%w: kick addressed to %s", messages.ErrInvalidMessage, crypto.Truncated(memberID))
	}

	current, err := p.store.CurrentGeneration(tx, groupSessionID)
	if err != nil {
		return err
	}
	if generation < current {
		return fmt.Errorf("%w: stale kick generation %d < %d", messages.ErrInvalidMessage, generation, current)
	}

	group, err := tx.FetchClosedGroup(groupSessionID)
	if err != nil {
		return err
	}

	if err := tx.DeleteAllInteractions(groupSessionID); err != nil {
		return err
	}
	if group != nil {
		if err := tx.SetGroupCredentials(groupSessionID, nil, nil); err != nil {
			return err
		}
	}
	if err := tx.DeleteGroupMembers(groupSessionID); err != nil {
		return err
	}
	if err := p.store.RemoveGroup(tx, groupSessionID, false); err != nil {
		return err
	}
	if err := p.enqueuePushSubscription(tx, groupSessionID, false); err != nil {
		return err
	}

	if group == nil || group.Invited {
		if err := tx.DeleteClosedGroup(groupSessionID); err != nil {
			return err
		}
		if err := tx.DeleteThread(groupSessionID); err != nil {
			return err
		}
	} else if err := tx.SetShouldPoll(groupSessionID, false); err != nil {
		return err
	}

	p.stopPolling(tx, groupSessionID)
	if err := p.store.MarkAsKicked(tx, groupSessionID); err != nil {
		return err
	}

	p.logger.Info(fmt.Sprintf("Removed from group %s at generation %d", crypto.Truncated(groupSessionID), generation), "groups")
	p.publish(tx, events.Event{Type: events.EventGroupKicked, GroupID: groupSessionID, MemberID: memberID})
	return nil
}
