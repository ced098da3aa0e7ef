package groups

import (
	"fmt"
	"time"

	"github.com/Trustflow-Network-Labs/secure-groups/internal/database"
	"github.com/Trustflow-Network-Labs/secure-groups/internal/events"
	"github.com/Trustflow-Network-Labs/secure-groups/internal/groups/messages"
	"github.com/Trustflow-Network-Labs/secure-groups/internal/groupstate"
	"github.com/Trustflow-Network-Labs/secure-groups/internal/jobs"
)

func (p *Processor) handleInfoChange(tx *database.Tx, groupID string, cmd *messages.InfoChange) error {
	if _, err := requireGroup(tx, groupID); err != nil {
		return err
	}

	admin := p.ctx.DisplayName(tx, cmd.Sender)
	variant := database.InteractionInfoGroupInfoUpdated
	var body string

	switch cmd.ChangeType {
	case messages.InfoChangeName:
		body = fmt.Sprintf("Group name is now '%s'.", cmd.UpdatedName)
	case messages.InfoChangeAvatar:
		body = "Group display picture updated."
	case messages.InfoChangeDisappearingMessages:
		variant = database.InteractionInfoDisappearingMessagesUpdate
		enabled := cmd.UpdatedExpiration > 0
		if err := tx.UpdateDisappearingConfig(groupID, enabled, database.DisappearAfterSend, cmd.UpdatedExpiration); err != nil {
			return err
		}
		if err := p.mutateIfKnown(tx, groupID, func(g *groupstate.Group) error {
			g.Info.DisappearingType = database.DisappearAfterSend
			g.Info.DisappearingDuration = cmd.UpdatedExpiration
			return nil
		}); err != nil {
			return err
		}

		if enabled {
			body = fmt.Sprintf("%s has set messages to disappear %s after they have been sent.",
				admin, time.Duration(cmd.UpdatedExpiration)*time.Second)
		} else {
			body = fmt.Sprintf("%s has turned disappearing messages off.", admin)
		}
	}

	if err := p.addInfoMessage(tx, groupID, cmd.Sender, variant, body, cmd.SentTimestampMs); err != nil {
		return err
	}
	p.publish(tx, events.Event{Type: events.EventGroupUpdated, GroupID: groupID, MemberID: cmd.Sender})
	return nil
}

func (p *Processor) handleMemberChange(tx *database.Tx, groupID string, cmd *messages.MemberChange) error {
	if _, err := requireGroup(tx, groupID); err != nil {
		return err
	}

	names := joinNames(p.ctx.DisplayNames(tx, cmd.MemberSessionIDs))
	plural := len(cmd.MemberSessionIDs) > 1

	var body string
	switch cmd.ChangeType {
	case messages.MemberAdded:
		body = fmt.Sprintf("%s %s the group.", names, pick(plural, "were invited to", "was invited to"))
		if cmd.HistoryShared {
			body += " Chat history was shared."
		}
	case messages.MemberRemoved:
		body = fmt.Sprintf("%s %s from the group.", names, pick(plural, "were removed", "was removed"))
	case messages.MemberPromoted:
		body = fmt.Sprintf("%s %s to Admin.", names, pick(plural, "were promoted", "was promoted"))
	}

	if err := p.addInfoMessage(tx, groupID, cmd.Sender, database.InteractionInfoGroupMembersUpdated, body, cmd.SentTimestampMs); err != nil {
		return err
	}
	p.publish(tx, events.Event{Type: events.EventGroupUpdated, GroupID: groupID, MemberID: cmd.Sender})
	return nil
}

// handleMemberLeft records the departure. The roster row stays until the
// pending-removals job converges it from the admin side.
func (p *Processor) handleMemberLeft(tx *database.Tx, groupID string, cmd *messages.MemberLeft) error {
	group, err := requireGroup(tx, groupID)
	if err != nil {
		return err
	}

	body := fmt.Sprintf("%s left the group.", p.ctx.DisplayName(tx, cmd.Sender))
	if err := p.addInfoMessage(tx, groupID, cmd.Sender, database.InteractionInfoGroupMemberLeft, body, cmd.SentTimestampMs); err != nil {
		return err
	}

	if group.IsAdmin() {
		if state, err := p.store.Group(tx, groupID); err != nil {
			return err
		} else if state != nil {
			if err := p.store.MarkMemberRemoved(tx, groupID, cmd.Sender, false); err != nil {
				return err
			}
		}

		if _, err := p.scheduler.Enqueue(tx, jobs.VariantProcessPendingGroupMemberRemovals, groupID, jobs.PendingRemovalsDetails{
			GroupID:           groupID,
			ChangeTimestampMs: cmd.SentTimestampMs,
		}); err != nil {
			return err
		}
	}

	p.publish(tx, events.Event{Type: events.EventGroupUpdated, GroupID: groupID, MemberID: cmd.Sender})
	return nil
}

func (p *Processor) handleInviteResponse(tx *database.Tx, groupID string, cmd *messages.InviteResponse) error {
	group, err := requireGroup(tx, groupID)
	if err != nil {
		return err
	}

	if err := p.saveSenderProfile(tx, cmd.Sender, cmd.ProfileName, cmd.ProfilePictureURL, cmd.SentTimestampMs); err != nil {
		return err
	}

	if !cmd.IsApproved || !group.IsAdmin() {
		return nil
	}
	return p.acceptMember(tx, groupID, cmd.Sender)
}

func (p *Processor) handleDeleteMemberContent(tx *database.Tx, groupID string, authority Authority, cmd *messages.DeleteMemberContent) error {
	group, err := requireGroup(tx, groupID)
	if err != nil {
		return err
	}

	filter := database.InteractionFilter{
		ThreadID:       groupID,
		AuthorIDs:      cmd.MemberSessionIDs,
		ServerHashes:   cmd.MessageHashes,
		MaxTimestampMs: int64(cmd.SentTimestampMs),
	}
	if authority == AuthoritySelf {
		filter.RestrictAuthor = cmd.Sender
	}

	matched, err := tx.FindInteractions(filter)
	if err != nil {
		return err
	}
	deleted, err := tx.DeleteInteractions(filter)
	if err != nil {
		return err
	}

	if group.IsAdmin() && authority == AuthoritySelf {
		senderIsAdmin := false
		if m, err := tx.FetchGroupMember(groupID, cmd.Sender); err != nil {
			return err
		} else if m != nil && m.Role == database.RoleAdmin {
			senderIsAdmin = true
		}

		var hashes []string
		for _, i := range matched {
			if i.ServerHash != "" {
				hashes = append(hashes, i.ServerHash)
			}
		}

		if !senderIsAdmin && len(hashes) > 0 {
			if _, err := p.scheduler.Enqueue(tx, jobs.VariantDeleteGroupSwarmMessages, groupID, jobs.SwarmDeleteDetails{
				GroupID:       groupID,
				MessageHashes: hashes,
			}); err != nil {
				return err
			}
		}
	}

	p.publish(tx, events.Event{Type: events.EventInteractionsDeleted, GroupID: groupID, MemberID: cmd.Sender, Count: int(deleted)})
	return nil
}

// mutateIfKnown applies fn only when replicated state exists for the group
func (p *Processor) mutateIfKnown(tx *database.Tx, groupID string, fn func(g *groupstate.Group) error) error {
	g, err := p.store.Group(tx, groupID)
	if err != nil || g == nil {
		return err
	}
	return p.store.Mutate(tx, groupID, fn)
}

// joinNames renders "A", "A and B" or "A and 2 others"
func joinNames(names []string) string {
	switch len(names) {
	case 0:
		return ""
	case 1:
		return names[0]
	case 2:
		return names[0] + " and " + names[1]
	}
	return fmt.Sprintf("%s and %d others", names[0], len(names)-1)
}

func pick(cond bool, yes, no string) string {
	if cond {
		return yes
	}
	return no
}
