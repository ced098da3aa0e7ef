package groups

import (
	"errors"
	"fmt"

	"github.com/Trustflow-Network-Labs/secure-groups/internal/crypto"
	"github.com/Trustflow-Network-Labs/secure-groups/internal/database"
	"github.com/Trustflow-Network-Labs/secure-groups/internal/events"
	"github.com/Trustflow-Network-Labs/secure-groups/internal/groups/messages"
	"github.com/Trustflow-Network-Labs/secure-groups/internal/groupstate"
	"github.com/Trustflow-Network-Labs/secure-groups/internal/jobs"
)

func (p *Processor) handleInvite(tx *database.Tx, groupID string, cmd *messages.Invite) error {
	if cmd.MemberSessionID != p.userID {
		return fmt.Errorf("%w: invite addressed to %s", messages.ErrInvalidMessage, crypto.Truncated(cmd.MemberSessionID))
	}

	approved, err := tx.IsApprovedContact(cmd.Sender)
	if err != nil {
		return err
	}

	if err := p.saveSenderProfile(tx, cmd.Sender, cmd.ProfileName, cmd.ProfilePictureURL, cmd.SentTimestampMs); err != nil {
		return err
	}

	created, err := tx.InsertThreadIfMissing(&database.SessionThread{
		ID:              groupID,
		Variant:         database.ThreadGroup,
		CreationDate:    int64(cmd.SentTimestampMs / 1000),
		ShouldBeVisible: true,
	})
	if err != nil {
		return err
	}
	// A kicked user keeps the inert thread, so only a re-invite gets past here
	if !created && !p.store.WasKicked(tx, groupID) {
		p.logger.Debug(fmt.Sprintf("Ignoring repeated invite to group %s", crypto.Truncated(groupID)), "groups")
		return nil
	}

	if err := tx.UpsertClosedGroup(&database.ClosedGroup{
		ThreadID:           groupID,
		Name:               cmd.GroupName,
		FormationTimestamp: int64(cmd.SentTimestampMs / 1000),
		ShouldPoll:         approved,
		AuthData:           cmd.MemberAuthData,
		Invited:            !approved,
	}); err != nil {
		return err
	}

	if err := p.store.UpsertUserGroup(tx, groupstate.UserGroup{
		GroupSessionID: groupID,
		Name:           cmd.GroupName,
		Invited:        !approved,
		AuthData:       cmd.MemberAuthData,
	}); err != nil {
		return err
	}

	err = p.store.CreateGroup(tx, groupID,
		groupstate.Info{Name: cmd.GroupName, CreatedAt: int64(cmd.SentTimestampMs / 1000)},
		groupstate.Keys{AuthData: cmd.MemberAuthData},
		[]groupstate.Member{{SessionID: p.userID, Role: database.RoleStandard, Status: database.StatusAccepted}})
	if err != nil && !errors.Is(err, groupstate.ErrGroupExists) {
		return err
	}

	inviter := p.ctx.DisplayName(tx, cmd.Sender)
	body := fmt.Sprintf("%s invited you to join %s.", inviter, cmd.GroupName)
	if err := p.addInfoMessage(tx, groupID, cmd.Sender, database.InteractionInfoGroupInvited, body, cmd.SentTimestampMs); err != nil {
		return err
	}

	if approved {
		p.startPolling(tx, groupID)
		if err := p.enqueuePushSubscription(tx, groupID, true); err != nil {
			return err
		}
	} else if p.notifier != nil {
		name := cmd.GroupName
		tx.AfterCommit(func() { p.notifier.NotifyGroupInvite(groupID, name, inviter) })
	}

	p.publish(tx, events.Event{Type: events.EventGroupUpdated, GroupID: groupID, MemberID: cmd.Sender})
	return nil
}

// saveSenderProfile records profile details shipped with a command and
// queues the picture download
func (p *Processor) saveSenderProfile(tx *database.Tx, sender, name, pictureURL string, timestampMs uint64) error {
	if name == "" && pictureURL == "" {
		return nil
	}

	if err := tx.UpsertProfile(&database.Profile{
		ID:                sender,
		Name:              name,
		DisplayPictureURL: pictureURL,
		LastUpdated:       int64(timestampMs),
	}); err != nil {
		return err
	}
	// Evict now for this transaction and again once the name is durable
	p.ctx.ForgetName(sender)
	tx.AfterCommit(func() { p.ctx.ForgetName(sender) })

	if pictureURL == "" {
		return nil
	}
	_, err := p.scheduler.Enqueue(tx, jobs.VariantDisplayPictureDownload, "", jobs.DisplayPictureDetails{
		Target: sender,
		URL:    pictureURL,
	})
	return err
}

func (p *Processor) handlePromote(tx *database.Tx, groupID string, cmd *messages.Promote) error {
	kp, err := crypto.KeyPairFromSeed(cmd.GroupIdentitySeed)
	if err != nil {
		return fmt.Errorf("%w: %v", messages.ErrInvalidMessage, err)
	}

	group, err := tx.FetchClosedGroup(groupID)
	if err != nil {
		return err
	}

	if group == nil {
		// Promoted before the invite arrived; the seed alone makes us a member
		if _, err := tx.InsertThreadIfMissing(&database.SessionThread{
			ID:              groupID,
			Variant:         database.ThreadGroup,
			CreationDate:    int64(cmd.SentTimestampMs / 1000),
			ShouldBeVisible: true,
		}); err != nil {
			return err
		}
		if err := tx.UpsertClosedGroup(&database.ClosedGroup{
			ThreadID:                groupID,
			Name:                    cmd.GroupName,
			FormationTimestamp:      int64(cmd.SentTimestampMs / 1000),
			GroupIdentityPrivateKey: kp.PrivateKey,
			Invited:                 true,
		}); err != nil {
			return err
		}
	} else if err := tx.SetGroupCredentials(groupID, kp.PrivateKey, nil); err != nil {
		return err
	}

	if p.store.UserGroup(tx, groupID) == nil {
		if err := p.store.UpsertUserGroup(tx, groupstate.UserGroup{
			GroupSessionID: groupID,
			Name:           cmd.GroupName,
			Invited:        group == nil || group.Invited,
		}); err != nil {
			return err
		}
	}

	state, err := p.store.Group(tx, groupID)
	if err != nil {
		return err
	}
	if state == nil {
		err = p.store.CreateGroup(tx, groupID,
			groupstate.Info{Name: cmd.GroupName, CreatedAt: int64(cmd.SentTimestampMs / 1000)},
			groupstate.Keys{},
			nil)
		if err != nil {
			return err
		}
	}
	if err := p.store.LoadAdminKey(tx, groupID, kp.Seed()); err != nil {
		return fmt.Errorf("%w: %v", messages.ErrInvalidMessage, err)
	}

	// Whatever the previous row said, holding the seed makes us an accepted admin
	if err := tx.UpsertGroupMember(&database.GroupMember{
		GroupID:    groupID,
		ProfileID:  p.userID,
		Role:       database.RoleAdmin,
		RoleStatus: database.StatusAccepted,
	}); err != nil {
		return err
	}
	if err := p.store.UpdateMemberStatus(tx, groupID, p.userID, database.RoleAdmin, database.StatusAccepted); err != nil {
		return err
	}

	p.publish(tx, events.Event{Type: events.EventMemberStatusChanged, GroupID: groupID, MemberID: p.userID})
	return nil
}
