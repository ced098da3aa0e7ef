package groups

import (
	"errors"
	"fmt"

	"github.com/Trustflow-Network-Labs/secure-groups/internal/database"
	"github.com/Trustflow-Network-Labs/secure-groups/internal/events"
	"github.com/Trustflow-Network-Labs/secure-groups/internal/groups/messages"
	"github.com/Trustflow-Network-Labs/secure-groups/internal/groupstate"
	"github.com/Trustflow-Network-Labs/secure-groups/internal/jobs"
	"github.com/Trustflow-Network-Labs/secure-groups/internal/metrics"
	"github.com/Trustflow-Network-Labs/secure-groups/internal/utils"
)

// Poller starts and stops background polling of a group swarm
type Poller interface {
	StartPolling(groupID string)
	StopPolling(groupID string)
}

// Notifier shows local notifications
type Notifier interface {
	NotifyGroupInvite(groupID, groupName, inviterName string)
}

// Dependencies wires a Processor
type Dependencies struct {
	Store     *groupstate.Store
	Verifier  *Verifier
	Context   *Context
	Scheduler jobs.Scheduler
	Poller    Poller
	Notifier  Notifier
	Bus       *events.Bus
	Logger    *utils.LogsManager
	// Session id of the local user
	UserID string
}

// Processor applies verified group commands inside the caller's write
// transaction. Anything that leaves the process is deferred until commit,
// either as a hook or as a persisted job.
type Processor struct {
	store     *groupstate.Store
	verifier  *Verifier
	ctx       *Context
	scheduler jobs.Scheduler
	poller    Poller
	notifier  Notifier
	bus       *events.Bus
	logger    *utils.LogsManager
	userID    string
}

// NewProcessor creates a processor; Poller and Notifier may be nil
func NewProcessor(deps Dependencies) *Processor {
	return &Processor{
		store:     deps.Store,
		verifier:  deps.Verifier,
		ctx:       deps.Context,
		scheduler: deps.Scheduler,
		poller:    deps.Poller,
		notifier:  deps.Notifier,
		bus:       deps.Bus,
		logger:    deps.Logger,
		userID:    deps.UserID,
	}
}

// UserID returns the local user's session id
func (p *Processor) UserID() string {
	return p.userID
}

// HandleGroupUpdateMessage verifies and applies a control command. threadID
// is the group for group-scoped commands and the inviter's thread for
// Invite and Promote, which name their group themselves.
func (p *Processor) HandleGroupUpdateMessage(tx *database.Tx, threadID string, threadVariant database.ThreadVariant, cmd messages.Command) error {
	err := p.handleGroupUpdate(tx, threadID, threadVariant, cmd)
	if err != nil {
		if errors.Is(err, messages.ErrInvalidMessage) {
			metrics.CommandsRejected.WithLabelValues(string(cmd.Kind())).Inc()
			p.logger.Info(fmt.Sprintf("Dropped %s command: %v", cmd.Kind(), err), "groups")
		}
		return err
	}

	metrics.CommandsApplied.WithLabelValues(string(cmd.Kind())).Inc()
	return nil
}

func (p *Processor) handleGroupUpdate(tx *database.Tx, threadID string, threadVariant database.ThreadVariant, cmd messages.Command) error {
	groupID := threadID
	switch c := cmd.(type) {
	case *messages.Invite:
		groupID = c.GroupSessionID
	case *messages.Promote:
		groupID = c.GroupSessionID
	default:
		if threadVariant != database.ThreadGroup {
			return fmt.Errorf("%w: %s outside a group thread", messages.ErrInvalidMessage, cmd.Kind())
		}
	}

	authority, err := p.verifier.Verify(groupID, cmd)
	if err != nil {
		return err
	}

	switch c := cmd.(type) {
	case *messages.Invite:
		return p.handleInvite(tx, groupID, c)
	case *messages.Promote:
		return p.handlePromote(tx, groupID, c)
	case *messages.InfoChange:
		return p.handleInfoChange(tx, groupID, c)
	case *messages.MemberChange:
		return p.handleMemberChange(tx, groupID, c)
	case *messages.MemberLeft:
		return p.handleMemberLeft(tx, groupID, c)
	case *messages.InviteResponse:
		return p.handleInviteResponse(tx, groupID, c)
	case *messages.DeleteMemberContent:
		return p.handleDeleteMemberContent(tx, groupID, authority, c)
	case *messages.GroupDelete:
		return p.HandleGroupDelete(tx, groupID, c.Plaintext)
	}
	return fmt.Errorf("%w: unsupported command %T", messages.ErrInvalidMessage, cmd)
}

// requireGroup loads the local group row; a command for a group this device
// does not know is dropped
func requireGroup(tx *database.Tx, groupID string) (*database.ClosedGroup, error) {
	group, err := tx.FetchClosedGroup(groupID)
	if err != nil {
		return nil, err
	}
	if group == nil {
		return nil, fmt.Errorf("%w: unknown group", messages.ErrInvalidMessage)
	}
	return group, nil
}

func (p *Processor) addInfoMessage(tx *database.Tx, groupID, author string, variant database.InteractionVariant, body string, timestampMs uint64) error {
	return tx.InsertInteraction(&database.Interaction{
		ThreadID:    groupID,
		AuthorID:    author,
		Variant:     variant,
		Body:        body,
		TimestampMs: int64(timestampMs),
	})
}

// acceptMember moves a pending or failed member to accepted, keeping its
// role. Without a local row the replicated roster is updated directly.
func (p *Processor) acceptMember(tx *database.Tx, groupID, memberID string) error {
	member, err := tx.FetchGroupMember(groupID, memberID)
	if err != nil {
		return err
	}

	role := database.RoleStandard
	if member != nil {
		if member.RoleStatus != database.StatusPending && member.RoleStatus != database.StatusFailed {
			return nil
		}
		role = member.Role
		if _, err := tx.UpdateMemberRoleStatus(groupID, memberID, role, database.StatusAccepted,
			database.StatusPending, database.StatusFailed); err != nil {
			return err
		}
	}

	if g, err := p.store.Group(tx, groupID); err != nil {
		return err
	} else if g != nil {
		if err := p.store.UpdateMemberStatus(tx, groupID, memberID, role, database.StatusAccepted); err != nil {
			return err
		}
	}

	p.publish(tx, events.Event{Type: events.EventMemberStatusChanged, GroupID: groupID, MemberID: memberID})
	return nil
}

// enqueuePushSubscription schedules a (un)subscribe when a device token exists
func (p *Processor) enqueuePushSubscription(tx *database.Tx, groupID string, subscribe bool) error {
	token, err := tx.GetPushToken()
	if err != nil || token == "" {
		return err
	}

	_, err = p.scheduler.Enqueue(tx, jobs.VariantPushNotificationSubscription, groupID, jobs.PushSubscriptionDetails{
		Token:      token,
		SessionIDs: []string{groupID},
		Subscribe:  subscribe,
	})
	return err
}

func (p *Processor) publish(tx *database.Tx, event events.Event) {
	if p.bus == nil {
		return
	}
	tx.AfterCommit(func() { p.bus.Publish(event) })
}

func (p *Processor) startPolling(tx *database.Tx, groupID string) {
	if p.poller != nil {
		tx.AfterCommit(func() { p.poller.StartPolling(groupID) })
	}
}

func (p *Processor) stopPolling(tx *database.Tx, groupID string) {
	if p.poller != nil {
		tx.AfterCommit(func() { p.poller.StopPolling(groupID) })
	}
}
