package groups

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/Trustflow-Network-Labs/secure-groups/internal/crypto"
	"github.com/Trustflow-Network-Labs/secure-groups/internal/database"
	"github.com/Trustflow-Network-Labs/secure-groups/internal/groups/messages"
	"github.com/Trustflow-Network-Labs/secure-groups/internal/groupstate"
	"github.com/Trustflow-Network-Labs/secure-groups/internal/jobs"
	"github.com/Trustflow-Network-Labs/secure-groups/internal/network"
	"github.com/Trustflow-Network-Labs/secure-groups/internal/recovery"
	"github.com/Trustflow-Network-Labs/secure-groups/internal/utils"
)

// GroupMessageSender delivers admin control messages to a group swarm
type GroupMessageSender interface {
	SendMemberChange(ctx context.Context, groupID string, change *messages.MemberChange) error
}

// LoggingGroupSender only logs; used when no transport is configured
type LoggingGroupSender struct {
	Logger *utils.LogsManager
}

func (s LoggingGroupSender) SendMemberChange(ctx context.Context, groupID string, change *messages.MemberChange) error {
	s.Logger.Info(fmt.Sprintf("Member change %d for %d members of %s not sent, no transport",
		change.ChangeType, len(change.MemberSessionIDs), crypto.Truncated(groupID)), "groups")
	return nil
}

// JobDependencies wires JobHandlers
type JobDependencies struct {
	DB          *database.SQLiteManager
	Store       *groupstate.Store
	Context     *Context
	Scheduler   jobs.Scheduler
	Sender      network.Sender
	GroupSender GroupMessageSender
	// Sends are journaled here while in flight; optional
	Journal *recovery.Journal
	Logger  *utils.LogsManager
	UserID  string
	// Downloaded display pictures land here
	PictureDir string
}

// JobHandlers runs the deferred work the processor schedules
type JobHandlers struct {
	deps JobDependencies
}

func NewJobHandlers(deps JobDependencies) *JobHandlers {
	if deps.GroupSender == nil {
		deps.GroupSender = LoggingGroupSender{Logger: deps.Logger}
	}
	return &JobHandlers{deps: deps}
}

// Register installs a handler for every group job variant
func (h *JobHandlers) Register(r *jobs.Runner) {
	r.Register(jobs.VariantProcessPendingGroupMemberRemovals, h.processPendingRemovals)
	r.Register(jobs.VariantDeleteGroupSwarmMessages, h.deleteSwarmMessages)
	r.Register(jobs.VariantPushNotificationSubscription, h.updatePushSubscription)
	r.Register(jobs.VariantConfigurationSync, h.syncConfiguration)
	r.Register(jobs.VariantDisplayPictureDownload, h.downloadDisplayPicture)
}

// processPendingRemovals announces and then erases members flagged for
// removal. The announcement goes out first so a failed send is retried with
// the roster still flagged.
func (h *JobHandlers) processPendingRemovals(ctx context.Context, job *database.JobRecord) error {
	var details jobs.PendingRemovalsDetails
	if err := jobs.Decode(job, &details); err != nil {
		return err
	}

	var (
		pending []groupstate.Member
		seed    []byte
	)
	err := h.deps.DB.Read(func(tx *database.Tx) error {
		g, err := h.deps.Store.Group(tx, details.GroupID)
		if err != nil || g == nil || !g.IsAdmin() {
			return err
		}
		pending = g.PendingRemovals()
		seed = g.Keys.AdminSeed
		return nil
	})
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		return nil
	}

	sort.Slice(pending, func(i, j int) bool { return pending[i].SessionID < pending[j].SessionID })
	ids := make([]string, len(pending))
	var withMessages []string
	for i, m := range pending {
		ids[i] = m.SessionID
		if m.Removal == groupstate.RemovedWithMessages {
			withMessages = append(withMessages, m.SessionID)
		}
	}

	timestampMs := details.ChangeTimestampMs
	if timestampMs == 0 {
		timestampMs = uint64(time.Now().UnixMilli())
	}

	kp, err := crypto.KeyPairFromSeed(seed)
	if err != nil {
		return fmt.Errorf("%w: %v", jobs.ErrPermanent, err)
	}
	change := &messages.MemberChange{
		Base:             messages.Base{Sender: h.deps.UserID, SentTimestampMs: timestampMs},
		ChangeType:       messages.MemberRemoved,
		MemberSessionIDs: ids,
	}
	messages.Sign(change, kp.PrivateKey)

	err = h.journaled(recovery.ConfigSync{PublicKey: details.GroupID}, func() error {
		return h.deps.GroupSender.SendMemberChange(ctx, details.GroupID, change)
	})
	if err != nil {
		return err
	}

	return h.deps.DB.Write(func(tx *database.Tx) error {
		// Members re-added while the announcement was in flight stay
		g, err := h.deps.Store.Group(tx, details.GroupID)
		if err != nil || g == nil {
			return err
		}
		erase := stillFlagged(g, ids)
		eraseMessages := stillFlagged(g, withMessages)
		if len(erase) == 0 {
			h.deps.Logger.Info(fmt.Sprintf("No members of %s left to remove", crypto.Truncated(details.GroupID)), "groups")
			return nil
		}

		if err := h.deps.Store.EraseMembers(tx, details.GroupID, erase...); err != nil {
			return err
		}
		for _, id := range erase {
			if err := tx.DeleteGroupMember(details.GroupID, id); err != nil {
				return err
			}
		}
		if len(eraseMessages) > 0 {
			if _, err := tx.DeleteInteractions(database.InteractionFilter{
				ThreadID:       details.GroupID,
				AuthorIDs:      eraseMessages,
				MaxTimestampMs: math.MaxInt64,
			}); err != nil {
				return err
			}
		}

		body := fmt.Sprintf("%s removed from the group.", joinNames(h.deps.Context.DisplayNames(tx, erase)))
		if err := tx.InsertInteraction(&database.Interaction{
			ThreadID:    details.GroupID,
			AuthorID:    h.deps.UserID,
			Variant:     database.InteractionInfoGroupMembersUpdated,
			Body:        body,
			TimestampMs: int64(timestampMs),
		}); err != nil {
			return err
		}

		_, err = h.deps.Scheduler.Enqueue(tx, jobs.VariantConfigurationSync, details.GroupID,
			jobs.ConfigSyncDetails{PublicKey: details.GroupID})
		return err
	})
}

func stillFlagged(g *groupstate.Group, ids []string) []string {
	var kept []string
	for _, id := range ids {
		if m, ok := g.Members[id]; ok && m.Removal != groupstate.NotRemoved {
			kept = append(kept, id)
		}
	}
	return kept
}

// journaled keeps a recovery entry for variant while send runs. The entry
// outlives send only if the process stops first; a failed send is retried by
// the job queue instead.
func (h *JobHandlers) journaled(variant recovery.Variant, send func() error) error {
	if h.deps.Journal == nil {
		return send()
	}

	name, err := h.deps.Journal.Append(recovery.Record{Variant: variant})
	if err != nil {
		h.deps.Logger.Warn(fmt.Sprintf("Failed to journal outgoing send: %v", err), "jobs")
		return send()
	}

	sendErr := send()
	if err := h.deps.Journal.Remove(name); err != nil {
		h.deps.Logger.Warn(err.Error(), "jobs")
	}
	return sendErr
}

func (h *JobHandlers) deleteSwarmMessages(ctx context.Context, job *database.JobRecord) error {
	var details jobs.SwarmDeleteDetails
	if err := jobs.Decode(job, &details); err != nil {
		return err
	}

	seed, err := h.adminSeed(details.GroupID)
	if err != nil {
		return err
	}
	kp, err := crypto.KeyPairFromSeed(seed)
	if err != nil {
		return fmt.Errorf("%w: %v", jobs.ErrPermanent, err)
	}

	return network.DeleteMessages(ctx, h.deps.Sender, kp, details.MessageHashes)
}

func (h *JobHandlers) adminSeed(groupID string) ([]byte, error) {
	var seed []byte
	err := h.deps.DB.Read(func(tx *database.Tx) error {
		g, err := h.deps.Store.Group(tx, groupID)
		if err != nil {
			return err
		}
		if g != nil {
			seed = g.Keys.AdminSeed
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(seed) == 0 {
		return nil, fmt.Errorf("%w: no admin key for %s", jobs.ErrPermanent, crypto.Truncated(groupID))
	}
	return seed, nil
}

func (h *JobHandlers) updatePushSubscription(ctx context.Context, job *database.JobRecord) error {
	var details jobs.PushSubscriptionDetails
	if err := jobs.Decode(job, &details); err != nil {
		return err
	}
	if details.Token == "" || len(details.SessionIDs) == 0 {
		return fmt.Errorf("%w: empty subscription", jobs.ErrPermanent)
	}
	return network.UpdateSubscription(ctx, h.deps.Sender, details.Token, details.SessionIDs, details.Subscribe)
}

// syncConfiguration uploads the dumps of a group, or the user group list
// when the key is the local user's
func (h *JobHandlers) syncConfiguration(ctx context.Context, job *database.JobRecord) error {
	var details jobs.ConfigSyncDetails
	if err := jobs.Decode(job, &details); err != nil {
		return err
	}

	type upload struct {
		namespace string
		data      []byte
	}
	var uploads []upload

	err := h.deps.DB.Read(func(tx *database.Tx) error {
		variants := []string{groupstate.DumpGroupInfo, groupstate.DumpGroupMembers, groupstate.DumpGroupKeys}
		sessionID := details.PublicKey
		if details.PublicKey == h.deps.UserID {
			variants = []string{groupstate.DumpUserGroups}
			sessionID = ""
		}

		for _, variant := range variants {
			dump, err := tx.FetchConfigDump(variant, sessionID)
			if err != nil {
				return err
			}
			if dump != nil {
				uploads = append(uploads, upload{namespace: variant, data: dump.Data})
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	if len(uploads) == 0 {
		return nil
	}

	return h.journaled(recovery.ConfigSync{PublicKey: details.PublicKey}, func() error {
		for _, u := range uploads {
			if err := network.StoreConfig(ctx, h.deps.Sender, details.PublicKey, u.namespace, u.data); err != nil {
				return err
			}
		}
		return nil
	})
}

func (h *JobHandlers) downloadDisplayPicture(ctx context.Context, job *database.JobRecord) error {
	var details jobs.DisplayPictureDetails
	if err := jobs.Decode(job, &details); err != nil {
		return err
	}
	if details.URL == "" {
		return fmt.Errorf("%w: no picture url", jobs.ErrPermanent)
	}

	data, err := network.RetrieveFile(ctx, h.deps.Sender, details.URL)
	if err != nil {
		if errors.Is(err, network.ErrRequestFailed) {
			h.deps.Logger.Warn(fmt.Sprintf("Display picture for %s unavailable: %v", crypto.Truncated(details.Target), err), "jobs")
		}
		return err
	}

	path := PicturePath(h.deps.PictureDir, details.URL)
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create picture directory: %v", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write display picture: %v", err)
	}
	return nil
}

// PicturePath is where the picture downloaded from url is kept
func PicturePath(dir, url string) string {
	return filepath.Join(dir, utils.HashBytes([]byte(url)))
}
