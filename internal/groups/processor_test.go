package groups

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/zalando/go-keyring"

	"github.com/Trustflow-Network-Labs/secure-groups/internal/crypto"
	"github.com/Trustflow-Network-Labs/secure-groups/internal/crypto/keystore"
	"github.com/Trustflow-Network-Labs/secure-groups/internal/database"
	"github.com/Trustflow-Network-Labs/secure-groups/internal/groups/messages"
	"github.com/Trustflow-Network-Labs/secure-groups/internal/groupstate"
	"github.com/Trustflow-Network-Labs/secure-groups/internal/jobs"
	"github.com/Trustflow-Network-Labs/secure-groups/internal/network"
	"github.com/Trustflow-Network-Labs/secure-groups/internal/recovery"
	"github.com/Trustflow-Network-Labs/secure-groups/internal/utils"
)

var (
	localUser = "05" + strings.Repeat("c", 60) + "0000"
	alice     = "05" + strings.Repeat("a", 60) + "0001"
	bob       = "05" + strings.Repeat("b", 60) + "0002"
)

type recordingPoller struct {
	mu      sync.Mutex
	started []string
	stopped []string
}

func (p *recordingPoller) StartPolling(groupID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.started = append(p.started, groupID)
}

func (p *recordingPoller) StopPolling(groupID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopped = append(p.stopped, groupID)
}

type recordingNotifier struct {
	invites []string
}

func (n *recordingNotifier) NotifyGroupInvite(groupID, groupName, inviterName string) {
	n.invites = append(n.invites, groupName)
}

type recordingSender struct {
	mu      sync.Mutex
	methods []string
}

func (s *recordingSender) Send(ctx context.Context, method string, params interface{}) (*network.Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.methods = append(s.methods, method)
	return &network.Response{Status: 200, Result: []byte(`{}`)}, nil
}

type recordingGroupSender struct {
	changes []*messages.MemberChange
	err     error
	onSend  func()
}

func (s *recordingGroupSender) SendMemberChange(ctx context.Context, groupID string, change *messages.MemberChange) error {
	if s.onSend != nil {
		s.onSend()
	}
	if s.err != nil {
		return s.err
	}
	s.changes = append(s.changes, change)
	return nil
}

type testEnv struct {
	db          *database.SQLiteManager
	store       *groupstate.Store
	runner      *jobs.Runner
	processor   *Processor
	poller      *recordingPoller
	notifier    *recordingNotifier
	sender      *recordingSender
	groupSender *recordingGroupSender
	journal     *recovery.Journal
	group       *crypto.KeyPair
	groupID     string
	userID      string
}

func setupTestEnv(t *testing.T) *testEnv {
	t.Helper()
	return setupTestEnvAs(t, localUser)
}

func setupTestEnvAs(t *testing.T, userID string) *testEnv {
	t.Helper()

	cm := utils.NewConfigManagerFromMap(utils.Config{
		"job_poll_interval": "1ms",
		"job_max_failures":  "3",
	})
	logger := utils.NewLogsManagerWithWriter(cm, io.Discard)

	db, err := database.OpenSQLite(":memory:", logger)
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	group, err := crypto.GenerateKeypair()
	if err != nil {
		t.Fatalf("Failed to generate group key: %v", err)
	}

	keyring.MockInit()

	env := &testEnv{
		db:          db,
		store:       groupstate.NewStore(logger, true),
		runner:      jobs.NewRunner(db, cm, logger),
		poller:      &recordingPoller{},
		notifier:    &recordingNotifier{},
		sender:      &recordingSender{},
		groupSender: &recordingGroupSender{},
		journal:     recovery.NewJournal(t.TempDir(), keystore.NewKeyringStore("secure-groups-test"), cm, logger),
		group:       group,
		groupID:     group.GroupSessionID(),
		userID:      userID,
	}

	gctx := NewContext(cm)
	env.processor = NewProcessor(Dependencies{
		Store:     env.store,
		Verifier:  NewVerifier(crypto.DefaultProvider{}, gctx),
		Context:   gctx,
		Scheduler: env.runner,
		Poller:    env.poller,
		Notifier:  env.notifier,
		Logger:    logger,
		UserID:    userID,
	})

	NewJobHandlers(JobDependencies{
		DB:          db,
		Store:       env.store,
		Context:     gctx,
		Scheduler:   env.runner,
		Sender:      env.sender,
		GroupSender: env.groupSender,
		Journal:     env.journal,
		Logger:      logger,
		UserID:      userID,
		PictureDir:  t.TempDir(),
	}).Register(env.runner)

	return env
}

func (env *testEnv) apply(threadID string, variant database.ThreadVariant, cmd messages.Command) error {
	return env.db.Write(func(tx *database.Tx) error {
		return env.processor.HandleGroupUpdateMessage(tx, threadID, variant, cmd)
	})
}

func (env *testEnv) read(t *testing.T, fn func(tx *database.Tx) error) {
	t.Helper()
	if err := env.db.Read(fn); err != nil {
		t.Fatalf("Read failed: %v", err)
	}
}

func (env *testEnv) invite(sender string, ts uint64) *messages.Invite {
	cmd := &messages.Invite{
		Base:            messages.Base{Sender: sender, SentTimestampMs: ts},
		GroupSessionID:  env.groupID,
		GroupName:       "TestGroup",
		MemberSessionID: env.userID,
		MemberAuthData:  []byte("auth-data"),
	}
	messages.Sign(cmd, env.group.PrivateKey)
	return cmd
}

// setupAdminGroup makes the local user admin of env.group with bob as a
// standard member
func (env *testEnv) setupAdminGroup(t *testing.T, bobStatus database.RoleStatus) {
	t.Helper()
	err := env.db.Write(func(tx *database.Tx) error {
		if _, err := tx.InsertThreadIfMissing(&database.SessionThread{ID: env.groupID, Variant: database.ThreadGroup}); err != nil {
			return err
		}
		if err := tx.UpsertClosedGroup(&database.ClosedGroup{
			ThreadID:                env.groupID,
			Name:                    "TestGroup",
			ShouldPoll:              true,
			GroupIdentityPrivateKey: env.group.PrivateKey,
		}); err != nil {
			return err
		}
		for _, m := range []*database.GroupMember{
			{GroupID: env.groupID, ProfileID: localUser, Role: database.RoleAdmin, RoleStatus: database.StatusAccepted},
			{GroupID: env.groupID, ProfileID: bob, Role: database.RoleStandard, RoleStatus: bobStatus},
		} {
			if err := tx.UpsertGroupMember(m); err != nil {
				return err
			}
		}
		return env.store.CreateGroup(tx, env.groupID,
			groupstate.Info{Name: "TestGroup"},
			groupstate.Keys{AdminSeed: env.group.Seed()},
			[]groupstate.Member{
				{SessionID: localUser, Role: database.RoleAdmin, Status: database.StatusAccepted},
				{SessionID: bob, Role: database.RoleStandard, Status: bobStatus},
			})
	})
	if err != nil {
		t.Fatalf("Failed to set up admin group: %v", err)
	}
}

func TestInviteFromUnapprovedSender(t *testing.T) {
	env := setupTestEnvAs(t, "TestId")

	if err := env.apply(alice, database.ThreadContact, env.invite(alice, 1000)); err != nil {
		t.Fatalf("Invite failed: %v", err)
	}

	env.read(t, func(tx *database.Tx) error {
		threads, err := tx.CountThreads()
		if err != nil {
			return err
		}
		if threads != 1 {
			t.Errorf("Expected 1 thread, got %d", threads)
		}

		group, err := tx.FetchClosedGroup(env.groupID)
		if err != nil {
			return err
		}
		if group == nil || !group.Invited || group.ShouldPoll {
			t.Errorf("Expected an invited, non-polling group, got %+v", group)
		}
		if string(group.AuthData) != "auth-data" {
			t.Errorf("Auth data not stored")
		}

		if n := len(env.store.UserGroups(tx)); n != 1 {
			t.Errorf("Expected 1 user group, got %d", n)
		}
		if !env.store.UserGroup(tx, env.groupID).Invited {
			t.Errorf("User group should mirror the invited state")
		}

		state, err := env.store.Group(tx, env.groupID)
		if err != nil {
			return err
		}
		if len(state.Members) != 1 {
			t.Errorf("Expected roster of 1, got %d", len(state.Members))
		}
		return nil
	})

	if len(env.poller.started) != 0 {
		t.Errorf("Unapproved invite must not start polling")
	}
	if len(env.notifier.invites) != 1 || env.notifier.invites[0] != "TestGroup" {
		t.Errorf("Expected one invite notification, got %v", env.notifier.invites)
	}
}

func TestInviteFromApprovedSenderStartsPolling(t *testing.T) {
	env := setupTestEnv(t)

	err := env.db.Write(func(tx *database.Tx) error {
		if err := tx.SetPushToken("device-token"); err != nil {
			return err
		}
		return tx.UpsertContact(&database.Contact{ID: alice, IsApproved: true})
	})
	if err != nil {
		t.Fatalf("Setup failed: %v", err)
	}

	if err := env.apply(alice, database.ThreadContact, env.invite(alice, 1000)); err != nil {
		t.Fatalf("Invite failed: %v", err)
	}

	env.read(t, func(tx *database.Tx) error {
		group, err := tx.FetchClosedGroup(env.groupID)
		if err != nil {
			return err
		}
		if group.Invited || !group.ShouldPoll {
			t.Errorf("Expected an approved, polling group, got %+v", group)
		}

		subs, err := tx.ListJobs(string(jobs.VariantPushNotificationSubscription))
		if err != nil {
			return err
		}
		if len(subs) != 1 {
			t.Errorf("Expected 1 push subscription job, got %d", len(subs))
		}
		return nil
	})

	if len(env.poller.started) != 1 || env.poller.started[0] != env.groupID {
		t.Errorf("Expected polling to start for the group, got %v", env.poller.started)
	}
	if len(env.notifier.invites) != 0 {
		t.Errorf("Approved invite should not notify")
	}
}

func TestInviteIsIdempotent(t *testing.T) {
	env := setupTestEnv(t)

	for i := 0; i < 2; i++ {
		if err := env.apply(alice, database.ThreadContact, env.invite(alice, 1000)); err != nil {
			t.Fatalf("Invite %d failed: %v", i, err)
		}
	}

	env.read(t, func(tx *database.Tx) error {
		threads, _ := tx.CountThreads()
		invites, _ := tx.CountInteractions(env.groupID, database.InteractionInfoGroupInvited)
		if threads != 1 || invites != 1 {
			t.Errorf("Expected 1 thread and 1 invite message, got %d and %d", threads, invites)
		}
		if n := len(env.store.UserGroups(tx)); n != 1 {
			t.Errorf("Expected 1 user group, got %d", n)
		}
		return nil
	})
}

func TestBadSignatureChangesNothing(t *testing.T) {
	env := setupTestEnv(t)

	cmd := env.invite(alice, 1000)
	cmd.AdminSignature[0] ^= 0xff

	err := env.apply(alice, database.ThreadContact, cmd)
	if !errors.Is(err, messages.ErrInvalidMessage) {
		t.Fatalf("Expected ErrInvalidMessage, got %v", err)
	}

	env.read(t, func(tx *database.Tx) error {
		threads, _ := tx.CountThreads()
		if threads != 0 {
			t.Errorf("Rejected invite created %d threads", threads)
		}
		if n := len(env.store.UserGroups(tx)); n != 0 {
			t.Errorf("Rejected invite created %d user groups", n)
		}
		return nil
	})
}

func TestPromoteAlwaysEndsAcceptedAdmin(t *testing.T) {
	tests := []struct {
		name   string
		role   database.GroupRole
		status database.RoleStatus
	}{
		{"standard accepted", database.RoleStandard, database.StatusAccepted},
		{"admin pending", database.RoleAdmin, database.StatusPending},
		{"admin sending", database.RoleAdmin, database.StatusSending},
		{"admin failed", database.RoleAdmin, database.StatusFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := setupTestEnv(t)
			if err := env.apply(alice, database.ThreadContact, env.invite(alice, 1000)); err != nil {
				t.Fatalf("Invite failed: %v", err)
			}
			err := env.db.Write(func(tx *database.Tx) error {
				return tx.UpsertGroupMember(&database.GroupMember{
					GroupID: env.groupID, ProfileID: localUser, Role: tt.role, RoleStatus: tt.status,
				})
			})
			if err != nil {
				t.Fatalf("Setup failed: %v", err)
			}

			promote := &messages.Promote{
				Base:              messages.Base{Sender: alice, SentTimestampMs: 2000},
				GroupSessionID:    env.groupID,
				GroupIdentitySeed: env.group.Seed(),
				GroupName:         "TestGroup",
			}
			if err := env.apply(alice, database.ThreadContact, promote); err != nil {
				t.Fatalf("Promote failed: %v", err)
			}

			env.read(t, func(tx *database.Tx) error {
				member, err := tx.FetchGroupMember(env.groupID, localUser)
				if err != nil {
					return err
				}
				if member.Role != database.RoleAdmin || member.RoleStatus != database.StatusAccepted {
					t.Errorf("Expected admin/accepted, got %s/%s", member.Role, member.RoleStatus)
				}

				group, err := tx.FetchClosedGroup(env.groupID)
				if err != nil {
					return err
				}
				if !group.IsAdmin() || group.AuthData != nil {
					t.Errorf("Expected admin key without auth data")
				}

				state, err := env.store.Group(tx, env.groupID)
				if err != nil {
					return err
				}
				if !state.IsAdmin() || state.Members[localUser].Role != database.RoleAdmin {
					t.Errorf("Replicated state not promoted: %+v", state.Members[localUser])
				}
				return nil
			})
		})
	}
}

func TestPromoteWithWrongSeedIsRejected(t *testing.T) {
	env := setupTestEnv(t)

	other, _ := crypto.GenerateKeypair()
	promote := &messages.Promote{
		Base:              messages.Base{Sender: alice, SentTimestampMs: 2000},
		GroupSessionID:    env.groupID,
		GroupIdentitySeed: other.Seed(),
	}
	if err := env.apply(alice, database.ThreadContact, promote); !errors.Is(err, messages.ErrInvalidMessage) {
		t.Fatalf("Expected ErrInvalidMessage, got %v", err)
	}
}

func TestGroupDeleteGenerationCheck(t *testing.T) {
	setup := func(t *testing.T) *testEnv {
		env := setupTestEnv(t)
		if err := env.apply(alice, database.ThreadContact, env.invite(alice, 1000)); err != nil {
			t.Fatalf("Invite failed: %v", err)
		}
		err := env.db.Write(func(tx *database.Tx) error {
			if err := tx.UpsertClosedGroup(&database.ClosedGroup{
				ThreadID: env.groupID, Name: "TestGroup", ShouldPoll: true, AuthData: []byte("auth-data"),
			}); err != nil {
				return err
			}
			for _, id := range []string{localUser, alice} {
				if err := tx.UpsertGroupMember(&database.GroupMember{
					GroupID: env.groupID, ProfileID: id, Role: database.RoleStandard, RoleStatus: database.StatusAccepted,
				}); err != nil {
					return err
				}
			}
			return env.store.Mutate(tx, env.groupID, func(g *groupstate.Group) error {
				g.Keys.Generation = 5
				g.Members[alice] = groupstate.Member{SessionID: alice, Role: database.RoleAdmin, Status: database.StatusAccepted}
				return nil
			})
		})
		if err != nil {
			t.Fatalf("Setup failed: %v", err)
		}
		return env
	}

	kick := func(t *testing.T, env *testEnv, member string, generation int64) error {
		plaintext, err := messages.EncodeKick(member, generation)
		if err != nil {
			t.Fatalf("EncodeKick failed: %v", err)
		}
		return env.db.Write(func(tx *database.Tx) error {
			return env.processor.HandleGroupDelete(tx, env.groupID, plaintext)
		})
	}

	type snapshot struct {
		shouldPoll   bool
		kicked       bool
		interactions int
		memberRows   int
		roster       int
	}
	take := func(t *testing.T, env *testEnv) snapshot {
		var snap snapshot
		env.read(t, func(tx *database.Tx) error {
			group, err := tx.FetchClosedGroup(env.groupID)
			if err != nil {
				return err
			}
			if group == nil {
				t.Fatalf("Group thread missing")
			}
			snap.shouldPoll = group.ShouldPoll
			snap.kicked = env.store.WasKicked(tx, env.groupID)
			all, err := tx.ListInteractions(env.groupID)
			if err != nil {
				return err
			}
			snap.interactions = len(all)
			rows, err := tx.GetGroupMembers(env.groupID)
			if err != nil {
				return err
			}
			snap.memberRows = len(rows)
			if state, _ := env.store.Group(tx, env.groupID); state != nil {
				snap.roster = len(state.Members)
			}
			return nil
		})
		return snap
	}

	rejected := []struct {
		name       string
		member     string
		generation int64
	}{
		{"generation zero", localUser, 0},
		{"generation one", localUser, 1},
		{"one behind current", localUser, 4},
		{"addressed to another member", bob, 5},
	}

	for _, tt := range rejected {
		t.Run(tt.name, func(t *testing.T) {
			env := setup(t)
			before := take(t, env)
			if !before.shouldPoll || before.kicked || before.interactions == 0 || before.memberRows != 2 || before.roster != 2 {
				t.Fatalf("Unexpected starting state: %+v", before)
			}

			if err := kick(t, env, tt.member, tt.generation); !errors.Is(err, messages.ErrInvalidMessage) {
				t.Fatalf("Expected ErrInvalidMessage, got %v", err)
			}

			if after := take(t, env); after != before {
				t.Fatalf("Rejected kick changed state: before %+v, after %+v", before, after)
			}
			if len(env.poller.stopped) != 0 {
				t.Fatalf("Rejected kick stopped polling: %v", env.poller.stopped)
			}
		})
	}

	t.Run("current generation", func(t *testing.T) {
		env := setup(t)
		if err := kick(t, env, localUser, 5); err != nil {
			t.Fatalf("Current kick failed: %v", err)
		}

		env.read(t, func(tx *database.Tx) error {
			group, err := tx.FetchClosedGroup(env.groupID)
			if err != nil {
				return err
			}
			if group == nil {
				t.Fatalf("A joined group keeps its thread after a kick")
			}
			if group.ShouldPoll || group.AuthData != nil {
				t.Fatalf("Expected polling off and credentials wiped, got %+v", group)
			}
			if n, _ := tx.CountInteractions(env.groupID, database.InteractionInfoGroupInvited); n != 0 {
				t.Fatalf("Expected interactions wiped, %d left", n)
			}
			if rows, _ := tx.GetGroupMembers(env.groupID); len(rows) != 0 {
				t.Fatalf("Expected member rows wiped, %d left", len(rows))
			}
			if !env.store.WasKicked(tx, env.groupID) {
				t.Fatalf("Expected user group marked as kicked")
			}
			if state, _ := env.store.Group(tx, env.groupID); state != nil {
				t.Fatalf("Expected replicated state removed")
			}
			return nil
		})

		if len(env.poller.stopped) != 1 {
			t.Fatalf("Expected polling to stop once, got %v", env.poller.stopped)
		}
	})
}

func TestGroupDeleteRemovesInvitedGroup(t *testing.T) {
	env := setupTestEnv(t)

	if err := env.apply(alice, database.ThreadContact, env.invite(alice, 1000)); err != nil {
		t.Fatalf("Invite failed: %v", err)
	}

	plaintext, _ := messages.EncodeKick(localUser, 0)
	err := env.apply(env.groupID, database.ThreadGroup, &messages.GroupDelete{
		Base:      messages.Base{Sender: alice, SentTimestampMs: 3000},
		Plaintext: plaintext,
	})
	if err != nil {
		t.Fatalf("GroupDelete failed: %v", err)
	}

	env.read(t, func(tx *database.Tx) error {
		if exists, _ := tx.ThreadExists(env.groupID); exists {
			t.Errorf("Invited group thread should be deleted")
		}
		return nil
	})
}

func TestSelfDeleteOnlyTouchesOwnMessages(t *testing.T) {
	env := setupTestEnv(t)
	env.setupAdminGroup(t, database.StatusAccepted)

	err := env.db.Write(func(tx *database.Tx) error {
		for _, i := range []*database.Interaction{
			{ThreadID: env.groupID, AuthorID: alice, Body: "a1", TimestampMs: 100, ServerHash: "ha1"},
			{ThreadID: env.groupID, AuthorID: alice, Body: "a2", TimestampMs: 900, ServerHash: "ha2"},
			{ThreadID: env.groupID, AuthorID: bob, Body: "b1", TimestampMs: 100, ServerHash: "hb1"},
		} {
			if err := tx.InsertInteraction(i); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Setup failed: %v", err)
	}

	// Unsigned: names bob and bob's hash, but may only remove alice's content
	// sent before the command
	cmd := &messages.DeleteMemberContent{
		Base:             messages.Base{Sender: alice, SentTimestampMs: 500},
		MemberSessionIDs: []string{alice, bob},
		MessageHashes:    []string{"hb1"},
	}
	if err := env.apply(env.groupID, database.ThreadGroup, cmd); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}

	env.read(t, func(tx *database.Tx) error {
		remaining, err := tx.ListInteractions(env.groupID)
		if err != nil {
			return err
		}
		bodies := map[string]bool{}
		for _, i := range remaining {
			bodies[i.Body] = true
		}
		if bodies["a1"] || !bodies["a2"] || !bodies["b1"] {
			t.Errorf("Unexpected remaining interactions: %v", bodies)
		}

		deletes, err := tx.ListJobs(string(jobs.VariantDeleteGroupSwarmMessages))
		if err != nil {
			return err
		}
		if len(deletes) != 1 {
			t.Fatalf("Expected a swarm delete job, got %d", len(deletes))
		}
		var details jobs.SwarmDeleteDetails
		if err := jobs.Decode(deletes[0], &details); err != nil {
			return err
		}
		if len(details.MessageHashes) != 1 || details.MessageHashes[0] != "ha1" {
			t.Errorf("Expected only alice's hash scheduled, got %v", details.MessageHashes)
		}
		return nil
	})

	// Admin-signed removes bob's content as well
	signed := &messages.DeleteMemberContent{
		Base:             messages.Base{Sender: localUser, SentTimestampMs: 500},
		MemberSessionIDs: []string{bob},
	}
	messages.Sign(signed, env.group.PrivateKey)
	if err := env.apply(env.groupID, database.ThreadGroup, signed); err != nil {
		t.Fatalf("Admin delete failed: %v", err)
	}

	env.read(t, func(tx *database.Tx) error {
		remaining, _ := tx.ListInteractions(env.groupID)
		if len(remaining) != 1 || remaining[0].Body != "a2" {
			t.Errorf("Expected only a2 to remain, got %d rows", len(remaining))
		}
		return nil
	})
}

func TestMemberLeftIsConvergedByJob(t *testing.T) {
	env := setupTestEnv(t)
	env.setupAdminGroup(t, database.StatusAccepted)

	left := &messages.MemberLeft{Base: messages.Base{Sender: bob, SentTimestampMs: 4000}}
	if err := env.apply(env.groupID, database.ThreadGroup, left); err != nil {
		t.Fatalf("MemberLeft failed: %v", err)
	}

	env.read(t, func(tx *database.Tx) error {
		if n, _ := tx.CountInteractions(env.groupID, database.InteractionInfoGroupMemberLeft); n != 1 {
			t.Errorf("Expected 1 member-left message, got %d", n)
		}
		if m, _ := tx.FetchGroupMember(env.groupID, bob); m == nil {
			t.Errorf("Roster row must stay until the removal job runs")
		}
		state, _ := env.store.Group(tx, env.groupID)
		if state.Members[bob].Removal != groupstate.Removed {
			t.Errorf("Expected bob flagged for removal")
		}

		pending, err := tx.ListJobs(string(jobs.VariantProcessPendingGroupMemberRemovals))
		if err != nil {
			return err
		}
		if len(pending) != 1 {
			t.Fatalf("Expected one removal job, got %d", len(pending))
		}
		var details jobs.PendingRemovalsDetails
		if err := jobs.Decode(pending[0], &details); err != nil {
			t.Fatalf("Decode failed: %v", err)
		}
		if details.GroupID != env.groupID || details.ChangeTimestampMs != 4000 {
			t.Fatalf("Expected job for %s at 4000, got %+v", env.groupID, details)
		}
		return nil
	})

	if len(env.groupSender.changes) != 0 {
		t.Fatalf("Expected nothing sent before the job runs, got %d", len(env.groupSender.changes))
	}

	// A failed send leaves the roster flagged for the retry
	env.groupSender.err = errors.New("offline")
	if _, err := env.runner.RunDue(context.Background()); err != nil {
		t.Fatalf("RunDue failed: %v", err)
	}
	env.read(t, func(tx *database.Tx) error {
		state, _ := env.store.Group(tx, env.groupID)
		if _, ok := state.Members[bob]; !ok {
			t.Errorf("Member erased although the announcement failed")
		}
		return nil
	})

	env.groupSender.err = nil
	err := env.db.Write(func(tx *database.Tx) error {
		pending, err := tx.ListJobs(string(jobs.VariantProcessPendingGroupMemberRemovals))
		if err != nil {
			return err
		}
		if len(pending) != 1 {
			t.Fatalf("Expected the removal job to be rescheduled, got %d", len(pending))
		}
		return tx.RescheduleJob(pending[0].ID, pending[0].FailureCount, 0)
	})
	if err != nil {
		t.Fatalf("Reschedule failed: %v", err)
	}
	if _, err := env.runner.RunDue(context.Background()); err != nil {
		t.Fatalf("RunDue failed: %v", err)
	}

	env.read(t, func(tx *database.Tx) error {
		if m, _ := tx.FetchGroupMember(env.groupID, bob); m != nil {
			t.Errorf("Expected bob's roster row removed")
		}
		state, _ := env.store.Group(tx, env.groupID)
		if _, ok := state.Members[bob]; ok {
			t.Errorf("Expected bob erased from replicated roster")
		}
		return nil
	})

	if len(env.groupSender.changes) != 1 {
		t.Fatalf("Expected one member change sent, got %d", len(env.groupSender.changes))
	}
	change := env.groupSender.changes[0]
	if change.ChangeType != messages.MemberRemoved || !env.group.Verify(change.SignaturePayload(), change.Signature()) {
		t.Errorf("Member change not a signed removal: %+v", change)
	}
}

func TestPendingRemovalsSparesReaddedMembers(t *testing.T) {
	tests := []struct {
		name       string
		readd      bool
		wantErased bool
	}{
		{"still flagged when the job writes", false, true},
		{"re-added while the announcement is sent", true, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := setupTestEnv(t)
			env.setupAdminGroup(t, database.StatusAccepted)

			left := &messages.MemberLeft{Base: messages.Base{Sender: bob, SentTimestampMs: 4000}}
			if err := env.apply(env.groupID, database.ThreadGroup, left); err != nil {
				t.Fatalf("MemberLeft failed: %v", err)
			}

			if tt.readd {
				env.groupSender.onSend = func() {
					err := env.db.Write(func(tx *database.Tx) error {
						return env.store.Mutate(tx, env.groupID, func(g *groupstate.Group) error {
							m := g.Members[bob]
							m.Removal = groupstate.NotRemoved
							g.Members[bob] = m
							return nil
						})
					})
					if err != nil {
						t.Errorf("Re-add failed: %v", err)
					}
				}
			}

			if _, err := env.runner.RunDue(context.Background()); err != nil {
				t.Fatalf("RunDue failed: %v", err)
			}
			if len(env.groupSender.changes) != 1 {
				t.Fatalf("Expected one member change sent, got %d", len(env.groupSender.changes))
			}

			env.read(t, func(tx *database.Tx) error {
				row, _ := tx.FetchGroupMember(env.groupID, bob)
				state, _ := env.store.Group(tx, env.groupID)
				member, inRoster := state.Members[bob]
				updates, _ := tx.CountInteractions(env.groupID, database.InteractionInfoGroupMembersUpdated)

				if tt.wantErased {
					if row != nil || inRoster || updates != 1 {
						t.Fatalf("Expected bob erased with one update message, row %v roster %v updates %d", row, inRoster, updates)
					}
					return nil
				}
				if row == nil || !inRoster || member.Removal != groupstate.NotRemoved {
					t.Fatalf("Expected re-added bob kept, row %v member %+v", row, member)
				}
				if updates != 0 {
					t.Fatalf("Expected no removal message, got %d", updates)
				}
				return nil
			})
		})
	}
}

func TestRemovalAnnouncementIsJournaledWhileSending(t *testing.T) {
	tests := []struct {
		name    string
		sendErr error
	}{
		{"send succeeds", nil},
		{"send fails", errors.New("offline")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := setupTestEnv(t)
			env.setupAdminGroup(t, database.StatusAccepted)

			left := &messages.MemberLeft{Base: messages.Base{Sender: bob, SentTimestampMs: 4000}}
			if err := env.apply(env.groupID, database.ThreadGroup, left); err != nil {
				t.Fatalf("MemberLeft failed: %v", err)
			}

			inFlight := -1
			env.groupSender.err = tt.sendErr
			env.groupSender.onSend = func() {
				entries, err := env.journal.List()
				if err != nil {
					t.Errorf("List failed: %v", err)
				}
				inFlight = len(entries)
			}

			if _, err := env.runner.RunDue(context.Background()); err != nil {
				t.Fatalf("RunDue failed: %v", err)
			}
			if inFlight != 1 {
				t.Fatalf("Expected one journal entry during the send, got %d", inFlight)
			}

			entries, err := env.journal.List()
			if err != nil {
				t.Fatalf("List failed: %v", err)
			}
			if len(entries) != 0 {
				t.Fatalf("Expected the journal entry removed after the send, got %d", len(entries))
			}

			var replayed []recovery.Record
			if _, err := env.journal.Replay(context.Background(), func(ctx context.Context, r recovery.Record) error {
				replayed = append(replayed, r)
				return nil
			}); err != nil {
				t.Fatalf("Replay failed: %v", err)
			}
			if len(replayed) != 0 {
				t.Fatalf("Expected nothing to replay, got %d records", len(replayed))
			}
		})
	}
}

func TestInviteResponseAcceptsPendingMember(t *testing.T) {
	tests := []struct {
		name   string
		status database.RoleStatus
		want   database.RoleStatus
	}{
		{"pending", database.StatusPending, database.StatusAccepted},
		{"failed", database.StatusFailed, database.StatusAccepted},
		{"sending untouched", database.StatusSending, database.StatusSending},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := setupTestEnv(t)
			env.setupAdminGroup(t, tt.status)

			resp := &messages.InviteResponse{
				Base:        messages.Base{Sender: bob, SentTimestampMs: 5000},
				IsApproved:  true,
				ProfileName: "Bob",
			}
			if err := env.apply(env.groupID, database.ThreadGroup, resp); err != nil {
				t.Fatalf("InviteResponse failed: %v", err)
			}

			env.read(t, func(tx *database.Tx) error {
				m, err := tx.FetchGroupMember(env.groupID, bob)
				if err != nil {
					return err
				}
				if m.RoleStatus != tt.want || m.Role != database.RoleStandard {
					t.Errorf("Expected standard/%s, got %s/%s", tt.want, m.Role, m.RoleStatus)
				}
				profile, _ := tx.FetchProfile(bob)
				if profile == nil || profile.Name != "Bob" {
					t.Errorf("Expected profile name stored")
				}
				return nil
			})
		})
	}
}

func TestVisibleMessageAcceptsPendingMember(t *testing.T) {
	env := setupTestEnv(t)
	env.setupAdminGroup(t, database.StatusPending)

	msg := &messages.VisibleMessage{
		Base:       messages.Base{Sender: bob, SentTimestampMs: 6000},
		Body:       "hello",
		ServerHash: "h1",
	}
	err := env.db.Write(func(tx *database.Tx) error {
		return env.processor.HandleVisibleMessage(tx, env.groupID, database.ThreadGroup, msg)
	})
	if err != nil {
		t.Fatalf("HandleVisibleMessage failed: %v", err)
	}

	env.read(t, func(tx *database.Tx) error {
		m, _ := tx.FetchGroupMember(env.groupID, bob)
		if m.RoleStatus != database.StatusAccepted {
			t.Errorf("Expected bob accepted, got %s", m.RoleStatus)
		}
		state, _ := env.store.Group(tx, env.groupID)
		if state.Members[bob].Status != database.StatusAccepted {
			t.Errorf("Replicated roster not updated")
		}
		return nil
	})
}

func TestMemberChangeNamesMembers(t *testing.T) {
	env := setupTestEnv(t)
	env.setupAdminGroup(t, database.StatusAccepted)

	err := env.db.Write(func(tx *database.Tx) error {
		return tx.UpsertProfile(&database.Profile{ID: bob, Name: "Bob", LastUpdated: 1})
	})
	if err != nil {
		t.Fatalf("Setup failed: %v", err)
	}

	change := &messages.MemberChange{
		Base:             messages.Base{Sender: localUser, SentTimestampMs: 7000},
		ChangeType:       messages.MemberAdded,
		MemberSessionIDs: []string{bob, alice},
	}
	messages.Sign(change, env.group.PrivateKey)
	if err := env.apply(env.groupID, database.ThreadGroup, change); err != nil {
		t.Fatalf("MemberChange failed: %v", err)
	}

	env.read(t, func(tx *database.Tx) error {
		rows, _ := tx.ListInteractions(env.groupID)
		if len(rows) != 1 {
			t.Fatalf("Expected 1 info message, got %d", len(rows))
		}
		want := "Bob and 05aa...0001 were invited to the group."
		if rows[0].Body != want {
			t.Errorf("Expected %q, got %q", want, rows[0].Body)
		}
		return nil
	})
}

func TestInfoChangeDisappearingMessages(t *testing.T) {
	tests := []struct {
		name        string
		expiration  int64
		wantEnabled bool
		wantBody    string
	}{
		{"enabled", 3600, true, "05cc...0000 has set messages to disappear 1h0m0s after they have been sent."},
		{"disabled", 0, false, "05cc...0000 has turned disappearing messages off."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := setupTestEnv(t)
			env.setupAdminGroup(t, database.StatusAccepted)

			change := &messages.InfoChange{
				Base:              messages.Base{Sender: localUser, SentTimestampMs: 8000},
				ChangeType:        messages.InfoChangeDisappearingMessages,
				UpdatedExpiration: tt.expiration,
			}
			messages.Sign(change, env.group.PrivateKey)
			if err := env.apply(env.groupID, database.ThreadGroup, change); err != nil {
				t.Fatalf("InfoChange failed: %v", err)
			}

			env.read(t, func(tx *database.Tx) error {
				thread, _ := tx.FetchThread(env.groupID)
				if thread.DisappearingEnabled != tt.wantEnabled || thread.DisappearingDuration != tt.expiration {
					t.Errorf("Unexpected thread config: enabled=%v duration=%d", thread.DisappearingEnabled, thread.DisappearingDuration)
				}

				group, _ := env.store.Group(tx, env.groupID)
				if group.Info.DisappearingDuration != tt.expiration {
					t.Errorf("Expected replicated duration %d, got %d", tt.expiration, group.Info.DisappearingDuration)
				}

				rows, _ := tx.ListInteractions(env.groupID)
				if len(rows) != 1 || rows[0].Variant != database.InteractionInfoDisappearingMessagesUpdate {
					t.Fatalf("Expected one disappearing info message, got %+v", rows)
				}
				if rows[0].Body != tt.wantBody {
					t.Errorf("Expected %q, got %q", tt.wantBody, rows[0].Body)
				}
				return nil
			})
		})
	}
}

func TestGroupScopedCommandOutsideGroupThread(t *testing.T) {
	env := setupTestEnv(t)

	left := &messages.MemberLeft{Base: messages.Base{Sender: bob, SentTimestampMs: 1}}
	if err := env.apply(bob, database.ThreadContact, left); !errors.Is(err, messages.ErrInvalidMessage) {
		t.Fatalf("Expected ErrInvalidMessage, got %v", err)
	}
}

func TestReinviteAfterKick(t *testing.T) {
	env := setupTestEnv(t)

	err := env.db.Write(func(tx *database.Tx) error {
		return tx.UpsertContact(&database.Contact{ID: alice, IsApproved: true})
	})
	if err != nil {
		t.Fatalf("Setup failed: %v", err)
	}
	if err := env.apply(alice, database.ThreadContact, env.invite(alice, 1000)); err != nil {
		t.Fatalf("Invite failed: %v", err)
	}

	plaintext, _ := messages.EncodeKick(localUser, 0)
	err = env.db.Write(func(tx *database.Tx) error {
		return env.processor.HandleGroupDelete(tx, env.groupID, plaintext)
	})
	if err != nil {
		t.Fatalf("Kick failed: %v", err)
	}

	if err := env.apply(alice, database.ThreadContact, env.invite(alice, 8000)); err != nil {
		t.Fatalf("Re-invite failed: %v", err)
	}

	env.read(t, func(tx *database.Tx) error {
		if env.store.WasKicked(tx, env.groupID) {
			t.Errorf("Re-invite should clear the kicked flag")
		}
		group, _ := tx.FetchClosedGroup(env.groupID)
		if group == nil || !group.ShouldPoll || string(group.AuthData) != "auth-data" {
			t.Errorf("Expected the group restored, got %+v", group)
		}
		return nil
	})
}
