package core

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/zalando/go-keyring"

	"github.com/Trustflow-Network-Labs/secure-groups/internal/crypto/keystore"
	"github.com/Trustflow-Network-Labs/secure-groups/internal/database"
	"github.com/Trustflow-Network-Labs/secure-groups/internal/groups/messages"
	"github.com/Trustflow-Network-Labs/secure-groups/internal/jobs"
	"github.com/Trustflow-Network-Labs/secure-groups/internal/recovery"
	"github.com/Trustflow-Network-Labs/secure-groups/internal/utils"
)

func setupTestNode(t *testing.T, inbound recovery.Handler) *Node {
	t.Helper()

	t.Setenv(utils.HomeEnv, t.TempDir())
	keyring.MockInit()
	return openTestNode(t, inbound)
}

// openTestNode opens a node over the current home directory and keyring
func openTestNode(t *testing.T, inbound recovery.Handler) *Node {
	t.Helper()

	cm := utils.NewConfigManagerFromMap(utils.Config{"database_file": "node-test.db"})
	logger := utils.NewLogsManagerWithWriter(cm, io.Discard)

	n, err := NewNode(cm, logger, Options{
		Secrets: keystore.NewKeyringStore("secure-groups-test"),
		Inbound: inbound,
	})
	if err != nil {
		t.Fatalf("NewNode failed: %v", err)
	}
	t.Cleanup(func() { n.Stop() })
	return n
}

func TestReplayConfigSyncEnqueuesJob(t *testing.T) {
	n := setupTestNode(t, nil)

	err := n.replayRecord(context.Background(), recovery.Record{Variant: recovery.ConfigSync{PublicKey: "03abcd"}})
	if err != nil {
		t.Fatalf("replayRecord failed: %v", err)
	}

	n.DB().Read(func(tx *database.Tx) error {
		list, err := tx.ListJobs(string(jobs.VariantConfigurationSync))
		if err != nil {
			t.Fatalf("ListJobs failed: %v", err)
		}
		if len(list) != 1 {
			t.Errorf("Expected 1 config sync job, got %d", len(list))
		}
		return nil
	})
}

func TestReplayInboundRecords(t *testing.T) {
	var got []string
	n := setupTestNode(t, func(ctx context.Context, r recovery.Record) error {
		got = append(got, r.Kind())
		return nil
	})

	records := []recovery.Record{
		{Variant: recovery.IncomingMessage{RawEnvelope: []byte("envelope")}},
		{Variant: recovery.IncomingCall{ThreadID: "05ab", SentTimestampMs: 1}},
	}
	for _, r := range records {
		if err := n.replayRecord(context.Background(), r); err != nil {
			t.Fatalf("replayRecord failed: %v", err)
		}
	}

	if len(got) != 2 || got[0] != "incomingMessage" || got[1] != "incomingCall" {
		t.Errorf("Unexpected inbound records: %v", got)
	}
}

func TestResumePollingStartsPolledGroups(t *testing.T) {
	n := setupTestNode(t, nil)

	err := n.DB().Write(func(tx *database.Tx) error {
		for _, g := range []*database.ClosedGroup{
			{ThreadID: "03aa", Name: "polled", ShouldPoll: true},
			{ThreadID: "03bb", Name: "invited", Invited: true},
		} {
			if _, err := tx.InsertThreadIfMissing(&database.SessionThread{ID: g.ThreadID, Variant: database.ThreadGroup}); err != nil {
				return err
			}
			if err := tx.UpsertClosedGroup(g); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Setup failed: %v", err)
	}

	if err := n.resumePolling(); err != nil {
		t.Fatalf("resumePolling failed: %v", err)
	}

	active := n.poller.(*PollerRegistry).Active()
	if len(active) != 1 || active[0] != "03aa" {
		t.Errorf("Expected only 03aa polled, got %v", active)
	}
}

func TestSubmitGroupUpdateReportsRejection(t *testing.T) {
	tests := []struct {
		name     string
		envelope []byte
	}{
		{"without envelope", nil},
		{"with envelope", []byte("envelope")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n := setupTestNode(t, nil)

			done := make(chan error, 1)
			left := &messages.MemberLeft{Base: messages.Base{Sender: "05ab", SentTimestampMs: 1}}
			n.SubmitGroupUpdate("05ab", database.ThreadContact, left, tt.envelope, func(err error) { done <- err })

			if err := <-done; !errors.Is(err, messages.ErrInvalidMessage) {
				t.Fatalf("Expected ErrInvalidMessage, got %v", err)
			}

			entries, err := n.Journal().List()
			if err != nil {
				t.Fatalf("List failed: %v", err)
			}
			if len(entries) != 0 {
				t.Fatalf("Expected a rejected update to leave no journal entry, got %d", len(entries))
			}
		})
	}
}

func TestInterruptedGroupUpdateIsReplayed(t *testing.T) {
	var replayed [][]byte
	n := setupTestNode(t, nil)

	// Hold the writer so the update is still pending when the node stops
	started := make(chan struct{})
	release := make(chan struct{})
	n.DB().WriteAsync(func(tx *database.Tx) error {
		close(started)
		<-release
		return nil
	}, nil)
	<-started

	done := make(chan error, 1)
	left := &messages.MemberLeft{Base: messages.Base{Sender: "05ab", SentTimestampMs: 1}}
	n.SubmitGroupUpdate("05ab", database.ThreadContact, left, []byte("raw-envelope"), func(err error) { done <- err })

	entries, err := n.Journal().List()
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(entries) != 1 || !entries[0].Readable {
		t.Fatalf("Expected one readable entry while the update is pending, got %+v", entries)
	}

	if err := n.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	close(release)
	if err := <-done; err == nil || errors.Is(err, messages.ErrInvalidMessage) {
		t.Fatalf("Expected a storage failure after stop, got %v", err)
	}

	restarted := openTestNode(t, func(ctx context.Context, r recovery.Record) error {
		msg, ok := r.Variant.(recovery.IncomingMessage)
		if !ok {
			t.Fatalf("Expected an incoming message, got %s", r.Kind())
		}
		replayed = append(replayed, msg.RawEnvelope)
		return nil
	})
	if err := restarted.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	if len(replayed) != 1 || string(replayed[0]) != "raw-envelope" {
		t.Fatalf("Expected the pending envelope replayed once, got %q", replayed)
	}
	entries, err = restarted.Journal().List()
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("Expected the journal empty after replay, got %d entries", len(entries))
	}
}

func TestPollerRegistry(t *testing.T) {
	p := NewPollerRegistry(utils.NewLogsManagerWithWriter(utils.NewConfigManagerFromMap(nil), io.Discard))

	p.StartPolling("03bb")
	p.StartPolling("03aa")
	p.StartPolling("03aa")
	p.StopPolling("03bb")
	p.StopPolling("03cc")

	active := p.Active()
	if len(active) != 1 || active[0] != "03aa" {
		t.Errorf("Unexpected active groups: %v", active)
	}
}
