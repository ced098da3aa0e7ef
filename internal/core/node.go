package core

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/Trustflow-Network-Labs/secure-groups/internal/crypto"
	"github.com/Trustflow-Network-Labs/secure-groups/internal/crypto/keystore"
	"github.com/Trustflow-Network-Labs/secure-groups/internal/database"
	"github.com/Trustflow-Network-Labs/secure-groups/internal/events"
	"github.com/Trustflow-Network-Labs/secure-groups/internal/groups"
	"github.com/Trustflow-Network-Labs/secure-groups/internal/groups/messages"
	"github.com/Trustflow-Network-Labs/secure-groups/internal/groupstate"
	"github.com/Trustflow-Network-Labs/secure-groups/internal/jobs"
	"github.com/Trustflow-Network-Labs/secure-groups/internal/network"
	"github.com/Trustflow-Network-Labs/secure-groups/internal/recovery"
	"github.com/Trustflow-Network-Labs/secure-groups/internal/utils"
)

// PassphraseEnv holds the passphrase for the file secret store
const PassphraseEnv = "SECURE_GROUPS_KEYSTORE_PASSPHRASE"

// Options replaces the default collaborators of a Node
type Options struct {
	Poller      groups.Poller
	Notifier    groups.Notifier
	GroupSender groups.GroupMessageSender
	Secrets     keystore.SecretStore
	// Receives recovered inbound records; without it they are logged and dropped
	Inbound recovery.Handler
}

// Node wires storage, the group pipeline, the job queue and the recovery log
type Node struct {
	config    *utils.ConfigManager
	logger    *utils.LogsManager
	db        *database.SQLiteManager
	store     *groupstate.Store
	bus       *events.Bus
	runner    *jobs.Runner
	swarm     *network.SwarmClient
	journal   *recovery.Journal
	poller    groups.Poller
	processor *groups.Processor
	userID    string
	inbound   recovery.Handler

	ctx        context.Context
	cancel     context.CancelFunc
	mutex      sync.RWMutex
	running    bool
	startedAt  time.Time
	lastReplay recovery.ReplayStats
}

func NewNode(config *utils.ConfigManager, logger *utils.LogsManager, opts Options) (*Node, error) {
	db, err := database.NewSQLiteManager(config, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database manager: %v", err)
	}

	store := groupstate.NewStore(logger, config.GetConfigBool("debug_mode", false))
	var userID string
	err = db.Read(func(tx *database.Tx) error {
		if err := store.Load(tx); err != nil {
			return err
		}
		id, err := tx.GetLocalUserID()
		userID = id
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to load group state: %v", err)
	}
	if userID == "" {
		logger.Warn("No local user id configured; invites and kicks will be rejected", "core")
	}

	secrets := opts.Secrets
	if secrets == nil {
		secrets = NewSecretStore(config)
	}

	poller := opts.Poller
	if poller == nil {
		poller = NewPollerRegistry(logger)
	}
	notifier := opts.Notifier
	if notifier == nil {
		notifier = logNotifier{logger: logger}
	}

	paths := utils.GetAppPaths("")
	bus := events.NewBus(logger)
	runner := jobs.NewRunner(db, config, logger)
	swarm := network.NewSwarmClient(config, logger)
	gctx := groups.NewContext(config)

	processor := groups.NewProcessor(groups.Dependencies{
		Store:     store,
		Verifier:  groups.NewVerifier(crypto.DefaultProvider{}, gctx),
		Context:   gctx,
		Scheduler: runner,
		Poller:    poller,
		Notifier:  notifier,
		Bus:       bus,
		Logger:    logger,
		UserID:    userID,
	})

	journal := recovery.NewJournal(
		paths.GetRecoveryDir(config.GetConfigWithDefault("recovery_dir", "recovery")),
		secrets, config, logger)

	groups.NewJobHandlers(groups.JobDependencies{
		DB:          db,
		Store:       store,
		Context:     gctx,
		Scheduler:   runner,
		Sender:      swarm,
		GroupSender: opts.GroupSender,
		Logger:      logger,
		Journal:     journal,
		UserID:      userID,
		PictureDir:  filepath.Join(paths.DataDir, "pictures"),
	}).Register(runner)

	return &Node{
		config:    config,
		logger:    logger,
		db:        db,
		store:     store,
		bus:       bus,
		runner:    runner,
		swarm:     swarm,
		journal:   journal,
		poller:    poller,
		processor: processor,
		userID:    userID,
		inbound:   opts.Inbound,
	}, nil
}

// NewSecretStore picks the backend named by `keystore_backend`. The file
// backend reads its passphrase from the environment.
func NewSecretStore(config *utils.ConfigManager) keystore.SecretStore {
	if config.GetConfigWithDefault("keystore_backend", "keyring") == "file" {
		path := config.GetConfigWithDefault("keystore_file", "secrets.dat")
		if !filepath.IsAbs(path) {
			path = utils.GetAppPaths("").GetDataPath(path)
		}
		return keystore.NewFileStore(path, os.Getenv(PassphraseEnv))
	}
	return keystore.NewKeyringStore(config.GetConfigWithDefault("keyring_service", "secure-groups"))
}

// Start replays the recovery log, resumes polling and starts the job queue
func (n *Node) Start() error {
	n.mutex.Lock()
	defer n.mutex.Unlock()

	if n.running {
		return fmt.Errorf("node is already running")
	}
	n.ctx, n.cancel = context.WithCancel(context.Background())

	go n.bus.Run(n.ctx)

	n.lastReplay, _ = n.replayRecovery(n.ctx)

	if err := n.resumePolling(); err != nil {
		n.cancel()
		return err
	}

	n.runner.Start(n.ctx)
	go n.periodicMaintenance(n.config.GetConfigDuration("db_maintenance_interval", time.Hour))

	n.running = true
	n.startedAt = time.Now()
	return nil
}

// ReplayRecovery re-runs every entry of the recovery log. Start does this
// already; the CLI uses it against a stopped node.
func (n *Node) ReplayRecovery(ctx context.Context) (recovery.ReplayStats, error) {
	n.mutex.Lock()
	defer n.mutex.Unlock()
	return n.replayRecovery(ctx)
}

func (n *Node) replayRecovery(ctx context.Context) (recovery.ReplayStats, error) {
	stats, err := n.journal.Replay(ctx, n.replayRecord)
	if err != nil {
		if errors.Is(err, keystore.ErrKeySpecInaccessible) {
			n.logger.Error("Recovery log key is inaccessible; skipping replay", "core")
		} else {
			n.logger.Error(fmt.Sprintf("Recovery replay failed: %v", err), "core")
		}
	}
	n.logger.Info(fmt.Sprintf("Recovery replay: %d replayed, %d failed, %d skipped, %d dropped",
		stats.Replayed, stats.Failed, stats.Skipped, stats.Dropped), "core")
	return stats, err
}

func (n *Node) resumePolling() error {
	var polled []string
	err := n.db.Read(func(tx *database.Tx) error {
		list, err := tx.ListClosedGroups()
		if err != nil {
			return err
		}
		for _, g := range list {
			if g.ShouldPoll {
				polled = append(polled, g.ThreadID)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to list groups: %v", err)
	}

	for _, id := range polled {
		n.poller.StartPolling(id)
	}
	return nil
}

// replayRecord re-runs one recovered operation
func (n *Node) replayRecord(ctx context.Context, record recovery.Record) error {
	switch v := record.Variant.(type) {
	case recovery.ConfigSync:
		return n.db.Write(func(tx *database.Tx) error {
			_, err := n.runner.Enqueue(tx, jobs.VariantConfigurationSync, "", jobs.ConfigSyncDetails{PublicKey: v.PublicKey})
			return err
		})

	case recovery.OutgoingMessage:
		_, err := network.StoreMessage(ctx, n.swarm, v.Destination, v.Base64Ciphertext)
		return err
	}

	if n.inbound != nil {
		return n.inbound(ctx, record)
	}
	n.logger.Warn(fmt.Sprintf("No handler for recovered %s record, dropping it", record.Kind()), "core")
	return nil
}

func (n *Node) periodicMaintenance(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			n.db.PerformMaintenance()
		case <-n.ctx.Done():
			return
		}
	}
}

// Stop halts the job queue and releases storage and the swarm connection
func (n *Node) Stop() error {
	n.mutex.Lock()
	defer n.mutex.Unlock()

	if n.running {
		n.cancel()
		n.runner.Stop()
		n.running = false
	}

	n.swarm.Close()
	return n.db.Close()
}

// SubmitGroupUpdate applies a decoded group control message on a background
// write. completion, when set, receives the outcome after commit or rollback.
// rawEnvelope, when given, is kept in the recovery log until the message has
// been applied or rejected, so a stop in between replays it on the next start.
func (n *Node) SubmitGroupUpdate(threadID string, threadVariant database.ThreadVariant, cmd messages.Command, rawEnvelope []byte, completion func(error)) {
	var entry string
	if len(rawEnvelope) > 0 {
		name, err := n.journal.Append(recovery.Record{Variant: recovery.IncomingMessage{RawEnvelope: rawEnvelope}})
		if err != nil {
			n.logger.Warn(fmt.Sprintf("Failed to journal incoming group update: %v", err), "core")
		}
		entry = name
	}

	n.db.WriteAsync(func(tx *database.Tx) error {
		return n.processor.HandleGroupUpdateMessage(tx, threadID, threadVariant, cmd)
	}, func(err error) {
		// Storage failures keep the entry for the next replay
		if entry != "" && (err == nil || errors.Is(err, messages.ErrInvalidMessage)) {
			if rmErr := n.journal.Remove(entry); rmErr != nil {
				n.logger.Warn(fmt.Sprintf("Failed to remove recovery entry %s: %v", entry, rmErr), "core")
			}
		}
		if completion != nil {
			completion(err)
		}
	})
}

func (n *Node) DB() *database.SQLiteManager  { return n.db }
func (n *Node) Store() *groupstate.Store     { return n.store }
func (n *Node) Processor() *groups.Processor { return n.processor }
func (n *Node) Journal() *recovery.Journal   { return n.journal }
func (n *Node) Bus() *events.Bus             { return n.bus }
func (n *Node) Runner() *jobs.Runner         { return n.runner }
func (n *Node) UserID() string               { return n.userID }

// GetStats summarizes the node for the CLI and the health endpoint
func (n *Node) GetStats() map[string]interface{} {
	n.mutex.RLock()
	defer n.mutex.RUnlock()

	stats := map[string]interface{}{
		"running":           n.running,
		"user_id":           n.userID,
		"event_subscribers": n.bus.SubscriberCount(),
		"recovery_replayed": n.lastReplay.Replayed,
		"recovery_failed":   n.lastReplay.Failed,
		"recovery_dropped":  n.lastReplay.Dropped,
	}
	if n.running {
		stats["uptime"] = time.Since(n.startedAt).Round(time.Second).String()
	}
	if registry, ok := n.poller.(*PollerRegistry); ok {
		stats["polled_groups"] = len(registry.Active())
	}

	n.db.Read(func(tx *database.Tx) error {
		stats["groups"] = len(n.store.GroupIDs(tx))
		if pending, err := tx.ListJobs(""); err == nil {
			stats["pending_jobs"] = len(pending)
		}
		return nil
	})
	return stats
}
