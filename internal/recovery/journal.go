package recovery

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/Trustflow-Network-Labs/secure-groups/internal/crypto"
	"github.com/Trustflow-Network-Labs/secure-groups/internal/crypto/keystore"
	"github.com/Trustflow-Network-Labs/secure-groups/internal/metrics"
	"github.com/Trustflow-Network-Labs/secure-groups/internal/utils"
)

const entryVersion = 1

// entryFile is the on-disk JSON envelope of one journal entry
type entryFile struct {
	Version      int    `json:"version"`
	FailureCount int    `json:"failure_count"`
	Nonce        []byte `json:"nonce"`
	Ciphertext   []byte `json:"ciphertext"`
}

// Entry describes a journal file without decrypting it
type Entry struct {
	Name         string
	CreatedAt    time.Time
	FailureCount int
	Size         int64
	Readable     bool
}

// ReplayStats counts replay outcomes
type ReplayStats struct {
	Replayed int
	Failed   int
	Skipped  int
	Dropped  int
}

// Handler applies a replayed record. An error counts as a failed attempt.
type Handler func(ctx context.Context, record Record) error

// Journal is the encrypted file-per-entry recovery log. Entries are named
// <timestampMs>-<nonceHex> so they sort oldest first.
type Journal struct {
	dir         string
	secrets     keystore.SecretStore
	secretName  string
	maxFailures int
	provider    crypto.Provider
	logger      *utils.LogsManager

	mu  sync.Mutex
	key *[32]byte
}

// NewJournal reads `recovery_max_failures` and `keyring_user` from cm
func NewJournal(dir string, secrets keystore.SecretStore, cm *utils.ConfigManager, logger *utils.LogsManager) *Journal {
	return &Journal{
		dir:         dir,
		secrets:     secrets,
		secretName:  cm.GetConfigWithDefault("keyring_user", "recovery-log-key"),
		maxFailures: cm.GetConfigInt("recovery_max_failures", 2, 1, 100),
		provider:    crypto.DefaultProvider{},
		logger:      logger,
	}
}

// encryptionKey loads the secret on first use. It fails with
// keystore.ErrKeySpecInaccessible rather than falling back to plaintext.
func (j *Journal) encryptionKey() (*[32]byte, error) {
	if j.key != nil {
		return j.key, nil
	}

	secret, err := keystore.GetOrCreateSecret(j.secrets, j.secretName, crypto.KeySize)
	if err != nil {
		return nil, err
	}
	key, err := crypto.DeriveRecoveryLogKey(secret)
	if err != nil {
		return nil, fmt.Errorf("failed to derive recovery log key: %v", err)
	}
	j.key = &key
	return j.key, nil
}

// Append encrypts record to a new entry and returns its name
func (j *Journal) Append(record Record) (string, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	key, err := j.encryptionKey()
	if err != nil {
		return "", err
	}

	plaintext, err := Encode(record)
	if err != nil {
		return "", err
	}
	ciphertext, nonce, err := j.provider.EncryptAEAD(key, plaintext)
	if err != nil {
		return "", err
	}

	if err := os.MkdirAll(j.dir, 0700); err != nil {
		return "", fmt.Errorf("failed to create recovery directory: %v", err)
	}

	name := fmt.Sprintf("%d-%s", time.Now().UnixMilli(), hex.EncodeToString(nonce[:]))
	entry := &entryFile{Version: entryVersion, Nonce: nonce[:], Ciphertext: ciphertext}
	if err := j.writeEntry(name, entry); err != nil {
		return "", err
	}

	metrics.RecoveryEntries.WithLabelValues("appended").Inc()
	return name, nil
}

// Remove deletes an entry once the operation it guarded has completed
func (j *Journal) Remove(name string) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if err := os.Remove(j.path(name)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove recovery entry: %v", err)
	}
	return nil
}

// Dir is the directory holding the entry files
func (j *Journal) Dir() string {
	return j.dir
}

// List returns entries oldest first
func (j *Journal) List() ([]Entry, error) {
	names, err := j.names()
	if err != nil {
		return nil, err
	}

	entries := make([]Entry, 0, len(names))
	for _, name := range names {
		e := Entry{Name: name, CreatedAt: entryTime(name)}
		if info, err := os.Stat(j.path(name)); err == nil {
			e.Size = info.Size()
		}
		if f, err := j.readEntry(name); err == nil {
			e.FailureCount = f.FailureCount
			e.Readable = true
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// Replay hands every entry to handler once, oldest first. An entry is deleted
// when handler succeeds; a failure bumps its failure count and the entry is
// dropped once the count reaches the limit. Entries that cannot be decrypted
// are skipped under the same bounded retry.
func (j *Journal) Replay(ctx context.Context, handler Handler) (ReplayStats, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	var stats ReplayStats

	names, err := j.names()
	if err != nil || len(names) == 0 {
		return stats, err
	}

	key, err := j.encryptionKey()
	if err != nil {
		return stats, err
	}

	for _, name := range names {
		if ctx.Err() != nil {
			return stats, ctx.Err()
		}

		entry, err := j.readEntry(name)
		if err != nil {
			// No envelope means no retry counter to bump
			j.logger.Warn(fmt.Sprintf("Dropping unreadable recovery entry %s: %v", name, err), "recovery")
			j.drop(name, &stats)
			continue
		}

		if entry.FailureCount >= j.maxFailures {
			j.drop(name, &stats)
			continue
		}

		plaintext, err := j.provider.DecryptAEAD(key, entry.Nonce, entry.Ciphertext)
		var record Record
		if err == nil {
			record, err = Decode(plaintext)
		}
		if err != nil {
			j.logger.Debug(fmt.Sprintf("Skipping recovery entry %s: %v", name, err), "recovery")
			stats.Skipped++
			metrics.RecoveryEntries.WithLabelValues("skipped").Inc()
			j.recordFailure(name, entry, &stats)
			continue
		}

		if err := handler(ctx, record); err != nil {
			j.logger.Info(fmt.Sprintf("Replay of %s entry %s failed: %v", record.Kind(), name, err), "recovery")
			stats.Failed++
			metrics.RecoveryEntries.WithLabelValues("failed").Inc()
			j.recordFailure(name, entry, &stats)
			continue
		}

		if err := os.Remove(j.path(name)); err != nil {
			j.logger.Error(fmt.Sprintf("Failed to remove replayed entry %s: %v", name, err), "recovery")
		}
		stats.Replayed++
		metrics.RecoveryEntries.WithLabelValues("replayed").Inc()
	}

	return stats, nil
}

func (j *Journal) recordFailure(name string, entry *entryFile, stats *ReplayStats) {
	entry.FailureCount++
	if entry.FailureCount >= j.maxFailures {
		j.drop(name, stats)
		return
	}
	if err := j.writeEntry(name, entry); err != nil {
		j.logger.Error(fmt.Sprintf("Failed to update recovery entry %s: %v", name, err), "recovery")
	}
}

func (j *Journal) drop(name string, stats *ReplayStats) {
	if err := os.Remove(j.path(name)); err != nil && !os.IsNotExist(err) {
		j.logger.Error(fmt.Sprintf("Failed to drop recovery entry %s: %v", name, err), "recovery")
		return
	}
	stats.Dropped++
	metrics.RecoveryEntries.WithLabelValues("dropped").Inc()
}

func (j *Journal) path(name string) string {
	return filepath.Join(j.dir, name)
}

// names lists entry files sorted by timestamp, then name
func (j *Journal) names() ([]string, error) {
	dirEntries, err := os.ReadDir(j.dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read recovery directory: %v", err)
	}

	var names []string
	for _, de := range dirEntries {
		if de.IsDir() || strings.HasPrefix(de.Name(), ".") || entryTime(de.Name()).IsZero() {
			continue
		}
		names = append(names, de.Name())
	}

	sort.Slice(names, func(a, b int) bool {
		ta, tb := entryTime(names[a]), entryTime(names[b])
		if !ta.Equal(tb) {
			return ta.Before(tb)
		}
		return names[a] < names[b]
	})
	return names, nil
}

// entryTime parses the timestamp prefix, zero for foreign files
func entryTime(name string) time.Time {
	prefix, _, ok := strings.Cut(name, "-")
	if !ok {
		return time.Time{}
	}
	ms, err := strconv.ParseInt(prefix, 10, 64)
	if err != nil || ms <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

func (j *Journal) readEntry(name string) (*entryFile, error) {
	data, err := os.ReadFile(j.path(name))
	if err != nil {
		return nil, err
	}

	var entry entryFile
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("failed to parse entry: %v", err)
	}
	if entry.Version != entryVersion {
		return nil, fmt.Errorf("unsupported entry version %d", entry.Version)
	}
	return &entry, nil
}

// writeEntry replaces the file atomically via a temp file and rename
func (j *Journal) writeEntry(name string, entry *entryFile) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to encode entry: %v", err)
	}

	tmp := j.path("." + name + ".tmp")
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("failed to write recovery entry: %v", err)
	}
	if err := os.Rename(tmp, j.path(name)); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to commit recovery entry: %v", err)
	}
	return nil
}
