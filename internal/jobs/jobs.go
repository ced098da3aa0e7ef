package jobs

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/Trustflow-Network-Labs/secure-groups/internal/database"
)

// Variant names a kind of job; each has one registered Handler
type Variant string

const (
	VariantDisplayPictureDownload            Variant = "displayPictureDownload"
	VariantProcessPendingGroupMemberRemovals Variant = "processPendingGroupMemberRemovals"
	VariantDeleteGroupSwarmMessages          Variant = "deleteGroupSwarmMessages"
	VariantPushNotificationSubscription      Variant = "pushNotificationSubscription"
	VariantConfigurationSync                 Variant = "configurationSync"
)

// ErrPermanent marks a failure retrying cannot fix
var ErrPermanent = errors.New("permanent job failure")

// DisplayPictureDetails downloads a group or profile picture
type DisplayPictureDetails struct {
	Target string `json:"target"`
	URL    string `json:"url"`
}

// PendingRemovalsDetails converges a group roster after members left
type PendingRemovalsDetails struct {
	GroupID           string `json:"group_id"`
	ChangeTimestampMs uint64 `json:"change_timestamp_ms"`
}

// SwarmDeleteDetails removes messages from the group swarm
type SwarmDeleteDetails struct {
	GroupID       string   `json:"group_id"`
	MessageHashes []string `json:"message_hashes"`
}

// PushSubscriptionDetails (un)subscribes the device token
type PushSubscriptionDetails struct {
	Token      string   `json:"token"`
	SessionIDs []string `json:"session_ids"`
	Subscribe  bool     `json:"subscribe"`
}

// ConfigSyncDetails pushes replicated state for a session
type ConfigSyncDetails struct {
	PublicKey string `json:"public_key"`
}

// Scheduler persists jobs inside the caller's transaction
type Scheduler interface {
	Enqueue(tx *database.Tx, variant Variant, threadID string, details interface{}) (string, error)
}

func newRecord(variant Variant, threadID string, details interface{}) (*database.JobRecord, error) {
	data, err := json.Marshal(details)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s details: %v", variant, err)
	}

	now := time.Now().UnixMilli()
	return &database.JobRecord{
		ID:        uuid.New().String(),
		Variant:   string(variant),
		ThreadID:  threadID,
		Details:   data,
		NextRunTs: now,
		CreatedAt: now,
	}, nil
}

// Decode unmarshals the job details into v
func Decode(job *database.JobRecord, v interface{}) error {
	if err := json.Unmarshal(job.Details, v); err != nil {
		return fmt.Errorf("%w: bad %s details: %v", ErrPermanent, job.Variant, err)
	}
	return nil
}
