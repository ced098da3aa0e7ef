package network

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/Trustflow-Network-Labs/secure-groups/internal/crypto"
)

// Swarm methods used by the group pipeline
const (
	MethodDeleteMessages = "delete"
	MethodSubscribe      = "notifications.subscribe"
	MethodUnsubscribe    = "notifications.unsubscribe"
	MethodRetrieveFile   = "file.retrieve"
	MethodStoreConfig    = "config.store"
	MethodStoreMessage   = "store"
)

// DeleteParams asks the swarm to drop messages stored under a group
type DeleteParams struct {
	PubKey      string   `json:"pubkey"`
	Messages    []string `json:"messages"`
	TimestampMs int64    `json:"timestamp"`
	Signature   string   `json:"signature"`
}

// SubscriptionParams registers or removes push delivery for sessions
type SubscriptionParams struct {
	Token      string   `json:"token"`
	SessionIDs []string `json:"session_ids"`
}

// FileParams names a file held by the file server
type FileParams struct {
	URL string `json:"url"`
}

// FileResult carries the downloaded bytes
type FileResult struct {
	Data []byte `json:"data"`
}

// ConfigParams uploads one replicated config dump for a session
type ConfigParams struct {
	PubKey    string `json:"pubkey"`
	Namespace string `json:"namespace"`
	Data      []byte `json:"data"`
}

// StoreParams stores an already encrypted message for a destination
type StoreParams struct {
	PubKey string `json:"pubkey"`
	Data   string `json:"data"`
}

// StoreResult echoes the hash the swarm assigned to a stored message
type StoreResult struct {
	Hash string `json:"hash"`
}

// DeleteSignaturePayload is what the group admin signs to authorize a delete
func DeleteSignaturePayload(hashes []string, timestampMs int64) []byte {
	return []byte(MethodDeleteMessages + strings.Join(hashes, "") + strconv.FormatInt(timestampMs, 10))
}

// DeleteMessages requests swarm deletion of hashes, signed with the group key
func DeleteMessages(ctx context.Context, sender Sender, groupKey *crypto.KeyPair, hashes []string) error {
	now := time.Now().UnixMilli()
	_, err := sender.Send(ctx, MethodDeleteMessages, DeleteParams{
		PubKey:      groupKey.GroupSessionID(),
		Messages:    hashes,
		TimestampMs: now,
		Signature:   hex.EncodeToString(groupKey.Sign(DeleteSignaturePayload(hashes, now))),
	})
	return err
}

// UpdateSubscription subscribes or unsubscribes token for the sessions
func UpdateSubscription(ctx context.Context, sender Sender, token string, sessionIDs []string, subscribe bool) error {
	method := MethodUnsubscribe
	if subscribe {
		method = MethodSubscribe
	}
	_, err := sender.Send(ctx, method, SubscriptionParams{Token: token, SessionIDs: sessionIDs})
	return err
}

// RetrieveFile downloads the file at url
func RetrieveFile(ctx context.Context, sender Sender, url string) ([]byte, error) {
	resp, err := sender.Send(ctx, MethodRetrieveFile, FileParams{URL: url})
	if err != nil {
		return nil, err
	}

	var result FileResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return nil, fmt.Errorf("failed to decode file response: %v", err)
	}
	return result.Data, nil
}

// StoreConfig uploads a config dump under namespace
func StoreConfig(ctx context.Context, sender Sender, pubKey, namespace string, data []byte) error {
	_, err := sender.Send(ctx, MethodStoreConfig, ConfigParams{PubKey: pubKey, Namespace: namespace, Data: data})
	return err
}

// StoreMessage sends base64 ciphertext to destination and returns its hash
func StoreMessage(ctx context.Context, sender Sender, destination, base64Ciphertext string) (string, error) {
	resp, err := sender.Send(ctx, MethodStoreMessage, StoreParams{PubKey: destination, Data: base64Ciphertext})
	if err != nil {
		return "", err
	}

	var result StoreResult
	if len(resp.Result) > 0 {
		if err := json.Unmarshal(resp.Result, &result); err != nil {
			return "", fmt.Errorf("failed to decode store response: %v", err)
		}
	}
	return result.Hash, nil
}
