package core

import (
	"fmt"
	"sort"
	"sync"

	"github.com/Trustflow-Network-Labs/secure-groups/internal/crypto"
	"github.com/Trustflow-Network-Labs/secure-groups/internal/utils"
)

// PollerRegistry tracks which group swarms should be polled. The actual
// retrieval loop lives with the transport; this only records intent.
type PollerRegistry struct {
	mu     sync.Mutex
	active map[string]bool
	logger *utils.LogsManager
}

func NewPollerRegistry(logger *utils.LogsManager) *PollerRegistry {
	return &PollerRegistry{active: make(map[string]bool), logger: logger}
}

func (p *PollerRegistry) StartPolling(groupID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.active[groupID] {
		p.active[groupID] = true
		p.logger.Info(fmt.Sprintf("Started polling group %s", crypto.Truncated(groupID)), "poller")
	}
}

func (p *PollerRegistry) StopPolling(groupID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.active[groupID] {
		delete(p.active, groupID)
		p.logger.Info(fmt.Sprintf("Stopped polling group %s", crypto.Truncated(groupID)), "poller")
	}
}

// Active lists the polled groups in id order
func (p *PollerRegistry) Active() []string {
	p.mu.Lock()
	defer p.mu.Unlock()

	ids := make([]string, 0, len(p.active))
	for id := range p.active {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

type logNotifier struct {
	logger *utils.LogsManager
}

func (n logNotifier) NotifyGroupInvite(groupID, groupName, inviterName string) {
	n.logger.Info(fmt.Sprintf("%s invited you to %s (%s)", inviterName, groupName, crypto.Truncated(groupID)), "notifications")
}
