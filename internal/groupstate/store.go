package groupstate

import (
	"errors"
	"fmt"
	"maps"
	"sort"
	"sync"
	"time"

	"github.com/Trustflow-Network-Labs/secure-groups/internal/crypto"
	"github.com/Trustflow-Network-Labs/secure-groups/internal/database"
	"github.com/Trustflow-Network-Labs/secure-groups/internal/utils"
)

var (
	// ErrAdminKeyMismatch is returned when a seed does not regenerate the group key
	ErrAdminKeyMismatch = errors.New("seed does not match group identity")
	// ErrGroupExists is returned by CreateGroup for a group already in the store
	ErrGroupExists = errors.New("group already exists")
)

// Store is the in-memory mirror of the replicated group state. Committed
// state lives in the cache; changes made inside a write transaction are kept
// on the transaction and only swapped into the cache after it commits, so a
// rolled back transaction leaves no trace.
type Store struct {
	mu         sync.RWMutex
	groups     map[string]*Group
	userGroups map[string]*UserGroup

	debug  bool
	logger *utils.LogsManager
}

type overlayKey struct{ store *Store }

type overlay struct {
	// nil value marks a removed group
	groups     map[string]*Group
	userGroups map[string]*UserGroup
}

// NewStore creates an empty store; call Load to restore persisted dumps.
// With debug set, mutating an unknown group panics.
func NewStore(logger *utils.LogsManager, debug bool) *Store {
	return &Store{
		groups:     make(map[string]*Group),
		userGroups: make(map[string]*UserGroup),
		debug:      debug,
		logger:     logger,
	}
}

// Load replaces the cache with the dumps persisted in the database
func (s *Store) Load(tx *database.Tx) error {
	ids, err := tx.ListConfigDumpSessions(DumpGroupInfo)
	if err != nil {
		return err
	}

	groups := make(map[string]*Group, len(ids))
	for _, id := range ids {
		g, err := loadGroup(tx, id)
		if err != nil {
			return fmt.Errorf("failed to load group %s: %v", crypto.Truncated(id), err)
		}
		if g != nil {
			groups[id] = g
		}
	}

	userGroups, err := loadUserGroups(tx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.groups = groups
	s.userGroups = userGroups
	s.mu.Unlock()

	s.logger.Info(fmt.Sprintf("Loaded %d groups and %d user group entries", len(groups), len(userGroups)), "groupstate")
	return nil
}

func (s *Store) overlay(tx *database.Tx, create bool) *overlay {
	if v, ok := tx.Value(overlayKey{s}); ok {
		return v.(*overlay)
	}
	if !create {
		return nil
	}

	ov := &overlay{groups: make(map[string]*Group)}
	tx.SetValue(overlayKey{s}, ov)
	tx.OnCommit(func() { s.apply(ov) })
	return ov
}

func (s *Store) apply(ov *overlay) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, g := range ov.groups {
		if g == nil {
			delete(s.groups, id)
		} else {
			s.groups[id] = g
		}
	}
	if ov.userGroups != nil {
		s.userGroups = ov.userGroups
	}
}

// lookup returns the group visible to tx. The result must not be mutated.
func (s *Store) lookup(tx *database.Tx, groupID string) (*Group, error) {
	if ov := s.overlay(tx, false); ov != nil {
		if g, ok := ov.groups[groupID]; ok {
			return g, nil
		}
	}

	s.mu.RLock()
	g, ok := s.groups[groupID]
	s.mu.RUnlock()
	if ok {
		return g, nil
	}

	return loadGroup(tx, groupID)
}

func (s *Store) userGroupsView(tx *database.Tx) map[string]*UserGroup {
	if ov := s.overlay(tx, false); ov != nil && ov.userGroups != nil {
		return ov.userGroups
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.userGroups
}

func (s *Store) put(tx *database.Tx, g *Group) error {
	if err := saveGroup(tx, g); err != nil {
		return err
	}
	s.overlay(tx, true).groups[g.SessionID] = g
	return nil
}

// Group returns a copy of the group state, or nil when unknown
func (s *Store) Group(tx *database.Tx, groupID string) (*Group, error) {
	g, err := s.lookup(tx, groupID)
	if err != nil || g == nil {
		return nil, err
	}
	return g.Clone(), nil
}

// GroupIDs lists the groups known to the store
func (s *Store) GroupIDs(tx *database.Tx) []string {
	seen := make(map[string]bool)

	s.mu.RLock()
	for id := range s.groups {
		seen[id] = true
	}
	s.mu.RUnlock()

	if ov := s.overlay(tx, false); ov != nil {
		for id, g := range ov.groups {
			seen[id] = g != nil
		}
	}

	var ids []string
	for id, ok := range seen {
		if ok {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// Mutate applies fn to a copy of the group and persists the result with tx.
// If fn fails nothing is applied. An unknown group is a programming error:
// it panics in debug mode and is logged and ignored otherwise.
func (s *Store) Mutate(tx *database.Tx, groupID string, fn func(g *Group) error) error {
	if tx.ReadOnly() {
		return database.ErrReadOnly
	}

	current, err := s.lookup(tx, groupID)
	if err != nil {
		return err
	}
	if current == nil {
		msg := fmt.Sprintf("Mutate called for unknown group %s", crypto.Truncated(groupID))
		if s.debug {
			panic(msg)
		}
		s.logger.Error(msg, "groupstate")
		return nil
	}

	next := current.Clone()
	if err := fn(next); err != nil {
		return err
	}
	return s.put(tx, next)
}

// CreateGroup adds a new group. Creating a group that already exists returns
// ErrGroupExists and leaves the stored state untouched.
func (s *Store) CreateGroup(tx *database.Tx, groupID string, info Info, keys Keys, members []Member) error {
	existing, err := s.lookup(tx, groupID)
	if err != nil {
		return err
	}
	if existing != nil {
		return ErrGroupExists
	}

	g := &Group{
		SessionID: groupID,
		Info:      info,
		Keys:      keys,
		Members:   make(map[string]Member, len(members)),
	}
	for _, m := range members {
		g.Members[m.SessionID] = m
	}
	return s.put(tx, g)
}

// AddMembers upserts roster entries; re-adding a member replaces its entry
func (s *Store) AddMembers(tx *database.Tx, groupID string, members ...Member) error {
	return s.Mutate(tx, groupID, func(g *Group) error {
		for _, m := range members {
			g.Members[m.SessionID] = m
		}
		return nil
	})
}

// UpdateMemberStatus sets a member's role and status. The role never moves
// down and a missing member is added.
func (s *Store) UpdateMemberStatus(tx *database.Tx, groupID, memberID string, role database.GroupRole, status database.RoleStatus) error {
	return s.Mutate(tx, groupID, func(g *Group) error {
		m, ok := g.Members[memberID]
		if !ok {
			m = Member{SessionID: memberID}
		}
		if role > m.Role {
			m.Role = role
		}
		m.Status = status
		g.Members[memberID] = m
		return nil
	})
}

// MarkMemberRemoved flags a member for the pending-removals job
func (s *Store) MarkMemberRemoved(tx *database.Tx, groupID, memberID string, withMessages bool) error {
	return s.Mutate(tx, groupID, func(g *Group) error {
		m, ok := g.Members[memberID]
		if !ok {
			return nil
		}
		m.Removal = Removed
		if withMessages {
			m.Removal = RemovedWithMessages
		}
		g.Members[memberID] = m
		return nil
	})
}

// EraseMembers drops roster entries outright
func (s *Store) EraseMembers(tx *database.Tx, groupID string, memberIDs ...string) error {
	return s.Mutate(tx, groupID, func(g *Group) error {
		for _, id := range memberIDs {
			delete(g.Members, id)
		}
		return nil
	})
}

// CurrentGeneration returns the keys generation, 0 for an unknown group
func (s *Store) CurrentGeneration(tx *database.Tx, groupID string) (int64, error) {
	g, err := s.lookup(tx, groupID)
	if err != nil || g == nil {
		return 0, err
	}
	return g.Keys.Generation, nil
}

// LoadAdminKey installs the group identity seed after checking that it
// regenerates groupID. Auth data is dropped in favour of the seed.
func (s *Store) LoadAdminKey(tx *database.Tx, groupID string, seed []byte) error {
	kp, err := crypto.KeyPairFromSeed(seed)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrAdminKeyMismatch, err)
	}
	if kp.GroupSessionID() != groupID {
		return ErrAdminKeyMismatch
	}

	if err := s.Mutate(tx, groupID, func(g *Group) error {
		g.Keys.AdminSeed = kp.Seed()
		g.Keys.AuthData = nil
		return nil
	}); err != nil {
		return err
	}

	return s.updateUserGroup(tx, groupID, false, func(u *UserGroup) {
		u.AdminSeed = kp.Seed()
		u.AuthData = nil
	})
}

// RemoveGroup deletes the group state and its dumps. With removeUserState the
// user group entry goes too.
func (s *Store) RemoveGroup(tx *database.Tx, groupID string, removeUserState bool) error {
	if err := tx.DeleteConfigDumps(groupID); err != nil {
		return err
	}
	s.overlay(tx, true).groups[groupID] = nil

	if !removeUserState {
		return nil
	}

	current := s.userGroupsView(tx)
	if _, ok := current[groupID]; !ok {
		return nil
	}
	next := maps.Clone(current)
	delete(next, groupID)
	return s.putUserGroups(tx, next)
}

// UserGroup returns a copy of the user group entry, or nil
func (s *Store) UserGroup(tx *database.Tx, groupID string) *UserGroup {
	if u, ok := s.userGroupsView(tx)[groupID]; ok {
		return u.clone()
	}
	return nil
}

// UserGroups returns copies of all user group entries sorted by id
func (s *Store) UserGroups(tx *database.Tx) []*UserGroup {
	view := s.userGroupsView(tx)
	list := make([]*UserGroup, 0, len(view))
	for _, u := range view {
		list = append(list, u.clone())
	}
	sort.Slice(list, func(i, j int) bool { return list[i].GroupSessionID < list[j].GroupSessionID })
	return list
}

// UpsertUserGroup adds the entry or replaces an existing one
func (s *Store) UpsertUserGroup(tx *database.Tx, entry UserGroup) error {
	if entry.JoinedAt == 0 {
		entry.JoinedAt = time.Now().Unix()
	}
	return s.updateUserGroup(tx, entry.GroupSessionID, true, func(u *UserGroup) {
		*u = *entry.clone()
	})
}

// ApproveGroup clears the invited flag once the user accepts the group
func (s *Store) ApproveGroup(tx *database.Tx, groupID string) error {
	return s.updateUserGroup(tx, groupID, false, func(u *UserGroup) {
		u.Invited = false
	})
}

// MarkAsKicked flags the user group entry as kicked and drops its credentials
func (s *Store) MarkAsKicked(tx *database.Tx, groupID string) error {
	return s.updateUserGroup(tx, groupID, true, func(u *UserGroup) {
		u.Kicked = true
		u.AuthData = nil
		u.AdminSeed = nil
	})
}

// WasKicked reports whether the user was removed from the group
func (s *Store) WasKicked(tx *database.Tx, groupID string) bool {
	u, ok := s.userGroupsView(tx)[groupID]
	return ok && u.Kicked
}

func (s *Store) updateUserGroup(tx *database.Tx, groupID string, create bool, fn func(u *UserGroup)) error {
	current := s.userGroupsView(tx)

	existing, ok := current[groupID]
	if !ok && !create {
		return nil
	}

	var entry *UserGroup
	if ok {
		entry = existing.clone()
	} else {
		entry = &UserGroup{GroupSessionID: groupID, JoinedAt: time.Now().Unix()}
	}
	fn(entry)
	entry.GroupSessionID = groupID

	next := maps.Clone(current)
	if next == nil {
		next = make(map[string]*UserGroup)
	}
	next[groupID] = entry
	return s.putUserGroups(tx, next)
}

func (s *Store) putUserGroups(tx *database.Tx, next map[string]*UserGroup) error {
	if tx.ReadOnly() {
		return database.ErrReadOnly
	}
	if err := saveUserGroups(tx, next); err != nil {
		return err
	}
	s.overlay(tx, true).userGroups = next
	return nil
}
