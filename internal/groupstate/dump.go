package groupstate

import (
	"fmt"
	"sort"

	"github.com/anacrolix/torrent/bencode"

	"github.com/Trustflow-Network-Labs/secure-groups/internal/database"
)

// Dump variants, stored in config_dumps keyed by group session id. The user
// group list is stored under the empty session id.
const (
	DumpGroupInfo    = "groupInfo"
	DumpGroupMembers = "groupMembers"
	DumpGroupKeys    = "groupKeys"
	DumpUserGroups   = "userGroups"
)

// Bencode has no booleans, so flags are stored as 0/1 ints

type bencodeInfo struct {
	Name                 string `bencode:"n"`
	Description          string `bencode:"o,omitempty"`
	DisplayPictureURL    string `bencode:"p,omitempty"`
	CreatedAt            int64  `bencode:"c"`
	DisappearingType     int    `bencode:"e,omitempty"`
	DisappearingDuration int64  `bencode:"E,omitempty"`
}

type bencodeMember struct {
	SessionID string `bencode:"@"`
	Name      string `bencode:"n,omitempty"`
	Role      int    `bencode:"A"`
	Status    int    `bencode:"s"`
	Removal   int    `bencode:"R,omitempty"`
}

type bencodeKeys struct {
	Generation int64  `bencode:"g"`
	AdminSeed  []byte `bencode:"K,omitempty"`
	AuthData   []byte `bencode:"a,omitempty"`
}

type bencodeUserGroup struct {
	GroupSessionID string `bencode:"@"`
	Name           string `bencode:"n,omitempty"`
	Invited        int    `bencode:"i"`
	Kicked         int    `bencode:"k"`
	AuthData       []byte `bencode:"a,omitempty"`
	AdminSeed      []byte `bencode:"K,omitempty"`
	JoinedAt       int64  `bencode:"j"`
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// saveGroup writes the three group dumps inside tx
func saveGroup(tx *database.Tx, g *Group) error {
	info, err := bencode.Marshal(bencodeInfo{
		Name:                 g.Info.Name,
		Description:          g.Info.Description,
		DisplayPictureURL:    g.Info.DisplayPictureURL,
		CreatedAt:            g.Info.CreatedAt,
		DisappearingType:     int(g.Info.DisappearingType),
		DisappearingDuration: g.Info.DisappearingDuration,
	})
	if err != nil {
		return fmt.Errorf("failed to encode group info: %v", err)
	}

	// Sorted so identical rosters produce identical dumps
	members := make([]bencodeMember, 0, len(g.Members))
	for _, m := range g.Members {
		members = append(members, bencodeMember{
			SessionID: m.SessionID,
			Name:      m.Name,
			Role:      int(m.Role),
			Status:    int(m.Status),
			Removal:   int(m.Removal),
		})
	}
	sort.Slice(members, func(i, j int) bool { return members[i].SessionID < members[j].SessionID })
	membersData, err := bencode.Marshal(members)
	if err != nil {
		return fmt.Errorf("failed to encode group members: %v", err)
	}

	keys, err := bencode.Marshal(bencodeKeys(g.Keys))
	if err != nil {
		return fmt.Errorf("failed to encode group keys: %v", err)
	}

	if err := tx.SaveConfigDump(DumpGroupInfo, g.SessionID, info); err != nil {
		return err
	}
	if err := tx.SaveConfigDump(DumpGroupMembers, g.SessionID, membersData); err != nil {
		return err
	}
	return tx.SaveConfigDump(DumpGroupKeys, g.SessionID, keys)
}

// loadGroup restores a group from its dumps. It returns nil when the info
// dump is missing.
func loadGroup(tx *database.Tx, sessionID string) (*Group, error) {
	infoDump, err := tx.FetchConfigDump(DumpGroupInfo, sessionID)
	if err != nil || infoDump == nil {
		return nil, err
	}

	var info bencodeInfo
	if err := bencode.Unmarshal(infoDump.Data, &info); err != nil {
		return nil, fmt.Errorf("failed to decode group info: %v", err)
	}

	g := &Group{
		SessionID: sessionID,
		Info: Info{
			Name:                 info.Name,
			Description:          info.Description,
			DisplayPictureURL:    info.DisplayPictureURL,
			CreatedAt:            info.CreatedAt,
			DisappearingType:     database.DisappearingType(info.DisappearingType),
			DisappearingDuration: info.DisappearingDuration,
		},
		Members: make(map[string]Member),
	}

	if dump, err := tx.FetchConfigDump(DumpGroupMembers, sessionID); err != nil {
		return nil, err
	} else if dump != nil {
		var members []bencodeMember
		if err := bencode.Unmarshal(dump.Data, &members); err != nil {
			return nil, fmt.Errorf("failed to decode group members: %v", err)
		}
		for _, m := range members {
			g.Members[m.SessionID] = Member{
				SessionID: m.SessionID,
				Name:      m.Name,
				Role:      database.GroupRole(m.Role),
				Status:    database.RoleStatus(m.Status),
				Removal:   RemovalStatus(m.Removal),
			}
		}
	}

	if dump, err := tx.FetchConfigDump(DumpGroupKeys, sessionID); err != nil {
		return nil, err
	} else if dump != nil {
		var keys bencodeKeys
		if err := bencode.Unmarshal(dump.Data, &keys); err != nil {
			return nil, fmt.Errorf("failed to decode group keys: %v", err)
		}
		g.Keys = Keys(keys)
	}

	return g, nil
}

func saveUserGroups(tx *database.Tx, groups map[string]*UserGroup) error {
	entries := make([]bencodeUserGroup, 0, len(groups))
	for _, u := range groups {
		entries = append(entries, bencodeUserGroup{
			GroupSessionID: u.GroupSessionID,
			Name:           u.Name,
			Invited:        boolToInt(u.Invited),
			Kicked:         boolToInt(u.Kicked),
			AuthData:       u.AuthData,
			AdminSeed:      u.AdminSeed,
			JoinedAt:       u.JoinedAt,
		})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].GroupSessionID < entries[j].GroupSessionID })

	data, err := bencode.Marshal(entries)
	if err != nil {
		return fmt.Errorf("failed to encode user groups: %v", err)
	}
	return tx.SaveConfigDump(DumpUserGroups, "", data)
}

func loadUserGroups(tx *database.Tx) (map[string]*UserGroup, error) {
	groups := make(map[string]*UserGroup)

	dump, err := tx.FetchConfigDump(DumpUserGroups, "")
	if err != nil || dump == nil {
		return groups, err
	}

	var entries []bencodeUserGroup
	if err := bencode.Unmarshal(dump.Data, &entries); err != nil {
		return nil, fmt.Errorf("failed to decode user groups: %v", err)
	}
	for _, e := range entries {
		groups[e.GroupSessionID] = &UserGroup{
			GroupSessionID: e.GroupSessionID,
			Name:           e.Name,
			Invited:        e.Invited != 0,
			Kicked:         e.Kicked != 0,
			AuthData:       e.AuthData,
			AdminSeed:      e.AdminSeed,
			JoinedAt:       e.JoinedAt,
		}
	}
	return groups, nil
}
