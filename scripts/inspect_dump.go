package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/anacrolix/torrent/bencode"

	"github.com/Trustflow-Network-Labs/secure-groups/internal/database"
	"github.com/Trustflow-Network-Labs/secure-groups/internal/groupstate"
	"github.com/Trustflow-Network-Labs/secure-groups/internal/utils"
)

// Dictionary keys holding seeds or auth data
var redactedKeys = map[string]bool{"K": true, "a": true}

func RunInspectDump(args []string) {
	if len(args) < 2 {
		fmt.Println("Usage: go run ./scripts inspect-dump <db_path> <variant> [group_id]")
		os.Exit(1)
	}

	dbPath, variant := args[0], args[1]
	sessionID := ""
	if len(args) > 2 {
		sessionID = args[2]
	}
	if variant != groupstate.DumpUserGroups && sessionID == "" {
		fmt.Printf("Variant %s needs a group id\n", variant)
		os.Exit(1)
	}

	logger := utils.NewLogsManagerWithWriter(utils.NewConfigManagerFromMap(nil), io.Discard)
	db, err := database.OpenSQLite(dbPath, logger)
	if err != nil {
		fmt.Printf("Failed to open database: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	var dump *database.ConfigDump
	err = db.Read(func(tx *database.Tx) error {
		dump, err = tx.FetchConfigDump(variant, sessionID)
		return err
	})
	if err != nil {
		fmt.Printf("Failed to read dump: %v\n", err)
		os.Exit(1)
	}
	if dump == nil {
		fmt.Println("No dump stored")
		return
	}

	var decoded interface{}
	if err := bencode.Unmarshal(dump.Data, &decoded); err != nil {
		fmt.Printf("Failed to decode dump: %v\n", err)
		os.Exit(1)
	}

	out, _ := json.MarshalIndent(redact(decoded), "", "  ")
	fmt.Printf("%s (%d bytes)\n%s\n", variant, len(dump.Data), out)
}

func redact(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		for k, item := range t {
			if redactedKeys[k] {
				t[k] = "<redacted>"
				continue
			}
			t[k] = redact(item)
		}
		return t
	case []interface{}:
		for i, item := range t {
			t[i] = redact(item)
		}
		return t
	default:
		return v
	}
}
