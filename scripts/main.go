package main

import (
	"fmt"
	"os"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	command := os.Args[1]
	args := os.Args[2:]

	switch command {
	case "inspect-dump":
		RunInspectDump(args)
	default:
		fmt.Printf("Unknown command: %s\n\n", command)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Usage: go run ./scripts <command> [args...]")
	fmt.Println("")
	fmt.Println("Available commands:")
	fmt.Println("  inspect-dump <db_path> <variant> [group_id]")
	fmt.Println("    Decode a stored config dump to JSON with key material redacted")
	fmt.Println("    Variants: groupInfo, groupMembers, groupKeys, userGroups")
	fmt.Println("    Example: go run ./scripts inspect-dump ./secure-groups.db groupMembers 03ab...")
}
