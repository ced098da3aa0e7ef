package cmd

import (
	"fmt"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/Trustflow-Network-Labs/secure-groups/internal/database"
	"github.com/Trustflow-Network-Labs/secure-groups/internal/groupstate"
)

var groupsCmd = &cobra.Command{
	Use:   "groups",
	Short: "Show the groups known to this node",
}

var groupsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List groups from the user group list",
	Args:  cobra.ExactArgs(0),
	RunE: func(cmd *cobra.Command, args []string) error {
		node, err := openNode()
		if err != nil {
			return err
		}
		defer node.Stop()

		var entries []*groupstate.UserGroup
		polling := make(map[string]bool)
		err = node.DB().Read(func(tx *database.Tx) error {
			entries = node.Store().UserGroups(tx)
			list, err := tx.ListClosedGroups()
			if err != nil {
				return err
			}
			for _, g := range list {
				polling[g.ThreadID] = g.ShouldPoll
			}
			return nil
		})
		if err != nil {
			return fmt.Errorf("failed to read groups: %v", err)
		}
		if len(entries) == 0 {
			fmt.Println("No groups")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "GROUP\tNAME\tINVITED\tKICKED\tADMIN\tPOLLING")
		for _, u := range entries {
			fmt.Fprintf(w, "%s\t%s\t%v\t%v\t%v\t%v\n", u.GroupSessionID, u.Name, u.Invited, u.Kicked, len(u.AdminSeed) > 0, polling[u.GroupSessionID])
		}
		return w.Flush()
	},
}

var groupsShowCmd = &cobra.Command{
	Use:   "show <group id>",
	Short: "Show the replicated state and roster of a group",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		node, err := openNode()
		if err != nil {
			return err
		}
		defer node.Stop()

		var group *groupstate.Group
		var interactions int
		err = node.DB().Read(func(tx *database.Tx) error {
			group, err = node.Store().Group(tx, args[0])
			if err != nil || group == nil {
				return err
			}
			list, err := tx.ListInteractions(args[0])
			interactions = len(list)
			return err
		})
		if err != nil {
			return fmt.Errorf("failed to read group: %v", err)
		}
		if group == nil {
			return fmt.Errorf("group %s not found", args[0])
		}

		fmt.Printf("Group:        %s\n", group.SessionID)
		fmt.Printf("Name:         %s\n", group.Info.Name)
		if group.Info.Description != "" {
			fmt.Printf("Description:  %s\n", group.Info.Description)
		}
		fmt.Printf("Generation:   %d\n", group.Keys.Generation)
		fmt.Printf("Admin:        %v\n", group.IsAdmin())
		if group.Info.DisappearingDuration > 0 {
			fmt.Printf("Disappearing: %ds\n", group.Info.DisappearingDuration)
		}
		fmt.Printf("Messages:     %d\n\n", interactions)

		ids := make([]string, 0, len(group.Members))
		for id := range group.Members {
			ids = append(ids, id)
		}
		sort.Strings(ids)

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "MEMBER\tNAME\tROLE\tSTATUS\tREMOVAL")
		for _, id := range ids {
			m := group.Members[id]
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", id, m.Name, m.Role, m.Status, removalLabel(m.Removal))
		}
		return w.Flush()
	},
}

func removalLabel(r groupstate.RemovalStatus) string {
	switch r {
	case groupstate.Removed:
		return "pending"
	case groupstate.RemovedWithMessages:
		return "pending+messages"
	default:
		return "-"
	}
}

func init() {
	groupsCmd.AddCommand(groupsListCmd, groupsShowCmd)
	rootCmd.AddCommand(groupsCmd)
}
