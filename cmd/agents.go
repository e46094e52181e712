package cmd

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"
)

func agentsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "agents",
		Short: "List the agents defined in the workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			rt, err := buildRuntime(cfg)
			if err != nil {
				return err
			}
			defer rt.Close()

			agents := rt.reg.Agents()
			sort.Slice(agents, func(i, j int) bool {
				return agents[i].NodeID() < agents[j].NodeID()
			})
			for _, a := range agents {
				role := ""
				if a.IsLeader {
					role = " (leader)"
				}
				fmt.Printf("%s%s\t%s\n", a.NodeID(), role, a.Description)
			}
			return nil
		},
	}
}
