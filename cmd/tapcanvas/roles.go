package main

import (
	"fmt"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"tapcanvas/internal/roles"
)

var rolesCmd = &cobra.Command{
	Use:   "roles",
	Short: "List the creative roles and their canvas permissions",
	RunE:  runRoles,
}

func runRoles(cmd *cobra.Command, args []string) error {
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tCANVAS OPS\tSUMMARY")
	for _, r := range roles.Catalog() {
		ops := roles.AllowedOps(r.ID)
		var names []string
		for op := range ops {
			names = append(names, op)
		}
		sort.Strings(names)
		opsCol := "-"
		if len(names) > 0 {
			opsCol = strings.Join(names, ",")
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", r.ID, r.Name, opsCol, r.Summary)
	}
	return w.Flush()
}
