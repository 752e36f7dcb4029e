package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/wehubfusion/datamanager/pkg/process"
	"github.com/wehubfusion/datamanager/pkg/registry"
)

func newProcessesCommand(f *flags) *cobra.Command {
	var keyword string
	cmd := &cobra.Command{
		Use:   "processes",
		Short: "List the registered processes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := f.load(cmd)
			if err != nil {
				return err
			}
			logger, err := cfg.NewLogger()
			if err != nil {
				return err
			}
			manager, cleanup, err := buildManager(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer cleanup()
			return listProcesses(cmd, manager, keyword)
		},
	}
	cmd.Flags().StringVar(&keyword, "keyword", "", "Only list processes carrying this keyword")
	return cmd
}

func listProcesses(cmd *cobra.Command, manager *registry.Manager, keyword string) error {
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "FACTORY\tID\tTITLE\tINPUTS\tOUTPUTS\tKEYWORDS")
	for _, id := range manager.Factories() {
		f := manager.Factory(id)
		ps := f.Processes()
		if keyword != "" {
			ps = f.FindByKeyword(keyword)
		}
		for _, p := range ps {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
				id, p.Identifier(), p.Title(),
				slotList(p.Inputs()), slotList(p.Outputs()),
				strings.Join(p.Keywords(), ","))
		}
	}
	return w.Flush()
}

func slotList[S process.Slot](slots []S) string {
	names := make([]string, len(slots))
	for i, s := range slots {
		names[i] = s.Name()
	}
	return strings.Join(names, ",")
}
