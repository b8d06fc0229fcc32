package cmd

import (
	"context"
	"fmt"

	"github.com/emrgen/cdr/internal/cdrid"
	"github.com/spf13/cobra"
)

var filterSetCmd = &cobra.Command{
	Use:   "filterset",
	Short: "filter set commands",
}

func init() {
	filterSetCmd.SetHelpCommand(&cobra.Command{Use: "no-help", Hidden: true})
	filterSetCmd.AddCommand(listFilterSetsCmd())
	filterSetCmd.AddCommand(showFilterSetCmd())
	filterSetCmd.AddCommand(expandFilterSetCmd())
	filterSetCmd.AddCommand(deleteFilterSetCmd())
}

func listFilterSetsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "list filter sets",
		Run: func(cmd *cobra.Command, args []string) {
			run(func(ctx context.Context, a *app) error {
				sets, err := a.st.ListFilterSets(ctx)
				if err != nil {
					return err
				}
				w := newTable()
				fmt.Fprintln(w, "NAME\tDESCRIPTION")
				for _, s := range sets {
					fmt.Fprintf(w, "%s\t%s\n", s.Name, s.Description)
				}
				return w.Flush()
			})
		},
	}
}

func showFilterSetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show NAME",
		Short: "show a filter set and its direct members",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			run(func(ctx context.Context, a *app) error {
				set, err := a.lib.GetSet(ctx, args[0])
				if err != nil {
					return err
				}
				printField("Name", set.Name)
				printField("Description", set.Description)
				if set.Notes != "" {
					printField("Notes", set.Notes)
				}
				for _, m := range set.Members {
					printField("Member", m.String())
				}
				return nil
			})
		},
	}
}

func expandFilterSetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "expand NAME",
		Short: "list the filters of a set in application order",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			run(func(ctx context.Context, a *app) error {
				ids, err := a.lib.Expand(ctx, args[0])
				if err != nil {
					return err
				}
				w := newTable()
				fmt.Fprintln(w, "ID\tTITLE")
				for _, id := range ids {
					f, err := a.lib.Fetch(ctx, id, 0)
					if err != nil {
						return err
					}
					fmt.Fprintf(w, "%s\t%s\n", cdrid.Format(id), f.Title)
				}
				return w.Flush()
			})
		},
	}
}

func deleteFilterSetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete NAME",
		Short: "delete a filter set no other set includes",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			run(func(ctx context.Context, a *app) error {
				return a.lib.DeleteSet(ctx, a.sess, args[0])
			})
		},
	}
}
