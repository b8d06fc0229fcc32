package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/emrgen/cdr/internal/cdrid"
	"github.com/emrgen/cdr/internal/linktype"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var linkTypeCmd = &cobra.Command{
	Use:   "linktype",
	Short: "link type commands",
}

func init() {
	linkTypeCmd.SetHelpCommand(&cobra.Command{Use: "no-help", Hidden: true})
	linkTypeCmd.AddCommand(listLinkTypesCmd())
	linkTypeCmd.AddCommand(showLinkTypeCmd())
	linkTypeCmd.AddCommand(deleteLinkTypeCmd())
	linkTypeCmd.AddCommand(checkLinkCmd())
	linkTypeCmd.AddCommand(searchLinksCmd())
}

func listLinkTypesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "list link types",
		Run: func(cmd *cobra.Command, args []string) {
			run(func(ctx context.Context, a *app) error {
				rows, err := a.st.ListLinkTypes(ctx)
				if err != nil {
					return err
				}
				w := newTable()
				fmt.Fprintln(w, "NAME\tCHECK\tCOMMENT")
				for _, lt := range rows {
					fmt.Fprintf(w, "%s\t%s\t%s\n", lt.Name, lt.ChkType, lt.Comment)
				}
				return w.Flush()
			})
		},
	}
}

func showLinkTypeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show NAME",
		Short: "show a link type",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			run(func(ctx context.Context, a *app) error {
				lt, err := linktype.LoadByName(ctx, a.st, args[0])
				if err != nil {
					return err
				}
				printField("Name", lt.Name)
				printField("Check", lt.ChkType)
				printField("Comment", lt.Comment)
				for _, s := range lt.Sources {
					printField("Source", s.DocType+"/"+s.Element)
				}
				printField("Targets", strings.Join(lt.Targets, ", "))
				for _, p := range lt.Properties {
					printField("Property", fmt.Sprintf("%s %s", p.Type(), p.Value()))
				}
				return nil
			})
		},
	}
}

func deleteLinkTypeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete NAME",
		Short: "delete an unused link type",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			run(func(ctx context.Context, a *app) error {
				return linktype.Delete(ctx, a.sess, args[0])
			})
		},
	}
}

func checkLinkCmd() *cobra.Command {
	var source string
	var element string
	var target string

	command := &cobra.Command{
		Use:     "check",
		Short:   "check whether an element may link to a target",
		Example: "cdr linktype check --source Summary --element Ref --target CDR0000000007#_3",
		Run: func(cmd *cobra.Command, args []string) {
			if checkMissingFlags(cmd, []string{"source", "element", "target"}) {
				return
			}
			run(func(ctx context.Context, a *app) error {
				title, err := linktype.CheckProposedLink(ctx, a.st, source, element, target)
				if err != nil {
					return err
				}
				logrus.Infof("link permitted: %s", title)
				return nil
			})
		},
	}

	command.Flags().StringVar(&source, "source", "", "source doctype (required)")
	command.Flags().StringVar(&element, "element", "", "linking element (required)")
	command.Flags().StringVar(&target, "target", "", "target id with optional fragment (required)")
	command.Flags().SortFlags = false

	return command
}

func searchLinksCmd() *cobra.Command {
	var source string
	var element string
	var pattern string
	var limit int

	command := &cobra.Command{
		Use:     "search",
		Short:   "list documents an element may link to",
		Example: "cdr linktype search --source Summary --element Ref --pattern 'asp%'",
		Run: func(cmd *cobra.Command, args []string) {
			if checkMissingFlags(cmd, []string{"source", "element"}) {
				return
			}
			run(func(ctx context.Context, a *app) error {
				docs, err := linktype.SearchLinks(ctx, a.st, source, element, pattern, limit)
				if err != nil {
					return err
				}
				w := newTable()
				fmt.Fprintln(w, "ID\tTITLE")
				for _, d := range docs {
					fmt.Fprintf(w, "%s\t%s\n", cdrid.Format(d.ID), d.Title)
				}
				return w.Flush()
			})
		},
	}

	command.Flags().StringVar(&source, "source", "", "source doctype (required)")
	command.Flags().StringVar(&element, "element", "", "linking element (required)")
	command.Flags().StringVar(&pattern, "pattern", "%", "title pattern")
	command.Flags().IntVar(&limit, "limit", 50, "maximum number of documents")
	command.Flags().SortFlags = false

	return command
}
