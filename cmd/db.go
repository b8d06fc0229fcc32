package cmd

import (
	"context"
	"os"
	"path/filepath"

	"github.com/emrgen/cdr/internal/seed"
	"github.com/emrgen/cdr/internal/session"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var dbCmd = &cobra.Command{
	Use:   "db",
	Short: "db commands",
}

func init() {
	dbCmd.AddCommand(migrateCmd())
	dbCmd.AddCommand(seedCmd())
}

func migrateCmd() *cobra.Command {
	command := &cobra.Command{
		Use:   "migrate",
		Short: "Migrate the database",
		Run: func(cmd *cobra.Command, args []string) {
			run(func(ctx context.Context, a *app) error {
				if err := a.st.Migrate(); err != nil {
					return err
				}
				logrus.Info("database migrated")
				return nil
			})
		},
	}

	return command
}

func seedCmd() *cobra.Command {
	var file string
	var asAdmin bool

	command := &cobra.Command{
		Use:     "seed",
		Short:   "Load control data from a YAML fixture",
		Example: "cdr db seed -f fixtures/control.yaml --admin",
		Run: func(cmd *cobra.Command, args []string) {
			if checkMissingFlags(cmd, []string{"file"}) {
				return
			}
			run(func(ctx context.Context, a *app) error {
				f, err := os.Open(file)
				if err != nil {
					return err
				}
				defer f.Close()

				fx, err := seed.Load(f)
				if err != nil {
					return err
				}

				sess := a.sess
				if asAdmin {
					// a fresh repository has no groups to grant anything
					sess = session.New(a.st, User, session.NullAuthorizer{})
					sess.Program = a.sess.Program
				}
				stats, err := seed.New(sess, a.env, os.DirFS(filepath.Dir(file))).Apply(ctx, fx)
				if err != nil {
					return err
				}
				logrus.Infof("seeded %d doctypes, %d documents, %d index paths, %d link types, %d filter sets, %d grants",
					stats.DocTypes, stats.Documents, stats.QueryTermDefs, stats.LinkTypes, stats.FilterSets, stats.Grants)
				return nil
			})
		},
	}

	command.Flags().StringVarP(&file, "file", "f", "", "fixture file (required)")
	command.Flags().BoolVar(&asAdmin, "admin", false, "skip permission checks")
	command.Flags().SortFlags = false

	return command
}
