package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/emrgen/cdr/internal/jobs"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sys/unix"
)

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "background job commands",
}

func init() {
	jobsCmd.SetHelpCommand(&cobra.Command{Use: "no-help", Hidden: true})
	jobsCmd.AddCommand(runJobsCmd())
	jobsCmd.AddCommand(reindexJobCmd())
}

func runJobsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "run the scheduled jobs until interrupted",
		Run: func(cmd *cobra.Command, args []string) {
			run(func(ctx context.Context, a *app) error {
				exec := jobs.NewTaskExecutor(
					jobs.NewReindexTask(a.cfg.ReindexSchedule, a.sess, a.env, a.cfg.ReindexDocTypes),
					jobs.NewCacheSyncTask(a.cfg.CacheSchedule, a.lib),
				)
				if err := exec.Run(); err != nil {
					return err
				}
				logrus.Infof("Press Ctrl+C to stop")

				// listen for interrupt signal to gracefully stop the jobs
				sigs := make(chan os.Signal, 1)
				signal.Notify(sigs, unix.SIGTERM, unix.SIGINT, unix.SIGTSTP)
				<-sigs
				// clean Ctrl+C output
				fmt.Println()

				exec.Stop()
				return nil
			})
		},
	}
}

func reindexJobCmd() *cobra.Command {
	var docTypes []string

	command := &cobra.Command{
		Use:     "reindex",
		Short:   "reindex every document of some doctypes now",
		Example: "cdr jobs reindex -t Term -t Summary",
		Run: func(cmd *cobra.Command, args []string) {
			run(func(ctx context.Context, a *app) error {
				if len(docTypes) == 0 {
					docTypes = a.cfg.ReindexDocTypes
				}
				if len(docTypes) == 0 {
					return fmt.Errorf("no doctypes given and REINDEX_DOCTYPES is empty")
				}
				stats, err := jobs.NewReindexTask("", a.sess, a.env, docTypes).Reindex(ctx)
				if err != nil {
					return err
				}
				logrus.Infof("reindexed %d documents, %d failed", stats.Documents, stats.Failed)
				return nil
			})
		},
	}

	command.Flags().StringArrayVarP(&docTypes, "type", "t", nil, "doctype to reindex")

	return command
}
