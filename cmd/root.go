package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

// User is the account the command acts as.
var User string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "cdr",
	Short: "CDR document repository tool",
	Example: `cdr db migrate
cdr db seed -f fixtures/control.yaml
cdr doc save -t Summary -f summary.xml --validate schema,links --version
cdr doc show -d CDR0000000042 -v lastp
cdr doc checkout -d CDR42
cdr linktype check --source Summary --element Ref --target CDR0000000007
cdr filterset expand "Denormalization Summary"
cdr jobs run`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(dbCmd)
	rootCmd.AddCommand(docCmd)
	rootCmd.AddCommand(linkTypeCmd)
	rootCmd.AddCommand(filterSetCmd)
	rootCmd.AddCommand(jobsCmd)
	rootCmd.SetHelpCommand(&cobra.Command{Use: "no-help", Hidden: true})

	defaultUser := os.Getenv("CDR_USER")
	if defaultUser == "" {
		defaultUser = os.Getenv("USER")
	}
	rootCmd.PersistentFlags().StringVarP(&User, "user", "u", defaultUser, "user to act as")

	rootCmd.CompletionOptions.HiddenDefaultCmd = true
	cobra.EnableCommandSorting = false
}

// checkMissingFlags reports required flags which were not set.
func checkMissingFlags(cmd *cobra.Command, required []string) bool {
	missing := false
	for _, name := range required {
		if !cmd.Flags().Changed(name) {
			cmd.PrintErrf("missing: --%s\n", name)
			missing = true
		}
	}
	return missing
}
