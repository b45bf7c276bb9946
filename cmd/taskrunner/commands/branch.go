package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/valksor/go-taskrunner/internal/vcs"
)

var branchCmd = &cobra.Command{
	Use:     "branch",
	Short:   "Repository branch helpers",
	GroupID: "info",
}

var branchDetectCmd = &cobra.Command{
	Use:   "detect <url>",
	Short: "Print the default branch of a remote repository",
	Long: `Print the branch the remote HEAD points to, as the worker does for
repositories whose default branch is not configured.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		branch, err := vcs.DetectDefaultBranch(cmd.Context(), args[0])
		if err != nil {
			return fmt.Errorf("%s", vcs.Redact(err.Error()))
		}
		_, _ = fmt.Fprintln(cmd.OutOrStdout(), branch)
		return nil
	},
}

func init() {
	branchCmd.AddCommand(branchDetectCmd)
	rootCmd.AddCommand(branchCmd)
}
