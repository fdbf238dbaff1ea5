package gen

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/cobra/doc"

	"github.com/luma/stash/internal/meta"
)

var (
	manDir string
)

var ManPagesCmd = &cobra.Command{
	Use:   "man",
	Short: "Generate man pages for stash",
	Long: `Generate up-to-date man pages for every stash command.

The pages are written to the "man" directory under the current
directory unless --dir says otherwise.`,

	RunE: func(cmd *cobra.Command, args []string) error {
		header := &doc.GenManHeader{
			Section: "1",
			Manual:  "stash Manual",
			Source:  fmt.Sprintf("stash %s", meta.Version),
		}

		if err := os.MkdirAll(manDir, 0750); err != nil {
			return fmt.Errorf("Failed to create %s: %w", manDir, err)
		}

		cmd.Root().DisableAutoGenTag = true

		fmt.Fprintln(cmd.OutOrStdout(), "Generating man pages in", manDir)

		return doc.GenManTree(cmd.Root(), header, manDir)
	},
}

func init() {
	flags := ManPagesCmd.PersistentFlags()

	flags.StringVar(&manDir, "dir", "man", "the directory to write the man pages to")

	// For bash-completion
	if err := flags.SetAnnotation("dir", cobra.BashCompSubdirsInDir, []string{}); err != nil {
		panic(err)
	}
}
