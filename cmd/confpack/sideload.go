package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/arthur-debert/confpack/pkg/engine"
	"github.com/arthur-debert/confpack/pkg/filesystem"
)

func newSideloadCmd() *cobra.Command {
	var targetDir string

	cmd := &cobra.Command{
		Use:   "sideload ARCHIVE",
		Short: "Deploy an app archive into the target directory",
		Long: `Extract ARCHIVE into TARGET/<app_name>/, applying only the delta
against the recorded deploy state. An unchanged app costs zero
filesystem writes. State is committed only after every change landed.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			e := engine.New(filesystem.NewOS(), cfg, crypterFromFlags())
			result, err := e.Sideload(engine.SideloadRequest{
				ArchivePath: args[0],
				TargetDir:   targetDir,
				DryRun:      dryRun,
			})
			if err != nil {
				return err
			}

			label := string(result.Status)
			if dryRun {
				label += " (dry run)"
			}
			fmt.Println(formatStatusLine(label, result.AppDir))
			created, updated, removed := result.ChangeSet.Counts()
			fmt.Printf("  created: %d  updated: %d  removed: %d  unchanged: %d\n",
				created, updated, removed, len(result.ChangeSet.Unchanged))
			for _, p := range result.ChangeSet.Preserved {
				fmt.Printf("  preserved: %s\n", p)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&targetDir, "target", "t", "", "Apps root directory (required)")
	_ = cmd.MarkFlagRequired("target")
	return cmd
}
