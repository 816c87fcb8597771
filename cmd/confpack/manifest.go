package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/arthur-debert/confpack/pkg/engine"
	"github.com/arthur-debert/confpack/pkg/filesystem"
)

func newManifestCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "manifest ARCHIVE",
		Short: "List an archive's manifest",
		Long: `Print the file manifest of an app archive: paths, content hashes,
sizes, and modes, plus the archive fingerprint. Archives without an
embedded manifest get one rebuilt from their contents.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			e := engine.New(filesystem.NewOS(), cfg, crypterFromFlags())
			man, err := e.ListManifest(args[0])
			if err != nil {
				return err
			}

			if asJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(man)
			}

			fmt.Println(formatStatusLine(man.AppName, args[0]))
			if man.Version != "" {
				fmt.Printf("  version:     %s\n", man.Version)
			}
			fmt.Printf("  fingerprint: %s\n", man.Fingerprint)
			fmt.Printf("  files:       %d\n", len(man.Files))
			for _, f := range man.Files {
				fmt.Printf("  %04o  %10d  %s  %s\n", f.Mode.Perm(), f.Size, f.Hash[:12], f.Path)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit the manifest as JSON")
	return cmd
}
