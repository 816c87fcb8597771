package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/arthur-debert/confpack/pkg/config"
	"github.com/arthur-debert/confpack/pkg/engine"
	"github.com/arthur-debert/confpack/pkg/errors"
	"github.com/arthur-debert/confpack/pkg/filesystem"
	"github.com/arthur-debert/confpack/pkg/template"
)

func newPackageCmd() *cobra.Command {
	var (
		appName   string
		version   string
		outputDir string
		vars      []string
		strict    bool
	)

	cmd := &cobra.Command{
		Use:   "package SOURCE_DIR",
		Short: "Build an app archive from layered sources",
		Long: `Compose the layer directories under SOURCE_DIR, render templates,
and write a content-addressed archive. An existing archive with the
same fingerprint is left untouched and reported as skipped.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var overrides map[string]interface{}
			if cmd.Flags().Changed("strict") {
				overrides = map[string]interface{}{"package.strict": strict}
			}
			cfg, err := config.LoadWithOverrides(configPath, overrides)
			if err != nil {
				return err
			}

			templateVars, err := parseVars(vars)
			if err != nil {
				return err
			}

			name := appName
			if name == "" {
				name = appNameFromSource(args[0])
			}

			e := engine.New(filesystem.NewOS(), cfg, crypterFromFlags())
			result, err := e.Package(engine.PackageRequest{
				AppName:      name,
				SourceDir:    strings.TrimSuffix(args[0], "/"),
				Version:      version,
				TemplateVars: templateVars,
				OutputDir:    outputDir,
			})
			if err != nil {
				return err
			}

			fmt.Println(formatStatusLine(string(result.Status), result.ArchivePath))
			fmt.Printf("  app:         %s\n", name)
			if result.Manifest.Version != "" {
				fmt.Printf("  version:     %s\n", result.Manifest.Version)
			}
			fmt.Printf("  layers:      %s\n", strings.Join(result.Layers, ", "))
			fmt.Printf("  files:       %d\n", len(result.Manifest.Files))
			fmt.Printf("  fingerprint: %s\n", result.Manifest.Fingerprint)
			return nil
		},
	}

	cmd.Flags().StringVar(&appName, "app", "", "App name (default: source directory base name)")
	cmd.Flags().StringVar(&version, "app-version", "", "Version override (default: from app.conf)")
	cmd.Flags().StringVarP(&outputDir, "output", "o", "", "Output directory (default: from config)")
	cmd.Flags().StringArrayVar(&vars, "var", nil, "Template variable as key=value (repeatable)")
	cmd.Flags().BoolVar(&strict, "strict", false, "Fail on same-rank layer conflicts")
	return cmd
}

// parseVars turns repeated key=value flags into a template context.
func parseVars(pairs []string) (template.Context, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	vars := template.Context{}
	for _, pair := range pairs {
		key, value, found := strings.Cut(pair, "=")
		if !found || key == "" {
			return nil, errors.Newf(errors.ErrInvalidInput, "--var needs key=value, got %q", pair)
		}
		vars[key] = value
	}
	return vars, nil
}

func appNameFromSource(sourceDir string) string {
	trimmed := strings.TrimSuffix(sourceDir, "/")
	if idx := strings.LastIndex(trimmed, "/"); idx >= 0 {
		return trimmed[idx+1:]
	}
	return trimmed
}
