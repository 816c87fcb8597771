package main

import (
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/arthur-debert/confpack/internal/version"
	"github.com/arthur-debert/confpack/pkg/config"
	"github.com/arthur-debert/confpack/pkg/errors"
	"github.com/arthur-debert/confpack/pkg/logging"
	"github.com/arthur-debert/confpack/pkg/sealed"
	"github.com/arthur-debert/confpack/pkg/types"
)

var (
	verbosity  int
	dryRun     bool
	configPath string
	passphrase string

	rootCmd = &cobra.Command{
		Use:   "confpack",
		Short: "Package and deploy layered configuration apps",
		Long: `confpack builds configuration apps from prioritized source layers into
content-addressed archives, and deploys those archives idempotently:
unchanged apps cost zero filesystem writes, changed apps get exactly
the delta.`,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			logging.SetupLogger(verbosity)
			log.Debug().Str("command", cmd.Name()).Msg("Command started")
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}
)

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	err := rootCmd.Execute()
	if err != nil {
		printError(err)
	}
	return err
}

func init() {
	rootCmd.PersistentFlags().CountVarP(&verbosity, "verbose", "v", "Increase verbosity (-v INFO, -vv DEBUG, -vvv TRACE)")
	rootCmd.PersistentFlags().BoolVar(&dryRun, "dry-run", false, "Preview changes without executing them")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default ./"+config.ConfigFileName+")")
	rootCmd.PersistentFlags().StringVar(&passphrase, "passphrase", "", "Passphrase for encrypted archives (or CONFPACK_PASSPHRASE)")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(newPackageCmd())
	rootCmd.AddCommand(newSideloadCmd())
	rootCmd.AddCommand(newManifestCmd())
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("confpack version %s\n", version.Version)
		fmt.Printf("  commit: %s\n", version.Commit)
		fmt.Printf("  built:  %s\n", version.Date)
	},
}

// loadConfig resolves the run configuration for a command.
func loadConfig() (*config.Config, error) {
	return config.Load(configPath)
}

// crypterFromFlags builds the optional passphrase crypter. The
// --passphrase flag wins over the CONFPACK_PASSPHRASE variable; both
// absent means plaintext operation.
func crypterFromFlags() types.Crypter {
	pass := passphrase
	if pass == "" {
		pass = os.Getenv("CONFPACK_PASSPHRASE")
	}
	if pass == "" {
		return nil
	}
	return sealed.NewPassphraseCrypter(pass)
}

func printError(err error) {
	code := errors.GetErrorCode(err)
	fmt.Println(formatError(fmt.Sprintf("error [%s]: %v", code, err)))
}
