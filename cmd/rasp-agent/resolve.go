package main

import (
	"fmt"

	"github.com/dagbolade/rasp-agent/internal/pathpolicy"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
)

var resolveFlags struct {
	intents        []string
	useIncludePath bool
}

var resolveCmd = &cobra.Command{
	Use:   "resolve <path>",
	Short: "Show how a file path is resolved for a check",
	Long: `Resolve a path the way the file checks do, using the open_basedir,
include_path, working_dir and scheme settings of the configuration.

Examples:
  rasp-agent resolve /var/www/html/index.php
  rasp-agent resolve ftp://example.com/a.txt --intent write
  rasp-agent resolve lib.php --include-path --intent read`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		intents, err := pathpolicy.ParseIntents(resolveFlags.intents...)
		if err != nil {
			return err
		}

		resolver := pathpolicy.NewResolver(afero.NewOsFs(), pathpolicy.DefaultWrappers(), cfg.PathConfig)
		resolved, ok := resolver.Resolve(args[0], resolveFlags.useIncludePath, intents)
		if !ok {
			return fmt.Errorf("%s is not resolvable for %s", args[0], intents)
		}

		fmt.Fprintln(cmd.OutOrStdout(), resolved)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(resolveCmd)
	resolveCmd.Flags().StringSliceVar(&resolveFlags.intents, "intent", []string{"read"}, "access intents: read, write, append, rename_src, rename_dest, unlink, opendir, simultaneous_rw")
	resolveCmd.Flags().BoolVar(&resolveFlags.useIncludePath, "include-path", false, "search include_path for relative paths")
}
