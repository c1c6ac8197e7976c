package main

import (
	"errors"
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"github.com/lecpa/docsync/internal/config"
)

var initConfigForce bool

var initConfigCmd = &cobra.Command{
	Use:   "init-config [path]",
	Short: "Write the default configuration file",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := "config.toml"
		if len(args) > 0 {
			path = args[0]
		}
		if _, err := os.Stat(path); err == nil && !initConfigForce {
			return fmt.Errorf("%s already exists (use --force to overwrite)", path)
		} else if err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
		if err := config.Write(path, config.Default()); err != nil {
			return err
		}
		cmd.Printf("Wrote default configuration to %s\n", path)
		return nil
	},
}

var validateCmd = &cobra.Command{
	Use:   "validate [path]",
	Short: "Load and validate a configuration file",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := configPath
		if len(args) > 0 {
			path = args[0]
		}
		cfg, err := config.Load(path)
		if err != nil {
			return err
		}
		printRules(cmd, cfg)
		cmd.Println("Configuration is valid.")
		return nil
	},
}

func init() {
	initConfigCmd.Flags().BoolVarP(&initConfigForce, "force", "f", false, "overwrite an existing file")
	rootCmd.AddCommand(initConfigCmd)
	rootCmd.AddCommand(validateCmd)
}

func printRules(cmd *cobra.Command, cfg *config.Config) {
	cmd.Printf("NAS root: %s (recursive=%v, debounce=%s)\n", cfg.NAS.RootPath, cfg.NAS.WatchRecursive, cfg.Debounce())
	cmd.Printf("API: %s\n", cfg.API.BaseURL)

	cmd.Println("\nClient patterns:")
	for _, p := range cfg.ClientPatterns {
		cmd.Printf("  %-10s %s\n", p.Type, p.Pattern)
	}
	cmd.Printf("\nYear pattern: %s\n", cfg.YearPattern)

	cmd.Println("\nSpecial folders:")
	names := make([]string, 0, len(cfg.SpecialFolders))
	for name := range cfg.SpecialFolders {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		sf := cfg.SpecialFolders[name]
		suffix := ""
		if sf.Permanent {
			suffix = " (permanent)"
		}
		cmd.Printf("  %-16s -> %s%s\n", name, sf.Tag, suffix)
	}

	cmd.Println("\nSkip patterns:")
	for _, p := range cfg.SkipPatterns {
		cmd.Printf("  %s\n", p)
	}

	cmd.Println("\nDocument tags:")
	for _, r := range cfg.DocumentTags {
		cmd.Printf("  %-12s %s\n", r.Tag, r.Pattern)
	}
	cmd.Println()
}
