// weave instruments class units for software transactional memory and
// runs them in the reference interpreter.
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"

	"github.com/chazu/stmweave/manifest"
)

var (
	configPath string
	verbosity  int

	// project is the configuration loaded before any command runs.
	project *manifest.Manifest
)

func main() {
	rootCmd := &cobra.Command{
		Use:          "weave",
		Short:        "Instrument class units for software transactional memory",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			commonlog.Configure(verbosity, nil)
			m, err := loadManifest(configPath)
			if err != nil {
				return err
			}
			project = m
			return nil
		},
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "weave.toml file or directory (default: search upwards from the working directory)")
	rootCmd.PersistentFlags().CountVarP(&verbosity, "verbose", "v", "log verbosity, repeat for more")

	rootCmd.AddCommand(
		newInstrumentCommand(),
		newDumpCommand(),
		newAsmCommand(),
		newRunCommand(),
	)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadManifest reads the configuration named by path, or the nearest
// weave.toml when path is empty, falling back to the defaults.
func loadManifest(path string) (*manifest.Manifest, error) {
	if path == "" {
		m, err := manifest.FindAndLoad(".")
		if err != nil {
			return nil, err
		}
		if m == nil {
			return manifest.Default(), nil
		}
		return m, nil
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config: %w", err)
	}
	if info.IsDir() {
		return manifest.Load(path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}
	m, err := manifest.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}
	if m.Dir, err = filepath.Abs(filepath.Dir(path)); err != nil {
		return nil, err
	}
	return m, nil
}
