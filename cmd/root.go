// Package cmd implements the discoverd command line.
package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"grimm.is/discoverd/internal/brand"
	"grimm.is/discoverd/internal/config"
	"grimm.is/discoverd/internal/logging"
)

// NewRootCommand builds the discoverd command tree.
func NewRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           brand.LowerName,
		Short:         "Bare-metal hardware discovery service",
		Version:       brand.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetVersionTemplate(fmt.Sprintf("%s version %s\nCommit: %s\nBuilt: %s\n",
		brand.LowerName, brand.Version, brand.GitCommit, brand.BuildTime))

	root.AddCommand(
		newServeCommand(),
		newIntrospectCommand(),
		newStatusCommand(),
		newRamdiskCommand(),
	)
	return root
}

// Execute runs the command line.
func Execute() error {
	return NewRootCommand().Execute()
}

// loadConfig reads path. A missing file at the default location means
// built-in defaults; an explicitly named file must exist.
func loadConfig(path string, explicit bool) (*config.Config, error) {
	cfg, err := config.LoadFile(path)
	if err == nil {
		return cfg, nil
	}
	if !explicit && errors.Is(err, os.ErrNotExist) {
		return config.Default(), nil
	}
	return nil, err
}

func newLogger(cfg *config.Logging, out io.Writer) (*logging.Logger, error) {
	level, err := logging.ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	return logging.New(logging.Config{Level: level, Output: out, JSON: cfg.JSON}), nil
}
