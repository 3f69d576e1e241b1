package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/sambigeara/dgram/pkg/config"
	"github.com/sambigeara/dgram/pkg/workspace"
)

func runConfigInit(cmd *cobra.Command, _ []string) error {
	dirFlag, _ := cmd.Flags().GetString("dir")
	force, _ := cmd.Flags().GetBool("force")

	dir, err := workspace.EnsureDir(dirFlag)
	if err != nil {
		return err
	}

	path := config.Path(dir)
	if _, err := os.Stat(path); err == nil && !force {
		return fmt.Errorf("%s already exists; use --force to overwrite", path)
	} else if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("stat config: %w", err)
	}

	if err := config.Save(dir, config.Default()); err != nil {
		return err
	}
	cmd.Printf("wrote %s\n", path)
	return nil
}
