package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"hogflow/internal/templates"
)

func validateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <template file>...",
		Short: "Check template files for script, schema and filter errors",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return validateFiles(cmd.OutOrStdout(), args)
		},
	}
}

func validateFiles(out io.Writer, paths []string) error {
	failed := 0
	for _, path := range paths {
		t, err := templates.LoadFile(path)
		if err != nil {
			failed++
			fmt.Fprintf(out, "FAIL %v\n", err)
			continue
		}
		fmt.Fprintf(out, "ok   %s (%s, %d inputs)\n", path, t.ID, len(t.InputsSchema))
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d templates invalid", failed, len(paths))
	}
	return nil
}

func templatesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "templates",
		Short: "List the builtin templates",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ts, err := templates.Builtins()
			if err != nil {
				return err
			}
			for _, t := range ts {
				fmt.Fprintf(cmd.OutOrStdout(), "%-24s %-10s %s\n", t.ID, t.Status, t.Name)
			}
			return nil
		},
	}
}
