package main

import (
	"fmt"

	"github.com/davecgh/go-spew/spew"
	"github.com/spf13/cobra"

	"github.com/chazu/stmweave/pkg/bytecode"
)

var dumpConfig = spew.ConfigState{
	Indent:                  "  ",
	DisablePointerAddresses: true,
	DisableCapacities:       true,
	SortKeys:                true,
}

func newDumpCommand() *cobra.Command {
	var structure bool
	cmd := &cobra.Command{
		Use:   "dump [files...]",
		Short: "Print the assembly listing of class units",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			units, err := readUnits(args)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, u := range units {
				c, err := bytecode.Unmarshal(u.data)
				if err != nil {
					return fmt.Errorf("%s: %w", u.source, err)
				}
				if structure {
					dumpConfig.Fdump(out, c)
					continue
				}
				fmt.Fprint(out, bytecode.Disassemble(c))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&structure, "structure", false, "print the decoded structure instead of assembly")
	return cmd
}

func newAsmCommand() *cobra.Command {
	var outDir string
	cmd := &cobra.Command{
		Use:   "asm [files...]",
		Short: "Assemble .jasm files and .txtar archives into class units",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			units, err := readUnits(args)
			if err != nil {
				return err
			}
			for _, u := range units {
				c, err := bytecode.Unmarshal(u.data)
				if err != nil {
					return fmt.Errorf("%s: %w", u.source, err)
				}
				path, err := writeUnit(outDir, c.Name, u.data)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s -> %s\n", u.source, path)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&outDir, "output", "o", ".", "output directory")
	return cmd
}
