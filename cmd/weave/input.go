package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/tools/txtar"

	"github.com/chazu/stmweave/pkg/bytecode"
)

// UnitExt is the file extension of serialized class units.
const UnitExt = ".stmc"

// unit is one class unit named on the command line.
type unit struct {
	source string
	data   []byte
}

// readUnits loads class units from files. A .jasm file holds one class in
// assembly, a .txtar archive holds any number of .jasm files, and anything
// else is taken as a serialized class unit.
func readUnits(paths []string) ([]unit, error) {
	var units []unit
	for _, path := range paths {
		switch filepath.Ext(path) {
		case ".txtar":
			ar, err := txtar.ParseFile(path)
			if err != nil {
				return nil, err
			}
			for _, f := range ar.Files {
				if !strings.HasSuffix(f.Name, ".jasm") {
					continue
				}
				u, err := assembleUnit(path+"#"+f.Name, string(f.Data))
				if err != nil {
					return nil, err
				}
				units = append(units, u)
			}
		case ".jasm":
			src, err := os.ReadFile(path)
			if err != nil {
				return nil, err
			}
			u, err := assembleUnit(path, string(src))
			if err != nil {
				return nil, err
			}
			units = append(units, u)
		default:
			data, err := os.ReadFile(path)
			if err != nil {
				return nil, err
			}
			units = append(units, unit{source: path, data: data})
		}
	}
	return units, nil
}

func assembleUnit(source, src string) (unit, error) {
	c, err := bytecode.Assemble(src)
	if err != nil {
		return unit{}, fmt.Errorf("%s: %w", source, err)
	}
	data, err := bytecode.Marshal(c)
	if err != nil {
		return unit{}, fmt.Errorf("%s: %w", source, err)
	}
	return unit{source: source, data: data}, nil
}

// writeUnit stores a class unit under dir, one directory per package.
func writeUnit(dir, class string, data []byte) (string, error) {
	path := filepath.Join(dir, filepath.FromSlash(class)+UnitExt)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", err
	}
	return path, nil
}
