package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/chazu/stmweave/pkg/bytecode"
	"github.com/chazu/stmweave/pkg/stm"
	"github.com/chazu/stmweave/pkg/stm/stmtest"
	"github.com/chazu/stmweave/weave"
)

func newRunCommand() *cobra.Command {
	var (
		method   string
		args     []string
		kind     string
		script   []string
		weaveIn  bool
		maxSteps int
	)
	cmd := &cobra.Command{
		Use:   "run [files...] --method owner.name(desc)",
		Short: "Execute a method of class units in the reference interpreter",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, files []string) error {
			owner, name, desc, err := parseMethodRef(method)
			if err != nil {
				return err
			}
			units, err := readUnits(files)
			if err != nil {
				return err
			}

			vm := bytecode.NewVM()
			vm.MaxSteps = maxSteps
			addrs := stm.NewAddressTable()

			var scripted *stmtest.Context
			switch kind {
			case "direct":
				ctx := &stm.DirectContext{VM: vm, Addresses: addrs}
				stm.Bind(vm, func() stm.Context { return ctx }, addrs)
			case "scripted":
				outcomes := make([]stmtest.Outcome, 0, len(script))
				for _, s := range script {
					o, err := stmtest.ParseOutcome(s)
					if err != nil {
						return err
					}
					outcomes = append(outcomes, o)
				}
				scripted = stmtest.New(vm, addrs, outcomes...)
				stm.Bind(vm, func() stm.Context { return scripted }, addrs)
			default:
				return fmt.Errorf("unknown context %q: want direct or scripted", kind)
			}

			var w *weave.Weaver
			if weaveIn {
				cfg, err := project.WeaveConfig(weave.NewAttemptCounter())
				if err != nil {
					return err
				}
				w = weave.New(cfg)
			}
			classes := map[string]*bytecode.Class{}
			for _, u := range units {
				c, err := bytecode.Unmarshal(u.data)
				if err != nil {
					return fmt.Errorf("%s: %w", u.source, err)
				}
				if w != nil {
					if c, _, err = w.Weave(c); err != nil {
						return fmt.Errorf("%s: %w", u.source, err)
					}
				}
				vm.Load(c)
				classes[c.Name] = c
			}

			c, ok := classes[owner]
			if !ok {
				return fmt.Errorf("class %s is not among the inputs", owner)
			}
			m := c.Method(name, desc)
			if m == nil {
				return fmt.Errorf("%s.%s%s: %w", owner, name, desc, bytecode.ErrNoSuchMethod)
			}
			values, err := convertArgs(desc, args)
			if err != nil {
				return err
			}
			if !m.IsStatic() {
				recv, err := newReceiver(vm, c)
				if err != nil {
					return err
				}
				values = append([]bytecode.Value{recv}, values...)
			}

			ret, err := vm.Invoke(owner, name, desc, values...)
			out := cmd.OutOrStdout()
			if scripted != nil {
				fmt.Fprintf(out, "attempts: %d, commits: %d, rollbacks: %d\n",
					len(scripted.Attempts), scripted.Commits, scripted.Rollbacks)
			}
			if thrown, ok := bytecode.AsThrown(err); ok {
				return fmt.Errorf("uncaught %s: %s", thrown.Object.Class, thrown.Message())
			}
			if err != nil {
				return err
			}
			if !strings.HasSuffix(desc, ")V") {
				fmt.Fprintln(out, formatValue(ret))
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&method, "method", "m", "", "method to invoke, as owner.name(desc)")
	cmd.Flags().StringArrayVarP(&args, "arg", "a", nil, "argument value, repeat in parameter order")
	cmd.Flags().StringVar(&kind, "context", "direct", "transaction context: direct or scripted")
	cmd.Flags().StringSliceVar(&script, "script", nil, "per-attempt outcomes of the scripted context (proceed, conflict, abort, commit-conflict)")
	cmd.Flags().BoolVar(&weaveIn, "weave", false, "weave the inputs before loading them")
	cmd.Flags().IntVar(&maxSteps, "max-steps", 10_000_000, "instruction budget, 0 for none")
	_ = cmd.MarkFlagRequired("method")
	return cmd
}

// parseMethodRef splits owner.name(desc).
func parseMethodRef(ref string) (owner, name, desc string, err error) {
	open := strings.IndexByte(ref, '(')
	if open < 0 {
		return "", "", "", fmt.Errorf("method %q has no descriptor", ref)
	}
	dot := strings.LastIndexByte(ref[:open], '.')
	if dot <= 0 {
		return "", "", "", fmt.Errorf("method %q has no owner", ref)
	}
	owner, name, desc = ref[:dot], ref[dot+1:open], ref[open:]
	if _, err := bytecode.ParseMethodType(desc); err != nil {
		return "", "", "", err
	}
	return owner, name, desc, nil
}

// convertArgs parses command line values by parameter type.
func convertArgs(desc string, args []string) ([]bytecode.Value, error) {
	mt, err := bytecode.ParseMethodType(desc)
	if err != nil {
		return nil, err
	}
	if len(args) != len(mt.Args) {
		return nil, fmt.Errorf("%s takes %d arguments, got %d", desc, len(mt.Args), len(args))
	}
	values := make([]bytecode.Value, len(args))
	for i, t := range mt.Args {
		if values[i], err = convertArg(t, args[i]); err != nil {
			return nil, fmt.Errorf("argument %d: %w", i+1, err)
		}
	}
	return values, nil
}

func convertArg(t bytecode.Type, s string) (bytecode.Value, error) {
	switch t.Sort {
	case bytecode.SortBoolean:
		b, err := strconv.ParseBool(s)
		if err != nil {
			return nil, err
		}
		if b {
			return int32(1), nil
		}
		return int32(0), nil
	case bytecode.SortChar, bytecode.SortByte, bytecode.SortShort, bytecode.SortInt:
		n, err := strconv.ParseInt(s, 0, 32)
		return int32(n), err
	case bytecode.SortLong:
		return strconv.ParseInt(s, 0, 64)
	case bytecode.SortFloat:
		f, err := strconv.ParseFloat(s, 32)
		return float32(f), err
	case bytecode.SortDouble:
		return strconv.ParseFloat(s, 64)
	}
	if s == "null" {
		return nil, nil
	}
	if t.InternalName() == bytecode.ClassString {
		return s, nil
	}
	return nil, fmt.Errorf("cannot pass %q as %s", s, t)
}

// newReceiver allocates an instance of c and runs its no-argument
// constructor when it has one.
func newReceiver(vm *bytecode.VM, c *bytecode.Class) (*bytecode.Object, error) {
	obj := vm.NewObject(c.Name)
	if c.Method("<init>", "()V") == nil {
		return obj, nil
	}
	if _, err := vm.Invoke(c.Name, "<init>", "()V", obj); err != nil {
		return nil, err
	}
	return obj, nil
}

func formatValue(v bytecode.Value) string {
	switch x := v.(type) {
	case nil:
		return "null"
	case string:
		return strconv.Quote(x)
	case *bytecode.Object:
		return x.Class + "@object"
	case *bytecode.Array:
		parts := make([]string, len(x.Data))
		for i, e := range x.Data {
			parts[i] = formatValue(e)
		}
		return "[" + strings.Join(parts, ", ") + "]"
	}
	return fmt.Sprint(v)
}
