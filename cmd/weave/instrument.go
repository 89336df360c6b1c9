package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/chazu/stmweave/cache"
	"github.com/chazu/stmweave/manifest"
	"github.com/chazu/stmweave/pkg/bytecode"
	"github.com/chazu/stmweave/weave"
)

func newInstrumentCommand() *cobra.Command {
	var (
		outDir  string
		noCache bool
	)
	cmd := &cobra.Command{
		Use:   "instrument [files...]",
		Short: "Weave class units for transactional execution",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in, err := openInstrumenter(project, noCache)
			if err != nil {
				return err
			}
			defer in.Close()

			units, err := readUnits(args)
			if err != nil {
				return err
			}
			for _, u := range units {
				out, summary, err := instrumentUnit(in.weaver, in.cache, in.fingerprint, u)
				if err != nil {
					return fmt.Errorf("%s: %w", u.source, err)
				}
				path, err := writeUnit(outDir, summary.Class, out)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s -> %s (%s)\n", u.source, path, describe(summary))
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&outDir, "output", "o", "woven", "output directory")
	cmd.Flags().BoolVar(&noCache, "no-cache", false, "ignore the instrumentation cache")
	return cmd
}

// instrumenter is the state one instrument run shares across its units.
type instrumenter struct {
	weaver      *weave.Weaver
	cache       *cache.Cache // nil when caching is off
	fingerprint string
}

// openInstrumenter opens the cache named by m unless caching is off, and
// starts the attempt counter past every identifier already cached.
func openInstrumenter(m *manifest.Manifest, noCache bool) (*instrumenter, error) {
	fingerprint, err := m.Fingerprint()
	if err != nil {
		return nil, err
	}
	in := &instrumenter{fingerprint: fingerprint}
	var next int32
	if !noCache && !m.Cache.Disabled {
		if in.cache, err = cache.Open(m.CachePath()); err != nil {
			return nil, err
		}
		if next, err = in.cache.NextAttempt(); err != nil {
			in.Close()
			return nil, err
		}
	}
	cfg, err := m.WeaveConfig(weave.NewAttemptCounterFrom(next))
	if err != nil {
		in.Close()
		return nil, err
	}
	in.weaver = weave.New(cfg)
	return in, nil
}

func (in *instrumenter) Close() error {
	if in.cache == nil {
		return nil
	}
	return in.cache.Close()
}

type summary struct {
	weave.Report
	Cached bool
}

// instrumentUnit weaves one unit, consulting c first when it is not nil.
// Cached outputs keep the attempt ids of the run that wove them, so w's
// counter must start past every id in c.
func instrumentUnit(w *weave.Weaver, c *cache.Cache, fingerprint string, u unit) ([]byte, summary, error) {
	key := cache.Key(u.data, fingerprint)
	if c != nil {
		out, ok, err := c.Get(key)
		if err != nil {
			return nil, summary{}, err
		}
		if ok {
			cls, err := bytecode.Unmarshal(out)
			if err != nil {
				return nil, summary{}, err
			}
			return out, summary{Report: weave.Report{Class: cls.Name}, Cached: true}, nil
		}
	}

	out, rep, err := w.WeaveBytes(u.data)
	if err != nil {
		return nil, summary{}, err
	}
	if c != nil {
		version, err := bytecode.PeekVersion(out)
		if err != nil {
			return nil, summary{}, err
		}
		if err := c.Put(key, out, version, rep.LastAttempt()); err != nil {
			return nil, summary{}, err
		}
	}
	return out, summary{Report: rep}, nil
}

func describe(s summary) string {
	switch {
	case s.Cached:
		return "cached"
	case s.Skipped:
		return "excluded"
	}
	return fmt.Sprintf("%d twins, %d atomic, %d barriers", s.Twins, s.Atomic, s.Barriers())
}
