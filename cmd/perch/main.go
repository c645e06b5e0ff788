// Command perch is the store from the command line: one-shot reads and
// writes against a chosen engine, plus the JSON rpc surface.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/golang-cz/devslog"
	"github.com/spf13/cobra"

	"perch"
	"perch/dispatch"
	"perch/engine/bolt"
	"perch/engine/sqlite"
	"perch/enginestore"
	"perch/memstore"
	"perch/registry"
	"perch/uid"
)

type rootOptions struct {
	Engine string
	Path   string
	Pretty bool
}

var validEngines = []string{"memory", "bolt", "sqlite"}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "perch",
		Short: "transactional key-value store",
		Long: `Perch keeps keyed byte values behind serialized write transactions.

The one-shot commands (get, put, del, has) run a single operation against
the configured engine. The rpc command drives the JSON command surface the
embedding API speaks, against a registry of named databases.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidEngine(opts.Engine) {
				return fmt.Errorf("invalid engine %q: must be one of %v", opts.Engine, validEngines)
			}
			configureLogging(opts.Pretty)
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&opts.Engine, "engine", "memory", "storage engine (memory|bolt|sqlite)")
	cmd.PersistentFlags().StringVar(&opts.Path, "path", "perch.db", "database file for the durable engines")
	cmd.PersistentFlags().BoolVar(&opts.Pretty, "pretty", false, "human-oriented log output")

	cmd.AddCommand(newGetCommand(opts))
	cmd.AddCommand(newPutCommand(opts))
	cmd.AddCommand(newDelCommand(opts))
	cmd.AddCommand(newHasCommand(opts))
	cmd.AddCommand(newRpcCommand(opts))

	return cmd
}

func newGetCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:          "get <key>",
		Short:        "Read one value",
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openStore(opts)
			if err != nil {
				return err
			}
			defer closeStore(s)

			v, ok, err := s.Get(args[0])
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("%q not found", args[0])
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(v))
			return nil
		},
	}
}

func newPutCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:          "put <key> <value>",
		Short:        "Write one value",
		Args:         cobra.ExactArgs(2),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openStore(opts)
			if err != nil {
				return err
			}
			defer closeStore(s)
			return s.Put(args[0], []byte(args[1]))
		},
	}
}

func newDelCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:          "del <key>",
		Short:        "Delete one key",
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openStore(opts)
			if err != nil {
				return err
			}
			defer closeStore(s)

			wt, err := s.Write()
			if err != nil {
				return err
			}
			if err := wt.Del(args[0]); err != nil {
				_ = wt.Rollback()
				return err
			}
			return wt.Commit()
		},
	}
}

func newHasCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:          "has <key>",
		Short:        "Report whether a key is present",
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openStore(opts)
			if err != nil {
				return err
			}
			defer closeStore(s)

			ok, err := s.Has(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), ok)
			return nil
		},
	}
}

func newRpcCommand(opts *rootOptions) *cobra.Command {
	var dir string

	cmd := &cobra.Command{
		Use:          "rpc <db> <rpc> [payload]",
		Short:        "Drive the JSON command surface",
		Args:         cobra.RangeArgs(2, 3),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			var payload []byte
			if len(args) == 3 {
				payload = []byte(args[2])
			}

			d := dispatch.New(registry.New(rpcOpener(opts, dir)))
			defer func() {
				if err := d.Shutdown(); err != nil {
					slog.Warn("shutting down", "error", err)
				}
			}()

			log := slog.With("request", uid.New(), "db", args[0], "rpc", args[1])
			log.Debug("dispatching rpc")

			resp, err := d.Dispatch(args[0], args[1], payload)
			if err != nil {
				return err
			}
			if len(resp) > 0 {
				fmt.Fprintln(cmd.OutOrStdout(), string(resp))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&dir, "dir", ".", "directory holding the durable databases, one file per name")

	return cmd
}

// openStore builds the store for the one-shot commands: the durable
// engines open the --path file, memory opens fresh.
func openStore(opts *rootOptions) (perch.Store, error) {
	switch opts.Engine {
	case "bolt":
		eng, err := bolt.Open(opts.Path)
		if err != nil {
			return nil, err
		}
		return enginestore.New(eng), nil
	case "sqlite":
		eng, err := sqlite.Open(opts.Path)
		if err != nil {
			return nil, err
		}
		return enginestore.New(eng), nil
	default:
		return memstore.New(), nil
	}
}

// rpcOpener maps database names onto engine files under dir. The durable
// openers degrade to memory when the engine reports itself unavailable.
func rpcOpener(opts *rootOptions, dir string) registry.Opener {
	memory := func(string) (perch.Store, error) { return memstore.New(), nil }

	durable := func(open func(path string) (perch.Store, error)) registry.Opener {
		return registry.Fallback(func(name string) (perch.Store, error) {
			return open(filepath.Join(dir, name+".db"))
		}, memory)
	}

	switch opts.Engine {
	case "bolt":
		return durable(func(path string) (perch.Store, error) {
			eng, err := bolt.Open(path)
			if err != nil {
				return nil, err
			}
			return enginestore.New(eng), nil
		})
	case "sqlite":
		return durable(func(path string) (perch.Store, error) {
			eng, err := sqlite.Open(path)
			if err != nil {
				return nil, err
			}
			return enginestore.New(eng), nil
		})
	default:
		return memory
	}
}

func closeStore(s perch.Store) {
	if err := s.Close(); err != nil {
		slog.Warn("closing store", "error", err)
	}
}

func configureLogging(pretty bool) {
	if pretty {
		logOpts := &devslog.Options{HandlerOptions: &slog.HandlerOptions{
			Level: slog.LevelDebug,
		}}
		slog.SetDefault(slog.New(devslog.NewHandler(os.Stderr, logOpts)))
		return
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, nil)))
}

func isValidEngine(engine string) bool {
	for _, e := range validEngines {
		if e == engine {
			return true
		}
	}
	return false
}
