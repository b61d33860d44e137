package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	stores "github.com/goliatone/go-stores"
	"github.com/goliatone/go-stores/pkg/definition"
)

type globalFlags struct {
	file       string
	production bool
	verbose    bool
}

func newRootCmd() *cobra.Command {
	flags := &globalFlags{}
	cmd := &cobra.Command{
		Use:           "storectl",
		Short:         "storectl inspects and drives scope trees declared in YAML",
		Long:          `storectl mounts a scope tree from a YAML definition, applies writes and dispatches, and prints the resulting values as JSON.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVarP(&flags.file, "file", "f", "", "YAML definition of the scope tree")
	cmd.PersistentFlags().BoolVar(&flags.production, "production", false, "log missing owners and handlers instead of failing")
	cmd.PersistentFlags().BoolVarP(&flags.verbose, "verbose", "v", false, "log debug output to stderr")

	cmd.AddCommand(newInspectCmd(flags), newRunCmd(flags))
	return cmd
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// session is a mounted definition together with its tree.
type session struct {
	tree    *stores.Tree
	mounted definition.Mounted
	root    string
}

func openSession(ctx context.Context, flags *globalFlags, stderr io.Writer) (*session, error) {
	if flags.file == "" {
		return nil, fmt.Errorf("--file is required")
	}
	node, err := definition.Load(flags.file)
	if err != nil {
		return nil, err
	}

	level := slog.LevelWarn
	if flags.verbose {
		level = slog.LevelDebug
	}
	mode := stores.ModeDevelopment
	if flags.production {
		mode = stores.ModeProduction
	}
	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level}))
	tree := stores.New(
		stores.WithMode(mode),
		stores.WithLogger(logger),
		stores.WithEvaluatorLogger(stores.SlogEvaluatorLogger(logger)),
	)

	mounted, err := node.Mount(ctx, tree, nil)
	if err != nil {
		_ = tree.Close(ctx)
		return nil, err
	}
	paths := mounted.Paths()
	return &session{tree: tree, mounted: mounted, root: paths[0]}, nil
}

func (s *session) scope(path string) (*stores.Scope, error) {
	if path == "" {
		path = s.root
	}
	scope, ok := s.mounted[path]
	if !ok {
		return nil, fmt.Errorf("unknown scope %q (have %s)", path, strings.Join(s.mounted.Paths(), ", "))
	}
	return scope, nil
}

func (s *session) close(ctx context.Context) {
	_ = s.tree.Close(ctx)
}

func writeJSON(w io.Writer, value any) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(value)
}
