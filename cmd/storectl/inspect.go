package main

import (
	"fmt"

	"github.com/spf13/cobra"

	stores "github.com/goliatone/go-stores"
	"github.com/goliatone/go-stores/schema/openapi"
)

const (
	formatDescriptors = "descriptors"
	formatOpenAPI     = "openapi"
)

func newInspectCmd(flags *globalFlags) *cobra.Command {
	var (
		scopePath string
		format    string
	)
	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "List the keys visible from each scope",
		Long: `Mounts the tree and prints, per scope path, every visible key with its type, layer and owner.
With --format openapi the same information is rendered as an OpenAPI document.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if format != formatDescriptors && format != formatOpenAPI {
				return fmt.Errorf("unknown format %q (want %s or %s)", format, formatDescriptors, formatOpenAPI)
			}
			ctx := cmd.Context()
			s, err := openSession(ctx, flags, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer s.close(ctx)

			paths := s.mounted.Paths()
			if scopePath != "" {
				paths = []string{scopePath}
			}
			scopes := make(map[string]*stores.Scope, len(paths))
			for _, path := range paths {
				scope, err := s.scope(path)
				if err != nil {
					return err
				}
				scopes[path] = scope
			}

			if format == formatOpenAPI {
				doc, err := openapi.NewGenerator(openapi.WithInfo(s.root, "")).Generate(scopes)
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), doc)
			}
			out := make(map[string][]stores.FieldDescriptor, len(scopes))
			for path, scope := range scopes {
				fields, err := scope.Describe()
				if err != nil {
					return err
				}
				out[path] = fields
			}
			return writeJSON(cmd.OutOrStdout(), out)
		},
	}
	cmd.Flags().StringVar(&scopePath, "scope", "", "only describe the scope at this path")
	cmd.Flags().StringVar(&format, "format", formatDescriptors, "output format: descriptors or openapi")
	return cmd
}
