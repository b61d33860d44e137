package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	stores "github.com/goliatone/go-stores"
)

type runFlags struct {
	scope    string
	sets     []string
	dispatch []string
	gets     []string
	traces   []string
}

type dispatchResult struct {
	Action string `json:"action"`
	Result any    `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`
}

type runReport struct {
	Scope      string                  `json:"scope"`
	Dispatched []dispatchResult        `json:"dispatched,omitempty"`
	Values     map[string]any          `json:"values,omitempty"`
	Traces     map[string]stores.Trace `json:"traces,omitempty"`
	Revision   uint64                  `json:"revision"`
}

func newRunCmd(flags *globalFlags) *cobra.Command {
	opts := &runFlags{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Apply writes and dispatches to a scope and print the result",
		Long: `Mounts the tree, applies every --set in order, then every --dispatch in order,
waiting for each handler, and finally reads every --get and --trace key.
Values are parsed as YAML scalars, so 3 is a number and true a boolean.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			s, err := openSession(ctx, flags, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer s.close(ctx)

			scope, err := s.scope(opts.scope)
			if err != nil {
				return err
			}
			report := runReport{Scope: scope.Tag()}

			for _, raw := range opts.sets {
				key, value, err := parseAssignment(raw, true)
				if err != nil {
					return err
				}
				if err := scope.Set(ctx, key, value); err != nil {
					return err
				}
			}
			for _, raw := range opts.dispatch {
				action, value, err := parseAssignment(raw, false)
				if err != nil {
					return err
				}
				var payload []any
				if value != nil {
					payload = append(payload, value)
				}
				result := dispatchResult{Action: action}
				out, err := scope.Dispatch(ctx, action, payload...).Await(ctx)
				if err != nil {
					result.Error = err.Error()
				} else {
					result.Result = out
				}
				report.Dispatched = append(report.Dispatched, result)
			}
			if len(opts.gets) > 0 {
				report.Values = make(map[string]any, len(opts.gets))
				for _, key := range opts.gets {
					value, err := scope.Get(key)
					if err != nil {
						return err
					}
					report.Values[key] = value
				}
			}
			if len(opts.traces) > 0 {
				report.Traces = make(map[string]stores.Trace, len(opts.traces))
				for _, key := range opts.traces {
					trace, err := scope.Trace(key)
					if err != nil {
						return err
					}
					report.Traces[key] = trace
				}
			}
			report.Revision = scope.Revision()
			return writeJSON(cmd.OutOrStdout(), report)
		},
	}
	cmd.Flags().StringVar(&opts.scope, "scope", "", "scope path such as app/page (defaults to the root)")
	cmd.Flags().StringArrayVar(&opts.sets, "set", nil, "key=value write, repeatable")
	cmd.Flags().StringArrayVar(&opts.dispatch, "dispatch", nil, "action or action=value dispatch, repeatable")
	cmd.Flags().StringArrayVar(&opts.gets, "get", nil, "key to read, repeatable")
	cmd.Flags().StringArrayVar(&opts.traces, "trace", nil, "key to trace, repeatable")
	return cmd
}

// parseAssignment splits name=value and decodes value as a YAML scalar.
func parseAssignment(raw string, valueRequired bool) (string, any, error) {
	name, text, found := strings.Cut(raw, "=")
	name = strings.TrimSpace(name)
	if name == "" {
		return "", nil, fmt.Errorf("invalid assignment %q", raw)
	}
	if !found {
		if valueRequired {
			return "", nil, fmt.Errorf("invalid assignment %q: expected key=value", raw)
		}
		return name, nil, nil
	}
	var value any
	if err := yaml.Unmarshal([]byte(text), &value); err != nil {
		return "", nil, fmt.Errorf("invalid value in %q: %w", raw, err)
	}
	return name, value, nil
}
