package main

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"badgeup.io/relay/internal/position"
)

func newResolveCommand(opts *RootOptions) *cobra.Command {
	var at string
	cmd := &cobra.Command{
		Use:   "resolve <x> <y> <z>",
		Short: "Resolve a coordinate spec (\"~\" is relative) against an origin",
		Example: `  relay resolve --at 10,64,-3 '~5' '~' 3
  relay resolve --at 0,0,0 -- -4 '~' '~-2'`,
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			origin, err := parseVec(at)
			if err != nil {
				return fmt.Errorf("--at: %w", err)
			}
			spec, err := position.ParseSpec(args)
			if err != nil {
				return err
			}
			p, err := position.Resolve(spec, origin)
			if err != nil {
				return err
			}
			if opts.Format == "json" {
				return json.NewEncoder(cmd.OutOrStdout()).Encode(p.Array())
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), p.String())
			return err
		},
	}
	cmd.Flags().StringVar(&at, "at", "0,0,0", "origin as x,y,z")
	return cmd
}

func parseVec(s string) (position.Vec3, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 3 {
		return position.Vec3{}, fmt.Errorf("want x,y,z, got %q", s)
	}
	var a [3]float64
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return position.Vec3{}, err
		}
		a[i] = f
	}
	return position.FromArray(a), nil
}
