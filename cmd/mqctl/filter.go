package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/paulmach/orb/geojson"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/mohammed-shakir/mapbook-query/internal/filter"
	"github.com/mohammed-shakir/mapbook-query/internal/results"
)

func filterCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "filter <expression>",
		Short: "Apply a filter expression to a GeoJSON FeatureCollection",
		Long: `Reads a FeatureCollection from --features (or stdin) and prints the
features matching every expression given. Without input features the
expressions are only validated.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFilter(cmd, v, args)
		},
	}
	cmd.Flags().String("features", "", "GeoJSON file, - for stdin")
	return cmd
}

func runFilter(cmd *cobra.Command, v *viper.Viper, exprs []string) error {
	filters := make([]json.RawMessage, 0, len(exprs))
	for _, e := range exprs {
		raw := json.RawMessage(e)
		if err := filter.Validate(raw); err != nil {
			return fmt.Errorf("%s: %w", e, err)
		}
		filters = append(filters, raw)
	}

	var data []byte
	var err error
	switch path := v.GetString("features"); path {
	case "":
		for _, f := range filters {
			fmt.Fprintf(cmd.OutOrStdout(), "ok %s\n", filter.Canonical(f))
		}
		return nil
	case "-":
		data, err = io.ReadAll(cmd.InOrStdin())
	default:
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return fmt.Errorf("read features: %w", err)
	}
	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return fmt.Errorf("decode features: %w", err)
	}

	out := geojson.NewFeatureCollection()
	out.Features = results.ApplyFilter(fc.Features, filters)
	return json.NewEncoder(cmd.OutOrStdout()).Encode(out)
}
