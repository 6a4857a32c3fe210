package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/mohammed-shakir/mapbook-query/internal/aggregate/geojsonagg"
	"github.com/mohammed-shakir/mapbook-query/internal/app"
	"github.com/mohammed-shakir/mapbook-query/internal/core/model"
	"github.com/mohammed-shakir/mapbook-query/internal/filter"
	"github.com/mohammed-shakir/mapbook-query/internal/results"
)

func queryCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "query",
		Short: "Run one query across mapbook layers and print the results",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runQuery(cmd, v)
		},
	}
	f := cmd.Flags()
	f.StringSlice("layer", nil, "layer path <source>/<layer>, repeatable (default: every layer that is on)")
	f.String("point", "", "point selection as x,y in map projection")
	f.String("selection", "", "GeoJSON file with selection features")
	f.StringArray("field", nil, "filter expression as JSON, repeatable")
	f.Float64("resolution", 1, "map units per pixel")
	f.String("projection", "", "map projection (default MAP_PROJECTION)")
	f.String("format", "layers", "output: layers|flat|geojson")
	f.String("sort", "", "geojson sort keys PROP[:asc|desc[:number|string|time]],...")
	f.Int("limit", 0, "geojson page size")
	f.Bool("dedup", false, "geojson: drop duplicate feature ids")
	f.Duration("timeout", time.Minute, "overall query timeout")
	return cmd
}

func runQuery(cmd *cobra.Command, v *viper.Viper) error {
	cfg := loadConfig(v)
	log := newLogger(cfg, cmd.ErrOrStderr())

	// slices come straight from pflag; viper would split JSON on commas
	layers, _ := cmd.Flags().GetStringSlice("layer")
	fields, _ := cmd.Flags().GetStringArray("field")

	q := &model.QueryDefinition{Layers: layers}
	for _, raw := range fields {
		if err := filter.Validate(json.RawMessage(raw)); err != nil {
			return fmt.Errorf("field %s: %w", raw, err)
		}
		q.Fields = append(q.Fields, json.RawMessage(raw))
	}
	sel, err := selection(v.GetString("point"), v.GetString("selection"))
	if err != nil {
		return err
	}
	q.Selection = sel

	ctx, cancel := context.WithTimeout(cmd.Context(), v.GetDuration("timeout"))
	defer cancel()

	svc, err := app.Build(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer svc.Close()

	if len(q.Layers) == 0 {
		for _, s := range svc.Registry.Sources() {
			for _, l := range s.Layers {
				if l.On {
					q.Layers = append(q.Layers, model.LayerPath(s.Name, l.Name))
				}
			}
		}
	}
	if len(q.Layers) == 0 {
		return fmt.Errorf("no layers to query: pass --layer or turn a layer on in the mapbook")
	}

	view := model.MapView{Resolution: v.GetFloat64("resolution"), Projection: cfg.MapProjection}
	rs := svc.Orchestrator.Run(ctx, view, q)
	for _, l := range rs.Layers {
		if r := rs.ByLayer[l]; r.Failed {
			fmt.Fprintf(cmd.ErrOrStderr(), "%s: %s\n", l, r.Message)
		}
	}

	out := cmd.OutOrStdout()
	switch format := v.GetString("format"); format {
	case "layers":
		return json.NewEncoder(out).Encode(rs)
	case "flat":
		return json.NewEncoder(out).Encode(results.Flatten(rs))
	case "geojson":
		keys, err := geojsonagg.ParseSort(v.GetString("sort"))
		if err != nil {
			return err
		}
		parts := make([][]*geojson.Feature, 0, len(rs.Layers))
		for _, l := range rs.Layers {
			parts = append(parts, rs.ByLayer[l].Features)
		}
		b, _, err := geojsonagg.New(v.GetBool("dedup")).Merge(parts, geojsonagg.Query{Sort: keys, Limit: v.GetInt("limit")})
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(out, string(b))
		return err
	default:
		return fmt.Errorf("unknown format %q (want layers|flat|geojson)", format)
	}
}

func selection(point, file string) ([]*geojson.Feature, error) {
	var out []*geojson.Feature
	if point != "" {
		xs, ys, ok := strings.Cut(point, ",")
		x, errX := strconv.ParseFloat(strings.TrimSpace(xs), 64)
		y, errY := strconv.ParseFloat(strings.TrimSpace(ys), 64)
		if !ok || errX != nil || errY != nil {
			return nil, fmt.Errorf("point %q: want x,y", point)
		}
		out = append(out, geojson.NewFeature(orb.Point{x, y}))
	}
	if file != "" {
		b, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("read selection: %w", err)
		}
		fc, err := geojson.UnmarshalFeatureCollection(b)
		if err != nil {
			return nil, fmt.Errorf("decode selection: %w", err)
		}
		out = append(out, fc.Features...)
	}
	return out, nil
}
