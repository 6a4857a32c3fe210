package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/mohammed-shakir/mapbook-query/internal/core/model"
	"github.com/mohammed-shakir/mapbook-query/internal/mapsource"
)

func validateCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Load the mapbook and list its queryable layers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path := v.GetString("mapbook")
			reg, err := mapsource.Load(path)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "LAYER\tTYPE\tKIND\tON")
			unsupported := 0
			for _, s := range reg.Sources() {
				if s.Kind() == model.KindUnsupported || s.Kind() == model.KindTiledImage {
					unsupported++
				}
				for _, l := range s.Layers {
					fmt.Fprintf(tw, "%s\t%s\t%s\t%t\n", model.LayerPath(s.Name, l.Name), s.Type, s.Kind(), l.On)
				}
			}
			if err := tw.Flush(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %d sources ok", path, len(reg.Sources()))
			if unsupported > 0 {
				fmt.Fprintf(cmd.OutOrStdout(), " (%d not queryable)", unsupported)
			}
			fmt.Fprintln(cmd.OutOrStdout())
			return nil
		},
	}
}
