package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/mohammed-shakir/mapbook-query/internal/core/config"
	"github.com/mohammed-shakir/mapbook-query/internal/refresh"
	refreshkafka "github.com/mohammed-shakir/mapbook-query/pkg/refresh/kafka"
)

func refreshCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "refresh <source>",
		Short: "Publish a map source refresh event to Kafka",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			layers, _ := cmd.Flags().GetStringSlice("layer")
			rev := v.GetInt64("revision")
			if rev < 0 {
				return fmt.Errorf("--revision must not be negative, got %d", rev)
			}
			ev := refresh.Event{
				Version:  1,
				Op:       v.GetString("op"),
				Source:   args[0],
				Layers:   layers,
				Revision: uint64(rev),
				TS:       time.Now().UTC(),
			}
			if err := ev.Validate(); err != nil {
				return err
			}

			cfg := refreshkafka.FromConfig(config.RefreshCfg{
				Enabled: true,
				Driver:  string(refreshkafka.DriverKafka),
				Brokers: v.GetString("brokers"),
				Topic:   v.GetString("topic"),
			})
			if len(cfg.Brokers) == 0 || strings.TrimSpace(cfg.Topic) == "" {
				return fmt.Errorf("--brokers and --topic are required")
			}
			pub, err := refreshkafka.NewPublisher(cfg, newLogger(loadConfig(v), cmd.ErrOrStderr()), 1)
			if err != nil {
				return err
			}
			if err := publishOne(pub, ev); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "published %s %s to %s\n", ev.Op, ev.Source, cfg.Topic)
			return nil
		},
	}
	f := cmd.Flags()
	f.String("op", refresh.OpRefresh, "refresh|clear")
	f.StringSlice("layer", nil, "layer paths to invalidate (default: every layer of the source)")
	f.Int64("revision", 0, "explicit revision; 0 bumps the current one")
	f.String("brokers", "localhost:9092", "comma separated Kafka brokers")
	f.String("topic", "mapsource-refresh", "refresh topic")
	return cmd
}

type eventPublisher interface {
	Publish(refresh.Event) bool
	Close() error
}

// publishOne enqueues ev and closes pub, which flushes the queue.
func publishOne(pub eventPublisher, ev refresh.Event) error {
	queued := pub.Publish(ev)
	if err := pub.Close(); err != nil {
		return err
	}
	if !queued {
		return fmt.Errorf("refresh event for %s not queued: publisher queue full", ev.Source)
	}
	return nil
}
