// Copyright (c) 2015-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.
//

package main

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/pinokiocloud/pinokio-cloud/model"
)

func newCmdCache() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Manipulate the tiered cache.",
	}
	setClientFlags(cmd)

	cmd.AddCommand(newCmdCacheGet())
	cmd.AddCommand(newCmdCachePut())
	cmd.AddCommand(newCmdCacheInvalidate())
	cmd.AddCommand(newCmdCachePrefetch())
	cmd.AddCommand(newCmdCacheStats())
	cmd.AddCommand(newCmdCacheCleanup())

	return cmd
}

func newCmdCacheGet() *cobra.Command {
	var flags clientFlags
	var kind string

	cmd := &cobra.Command{
		Use:   "get <key>",
		Short: "Fetch a cached value.",
		Args:  cobra.ExactArgs(1),
		RunE: func(command *cobra.Command, args []string) error {
			command.SilenceUsage = true
			flags.addFlags(command)

			client := model.NewClient(flags.serverAddress)
			value, err := client.CacheGet(model.CacheKind(kind), args[0])
			if err != nil {
				return err
			}

			return printJSON(json.RawMessage(value))
		},
	}
	cmd.Flags().StringVar(&kind, "kind", string(model.CacheAppMetadata), "Cache kind of the entry.")

	return cmd
}

func newCmdCachePut() *cobra.Command {
	var flags clientFlags
	var kind string
	var value string
	var ttl int64
	var priority int

	cmd := &cobra.Command{
		Use:   "put <key>",
		Short: "Store a JSON value in the cache.",
		Args:  cobra.ExactArgs(1),
		RunE: func(command *cobra.Command, args []string) error {
			command.SilenceUsage = true
			flags.addFlags(command)

			if !json.Valid([]byte(value)) {
				return model.NewError(model.ErrInvalidInput, "--value must be valid JSON")
			}

			client := model.NewClient(flags.serverAddress)
			err := client.CachePut(&model.CachePutRequest{
				Key:     args[0],
				Kind:    model.CacheKind(kind),
				Value:   json.RawMessage(value),
				Options: model.CachePutOptions{TTLSeconds: ttl, Priority: priority},
			})
			if err != nil {
				return err
			}

			logger.Infof("Stored cache entry %s", args[0])
			return nil
		},
	}
	cmd.Flags().StringVar(&kind, "kind", string(model.CacheAppMetadata), "Cache kind of the entry.")
	cmd.Flags().StringVar(&value, "value", "", "The JSON value to store.")
	cmd.Flags().Int64Var(&ttl, "ttl", 0, "TTL in seconds; zero uses the kind default.")
	cmd.Flags().IntVar(&priority, "priority", 3, "Eviction priority from 1 (first out) to 5 (last out).")

	return cmd
}

func newCmdCacheInvalidate() *cobra.Command {
	var flags clientFlags
	var kind string

	cmd := &cobra.Command{
		Use:   "invalidate <key>",
		Short: "Remove a cached value from both layers.",
		Args:  cobra.ExactArgs(1),
		RunE: func(command *cobra.Command, args []string) error {
			command.SilenceUsage = true
			flags.addFlags(command)

			client := model.NewClient(flags.serverAddress)
			if err := client.CacheInvalidate(model.CacheKind(kind), args[0]); err != nil {
				return err
			}

			logger.Infof("Invalidated cache entry %s", args[0])
			return nil
		},
	}
	cmd.Flags().StringVar(&kind, "kind", string(model.CacheAppMetadata), "Cache kind of the entry.")

	return cmd
}

func newCmdCachePrefetch() *cobra.Command {
	var flags clientFlags

	cmd := &cobra.Command{
		Use:   "prefetch <app>",
		Short: "Warm the cache memory layer for an app.",
		Args:  cobra.ExactArgs(1),
		RunE: func(command *cobra.Command, args []string) error {
			command.SilenceUsage = true
			flags.addFlags(command)

			client := model.NewClient(flags.serverAddress)
			if err := client.CachePrefetch(args[0]); err != nil {
				return err
			}

			logger.Infof("Prefetched cache for app %s", args[0])
			return nil
		},
	}

	return cmd
}

func newCmdCacheStats() *cobra.Command {
	var flags clientFlags

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show cache statistics.",
		RunE: func(command *cobra.Command, args []string) error {
			command.SilenceUsage = true
			flags.addFlags(command)

			client := model.NewClient(flags.serverAddress)
			stats, err := client.CacheStats()
			if err != nil {
				return err
			}

			return printJSON(stats)
		},
	}

	return cmd
}

func newCmdCacheCleanup() *cobra.Command {
	var flags clientFlags

	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Trigger a cache cleanup pass.",
		RunE: func(command *cobra.Command, args []string) error {
			command.SilenceUsage = true
			flags.addFlags(command)

			client := model.NewClient(flags.serverAddress)
			if err := client.CacheCleanup(); err != nil {
				return err
			}

			logger.Info("Cache cleanup complete")
			return nil
		},
	}

	return cmd
}
