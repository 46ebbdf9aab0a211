// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command qiengine starts the query iteration engine HTTP server.
//
// # Environment Variables
//
// See services/engine.ConfigFromEnv for the full list (AIO_PORT,
// REDIS_URL, REDIS_DB_INDEX, QUERY_TIMEOUT, QUERY_TTL, USE_CACHE,
// DEFAULT_MAX_KWIC_LINES, DEBUG, and friends).
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/bambooforest/qiengine/pkg/adapters"
	engine "github.com/bambooforest/qiengine/services/engine"
	"github.com/bambooforest/qiengine/services/engine/corpusconfig"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	if err := newRootCommand().Execute(); err != nil {
		slog.Error("qiengine exited with error", "error", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "qiengine",
		Short: "Query iteration engine HTTP server",
	}
	root.AddCommand(newServeCommand())
	root.AddCommand(newCheckConfigCommand())
	return root
}

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the query iteration engine HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := engine.ConfigFromEnv()

			slog.Info("starting qiengine",
				"port", cfg.Port,
				"redis_url", cfg.RedisURL,
				"use_cache", cfg.UseCache,
			)

			svc, err := engine.New(cfg, adapters.DefaultOptions())
			if err != nil {
				return fmt.Errorf("failed to create engine service: %w", err)
			}

			return svc.Run()
		},
	}
}

// newCheckConfigCommand is a debug aid: it re-reads the corpus-config file
// the server would use and prints a summary, without starting the HTTP
// server — useful for validating a corpora.yaml edit before reloading it
// into a running deployment via POST /config.
func newCheckConfigCommand() *cobra.Command {
	var path string
	cmd := &cobra.Command{
		Use:   "check-config",
		Short: "Validate a corpus config file without starting the server",
		RunE: func(cmd *cobra.Command, args []string) error {
			if path == "" {
				path = engine.ConfigFromEnv().CorpusConfigPath
			}
			cfg, err := corpusconfig.LoadFile(path)
			if err != nil {
				return fmt.Errorf("failed to load %s: %w", path, err)
			}
			fmt.Printf("%s: %d corpora\n", path, len(cfg.Corpora))
			return nil
		},
	}
	cmd.Flags().StringVar(&path, "path", "", "corpus config path (defaults to CORPUS_CONFIG_PATH)")
	return cmd
}
