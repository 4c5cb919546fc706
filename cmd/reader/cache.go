// Copyright (c) 2026 Yomira. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package main

import (
	"log/slog"

	"github.com/spf13/cobra"
)

func newCacheCommand() *cobra.Command {
	cacheCmd := &cobra.Command{
		Use:   "cache",
		Short: "Maintain the persistent HTTP cache",
	}

	cleanupCmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Collapse duplicate asset versions in every cache",
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := openStack(cmd.Context())
			if err != nil {
				return err
			}
			defer s.Close()

			names, err := s.storage.Names(cmd.Context())
			if err != nil {
				return err
			}

			total := 0
			for _, name := range names {
				removed, err := s.worker.CleanupDuplicates(cmd.Context(), name)
				if err != nil {
					return err
				}
				total += removed
				s.log.Info("cache_cleaned", slog.String("cache", name), slog.Int("removed", removed))
			}

			return printJSON(map[string]int{"caches": len(names), "removed": total})
		},
	}

	cacheCmd.AddCommand(cleanupCmd)
	return cacheCmd
}
