// Copyright (c) 2026 Yomira. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package main

import (
	"context"
	"encoding/json"
	"os"

	"github.com/spf13/cobra"

	"github.com/taibuivan/yomira-reader/internal/offline"
)

func newOfflineCommand() *cobra.Command {
	offlineCmd := &cobra.Command{
		Use:   "offline",
		Short: "Manage offline copies of books",
	}

	var pages int
	downloadCmd := &cobra.Command{
		Use:   "download <book-id>",
		Short: "Download every page of a book into the persistent cache",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDownloads(cmd.Context(), func(s *stack, downloads *offline.Manager) error {
				count := pages
				if count <= 0 {
					book, err := s.catalog().FindBook(cmd.Context(), args[0])
					if err != nil {
						return err
					}
					count = book.PagesCount
				}

				status, err := downloads.Download(cmd.Context(), args[0], count)
				if err != nil {
					return err
				}
				return printJSON(status)
			})
		},
	}
	downloadCmd.Flags().IntVarP(&pages, "pages", "p", 0, "Page count (looked up in the catalogue when 0)")

	removeCmd := &cobra.Command{
		Use:   "remove <book-id>",
		Short: "Delete the offline copy of a book",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDownloads(cmd.Context(), func(_ *stack, downloads *offline.Manager) error {
				return downloads.Remove(cmd.Context(), args[0])
			})
		},
	}

	statusCmd := &cobra.Command{
		Use:   "status [book-id]",
		Short: "Show the offline record of one book, or of every book",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDownloads(cmd.Context(), func(_ *stack, downloads *offline.Manager) error {
				if len(args) == 1 {
					status, err := downloads.Status(cmd.Context(), args[0])
					if err != nil {
						return err
					}
					return printJSON(status)
				}

				statuses, err := downloads.List(cmd.Context())
				if err != nil {
					return err
				}
				return printJSON(statuses)
			})
		},
	}

	offlineCmd.AddCommand(downloadCmd, removeCmd, statusCmd)
	return offlineCmd
}

// withDownloads opens the stack, runs fn with an offline manager, and tears everything down.
func withDownloads(ctx context.Context, fn func(*stack, *offline.Manager) error) error {
	s, err := openStack(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	downloads := s.downloads()
	defer func() { _ = downloads.Close(context.WithoutCancel(ctx)) }()

	return fn(s, downloads)
}

func printJSON(value any) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(value)
}
