package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/arturoeanton/openipc-ragbot/internal/service"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Run one ingestion pass over every configured source",
	Long: `ingest clones the configured repositories, crawls the documentation
site and (when enabled) reads the saved chat history, then chunks and
upserts everything into the knowledge index. Re-running is safe: records
are keyed by source, document and chunk position.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		comps := buildComponents(ctx, cfg)
		defer comps.Close()

		pipeline, err := comps.pipeline(cfg)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		run, err := pipeline.Run(ctx, func(p service.Progress) {
			if p.Skipped {
				fmt.Fprintf(out, "  skip  %s %s\n", p.Kind, p.Identity)
				return
			}
			fmt.Fprintf(out, "  ok    %s %s (%d chunks so far)\n", p.Kind, p.Identity, p.ChunksAdded)
		})
		if run != nil {
			fmt.Fprintf(out, "\nrepos %d, files %d, pages %d, chats %d\n",
				run.ReposProcessed, run.FilesProcessed, run.PagesProcessed, run.ChatsProcessed)
			fmt.Fprintf(out, "chunks upserted %d, records %d -> %d (+%d), skipped %d, took %s\n",
				run.ChunksAdded, run.CountBefore, run.CountAfter, run.NewRecords(), run.Failures(), run.Duration.Round(time.Millisecond))
			for _, s := range run.Skipped {
				fmt.Fprintf(out, "  %s %s: %s\n", s.Kind, s.Identity, s.Reason)
			}
		}
		return err
	},
}
