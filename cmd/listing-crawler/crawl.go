package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

type crawlSummary struct {
	RunID           string `json:"runId"`
	Source          string `json:"source"`
	Degraded        bool   `json:"degraded"`
	FallbackReason  string `json:"fallbackReason,omitempty"`
	Found           int    `json:"found"`
	Processed       int    `json:"processed"`
	Enriched        int    `json:"enriched"`
	Shallow         int    `json:"shallow"`
	Failed          int    `json:"failed"`
	NewProperties   int    `json:"newProperties"`
	TotalProperties int    `json:"totalProperties"`
	Merged          bool   `json:"merged"`
	DurationMs      int64  `json:"durationMs"`
}

func newCrawlCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "crawl",
		Short: "Runs one crawl, merges it into the store and exits",
		Long: `Fetches the configured search page once, processes up to
crawler.max_listings entries sequentially, merges new properties into the
store and prints a JSON run summary.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc, err := resolveServices(cmd.Context())
			if err != nil {
				return err
			}
			result, err := svc.Ingest(cmd.Context())
			if err != nil {
				return fmt.Errorf("crawl: %w", err)
			}
			r := result.Report
			summary := crawlSummary{
				RunID:           r.RunID,
				Source:          string(r.Source),
				Degraded:        r.Degraded,
				FallbackReason:  r.FallbackReason,
				Found:           r.Found,
				Processed:       r.Processed,
				Enriched:        r.Enriched,
				Shallow:         r.Shallow,
				Failed:          r.Failed,
				NewProperties:   result.NewProperties,
				TotalProperties: result.TotalProperties,
				Merged:          result.Merged,
				DurationMs:      r.Duration.Milliseconds(),
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(summary); err != nil {
				return fmt.Errorf("write summary: %w", err)
			}
			svc.Logger().Info("crawl command finished", zap.String("run_id", r.RunID))
			return nil
		},
	}
}
