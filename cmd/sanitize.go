package cmd

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/game-reviews-crawler/internal/dataset"
	"github.com/JakeFAU/game-reviews-crawler/internal/sanitizer"
)

// newSanitizeCmd creates the 'sanitize' subcommand.
func newSanitizeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sanitize",
		Short: "Refine the raw dataset into grouped gzip Parquet",
		Long: `Reads the raw dataset, casts every column, drops rows with missing values,
expands genres into boolean columns and critics into score columns, and writes
the result as gzip-compressed Parquet. When the raw dataset is missing a crawl
runs first unless --no-crawl is given.`,
		RunE: withApp(runSanitize),
	}
	cmd.Flags().Int("genre-threshold", 85, "keep genres seen in more than this many rows")
	cmd.Flags().Bool("no-crawl", false, "fail instead of crawling when the raw dataset is missing")
	return cmd
}

func runSanitize(cmd *cobra.Command, a App) error {
	svc, err := a.NewSanitizer(cmd.Context())
	if err != nil {
		return fmt.Errorf("init sanitizer: %w", err)
	}
	report, err := svc.Run(cmd.Context())
	if err != nil {
		return fmt.Errorf("sanitize: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), sanitizeSummary(report))
	a.Logger().Info("sanitize command finished", zap.String("output", report.OutputURI))
	return nil
}

func sanitizeSummary(report sanitizer.Report) string {
	rows := [][]string{
		{"raw", report.RawPath},
		{"output", report.OutputURI},
		{"crawled first", strconv.FormatBool(report.Crawled)},
		{"rows in", strconv.Itoa(report.Stats.Input)},
		{"rows kept", strconv.Itoa(report.Stats.Kept)},
		{"rows dropped", strconv.Itoa(report.Stats.Dropped)},
	}
	reasons := make([]string, 0, len(report.Stats.Reasons))
	for reason := range report.Stats.Reasons {
		reasons = append(reasons, reason)
	}
	sort.Strings(reasons)
	for _, reason := range reasons {
		rows = append(rows, []string{"  " + reason, strconv.Itoa(report.Stats.Reasons[reason])})
	}
	for _, group := range []string{dataset.GroupGeneral, dataset.GroupGenres, dataset.GroupCritics} {
		rows = append(rows, []string{group + " columns", strconv.Itoa(report.Columns[group])})
	}
	rows = append(rows,
		[]string{"bytes", strconv.Itoa(report.Bytes)},
		[]string{"sha256", report.SHA256},
		[]string{"postgres rows", strconv.Itoa(report.Loaded)},
		[]string{"message id", report.MessageID},
		[]string{"duration", report.Duration.String()},
	)
	return renderTable([]string{"Sanitize", "Value"}, rows, []columnAlignment{alignLeft, alignRight})
}
