package cmd

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/game-reviews-crawler/internal/crawler"
)

type crawlOptions struct {
	appendMode bool
	resume     bool
}

// newCrawlCmd creates the 'crawl' subcommand.
func newCrawlCmd() *cobra.Command {
	opts := &crawlOptions{}
	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Crawl the listing and write the raw dataset",
		Long: `Requests listing pages in increasing order starting at --start-page until a
page has no games. Each game's detail and critic review pages are visited and
one row per game is written to the raw dataset. On failure everything gathered
so far is flushed together with a checkpoint that --resume picks up.`,
		RunE: withApp(func(cmd *cobra.Command, a App) error {
			return runCrawl(cmd, a, opts)
		}),
	}
	cmd.Flags().Int("start-page", 0, "first listing page to request")
	cmd.Flags().Int("max-pages", 0, "stop after this many listing pages (0 = until the listing is exhausted)")
	cmd.Flags().BoolVar(&opts.appendMode, "append", false, "append to the raw dataset instead of replacing it")
	cmd.Flags().BoolVar(&opts.resume, "resume", false, "continue from the checkpoint left by the previous run")
	cmd.MarkFlagsMutuallyExclusive("resume", "start-page")
	return cmd
}

func runCrawl(cmd *cobra.Command, a App, opts *crawlOptions) error {
	settings := a.Config().CrawlerSettings()
	settings.Append = opts.appendMode
	settings.Resume = opts.resume

	result, err := a.Crawl(cmd.Context(), settings)
	fmt.Fprintln(cmd.OutOrStdout(), renderTable(
		[]string{"Run", "Start page", "Next page", "Pages", "Items", "Not found", "Complete"},
		[][]string{{
			result.RunID,
			strconv.Itoa(result.StartPage),
			strconv.Itoa(result.NextPage),
			strconv.Itoa(result.Pages),
			strconv.Itoa(result.Items),
			strconv.Itoa(result.NotFound),
			strconv.FormatBool(result.Complete),
		}},
		[]columnAlignment{alignLeft, alignRight, alignRight, alignRight, alignRight, alignRight, alignLeft},
	))
	if err != nil {
		if errors.Is(err, crawler.ErrCrawlAborted) {
			a.Logger().Error("crawl aborted; rerun with --resume to continue",
				zap.Int("next_page", result.NextPage),
				zap.Error(err),
			)
		}
		return fmt.Errorf("crawl: %w", err)
	}
	a.Logger().Info("crawl command finished", zap.Int("items", result.Items))
	return nil
}
