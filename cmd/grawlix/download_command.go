package main

import (
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"grawlix/internal/book"
	"grawlix/internal/config"
	"grawlix/internal/fetch"
	"grawlix/internal/logging"
	"grawlix/internal/manifest"
	"grawlix/internal/output"
	"grawlix/internal/paths"
)

func newDownloadCommand(ctx *commandContext) *cobra.Command {
	var (
		outputDir     string
		template      string
		format        string
		overwrite     bool
		writeMetadata bool
		concurrency   int
	)

	cmd := &cobra.Command{
		Use:   "download <manifest>...",
		Short: "Download the books described by one or more manifest files",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}

			opts, err := downloadOptions(cfg, outputDir, template, format, cmd.Flags().Changed("overwrite"), overwrite, cmd.Flags().Changed("write-metadata"), writeMetadata, concurrency)
			if err != nil {
				return err
			}

			logger, err := logging.New(logging.Options{
				Level:  cfg.Logging.Level,
				Format: cfg.Logging.Format,
				Output: cmd.ErrOrStderr(),
			})
			if err != nil {
				return err
			}

			client := fetch.NewClient(
				fetch.WithUserAgent(cfg.Download.UserAgent),
				fetch.WithHTTPClient(&http.Client{Timeout: time.Duration(cfg.Download.TimeoutSeconds) * time.Second}),
			)
			writer := output.NewWriter(client, paths.NewResolver(), logger)

			renderer := newProgressRenderer(cmd.ErrOrStderr())
			defer renderer.Finish()
			opts.Progress = renderer.Sink
			opts.OnBookStart = func(_, _ int, bk book.Book) {
				renderer.StartBook(bk.Metadata.Title, unitCount(bk.Data))
			}

			var results []output.Result
			for _, path := range args {
				series, err := manifest.Load(path)
				if err != nil {
					results = append(results, output.Result{Title: path, Err: err})
					continue
				}
				results = append(results, writer.WriteSeries(cmd.Context(), series, opts)...)
			}
			renderer.Finish()

			fmt.Fprintln(cmd.OutOrStdout(), renderSummary(results))

			if failed := countFailed(results); failed > 0 {
				return fmt.Errorf("%d of %d books failed", failed, len(results))
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&outputDir, "output", "o", "", "Output directory (defaults to output.directory from the config)")
	cmd.Flags().StringVar(&template, "template", "", "Output path template, e.g. \"{series}/{title}\"")
	cmd.Flags().StringVarP(&format, "format", "f", "", "Force an output format (epub, cbz)")
	cmd.Flags().BoolVar(&overwrite, "overwrite", false, "Replace existing files instead of adding \" (n)\"")
	cmd.Flags().BoolVar(&writeMetadata, "write-metadata", false, "Merge book metadata into downloaded epub files")
	cmd.Flags().IntVar(&concurrency, "concurrency", 0, "Parallel downloads per book")

	return cmd
}

// downloadOptions merges config values with explicit flags; flags win.
func downloadOptions(cfg *config.Config, outputDir, template, format string, overwriteSet, overwrite, writeMetaSet, writeMetadata bool, concurrency int) (output.Options, error) {
	opts := output.Options{
		Root:          cfg.Output.Directory,
		Template:      cfg.Output.Template,
		Format:        cfg.Output.Format,
		Overwrite:     cfg.Output.Overwrite,
		WriteMetadata: cfg.Metadata.WriteToEpub,
	}
	if outputDir != "" {
		expanded, err := config.ExpandPath(outputDir)
		if err != nil {
			return output.Options{}, err
		}
		opts.Root = expanded
	}
	if template != "" {
		opts.Template = template
	}
	if format != "" {
		opts.Format = format
	}
	if overwriteSet {
		opts.Overwrite = overwrite
	}
	if writeMetaSet {
		opts.WriteMetadata = writeMetadata
	}

	workers := cfg.Download.Concurrency
	if concurrency > 0 {
		workers = concurrency
	}
	opts.FetchOptions = []fetch.GroupOption{
		fetch.WithConcurrency(workers),
		fetch.WithRetry(cfg.Download.RetryAttempts,
			time.Duration(cfg.Download.RetryBaseMS)*time.Millisecond,
			time.Duration(cfg.Download.RetryMaxMS)*time.Millisecond),
	}
	return opts, nil
}

func unitCount(data book.Data) int {
	switch d := data.(type) {
	case book.SingleFile:
		return 1
	case book.ImageList:
		return len(d.Units)
	case book.HtmlFiles:
		n := len(d.Pages)
		if d.Cover != nil {
			n++
		}
		return n
	case book.EpubInParts:
		return len(d.Units)
	default:
		return 0
	}
}

func countFailed(results []output.Result) int {
	failed := 0
	for _, result := range results {
		if result.Err != nil {
			failed++
		}
	}
	return failed
}
