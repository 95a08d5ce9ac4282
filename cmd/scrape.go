package main

import (
	"bufio"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/orgwatch/regnskap-cli/internal/browser"
	"github.com/orgwatch/regnskap-cli/internal/document"
	"github.com/orgwatch/regnskap-cli/internal/fetch"
	"github.com/orgwatch/regnskap-cli/internal/figures"
	"github.com/orgwatch/regnskap-cli/internal/model"
	"github.com/orgwatch/regnskap-cli/internal/ocr"
	"github.com/orgwatch/regnskap-cli/internal/pipeline"
	"github.com/orgwatch/regnskap-cli/internal/source"
	"github.com/orgwatch/regnskap-cli/pkg/brreg"
)

var scrapeFile string

var scrapeCmd = &cobra.Command{
	Use:   "scrape [orgid...]",
	Short: "Discover and extract financial figures for organizations",
	Long:  "Runs the discovery chain (registry API, embedded payloads, static DOM, rendered DOM, body text) for each organization, retrieves filed documents, extracts net result, sales revenue and total income, and upserts one row per year.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		orgIDs, err := collectOrgIDs(args, scrapeFile)
		if err != nil {
			return err
		}
		if len(orgIDs) == 0 {
			return eris.New("no organization ids given; pass them as arguments or via --file")
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate store")
		}

		client := fetch.New(fetch.Options{
			UserAgent:       cfg.Fetch.UserAgent,
			ConnectTimeout:  time.Duration(cfg.Fetch.ConnectTimeoutSecs) * time.Second,
			DownloadTimeout: time.Duration(cfg.Fetch.DownloadTimeoutSecs) * time.Second,
		})

		registry := brreg.NewClient(cfg.Fetch.UserAgent,
			brreg.WithBaseURL(cfg.Registry.BaseURL),
			brreg.WithEntityBaseURL(cfg.Registry.EntityBaseURL),
		)

		pages, err := source.NewPageResolver(cfg.Page.BaseURL)
		if err != nil {
			return eris.Wrap(err, "page resolver")
		}

		strategies := []source.Strategy{
			source.NewAPIStrategy(registry, cfg.Registry.LookbackYears),
			source.NewEmbeddedStrategy(client, pages),
			source.NewStaticDOMStrategy(client, pages),
		}

		if cfg.Browser.Enabled {
			pool := browser.NewPool(cfg.Browser.PoolSize)
			defer pool.Close()
			strategies = append(strategies, source.NewRenderedDOMStrategy(pool, pages,
				time.Duration(cfg.Browser.RenderWaitSecs)*time.Second,
				time.Duration(cfg.Browser.PageTimeoutSecs)*time.Second,
			))
		}
		strategies = append(strategies, source.NewBodyTextStrategy(client, pages))

		var recognizer ocr.Recognizer
		if cfg.OCR.Enabled {
			recognizer = ocr.NewTesseract(ocr.Options{
				PdftoppmPath:  cfg.OCR.PdfToPpmPath,
				TesseractPath: cfg.OCR.TesseractPath,
				Lang:          cfg.OCR.Language,
				DPI:           cfg.OCR.DPI,
				TempDir:       cfg.Pipeline.TempDir,
			})
		}

		retriever := document.NewRetriever(client, cfg.Pipeline.TempDir, document.NewPDFTextLayer())

		p := pipeline.New(pipeline.Options{
			Strategies: strategies,
			Retriever:  retriever,
			Recognizer: recognizer,
			Extractor: figures.New(figures.Config{
				MinNetResult:   cfg.Figures.MinNetResult,
				MinRevenue:     cfg.Figures.MinRevenue,
				ProximityFloor: cfg.Figures.ProximityFloor,
			}),
			Store:      st,
			Workers:    cfg.Pipeline.Workers,
			PacerDelay: time.Duration(cfg.Fetch.PacerDelayMillis) * time.Millisecond,
		})

		run, err := p.Run(ctx, orgIDs)
		if err != nil {
			return err
		}

		fmt.Printf("run %s: %d processed, %d succeeded, %d partial, %d failed\n",
			run.ID, run.Processed, run.Succeeded, run.Partial, run.Failed)
		return nil
	},
}

func init() {
	scrapeCmd.Flags().StringVar(&scrapeFile, "file", "", "file with one organization id per line")
	rootCmd.AddCommand(scrapeCmd)
}

// collectOrgIDs normalizes ids from args and an optional file, dropping
// blanks, comments and duplicates.
func collectOrgIDs(args []string, file string) ([]string, error) {
	raw := append([]string(nil), args...)

	if file != "" {
		f, err := os.Open(file)
		if err != nil {
			return nil, eris.Wrapf(err, "open org id file %s", file)
		}
		defer f.Close()

		scanner := bufio.NewScanner(f)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			raw = append(raw, line)
		}
		if err := scanner.Err(); err != nil {
			return nil, eris.Wrapf(err, "read org id file %s", file)
		}
	}

	seen := make(map[string]bool, len(raw))
	var orgIDs []string
	for _, r := range raw {
		id := model.NormalizeOrgID(r)
		if id == "" {
			zap.L().Warn("skipping id with no digits", zap.String("raw", r))
			continue
		}
		if seen[id] {
			continue
		}
		seen[id] = true
		orgIDs = append(orgIDs, id)
	}
	return orgIDs, nil
}
