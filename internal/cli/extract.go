package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/user/patentscope-crawler/internal/entity"
	"github.com/user/patentscope-crawler/internal/usecase"
	"github.com/user/patentscope-crawler/pkg/utils"
)

var extractPoolSize int

var extractCmd = &cobra.Command{
	Use:   "extract <wo-number>...",
	Short: "Extract documents and print them as JSON",
	Long: `Extract one or more documents and print one JSON record per line.

Without --pool the documents are fetched one after another on a single
browser session. With --pool N they are spread over N sessions and
progress is reported on stderr.

Examples:
  patentscope extract WO2018162793
  patentscope extract "WO 2018/162793" WO2020123456 --pool 2`,
	Args: cobra.MinimumNArgs(1),
	RunE: runExtract,
}

func init() {
	extractCmd.Flags().IntVarP(&extractPoolSize, "pool", "p", 0, "number of browser sessions to fan out over")
}

func runExtract(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	keys := make([]string, len(args))
	for i, arg := range args {
		keys[i] = utils.NormalizeKey(arg)
	}
	factory := browserFactory(cfg, log)

	var records []entity.ExtractionRecord
	if extractPoolSize > 0 {
		size := min(extractPoolSize, cfg.PoolMaxSize, len(keys))
		pool := usecase.NewWorkerPool(factory, extractorConfig(cfg), poolConfig(cfg), log)
		defer func() {
			if err := pool.Close(); err != nil {
				log.Warn("Failed to close pool", zap.Error(err))
			}
		}()
		if err := pool.Initialize(ctx, size); err != nil {
			return err
		}

		progress := make(chan entity.PoolProgress, 1)
		done := make(chan struct{})
		go func() {
			defer close(done)
			for p := range progress {
				fmt.Fprintf(os.Stderr, "progress: %d/%d (%.0f%%) ok=%d failed=%d active=%d\n",
					p.Processed, p.Total, p.Percentage, p.Succeeded, p.Failed, p.Active)
			}
		}()
		var err error
		records, err = pool.RunBatch(ctx, keys, progress)
		<-done
		if err != nil {
			return err
		}
	} else {
		browser, err := factory(ctx)
		if err != nil {
			return err
		}
		extractor := usecase.NewExtractor(browser, extractorConfig(cfg), log)
		defer extractor.Close()
		records = extractor.ExtractMany(ctx, keys)
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	failed := 0
	for _, rec := range records {
		if !rec.Succeeded() {
			failed++
		}
		if err := enc.Encode(rec); err != nil {
			return err
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d documents could not be extracted", failed, len(records))
	}
	return nil
}
