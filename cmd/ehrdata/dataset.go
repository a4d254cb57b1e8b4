package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/synaptica-ai/ehrdata/pkg/common/logger"
	"github.com/synaptica-ai/ehrdata/pkg/dataset"
	"github.com/synaptica-ai/ehrdata/pkg/patient"
	"github.com/synaptica-ai/ehrdata/pkg/preprocess"
)

func preprocessCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "preprocess",
		Short: "Build patient lists for every split and modality group",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("vocab-path") {
				cfg.VocabPath, _ = cmd.Flags().GetString("vocab-path")
			}
			if cmd.Flags().Changed("workers") {
				cfg.PreprocessWorkers, _ = cmd.Flags().GetInt("workers")
			}
			deleteExisting, _ := cmd.Flags().GetBool("delete-existing")
			verbose, _ := cmd.Flags().GetBool("verbose")

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			start := time.Now()
			pool := patient.PoolConfig{Workers: cfg.PreprocessWorkers, Verbose: verbose}
			results, err := preprocess.CreateAllPatientLists(ctx, cfg.DataPath, cfg.EffectiveVocabPath(), cfg.Window(), pool, deleteExisting, nil)
			if err != nil {
				return err
			}
			logger.Log.WithFields(map[string]interface{}{
				"window":   cfg.Window().String(),
				"groups":   len(results),
				"duration": time.Since(start).Seconds(),
			}).Info("preprocessing finished")
			return printJSON(preprocess.Summary(results))
		},
	}
	addDatasetFlags(cmd)
	cmd.Flags().String("vocab-path", "", "Directory holding vocab.yaml (default data path)")
	cmd.Flags().Int("workers", 0, "Worker count (default PREPROCESS_WORKERS)")
	cmd.Flags().Bool("delete-existing", true, "Remove chunk files from earlier runs first")
	cmd.Flags().Bool("verbose", false, "Log every completed chunk")
	return cmd
}

func statsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Print split sizes, label counts and positive weights",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			stats, err := preprocess.Stats(cfg.DataPath, cfg.Window(), cfg.Labels)
			if err != nil {
				return err
			}
			return printJSON(stats)
		},
	}
	addDatasetFlags(cmd)
	return cmd
}

// batchesCmd walks every loader once and reports the batch layout per split.
func batchesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "batches",
		Short: "Iterate the split loaders and summarize their batches",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			batchSize, _ := cmd.Flags().GetInt("batch-size")
			if batchSize <= 0 {
				batchSize = cfg.BatchSize
			}
			seed, _ := cmd.Flags().GetInt64("seed")

			data := &dataset.MultimodalEHRData{
				Path:           cfg.DataPath,
				Labels:         cfg.Labels,
				Window:         cfg.Window(),
				LazyLoadDevice: cfg.LazyLoadDevice,
				Device:         patient.Device(cfg.Device),
				MRIShape:       cfg.MRIShape,
				DNAShape:       cfg.DNAShape,
				ECGShape:       cfg.ECGShape,
				Seed:           seed,
			}
			loaders, err := data.Loaders(batchSize, cfg.LoaderWorkers)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			report := map[string]interface{}{}
			for _, split := range dataset.Splits {
				batches, patients := 0, 0
				byModality := map[int]int{}
				err := loaders[split].Iterate(ctx, func(b *dataset.Batch) error {
					batches++
					patients += len(b.Patients)
					byModality[b.Modality.Code()]++
					return nil
				})
				if err != nil {
					return fmt.Errorf("%s: %w", split, err)
				}
				report[split] = map[string]interface{}{
					"batches":     batches,
					"patients":    patients,
					"by_modality": byModality,
				}
			}
			report["pos_weights"] = data.Splits().PosWeights(cfg.Labels)
			return printJSON(report)
		},
	}
	addDatasetFlags(cmd)
	cmd.Flags().Int("batch-size", 0, "Batch size (default BATCH_SIZE)")
	cmd.Flags().Int64("seed", 0, "Shuffle seed for the train loader")
	return cmd
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
