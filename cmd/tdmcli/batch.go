package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/drfirst/go-tdm/internal/drugmodel"
	"github.com/drfirst/go-tdm/internal/pipeline"
	"github.com/drfirst/go-tdm/internal/translation"
	"github.com/drfirst/go-tdm/pkg/workerpool"
)

func batchCmd(v *viper.Viper, status *pipeline.RunStatus) *cobra.Command {
	return &cobra.Command{
		Use:   "batch <dir>",
		Short: "Process every query file of a folder in parallel",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := newEnv(cmd.Context(), v)
			if err != nil {
				return err
			}
			defer e.close()

			*status, err = runBatch(cmd.Context(), e, args[0])
			return err
		},
	}
}

// runBatch loads the drug models once and runs each query of dir on the
// worker pool. Import errors of single files do not stop the batch.
func runBatch(ctx context.Context, e *env, dir string) (pipeline.RunStatus, error) {
	files, err := filepath.Glob(filepath.Join(dir, "*.xml"))
	if err != nil {
		return pipeline.ImportError, fmt.Errorf("list queries: %w", err)
	}
	sort.Strings(files)
	if len(files) == 0 {
		e.logger.Warn("no query files found", zap.String("dir", dir))
		return pipeline.NoneSucceeded, nil
	}

	repo := drugmodel.NewRepository(e.logger)
	if _, err := repo.AddFolderPath(ctx, e.cfg.DrugPath); err != nil {
		e.logger.Error("drug models not loaded", zap.String("path", e.cfg.DrugPath), zap.Error(err))
		return pipeline.ImportError, nil
	}

	scfg := e.serviceConfig()
	scfg.Models = repo
	scfg.Translations = translation.NewLoader(e.cfg.TranslationPath, e.logger)
	svc := pipeline.NewService(scfg)

	pcfg := workerpool.DefaultConfig()
	if e.cfg.Workers > 0 {
		pcfg.Workers = e.cfg.Workers
	}
	pcfg.MaxRetries = 0
	pool, err := workerpool.New(pcfg, func(ctx context.Context, t *workerpool.Task) *workerpool.Result {
		path := t.Payload.(string)
		f, err := os.Open(path)
		if err != nil {
			return &workerpool.Result{Error: err, Data: pipeline.ImportError}
		}
		defer f.Close()

		report, err := svc.Execute(ctx, f, e.cfg.OutputPath)
		if err != nil && report.Status != pipeline.ImportError {
			e.logger.Warn("query finished with delivery errors", zap.String("file", path), zap.Error(err))
			err = nil
		}
		return &workerpool.Result{Success: err == nil, Error: err, Data: report.Status}
	}, e.logger)
	if err != nil {
		return pipeline.ImportError, err
	}
	pool.Start()
	defer pool.Stop()

	statuses := make([]pipeline.RunStatus, len(files))
	g, gctx := errgroup.WithContext(ctx)
	for i, path := range files {
		g.Go(func() error {
			res, err := pool.SubmitWait(gctx, &workerpool.Task{ID: filepath.Base(path), Payload: path, Context: gctx})
			if err != nil {
				return fmt.Errorf("submit %s: %w", path, err)
			}
			status, ok := res.Data.(pipeline.RunStatus)
			if !ok {
				status = pipeline.ImportError
			}
			statuses[i] = status
			e.logger.Info("query processed",
				zap.String("file", path),
				zap.Stringer("status", statuses[i]),
				zap.Error(res.Error))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return pipeline.ImportError, err
	}

	status := pipeline.Combine(statuses...)
	e.logger.Info("batch finished",
		zap.Int("queries", len(files)),
		zap.Stringer("status", status))
	return status, nil
}
