package main

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/drfirst/go-tdm/internal/pipeline"
)

func runCmd(v *viper.Viper, status *pipeline.RunStatus) *cobra.Command {
	var queryPath string
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Process one query file",
		Long: "Process one query file and write one result file per request.\n" +
			"The exit code is 0 when every request succeeded, 1 when some did,\n" +
			"2 when none did and 3 when the inputs could not be imported.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := newEnv(cmd.Context(), v)
			if err != nil {
				return err
			}
			defer e.close()

			*status = pipeline.NewRunner(e.serviceConfig()).Run(cmd.Context(), pipeline.Paths{
				DrugPath:        e.cfg.DrugPath,
				QueryPath:       queryPath,
				OutputPath:      e.cfg.OutputPath,
				TranslationPath: e.cfg.TranslationPath,
			})
			e.logger.Info("run finished",
				zap.String("query", queryPath),
				zap.Stringer("status", *status))
			return nil
		},
	}
	cmd.Flags().StringVar(&queryPath, "query", "", "query file")
	_ = cmd.MarkFlagRequired("query")
	return cmd
}
