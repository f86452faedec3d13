package commands

import (
	"github.com/spf13/cobra"

	"github.com/parameterIT/experiment-toolkit/pkg/localscan"
	"github.com/parameterIT/experiment-toolkit/pkg/observability"
	"github.com/parameterIT/experiment-toolkit/pkg/pipeline"
	"github.com/parameterIT/experiment-toolkit/pkg/results"
)

type localCommand struct {
	globals      *Globals
	outDir       string
	qualityModel string
	tags         string
	skip         int
}

// NewLocalCommand creates the local command.
func NewLocalCommand(globals *Globals) *cobra.Command {
	lc := &localCommand{globals: globals}

	cmd := &cobra.Command{
		Use:   "local <reports-dir>",
		Short: "Aggregate local Code Climate reports, one <tag>.json per tag",
		Long: `Read the JSON reports written by "codeclimate analyze -f json" for each tag,
validate them, drop entries that are not issues and write the same tables as
the run command. The src_root of every table is the tag name.`,
		Args: cobra.ExactArgs(1),
		RunE: lc.run,
	}

	cmd.Flags().StringVarP(&lc.outDir, "out", "o", "", "Output directory (default: output.dir)")
	cmd.Flags().StringVar(&lc.qualityModel, "quality-model", "", "Quality model written into metadata (default: output.quality_model)")
	cmd.Flags().StringVar(&lc.tags, "tags", "", "Only process tags matching this glob")
	cmd.Flags().IntVar(&lc.skip, "skip", 0, "Skip the first N tags after filtering")

	return cmd
}

func (lc *localCommand) run(cmd *cobra.Command, args []string) error {
	cfg, err := lc.globals.loadConfig()
	if err != nil {
		return err
	}

	env, closeEnv, err := setup(lc.globals, cfg, observability.ModeLocal)
	if err != nil {
		return err
	}
	defer closeEnv()

	reports, err := localscan.NewReports(args[0], env.logger)
	if err != nil {
		return err
	}

	writer, err := results.NewWriter(results.WriterOptions{
		Dir:            firstNonEmpty(lc.outDir, cfg.Output.Dir),
		QualityModel:   firstNonEmpty(lc.qualityModel, cfg.Output.QualityModel),
		FrequenciesDir: cfg.Output.FrequenciesDir,
		Logger:         env.logger,
	})
	if err != nil {
		return err
	}

	manifest, err := pipeline.RunLocal(cmd.Context(), pipeline.LocalOptions{
		Producer: reports,
		Writer:   writer,
		Filter:   pipeline.Filter{Pattern: lc.tags, Skip: lc.skip},
		Metrics:  env.pipeline,
		Logger:   env.logger,
	})
	if err != nil {
		return err
	}

	writeSummary(cmd.OutOrStdout(), manifest, writer.Dir())

	return nil
}
