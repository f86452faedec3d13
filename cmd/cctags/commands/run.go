package commands

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync/atomic"

	"github.com/spf13/cobra"

	"github.com/parameterIT/experiment-toolkit/pkg/codeclimate"
	"github.com/parameterIT/experiment-toolkit/pkg/gitlib"
	"github.com/parameterIT/experiment-toolkit/pkg/observability"
	"github.com/parameterIT/experiment-toolkit/pkg/pipeline"
	"github.com/parameterIT/experiment-toolkit/pkg/reconcile"
	"github.com/parameterIT/experiment-toolkit/pkg/results"
)

var errNotReady = errors.New("run has not started")

// runCommand holds the flags of the run command.
type runCommand struct {
	globals *Globals
	prepare bool
	outDir  string
	tags    string
	skip    int
}

// NewRunCommand creates the run command.
func NewRunCommand(globals *Globals) *cobra.Command {
	rc := &runCommand{globals: globals}

	cmd := &cobra.Command{
		Use:   "run <source-clone> <source-slug> <mirror-clone> <mirror-slug>",
		Short: "Reconcile every tag with a Code Climate build and write its issues",
		Long: `Make sure every tag of the source repository has a complete Code Climate
build, pushing the tagged commit to the watched mirror when it has none, then
write the issue frequencies and locations of each tag's snapshot.

The API token is read from the environment variable named by api.token_env
(CODE_CLIMATE_TOKEN by default).`,
		Args: cobra.ExactArgs(4),
		RunE: rc.run,
	}

	cmd.Flags().BoolVar(&rc.prepare, "prepare", true, "Fetch the source clone into the mirror before reconciling")
	cmd.Flags().StringVarP(&rc.outDir, "out", "o", "", "Output directory (default: output.dir)")
	cmd.Flags().StringVar(&rc.tags, "tags", "", "Only process tags matching this glob")
	cmd.Flags().IntVar(&rc.skip, "skip", 0, "Skip the first N tags after filtering")

	return cmd
}

func (rc *runCommand) run(cmd *cobra.Command, args []string) error {
	sourcePath, sourceSlug, mirrorPath, mirrorSlug := args[0], args[1], args[2], args[3]

	cfg, err := rc.globals.loadConfig()
	if err != nil {
		return err
	}

	token, err := cfg.Token()
	if err != nil {
		return err
	}

	var started atomic.Bool

	env, closeEnv, err := setup(rc.globals, cfg, observability.ModeRun, func(context.Context) error {
		if !started.Load() {
			return errNotReady
		}

		return nil
	})
	if err != nil {
		return err
	}
	defer closeEnv()

	ctx := cmd.Context()
	logger := env.logger

	source, err := gitlib.OpenRepository(sourcePath)
	if err != nil {
		return fmt.Errorf("open source clone: %w", err)
	}
	defer source.Free()

	mirrorRepo, err := gitlib.OpenRepository(mirrorPath)
	if err != nil {
		return fmt.Errorf("open mirror clone: %w", err)
	}
	defer mirrorRepo.Free()

	mirror := gitlib.NewMirror(mirrorRepo, gitlib.MirrorOptions{
		Remote:       cfg.Sync.Remote,
		Branch:       cfg.Sync.Branch,
		SourceRemote: cfg.Sync.SourceRemote,
		SSHUser:      cfg.Sync.SSHUser,
		Logger:       logger,
	})

	if rc.prepare {
		abs, absErr := filepath.Abs(source.Path())
		if absErr != nil {
			return absErr
		}

		err = mirror.FetchSource(ctx, abs)
		if err != nil {
			return err
		}
	}

	client, err := codeclimate.NewClient(codeclimate.Options{
		BaseURL:     cfg.API.BaseURL,
		Token:       token,
		PageSize:    cfg.API.PageSize,
		Timeout:     cfg.API.Timeout,
		MaxAttempts: cfg.API.MaxAttempts,
		Backoff:     cfg.API.Backoff,
		Logger:      logger,
		Tracer:      env.providers.Tracer,
		Metrics:     env.red,
	})
	if err != nil {
		return err
	}

	writer, err := results.NewWriter(results.WriterOptions{
		Dir:            firstNonEmpty(rc.outDir, cfg.Output.Dir),
		QualityModel:   cfg.Output.QualityModel,
		FrequenciesDir: cfg.Output.FrequenciesDir,
		Logger:         logger,
	})
	if err != nil {
		return err
	}

	runner, err := pipeline.New(pipeline.Options{
		Slug:       sourceSlug,
		MirrorSlug: mirrorSlug,
		Tags:       pipeline.GitTags{Repo: source},
		Sync:       mirror,
		Analyzer:   client,
		Writer:     writer,
		Filter:     pipeline.Filter{Pattern: rc.tags, Skip: rc.skip},
		Reconcile: reconcile.Config{
			PollInterval: cfg.Poll.Interval,
			MaxWait:      cfg.Poll.MaxWait,
			SyncAttempts: cfg.Sync.Attempts,
			SyncBackoff:  cfg.Sync.Backoff,
		},
		Metrics: env.pipeline,
		Logger:  logger,
		Tracer:  env.providers.Tracer,
	})
	if err != nil {
		return err
	}

	started.Store(true)

	manifest, err := runner.Run(ctx)
	if err != nil {
		var rerr *reconcile.Error
		if errors.As(err, &rerr) {
			logger.ErrorContext(ctx, "reconciliation failed",
				"run_id", runner.RunID(), "tag", rerr.Tag, "commit", rerr.Commit, "error", rerr.Cause)
		}

		return err
	}

	writeSummary(cmd.OutOrStdout(), manifest, writer.Dir())

	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}

	return ""
}
