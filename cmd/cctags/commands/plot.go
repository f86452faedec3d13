package commands

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/parameterIT/experiment-toolkit/pkg/observability"
	"github.com/parameterIT/experiment-toolkit/pkg/plot"
	"github.com/parameterIT/experiment-toolkit/pkg/results"
)

const defaultPlotFile = "comparison.html"

// ErrNoTables is returned when a model directory holds no readable tables.
var ErrNoTables = errors.New("no result tables found")

type plotCommand struct {
	globals   *Globals
	output    string
	title     string
	freqDir   string
	noAliases bool
}

// NewPlotCommand creates the plot command.
func NewPlotCommand(globals *Globals) *cobra.Command {
	pc := &plotCommand{globals: globals}

	cmd := &cobra.Command{
		Use:   "plot <model-dir> <model-dir>...",
		Short: "Compare quality models across tags as line charts",
		Long: `Read the metadata and frequency tables of two or more quality models and
render one line chart per metric of the first model, with tags on the x axis.

Each argument is an output directory, optionally prefixed with a display name
as name=dir. Without a name the directory's base name is used.`,
		Args: cobra.MinimumNArgs(2),
		RunE: pc.run,
	}

	cmd.Flags().StringVarP(&pc.output, "output", "o", defaultPlotFile, "HTML file to write")
	cmd.Flags().StringVar(&pc.title, "title", "", "Page title (default: model names)")
	cmd.Flags().StringVar(&pc.freqDir, "frequencies-dir", "", "Frequency partition name (default: frequencies, then outcome)")
	cmd.Flags().BoolVar(&pc.noAliases, "no-aliases", false, "Match metrics by exact name only")

	return cmd
}

func (pc *plotCommand) run(cmd *cobra.Command, args []string) error {
	cfg, err := pc.globals.loadConfig()
	if err != nil {
		return err
	}

	env, closeEnv, err := setup(pc.globals, cfg, observability.ModePlot)
	if err != nil {
		return err
	}
	defer closeEnv()

	models := make([]plot.Model, 0, len(args))
	names := make([]string, 0, len(args))

	for _, arg := range args {
		name, dir := splitModelArg(arg)

		tables, readErr := results.ReadModel(dir, pc.freqDir)
		if readErr != nil {
			return fmt.Errorf("model %s: %w", name, readErr)
		}

		if len(tables) == 0 {
			return fmt.Errorf("model %s: %w in %s", name, ErrNoTables, dir)
		}

		env.logger.Debug("model loaded", "model", name, "dir", dir, "tables", len(tables))

		models = append(models, plot.Model{Name: name, Tables: tables})
		names = append(names, name)
	}

	aliases := plot.DefaultAliases
	if pc.noAliases {
		aliases = nil
	}

	comparisons := plot.Compare(models, aliases)

	title := pc.title
	if title == "" {
		title = strings.Join(names, " vs ")
	}

	f, err := os.Create(pc.output)
	if err != nil {
		return fmt.Errorf("create %s: %w", pc.output, err)
	}

	err = plot.Render(f, title, comparisons)
	if err != nil {
		f.Close()

		return err
	}

	err = f.Close()
	if err != nil {
		return fmt.Errorf("close %s: %w", pc.output, err)
	}

	info, err := os.Stat(pc.output)
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "%s %d charts written to %s (%s)\n",
		color.GreenString("✓"), len(comparisons), pc.output, humanize.Bytes(uint64(info.Size())))

	return nil
}

// splitModelArg splits "name=dir". A bare dir is named after its base.
func splitModelArg(arg string) (name, dir string) {
	if label, path, ok := strings.Cut(arg, "="); ok && label != "" {
		return label, path
	}

	return filepath.Base(filepath.Clean(arg)), arg
}
