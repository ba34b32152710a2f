package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/yumyai/stat3deg/logger"
	"github.com/yumyai/stat3deg/pkg/pipeline"
	"github.com/yumyai/stat3deg/pkg/store"
)

// runCmd is the production path.
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run load, filter, exploration, differential expression and overlap",
	Args:  cobra.NoArgs,
	RunE: withPipeline(func(ctx context.Context, p *pipeline.Pipeline, _ *store.Store) error {
		rep, err := p.Run(ctx)
		if err != nil {
			return err
		}
		for _, res := range rep.Results {
			logger.Info("Significant genes", zap.String("contrast", res.Contrast.Name),
				zap.Int("up", len(res.Up())), zap.Int("down", len(res.Down())))
		}
		logger.Info("Outputs written", zap.String("run", rep.RunID), zap.String("dir", rep.OutDir))
		return nil
	}),
}

var ruvCmd = &cobra.Command{
	Use:   "ruv",
	Short: "Experimental: remove unwanted variation using housekeeping genes and redraw the diagnostics",
	Long: `Estimates one unwanted-variation factor from the most stable housekeeping
genes (RUVg) and draws PCA and RLE plots of the corrected counts. The
corrected counts are never used for testing.`,
	Args: cobra.NoArgs,
	RunE: withPipeline(func(ctx context.Context, p *pipeline.Pipeline, _ *store.Store) error {
		out, err := p.RunRUV(ctx)
		if err != nil {
			return err
		}
		logger.Info("RUV outputs written", zap.String("run", out.RunID), zap.String("dir", out.OutDir),
			zap.Int("controls", len(out.Controls)))
		return nil
	}),
}

var overlapCmd = &cobra.Command{
	Use:   "overlap [run-id]",
	Short: "Redo the overlap stage on stored results (default: latest completed run)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id := ""
		if len(args) == 1 {
			id = args[0]
		}
		return withPipeline(func(ctx context.Context, p *pipeline.Pipeline, _ *store.Store) error {
			rep, err := p.Recompare(ctx, id)
			if err != nil {
				return err
			}
			for _, o := range rep.Overlaps {
				logger.Info("Overlap", zap.String("a", o.NameA), zap.String("b", o.NameB),
					zap.Int("shared", o.Intersection), zap.Float64("p", o.PValue))
			}
			return nil
		})(cmd, args)
	},
}

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List stored runs and their stages",
	Args:  cobra.NoArgs,
	RunE: withPipeline(func(ctx context.Context, _ *pipeline.Pipeline, st *store.Store) error {
		runs, err := st.ListRuns(ctx)
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "RUN\tSTATUS\tCREATED\tSTAGES\tERROR")
		for _, r := range runs {
			stages, err := st.Stages(ctx, r.ID)
			if err != nil {
				return err
			}
			done := 0
			for _, s := range stages {
				if s.Status == store.StageCompleted {
					done++
				}
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%d/%d\t%s\n", r.ID, r.Status, r.CreatedAt.Format("2006-01-02 15:04:05"), done, len(stages), r.Error)
		}
		return w.Flush()
	}),
}

var showCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Print the stages and stored overlap tests of a run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withPipeline(func(ctx context.Context, _ *pipeline.Pipeline, st *store.Store) error {
			run, err := st.GetRun(ctx, args[0])
			if err != nil {
				return err
			}
			stages, err := st.Stages(ctx, run.ID)
			if err != nil {
				return err
			}
			overlaps, err := st.LoadOverlaps(ctx, run.ID)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintf(w, "run %s\t%s\t%s\n\n", run.ID, run.Status, run.OutputDir)
			fmt.Fprintln(w, "STAGE\tSTATUS\tDETAIL\tERROR")
			for _, s := range stages {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", s.Name, s.Status, s.Detail, s.Error)
			}
			if len(overlaps) > 0 {
				fmt.Fprintln(w, "\nSET A\tSET B\tSHARED\tSIZES\tP\tJACCARD")
				for _, o := range overlaps {
					fmt.Fprintf(w, "%s\t%s\t%d\t%d/%d of %d\t%.3g\t%.3f\n",
						o.NameA, o.NameB, o.Intersection, o.SizeA, o.SizeB, o.Background, o.PValue, o.Jaccard)
				}
			}
			return w.Flush()
		})(cmd, args)
	},
}
