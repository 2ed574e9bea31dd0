package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	cli "github.com/urfave/cli/v3"
	tclient "go.temporal.io/sdk/client"

	"mangaflow/internal/activities"
	"mangaflow/internal/config"
	"mangaflow/internal/logging"
	"mangaflow/internal/schema"
	"mangaflow/internal/workflows"
)

// pipeline is the operator CLI: it starts a workflow on the running worker
// and waits for the result, printing it as JSON.
func main() {
	_ = godotenv.Load(".env")
	log := logging.New()
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalw("load config", "error", err)
	}
	r := &runner{cfg: cfg}

	chaptersFlag := &cli.StringSliceFlag{Name: "chapter", Usage: "restrict to chapter `ID` (repeatable)"}
	forceFlag := &cli.BoolFlag{Name: "force", Usage: "regenerate even when the artifact already exists"}

	app := &cli.Command{
		Name:            "pipeline",
		Usage:           "manga to novel pipeline control",
		HideHelpCommand: true,
		Commands: []*cli.Command{
			{
				Name:  "chapters",
				Usage: "Scan the corpus and rebuild the chapter index",
				Action: func(ctx context.Context, _ *cli.Command) error {
					return r.run(ctx, "step-chapters", workflows.ChaptersIndexWorkflow, workflows.ChaptersIndexInput{RebuildIndex: true})
				},
			},
			{
				Name:  "vlm",
				Usage: "Extract chapter summaries from page images",
				Flags: []cli.Flag{chaptersFlag, forceFlag},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return r.run(ctx, "step-vlm", workflows.VLMExtractWorkflow, workflows.VLMExtractInput{
						Chapters:       cmd.StringSlice("chapter"),
						PageBatchSize:  cfg.VLMPageBatchSize,
						MaxConcurrency: cfg.StageMaxConcurrency,
						Force:          cmd.Bool("force"),
					})
				},
			},
			{
				Name:  "index",
				Usage: "Build the story index from chapter summaries",
				Action: func(ctx context.Context, _ *cli.Command) error {
					return r.run(ctx, "step-index", workflows.StoryIndexWorkflow, workflows.StoryIndexInput{})
				},
			},
			{
				Name:  "refine",
				Usage: "Refine chapter summaries against the story index",
				Flags: []cli.Flag{chaptersFlag, forceFlag},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return r.run(ctx, "step-refine", workflows.RefineWorkflow, workflows.StageInput{
						Chapters:       cmd.StringSlice("chapter"),
						Force:          cmd.Bool("force"),
						MaxConcurrency: cfg.StageMaxConcurrency,
					})
				},
			},
			{
				Name:  "novel",
				Usage: "Novelize refined summaries into prose chapters",
				Action: func(ctx context.Context, _ *cli.Command) error {
					return r.run(ctx, "step-novel", workflows.NovelizeWorkflow, workflows.NovelizeInput{})
				},
			},
			{
				Name:  "anchors",
				Usage: "Extract branchable anchor events per chapter",
				Flags: []cli.Flag{chaptersFlag},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return r.run(ctx, "step-anchors", workflows.AnchorsWorkflow, workflows.AnchorsInput{
						Chapters:       cmd.StringSlice("chapter"),
						AllowEmpty:     cfg.AllowEmptyAnchors,
						MaxConcurrency: cfg.StageMaxConcurrency,
					})
				},
			},
			{
				Name:  "branches",
				Usage: "Generate branch route options for qualifying anchors",
				Flags: []cli.Flag{chaptersFlag},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return r.run(ctx, "step-branches", workflows.BranchesWorkflow, workflows.BranchesInput{
						Chapters:  cmd.StringSlice("chapter"),
						Threshold: cfg.BranchThreshold,
					})
				},
			},
			{
				Name:  "characters",
				Usage: "Build the character bible from the novelized corpus",
				Action: func(ctx context.Context, _ *cli.Command) error {
					return r.run(ctx, "step-characters", workflows.CharactersWorkflow, nil)
				},
			},
			{
				Name:  "scales",
				Usage: "Score chapters on the narrative scales",
				Flags: []cli.Flag{chaptersFlag},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return r.run(ctx, "step-scales", workflows.ScalesWorkflow, workflows.StageInput{
						Chapters:       cmd.StringSlice("chapter"),
						MaxConcurrency: cfg.StageMaxConcurrency,
					})
				},
			},
			{
				Name:  "all",
				Usage: "Run every stage in order",
				Action: func(ctx context.Context, _ *cli.Command) error {
					return r.run(ctx, "step-all", workflows.RunAllWorkflow, workflows.RunAllInput{
						PageBatchSize:  cfg.VLMPageBatchSize,
						MaxConcurrency: cfg.StageMaxConcurrency,
					})
				},
			},
			{
				Name:  "continue",
				Usage: "Generate the next mainline chapter",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "pages", Usage: "target page `COUNT` for the new chapter"},
					&cli.IntFlag{Name: "batch", Usage: "pages per generation batch"},
					&cli.StringFlag{Name: "timeline", Usage: "write the chapter under timeline `DIR` instead of the mainline"},
				},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return r.continueRun(ctx, activities.ModeContinueMainline, "", cmd.String("timeline"), int(cmd.Int("pages")), int(cmd.Int("batch")))
				},
			},
			{
				Name:      "branch",
				Usage:     "Operate on a branch timeline",
				ArgsUsage: "plan|generate|continue BRANCH_ID",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					verb := cmd.Args().Get(0)
					branchID := cmd.Args().Get(1)
					if verb == "" || branchID == "" {
						return fmt.Errorf("usage: pipeline branch plan|generate|continue BRANCH_ID")
					}
					switch verb {
					case "plan":
						return r.run(ctx, "plan-"+branchID, workflows.BranchPlanWorkflow, workflows.BranchPlanInput{BranchID: branchID})
					case "generate":
						return r.continueRun(ctx, activities.ModeBranchGenerate, branchID, "", 0, 0)
					case "continue":
						return r.continueRun(ctx, activities.ModeBranchContinue, branchID, "", 0, 0)
					default:
						return fmt.Errorf("unknown branch verb %q", verb)
					}
				},
			},
			{
				Name:  "schemas",
				Usage: "Export artifact JSON schemas to the schemas directory",
				Action: func(_ context.Context, _ *cli.Command) error {
					if err := schema.ExportAll(cfg.SchemasDir); err != nil {
						return err
					}
					fmt.Printf("exported %d schemas to %s\n", len(schema.Kinds()), cfg.SchemasDir)
					return nil
				},
			},
		},
	}

	if err := app.Run(ctx, os.Args); err != nil {
		log.Fatalw("pipeline command failed", "error", err)
	}
}

type runner struct {
	cfg config.Config
}

func (r *runner) continueRun(ctx context.Context, mode, branchID, timelineDir string, pages, batch int) error {
	target := branchID
	if target == "" {
		target = "mainline"
	}
	if pages <= 0 {
		pages = r.cfg.TargetPages
	}
	if batch <= 0 {
		batch = r.cfg.PageBatchSize
	}
	return r.run(ctx, "continue-"+mode+"-"+target, workflows.ContinuationWorkflow, workflows.ContinuationInput{
		Mode:        mode,
		BranchID:    branchID,
		TimelineDir: timelineDir,
		TargetPages: pages,
		BatchSize:   batch,
	})
}

func (r *runner) run(ctx context.Context, wfID string, wf any, input any) error {
	c, err := tclient.Dial(tclient.Options{HostPort: r.cfg.TemporalAddress})
	if err != nil {
		return fmt.Errorf("dial temporal: %w", err)
	}
	defer c.Close()

	opts := tclient.StartWorkflowOptions{
		ID:                                       wfID,
		TaskQueue:                                r.cfg.TemporalTaskQueue,
		WorkflowExecutionErrorWhenAlreadyStarted: true,
	}
	var we tclient.WorkflowRun
	if input == nil {
		we, err = c.ExecuteWorkflow(ctx, opts, wf)
	} else {
		we, err = c.ExecuteWorkflow(ctx, opts, wf, input)
	}
	if err != nil {
		return fmt.Errorf("start %s: %w", wfID, err)
	}
	fmt.Printf("started %s run=%s\n", we.GetID(), we.GetRunID())

	var result json.RawMessage
	if err := we.Get(ctx, &result); err != nil {
		return fmt.Errorf("workflow %s: %w", wfID, err)
	}
	pretty, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(pretty))
	return nil
}
