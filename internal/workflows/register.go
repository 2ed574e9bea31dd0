package workflows

import (
	"go.temporal.io/sdk/worker"
)

// Register registers every workflow on the worker.
func Register(w worker.Worker) {
	w.RegisterWorkflow(ChaptersIndexWorkflow)
	w.RegisterWorkflow(VLMExtractWorkflow)
	w.RegisterWorkflow(ChapterExtractWorkflow)
	w.RegisterWorkflow(StoryIndexWorkflow)
	w.RegisterWorkflow(RefineWorkflow)
	w.RegisterWorkflow(NovelizeWorkflow)
	w.RegisterWorkflow(AnchorsWorkflow)
	w.RegisterWorkflow(BranchesWorkflow)
	w.RegisterWorkflow(CharactersWorkflow)
	w.RegisterWorkflow(ScalesWorkflow)
	w.RegisterWorkflow(ContinuationWorkflow)
	w.RegisterWorkflow(BranchPlanWorkflow)
	w.RegisterWorkflow(RunAllWorkflow)
}
