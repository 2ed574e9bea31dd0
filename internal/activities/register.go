package activities

import "go.temporal.io/sdk/worker"

func Register(w worker.Worker, a *Activities) {
	w.RegisterActivity(a.ScanChaptersActivity)
	w.RegisterActivity(a.CheckSummaryActivity)
	w.RegisterActivity(a.ListChapterPagesActivity)
	w.RegisterActivity(a.ExtractPageBatchActivity)
	w.RegisterActivity(a.WriteChapterSummaryActivity)
	w.RegisterActivity(a.LoadSummariesActivity)
	w.RegisterActivity(a.BuildStoryIndexActivity)
	w.RegisterActivity(a.RefineChapterActivity)
	w.RegisterActivity(a.NovelizeChapterActivity)
	w.RegisterActivity(a.ConcatNovelActivity)
	w.RegisterActivity(a.ExtractAnchorsActivity)
	w.RegisterActivity(a.AggregateAnchorsActivity)
	w.RegisterActivity(a.GenerateChapterBranchesActivity)
	w.RegisterActivity(a.AggregateBranchesActivity)
	w.RegisterActivity(a.BuildCharacterBibleActivity)
	w.RegisterActivity(a.ScoreChapterActivity)
	w.RegisterActivity(a.AggregateScalesActivity)
	w.RegisterActivity(a.ResolveTargetActivity)
	w.RegisterActivity(a.AssembleContextActivity)
	w.RegisterActivity(a.PlanChapterActivity)
	w.RegisterActivity(a.GeneratePageBatchActivity)
	w.RegisterActivity(a.SynthesizeVisualsActivity)
	w.RegisterActivity(a.CommitChapterActivity)
	w.RegisterActivity(a.UpdateChapterStatusActivity)
	w.RegisterActivity(a.UpdateBranchStatusActivity)
	w.RegisterActivity(a.LogGenerationCallActivity)
	w.RegisterActivity(a.ExportSchemasActivity)
}
