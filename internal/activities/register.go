package activities

import "go.temporal.io/sdk/worker"

func Register(w worker.Worker, a *Activities) {
	w.RegisterActivity(a.MarkReviewRunningActivity)
	w.RegisterActivity(a.PersonaReviewActivity)
	w.RegisterActivity(a.CompleteReviewActivity)
	w.RegisterActivity(a.SynthesizeReviewActivity)
}
