package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/daijiaran/cinegrid/internal/http/handlers"
	"github.com/daijiaran/cinegrid/internal/infra"
	"github.com/daijiaran/cinegrid/internal/middleware"
)

// RouterOptions carries the cross-cutting settings of the router.
type RouterOptions struct {
	CORSOrigins     []string
	RateLimitPerMin int
	DefaultLocale   string
	CountryLookup   middleware.CountryLookup
	// StaticDir is served under /static when set.
	StaticDir string
}

func NewRouter(app *handlers.App, opts RouterOptions) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.RequestID,
		chimw.RealIP,
		middleware.Logger(*infra.LoggerOrDiscard(app.Logger)),
		chimw.Recoverer,
		middleware.CORS(opts.CORSOrigins),
		middleware.I18N(opts.DefaultLocale, opts.CountryLookup),
	)

	r.Get("/v1/healthz", app.Health)

	r.Group(func(r chi.Router) {
		r.Use(middleware.RateLimit(opts.RateLimitPerMin, time.Minute))

		r.Post("/v1/prompt-spec", app.PromptSpec)
		r.Post("/v1/analyze", app.Analyze)

		r.Get("/v1/alerts", app.ListAlerts)
		r.Delete("/v1/alerts", app.ClearAlerts)

		r.Route("/v1/tasks", func(r chi.Router) {
			r.Post("/", app.SubmitTask)
			r.Get("/", app.ListTasks)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", app.GetTask)
				r.Delete("/", app.DeleteTask)
				r.Post("/cancel", app.CancelTask)
				r.Post("/retry", app.RetryTask)
				r.Post("/select", app.SelectTask)
				r.Get("/result", app.TaskResult)
				r.Get("/slices.zip", app.TaskSlicesZip)
				r.Get("/slices/{sid}", app.TaskSlice)
			})
		})

		r.Route("/v1/upscale", func(r chi.Router) {
			r.Get("/queue", app.ListQueue)
			r.Post("/queue", app.AddQueueItem)
			r.Post("/queue/bulk", app.AddQueueItems)
			r.Delete("/queue", app.ClearQueue)
			r.Delete("/queue/{sid}", app.RemoveQueueItem)
			r.Post("/process", app.ProcessQueue)
			r.Get("/results", app.ListResults)
			r.Delete("/results", app.ClearResults)
			r.Get("/results.zip", app.ResultsZip)
			r.Get("/results/{id}", app.GetResult)
		})

		r.Route("/v1/cards", func(r chi.Router) {
			r.Get("/", app.ListCards)
			r.Post("/", app.AddCard)
			r.Post("/reorder", app.ReorderCards)
			r.Patch("/{id}", app.UpdateCard)
			r.Delete("/{id}", app.DeleteCard)
			r.Post("/{id}/generate", app.GenerateCard)
		})

		r.Post("/v1/merge", app.StartMerge)
		r.Get("/v1/merge", app.MergeState)
		r.Get("/v1/merge/output", app.MergeOutput)
	})

	if opts.StaticDir != "" {
		fs := http.StripPrefix("/static/", http.FileServer(http.Dir(opts.StaticDir)))
		r.Get("/static/*", fs.ServeHTTP)
	}

	return r
}
