package cli

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"

	"github.com/matzehuels/libcdn/pkg/config"
	"github.com/matzehuels/libcdn/pkg/history"
	"github.com/matzehuels/libcdn/pkg/integrations/github"
	"github.com/matzehuels/libcdn/pkg/pipeline"
)

const (
	triggerWebhook = "webhook"
	triggerManual  = "manual"

	maxPayloadSize  = 5 << 20
	defaultRunLimit = 20
	maxRunLimit     = 100
)

// serveCommand creates the serve command.
func (c *CLI) serveCommand() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run builds on GitHub push webhooks",
		Long: `Serve a webhook endpoint that runs the publish pipeline whenever a
configured source repository receives a push.

Routes:
  POST /hooks/github   GitHub push webhook
  POST /builds         manual build, body {"force": true} optional
  GET  /runs           recent runs
  GET  /healthz        liveness probe

Builds run one at a time. A push arriving while a build is queued is folded
into that build.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := c.loadApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close(context.WithoutCancel(ctx))

			if addr == "" {
				addr = a.cfg.Server.Addr
			}
			secret := a.cfg.WebhookSecret()
			if secret == "" {
				loggerFromContext(ctx).Warn("no webhook secret configured, accepting unsigned requests")
			}
			return newServer(a, secret, loggerFromContext(ctx)).serve(ctx, addr)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from config, "+config.DefaultAddr+")")

	return cmd
}

// buildRequest is one queued pipeline run.
type buildRequest struct {
	Trigger string
	Force   bool
}

// buildResponse is the reply to a build trigger.
type buildResponse struct {
	Queued bool   `json:"queued"`
	Reason string `json:"reason,omitempty"`
}

// server triggers pipeline runs from HTTP requests. All runs go through
// a single worker.
type server struct {
	runner  *pipeline.Runner
	history history.Store
	options func(trigger string, force bool) pipeline.Options
	repos   map[string]string // "owner/repo" -> tracked branch, "" for any
	secret  string
	logger  *log.Logger

	// queue holds at most one pending build.
	queue chan buildRequest
}

func newServer(a *app, secret string, logger *log.Logger) *server {
	return &server{
		runner:  a.runner,
		history: a.history,
		options: func(trigger string, force bool) pipeline.Options {
			return a.options(trigger, force, false)
		},
		repos:  watchedRepos(a.cfg),
		secret: secret,
		logger: logger,
		queue:  make(chan buildRequest, 1),
	}
}

// watchedRepos maps the GitHub repositories of configured libraries to the
// branch each one tracks.
func watchedRepos(cfg *config.Config) map[string]string {
	repos := make(map[string]string)
	for _, spec := range cfg.Specs() {
		location, ok := strings.CutPrefix(spec.Source, "github:")
		if !ok {
			continue
		}
		owner, repo, err := github.ParseRepoRef(location)
		if err != nil {
			continue
		}
		repos[strings.ToLower(owner+"/"+repo)] = spec.Branch
	}
	return repos
}

func (s *server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})
	r.Post("/hooks/github", s.handleGitHub)
	r.Post("/builds", s.handleBuild)
	r.Get("/runs", s.handleRuns)
	return r
}

func (s *server) serve(ctx context.Context, addr string) error {
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           s.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.work(ctx)
	}()

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening", "addr", addr)
		errCh <- httpServer.ListenAndServe()
	}()

	var err error
	select {
	case err = <-errCh:
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		err = httpServer.Shutdown(shutdownCtx)
	}
	wg.Wait()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// work runs queued builds until ctx is done.
func (s *server) work(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case req := <-s.queue:
			s.build(ctx, req)
		}
	}
}

func (s *server) build(ctx context.Context, req buildRequest) {
	res, err := s.runner.Execute(ctx, s.options(req.Trigger, req.Force))
	if err != nil {
		s.logger.Error("build failed", "trigger", req.Trigger, "error", err)
		return
	}
	s.logger.Info("build finished", "trigger", req.Trigger, "status", res.Status,
		"updated", len(res.Updated), "commit", res.CommitSHA)
}

// enqueue queues req unless a build is already waiting; the waiting build
// will pick up the same source state.
func (s *server) enqueue(req buildRequest) bool {
	select {
	case s.queue <- req:
		return true
	default:
		return false
	}
}

func (s *server) handleGitHub(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxPayloadSize))
	if err != nil {
		http.Error(w, "payload too large", http.StatusRequestEntityTooLarge)
		return
	}
	if s.secret != "" {
		if err := github.ValidateSignature(payload, r.Header.Get(github.SignatureHeader), s.secret); err != nil {
			http.Error(w, err.Error(), http.StatusUnauthorized)
			return
		}
	}

	event := r.Header.Get(github.EventHeader)
	switch event {
	case "ping":
		writeJSON(w, http.StatusOK, buildResponse{Reason: "pong"})
		return
	case "push":
	default:
		writeJSON(w, http.StatusOK, buildResponse{Reason: "ignored event " + strconv.Quote(event)})
		return
	}

	var push github.PushEvent
	if err := json.Unmarshal(payload, &push); err != nil {
		http.Error(w, "invalid push payload", http.StatusBadRequest)
		return
	}
	branch, ok := s.repos[strings.ToLower(push.Repository.FullName)]
	if !ok {
		writeJSON(w, http.StatusOK, buildResponse{Reason: "repository not configured"})
		return
	}
	if !push.IsTag() && branch != "" && push.Branch() != branch {
		writeJSON(w, http.StatusOK, buildResponse{Reason: "branch not tracked"})
		return
	}

	s.logger.Info("push received", "repository", push.Repository.FullName, "ref", push.Ref,
		"delivery", r.Header.Get(github.DeliveryHeader))
	s.accept(w, buildRequest{Trigger: triggerWebhook})
}

func (s *server) handleBuild(w http.ResponseWriter, r *http.Request) {
	if s.secret != "" && r.Header.Get("Authorization") != "Bearer "+s.secret {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	var body struct {
		Force bool `json:"force"`
	}
	if err := json.NewDecoder(io.LimitReader(r.Body, maxPayloadSize)).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	s.accept(w, buildRequest{Trigger: triggerManual, Force: body.Force})
}

func (s *server) accept(w http.ResponseWriter, req buildRequest) {
	if !s.enqueue(req) {
		writeJSON(w, http.StatusAccepted, buildResponse{Reason: "build already queued"})
		return
	}
	writeJSON(w, http.StatusAccepted, buildResponse{Queued: true})
}

func (s *server) handleRuns(w http.ResponseWriter, r *http.Request) {
	limit := defaultRunLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = min(n, maxRunLimit)
	}
	runs, err := s.history.Recent(r.Context(), limit)
	if err != nil {
		http.Error(w, "history unavailable", http.StatusInternalServerError)
		return
	}
	if runs == nil {
		runs = []*history.Run{}
	}
	writeJSON(w, http.StatusOK, runs)
}

func (s *server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("request", "method", r.Method, "path", r.URL.Path,
			"status", ww.Status(), "duration", time.Since(start).Round(time.Millisecond),
			"id", middleware.GetReqID(r.Context()))
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
