package analysis

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/dkratky/casecoder/internal/config"
	"github.com/dkratky/casecoder/internal/metrics"
	"github.com/dkratky/casecoder/internal/progress"
	"github.com/dkratky/casecoder/internal/store"
)

// Annotator is the single-call AI backend a phase run drives. Implemented by
// llm.Model in production and by fakes in tests.
type Annotator interface {
	Annotate(ctx context.Context, systemPrompt, userPrompt string) (string, error)
	Name() string
}

// AnnotatorFactory builds an annotator for the backend a start request
// selects. Construction failures reject the request before a run slot is
// reserved.
type AnnotatorFactory func(ctx context.Context, provider config.Provider, modelName string) (Annotator, error)

// StartRequest carries the caller-supplied parameters of a phase start.
type StartRequest struct {
	Store        string   `json:"store"`
	Backend      string   `json:"backend,omitempty"`
	Model        string   `json:"model,omitempty"`
	Instructions string   `json:"instructions,omitempty"`
	Themes       []string `json:"themes,omitempty"`
}

// Service owns the phase executors. All four phases share one registry, one
// broadcaster and one metrics collector.
type Service struct {
	cfg          config.Config
	registry     *Registry
	broadcaster  *progress.Broadcaster
	metrics      *metrics.Collector
	newAnnotator AnnotatorFactory
}

func NewService(cfg config.Config, reg *Registry, bc *progress.Broadcaster, mc *metrics.Collector, factory AnnotatorFactory) *Service {
	return &Service{
		cfg:          cfg,
		registry:     reg,
		broadcaster:  bc,
		metrics:      mc,
		newAnnotator: factory,
	}
}

// Registry exposes the run registry for status queries.
func (s *Service) Registry() *Registry {
	return s.registry
}

// ResolveStore maps a store name to its path under the data directory,
// rejecting traversal and absent files.
func (s *Service) ResolveStore(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", fmt.Errorf("%w: store name required", ErrValidation)
	}
	if name != filepath.Base(name) || strings.HasPrefix(name, ".") {
		return "", fmt.Errorf("%w: invalid store name %q", ErrValidation, name)
	}
	path := filepath.Join(s.cfg.DataDir, name)
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("%w: %s", ErrStoreNotFound, name)
		}
		return "", fmt.Errorf("stat store %s: %w", name, err)
	}
	return path, nil
}

// Start validates the request, reserves the single-flight slot for phase and
// launches the executor in the background. The returned Run is live; the
// caller observes completion through progress events or the registry.
func (s *Service) Start(ctx context.Context, phase Phase, req StartRequest) (*Run, error) {
	path, err := s.ResolveStore(req.Store)
	if err != nil {
		return nil, err
	}

	provider := s.cfg.Provider
	if req.Backend != "" {
		provider, err = config.ParseProvider(req.Backend)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrValidation, err)
		}
	}

	ann, err := s.newAnnotator(ctx, provider, req.Model)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	run, err := s.registry.TryStart(phase)
	if err != nil {
		return nil, err
	}

	st := store.New(path, s.metrics)
	go s.execute(run, st, ann, req)
	return run, nil
}

// Stop requests cooperative cancellation of the live run for phase.
func (s *Service) Stop(phase Phase) error {
	if !s.registry.RequestCancel(phase) {
		return fmt.Errorf("%w: %s", ErrNotRunning, phase)
	}
	return nil
}

func (s *Service) execute(run *Run, st *store.Store, ann Annotator, req StartRequest) {
	defer s.registry.release(run)
	defer func() {
		if r := recover(); r != nil {
			slog.Error("phase run panicked",
				"phase", run.Phase, "run_id", run.ID, "panic", r)
			s.publishFailed(run, fmt.Sprintf("internal panic: %v", r))
		}
	}()

	// Runs outlive the start request; cancellation is the registry flag,
	// not a context.
	ctx := context.Background()

	slog.Info("phase run starting",
		"phase", run.Phase, "run_id", run.ID, "store", st.Path(), "model", ann.Name())

	switch run.Phase {
	case PhaseInitialCoding:
		s.runCases(ctx, run, st, ann, codingHandler{}, req.Instructions)
	case PhaseCandidateTheming:
		s.runCases(ctx, run, st, ann, themingHandler{}, req.Instructions)
	case PhaseThemeFinalization:
		s.runFinalization(ctx, run, st, ann, req.Instructions)
	case PhaseThemeAssignment:
		s.runAssignment(ctx, run, st, ann, req)
	}
}

func (s *Service) publish(run *Run, ev progress.Event) {
	ev.Phase = string(run.Phase)
	ev.RunID = run.ID
	s.broadcaster.Publish(ev)
}

func (s *Service) publishFailed(run *Run, msg string) {
	slog.Error("phase run failed", "phase", run.Phase, "run_id", run.ID, "reason", msg)
	s.publish(run, progress.Event{
		Type:    progress.EventRunFailed,
		Message: msg,
	})
}
