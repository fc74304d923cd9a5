package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dkratky/casecoder/internal/config"
	"github.com/dkratky/casecoder/internal/metrics"
	"github.com/dkratky/casecoder/internal/progress"
	"github.com/dkratky/casecoder/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testStoreName = "cases.json"

// fakeAnnotator answers per-case prompts with scripted responses. The case
// id is recovered from the prompt's data block.
type fakeAnnotator struct {
	mu      sync.Mutex
	calls   int
	byCase  map[string]int
	prompts map[string]string
	respond func(id string, attempt int, user string) (string, error)
}

func newFakeAnnotator(respond func(id string, attempt int, user string) (string, error)) *fakeAnnotator {
	return &fakeAnnotator{
		byCase:  make(map[string]int),
		prompts: make(map[string]string),
		respond: respond,
	}
}

func (f *fakeAnnotator) Annotate(_ context.Context, _, user string) (string, error) {
	id := promptCaseID(user)
	f.mu.Lock()
	f.calls++
	f.byCase[id]++
	attempt := f.byCase[id]
	f.prompts[id] = user
	f.mu.Unlock()
	return f.respond(id, attempt, user)
}

func (f *fakeAnnotator) Name() string { return "fake/model" }

func (f *fakeAnnotator) totalCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeAnnotator) promptFor(id string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.prompts[id]
}

// promptCaseID extracts the case id from the prompt's "ID: <id>" line.
func promptCaseID(user string) string {
	i := strings.LastIndex(user, "ID: ")
	if i == -1 {
		return ""
	}
	rest := user[i+len("ID: "):]
	if j := strings.IndexByte(rest, '\n'); j != -1 {
		return rest[:j]
	}
	return rest
}

func codesResponse(id string) string {
	return fmt.Sprintf(`{%q: [%q, %q]}`, id, "code one "+id, "code two "+id)
}

func themeResponse(id, theme string) string {
	return fmt.Sprintf(`{%q: %q}`, id, theme)
}

func newTestService(t *testing.T, dir string, ann Annotator) (*Service, *progress.Broadcaster) {
	t.Helper()
	bc := progress.NewBroadcaster()
	cfg := config.Config{DataDir: dir, Provider: config.ProviderOpenAI}
	svc := NewService(cfg, NewRegistry(), bc, metrics.NewCollector(),
		func(ctx context.Context, p config.Provider, m string) (Annotator, error) {
			return ann, nil
		})
	return svc, bc
}

func writeStoreJSON(t *testing.T, dir, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, testStoreName), []byte(content), 0o644))
}

// codingFixture builds a store with n cases where the first coded ones
// already carry codes.
func codingFixture(t *testing.T, n, coded int) string {
	t.Helper()
	cases := make(map[string]map[string]any, n)
	for i := 0; i < n; i++ {
		id := fmt.Sprintf("case-%02d", i)
		c := map[string]any{"text": "narrative " + id}
		if i < coded {
			c["codes"] = []string{"existing code " + id}
		}
		cases[id] = c
	}
	b, err := json.Marshal(cases)
	require.NoError(t, err)
	return string(b)
}

func loadStore(t *testing.T, dir string) *store.Dataset {
	t.Helper()
	d, err := store.New(filepath.Join(dir, testStoreName), nil).Load()
	require.NoError(t, err)
	return d
}

func waitForTerminal(t *testing.T, sub *progress.Subscription) []progress.Event {
	t.Helper()
	var evs []progress.Event
	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev := <-sub.Events():
			evs = append(evs, ev)
			switch ev.Type {
			case progress.EventRunCompleted, progress.EventRunFailed, progress.EventRunStopped:
				return evs
			}
		case <-deadline:
			t.Fatalf("timed out waiting for terminal event, got %d events", len(evs))
		}
	}
}

func waitForIdle(t *testing.T, svc *Service, phase Phase) {
	t.Helper()
	require.Eventually(t, func() bool {
		return !svc.Registry().IsRunning(phase)
	}, time.Second, 5*time.Millisecond)
}

// runPhase starts a phase and blocks until it reaches a terminal event and
// releases its slot.
func runPhase(t *testing.T, svc *Service, bc *progress.Broadcaster, phase Phase, req StartRequest) []progress.Event {
	t.Helper()
	sub := bc.Subscribe()
	defer bc.Unsubscribe(sub)

	_, err := svc.Start(context.Background(), phase, req)
	require.NoError(t, err)

	evs := waitForTerminal(t, sub)
	waitForIdle(t, svc, phase)
	return evs
}

func eventsOfType(evs []progress.Event, typ progress.EventType) []progress.Event {
	var out []progress.Event
	for _, ev := range evs {
		if ev.Type == typ {
			out = append(out, ev)
		}
	}
	return out
}

func TestStartValidation(t *testing.T) {
	dir := t.TempDir()
	writeStoreJSON(t, dir, codingFixture(t, 1, 0))
	svc, _ := newTestService(t, dir, newFakeAnnotator(nil))
	ctx := context.Background()

	t.Run("missing store name", func(t *testing.T) {
		_, err := svc.Start(ctx, PhaseInitialCoding, StartRequest{})
		assert.ErrorIs(t, err, ErrValidation)
	})

	t.Run("path traversal", func(t *testing.T) {
		_, err := svc.Start(ctx, PhaseInitialCoding, StartRequest{Store: "../" + testStoreName})
		assert.ErrorIs(t, err, ErrValidation)
	})

	t.Run("absent store", func(t *testing.T) {
		_, err := svc.Start(ctx, PhaseInitialCoding, StartRequest{Store: "nope.json"})
		assert.ErrorIs(t, err, ErrStoreNotFound)
	})

	t.Run("unknown backend", func(t *testing.T) {
		_, err := svc.Start(ctx, PhaseInitialCoding, StartRequest{Store: testStoreName, Backend: "palm"})
		assert.ErrorIs(t, err, ErrValidation)
	})

	t.Run("no run slot reserved on rejection", func(t *testing.T) {
		assert.False(t, svc.Registry().IsRunning(PhaseInitialCoding))
	})
}

func TestStartRejectsAnnotatorFailureBeforeReservingSlot(t *testing.T) {
	dir := t.TempDir()
	writeStoreJSON(t, dir, codingFixture(t, 1, 0))

	bc := progress.NewBroadcaster()
	svc := NewService(config.Config{DataDir: dir}, NewRegistry(), bc, metrics.NewCollector(),
		func(ctx context.Context, p config.Provider, m string) (Annotator, error) {
			return nil, errors.New("OpenAI API key required")
		})

	_, err := svc.Start(context.Background(), PhaseInitialCoding, StartRequest{Store: testStoreName})
	require.ErrorIs(t, err, ErrValidation)
	assert.False(t, svc.Registry().IsRunning(PhaseInitialCoding))
}

func TestInitialCodingRun(t *testing.T) {
	dir := t.TempDir()
	writeStoreJSON(t, dir, codingFixture(t, 3, 0))

	fake := newFakeAnnotator(func(id string, attempt int, user string) (string, error) {
		return codesResponse(id), nil
	})
	svc, bc := newTestService(t, dir, fake)

	evs := runPhase(t, svc, bc, PhaseInitialCoding, StartRequest{Store: testStoreName})

	started := eventsOfType(evs, progress.EventRunStarted)
	require.Len(t, started, 1)
	assert.Equal(t, "initial_coding", started[0].Phase)
	require.NotNil(t, started[0].Progress)
	assert.Equal(t, 0, started[0].Progress.Processed)
	assert.Equal(t, 3, started[0].Progress.Total)

	completed := eventsOfType(evs, progress.EventCaseCompleted)
	require.Len(t, completed, 3)
	// Deterministic work order: sorted case ids.
	assert.Equal(t, "case-00", completed[0].CaseID)
	assert.Equal(t, "case-02", completed[2].CaseID)
	assert.Equal(t, 3, completed[2].Progress.Processed)
	assert.Equal(t, 0, completed[2].Progress.Remaining)
	assert.Equal(t, 6, completed[2].Progress.UniqueLabels, "two codes per case")

	final := evs[len(evs)-1]
	assert.Equal(t, progress.EventRunCompleted, final.Type)
	assert.NotEmpty(t, final.RunID)

	d := loadStore(t, dir)
	for id, rec := range d.Cases {
		assert.NotNil(t, rec.Codes, "case %s should be coded", id)
	}
}

func TestInitialCodingResumesFromPartialState(t *testing.T) {
	dir := t.TempDir()
	writeStoreJSON(t, dir, codingFixture(t, 10, 4))

	fake := newFakeAnnotator(func(id string, attempt int, user string) (string, error) {
		return codesResponse(id), nil
	})
	svc, bc := newTestService(t, dir, fake)

	evs := runPhase(t, svc, bc, PhaseInitialCoding, StartRequest{Store: testStoreName})

	started := eventsOfType(evs, progress.EventRunStarted)
	require.Len(t, started, 1)
	assert.Equal(t, 4, started[0].Progress.Processed, "already-coded cases count as done")
	assert.Equal(t, 10, started[0].Progress.Total)
	assert.Equal(t, 6, started[0].Progress.Remaining)

	assert.Equal(t, 6, fake.totalCalls(), "only uncoded cases hit the annotator")
	assert.Len(t, eventsOfType(evs, progress.EventCaseCompleted), 6)

	d := loadStore(t, dir)
	assert.Len(t, d.Cases, 10)
	for _, rec := range d.Cases {
		assert.NotNil(t, rec.Codes)
	}
}

func TestSecondRunIsNoOp(t *testing.T) {
	dir := t.TempDir()
	writeStoreJSON(t, dir, codingFixture(t, 2, 0))

	fake := newFakeAnnotator(func(id string, attempt int, user string) (string, error) {
		return codesResponse(id), nil
	})
	svc, bc := newTestService(t, dir, fake)

	runPhase(t, svc, bc, PhaseInitialCoding, StartRequest{Store: testStoreName})
	require.Equal(t, 2, fake.totalCalls())

	before, err := os.ReadFile(filepath.Join(dir, testStoreName))
	require.NoError(t, err)

	evs := runPhase(t, svc, bc, PhaseInitialCoding, StartRequest{Store: testStoreName})
	assert.Equal(t, 2, fake.totalCalls(), "a complete store needs no annotator calls")

	final := evs[len(evs)-1]
	assert.Equal(t, progress.EventRunCompleted, final.Type)
	assert.Equal(t, "nothing to do", final.Message)

	after, err := os.ReadFile(filepath.Join(dir, testStoreName))
	require.NoError(t, err)
	assert.Equal(t, string(before), string(after), "no-op run must not rewrite the store")
}

func TestSingleFlightAcrossStores(t *testing.T) {
	dir := t.TempDir()
	writeStoreJSON(t, dir, codingFixture(t, 1, 0))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.json"),
		[]byte(codingFixture(t, 1, 0)), 0o644))

	release := make(chan struct{})
	fake := newFakeAnnotator(func(id string, attempt int, user string) (string, error) {
		<-release
		return codesResponse(id), nil
	})
	svc, bc := newTestService(t, dir, fake)

	sub := bc.Subscribe()
	defer bc.Unsubscribe(sub)

	_, err := svc.Start(context.Background(), PhaseInitialCoding, StartRequest{Store: testStoreName})
	require.NoError(t, err)

	// Same phase kind conflicts even against a different store.
	_, err = svc.Start(context.Background(), PhaseInitialCoding, StartRequest{Store: "other.json"})
	assert.ErrorIs(t, err, ErrPhaseRunning)

	close(release)
	waitForTerminal(t, sub)
	waitForIdle(t, svc, PhaseInitialCoding)

	// The slot is free again after completion.
	evs := runPhase(t, svc, bc, PhaseInitialCoding, StartRequest{Store: "other.json"})
	assert.Equal(t, progress.EventRunCompleted, evs[len(evs)-1].Type)
}

func TestStopDiscardsInFlightResult(t *testing.T) {
	dir := t.TempDir()
	writeStoreJSON(t, dir, codingFixture(t, 5, 0))

	var svc *Service
	fake := newFakeAnnotator(func(id string, attempt int, user string) (string, error) {
		// Request the stop while the fourth case's call is in flight; its
		// result must be discarded.
		if id == "case-03" {
			assert.NoError(t, svc.Stop(PhaseInitialCoding))
		}
		return codesResponse(id), nil
	})
	svc, bc := newTestService(t, dir, fake)

	evs := runPhase(t, svc, bc, PhaseInitialCoding, StartRequest{Store: testStoreName})

	final := evs[len(evs)-1]
	assert.Equal(t, progress.EventRunStopped, final.Type)
	assert.Equal(t, 3, final.Progress.Processed)

	d := loadStore(t, dir)
	coded := 0
	for _, rec := range d.Cases {
		if rec.Codes != nil {
			coded++
		}
	}
	assert.Equal(t, 3, coded, "the in-flight result must not be persisted")
	assert.Nil(t, d.Cases["case-03"].Codes)
}

func TestStopWithoutRun(t *testing.T) {
	dir := t.TempDir()
	svc, _ := newTestService(t, dir, newFakeAnnotator(nil))
	assert.ErrorIs(t, svc.Stop(PhaseInitialCoding), ErrNotRunning)
}

func TestCaseFailureDoesNotAbortRun(t *testing.T) {
	dir := t.TempDir()
	writeStoreJSON(t, dir, codingFixture(t, 10, 0))

	fake := newFakeAnnotator(func(id string, attempt int, user string) (string, error) {
		if id == "case-04" {
			return "", errors.New("upstream exploded")
		}
		return codesResponse(id), nil
	})
	svc, bc := newTestService(t, dir, fake)

	evs := runPhase(t, svc, bc, PhaseInitialCoding, StartRequest{Store: testStoreName})

	failed := eventsOfType(evs, progress.EventCaseFailed)
	require.Len(t, failed, 1)
	assert.Equal(t, "case-04", failed[0].CaseID)
	assert.Contains(t, failed[0].Message, "upstream exploded")

	final := evs[len(evs)-1]
	require.Equal(t, progress.EventRunCompleted, final.Type)
	assert.Equal(t, 9, final.Progress.Processed)
	assert.Equal(t, 1, final.Progress.Remaining)

	d := loadStore(t, dir)
	assert.Nil(t, d.Cases["case-04"].Codes)
	assert.NotNil(t, d.Cases["case-05"].Codes, "later cases still processed")
}

func TestRetriesWhenResponseMissesCase(t *testing.T) {
	dir := t.TempDir()
	writeStoreJSON(t, dir, codingFixture(t, 1, 0))

	fake := newFakeAnnotator(func(id string, attempt int, user string) (string, error) {
		if attempt < 3 {
			return `{"somebody-else": ["wrong"]}`, nil
		}
		return codesResponse(id), nil
	})
	svc, bc := newTestService(t, dir, fake)

	evs := runPhase(t, svc, bc, PhaseInitialCoding, StartRequest{Store: testStoreName})

	assert.Equal(t, 3, fake.totalCalls())
	assert.Equal(t, progress.EventRunCompleted, evs[len(evs)-1].Type)
	assert.NotNil(t, loadStore(t, dir).Cases["case-00"].Codes)
}

func TestGivesUpAfterRepeatedUnusableResponses(t *testing.T) {
	dir := t.TempDir()
	writeStoreJSON(t, dir, codingFixture(t, 1, 0))

	fake := newFakeAnnotator(func(id string, attempt int, user string) (string, error) {
		return "no json here at all", nil
	})
	svc, bc := newTestService(t, dir, fake)

	evs := runPhase(t, svc, bc, PhaseInitialCoding, StartRequest{Store: testStoreName})

	assert.Equal(t, 3, fake.totalCalls())
	require.Len(t, eventsOfType(evs, progress.EventCaseFailed), 1)
	assert.Equal(t, progress.EventRunCompleted, evs[len(evs)-1].Type)
}

func TestRunFailsWhenStoreUnreadable(t *testing.T) {
	dir := t.TempDir()
	fake := newFakeAnnotator(nil)
	svc, bc := newTestService(t, dir, fake)

	run, err := svc.registry.TryStart(PhaseInitialCoding)
	require.NoError(t, err)

	sub := bc.Subscribe()
	defer bc.Unsubscribe(sub)

	go svc.execute(run, store.New(filepath.Join(dir, "missing.json"), nil), fake, StartRequest{})

	evs := waitForTerminal(t, sub)
	final := evs[len(evs)-1]
	assert.Equal(t, progress.EventRunFailed, final.Type)
	assert.Contains(t, final.Message, "load store")
	waitForIdle(t, svc, PhaseInitialCoding)
}

func TestCandidateTheming(t *testing.T) {
	dir := t.TempDir()
	writeStoreJSON(t, dir, `{
		"case-00": {"text": "a", "codes": ["pickpocket"]},
		"case-01": {"text": "b", "codes": ["burglary"], "candidate_theme": "Burglary"},
		"case-02": {"text": "c"}
	}`)

	fake := newFakeAnnotator(func(id string, attempt int, user string) (string, error) {
		return themeResponse(id, "Street theft"), nil
	})
	svc, bc := newTestService(t, dir, fake)

	evs := runPhase(t, svc, bc, PhaseCandidateTheming, StartRequest{Store: testStoreName})

	// Only case-00 needs a theme: case-01 has one, case-02 has no codes.
	assert.Equal(t, 1, fake.totalCalls())
	assert.Contains(t, fake.promptFor("case-00"), "pickpocket")
	assert.Contains(t, fake.promptFor("case-00"), "- Burglary", "known themes feed the prompt")

	assert.Equal(t, progress.EventRunCompleted, evs[len(evs)-1].Type)

	d := loadStore(t, dir)
	assert.Equal(t, "Street theft", d.Cases["case-00"].CandidateTheme)
	assert.Equal(t, "Burglary", d.Cases["case-01"].CandidateTheme)
	assert.Empty(t, d.Cases["case-02"].CandidateTheme)
}

func TestSpecialInstructionsReachPrompt(t *testing.T) {
	dir := t.TempDir()
	writeStoreJSON(t, dir, codingFixture(t, 1, 0))

	fake := newFakeAnnotator(func(id string, attempt int, user string) (string, error) {
		return codesResponse(id), nil
	})
	svc, bc := newTestService(t, dir, fake)

	runPhase(t, svc, bc, PhaseInitialCoding, StartRequest{
		Store:        testStoreName,
		Instructions: "focus on the method of entry",
	})

	prompt := fake.promptFor("case-00")
	assert.Contains(t, prompt, "SPECIAL INSTRUCTIONS")
	assert.Contains(t, prompt, "focus on the method of entry")
}
