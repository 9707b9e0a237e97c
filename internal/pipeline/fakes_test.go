package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/helixir/review-pipeline-service/internal/domain"
	"github.com/helixir/review-pipeline-service/internal/pdf"
	"github.com/helixir/review-pipeline-service/internal/retry"
)

// memSink mirrors the repository semantics in memory.
type memSink struct {
	mu        sync.Mutex
	job       domain.ReviewJob
	percents  []int
	stages    []domain.Stage
	items     []domain.ItemRecord
	documents []*domain.ReviewDocument
}

func newMemSink(job *domain.ReviewJob) *memSink {
	return &memSink{job: *job}
}

func stageIndex(s domain.Stage) int {
	for i, w := range domain.WorkingStages {
		if w == s {
			return i + 1
		}
	}
	return 0
}

func (s *memSink) Get(_ context.Context, id uuid.UUID) (*domain.ReviewJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id != s.job.TrackingID {
		return nil, domain.NewNotFoundError("review_job", id.String())
	}
	job := s.job
	return &job, nil
}

func (s *memSink) raise(p int) {
	if p > s.job.Percent {
		s.job.Percent = p
	}
	s.percents = append(s.percents, s.job.Percent)
}

func (s *memSink) Advance(_ context.Context, _ uuid.UUID, stage domain.Stage, percent int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.job.Stage.IsTerminal() {
		return domain.ValidateTransition(s.job.Stage, stage)
	}
	if stageIndex(stage) > stageIndex(s.job.Stage) {
		if err := domain.ValidateTransition(s.job.Stage, stage); err != nil {
			return err
		}
		s.job.Stage = stage
		s.job.Status = domain.JobStatusRunning
		s.stages = append(s.stages, stage)
	}
	s.raise(percent)
	return nil
}

func (s *memSink) UpdateProgress(_ context.Context, _ uuid.UUID, percent int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.raise(percent)
	return nil
}

func (s *memSink) Finish(_ context.Context, _ uuid.UUID, stage domain.Stage, jobErr *domain.JobError) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := domain.ValidateTransition(s.job.Stage, stage); err != nil {
		return err
	}
	s.job.Stage = stage
	s.job.Status = domain.StatusForStage(stage)
	s.job.Error = jobErr
	s.stages = append(s.stages, stage)
	if stage == domain.StageSucceeded {
		s.raise(100)
	}
	return nil
}

func (s *memSink) RequestCancel(_ context.Context, _ uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.job.CancelRequested = true
	return nil
}

func (s *memSink) IsCancelRequested(_ context.Context, _ uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.job.CancelRequested, nil
}

func (s *memSink) RecordItem(_ context.Context, rec domain.ItemRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = append(s.items, rec)
	return nil
}

func (s *memSink) SaveDocument(_ context.Context, doc *domain.ReviewDocument) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.documents = append(s.documents, doc)
	return nil
}

func (s *memSink) itemsFor(stage domain.Stage) []domain.ItemRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.ItemRecord
	for _, r := range s.items {
		if r.Stage == stage {
			out = append(out, r)
		}
	}
	return out
}

func (s *memSink) reached(stage domain.Stage) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, st := range s.stages {
		if st == stage {
			return true
		}
	}
	return false
}

type fakeDiscoverer struct {
	candidates []domain.PaperCandidate
	err        error
	calls      atomic.Int32
}

func (d *fakeDiscoverer) Search(_ context.Context, _ string) ([]domain.PaperCandidate, error) {
	d.calls.Add(1)
	if d.err != nil {
		return nil, d.err
	}
	return d.candidates, nil
}

// gauge tracks how many calls are in flight and the highest count seen.
type gauge struct {
	cur  atomic.Int32
	peak atomic.Int32
}

func (g *gauge) enter() {
	n := g.cur.Add(1)
	for {
		p := g.peak.Load()
		if n <= p || g.peak.CompareAndSwap(p, n) {
			return
		}
	}
}

func (g *gauge) leave() { g.cur.Add(-1) }

// fakeFetcher serves "full text of <id>" for every candidate not in fail.
type fakeFetcher struct {
	fail     map[string]error
	calls    atomic.Int32
	delay    time.Duration
	inflight gauge
}

func (f *fakeFetcher) Fetch(_ context.Context, c domain.PaperCandidate) (*pdf.DownloadResult, error) {
	f.calls.Add(1)
	f.inflight.enter()
	defer f.inflight.leave()
	time.Sleep(f.delay)
	if err, ok := f.fail[c.ExternalID]; ok {
		return nil, err
	}
	content := []byte("full text of " + c.ExternalID)
	sum := sha256.Sum256(content)
	return &pdf.DownloadResult{
		Content:     content,
		ContentHash: hex.EncodeToString(sum[:]),
		SizeBytes:   int64(len(content)),
		ContentType: "application/pdf",
	}, nil
}

type memStore struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newMemStore() *memStore { return &memStore{data: make(map[string][]byte)} }

func (s *memStore) Put(_ context.Context, key string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = data
	return nil
}

func (s *memStore) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.data[key]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return d, nil
}

// fakeExtractor returns the content as text unless it mentions a failing id.
type fakeExtractor struct {
	fail map[string]bool
}

func (e *fakeExtractor) Extract(_ context.Context, content []byte, _ string) (string, int, error) {
	text := string(content)
	for id := range e.fail {
		if strings.HasSuffix(text, " "+id) {
			return "", 0, errors.New("corrupt source")
		}
	}
	return text, 1, nil
}

// fakeSummarizer answers per paper title. script maps a title to the errors
// returned by its first calls.
type fakeSummarizer struct {
	mu     sync.Mutex
	script map[string][]error
	calls  map[string]int
	total  atomic.Int32
	onCall func(title string)

	delay    time.Duration
	inflight gauge
	starts   []time.Time
}

func newFakeSummarizer() *fakeSummarizer {
	return &fakeSummarizer{script: make(map[string][]error), calls: make(map[string]int)}
}

func titleOf(instructions string) string {
	line, _, _ := strings.Cut(instructions, "\n")
	return strings.TrimPrefix(line, "Title: ")
}

func (s *fakeSummarizer) Summarize(_ context.Context, segment, instructions string) (string, error) {
	s.total.Add(1)
	s.inflight.enter()
	defer s.inflight.leave()
	s.mu.Lock()
	s.starts = append(s.starts, time.Now())
	s.mu.Unlock()
	time.Sleep(s.delay)

	title := titleOf(instructions)
	if s.onCall != nil {
		s.onCall(title)
	}

	s.mu.Lock()
	n := s.calls[title]
	s.calls[title] = n + 1
	var err error
	if errs := s.script[title]; n < len(errs) {
		err = errs[n]
	}
	s.mu.Unlock()

	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s is summarized here from %d characters of source text.", title, len(segment)), nil
}

// minGap is the shortest interval between two consecutive call starts.
func (s *fakeSummarizer) minGap() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	starts := append([]time.Time(nil), s.starts...)
	sort.Slice(starts, func(i, j int) bool { return starts[i].Before(starts[j]) })
	gap := time.Duration(math.MaxInt64)
	for i := 1; i < len(starts); i++ {
		gap = min(gap, starts[i].Sub(starts[i-1]))
	}
	return gap
}

func (s *fakeSummarizer) callsFor(title string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[title]
}

type fakeSynthesizer struct {
	mu       sync.Mutex
	requests []domain.SynthesisRequest
	err      error
}

func (s *fakeSynthesizer) Synthesize(_ context.Context, req domain.SynthesisRequest) (*domain.SynthesizedReview, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, req)
	if s.err != nil {
		return nil, s.err
	}
	return &domain.SynthesizedReview{
		Model: "test-model",
		Sections: []domain.Section{
			{Heading: "Introduction", Paragraphs: []string{"About " + req.Topic + "."}},
			{Heading: "Conclusion", Paragraphs: []string{fmt.Sprintf("%d papers reviewed.", len(req.Papers))}},
		},
	}, nil
}

func (s *fakeSynthesizer) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.requests)
}

var (
	errTransient = domain.NewExternalAPIError("llm", 503, "overloaded", nil)
	errRejected  = domain.NewExternalAPIError("llm", 400, "content rejected", nil)
	errNotFound  = retry.Permanent(domain.NewExternalAPIError("source", 404, "not found", nil))
)
