package orchestrator

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"server/internal/domain"
	"server/internal/pipeline"
	"server/internal/quota"
	"server/internal/storage"
	"server/internal/store/memory"
)

// scriptedSynth returns the scripted errors call by call, then succeeds with
// a fixed duration.
type scriptedSynth struct {
	mu       sync.Mutex
	errs     []error
	duration float64
	calls    int
}

func (s *scriptedSynth) Synthesize(ctx context.Context, text, voiceID string) (*pipeline.AudioAsset, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.calls <= len(s.errs) && s.errs[s.calls-1] != nil {
		return nil, s.errs[s.calls-1]
	}
	return &pipeline.AudioAsset{Data: []byte("audio"), Format: "audio/mpeg", DurationSeconds: s.duration}, nil
}

type scriptedComposer struct {
	mu    sync.Mutex
	errs  []error
	calls int
}

func (c *scriptedComposer) Compose(ctx context.Context, req pipeline.ComposeRequest) (*pipeline.VideoAsset, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	if c.calls <= len(c.errs) && c.errs[c.calls-1] != nil {
		return nil, c.errs[c.calls-1]
	}
	return &pipeline.VideoAsset{
		Data:            []byte("video-bytes"),
		Thumbnail:       []byte("thumb"),
		Format:          "video/mp4",
		DurationSeconds: req.Audio.DurationSeconds,
		Width:           req.Width,
		Height:          req.Height,
	}, nil
}

type fixture struct {
	orch     *Orchestrator
	worker   *Worker
	store    *memory.Store
	files    *storage.FileStore
	ledger   *quota.Ledger
	synth    *scriptedSynth
	composer *scriptedComposer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mem := memory.New()
	files, err := storage.NewFileStore(t.TempDir())
	require.NoError(t, err)
	ledger := quota.NewLedger(mem)
	synth := &scriptedSynth{duration: 12}
	composer := &scriptedComposer{}
	logger := zerolog.Nop()

	return &fixture{
		orch:   New(mem, ledger, mem, files, logger),
		worker: NewWorker(mem, mem, files, synth, composer, logger, WorkerConfig{
			Concurrency:  1,
			MaxAttempts:  3,
			StageTimeout: time.Second,
			PollInterval: time.Millisecond,
			Backoff:      NoBackoff{},
		}),
		store:    mem,
		files:    files,
		ledger:   ledger,
		synth:    synth,
		composer: composer,
	}
}

func submitReq(owner string) SubmitRequest {
	return SubmitRequest{
		OwnerID:      owner,
		Plan:         domain.PlanFree,
		Title:        "the haunted elevator",
		StoryText:    strings.Repeat("It happened on a tuesday. ", 8)[:200],
		VoiceID:      "en_us_002",
		BackgroundID: "minecraft_parkour",
	}
}

// claimAndProcess pulls the next queued job through the full pipeline.
func (f *fixture) claimAndProcess(t *testing.T) *domain.Job {
	t.Helper()
	job, err := f.store.ClaimNext(context.Background())
	require.NoError(t, err)
	f.worker.Process(context.Background(), job)
	processed, err := f.store.GetByID(context.Background(), job.ID)
	require.NoError(t, err)
	return processed
}

func TestSubmitCreatesQueuedJob(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	job, err := f.orch.Submit(ctx, submitReq("alice"))
	require.NoError(t, err)

	assert.NotEmpty(t, job.ID)
	assert.Equal(t, domain.JobStatusQueued, job.Status)
	assert.Equal(t, "The Haunted Elevator", job.Title)
	assert.Equal(t, domain.PlanFree, job.PlanTier)
	assert.Empty(t, job.VideoPath)
	assert.Empty(t, job.ErrorReason)

	used, err := f.ledger.Usage(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 1, used)
}

func TestSubmitValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cases := []struct {
		name   string
		mutate func(*SubmitRequest)
	}{
		{"empty story", func(r *SubmitRequest) { r.StoryText = "   " }},
		{"empty title", func(r *SubmitRequest) { r.Title = "" }},
		{"oversize story for plan", func(r *SubmitRequest) { r.StoryText = strings.Repeat("a", 1001) }},
		{"unknown voice", func(r *SubmitRequest) { r.VoiceID = "en_us_robot" }},
		{"unknown background", func(r *SubmitRequest) { r.BackgroundID = "lofi_rain" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := submitReq("alice")
			tc.mutate(&req)
			_, err := f.orch.Submit(ctx, req)
			assert.ErrorIs(t, err, domain.ErrValidation)
		})
	}

	// Rejections create no state: no jobs, no quota consumption.
	_, total, err := f.orch.List(ctx, "alice", domain.ListFilter{})
	require.NoError(t, err)
	assert.Zero(t, total)
	used, err := f.ledger.Usage(ctx, "alice")
	require.NoError(t, err)
	assert.Zero(t, used)
}

func TestSubmitPlanCapsDiffer(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	req := submitReq("alice")
	req.Plan = domain.PlanPro
	req.StoryText = strings.Repeat("b", 2500)
	_, err := f.orch.Submit(ctx, req)
	assert.NoError(t, err, "2500 chars fits the pro cap")

	req.Plan = domain.PlanFree
	_, err = f.orch.Submit(ctx, req)
	assert.ErrorIs(t, err, domain.ErrValidation, "2500 chars exceeds the free cap")
}

func TestSubmitQuotaExceeded(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := f.orch.Submit(ctx, submitReq("alice"))
		require.NoError(t, err)
	}

	_, err := f.orch.Submit(ctx, submitReq("alice"))
	assert.ErrorIs(t, err, domain.ErrQuotaExceeded)

	_, total, err := f.orch.List(ctx, "alice", domain.ListFilter{})
	require.NoError(t, err)
	assert.Equal(t, 3, total, "rejected admission must not create a record")
	used, err := f.ledger.Usage(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 3, used, "rejected admission must not consume quota")

	// A different owner is unaffected.
	_, err = f.orch.Submit(ctx, submitReq("bob"))
	assert.NoError(t, err)
}

func TestSubmitRaceOnLastSlot(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Two of three free slots consumed; eight submissions race on the last.
	for i := 0; i < 2; i++ {
		_, err := f.orch.Submit(ctx, submitReq("alice"))
		require.NoError(t, err)
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	admitted := 0
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.orch.Submit(ctx, submitReq("alice")); err == nil {
				mu.Lock()
				admitted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, admitted, "exactly one racer may take the last slot")
	used, err := f.ledger.Usage(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 3, used)
}

func TestPipelineCompletesJob(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	job, err := f.orch.Submit(ctx, submitReq("alice"))
	require.NoError(t, err)
	require.Len(t, job.StoryText, 200)

	done := f.claimAndProcess(t)

	assert.Equal(t, domain.JobStatusCompleted, done.Status)
	assert.InDelta(t, 12, done.DurationSeconds, 0.01)
	assert.NotEmpty(t, done.VideoPath)
	assert.NotEmpty(t, done.AudioPath)
	assert.NotEmpty(t, done.ThumbnailPath)
	assert.Empty(t, done.ErrorReason)
	assert.Equal(t, "720x1280", done.Resolution, "free plan renders 720x1280")
	assert.Equal(t, int64(len("video-bytes")), done.FileSizeBytes)
	assert.Equal(t, 1, done.Attempts)
	require.NotNil(t, done.CompletedAt)

	for _, kind := range storage.Kinds {
		rc, _, err := f.files.Read(ctx, done.ID, kind)
		require.NoError(t, err, "artifact %s must exist", kind)
		rc.Close()
	}
}

func TestPipelineRendersPlanResolution(t *testing.T) {
	f := newFixture(t)
	req := submitReq("alice")
	req.Plan = domain.PlanPro
	_, err := f.orch.Submit(context.Background(), req)
	require.NoError(t, err)

	done := f.claimAndProcess(t)
	assert.Equal(t, "1080x1920", done.Resolution)
}

func TestCompositionTimeoutExhaustsRetries(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	timeoutErr := pipeline.Transient(context.DeadlineExceeded)
	f.composer.errs = []error{timeoutErr, timeoutErr, timeoutErr}

	_, err := f.orch.Submit(ctx, submitReq("alice"))
	require.NoError(t, err)

	done := f.claimAndProcess(t)

	assert.Equal(t, domain.JobStatusFailed, done.Status)
	assert.Equal(t, domain.ReasonCompositionTimeout, done.ErrorReason)
	assert.Equal(t, 3, f.composer.calls, "retry budget is bounded")
	assert.Empty(t, done.VideoPath, "failed jobs never reference a video")

	// Resource cost was incurred; the slot stays consumed.
	used, err := f.ledger.Usage(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 1, used)
}

func TestSynthesisTransientFailuresThenSuccess(t *testing.T) {
	f := newFixture(t)
	f.synth.errs = []error{
		pipeline.Transient(errors.New("rate limited")),
		pipeline.Transient(errors.New("rate limited")),
	}

	_, err := f.orch.Submit(context.Background(), submitReq("alice"))
	require.NoError(t, err)

	done := f.claimAndProcess(t)
	assert.Equal(t, domain.JobStatusCompleted, done.Status)
	assert.Equal(t, 3, f.synth.calls, "two transient failures then success")
}

func TestSynthesisTerminalErrorSkipsRetry(t *testing.T) {
	f := newFixture(t)
	f.synth.errs = []error{errors.New("voice rejected"), nil, nil}

	_, err := f.orch.Submit(context.Background(), submitReq("alice"))
	require.NoError(t, err)

	done := f.claimAndProcess(t)
	assert.Equal(t, domain.JobStatusFailed, done.Status)
	assert.Equal(t, domain.ReasonSynthesisUnavailable, done.ErrorReason)
	assert.Equal(t, 1, f.synth.calls, "non-transient failures are not retried")
	assert.Empty(t, done.AudioPath)
	assert.Empty(t, done.VideoPath)
}

func TestCancelQueuedRefundsQuota(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	job, err := f.orch.Submit(ctx, submitReq("alice"))
	require.NoError(t, err)

	require.NoError(t, f.orch.Cancel(ctx, "alice", job.ID))

	used, err := f.ledger.Usage(ctx, "alice")
	require.NoError(t, err)
	assert.Zero(t, used, "cancelling a queued job refunds the slot")

	// Cancelled jobs disappear from listings.
	_, total, err := f.orch.List(ctx, "alice", domain.ListFilter{})
	require.NoError(t, err)
	assert.Zero(t, total)

	// Double cancel is a state conflict, not a second refund.
	assert.ErrorIs(t, f.orch.Cancel(ctx, "alice", job.ID), domain.ErrConflict)
	used, _ = f.ledger.Usage(ctx, "alice")
	assert.Zero(t, used)
}

func TestCancelClaimedJobRefused(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	job, err := f.orch.Submit(ctx, submitReq("alice"))
	require.NoError(t, err)

	_, err = f.store.ClaimNext(ctx)
	require.NoError(t, err)

	assert.ErrorIs(t, f.orch.Cancel(ctx, "alice", job.ID), domain.ErrConflict)

	used, err := f.ledger.Usage(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 1, used, "no refund once work may have started")
}

func TestCancelForeignJobHidden(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	job, err := f.orch.Submit(ctx, submitReq("alice"))
	require.NoError(t, err)

	assert.ErrorIs(t, f.orch.Cancel(ctx, "mallory", job.ID), domain.ErrNotFound)
}

func TestDeleteRemovesRecordAndArtifacts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	job, err := f.orch.Submit(ctx, submitReq("alice"))
	require.NoError(t, err)
	done := f.claimAndProcess(t)
	require.Equal(t, domain.JobStatusCompleted, done.Status)

	require.NoError(t, f.orch.Delete(ctx, "alice", job.ID))

	_, err = f.orch.Get(ctx, "alice", job.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	for _, kind := range storage.Kinds {
		_, _, err := f.files.Read(ctx, job.ID, kind)
		assert.ErrorIs(t, err, domain.ErrNotFound, "artifact %s must be gone", kind)
	}

	assert.ErrorIs(t, f.orch.Delete(ctx, "alice", job.ID), domain.ErrNotFound)
}

func TestDeleteProcessingJobRefused(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	job, err := f.orch.Submit(ctx, submitReq("alice"))
	require.NoError(t, err)
	_, err = f.store.ClaimNext(ctx)
	require.NoError(t, err)

	assert.ErrorIs(t, f.orch.Delete(ctx, "alice", job.ID), domain.ErrConflict)
}

func TestOpenVideoOnlyForCompletedJobs(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	job, err := f.orch.Submit(ctx, submitReq("alice"))
	require.NoError(t, err)

	_, _, err = f.orch.OpenVideo(ctx, "alice", job.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound, "queued jobs have no video")

	done := f.claimAndProcess(t)
	require.Equal(t, domain.JobStatusCompleted, done.Status)

	rc, size, err := f.orch.OpenVideo(ctx, "alice", job.ID)
	require.NoError(t, err)
	data, _ := io.ReadAll(rc)
	rc.Close()
	assert.Equal(t, "video-bytes", string(data))
	assert.Equal(t, int64(len(data)), size)

	_, _, err = f.orch.OpenVideo(ctx, "mallory", job.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestUsageSummary(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := f.orch.Submit(ctx, submitReq("alice"))
		require.NoError(t, err)
	}

	summary, err := f.orch.Usage(ctx, "alice", domain.PlanFree)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.TotalVideos)
	assert.Equal(t, 2, summary.VideosThisPeriod)
	assert.Equal(t, 2, summary.PlanUsed)
	assert.Equal(t, 3, summary.PlanLimit)
}

func TestVideoPathConsistentAcrossOutcomes(t *testing.T) {
	// video_path is non-empty iff status == completed, across success and
	// failure at each stage.
	outcomes := []struct {
		name     string
		prepare  func(*fixture)
		expected domain.JobStatus
	}{
		{"success", func(*fixture) {}, domain.JobStatusCompleted},
		{"synthesis fails", func(f *fixture) {
			f.synth.errs = []error{errors.New("boom")}
		}, domain.JobStatusFailed},
		{"composition fails", func(f *fixture) {
			f.composer.errs = []error{errors.New("render error")}
		}, domain.JobStatusFailed},
	}
	for _, tc := range outcomes {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			tc.prepare(f)
			_, err := f.orch.Submit(context.Background(), submitReq("alice"))
			require.NoError(t, err)

			done := f.claimAndProcess(t)
			assert.Equal(t, tc.expected, done.Status)
			if done.Status == domain.JobStatusCompleted {
				assert.NotEmpty(t, done.VideoPath)
				assert.Empty(t, done.ErrorReason)
			} else {
				assert.Empty(t, done.VideoPath)
				assert.NotEmpty(t, done.ErrorReason)
			}
		})
	}
}

func TestWorkerRunDrainsQueue(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	for i := 0; i < 3; i++ {
		_, err := f.orch.Submit(ctx, submitReq("alice"))
		require.NoError(t, err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = f.worker.Run(ctx)
	}()

	deadline := time.After(2 * time.Second)
	for {
		jobs, _, err := f.orch.List(ctx, "alice", domain.ListFilter{Status: domain.JobStatusCompleted})
		require.NoError(t, err)
		if len(jobs) == 3 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("queue not drained, %d completed", len(jobs))
		case <-time.After(5 * time.Millisecond):
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop on context cancellation")
	}
}
