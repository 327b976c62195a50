package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"alfredoptarigan/resume-optimizer/internal/cache"
	"alfredoptarigan/resume-optimizer/internal/logger"
	"alfredoptarigan/resume-optimizer/internal/models"
	"alfredoptarigan/resume-optimizer/internal/pipeline"
	"alfredoptarigan/resume-optimizer/internal/repositories"
)

const (
	StartStatusStarted           = "started"
	StartStatusAlreadyProcessing = "already_processing"

	salvageNote = "Completed from the best partial result after the run stopped responding."
)

var ErrWorkerStopped = errors.New("optimizer is shutting down")

type StartRequest struct {
	DocumentID     uuid.UUID
	UserID         string
	RawText        string
	JobDescription string
	Template       string
	ForceRefresh   bool
	// Initial, when set, carries the selected template of an earlier run.
	Initial *models.JobMetadata
}

type StartResult struct {
	Status   string
	RunID    string
	Metadata *models.JobMetadata
}

type OptimizerConfig struct {
	Retry          pipeline.RetryPolicy
	Stall          pipeline.StallPolicy
	CallTimeout    time.Duration
	MaxPromptChars int
	Now            func() time.Time
}

type OptimizerService interface {
	// Start validates input, claims the document and returns without waiting for the run.
	Start(ctx context.Context, req StartRequest) (*StartResult, error)
	// RecoverStalled finalizes a run that stopped making progress, salvaging
	// its partial result when one exists.
	RecoverStalled(ctx context.Context, documentID uuid.UUID) (*models.JobMetadata, error)
}

type optimizerService struct {
	store     repositories.MetadataStore
	partials  cache.Cache
	ai        AIClient
	guidance  GuidanceRetriever
	validator *StageValidator
	prompts   *PromptBuilder
	worker    Worker
	cfg       OptimizerConfig
	locks     *documentLocks
	log       *logger.Logger
}

func NewOptimizerService(
	store repositories.MetadataStore,
	partials cache.Cache,
	ai AIClient,
	guidance GuidanceRetriever,
	validator *StageValidator,
	worker Worker,
	cfg OptimizerConfig,
	log *logger.Logger,
) OptimizerService {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Stall.HardTimeout <= 0 || cfg.Stall.StaleAfter <= 0 {
		def := pipeline.DefaultStallPolicy()
		if cfg.Stall.HardTimeout <= 0 {
			cfg.Stall.HardTimeout = def.HardTimeout
		}
		if cfg.Stall.StaleAfter <= 0 {
			cfg.Stall.StaleAfter = def.StaleAfter
		}
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry = pipeline.DefaultRetryPolicy()
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 90 * time.Second
	}

	return &optimizerService{
		store:     store,
		partials:  partials,
		ai:        ai,
		guidance:  guidance,
		validator: validator,
		prompts:   NewPromptBuilder(cfg.MaxPromptChars),
		worker:    worker,
		cfg:       cfg,
		locks:     newDocumentLocks(),
		log:       log.With("component", "optimizer"),
	}
}

type runJob struct {
	documentID     uuid.UUID
	runID          string
	rawText        string
	jobDescription string
	template       string
	key            cache.Key
	log            *logger.Logger
}

type runOutputs struct {
	analysis     *AnalysisResult
	optimization *OptimizationResult
	generation   *GenerationResult
}

func validateStart(req StartRequest) error {
	switch {
	case req.DocumentID == uuid.Nil:
		return fmt.Errorf("%w: document id is required", pipeline.ErrInvalidInput)
	case strings.TrimSpace(req.UserID) == "":
		return fmt.Errorf("%w: user id is required", pipeline.ErrInvalidInput)
	case strings.TrimSpace(req.RawText) == "":
		return fmt.Errorf("%w: document has no text to optimize", pipeline.ErrInvalidInput)
	case strings.TrimSpace(req.JobDescription) == "":
		return fmt.Errorf("%w: job description is required", pipeline.ErrInvalidInput)
	}
	return nil
}

// Start implements OptimizerService.
func (o *optimizerService) Start(ctx context.Context, req StartRequest) (*StartResult, error) {
	if err := validateStart(req); err != nil {
		return nil, err
	}

	template := strings.TrimSpace(req.Template)
	if template == "" && req.Initial != nil && req.Initial.SelectedTemplate != nil {
		template = *req.Initial.SelectedTemplate
	}
	key := cache.Key{
		UserID:      req.UserID,
		DocumentID:  req.DocumentID.String(),
		Fingerprint: cache.Fingerprint(req.JobDescription, template),
	}

	unlock := o.locks.lock(req.DocumentID)
	current, err := o.store.Read(ctx, req.DocumentID)
	if err != nil {
		unlock()
		return nil, fmt.Errorf("failed to read metadata: %w", err)
	}

	now := o.cfg.Now()
	if current.State() == models.JobRunning && !req.ForceRefresh {
		reason := o.cfg.Stall.Check(true, current.StartTime, current.LastUpdated, now)
		if reason == pipeline.NotStalled {
			unlock()
			return &StartResult{Status: StartStatusAlreadyProcessing, RunID: current.RunID, Metadata: current}, nil
		}
		o.log.Info("♻️  Resetting stalled run", "document_id", req.DocumentID, "previous_run", current.RunID, "reason", string(reason))
	}

	var templatePtr *string
	if template != "" {
		templatePtr = &template
	}
	runID := uuid.NewString()
	next := models.NewRun(runID, req.UserID, key.Fingerprint, templatePtr, now)
	if err := o.store.Write(ctx, req.DocumentID, next); err != nil {
		unlock()
		return nil, fmt.Errorf("failed to reset metadata: %w", err)
	}
	unlock()

	key.RunID = runID
	if current.UserID != "" && current.Fingerprint != "" {
		o.clearPartials(ctx, cache.Key{
			UserID:      current.UserID,
			DocumentID:  key.DocumentID,
			Fingerprint: current.Fingerprint,
			RunID:       current.RunID,
		})
	}

	job := &runJob{
		documentID:     req.DocumentID,
		runID:          runID,
		rawText:        req.RawText,
		jobDescription: req.JobDescription,
		template:       template,
		key:            key,
		log:            o.log.With("document_id", req.DocumentID, "run_id", runID),
	}

	accepted := o.worker.Go("optimize "+req.DocumentID.String(), func(ctx context.Context) error {
		return o.supervise(ctx, job)
	})
	if !accepted {
		_ = o.fail(job, pipeline.Permanent(pipeline.CodeInternal, ErrWorkerStopped))
		return nil, ErrWorkerStopped
	}

	job.log.Info("🚀 Optimization run started", "force_refresh", req.ForceRefresh)
	return &StartResult{Status: StartStatusStarted, RunID: runID, Metadata: next}, nil
}

// supervise is the error boundary of a run: every outcome, including a
// panic, ends up in the metadata record.
func (o *optimizerService) supervise(ctx context.Context, job *runJob) (err error) {
	defer func() {
		if r := recover(); r != nil {
			job.log.Error("💥 Optimization run panicked", "panic", fmt.Sprint(r))
			err = o.fail(job, pipeline.Permanent(pipeline.CodeInternal, fmt.Errorf("panic: %v", r)))
		}
	}()

	runCtx, cancel := context.WithTimeout(ctx, o.cfg.Stall.HardTimeout)
	defer cancel()

	outputs, runErr := o.run(runCtx, job)
	switch {
	case runErr == nil:
		return o.complete(job, outputs)
	case errors.Is(runErr, pipeline.ErrSuperseded):
		job.log.Info("⏭️  Run superseded, dropping its results")
		return nil
	case ctx.Err() != nil:
		// Shutdown. Stall detection finalizes the record on the next read.
		job.log.Warn("🛑 Run interrupted by shutdown")
		return nil
	case errors.Is(runCtx.Err(), context.DeadlineExceeded):
		job.log.Warn("⏱️  Run hit the hard timeout", "timeout", o.cfg.Stall.HardTimeout.String())
		_, err := o.salvage(job.documentID, job.runID, pipeline.StallHardTimeout)
		if errors.Is(err, pipeline.ErrSuperseded) {
			return nil
		}
		return err
	default:
		return o.fail(job, runErr)
	}
}

func (o *optimizerService) run(ctx context.Context, job *runJob) (*runOutputs, error) {
	out := &runOutputs{}
	for _, phase := range pipeline.Phases {
		if err := o.runPhase(ctx, job, phase, out); err != nil {
			return out, err
		}
	}
	return out, nil
}

func (o *optimizerService) runPhase(ctx context.Context, job *runJob, phase pipeline.Phase, out *runOutputs) error {
	rng := pipeline.RangeFor(phase)

	if _, err := o.mutate(ctx, job.documentID, job.runID, func(m *models.JobMetadata) error {
		return advance(m, phase.Started(), phase.Label(), rng.Start)
	}); err != nil {
		return err
	}
	job.log.Info("🤖 Stage started", "stage", phase.String())

	var target any
	switch phase {
	case pipeline.PhaseAnalyze:
		out.analysis = &AnalysisResult{}
		target = out.analysis
	case pipeline.PhaseOptimize:
		out.optimization = &OptimizationResult{}
		target = out.optimization
	case pipeline.PhaseGenerate:
		out.generation = &GenerationResult{}
		target = out.generation
	}

	prompt := o.buildPrompt(ctx, job, phase, out)
	if err := o.invoke(ctx, job, phase, prompt, target); err != nil {
		return fmt.Errorf("%s stage failed: %w", phase, err)
	}

	if _, err := o.mutate(ctx, job.documentID, job.runID, func(m *models.JobMetadata) error {
		if err := advance(m, phase.Completed(), phase.Label(), rng.End); err != nil {
			return err
		}
		applyOutput(m, phase, out)
		return nil
	}); err != nil {
		return err
	}

	o.storePartial(ctx, job, phase, out, rng.End)
	job.log.Info("✅ Stage completed", "stage", phase.String(), "progress", rng.End)
	return nil
}

func (o *optimizerService) buildPrompt(ctx context.Context, job *runJob, phase pipeline.Phase, out *runOutputs) string {
	switch phase {
	case pipeline.PhaseAnalyze:
		guidance := ""
		if o.guidance != nil {
			g, err := o.guidance.Retrieve(ctx, o.prompts.BuildRetrievalQuery(job.jobDescription))
			if err != nil {
				job.log.Warn("⚠️  Guidance lookup failed, continuing without it", "error", err)
			} else {
				guidance = g
			}
		}
		return o.prompts.BuildAnalyzePrompt(job.rawText, job.jobDescription, guidance)
	case pipeline.PhaseOptimize:
		return o.prompts.BuildOptimizePrompt(job.rawText, job.jobDescription, out.analysis)
	default:
		return o.prompts.BuildGeneratePrompt(out.optimization.OptimizedText, job.template)
	}
}

// invoke calls the model for one stage, retrying transient failures. Every
// retry is counted in the partial-result cache and the run-wide budget caps
// the total across stages.
func (o *optimizerService) invoke(ctx context.Context, job *runJob, phase pipeline.Phase, prompt string, target any) error {
	system := SystemInstruction(phase)
	temperature := PhaseTemperature(phase)
	budget := o.cfg.Retry.RunBudget()

	hook := func(attempt int, err error, delay time.Duration) error {
		count, cerr := o.partials.IncrementRetry(ctx, job.key)
		if cerr != nil {
			job.log.Warn("⚠️  Failed to count retry", "error", cerr)
		} else if count > budget {
			return &RetryExhaustedError{Attempts: attempt, Err: err}
		}
		job.log.Warn("⚠️  Stage attempt failed, retrying",
			"stage", phase.String(),
			"attempt", attempt,
			"delay", delay.String(),
			"error", err,
		)
		return nil
	}

	return retryTransient(ctx, o.cfg.Retry, hook, func(ctx context.Context) error {
		callCtx, cancel := context.WithTimeout(ctx, o.cfg.CallTimeout)
		defer cancel()

		response, err := o.ai.GenerateText(callCtx, system, prompt, temperature)
		if err != nil {
			return err
		}
		return o.validator.Decode(phase, response, target)
	})
}

func (o *optimizerService) storePartial(ctx context.Context, job *runJob, phase pipeline.Phase, out *runOutputs, progress int) {
	partial := cache.PartialResult{Progress: progress}
	switch phase {
	case pipeline.PhaseAnalyze:
		partial.MatchScore = out.analysis.AtsScore
		partial.Recommendations = out.analysis.Weaknesses
	case pipeline.PhaseOptimize:
		partial.OptimizedContent = out.optimization.OptimizedText
		partial.MatchScore = out.optimization.ImprovedAtsScore
		partial.Recommendations = out.optimization.Improvements
	case pipeline.PhaseGenerate:
		partial.OptimizedContent = out.generation.FinalText
	}
	if err := o.partials.Store(ctx, job.key, partial); err != nil {
		job.log.Warn("⚠️  Failed to cache partial result", "stage", phase.String(), "error", err)
	}
}

func (o *optimizerService) complete(job *runJob, out *runOutputs) error {
	ctx, cancel := o.finalizeContext()
	defer cancel()

	_, err := o.mutate(ctx, job.documentID, job.runID, func(m *models.JobMetadata) error {
		m.Processing = false
		m.ProcessingCompleted = true
		m.ProcessingStatus = "Optimization complete"
		m.ProcessingProgress = 100
		m.OptimizedText = models.StringPtr(out.generation.FinalText)
		return nil
	})
	if errors.Is(err, pipeline.ErrSuperseded) {
		job.log.Info("⏭️  Run superseded before completion")
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to save results: %w", err)
	}

	o.clearPartials(ctx, job.key)
	job.log.Info("✅ Optimization completed")
	return nil
}

// fail records err as the run's terminal error.
func (o *optimizerService) fail(job *runJob, cause error) error {
	ctx, cancel := o.finalizeContext()
	defer cancel()

	stored := pipeline.FormatError(errorCode(cause), cause.Error())
	_, err := o.mutate(ctx, job.documentID, job.runID, func(m *models.JobMetadata) error {
		m.Processing = false
		m.ProcessingCompleted = false
		m.ProcessingStatus = "Optimization failed"
		m.Error = &stored
		return nil
	})
	if errors.Is(err, pipeline.ErrSuperseded) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to record run error: %w", err)
	}

	if cerr := o.partials.RecordError(ctx, job.key, stored); cerr != nil {
		job.log.Warn("⚠️  Failed to cache run error", "error", cerr)
	}
	job.log.Error("❌ Optimization failed", "error", stored)
	return nil
}

// RecoverStalled implements OptimizerService.
func (o *optimizerService) RecoverStalled(ctx context.Context, documentID uuid.UUID) (*models.JobMetadata, error) {
	return o.salvage(documentID, "", "")
}

// salvage ends a run that can no longer finish on its own. With an empty
// runID it acts on whatever run is current, but only if that run is stalled.
func (o *optimizerService) salvage(documentID uuid.UUID, runID string, reason pipeline.StallReason) (*models.JobMetadata, error) {
	ctx, cancel := o.finalizeContext()
	defer cancel()

	unlock := o.locks.lock(documentID)
	defer unlock()

	meta, err := o.store.Read(ctx, documentID)
	if err != nil {
		return nil, fmt.Errorf("failed to read metadata: %w", err)
	}
	if meta.State() != models.JobRunning {
		return meta, nil
	}
	if runID != "" && meta.RunID != runID {
		return meta, pipeline.ErrSuperseded
	}

	now := o.cfg.Now()
	if reason == pipeline.NotStalled {
		reason = o.cfg.Stall.Check(true, meta.StartTime, meta.LastUpdated, now)
		if reason == pipeline.NotStalled {
			return meta, nil
		}
	}

	key := cache.Key{UserID: meta.UserID, DocumentID: documentID.String(), Fingerprint: meta.Fingerprint, RunID: meta.RunID}
	content := ""
	if meta.OptimizedText != nil {
		content = strings.TrimSpace(*meta.OptimizedText)
	}
	if content == "" && meta.UserID != "" {
		entry, err := o.partials.Get(ctx, key)
		if err != nil {
			o.log.Warn("⚠️  Failed to read partial result", "document_id", documentID, "error", err)
		} else if entry.Usable() {
			content = entry.OptimizedContent
		}
	}

	next := meta.Clone()
	next.Processing = false
	// Late writes from the stalled run must not land.
	next.RunID = ""
	next.LastUpdated = now

	if content != "" {
		next.ProcessingCompleted = true
		next.ProcessingStatus = "Optimization complete"
		next.ProcessingProgress = 100
		next.OptimizedText = &content
		next.Note = salvageNote
	} else {
		stored := pipeline.FormatError(pipeline.CodeTimeout,
			fmt.Sprintf("run timed out (%s) during %s", reason, meta.Stage))
		next.ProcessingStatus = "Optimization timed out"
		next.Error = &stored
	}

	if err := next.Validate(); err != nil {
		return nil, err
	}
	if err := o.store.Write(ctx, documentID, next); err != nil {
		return nil, fmt.Errorf("failed to write recovered metadata: %w", err)
	}

	if content != "" {
		o.clearPartials(ctx, key)
		o.log.Info("🩹 Stalled run completed from partial result", "document_id", documentID, "reason", string(reason))
	} else {
		if meta.UserID != "" {
			if err := o.partials.RecordError(ctx, key, *next.Error); err != nil {
				o.log.Warn("⚠️  Failed to cache run error", "error", err)
			}
		}
		o.log.Warn("⏱️  Stalled run marked as timed out", "document_id", documentID, "reason", string(reason))
	}
	return next, nil
}

// mutate is the only write path used by a run: a read-modify-write of the
// whole blob, serialized per document and conditional on runID still owning it.
func (o *optimizerService) mutate(ctx context.Context, documentID uuid.UUID, runID string, fn func(*models.JobMetadata) error) (*models.JobMetadata, error) {
	unlock := o.locks.lock(documentID)
	defer unlock()

	current, err := o.store.Read(ctx, documentID)
	if err != nil {
		return nil, fmt.Errorf("failed to read metadata: %w", err)
	}
	if current.RunID != runID || current.State() != models.JobRunning {
		return nil, pipeline.ErrSuperseded
	}

	next := current.Clone()
	if err := fn(next); err != nil {
		return nil, err
	}
	next.ProcessingProgress = pipeline.Monotonic(current.ProcessingProgress, next.ProcessingProgress)
	next.LastUpdated = o.cfg.Now()

	if err := next.Validate(); err != nil {
		return nil, pipeline.Permanent(pipeline.CodeInternal, err)
	}
	if err := o.store.Write(ctx, documentID, next); err != nil {
		return nil, fmt.Errorf("failed to write metadata: %w", err)
	}
	return next, nil
}

func (o *optimizerService) clearPartials(ctx context.Context, key cache.Key) {
	if err := o.partials.Clear(ctx, key); err != nil {
		o.log.Warn("⚠️  Failed to clear partial result", "key", key.String(), "error", err)
	}
}

// finalizeContext outlives the run context so terminal writes still land
// after a deadline or cancellation.
func (o *optimizerService) finalizeContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 15*time.Second)
}

func advance(m *models.JobMetadata, next pipeline.Stage, status string, progress int) error {
	machine := m.Machine()
	if err := machine.Advance(next); err != nil {
		return pipeline.Permanent(pipeline.CodeInternal, err)
	}
	m.Stage = machine.Current()
	m.ProcessingStatus = status
	m.ProcessingProgress = progress
	return nil
}

func applyOutput(m *models.JobMetadata, phase pipeline.Phase, out *runOutputs) {
	switch phase {
	case pipeline.PhaseAnalyze:
		m.AtsScore = models.FloatPtr(out.analysis.AtsScore)
	case pipeline.PhaseOptimize:
		m.OptimizedText = models.StringPtr(out.optimization.OptimizedText)
		m.Improvements = append([]string(nil), out.optimization.Improvements...)
		m.ImprovedAtsScore = models.FloatPtr(out.optimization.ImprovedAtsScore)
	case pipeline.PhaseGenerate:
		m.OptimizedText = models.StringPtr(out.generation.FinalText)
	}
}

// documentLocks serializes metadata read-modify-write per document inside
// this process. It does not protect against a second process.
type documentLocks struct {
	mu    sync.Mutex
	locks map[uuid.UUID]*documentLock
}

type documentLock struct {
	mu   sync.Mutex
	refs int
}

func newDocumentLocks() *documentLocks {
	return &documentLocks{locks: make(map[uuid.UUID]*documentLock)}
}

func (l *documentLocks) lock(id uuid.UUID) func() {
	l.mu.Lock()
	dl, ok := l.locks[id]
	if !ok {
		dl = &documentLock{}
		l.locks[id] = dl
	}
	dl.refs++
	l.mu.Unlock()

	dl.mu.Lock()
	return func() {
		dl.mu.Unlock()
		l.mu.Lock()
		dl.refs--
		if dl.refs == 0 {
			delete(l.locks, id)
		}
		l.mu.Unlock()
	}
}
