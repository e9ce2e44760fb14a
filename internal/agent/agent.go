// Package agent wires the five pipeline stages into one Ask call:
// preprocess, retrieve, generate, filter images, extract citations,
// assemble. All per-question state is local to the call, so independent
// questions run concurrently without sharing.
package agent

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mohammad-safakhou/roadbook/config"
	"github.com/mohammad-safakhou/roadbook/internal/agent/citations"
	"github.com/mohammad-safakhou/roadbook/internal/agent/core"
	"github.com/mohammad-safakhou/roadbook/internal/agent/images"
	"github.com/mohammad-safakhou/roadbook/internal/agent/telemetry"
	"github.com/mohammad-safakhou/roadbook/internal/cache"
	"github.com/mohammad-safakhou/roadbook/internal/search"
)

// LLM is the generation surface the pipeline consumes.
type LLM interface {
	GenerateAnswer(ctx context.Context, system string, history []core.Message, question string) (core.Generation, error)
	GenerateAnswerStream(ctx context.Context, system string, history []core.Message, question string, onDelta func(string)) (core.Generation, error)
	JudgeImageRelevance(ctx context.Context, query, caption string) (float64, error)
}

// AskCache is the optional whole-answer cache.
type AskCache interface {
	GetAsk(ctx context.Context, key string) (core.AskResult, bool)
	PutAsk(ctx context.Context, key string, res core.AskResult)
}

// Agent processes questions end to end.
type Agent struct {
	cfg      *config.Config
	searcher search.Searcher
	llm      LLM
	filter   *images.Filter
	cache    AskCache // nil disables caching
	tele     *telemetry.Telemetry
	verifier *http.Client
	logger   *log.Logger
}

// New builds the pipeline. The image filter options come from cfg and were
// validated at load time.
func New(cfg *config.Config, searcher search.Searcher, llm LLM, askCache AskCache, tele *telemetry.Telemetry) (*Agent, error) {
	var judge images.JudgeClient
	if cfg.Images.Mode == images.ModeJudge {
		judge = llm
	}
	filter, err := images.NewFilter(images.Options{
		Mode:      cfg.Images.Mode,
		Threshold: cfg.Images.Threshold,
		MaxImages: cfg.Images.MaxImages,
		Lexicon:   cfg.Images.Lexicon,
	}, judge)
	if err != nil {
		return nil, err
	}
	a := &Agent{
		cfg:      cfg,
		searcher: searcher,
		llm:      llm,
		filter:   filter,
		cache:    askCache,
		tele:     tele,
		logger:   log.New(log.Writer(), "[AGENT] ", log.LstdFlags),
	}
	if cfg.Images.Verify {
		a.verifier = &http.Client{Timeout: 10 * time.Second}
	}
	return a, nil
}

// PrepareQuery validates the raw question and derives the effective query
// plus the image-consideration flag. Empty or whitespace-only input fails
// with ErrInvalidQuery. No side effects.
func PrepareQuery(raw, stateHint string, lexicon []string) (effective string, considerImages bool, err error) {
	effective = strings.TrimSpace(raw)
	if effective == "" {
		return "", false, fmt.Errorf("%w: question is empty", core.ErrInvalidQuery)
	}
	if stateHint = strings.TrimSpace(stateHint); stateHint != "" {
		effective = fmt.Sprintf("%s [State: %s]", effective, stateHint)
	}
	return effective, images.WantsImages(effective, lexicon), nil
}

// Ask processes one question synchronously.
func (a *Agent) Ask(ctx context.Context, req core.AskRequest) (core.AskResult, error) {
	return a.ask(ctx, req, nil)
}

// AskStream behaves like Ask but emits generation deltas through onDelta as
// they arrive. The final result still carries the full assembled response.
// Cache hits produce no deltas.
func (a *Agent) AskStream(ctx context.Context, req core.AskRequest, onDelta func(string)) (core.AskResult, error) {
	return a.ask(ctx, req, onDelta)
}

func (a *Agent) ask(ctx context.Context, req core.AskRequest, onDelta func(string)) (core.AskResult, error) {
	started := time.Now()

	effective, considerImages, err := PrepareQuery(req.Query, req.StateHint, a.cfg.Images.Lexicon)
	if err != nil {
		a.recordFailure(req, err, started)
		return core.AskResult{}, err
	}
	if req.DisableImages {
		considerImages = false
	}
	filter := search.StateFilter(req.StateHint)

	// Follow-up questions depend on the conversation, so only fresh
	// questions are cache-eligible.
	cacheKey := cache.AskKey(effective, filter, req.TopK, a.cfg.LLM.Model)
	if a.cache != nil && len(req.History) == 0 {
		if res, ok := a.cache.GetAsk(ctx, cacheKey); ok {
			res.ID = uuid.NewString()
			res.CacheHit = true
			res.Elapsed = time.Since(started)
			a.tele.RecordAsk(telemetry.AskEvent{
				ID: res.ID, Query: req.Query, Success: true, CacheHit: true,
				Elapsed: res.Elapsed, Citations: len(res.Response.Citations), Images: len(res.Response.Images),
			})
			return res, nil
		}
	}

	// Retrieve.
	t0 := time.Now()
	hits, err := a.searcher.Search(ctx, search.Params{Query: effective, Filter: filter, TopK: req.TopK})
	retrieveDur := time.Since(t0)
	a.tele.RecordStage("retrieve", retrieveDur)
	if err != nil {
		a.recordFailure(req, err, started)
		return core.AskResult{}, err
	}

	// Generate. Cancellation here fails the whole question: truncated text
	// could end mid-span and extraction over it would miscite.
	system := SystemPrompt(hits, req.StateHint)
	t0 = time.Now()
	var gen core.Generation
	if onDelta != nil {
		gen, err = a.llm.GenerateAnswerStream(ctx, system, req.History, effective, onDelta)
	} else {
		gen, err = a.llm.GenerateAnswer(ctx, system, req.History, effective)
	}
	generateDur := time.Since(t0)
	a.tele.RecordStage("generate", generateDur)
	if err != nil {
		err = fmt.Errorf("%w: %v", core.ErrGeneration, err)
		a.recordFailure(req, err, started)
		return core.AskResult{}, err
	}

	// Filter images. Skipped entirely for queries without visual cues.
	var included []core.ImageCandidate
	var imagesDur time.Duration
	if considerImages && a.cfg.Images.MaxImages > 0 {
		t0 = time.Now()
		candidates := images.Candidates(hits)
		if a.verifier != nil {
			candidates = images.Verify(ctx, a.verifier, candidates, 0)
		}
		var degraded bool
		included, degraded = a.filter.Apply(ctx, effective, candidates)
		if degraded {
			a.tele.RecordJudgeDegradation()
		}
		imagesDur = time.Since(t0)
		a.tele.RecordStage("filter_images", imagesDur)
	}

	// Extract citations and assemble.
	t0 = time.Now()
	normalized, cites := citations.Extract(gen.Text, hits)
	resp, err := citations.Assemble(normalized, cites, included)
	citationsDur := time.Since(t0)
	a.tele.RecordStage("citations", citationsDur)
	if err != nil {
		// Unreachable given Extract's contract; a hit here is a defect.
		a.recordFailure(req, err, started)
		return core.AskResult{}, err
	}

	res := core.AskResult{
		ID:         uuid.NewString(),
		Query:      req.Query,
		Response:   resp,
		Hits:       hits,
		Model:      gen.Model,
		TokensUsed: gen.TotalTokens,
		Cost:       gen.Cost,
		Elapsed:    time.Since(started),
		Stages: core.StageTimings{
			Retrieve:     retrieveDur,
			Generate:     generateDur,
			FilterImages: imagesDur,
			Citations:    citationsDur,
		},
		CreatedAt: time.Now().UTC(),
	}

	if a.cache != nil && len(req.History) == 0 {
		a.cache.PutAsk(ctx, cacheKey, res)
	}
	a.tele.RecordAsk(telemetry.AskEvent{
		ID: res.ID, Query: req.Query, Success: true,
		Elapsed: res.Elapsed, Model: res.Model, TokensUsed: res.TokensUsed, Cost: res.Cost,
		Citations: len(resp.Citations), Images: len(resp.Images),
	})
	return res, nil
}

func (a *Agent) recordFailure(req core.AskRequest, err error, started time.Time) {
	a.logger.Printf("ask failed: %v", err)
	a.tele.RecordAsk(telemetry.AskEvent{
		ID: uuid.NewString(), Query: req.Query, Success: false,
		Error: err.Error(), Elapsed: time.Since(started),
	})
}
