// Package images decides which retrieved images belong in an answer.
//
// Scoring is strategy-based: a deterministic keyword heuristic for free,
// instant decisions, or an LLM judge for ambiguous queries. The judge
// degrades to the keyword strategy mid-call when the external call fails,
// so a flaky judge never fails a query.
package images

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/mohammad-safakhou/roadbook/internal/agent/core"
	"github.com/mohammad-safakhou/roadbook/internal/helpers"
)

// DefaultLexicon lists visual-concept terms tuned for driving manuals. It is
// a configurable default, not an invariant; callers may supply their own.
var DefaultLexicon = []string{
	// Traffic control devices
	"sign", "signal", "marking", "diagram", "illustration",
	"symbol", "color", "shape", "picture", "image",

	// Road features
	"lane", "intersection", "crosswalk", "pavement marking",
	"road marking", "line", "arrow", "striping",

	// Visual indicators
	"hand signal", "light", "indicator", "beacon",
	"cone", "barrier", "zone marking",

	// Parking and positioning
	"parking", "curb", "space", "zone",

	// Specific signs
	"stop", "yield", "speed limit", "warning", "regulatory",
	"guide sign", "informational",

	// Visual queries
	"look like", "appear", "shown", "display", "example",
	"how to identify", "recognize", "distinguish",
}

// Modes accepted by Options.Mode.
const (
	ModeKeyword = "keyword"
	ModeJudge   = "llm_judge"
)

// Scorer assigns a relevance score in [0,1] to a candidate for a query.
type Scorer interface {
	Score(ctx context.Context, query string, candidate core.ImageCandidate) (float64, error)
}

// KeywordScorer scores 1.0 when the query mentions any lexicon term,
// 0.0 otherwise. Deterministic, no external calls.
type KeywordScorer struct {
	Lexicon []string // nil means DefaultLexicon
}

func (s KeywordScorer) Score(_ context.Context, query string, _ core.ImageCandidate) (float64, error) {
	if WantsImages(query, s.Lexicon) {
		return 1.0, nil
	}
	return 0.0, nil
}

// WantsImages reports whether the query text contains any visual-concept
// term. Matching is case-insensitive substring containment. It gates the
// whole filtering stage: queries without visual cues skip image scoring
// entirely.
func WantsImages(query string, lexicon []string) bool {
	if lexicon == nil {
		lexicon = DefaultLexicon
	}
	q := strings.ToLower(query)
	for _, term := range lexicon {
		if strings.Contains(q, term) {
			return true
		}
	}
	return false
}

// JudgeClient is the external classification call used in llm_judge mode.
type JudgeClient interface {
	JudgeImageRelevance(ctx context.Context, query, caption string) (float64, error)
}

// JudgeScorer delegates scoring to an LLM judge. Scores above 1 are treated
// as a 0-10 scale and normalized down.
type JudgeScorer struct {
	Client JudgeClient
}

func (s JudgeScorer) Score(ctx context.Context, query string, candidate core.ImageCandidate) (float64, error) {
	if s.Client == nil {
		return 0, fmt.Errorf("judge client not configured")
	}
	score, err := s.Client.JudgeImageRelevance(ctx, query, candidate.Caption)
	if err != nil {
		return 0, err
	}
	return NormalizeScore(score), nil
}

// NormalizeScore clamps a raw relevance score into [0,1]. Scores above 1 are
// assumed to be on a 0-10 scale.
func NormalizeScore(score float64) float64 {
	if score > 1.0 {
		score = score / 10.0
	}
	if score > 1.0 {
		score = 1.0
	}
	if score < 0 {
		score = 0
	}
	return score
}

// Options configures the filter. Validate rejects out-of-range values at
// configuration time; Apply never re-checks them.
type Options struct {
	Mode      string   `json:"mode"`
	Threshold float64  `json:"threshold"`
	MaxImages int      `json:"max_images"`
	Lexicon   []string `json:"lexicon,omitempty"`
}

func (o Options) Validate() error {
	switch o.Mode {
	case ModeKeyword, ModeJudge:
	default:
		return fmt.Errorf("%w: images.mode must be %q or %q, got %q", core.ErrInvalidConfig, ModeKeyword, ModeJudge, o.Mode)
	}
	if o.Threshold < 0 || o.Threshold > 1 {
		return fmt.Errorf("%w: images.threshold must be within [0,1], got %g", core.ErrInvalidConfig, o.Threshold)
	}
	if o.MaxImages < 0 {
		return fmt.Errorf("%w: images.max_images must be >= 0, got %d", core.ErrInvalidConfig, o.MaxImages)
	}
	return nil
}

// Filter applies the configured scoring strategy over candidates.
type Filter struct {
	opts   Options
	scorer Scorer
	logger *log.Logger
}

// NewFilter validates opts and builds a filter. judge may be nil in keyword
// mode.
func NewFilter(opts Options, judge JudgeClient) (*Filter, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if opts.Mode == ModeJudge && judge == nil {
		return nil, fmt.Errorf("%w: images.mode is %q but no judge client is configured", core.ErrInvalidConfig, ModeJudge)
	}
	f := &Filter{
		opts:   opts,
		logger: log.New(log.Writer(), "[IMAGES] ", log.LstdFlags),
	}
	switch opts.Mode {
	case ModeJudge:
		f.scorer = JudgeScorer{Client: judge}
	default:
		f.scorer = KeywordScorer{Lexicon: opts.Lexicon}
	}
	return f, nil
}

// Candidates expands hits into image candidates, preserving retrieval order.
// The caption carries enough context for a judge to score the image without
// fetching it.
func Candidates(hits []core.SearchHit) []core.ImageCandidate {
	var out []core.ImageCandidate
	for i := range hits {
		hit := &hits[i]
		for _, u := range hit.ImageURLs {
			if strings.TrimSpace(u) == "" {
				continue
			}
			out = append(out, core.ImageCandidate{
				URL:     u,
				Hit:     hit,
				Caption: fmt.Sprintf("%s (page %d): %s", hit.DocumentName, hit.PageNumber, helpers.Truncate(hit.Content, 160)),
			})
		}
	}
	return out
}

// Apply scores candidates in retrieval order and returns the included ones,
// still in retrieval order. Marking stops once MaxImages candidates are
// included; later candidates are excluded without being scored, so retrieval
// order is the tie-break and there is no re-ranking by score.
//
// A judge failure swaps in the keyword strategy for the remaining candidates
// of this call only. The swap is logged and reported through the degraded
// return, never as an error: already-scored candidates keep their scores.
func (f *Filter) Apply(ctx context.Context, query string, candidates []core.ImageCandidate) (included []core.ImageCandidate, degraded bool) {
	if len(candidates) == 0 || f.opts.MaxImages == 0 {
		return nil, false
	}

	scorer := f.scorer
	for _, c := range candidates {
		score, err := scorer.Score(ctx, query, c)
		if err != nil {
			f.logger.Printf("judge scoring failed (%v), falling back to keyword matching for remaining candidates", err)
			scorer = KeywordScorer{Lexicon: f.opts.Lexicon}
			degraded = true
			score, _ = scorer.Score(ctx, query, c)
		}
		c.RelevanceScore = score
		c.Included = score >= f.opts.Threshold
		if c.Included {
			included = append(included, c)
			if len(included) >= f.opts.MaxImages {
				break
			}
		}
	}
	return included, degraded
}
