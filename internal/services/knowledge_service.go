package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"flower-classifier-backend/internal/gemini"
	"flower-classifier-backend/internal/metrics"
	"flower-classifier-backend/internal/models"
	"flower-classifier-backend/internal/supabase"

	"github.com/patrickmn/go-cache"
	"golang.org/x/sync/singleflight"
)

var (
	monographOptions = gemini.CompletionOptions{Temperature: 0.4, MaxOutputTokens: 2048}
	answerOptions    = gemini.CompletionOptions{Temperature: 0.7, MaxOutputTokens: 1024}
)

type KnowledgeOptions struct {
	// CacheTTL bounds how long a monograph stays in the in-process cache.
	// Zero disables the cache.
	CacheTTL         time.Duration
	SynthesisTimeout time.Duration
	DatabaseTimeout  time.Duration
}

// KnowledgeService is the monograph cache-or-generate component and its
// question-answer sub-cache. The store is authoritative; the in-process cache
// only saves round trips.
type KnowledgeService struct {
	store  FlowerStore
	synth  TextSynthesizer
	logger *slog.Logger
	opts   KnowledgeOptions

	cache *cache.Cache
	group singleflight.Group
}

type AnswerResult struct {
	Text      string
	WasCached bool
}

func NewKnowledgeService(store FlowerStore, synth TextSynthesizer, logger *slog.Logger, opts KnowledgeOptions) *KnowledgeService {
	if opts.SynthesisTimeout <= 0 {
		opts.SynthesisTimeout = 60 * time.Second
	}
	if opts.DatabaseTimeout <= 0 {
		opts.DatabaseTimeout = 10 * time.Second
	}
	s := &KnowledgeService{
		store:  store,
		synth:  synth,
		logger: logger.With("component", "knowledge"),
		opts:   opts,
	}
	if opts.CacheTTL > 0 {
		s.cache = cache.New(opts.CacheTTL, 2*opts.CacheTTL)
	}
	return s
}

// NormalizeKey folds case and trims surrounding whitespace. Labels and
// questions share it.
func NormalizeKey(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// GetOrCreate returns the monograph for label, synthesizing and storing it on
// the first miss.
func (s *KnowledgeService) GetOrCreate(ctx context.Context, label string) (*models.FlowerMonograph, error) {
	key := NormalizeKey(label)
	if key == "" {
		return nil, newError(KindInvalidInput, StageValidate, errors.New("label is required"))
	}

	if m, ok := s.cached(key); ok {
		metrics.KnowledgeLookupsTotal.WithLabelValues("memory_hit").Inc()
		return m, nil
	}

	v, err := s.shared(ctx, "flower:"+key, StageSynthesis, func(ctx context.Context) (any, error) {
		return s.loadOrSynthesize(ctx, key, strings.TrimSpace(label))
	})
	if err != nil {
		metrics.KnowledgeLookupsTotal.WithLabelValues("error").Inc()
		return nil, err
	}
	return v.(*models.FlowerMonograph), nil
}

// shared runs fn once for concurrent callers of the same key. fn gets a context
// that no single caller can cancel; the synthesis and database timeouts bound it.
// Each caller stops waiting when its own ctx is done.
func (s *KnowledgeService) shared(ctx context.Context, key, stage string, fn func(context.Context) (any, error)) (any, error) {
	detached := context.WithoutCancel(ctx)
	ch := s.group.DoChan(key, func() (any, error) {
		return fn(detached)
	})
	select {
	case res := <-ch:
		return res.Val, res.Err
	case <-ctx.Done():
		return nil, newError(KindTransport, stage, ctx.Err())
	}
}

// Get is a read-only lookup. It never calls the synthesis service.
func (s *KnowledgeService) Get(ctx context.Context, label string) (*models.FlowerMonograph, error) {
	key := NormalizeKey(label)
	if key == "" {
		return nil, newError(KindInvalidInput, StageValidate, errors.New("label is required"))
	}
	if m, ok := s.cached(key); ok {
		return m, nil
	}
	return s.readStored(ctx, key)
}

func (s *KnowledgeService) loadOrSynthesize(ctx context.Context, key, label string) (*models.FlowerMonograph, error) {
	m, err := s.readStored(ctx, key)
	if err == nil {
		metrics.KnowledgeLookupsTotal.WithLabelValues("store_hit").Inc()
		s.logger.Debug("found existing flower", "key", key)
		return m, nil
	}
	if !errors.Is(err, ErrMonographNotFound) {
		return nil, err
	}

	s.logger.Info("synthesizing flower monograph", "key", key)
	start := time.Now()
	synthCtx, cancel := context.WithTimeout(ctx, s.opts.SynthesisTimeout)
	text, err := s.synth.Complete(synthCtx, monographPrompt(label), monographOptions)
	cancel()
	metrics.ObserveSynthesis("monograph", start, err)
	if err != nil {
		return nil, newError(externalKind(err), StageSynthesis, fmt.Errorf("failed to synthesize %q: %w", key, err))
	}

	fresh, err := parseMonograph(key, text)
	if err != nil {
		s.logger.Warn("unusable synthesis payload", "key", key, "error", err)
		return nil, newError(KindMalformedPayload, StageParse, err)
	}

	dbCtx, cancel := context.WithTimeout(ctx, s.opts.DatabaseTimeout)
	created, err := s.store.CreateFlower(dbCtx, fresh)
	cancel()
	if errors.Is(err, supabase.ErrDuplicate) {
		// Another writer stored the key first; theirs is the cache entry.
		metrics.KnowledgeLookupsTotal.WithLabelValues("conflict").Inc()
		s.logger.Info("lost insert race, re-reading flower", "key", key)
		return s.readStored(ctx, key)
	}
	if err != nil {
		return nil, newError(KindTransport, StageStore, err)
	}

	metrics.KnowledgeLookupsTotal.WithLabelValues("synthesized").Inc()
	s.remember(created)
	return created, nil
}

func (s *KnowledgeService) readStored(ctx context.Context, key string) (*models.FlowerMonograph, error) {
	dbCtx, cancel := context.WithTimeout(ctx, s.opts.DatabaseTimeout)
	defer cancel()

	m, err := s.store.GetFlower(dbCtx, key)
	if errors.Is(err, supabase.ErrNotFound) {
		return nil, newError(KindNotFound, StageLookup, fmt.Errorf("%w: %s", ErrMonographNotFound, key))
	}
	if err != nil {
		return nil, newError(KindTransport, StageLookup, err)
	}
	s.remember(m)
	return m, nil
}

// Answer returns the stored answer to question about the monograph keyed by
// label, or synthesizes, stores and returns a new one.
func (s *KnowledgeService) Answer(ctx context.Context, label, question string) (*AnswerResult, error) {
	key, normalized := NormalizeKey(label), NormalizeKey(question)
	if key == "" || normalized == "" {
		return nil, newError(KindInvalidInput, StageValidate, errors.New("scientific name and question are required"))
	}

	m, err := s.Get(ctx, key)
	if err != nil {
		return nil, err
	}

	for _, qa := range m.QAndA {
		if NormalizeKey(qa.Question) == normalized {
			metrics.QuestionLookupsTotal.WithLabelValues("hit").Inc()
			return &AnswerResult{Text: qa.Answer, WasCached: true}, nil
		}
	}

	v, err := s.shared(ctx, "qa:"+key+"\x00"+normalized, StageSynthesis, func(ctx context.Context) (any, error) {
		return s.answerMiss(ctx, m, strings.TrimSpace(question), normalized)
	})
	if err != nil {
		metrics.QuestionLookupsTotal.WithLabelValues("error").Inc()
		return nil, err
	}
	return v.(*AnswerResult), nil
}

func (s *KnowledgeService) answerMiss(ctx context.Context, m *models.FlowerMonograph, question, normalized string) (*AnswerResult, error) {
	key := m.ScientificName

	// The cached monograph may predate another process's append.
	stored, err := s.readQuestion(ctx, key, normalized)
	if err == nil {
		metrics.QuestionLookupsTotal.WithLabelValues("hit").Inc()
		s.forget(key)
		return &AnswerResult{Text: stored.Answer, WasCached: true}, nil
	}
	if !errors.Is(err, supabase.ErrNotFound) {
		return nil, newError(KindTransport, StageLookup, err)
	}

	start := time.Now()
	synthCtx, cancel := context.WithTimeout(ctx, s.opts.SynthesisTimeout)
	text, err := s.synth.Complete(synthCtx, answerPrompt(key, question), answerOptions)
	cancel()
	metrics.ObserveSynthesis("answer", start, err)
	if err != nil {
		return nil, newError(externalKind(err), StageSynthesis, fmt.Errorf("failed to answer question about %q: %w", key, err))
	}
	answer := strings.TrimSpace(text)

	dbCtx, cancel := context.WithTimeout(ctx, s.opts.DatabaseTimeout)
	err = s.store.CreateFlowerQuestion(dbCtx, &models.FlowerQuestion{
		FlowerKey:          key,
		Question:           question,
		NormalizedQuestion: normalized,
		Answer:             answer,
	})
	cancel()

	switch {
	case errors.Is(err, supabase.ErrDuplicate):
		metrics.QuestionLookupsTotal.WithLabelValues("conflict").Inc()
		s.forget(key)
		winner, rerr := s.readQuestion(ctx, key, normalized)
		if rerr != nil {
			return nil, newError(KindTransport, StageLookup, rerr)
		}
		return &AnswerResult{Text: winner.Answer, WasCached: true}, nil
	case err != nil:
		// The answer is still good; it just will not be reused.
		s.logger.Error("failed to store answer", "key", key, "error", err)
	default:
		metrics.QuestionLookupsTotal.WithLabelValues("synthesized").Inc()
		s.forget(key)
	}

	return &AnswerResult{Text: answer, WasCached: false}, nil
}

func (s *KnowledgeService) readQuestion(ctx context.Context, key, normalized string) (*models.FlowerQuestion, error) {
	dbCtx, cancel := context.WithTimeout(ctx, s.opts.DatabaseTimeout)
	defer cancel()
	return s.store.GetFlowerQuestion(dbCtx, key, normalized)
}

func (s *KnowledgeService) cached(key string) (*models.FlowerMonograph, bool) {
	if s.cache == nil {
		return nil, false
	}
	v, ok := s.cache.Get(key)
	if !ok {
		return nil, false
	}
	m, ok := v.(*models.FlowerMonograph)
	return m, ok
}

func (s *KnowledgeService) remember(m *models.FlowerMonograph) {
	if s.cache != nil && m != nil {
		s.cache.SetDefault(m.ScientificName, m)
	}
}

func (s *KnowledgeService) forget(key string) {
	if s.cache != nil {
		s.cache.Delete(key)
	}
}
