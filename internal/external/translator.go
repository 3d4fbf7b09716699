package external

import (
	"context"
	"errors"
	"fmt"
	"html"
	"net/http"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	translate "google.golang.org/api/translate/v2"
)

const (
	DefaultMaxChars    = 30000
	DefaultMaxSegments = 128
)

// TranslationOutcome is the result for one input string.
type TranslationOutcome struct {
	Text string
	Err  error
}

// Translator translates batches of strings. The outcome slice has the input's
// length and order; failures are per item.
type Translator interface {
	TranslateBatch(ctx context.Context, texts []string, target string) []TranslationOutcome
}

// TranslatorConfig configures the Google backend.
type TranslatorConfig struct {
	APIKey        string
	Endpoint      string // override, used by tests and proxies
	MaxChars      int
	MaxSegments   int
	Timeout       time.Duration
	RatePerSecond float64
}

// GoogleTranslator uses Cloud Translation v2.
type GoogleTranslator struct {
	svc     *translate.Service
	cfg     TranslatorConfig
	limiter *rate.Limiter
	logger  *zap.Logger
}

func NewGoogleTranslator(ctx context.Context, cfg TranslatorConfig, logger *zap.Logger) (*GoogleTranslator, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("translator: api key is required")
	}
	if cfg.MaxChars <= 0 {
		cfg.MaxChars = DefaultMaxChars
	}
	if cfg.MaxSegments <= 0 {
		cfg.MaxSegments = DefaultMaxSegments
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	opts := []option.ClientOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(cfg.Endpoint))
	}
	svc, err := translate.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create translate service: %w", err)
	}
	return &GoogleTranslator{
		svc:     svc,
		cfg:     cfg,
		limiter: NewLimiter(cfg.RatePerSecond, 1),
		logger:  logger.With(zap.String("adapter", "google-translate")),
	}, nil
}

func (g *GoogleTranslator) TranslateBatch(ctx context.Context, texts []string, target string) []TranslationOutcome {
	out := make([]TranslationOutcome, len(texts))
	for _, chunk := range ChunkTexts(texts, g.cfg.MaxChars, g.cfg.MaxSegments) {
		q := make([]string, len(chunk))
		for i, idx := range chunk {
			q[i] = texts[idx]
		}
		translated, err := g.call(ctx, q, target)
		for i, idx := range chunk {
			switch {
			case err != nil:
				out[idx] = TranslationOutcome{Err: err}
			case i >= len(translated):
				out[idx] = TranslationOutcome{Err: &TranslationError{Kind: KindDecode, Message: "missing item in provider response"}}
			default:
				out[idx] = TranslationOutcome{Text: translated[i]}
			}
		}
	}
	return out
}

func (g *GoogleTranslator) call(ctx context.Context, q []string, target string) ([]string, error) {
	if g.limiter != nil {
		if err := g.limiter.Wait(ctx); err != nil {
			return nil, &TranslationError{Kind: translationKind(ctx, err), Message: "rate limit wait", Err: err}
		}
	}
	ctx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
	defer cancel()

	resp, err := g.svc.Translations.List(q, target).Format("text").Context(ctx).Do()
	if err != nil {
		kind := translationKind(ctx, err)
		g.logger.Warn("Translation call failed", zap.Int("segments", len(q)), zap.String("kind", string(kind)), zap.Error(err))
		return nil, &TranslationError{Kind: kind, Err: err}
	}
	texts := make([]string, len(resp.Translations))
	for i, t := range resp.Translations {
		texts[i] = html.UnescapeString(t.TranslatedText)
	}
	return texts, nil
}

func translationKind(ctx context.Context, err error) ErrorKind {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		if gerr.Code == http.StatusBadRequest {
			return KindInvalidRequest
		}
		return statusKind(gerr.Code)
	}
	if ctx.Err() == context.Canceled {
		return KindCancelled
	}
	if errors.Is(err, context.DeadlineExceeded) || ctx.Err() == context.DeadlineExceeded {
		return KindTimeout
	}
	return transportKind(ctx, err)
}

// ChunkTexts groups input indexes into calls of at most maxSegments strings
// and maxChars runes. A string longer than maxChars travels alone.
func ChunkTexts(texts []string, maxChars, maxSegments int) [][]int {
	var (
		chunks [][]int
		cur    []int
		size   int
	)
	for i, t := range texts {
		n := utf8.RuneCountInString(t)
		if len(cur) > 0 && (size+n > maxChars || len(cur) >= maxSegments) {
			chunks = append(chunks, cur)
			cur, size = nil, 0
		}
		cur = append(cur, i)
		size += n
		if size > maxChars {
			chunks = append(chunks, cur)
			cur, size = nil, 0
		}
	}
	if len(cur) > 0 {
		chunks = append(chunks, cur)
	}
	return chunks
}

// FuncTranslator translates item by item with fn; useful for offline runs.
type FuncTranslator func(ctx context.Context, text, target string) (string, error)

func (f FuncTranslator) TranslateBatch(ctx context.Context, texts []string, target string) []TranslationOutcome {
	out := make([]TranslationOutcome, len(texts))
	for i, t := range texts {
		s, err := f(ctx, t, target)
		out[i] = TranslationOutcome{Text: s, Err: err}
	}
	return out
}
