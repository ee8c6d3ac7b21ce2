package intake

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/sync/semaphore"

	"github.com/healthsync/healthsync/internal/imaging"
	"github.com/healthsync/healthsync/internal/metrics"
)

//go:generate mockgen -source=pipeline.go -destination=mocks/mocks.go -package=mocks Model

// Model is a vision model that answers a text prompt about one image.
type Model interface {
	Generate(ctx context.Context, prompt string, image []byte, mimeType string) (string, error)
}

// ErrModelUnavailable is returned by UnavailableModel.
var ErrModelUnavailable = errors.New("vision model not configured")

// UnavailableModel stands in when no model is configured. Every extraction
// then falls back.
type UnavailableModel struct{}

func (UnavailableModel) Generate(context.Context, string, []byte, string) (string, error) {
	return "", ErrModelUnavailable
}

// Result holds the fields read off a package. Each is nil when unreadable.
type Result struct {
	Name     *string `json:"name"`
	Strength *string `json:"strength"`
	Expiry   *string `json:"expiry"`
	Brand    *string `json:"brand"`
}

// Source tells the caller whether the data came from the model.
type Source string

const (
	SourceModel    Source = "model"
	SourceFallback Source = "fallback"
)

// Stage is a state of the extraction state machine.
type Stage string

const (
	StageLenient  Stage = "lenient"
	StageStrict   Stage = "strict"
	StageFallback Stage = "fallback"
)

// MaxRawLength bounds the raw model text returned for debugging.
const MaxRawLength = 2000

// Extraction is the outcome of one Extract call.
type Extraction struct {
	Data   Result `json:"data"`
	Source Source `json:"source"`
	Stage  Stage  `json:"stage"`
	Raw    string `json:"raw,omitempty"`
}

// Config bounds model usage.
type Config struct {
	// Concurrency is the number of model calls allowed in flight.
	Concurrency int64
	// AttemptTimeout bounds each model call within the caller's context.
	AttemptTimeout time.Duration
}

// Pipeline turns a package photo into structured fields.
type Pipeline struct {
	model   Model
	spool   Spool
	sem     *semaphore.Weighted
	timeout time.Duration
	metrics *metrics.Metrics
}

// NewPipeline returns a Pipeline calling model and holding uploads in spool.
func NewPipeline(model Model, spool Spool, cfg Config, m *metrics.Metrics) *Pipeline {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if cfg.AttemptTimeout <= 0 {
		cfg.AttemptTimeout = 30 * time.Second
	}
	return &Pipeline{
		model:   model,
		spool:   spool,
		sem:     semaphore.NewWeighted(cfg.Concurrency),
		timeout: cfg.AttemptTimeout,
		metrics: m,
	}
}

// Extract reads the medicine package in image. It never fails: model and
// parse errors degrade to a strict retry and then to an all-null result.
// The spooled upload is released before Extract returns on every path.
func (p *Pipeline) Extract(ctx context.Context, image io.Reader, mimeType string) Extraction {
	held, err := p.spool.Put(image)
	if err != nil {
		slog.Warn("spooling scan upload failed", "error", err)
		return p.finish(StageFallback, Result{}, "")
	}
	defer func() {
		if err := held.Release(); err != nil {
			slog.Warn("releasing scan upload failed", "error", err)
		}
	}()

	data, err := held.Bytes()
	if err != nil {
		slog.Warn("reading scan upload failed", "error", err)
		return p.finish(StageFallback, Result{}, "")
	}
	data, mimeType = normalize(data, mimeType)

	var lastRaw string
	stage := StageLenient
	for {
		if stage == StageFallback {
			return p.finish(StageFallback, Result{}, lastRaw)
		}

		raw, res, err := p.attempt(ctx, stage, data, mimeType)
		if err == nil {
			return p.finish(stage, res, raw)
		}
		if raw != "" {
			lastRaw = raw
		}
		slog.Warn("scan attempt failed", "stage", stage, "error", err)

		if stage == StageLenient {
			stage = StageStrict
		} else {
			stage = StageFallback
		}
	}
}

// attempt runs one model call under the concurrency bound and the
// per-attempt timeout, then parses the response. A panicking model counts
// as a failed attempt.
func (p *Pipeline) attempt(ctx context.Context, stage Stage, image []byte, mimeType string) (raw string, res Result, err error) {
	if err := ctx.Err(); err != nil {
		return "", Result{}, err
	}
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return "", Result{}, fmt.Errorf("waiting for model slot: %w", err)
	}
	defer p.sem.Release(1)

	actx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	start := time.Now()
	outcome := "error"
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("model panicked: %v", r)
			outcome = "error"
		}
		p.metrics.ObserveModelLatency(string(stage), outcome, time.Since(start))
	}()

	raw, err = p.model.Generate(actx, promptFor(stage), image, mimeType)
	if err != nil {
		return raw, Result{}, err
	}

	res, err = Parse(raw)
	if err != nil {
		outcome = "unparseable"
		return raw, Result{}, errors.Join(errors.New("unparseable model response"), err)
	}
	outcome = "ok"
	return raw, res, nil
}

func (p *Pipeline) finish(stage Stage, res Result, raw string) Extraction {
	ext := Extraction{
		Data:   res,
		Source: SourceFallback,
		Stage:  stage,
		Raw:    truncate(raw, MaxRawLength),
	}
	if res.Name != nil && strings.TrimSpace(*res.Name) != "" {
		ext.Source = SourceModel
	}
	p.metrics.IncrementExtraction(string(stage), string(ext.Source))
	return ext
}

// normalize downsizes and re-encodes the upload. If that fails the original
// bytes go to the model unchanged.
func normalize(data []byte, mimeType string) ([]byte, string) {
	img, err := imaging.Process(data)
	if err == nil {
		return img.Data, img.MIME
	}
	slog.Debug("sending scan upload unprocessed", "error", err)
	if mimeType == "" {
		mimeType = http.DetectContentType(data)
	}
	return data, mimeType
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
