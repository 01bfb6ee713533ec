// © 2026 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Package gemini generates post text and images with the Gemini API.
package gemini

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"go.astrophena.name/infobot/cmd/infobot/internal/prompt"
	"go.astrophena.name/infobot/cmd/infobot/internal/topic"
	"go.astrophena.name/infobot/internal/atomicio"

	"golang.org/x/time/rate"
	"google.golang.org/genai"
)

// Defaults for Options.
const (
	DefaultModel       = "gemini-2.5-flash"
	DefaultImageModel  = "imagen-4.0-generate-001"
	DefaultMaxTokens   = 2000
	DefaultTemperature = 0.7
)

// Generated text shorter than MinContentLength runes is treated as a failure,
// as is research shorter than MinResearchLength runes.
const (
	MinContentLength  = 10
	MinResearchLength = 50
)

var (
	// ErrTooShort is returned when the model produced empty or nearly empty
	// output.
	ErrTooShort = errors.New("generated content is too short")
	// ErrInsufficientResearch is returned by GenerateWithSearch when the
	// research step found too little to build a post on.
	ErrInsufficientResearch = errors.New("web search returned insufficient results")
	// ErrNoImage is returned when the image model returned no image.
	ErrNoImage = errors.New("no image generated")
)

// Options configure a Generator.
type Options struct {
	// APIKey is the Gemini API key.
	APIKey string
	// Model is the text model. Defaults to DefaultModel.
	Model string
	// ImageModel is the image model. Defaults to DefaultImageModel.
	ImageModel string
	// Temperature is the sampling temperature. Defaults to
	// DefaultTemperature.
	Temperature float32
	// MaxTokens limits the length of generated text. Defaults to
	// DefaultMaxTokens.
	MaxTokens int32
	// RPM limits the number of requests per minute. Zero means no limit.
	RPM int
	// Lang is the language of system instructions.
	Lang prompt.Lang
	// ImageDir is where generated images are saved.
	ImageDir string
	// HTTPClient is used for API requests. Defaults to http.DefaultClient.
	HTTPClient *http.Client
	// Logger defaults to a logger that discards everything.
	Logger *slog.Logger
}

// backend is the part of the Gemini API used by Generator.
type backend interface {
	generate(ctx context.Context, req textRequest) (string, error)
	generateImage(ctx context.Context, model, prompt string) ([]byte, error)
}

type textRequest struct {
	model       string
	system      string
	prompt      string
	search      bool
	temperature float32
	maxTokens   int32
}

// Generator produces post content. It is safe for concurrent use.
type Generator struct {
	opts    Options
	backend backend
	limiter *rate.Limiter
	logger  *slog.Logger
	now     func() time.Time
}

// New returns a Generator backed by the Gemini API.
func New(ctx context.Context, opts Options) (*Generator, error) {
	if opts.APIKey == "" {
		return nil, errors.New("gemini: API key is required")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:     opts.APIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: cmp.Or(opts.HTTPClient, http.DefaultClient),
	})
	if err != nil {
		return nil, fmt.Errorf("gemini: creating client: %w", err)
	}
	return newGenerator(opts, &genaiBackend{models: client.Models}), nil
}

func newGenerator(opts Options, b backend) *Generator {
	opts.Model = cmp.Or(opts.Model, DefaultModel)
	opts.ImageModel = cmp.Or(opts.ImageModel, DefaultImageModel)
	opts.Temperature = cmp.Or(opts.Temperature, DefaultTemperature)
	opts.MaxTokens = cmp.Or(opts.MaxTokens, DefaultMaxTokens)
	opts.Lang = cmp.Or(opts.Lang, prompt.English)

	limit := rate.Inf
	if opts.RPM > 0 {
		limit = rate.Every(time.Minute / time.Duration(opts.RPM))
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	return &Generator{
		opts:    opts,
		backend: b,
		limiter: rate.NewLimiter(limit, 1),
		logger:  logger,
		now:     time.Now,
	}
}

// Generate returns text generated for p.
func (g *Generator) Generate(ctx context.Context, p string) (string, error) {
	content, err := g.text(ctx, g.opts.Lang.System(g.now()), p, false)
	if err != nil {
		return "", err
	}
	if utf8.RuneCountInString(content) < MinContentLength {
		return "", ErrTooShort
	}
	return content, nil
}

// GenerateWithSearch first researches topicName with Google Search grounding
// and then generates text for p using what was found.
func (g *Generator) GenerateWithSearch(ctx context.Context, p, topicName string) (string, error) {
	var (
		now = g.now()
		ml  = topicName == topic.MachineLearning
	)

	g.logger.Debug("researching topic", "topic", topicName)
	research, err := g.text(ctx, g.opts.Lang.ResearchSystem(ml, now), g.opts.Lang.ResearchQuery(topicName, ml, now), true)
	if err != nil {
		return "", fmt.Errorf("research: %w", err)
	}
	if utf8.RuneCountInString(strings.TrimSpace(research)) < MinResearchLength {
		return "", ErrInsufficientResearch
	}
	g.logger.Debug("research done", "topic", topicName, "length", utf8.RuneCountInString(research))

	return g.Generate(ctx, g.opts.Lang.WithResearch(p, research, now))
}

// GenerateImage generates an image for p and saves it as a PNG file named
// after topicName. It returns the path of the file.
func (g *Generator) GenerateImage(ctx context.Context, p, topicName string) (string, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return "", err
	}
	b, err := g.backend.generateImage(ctx, g.opts.ImageModel, p)
	if err != nil {
		return "", err
	}
	if len(b) == 0 {
		return "", ErrNoImage
	}

	path := filepath.Join(g.opts.ImageDir, ImageName(topicName, g.now()))
	if err := (atomicio.Options{}).WriteFile(path, b, 0o644); err != nil {
		return "", fmt.Errorf("saving image: %w", err)
	}
	g.logger.Info("image saved", "path", path, "size", len(b))
	return path, nil
}

var unsafeChars = regexp.MustCompile(`[^a-zA-Zа-яА-ЯёЁ0-9]`)

// ImageName returns the file name of an image generated for topicName at t.
func ImageName(topicName string, t time.Time) string {
	ts := strings.NewReplacer(":", "-", ".", "-").Replace(t.UTC().Format("2006-01-02T15:04:05.000Z"))
	return unsafeChars.ReplaceAllString(topicName, "_") + "_" + ts + ".png"
}

func (g *Generator) text(ctx context.Context, system, p string, search bool) (string, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return "", err
	}
	content, err := g.backend.generate(ctx, textRequest{
		model:       g.opts.Model,
		system:      system,
		prompt:      p,
		search:      search,
		temperature: g.opts.Temperature,
		maxTokens:   g.opts.MaxTokens,
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(content), nil
}

type genaiBackend struct {
	models *genai.Models
}

func (b *genaiBackend) generate(ctx context.Context, req textRequest) (string, error) {
	cfg := &genai.GenerateContentConfig{
		SystemInstruction: &genai.Content{Parts: []*genai.Part{{Text: req.system}}},
		Temperature:       genai.Ptr(req.temperature),
		MaxOutputTokens:   req.maxTokens,
	}
	if req.search {
		cfg.Tools = []*genai.Tool{{GoogleSearch: &genai.GoogleSearch{}}}
	}
	resp, err := b.models.GenerateContent(ctx, req.model, genai.Text(req.prompt), cfg)
	if err != nil {
		return "", err
	}
	return resp.Text(), nil
}

func (b *genaiBackend) generateImage(ctx context.Context, model, p string) ([]byte, error) {
	resp, err := b.models.GenerateImages(ctx, model, p, &genai.GenerateImagesConfig{
		NumberOfImages: 1,
		OutputMIMEType: "image/png",
	})
	if err != nil {
		return nil, err
	}
	for _, img := range resp.GeneratedImages {
		if img.Image != nil && len(img.Image.ImageBytes) > 0 {
			return img.Image.ImageBytes, nil
		}
	}
	return nil, ErrNoImage
}
