package vision

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/ovaphlow/pitchfork/service-waste-rewards/internal/apperr"
	"github.com/ovaphlow/pitchfork/service-waste-rewards/internal/photo"
)

var (
	ErrQuotaExhausted = apperr.New(apperr.ErrRateLimited, "vision model quota exhausted, try again later")
	ErrModel          = apperr.New(apperr.ErrUpstream, "vision model request failed")
	ErrNotConfigured  = apperr.New(apperr.ErrUpstream, "vision model is not configured")
)

// Model turns a prompt plus images into free-form text.
type Model interface {
	Generate(ctx context.Context, prompt string, images ...photo.Image) (string, error)
}

type Config struct {
	APIKey        string
	Model         string
	Endpoint      string
	Timeout       time.Duration
	MinConfidence float64
	// RPS caps outbound model calls per second for the whole process.
	RPS   float64
	Burst int
}

// ConfigFromEnv reads GEMINI_* and VISION_MIN_CONFIDENCE.
func ConfigFromEnv() Config {
	cfg := Config{
		APIKey:        os.Getenv("GEMINI_API_KEY"),
		Model:         os.Getenv("GEMINI_MODEL"),
		Endpoint:      strings.TrimRight(os.Getenv("GEMINI_ENDPOINT"), "/"),
		Timeout:       30 * time.Second,
		MinConfidence: 0.7,
		RPS:           2,
		Burst:         4,
	}
	if cfg.Model == "" {
		cfg.Model = "gemini-1.5-flash"
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = "https://generativelanguage.googleapis.com"
	}
	if v, err := strconv.ParseFloat(os.Getenv("VISION_MIN_CONFIDENCE"), 64); err == nil && v > 0 && v <= 1 {
		cfg.MinConfidence = v
	}
	if v, err := strconv.ParseFloat(os.Getenv("GEMINI_RPS"), 64); err == nil && v > 0 {
		cfg.RPS = v
	}
	return cfg
}

// GeminiClient calls the generateContent REST method.
type GeminiClient struct {
	apiKey   string
	model    string
	endpoint string
	http     *http.Client
	pace     *rate.Limiter
}

func NewGeminiClient(cfg Config) *GeminiClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	rps, burst := cfg.RPS, cfg.Burst
	if rps <= 0 {
		rps = 2
	}
	if burst < 1 {
		burst = int(rps) + 1
	}
	return &GeminiClient{
		pace:     rate.NewLimiter(rate.Limit(rps), burst),
		apiKey:   cfg.APIKey,
		model:    cfg.Model,
		endpoint: cfg.Endpoint,
		http:     &http.Client{Timeout: timeout},
	}
}

type inlineData struct {
	MIMEType string `json:"mime_type"`
	Data     string `json:"data"`
}

type part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *inlineData `json:"inline_data,omitempty"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type generateRequest struct {
	Contents         []content      `json:"contents"`
	GenerationConfig map[string]any `json:"generationConfig,omitempty"`
}

type generateResponse struct {
	Candidates []struct {
		Content content `json:"content"`
	} `json:"candidates"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

func (c *GeminiClient) Generate(ctx context.Context, prompt string, images ...photo.Image) (string, error) {
	if c.apiKey == "" {
		return "", ErrNotConfigured
	}
	// shed load locally rather than queue behind the upstream quota
	if !c.pace.Allow() {
		return "", ErrQuotaExhausted
	}
	parts := []part{{Text: prompt}}
	for _, img := range images {
		parts = append(parts, part{InlineData: &inlineData{MIMEType: img.MIMEType, Data: img.Base64()}})
	}
	body, err := json.Marshal(generateRequest{
		Contents:         []content{{Role: "user", Parts: parts}},
		GenerationConfig: map[string]any{"temperature": 0.2},
	})
	if err != nil {
		return "", fmt.Errorf("gemini: marshal request: %w", err)
	}

	u := fmt.Sprintf("%s/v1beta/models/%s:generateContent", c.endpoint, url.PathEscape(c.model))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("gemini: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrModel, err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return "", fmt.Errorf("%w: read body: %v", ErrModel, err)
	}
	var out generateResponse
	decodeErr := json.Unmarshal(raw, &out)

	if resp.StatusCode == http.StatusTooManyRequests || (out.Error != nil && out.Error.Status == "RESOURCE_EXHAUSTED") {
		return "", ErrQuotaExhausted
	}
	if resp.StatusCode != http.StatusOK {
		msg := http.StatusText(resp.StatusCode)
		if out.Error != nil && out.Error.Message != "" {
			msg = out.Error.Message
		}
		return "", fmt.Errorf("%w: status %d: %s", ErrModel, resp.StatusCode, msg)
	}
	if decodeErr != nil {
		return "", fmt.Errorf("%w: decode response: %v", ErrModel, decodeErr)
	}

	var sb strings.Builder
	for _, cand := range out.Candidates {
		for _, p := range cand.Content.Parts {
			sb.WriteString(p.Text)
		}
		if sb.Len() > 0 {
			break
		}
	}
	if sb.Len() == 0 {
		return "", fmt.Errorf("%w: empty candidates", ErrModel)
	}
	return sb.String(), nil
}
