// Package vision asks a hosted multimodal model to classify waste photos and
// to judge whether a collection photo matches its report. Model output is
// free text; results are scraped from it tolerantly and any failure is
// reported as an error, never a crash.
package vision

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-waste-rewards/internal/apperr"
	"github.com/ovaphlow/pitchfork/service-waste-rewards/internal/photo"
)

type Classification struct {
	WasteType  string  `json:"wasteType"`
	Quantity   string  `json:"quantity"`
	Confidence float64 `json:"confidence"`
}

// Expected is what the report claims was there.
type Expected struct {
	WasteType string `json:"wasteType" validate:"required"`
	Amount    string `json:"amount" validate:"required"`
}

type Verification struct {
	WasteTypeMatch bool    `json:"wasteTypeMatch"`
	QuantityMatch  bool    `json:"quantityMatch"`
	Confidence     float64 `json:"confidence"`
	Accepted       bool    `json:"accepted"`
}

type Verifier struct {
	model         Model
	minConfidence float64
	wasteTypes    []string
	logger        *zap.SugaredLogger
}

// NewVerifier wraps model. wasteTypes is the vocabulary offered to the model
// and used to canonicalize its answer.
func NewVerifier(model Model, minConfidence float64, wasteTypes []string, logger *zap.SugaredLogger) *Verifier {
	if minConfidence <= 0 || minConfidence > 1 {
		minConfidence = 0.7
	}
	return &Verifier{model: model, minConfidence: minConfidence, wasteTypes: wasteTypes, logger: logger}
}

// Classify identifies the waste shown in img.
func (v *Verifier) Classify(ctx context.Context, img photo.Image) (*Classification, error) {
	img, err := photo.Normalize(img)
	if err != nil {
		return nil, err
	}
	prompt := render(classifyTmpl, map[string]any{"WasteTypes": v.wasteTypes})
	text, err := v.generate(ctx, "classify", prompt, img)
	if err != nil {
		return nil, err
	}
	obj, err := ExtractJSON(text, classifySchema)
	if err != nil {
		v.logger.Warnw("unusable classification output", "err", err, "output", truncate(text, 500))
		return nil, err
	}
	out := &Classification{
		WasteType:  v.canonical(asString(obj["wasteType"])),
		Quantity:   asString(obj["quantity"]),
		Confidence: asConfidence(obj["confidence"]),
	}
	if out.WasteType == "" || out.Quantity == "" {
		return nil, fmt.Errorf("%w: empty wasteType or quantity", ErrMissingKey)
	}
	return out, nil
}

// VerifyCollection compares the after photo (optionally preceded by the
// before photo) against the reported waste. Accepted is true only when both
// type and quantity match with confidence above the configured threshold.
func (v *Verifier) VerifyCollection(ctx context.Context, exp Expected, images ...photo.Image) (*Verification, error) {
	if len(images) == 0 || len(images) > 2 {
		return nil, apperr.Invalid("provide one or two images: [after] or [before, after]")
	}
	normalized := make([]photo.Image, 0, len(images))
	for _, img := range images {
		n, err := photo.Normalize(img)
		if err != nil {
			return nil, err
		}
		normalized = append(normalized, n)
	}
	prompt := render(verifyTmpl, map[string]any{
		"Before":    len(normalized) == 2,
		"WasteType": exp.WasteType,
		"Amount":    exp.Amount,
	})
	text, err := v.generate(ctx, "verify", prompt, normalized...)
	if err != nil {
		return nil, err
	}
	obj, err := ExtractJSON(text, verifySchema)
	if err != nil {
		v.logger.Warnw("unusable verification output", "err", err, "output", truncate(text, 500))
		return nil, err
	}
	out := &Verification{
		WasteTypeMatch: asBool(obj["wasteTypeMatch"]),
		QuantityMatch:  asBool(obj["quantityMatch"]),
		Confidence:     asConfidence(obj["confidence"]),
	}
	out.Accepted = out.WasteTypeMatch && out.QuantityMatch && out.Confidence > v.minConfidence
	return out, nil
}

func (v *Verifier) generate(ctx context.Context, mode, prompt string, images ...photo.Image) (string, error) {
	if v.model == nil {
		return "", ErrNotConfigured
	}
	text, err := v.model.Generate(ctx, prompt, images...)
	if err != nil {
		v.logger.Warnw("vision model call failed", "mode", mode, "err", err)
		return "", err
	}
	return text, nil
}

func (v *Verifier) canonical(s string) string {
	for _, t := range v.wasteTypes {
		if strings.EqualFold(t, s) {
			return t
		}
	}
	return s
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
