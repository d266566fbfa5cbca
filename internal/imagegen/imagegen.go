// Package imagegen implements C5: the capability interface abstracting the
// upstream generative model, with flash/pro variants. Grounded on
// bobmcallan-vire's internal/clients/gemini.Client (genai.NewClient +
// ClientOption construction, Models.GenerateContent call shape), adapted
// from text generation to image generation by requesting an IMAGE response
// modality and reading back genai.Part.InlineData instead of part.Text.
package imagegen

import (
	"context"
	"fmt"
	"strings"
	"time"

	"google.golang.org/genai"

	"github.com/remiges-tech/masstock/internal/apperr"
	"github.com/remiges-tech/masstock/internal/domain"
)

// Params mirrors spec §4.5's Generate(params) signature.
type Params struct {
	Prompt          string
	ModelVariant    domain.ModelVariant
	AspectRatio     string
	Size            string
	ReferenceImages [][]byte
	Credential      string
}

// Result mirrors spec §4.5's result shape.
type Result struct {
	Bytes        []byte
	Mime         string
	ProcessingMS int
	Cost         float64
}

// ImageGenerator does not rate-limit itself (spec §4.5); callers acquire a
// RateGate token before calling Generate.
type ImageGenerator interface {
	Generate(ctx context.Context, params Params) (Result, error)
}

const (
	// ModelIDFlash and ModelIDPro name the concrete Gemini image models
	// behind the flash/pro variants.
	ModelIDFlash = "gemini-2.5-flash-image"
	ModelIDPro   = "gemini-3-pro-image-preview"
)

// costPerImage is a flat per-call estimate, reported as Result.Cost for
// every successful call; response usage metadata is not read.
var costPerImage = map[domain.ModelVariant]float64{
	domain.ModelFlash: 0.02,
	domain.ModelPro:   0.08,
}

// Gemini is the production ImageGenerator backing both flash and pro: the
// model ID is resolved per-call from params.ModelVariant so one client
// instance serves both variants, matching ImageGenerator's "at least two
// back-end variants ... both expose the same contract" requirement.
type Gemini struct {
	newClient func(ctx context.Context, apiKey string) (*genai.Client, error)
}

func NewGemini() *Gemini {
	return &Gemini{
		newClient: func(ctx context.Context, apiKey string) (*genai.Client, error) {
			return genai.NewClient(ctx, &genai.ClientConfig{
				APIKey:  apiKey,
				Backend: genai.BackendGeminiAPI,
			})
		},
	}
}

func modelIDFor(variant domain.ModelVariant) string {
	if variant == domain.ModelPro {
		return ModelIDPro
	}
	return ModelIDFlash
}

func (g *Gemini) Generate(ctx context.Context, params Params) (Result, error) {
	if strings.TrimSpace(params.Prompt) == "" && len(params.ReferenceImages) == 0 {
		return Result{}, apperr.New(apperr.KindInvalidInputUpstream, "EMPTY_PROMPT", "prompt and reference images both empty")
	}
	if params.Credential == "" {
		return Result{}, apperr.New(apperr.KindAuthFailure, "AUTH_FAILURE", "no credential resolved for generation call")
	}

	client, err := g.newClient(ctx, params.Credential)
	if err != nil {
		return Result{}, apperr.Wrap(apperr.KindTransient, "GEMINI_CLIENT_INIT_FAILED", "failed to construct generative client", err)
	}

	parts := []*genai.Part{genai.NewPartFromText(params.Prompt)}
	for _, ref := range params.ReferenceImages {
		parts = append(parts, genai.NewPartFromBytes(ref, "image/jpeg"))
	}
	contents := []*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)}

	config := &genai.GenerateContentConfig{
		ResponseModalities: []string{"TEXT", "IMAGE"},
	}

	started := time.Now()
	resp, err := client.Models.GenerateContent(ctx, modelIDFor(params.ModelVariant), contents, config)
	elapsed := time.Since(started)
	if err != nil {
		return Result{}, classifyUpstreamError(err)
	}

	data, mime, err := extractImage(resp)
	if err != nil {
		return Result{}, apperr.Wrap(apperr.KindInvalidInputUpstream, "NO_IMAGE_RETURNED", "model returned no image part", err)
	}

	return Result{
		Bytes:        data,
		Mime:         mime,
		ProcessingMS: int(elapsed.Milliseconds()),
		Cost:         costPerImage[params.ModelVariant],
	}, nil
}

func extractImage(resp *genai.GenerateContentResponse) ([]byte, string, error) {
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil, "", fmt.Errorf("no candidates in response")
	}
	for _, part := range resp.Candidates[0].Content.Parts {
		if part.InlineData != nil && len(part.InlineData.Data) > 0 {
			mime := part.InlineData.MIMEType
			if mime == "" {
				mime = "image/png"
			}
			return part.InlineData.Data, mime, nil
		}
	}
	return nil, "", fmt.Errorf("no inline image data in response parts")
}

// classifyUpstreamError maps a raw genai error to the taxonomy spec §4.5
// requires. The genai SDK does not export a stable typed-error surface for
// HTTP status, so this inspects the error text for the status markers the
// SDK does reliably include -- the same pragmatic approach
// bobmcallan-vire's clients take by wrapping with fmt.Errorf and letting
// callers pattern-match on message content.
func classifyUpstreamError(err error) error {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "429") || strings.Contains(msg, "resource_exhausted") || strings.Contains(msg, "quota"):
		return apperr.Wrap(apperr.KindQuotaExhausted, "QUOTA_EXHAUSTED", "upstream quota exhausted", err)
	case strings.Contains(msg, "401") || strings.Contains(msg, "403") || strings.Contains(msg, "unauthenticated") || strings.Contains(msg, "permission_denied"):
		return apperr.Wrap(apperr.KindAuthFailure, "AUTH_FAILURE", "upstream rejected credential", err)
	case strings.Contains(msg, "400") || strings.Contains(msg, "invalid_argument") || strings.Contains(msg, "safety"):
		return apperr.Wrap(apperr.KindInvalidInputUpstream, "INVALID_INPUT_UPSTREAM", "upstream rejected prompt", err)
	default:
		return apperr.Wrap(apperr.KindTransient, "UPSTREAM_TRANSIENT", "upstream call failed", err)
	}
}
