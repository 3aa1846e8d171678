package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"github.com/rs/zerolog"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	DefaultModelName = "gemini-2.0-flash"

	// FinishReasonNoCandidates marks a reply the model refused before producing any candidate.
	FinishReasonNoCandidates = "NO_CANDIDATES"
)

type ModelErrorKind int

const (
	ModelErrorUnknown ModelErrorKind = iota
	ModelErrorInvalidKey
	ModelErrorPermissionDenied
	ModelErrorSafety
	ModelErrorRateLimited
	ModelErrorTimeout
)

func (k ModelErrorKind) String() string {
	switch k {
	case ModelErrorInvalidKey:
		return "invalid_key"
	case ModelErrorPermissionDenied:
		return "permission_denied"
	case ModelErrorSafety:
		return "safety"
	case ModelErrorRateLimited:
		return "rate_limited"
	case ModelErrorTimeout:
		return "timeout"
	default:
		return "unknown"
	}
}

// IsConfiguration reports whether the failure is caused by the credentials.
func (k ModelErrorKind) IsConfiguration() bool {
	return k == ModelErrorInvalidKey || k == ModelErrorPermissionDenied
}

// ModelError is a classified failure of the external model.
type ModelError struct {
	Kind ModelErrorKind
	Err  error
}

func (e *ModelError) Error() string {
	return fmt.Sprintf("model call failed (%s): %v", e.Kind, e.Err)
}

func (e *ModelError) Unwrap() error {
	return e.Err
}

// ModelErrorKindOf returns the kind of a ModelError anywhere in err's chain,
// classifying raw errors on the fly.
func ModelErrorKindOf(err error) ModelErrorKind {
	var modelErr *ModelError
	if errors.As(err, &modelErr) {
		return modelErr.Kind
	}
	return classifyModelError(err)
}

func classifyModelError(err error) ModelErrorKind {
	if err == nil {
		return ModelErrorUnknown
	}
	var blocked *genai.BlockedError
	if errors.As(err, &blocked) {
		return ModelErrorSafety
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ModelErrorTimeout
	}

	msg := err.Error()
	if strings.Contains(msg, "API_KEY_INVALID") {
		return ModelErrorInvalidKey
	}
	if st, ok := status.FromError(err); ok {
		switch st.Code() {
		case codes.Unauthenticated:
			return ModelErrorInvalidKey
		case codes.PermissionDenied:
			return ModelErrorPermissionDenied
		case codes.ResourceExhausted:
			return ModelErrorRateLimited
		case codes.DeadlineExceeded:
			return ModelErrorTimeout
		}
	}

	switch {
	case strings.Contains(msg, "PERMISSION_DENIED"):
		return ModelErrorPermissionDenied
	case containsAny(msg, "SAFETY", "blocked", "Candidate", "finish_reason"):
		return ModelErrorSafety
	case containsAny(msg, "429", "quota", "rate limit", "RATE_LIMIT"):
		return ModelErrorRateLimited
	case containsAny(msg, "timeout", "DEADLINE"):
		return ModelErrorTimeout
	}
	return ModelErrorUnknown
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// NewGeminiClient opens a generative-ai client for apiKey.
func NewGeminiClient(ctx context.Context, apiKey string) (*genai.Client, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}
	return client, nil
}

type GeminiConfig struct {
	ModelName string
	Timeout   time.Duration
}

// GeminiGenerator is the Generator backed by the Gemini API.
type GeminiGenerator struct {
	client    *genai.Client
	modelName string
	timeout   time.Duration
	logger    zerolog.Logger
}

func NewGeminiGenerator(client *genai.Client, config GeminiConfig, logger zerolog.Logger) *GeminiGenerator {
	if config.ModelName == "" {
		config.ModelName = DefaultModelName
	}
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}
	return &GeminiGenerator{
		client:    client,
		modelName: config.ModelName,
		timeout:   config.Timeout,
		logger:    logger,
	}
}

func (g *GeminiGenerator) Generate(ctx context.Context, req GenerateRequest) (*GenerateResult, error) {
	if g == nil || g.client == nil {
		return nil, ErrModelNotConfigured
	}
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	model := g.client.GenerativeModel(g.modelName)
	configureModel(model, req.System)

	cs := model.StartChat()
	cs.History = toContents(req.History)

	g.logger.Debug().
		Str("model", g.modelName).
		Int("history_turns", len(cs.History)).
		Msg("Sending message to model")

	resp, err := cs.SendMessage(ctx, genai.Text(req.Message))
	result, err := interpretResponse(resp, err)
	if err != nil {
		g.logger.Error().Err(err).Str("model", g.modelName).Msg("Model call failed")
		return nil, err
	}
	if result.Blocked {
		g.logger.Info().Str("finish_reason", result.FinishReason).Msg("Model response was blocked")
	}
	return result, nil
}

func configureModel(model *genai.GenerativeModel, system string) {
	model.SetTemperature(1)
	model.SetTopK(50)
	model.SetTopP(0.95)
	model.SetMaxOutputTokens(8192)
	model.SafetySettings = []*genai.SafetySetting{
		{Category: genai.HarmCategoryHarassment, Threshold: genai.HarmBlockOnlyHigh},
		{Category: genai.HarmCategoryHateSpeech, Threshold: genai.HarmBlockOnlyHigh},
		{Category: genai.HarmCategorySexuallyExplicit, Threshold: genai.HarmBlockOnlyHigh},
		{Category: genai.HarmCategoryDangerousContent, Threshold: genai.HarmBlockOnlyHigh},
	}
	if system != "" {
		model.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(system)}}
	}
}

func toContents(history []Turn) []*genai.Content {
	contents := make([]*genai.Content, 0, len(history))
	for _, turn := range history {
		contents = append(contents, &genai.Content{
			Role:  turn.Role,
			Parts: []genai.Part{genai.Text(turn.Text)},
		})
	}
	return contents
}

// interpretResponse maps a model round trip onto a GenerateResult. Refusals
// are results, not errors; only transport and API failures return an error.
func interpretResponse(resp *genai.GenerateContentResponse, err error) (*GenerateResult, error) {
	var blocked *genai.BlockedError
	if errors.As(err, &blocked) {
		if blocked.Candidate != nil {
			return &GenerateResult{Blocked: true, FinishReason: finishReasonName(blocked.Candidate.FinishReason)}, nil
		}
		return &GenerateResult{Blocked: true, FinishReason: FinishReasonNoCandidates}, nil
	}
	if err != nil {
		return nil, &ModelError{Kind: classifyModelError(err), Err: err}
	}

	if resp == nil || len(resp.Candidates) == 0 {
		return &GenerateResult{Blocked: true, FinishReason: FinishReasonNoCandidates}, nil
	}
	candidate := resp.Candidates[0]
	reason := finishReasonName(candidate.FinishReason)
	switch candidate.FinishReason {
	case genai.FinishReasonSafety, genai.FinishReasonRecitation, genai.FinishReasonOther:
		return &GenerateResult{Blocked: true, FinishReason: reason}, nil
	}

	if candidate.Content == nil || len(candidate.Content.Parts) == 0 {
		return &GenerateResult{Empty: true, FinishReason: reason}, nil
	}
	var b strings.Builder
	for _, part := range candidate.Content.Parts {
		if text, ok := part.(genai.Text); ok {
			b.WriteString(string(text))
		}
	}
	text := b.String()
	return &GenerateResult{
		Text:         text,
		Empty:        strings.TrimSpace(text) == "",
		FinishReason: reason,
	}, nil
}

func finishReasonName(reason genai.FinishReason) string {
	switch reason {
	case genai.FinishReasonStop:
		return "STOP"
	case genai.FinishReasonMaxTokens:
		return "MAX_TOKENS"
	case genai.FinishReasonSafety:
		return "SAFETY"
	case genai.FinishReasonRecitation:
		return "RECITATION"
	case genai.FinishReasonOther:
		return "OTHER"
	default:
		return "UNSPECIFIED"
	}
}
