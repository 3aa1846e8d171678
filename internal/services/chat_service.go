package services

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	apperrors "github.com/Patraschu/mbtichatbotori/internal/errors"
	"github.com/Patraschu/mbtichatbotori/internal/models"
	"github.com/Patraschu/mbtichatbotori/internal/utils/random"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const silenceAttemptCap = 3

// ChatService runs one chat request end to end: guard, prompt, model call,
// segmentation and graceful degradation of every non-configuration failure.
type ChatService struct {
	guard     SessionGuard
	generator Generator
	catalog   *PersonaCatalog
	prompts   *PromptBuilder
	segmenter *Segmenter
	rand      random.Source
	logger    zerolog.Logger
	now       func() time.Time
}

// NewChatService wires the pipeline. generator may be nil when no API key is
// configured; requests that need the model then fail with a configuration error.
func NewChatService(guard SessionGuard, generator Generator, catalog *PersonaCatalog, src random.Source, logger zerolog.Logger) *ChatService {
	return &ChatService{
		guard:     guard,
		generator: generator,
		catalog:   catalog,
		prompts:   NewPromptBuilder(catalog),
		segmenter: NewSegmenter(catalog, src),
		rand:      src,
		logger:    logger,
		now:       time.Now,
	}
}

// HasModel reports whether a generator is configured.
func (cs *ChatService) HasModel() bool {
	return cs.generator != nil
}

func validateChatRequest(req *models.ChatRequest) error {
	if req == nil || req.Messages == nil || req.Config == nil {
		return apperrors.New400Error("Missing messages or config in request body")
	}
	if err := req.Config.Validate(); err != nil {
		return apperrors.New400Error(err.Error())
	}
	if req.IsSilenceResponse {
		return nil
	}
	if len(req.Messages) == 0 || req.Messages[len(req.Messages)-1].Sender != models.SenderUser {
		return apperrors.New400Error("The last message must be from the user.")
	}
	return nil
}

func (cs *ChatService) Respond(ctx context.Context, req *models.ChatRequest) (*models.ChatReply, error) {
	if err := validateChatRequest(req); err != nil {
		return nil, err
	}
	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	cfg := *req.Config

	content := ""
	if !req.IsSilenceResponse {
		content = req.Messages[len(req.Messages)-1].Content
	}

	verdict, err := cs.guard.Inspect(ctx, sessionID, content, req.IsSilenceResponse)
	if err != nil {
		return nil, apperrors.LogAndReturn500(err)
	}
	if verdict.ShortCircuit() {
		cs.logger.Info().
			Str("session_id", sessionID).
			Str("outcome", verdict.Outcome.String()).
			Msg("Guard answered without a model call")
		return cs.reply(sessionID, verdict.Session, SplitMarked(verdict.Text), nil), nil
	}

	if cs.generator == nil {
		return nil, apperrors.NewConfigurationError("API key not configured", http.StatusInternalServerError, ErrModelNotConfigured)
	}

	kt := ResolveKoreaTime(req.KoreaTimeInfo, req.ClientTime, cs.now())
	input := PromptInput{
		Config:    cfg,
		Developer: verdict.Session.IsDeveloper,
		Time:      kt,
	}

	if req.IsSilenceResponse {
		input.Silence = silenceContextOf(req)
		return cs.respondToSilence(ctx, sessionID, verdict.Session, input)
	}
	return cs.respondToUser(ctx, sessionID, verdict.Session, input, req.Messages)
}

func silenceContextOf(req *models.ChatRequest) *models.SilenceContext {
	sc := &models.SilenceContext{AttemptNumber: 1, TotalAttempts: silenceAttemptCap}
	if req.SilenceContext != nil {
		*sc = *req.SilenceContext
	}
	if sc.AttemptNumber <= 0 {
		sc.AttemptNumber = 1
	}
	if sc.TotalAttempts <= 0 {
		sc.TotalAttempts = silenceAttemptCap
	}
	return sc
}

func (cs *ChatService) respondToSilence(ctx context.Context, sessionID string, session *models.Session, input PromptInput) (*models.ChatReply, error) {
	system, err := cs.prompts.System(input)
	if err != nil {
		return nil, apperrors.LogAndReturn500(err)
	}
	result, err := cs.generator.Generate(ctx, GenerateRequest{
		System:  system,
		Message: cs.prompts.SilencePrompt(input.Config, input.Silence),
	})
	if err != nil {
		if cfgErr := configurationError(err); cfgErr != nil {
			return nil, cfgErr
		}
		cs.logger.Warn().Err(err).Str("session_id", sessionID).Msg("Silence follow-up failed, using fallback line")
		line := random.Pick(cs.rand, cs.catalog.SilenceFallbacks(input.Config.MBTI))
		return cs.reply(sessionID, session, []string{line}, nil), nil
	}

	var segments []string
	if !result.Blocked && !result.Empty {
		segments = SplitMarked(result.Text)
	}
	if len(segments) == 0 {
		segments = []string{cs.catalog.BlockedSilenceLine(input.Config.MBTI)}
	}
	reply := cs.reply(sessionID, session, segments, input.Time.Current())
	if !result.Blocked && !result.Empty {
		reply.Text = result.Text
	}
	return reply, nil
}

func (cs *ChatService) respondToUser(ctx context.Context, sessionID string, session *models.Session, input PromptInput, messages []models.ChatMessage) (*models.ChatReply, error) {
	system, err := cs.prompts.System(input)
	if err != nil {
		return nil, apperrors.LogAndReturn500(err)
	}
	history, system := BuildHistory(messages, system)
	latest := messages[len(messages)-1]

	result, err := cs.generator.Generate(ctx, GenerateRequest{
		System:  system,
		History: history,
		Message: latest.Content,
	})
	if err != nil {
		if cfgErr := configurationError(err); cfgErr != nil {
			return nil, cfgErr
		}
		kind := ModelErrorKindOf(err)
		cs.logger.Warn().Err(err).Str("session_id", sessionID).Str("kind", kind.String()).Msg("Model call degraded to canned reply")
		return cs.reply(sessionID, session, degradedSegments(kind), nil), nil
	}

	switch {
	case result.Blocked && result.FinishReason == FinishReasonNoCandidates:
		return cs.reply(sessionID, session, SplitMarked(cs.catalog.DefaultRedirect()), nil), nil
	case result.Blocked:
		return cs.reply(sessionID, session, SplitMarked(cs.catalog.SafetyRedirect(input.Config.MBTI)), nil), nil
	case result.Empty:
		return cs.reply(sessionID, session, emptyReplySegments, nil), nil
	}

	segments := cs.segmenter.Segment(result.Text, input.Config)
	if len(segments) == 0 {
		segments = emptyReplySegments
	}
	return cs.reply(sessionID, session, segments, input.Time.Current()), nil
}

// configurationError turns credential failures into the only error category
// surfaced to the caller as a non-chat payload.
func configurationError(err error) error {
	if errors.Is(err, ErrModelNotConfigured) {
		return apperrors.NewConfigurationError("API key not configured", http.StatusInternalServerError, err)
	}
	kind := ModelErrorKindOf(err)
	if !kind.IsConfiguration() {
		return nil
	}
	if kind == ModelErrorInvalidKey {
		return apperrors.NewConfigurationError("Invalid API key", http.StatusUnauthorized, err)
	}
	return apperrors.NewConfigurationError("The API key does not have permission to use the model", http.StatusForbidden, err)
}

func (cs *ChatService) reply(sessionID string, session *models.Session, segments []string, current *models.CurrentTime) *models.ChatReply {
	reply := &models.ChatReply{
		Text:        strings.Join(segments, " "),
		Segments:    append([]string(nil), segments...),
		SessionID:   sessionID,
		CurrentTime: current,
	}
	if session != nil {
		reply.IsDeveloper = session.IsDeveloper
	}
	return reply
}
