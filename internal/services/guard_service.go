package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Patraschu/mbtichatbotori/internal/models"
	"github.com/rs/zerolog"
)

type Outcome int

const (
	// OutcomeAllow forwards the message to the model.
	OutcomeAllow Outcome = iota
	// OutcomeLocked means the session was already locked when the request arrived.
	OutcomeLocked
	OutcomeDeveloperActivated
	// OutcomeBlocked means this message pushed the session over the threshold.
	OutcomeBlocked
)

func (o Outcome) String() string {
	switch o {
	case OutcomeAllow:
		return "allow"
	case OutcomeLocked:
		return "locked"
	case OutcomeDeveloperActivated:
		return "developer_activated"
	case OutcomeBlocked:
		return "blocked"
	default:
		return "unknown"
	}
}

type Verdict struct {
	Outcome Outcome
	// Text is the canned [SPLIT]-delimited reply for every outcome except Allow.
	Text    string
	Session *models.Session
}

// ShortCircuit reports whether the request must be answered without a model call.
func (v *Verdict) ShortCircuit() bool {
	return v.Outcome != OutcomeAllow
}

const (
	developerActivatedReply = "오 개발자님![SPLIT]반가워요 ㅎㅎ[SPLIT]이제 편하게 피드백 해주세요"
	blockedReply            = "어.. 뭐지?[SPLIT]좀 이상한 요청이 많아서[SPLIT]잠시 대화를 쉼게요"
)

func lockoutReply(remainingMinutes int) string {
	return fmt.Sprintf("아 미안..[SPLIT]뭐가 잘못되서 잠시 대화를 할 수 없어[SPLIT]%d분 후에 다시 얘기해줘", remainingMinutes)
}

var suspiciousTokens = []string{
	"개발자",
	"1004",
	"developer",
	"admin",
	"어드민",
	"관리자",
	"prompt",
	"프롬프트",
}

func containsSuspicious(content string) bool {
	lower := strings.ToLower(content)
	for _, token := range suspiciousTokens {
		if strings.Contains(lower, token) {
			return true
		}
	}
	return false
}

type GuardConfig struct {
	Passphrase      string
	MaxAttempts     int
	LockoutDuration time.Duration
}

// GuardService is the abuse / developer-mode state machine over a SessionStore.
type GuardService struct {
	store  SessionStore
	config GuardConfig
	logger zerolog.Logger
	now    func() time.Time
}

func NewGuardService(store SessionStore, config GuardConfig, logger zerolog.Logger) *GuardService {
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 3
	}
	if config.LockoutDuration <= 0 {
		config.LockoutDuration = 30 * time.Minute
	}
	return &GuardService{
		store:  store,
		config: config,
		logger: logger,
		now:    time.Now,
	}
}

// Inspect runs the guard for one inbound message. Silence follow-ups only
// go through the lockout check.
func (gs *GuardService) Inspect(ctx context.Context, sessionID, content string, silence bool) (*Verdict, error) {
	now := gs.now()
	var verdict Verdict

	session, err := gs.store.Update(ctx, sessionID, func(s *models.Session) error {
		// fn may run more than once when the store retries
		verdict = Verdict{Outcome: OutcomeAllow}

		if s.IsBlocked(now) {
			verdict.Outcome = OutcomeLocked
			verdict.Text = lockoutReply(s.RemainingMinutes(now))
			return nil
		}
		if silence {
			return nil
		}

		if gs.config.Passphrase != "" && content == gs.config.Passphrase {
			s.IsDeveloper = true
			s.Attempts = 0
			// an elapsed lockout would otherwise let the sweep evict the developer
			s.BlockedUntil = nil
			s.LastAttempt = time.Time{}
			verdict.Outcome = OutcomeDeveloperActivated
			verdict.Text = developerActivatedReply
			return nil
		}

		if s.IsDeveloper || !containsSuspicious(content) {
			return nil
		}

		if s.LockoutElapsed(now) && s.Attempts >= gs.config.MaxAttempts {
			s.Attempts = 0
		}
		s.Attempts++
		s.LastAttempt = now
		if s.Attempts >= gs.config.MaxAttempts {
			until := now.Add(gs.config.LockoutDuration)
			s.BlockedUntil = &until
			verdict.Outcome = OutcomeBlocked
			verdict.Text = blockedReply
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to inspect session %s: %w", sessionID, err)
	}
	verdict.Session = session

	switch verdict.Outcome {
	case OutcomeDeveloperActivated:
		gs.logger.Info().Str("session_id", sessionID).Msg("Developer mode activated")
	case OutcomeBlocked:
		gs.logger.Warn().
			Str("session_id", sessionID).
			Int("attempts", session.Attempts).
			Time("blocked_until", *session.BlockedUntil).
			Msg("Session blocked due to multiple suspicious attempts")
	case OutcomeAllow:
		if session.Attempts > 0 && session.LastAttempt.Equal(now) {
			gs.logger.Debug().Str("session_id", sessionID).Int("attempts", session.Attempts).Msg("Suspicious input recorded")
		}
	}
	return &verdict, nil
}
