package conversation

import (
	"github.com/Patraschu/mbtichatbotori/internal/models"
	"github.com/Patraschu/mbtichatbotori/internal/services"
	"github.com/Patraschu/mbtichatbotori/internal/utils/random"
)

const (
	timeGreetingChance          = 0.3
	colleagueTimeGreetingChance = 0.5
)

// WelcomeLine picks the opener an extraverted persona sends into an empty
// chat. Introverts never open, so ok is false for them.
func WelcomeLine(personas Personas, cfg models.ChatbotConfig, hour int, src random.Source) (line string, ok bool) {
	lines := personas.WelcomeLines(cfg)
	if len(lines) == 0 {
		return "", false
	}
	line = random.Pick(src, lines)

	chance := timeGreetingChance
	if cfg.Relationship == models.Colleague {
		chance = colleagueTimeGreetingChance
	}
	if src.Float64() < chance {
		if greetings := personas.TimeGreetings(services.DayPeriodOf(hour)); len(greetings) > 0 {
			line = random.Pick(src, greetings)
		}
	}
	return line, true
}
