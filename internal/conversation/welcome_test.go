package conversation

import (
	"testing"

	"github.com/Patraschu/mbtichatbotori/internal/models"
	"github.com/Patraschu/mbtichatbotori/internal/utils/random"
	"github.com/stretchr/testify/assert"
)

func TestWelcomeLine(t *testing.T) {
	catalog := testCatalog(t)
	friend := models.ChatbotConfig{MBTI: models.ENFP, Gender: models.Female, Relationship: models.Friend}
	colleague := models.ChatbotConfig{MBTI: models.ENFP, Gender: models.Female, Relationship: models.Colleague}

	testCases := []struct {
		name string
		cfg  models.ChatbotConfig
		hour int
		rand random.Source
		want string
	}{
		{"Time greeting wins the draw", friend, 12, random.Fixed(0), "점심 먹었어?"},
		{"Persona line", friend, 12, random.Fixed(0.99), "오늘 뭐 재밌는 일 없어?"},
		{"Friend keeps its line above the chance", friend, 12, random.Fixed(0.4), "나 지금 너 생각하고 있었는데 ㅋㅋ"},
		{"Colleague greets by time more often", colleague, 15, random.Fixed(0.4), "오후네~"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			line, ok := WelcomeLine(catalog, tc.cfg, tc.hour, tc.rand)
			assert.True(t, ok)
			assert.Equal(t, tc.want, line)
		})
	}

	t.Run("Introverts do not open", func(t *testing.T) {
		_, ok := WelcomeLine(catalog, models.ChatbotConfig{MBTI: models.INTJ, Gender: models.Male, Relationship: models.Friend}, 12, random.Fixed(0))
		assert.False(t, ok)
	})
}
