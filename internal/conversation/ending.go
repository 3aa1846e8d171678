package conversation

import (
	"regexp"

	"github.com/Patraschu/mbtichatbotori/internal/models"
)

const endingWindow = 6

var endingPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)잘\s?자|굿\s?나잇|good\s?night|바이|bye|안녕|나중에|다음에|이만|그럼|끝|수고|고마워|땡큐|thank`),
	regexp.MustCompile(`(?i)좋은\s?꿈|편안한|달콤한|내일\s?봐|다음에\s?봐|또\s?봐`),
	regexp.MustCompile(`(?i)잘\s?쉬|푹\s?쉬|휴식|자러\s?가|잠\s?자|주무세요`),
	regexp.MustCompile(`(?i)이따\s?봐|이따\s?보자|오키|오케이|okay|ok|알았어|알겠어|응\s?이따`),
	regexp.MustCompile(`(?i)나중에\s?연락|연락할게|연락해|갈게|간다|출발|나감`),
}

func isClosing(content string) bool {
	for _, p := range endingPatterns {
		if p.MatchString(content) {
			return true
		}
	}
	return false
}

// ConversationEnded reports whether both sides said goodbye. Only the latest
// user and bot messages among the last six are considered.
func ConversationEnded(messages []models.ChatMessage) bool {
	recent := messages
	if len(recent) > endingWindow {
		recent = recent[len(recent)-endingWindow:]
	}
	if len(recent) < 2 {
		return false
	}

	var lastUser, lastBot string
	for i := len(recent) - 1; i >= 0; i-- {
		switch recent[i].Sender {
		case models.SenderUser:
			if lastUser == "" {
				lastUser = recent[i].Content
			}
		case models.SenderBot:
			if lastBot == "" {
				lastBot = recent[i].Content
			}
		}
	}
	if lastUser == "" || lastBot == "" {
		return false
	}
	return isClosing(lastUser) && isClosing(lastBot)
}
