package services

import (
	"fmt"
	"testing"
	"time"

	"github.com/Patraschu/mbtichatbotori/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveKoreaTime(t *testing.T) {
	t.Run("Client breakdown wins", func(t *testing.T) {
		info := &models.TimeInfo{Year: 2024, Month: 7, Date: 3, Hour: 21, Minute: 5, Second: 9, DayOfWeek: "수요일"}
		kt := ResolveKoreaTime(info, nil, time.Now())

		assert.Equal(t, "오후 09시 05분", kt.TwelveHour())
		assert.Equal(t, "여름", kt.Season())
		assert.Equal(t, "evening", kt.DayPeriod())
		assert.Equal(t, &models.CurrentTime{Hour: 21, Minute: 5, TimeString: "오후 09시 05분", DayOfWeek: "수요일", Date: "2024-07-03"}, kt.Current())
	})

	t.Run("Server falls back to UTC+9", func(t *testing.T) {
		now := time.Date(2024, 1, 1, 15, 30, 0, 0, time.UTC)
		kt := ResolveKoreaTime(nil, nil, now)

		assert.Equal(t, 2024, kt.Year)
		assert.Equal(t, 2, kt.Date)
		assert.Equal(t, "화요일", kt.DayOfWeek)
		assert.Equal(t, "오전 12시 30분", kt.TwelveHour())
		assert.Equal(t, "겨울", kt.Season())
		assert.Equal(t, "night", kt.DayPeriod())
	})

	t.Run("Client timestamp is preferred over server clock", func(t *testing.T) {
		client := time.Date(2024, 4, 10, 3, 0, 0, 0, time.UTC)
		kt := ResolveKoreaTime(nil, &client, time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC))
		assert.Equal(t, 12, kt.Hour)
		assert.Equal(t, "오후 12시 00분", kt.TwelveHour())
		assert.Equal(t, "봄", kt.Season())
	})
}

func TestDayPeriodOf(t *testing.T) {
	expected := map[int]string{4: "night", 5: "morning", 11: "morning", 12: "afternoon", 17: "afternoon", 18: "evening", 21: "evening", 22: "night", 0: "night"}
	for hour, period := range expected {
		assert.Equal(t, period, DayPeriodOf(hour), fmt.Sprint(hour))
	}
}

func chatLog(entries ...string) []models.ChatMessage {
	now := time.Now()
	messages := make([]models.ChatMessage, 0, len(entries))
	for _, e := range entries {
		sender := models.SenderUser
		if e[:2] == "b:" {
			sender = models.SenderBot
		}
		messages = append(messages, models.NewChatMessage(e[2:], sender, now))
	}
	return messages
}

func TestBuildHistory(t *testing.T) {
	t.Run("Latest message is excluded and same sender turns merge", func(t *testing.T) {
		history, system := BuildHistory(chatLog("u:안녕", "u:뭐해", "b:나 밥 먹어", "b:너는?", "u:나도"), "SYS")

		assert.Equal(t, "SYS", system)
		assert.Equal(t, []Turn{
			{Role: RoleUser, Text: "안녕\n뭐해"},
			{Role: RoleModel, Text: "나 밥 먹어\n너는?"},
		}, history)
	})

	t.Run("Leading bot turn is folded into the system instruction", func(t *testing.T) {
		history, system := BuildHistory(chatLog("b:야야야 뭐해!!", "b:심심해", "u:나 일해", "b:헐", "u:응"), "SYS")

		assert.Contains(t, system, "[이전 대화 맥락]")
		assert.Contains(t, system, "당신이 먼저 \"야야야 뭐해!!\n심심해\"라고 말을 걸었습니다.")
		require.Len(t, history, 2)
		assert.Equal(t, RoleUser, history[0].Role)
		assert.Equal(t, RoleModel, history[1].Role)
	})

	t.Run("Only the last twenty messages before the latest are kept", func(t *testing.T) {
		var entries []string
		for i := 0; i < 30; i++ {
			if i%2 == 0 {
				entries = append(entries, fmt.Sprintf("u:%d", i))
			} else {
				entries = append(entries, fmt.Sprintf("b:%d", i))
			}
		}
		history, _ := BuildHistory(chatLog(entries...), "SYS")

		// messages 9..28 remain; 9 is a bot turn and is folded away
		require.Len(t, history, 19)
		assert.Equal(t, "10", history[0].Text)
		assert.Equal(t, "28", history[len(history)-1].Text)
	})

	t.Run("Single message has no history", func(t *testing.T) {
		history, system := BuildHistory(chatLog("u:안녕"), "SYS")
		assert.Empty(t, history)
		assert.Equal(t, "SYS", system)
	})
}

func TestPromptBuilder(t *testing.T) {
	pb := NewPromptBuilder(testCatalog(t))
	kt := KoreaTime{Year: 2024, Month: 10, Date: 3, Hour: 14, Minute: 7, Second: 0, DayOfWeek: "목요일"}
	cfg := models.ChatbotConfig{MBTI: models.ENFP, Gender: models.Male, Relationship: models.Colleague}

	t.Run("System instruction", func(t *testing.T) {
		system, err := pb.System(PromptInput{Config: cfg, Time: kt})
		require.NoError(t, err)

		assert.Contains(t, system, "당신은 ENFP 성격 유형을 가진 남성입니다.")
		assert.Contains(t, system, "- 현재 시각: 오후 02시 07분 (한국 표준시)")
		assert.Contains(t, system, "- 계절: 가을")
		assert.Contains(t, system, "- 시간대: 오후")
		assert.Contains(t, system, "* 현재 날짜: 2024년 10월 3일 목요일")
		assert.Contains(t, system, "사용자와의 관계: colleague")
		assert.Contains(t, system, "직장 동료처럼")
		assert.Contains(t, system, "# ENFP - 활동가")
		assert.NotContains(t, system, "[개발자 모드 활성화됨]")
		assert.NotContains(t, system, "[침묵 반응 모드")
		assert.NotContains(t, system, "{{")
	})

	t.Run("Developer and silence blocks", func(t *testing.T) {
		system, err := pb.System(PromptInput{
			Config:    cfg,
			Developer: true,
			Time:      kt,
			Silence:   &models.SilenceContext{AttemptNumber: 2, TotalAttempts: 3},
		})
		require.NoError(t, err)

		assert.Contains(t, system, "[개발자 모드 활성화됨]")
		assert.Contains(t, system, "- [개발자 모드] 실시간으로 느낀 점을 공유하세요:")
		assert.Contains(t, system, "[침묵 반응 모드 - 대화 맥락 기반]")
		assert.Contains(t, system, "2번째 침묵 반응을 해야 합니다. (총 3번 중)")
	})

	t.Run("Silence prompt", func(t *testing.T) {
		prompt := pb.SilencePrompt(cfg, &models.SilenceContext{
			AttemptNumber: 3,
			TotalAttempts: 3,
			ConversationHistory: []models.HistoryEntry{
				{Sender: models.SenderUser, Content: "첫번째"},
				{Sender: models.SenderUser, Content: "오늘 회의 길다"},
				{Sender: models.SenderBot, Content: "헐 힘내요"},
				{Sender: models.SenderUser, Content: "네ㅠ"},
				{Sender: models.SenderBot, Content: "커피 드실래요?"},
			},
			PreviousSilenceMessages: []string{"바쁘세요?", "회의 끝났어요?"},
		})

		assert.Contains(t, prompt, "ENFP 성격의 남성으로서, 사용자가 답장을 하지 않아서 3번째로 말을 걸어보는 상황입니다.")
		assert.NotContains(t, prompt, "첫번째")
		assert.Contains(t, prompt, "사용자: 오늘 회의 길다\n나: 헐 힘내요\n사용자: 네ㅠ\n나: 커피 드실래요?")
		assert.Contains(t, prompt, "- 3번째 시도: 마지막 시도하는 느낌")
		assert.Contains(t, prompt, "- \"바쁘세요?\"\n- \"회의 끝났어요?\"")
	})

	t.Run("Silence prompt defaults", func(t *testing.T) {
		prompt := pb.SilencePrompt(cfg, nil)
		assert.Contains(t, prompt, "1번째 시도: 가볍게 확인하는 느낌")
		assert.NotContains(t, prompt, "절대 중복하지 마세요")
	})
}
