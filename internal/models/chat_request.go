package models

import "time"

// TimeInfo is the client's local (Korea) wall clock, broken down.
type TimeInfo struct {
	Year      int    `json:"year"`
	Month     int    `json:"month"`
	Date      int    `json:"date"`
	Hour      int    `json:"hour"`
	Minute    int    `json:"minute"`
	Second    int    `json:"second"`
	DayOfWeek string `json:"dayOfWeek"`
}

type SilenceContext struct {
	AttemptNumber           int            `json:"attemptNumber"`
	TotalAttempts           int            `json:"totalAttempts"`
	ConversationHistory     []HistoryEntry `json:"conversationHistory"`
	PreviousSilenceMessages []string       `json:"previousSilenceMessages"`
}

// ChatRequest is the inbound payload of POST /api/chat. The websocket engine
// builds the same structure in-process.
type ChatRequest struct {
	Messages          []ChatMessage   `json:"messages"`
	Config            *ChatbotConfig  `json:"config"`
	ClientTime        *time.Time      `json:"clientTime,omitempty"`
	KoreaTimeInfo     *TimeInfo       `json:"koreaTimeInfo,omitempty"`
	SessionID         string          `json:"sessionId,omitempty"`
	IsSilenceResponse bool            `json:"isSilenceResponse,omitempty"`
	SilenceContext    *SilenceContext `json:"silenceContext,omitempty"`
}

type CurrentTime struct {
	Hour       int    `json:"hour"`
	Minute     int    `json:"minute"`
	TimeString string `json:"timeString"`
	DayOfWeek  string `json:"dayOfWeek,omitempty"`
	Date       string `json:"date,omitempty"`
}

// ChatReply is what the core consumes: the raw text and its display segments.
type ChatReply struct {
	Text        string       `json:"text"`
	Segments    []string     `json:"segments"`
	SessionID   string       `json:"sessionId,omitempty"`
	IsDeveloper bool         `json:"isDeveloper,omitempty"`
	CurrentTime *CurrentTime `json:"currentTime,omitempty"`
}
