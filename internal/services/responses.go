package services

// In-character lines used when the model cannot produce a usable reply.
var (
	emptyReplySegments  = []string{"잠깐, 뭐라고 할지 생각 좀 해볼게", "다시 물어봐줄래?"}
	textErrorSegments   = []string{"어? 잠깐 뭔가 이상한데", "다시 한번 말해줄래?"}
	safetyErrorSegments = []string{"음... 다른 얘기를 해볼까?", "더 재미있는 주제가 많이 있어!"}
	rateLimitSegments   = []string{"잠깐, 너무 빨리 대화하고 있어", "조금만 쉬었다 하자!"}
	timeoutSegments     = []string{"어 잠깐 연결이 좀 느린데", "다시 한번 말해줄래?"}
)

func degradedSegments(kind ModelErrorKind) []string {
	switch kind {
	case ModelErrorSafety:
		return safetyErrorSegments
	case ModelErrorRateLimited:
		return rateLimitSegments
	case ModelErrorTimeout:
		return timeoutSegments
	default:
		return textErrorSegments
	}
}
