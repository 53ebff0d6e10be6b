package chatsync

// ContextWindow returns the most recent messages that fit both limits.
// The message limit is applied first, then the oldest turns are dropped until
// the estimated token total fits tokenLimit. A non-positive limit disables it.
// The input slice is never modified.
func ContextWindow(messages []ChatMessage, tokenLimit, messageLimit int) []ChatMessage {
	if len(messages) == 0 {
		return []ChatMessage{}
	}

	window := messages
	if messageLimit > 0 && len(window) > messageLimit {
		window = window[len(window)-messageLimit:]
	}

	if tokenLimit > 0 {
		total := TotalTokens(window)
		for total > tokenLimit && len(window) > 0 {
			total -= window[0].Tokens()
			window = window[1:]
		}
	}

	out := make([]ChatMessage, len(window))
	copy(out, window)
	return out
}

// TotalTokens sums the token estimate of messages.
func TotalTokens(messages []ChatMessage) int {
	total := 0
	for _, m := range messages {
		total += m.Tokens()
	}
	return total
}
