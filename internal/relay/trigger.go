package relay

import "strings"

// TriggerToken prefixes a chat message that should be answered by the bot.
const TriggerToken = "@gpt"

// ParseTrigger reports whether text invokes the bot and returns the prompt.
// Matching is case-insensitive on the trimmed text. The prompt is the raw
// text with its first four characters removed, then trimmed, so "@gptx hi"
// yields "x hi" and "  @GPT hi " yields "PT hi".
func ParseTrigger(text string) (string, bool) {
	trimmed := strings.TrimSpace(text)
	if len(trimmed) < len(TriggerToken) || !strings.EqualFold(trimmed[:len(TriggerToken)], TriggerToken) {
		return "", false
	}
	runes := []rune(text)
	n := len([]rune(TriggerToken))
	if len(runes) < n {
		return "", true
	}
	return strings.TrimSpace(string(runes[n:])), true
}
