package prompt

import "strings"

// defaultVideoPrompt keeps the answer short; latency matters more than depth here.
const defaultVideoPrompt = "Analyze this video quickly.\n" +
	"1. VISUALS: Brief description of setting and action.\n" +
	"2. AUDIO: Mood of music or sound.\n" +
	"3. SUMMARY: 1-sentence summary."

// GetVideoPrompt returns override when it is set, otherwise the default prompt.
func GetVideoPrompt(override string) string {
	if strings.TrimSpace(override) != "" {
		return override
	}
	return defaultVideoPrompt
}
