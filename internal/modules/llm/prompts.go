package llm

const (
	summarySystemPrompt = "You are a precise summarization assistant. " +
		"Produce a concise summary of the user's text, preserving key facts, " +
		"names and figures. Respond with the summary only, no preamble."

	summaryUserPrefix = "Summarize the following text:\n\n"

	// summaryMaxOutputTokens caps the completion size for every provider.
	summaryMaxOutputTokens = 1024

	// callTimeout bounds one provider call end to end.
	callTimeoutSeconds = 60
)

func summaryPrompt(text string) string {
	return summaryUserPrefix + text
}
