package llm

import "strings"

// BuildPromptWithContext combines a retrieval context block, optional
// extra instructions, and a structured input block (the #### key=value
// section) into a single user message.
func BuildPromptWithContext(ragContext, structuredInput, extraInstructions string) string {
	var b strings.Builder

	if ragContext != "" {
		b.WriteString("RAG CONTEXT:\n")
		b.WriteString(strings.TrimSpace(ragContext))
		b.WriteString("\n\n")
	}

	if extraInstructions != "" {
		b.WriteString("EXTRA INSTRUCTIONS:\n")
		b.WriteString(strings.TrimSpace(extraInstructions))
		b.WriteString("\n\n")
	}

	b.WriteString("INPUT:\n")
	b.WriteString(strings.TrimSpace(structuredInput))
	b.WriteString("\n")

	return b.String()
}

// InjectUserFeedback extends a structured input with reviewer feedback
// for modify flows, optionally with the content of a file the reviewer
// supplied as reference.
func InjectUserFeedback(originalInput, feedback, fileContent string) string {
	var b strings.Builder

	b.WriteString(strings.TrimSpace(originalInput))
	b.WriteString("\n\n# USER FEEDBACK:\n")
	b.WriteString(strings.TrimSpace(feedback))
	b.WriteString("\n")

	if fileContent != "" {
		b.WriteString("\n# USER FILE CONTENT (for reference):\n")
		b.WriteString(strings.TrimSpace(fileContent))
		b.WriteString("\n")
	}

	return b.String()
}
