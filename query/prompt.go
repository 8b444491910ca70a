package query

import (
	"strings"

	"github.com/poiesic/webrag/core"
)

const contextSeparator = "\n\n---\n\n"

const promptHeader = `You are a helpful AI assistant with access to a knowledge base of documents.
`

const promptInstructions = `Instructions:
1. **If the user is greeting you or making small talk** (hi, hello, how are you, thanks, etc.):
   - Respond naturally and warmly
   - Briefly mention you can help answer questions from the knowledge base
   - DO NOT reference the context documents unless relevant to their greeting

2. **If the user asks what you can do or who you are**:
   - Explain you're an AI assistant that can answer questions based on ingested documents
   - Mention you have access to a knowledge base
   - DO NOT force context into the response

3. **If the user asks a factual question**:
   - Use ONLY the information from the context above
   - Cite which sources you're using
   - If context doesn't have the answer, say so clearly
   - Be specific and accurate

4. **If the context is empty or irrelevant to the query**:
   - Politely explain you don't have relevant information
   - Suggest they could add more documents or rephrase

5. **If there is previous conversation**:
   - Use it to resolve follow-up questions and references like "it" or "that"
   - Never treat earlier answers as a source of facts

Be natural, conversational, and intelligent about when to use the context.

Response:`

// formatTranscript renders messages as "User: ..." / "Assistant: ..." lines.
func formatTranscript(messages []core.Message) string {
	lines := make([]string, 0, len(messages))
	for _, msg := range messages {
		switch msg.Role {
		case core.RoleUser:
			lines = append(lines, "User: "+msg.Content)
		case core.RoleAssistant:
			lines = append(lines, "Assistant: "+msg.Content)
		}
	}
	return strings.Join(lines, "\n")
}

// buildContext joins chunks, in ranking order, as "Source: <url>" blocks.
func buildContext(chunks []*core.Chunk) string {
	blocks := make([]string, len(chunks))
	for i, chunk := range chunks {
		blocks[i] = "Source: " + chunk.Metadata.URL + "\n" + chunk.Content
	}
	return strings.Join(blocks, contextSeparator)
}

// buildPrompt assembles the grounded prompt. The history section is omitted
// when there is no earlier conversation.
func buildPrompt(transcript, contextBlock, query string) string {
	var b strings.Builder
	b.WriteString(promptHeader)
	if transcript != "" {
		b.WriteString("\nPrevious Conversation:\n")
		b.WriteString(transcript)
		b.WriteString("\n")
	}
	b.WriteString("\nAvailable Context from Knowledge Base:\n")
	b.WriteString(contextBlock)
	b.WriteString("\n\nUser Query: ")
	b.WriteString(query)
	b.WriteString("\n\n")
	b.WriteString(promptInstructions)
	return b.String()
}

// preview truncates s to at most n runes.
func preview(s string, n int) string {
	if n <= 0 {
		return ""
	}
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}
