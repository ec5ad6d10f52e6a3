package llms

import (
	"fmt"
	"strings"

	"google.golang.org/genai"
)

// parseGeminiResponse - Text of the first candidate of an unstreamed response.
func parseGeminiResponse(resp *genai.GenerateContentResponse, err error) (string, error) {
	if err != nil {
		return "", err
	}
	if resp == nil || len(resp.Candidates) < 1 {
		return "", fmt.Errorf("no candidates found")
	}

	candidate := resp.Candidates[0]
	if candidate.Content == nil || len(candidate.Content.Parts) < 1 {
		return "", fmt.Errorf("no content found (finish reason %s)", candidate.FinishReason)
	}

	var sb strings.Builder
	for _, part := range candidate.Content.Parts {
		if part != nil && !part.Thought {
			sb.WriteString(part.Text)
		}
	}
	if sb.Len() == 0 {
		return "", ErrEmptyResponse
	}
	return sb.String(), nil
}

// streamedText - Text of one streamed chunk. Chunks without candidates (usage metadata) give "".
func streamedText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if part != nil && !part.Thought {
			sb.WriteString(part.Text)
		}
	}
	return sb.String()
}
