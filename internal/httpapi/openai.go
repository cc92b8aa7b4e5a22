// OpenAI-compatible request/response translation between the chat/embeddings
// wire schema and the upstream generateContent/embedContent payloads.
// Grounded on the teacher's handlers_openai.go (CompletionsRequest shape and
// the openai-error envelope, both kept close to the original) — the
// provider-agnostic multi-format response parsing there (OpenAI-shaped vs.
// Anthropic-shaped passthrough) has no analogue, since this gateway speaks
// to exactly one upstream schema.
package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// ChatMessage is one OpenAI-schema chat message.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatCompletionsRequest is the OpenAI-compatible request body for
// POST /v1/chat/completions.
type ChatCompletionsRequest struct {
	Model       string        `json:"model"`
	Messages    []ChatMessage `json:"messages"`
	Stream      bool          `json:"stream,omitempty"`
	Temperature *float64      `json:"temperature,omitempty"`
	MaxTokens   *int          `json:"max_tokens,omitempty"`
	TopP        *float64      `json:"top_p,omitempty"`
}

type chatCompletionsResponse struct {
	ID      string                 `json:"id"`
	Object  string                 `json:"object"`
	Created int64                  `json:"created"`
	Model   string                 `json:"model"`
	Choices []chatCompletionChoice `json:"choices"`
	Usage   *completionUsage       `json:"usage,omitempty"`
}

type chatCompletionChoice struct {
	Index        int         `json:"index"`
	Message      ChatMessage `json:"message"`
	FinishReason string      `json:"finish_reason"`
}

type completionUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type openaiErrorBody struct {
	Error openaiErrorDetail `json:"error"`
}

type openaiErrorDetail struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    any    `json:"code"`
}

func writeOpenAIError(w http.ResponseWriter, msg, errType string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(openaiErrorBody{
		Error: openaiErrorDetail{Message: msg, Type: errType, Code: nil},
	})
}

// geminiRole maps an OpenAI message role onto the role Gemini's contents
// array expects; "system" has no content-array role, it is pulled out into
// a separate systemInstruction field by buildGenerateContentBody.
func geminiRole(openaiRole string) string {
	if openaiRole == "assistant" {
		return "model"
	}
	return "user"
}

// buildGenerateContentBody translates an OpenAI chat-completions request
// into a Gemini generateContent request body.
func buildGenerateContentBody(req ChatCompletionsRequest) map[string]any {
	var contents []map[string]any
	var systemParts []string
	for _, m := range req.Messages {
		if m.Role == "system" {
			systemParts = append(systemParts, m.Content)
			continue
		}
		contents = append(contents, map[string]any{
			"role":  geminiRole(m.Role),
			"parts": []map[string]string{{"text": m.Content}},
		})
	}

	body := map[string]any{"contents": contents}

	genConfig := map[string]any{}
	if req.Temperature != nil {
		genConfig["temperature"] = *req.Temperature
	}
	if req.MaxTokens != nil {
		genConfig["maxOutputTokens"] = *req.MaxTokens
	}
	if req.TopP != nil {
		genConfig["topP"] = *req.TopP
	}
	if len(genConfig) > 0 {
		body["generationConfig"] = genConfig
	}

	if len(systemParts) > 0 {
		text := ""
		for i, p := range systemParts {
			if i > 0 {
				text += "\n"
			}
			text += p
		}
		body["systemInstruction"] = map[string]any{
			"parts": []map[string]string{{"text": text}},
		}
	}
	return body
}

type geminiGenerateContentResponse struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"content"`
		FinishReason string `json:"finishReason"`
	} `json:"candidates"`
	UsageMetadata struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
		TotalTokenCount      int `json:"totalTokenCount"`
	} `json:"usageMetadata"`
}

// buildChatCompletionsResponse translates a raw Gemini generateContent
// response into an OpenAI-compatible chat.completion response.
func buildChatCompletionsResponse(requestID, model string, raw []byte) (chatCompletionsResponse, error) {
	var parsed geminiGenerateContentResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return chatCompletionsResponse{}, fmt.Errorf("parse upstream response: %w", err)
	}

	text := ""
	finishReason := "stop"
	if len(parsed.Candidates) > 0 {
		c := parsed.Candidates[0]
		for _, p := range c.Content.Parts {
			text += p.Text
		}
		if c.FinishReason != "" {
			finishReason = mapFinishReason(c.FinishReason)
		}
	}

	return chatCompletionsResponse{
		ID:      fmt.Sprintf("chatcmpl-%s", requestID),
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   model,
		Choices: []chatCompletionChoice{
			{Index: 0, Message: ChatMessage{Role: "assistant", Content: text}, FinishReason: finishReason},
		},
		Usage: &completionUsage{
			PromptTokens:     parsed.UsageMetadata.PromptTokenCount,
			CompletionTokens: parsed.UsageMetadata.CandidatesTokenCount,
			TotalTokens:      parsed.UsageMetadata.TotalTokenCount,
		},
	}, nil
}

func mapFinishReason(geminiReason string) string {
	switch geminiReason {
	case "MAX_TOKENS":
		return "length"
	case "SAFETY", "RECITATION":
		return "content_filter"
	default:
		return "stop"
	}
}
