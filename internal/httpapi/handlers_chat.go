package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/ncarlsson/relaygate/internal/catalog"
	"github.com/ncarlsson/relaygate/internal/fallback"
	"github.com/ncarlsson/relaygate/internal/upstream"
)

// streamChunkRunes is the chunk size used to synthesize SSE deltas from a
// fully-completed chat response, per spec.md §6: the upstream itself is
// always called non-streaming, and streaming is a client-visible transport
// behavior synthesized from the finished text.
const streamChunkRunes = 24

// ChatCompletionsHandler implements the OpenAI-compatible
// POST /v1/chat/completions endpoint.
func ChatCompletionsHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		reqID := middleware.GetReqID(r.Context())

		var req ChatCompletionsRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeOpenAIError(w, "invalid JSON: "+err.Error(), "invalid_request_error", http.StatusBadRequest)
			return
		}
		if req.Model == "" {
			writeOpenAIError(w, "model is required", "invalid_request_error", http.StatusBadRequest)
			return
		}
		if len(req.Messages) == 0 {
			writeOpenAIError(w, "messages is required", "invalid_request_error", http.StatusBadRequest)
			return
		}
		if _, ok := catalog.Get(req.Model); !ok {
			writeOpenAIError(w, "unknown model: "+req.Model, "invalid_request_error", http.StatusBadRequest)
			return
		}

		estimatedTokens := 0
		for _, m := range req.Messages {
			estimatedTokens += upstream.EstimateTokens(m.Content)
		}

		body := buildGenerateContentBody(req)
		out, err := d.Executor.Execute(r.Context(), fallback.Request{
			Class:                catalog.ClassText,
			RequiredCapabilities: catalog.CapText,
			EstimatedTokens:      estimatedTokens,
			Model:                req.Model,
			Body:                 body,
		}, reqID)

		latencyMs := time.Since(start).Milliseconds()
		if err != nil {
			recordObservability(d, observeParams{
				Class:      string(catalog.ClassText),
				Model:      req.Model,
				LatencyMs:  latencyMs,
				Success:    false,
				ErrorClass: classifyFallbackError(err),
				RequestID:  reqID,
			})
			status := http.StatusBadGateway
			if err == fallback.ErrAllExhausted {
				status = http.StatusTooManyRequests
			}
			writeOpenAIError(w, err.Error(), "server_error", status)
			return
		}

		resp, err := buildChatCompletionsResponse(reqID, out.Model, out.ResponseBody)
		if err != nil {
			recordObservability(d, observeParams{
				Class: string(catalog.ClassText), Model: out.Model, LatencyMs: latencyMs,
				Success: false, ErrorClass: "decode_error", RequestID: reqID,
			})
			writeOpenAIError(w, err.Error(), "server_error", http.StatusBadGateway)
			return
		}

		recordObservability(d, observeParams{
			Class: string(catalog.ClassText), Model: out.Model, Handle: out.Handle,
			Attempts: out.Attempts, LatencyMs: latencyMs, Success: true, RequestID: reqID,
			PromptTokens: resp.Usage.PromptTokens, CompletionTokens: resp.Usage.CompletionTokens,
		})

		if req.Stream {
			writeChatCompletionsStream(w, resp)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}
}

// writeChatCompletionsStream synthesizes SSE chunks from an already-complete
// response, per spec.md §6 — the gateway never streams from the upstream
// itself.
func writeChatCompletionsStream(w http.ResponseWriter, resp chatCompletionsResponse) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher, _ := w.(http.Flusher)

	content := ""
	if len(resp.Choices) > 0 {
		content = resp.Choices[0].Message.Content
	}
	runes := []rune(content)

	writeChunk := func(delta string, finishReason *string) {
		chunk := map[string]any{
			"id":      resp.ID,
			"object":  "chat.completion.chunk",
			"created": resp.Created,
			"model":   resp.Model,
			"choices": []map[string]any{
				{
					"index": 0,
					"delta": map[string]string{"content": delta},
				},
			},
		}
		if finishReason != nil {
			chunk["choices"].([]map[string]any)[0]["finish_reason"] = *finishReason
		}
		raw, _ := json.Marshal(chunk)
		_, _ = fmt.Fprintf(w, "data: %s\n\n", raw)
		if flusher != nil {
			flusher.Flush()
		}
	}

	for i := 0; i < len(runes); i += streamChunkRunes {
		end := i + streamChunkRunes
		if end > len(runes) {
			end = len(runes)
		}
		writeChunk(string(runes[i:end]), nil)
	}
	finish := "stop"
	if len(resp.Choices) > 0 && resp.Choices[0].FinishReason != "" {
		finish = resp.Choices[0].FinishReason
	}
	writeChunk("", &finish)
	_, _ = fmt.Fprint(w, "data: [DONE]\n\n")
	if flusher != nil {
		flusher.Flush()
	}
}

// classifyFallbackError maps a fallback.Executor error onto the error_class
// recorded for observability.
func classifyFallbackError(err error) string {
	if err == fallback.ErrAllExhausted {
		return "all_exhausted"
	}
	return strings.ReplaceAll(err.Error(), " ", "_")
}
