package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/ncarlsson/relaygate/internal/catalog"
	"github.com/ncarlsson/relaygate/internal/fallback"
	"github.com/ncarlsson/relaygate/internal/upstream"
)

// embeddingsRequest is the OpenAI-compatible request body for
// POST /v1/embeddings.
type embeddingsRequest struct {
	Model string `json:"model"`
	Input any    `json:"input"` // string or []string
}

// geminiEmbedContentResponse is the body of a single-input embedContent call.
type geminiEmbedContentResponse struct {
	Embedding struct {
		Values []float64 `json:"values"`
	} `json:"embedding"`
}

// geminiBatchEmbedContentsResponse is the body of a multi-input
// batchEmbedContents call — one entry per request, in request order.
type geminiBatchEmbedContentsResponse struct {
	Embeddings []struct {
		Values []float64 `json:"values"`
	} `json:"embeddings"`
}

type embeddingsResponse struct {
	Object string           `json:"object"`
	Data   []embeddingDatum `json:"data"`
	Model  string           `json:"model"`
	Usage  completionUsage  `json:"usage"`
}

type embeddingDatum struct {
	Object    string    `json:"object"`
	Index     int       `json:"index"`
	Embedding []float64 `json:"embedding"`
}

// EmbeddingsHandler implements the OpenAI-compatible POST /v1/embeddings
// endpoint. A single input is sent through Gemini's embedContent; multiple
// inputs are sent as one batchEmbedContents call, grounded on original_source
// gemini_client.embed_content's single-vs-batch dispatch.
func EmbeddingsHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		reqID := middleware.GetReqID(r.Context())

		var req embeddingsRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeOpenAIError(w, "invalid JSON: "+err.Error(), "invalid_request_error", http.StatusBadRequest)
			return
		}
		if req.Model == "" {
			writeOpenAIError(w, "model is required", "invalid_request_error", http.StatusBadRequest)
			return
		}
		model, ok := catalog.Get(req.Model)
		if !ok || model.Class != catalog.ClassEmbedding {
			writeOpenAIError(w, "unknown embedding model: "+req.Model, "invalid_request_error", http.StatusBadRequest)
			return
		}

		texts := embeddingInputTexts(req.Input)
		if len(texts) == 0 {
			writeOpenAIError(w, "input is required", "invalid_request_error", http.StatusBadRequest)
			return
		}

		estimatedTokens := 0
		for _, t := range texts {
			estimatedTokens += upstream.EstimateTokens(t)
		}

		body, batch := buildEmbedContentBody(req.Model, texts)
		out, err := d.Executor.Execute(r.Context(), fallback.Request{
			Class:                catalog.ClassEmbedding,
			RequiredCapabilities: catalog.CapEmbedding,
			EstimatedTokens:      estimatedTokens,
			Model:                req.Model,
			Body:                 body,
			Batch:                batch,
		}, reqID)

		latencyMs := time.Since(start).Milliseconds()
		if err != nil {
			recordObservability(d, observeParams{
				Class: string(catalog.ClassEmbedding), Model: req.Model, LatencyMs: latencyMs,
				Success: false, ErrorClass: classifyFallbackError(err), RequestID: reqID,
			})
			status := http.StatusBadGateway
			if err == fallback.ErrAllExhausted {
				status = http.StatusTooManyRequests
			}
			writeOpenAIError(w, err.Error(), "server_error", status)
			return
		}

		data, err := parseEmbeddingsResponse(out.ResponseBody, batch)
		if err != nil {
			recordObservability(d, observeParams{
				Class: string(catalog.ClassEmbedding), Model: out.Model, LatencyMs: latencyMs,
				Success: false, ErrorClass: "decode_error", RequestID: reqID,
			})
			writeOpenAIError(w, "decode upstream response: "+err.Error(), "server_error", http.StatusBadGateway)
			return
		}

		recordObservability(d, observeParams{
			Class: string(catalog.ClassEmbedding), Model: out.Model, Handle: out.Handle,
			Attempts: out.Attempts, LatencyMs: latencyMs, Success: true, RequestID: reqID,
			PromptTokens: estimatedTokens,
		})

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(embeddingsResponse{
			Object: "list",
			Data:   data,
			Model:  out.Model,
			Usage:  completionUsage{PromptTokens: estimatedTokens, TotalTokens: estimatedTokens},
		})
	}
}

// embeddingInputTexts normalizes the OpenAI input field (a single string or
// an array of strings) into a text list.
func embeddingInputTexts(input any) []string {
	switch v := input.(type) {
	case string:
		if v == "" {
			return nil
		}
		return []string{v}
	case []any:
		texts := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok && s != "" {
				texts = append(texts, s)
			}
		}
		return texts
	default:
		return nil
	}
}

// buildEmbedContentBody builds the Gemini request body for texts, returning
// batch=true when batchEmbedContents must be used (more than one input).
func buildEmbedContentBody(model string, texts []string) (body map[string]any, batch bool) {
	if len(texts) == 1 {
		return map[string]any{
			"content": map[string]any{
				"parts": []map[string]string{{"text": texts[0]}},
			},
		}, false
	}

	requests := make([]map[string]any, 0, len(texts))
	for _, t := range texts {
		requests = append(requests, map[string]any{
			"model":   "models/" + model,
			"content": map[string]any{"parts": []map[string]string{{"text": t}}},
		})
	}
	return map[string]any{"requests": requests}, true
}

// parseEmbeddingsResponse decodes a Gemini embedContent/batchEmbedContents
// response into OpenAI-shaped, index-ordered embeddingDatum entries,
// grounded on original_source embed.py's enumerate(result["embeddings"]).
func parseEmbeddingsResponse(respBody []byte, batch bool) ([]embeddingDatum, error) {
	if !batch {
		var parsed geminiEmbedContentResponse
		if err := json.Unmarshal(respBody, &parsed); err != nil {
			return nil, err
		}
		return []embeddingDatum{
			{Object: "embedding", Index: 0, Embedding: parsed.Embedding.Values},
		}, nil
	}

	var parsed geminiBatchEmbedContentsResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, err
	}
	data := make([]embeddingDatum, 0, len(parsed.Embeddings))
	for i, emb := range parsed.Embeddings {
		data = append(data, embeddingDatum{Object: "embedding", Index: i, Embedding: emb.Values})
	}
	return data, nil
}
