package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/ncarlsson/relaygate/internal/catalog"
)

type modelListEntry struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	OwnedBy string `json:"owned_by"`
}

type modelListResponse struct {
	Object string           `json:"object"`
	Data   []modelListEntry `json:"data"`
}

// ModelsListHandler implements the OpenAI-compatible GET /v1/models
// endpoint, listing the static catalog.
func ModelsListHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		models := catalog.Load()
		data := make([]modelListEntry, 0, len(models))
		for _, m := range models {
			data = append(data, modelListEntry{ID: m.ID, Object: "model", OwnedBy: "google"})
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(modelListResponse{Object: "list", Data: data})
	}
}
