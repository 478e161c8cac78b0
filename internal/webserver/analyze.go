package webserver

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/emlsentry/emlsentry/internal/analyzer"
	"github.com/emlsentry/emlsentry/internal/eml"
)

// analyzePayload is the JSON body of POST /api/analyze: the raw message as
// a text field.
type analyzePayload struct {
	File string `json:"file"`
}

func readAnalyzePayload(r *http.Request) ([]byte, string) {
	var payload analyzePayload
	if err := decodeJSONBody(r, &payload); err != nil {
		return nil, "Invalid JSON payload: " + err.Error()
	}
	raw := []byte(payload.File)
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, "file must not be empty"
	}
	return raw, ""
}

func decodeJSONBody(r *http.Request, value interface{}) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(value)
}

// handleAnalyze handles POST /api/analyze.
func (ws *WebServer) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	raw, detail := readAnalyzePayload(r)
	if detail != "" {
		writeError(w, http.StatusUnprocessableEntity, detail)
		return
	}
	ws.analyze(w, r, raw)
}

// handleAnalyzeFile handles POST /api/analyze/file (multipart upload).
func (ws *WebServer) handleAnalyzeFile(w http.ResponseWriter, r *http.Request) {
	file, _, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "Missing file upload: "+err.Error())
		return
	}
	defer file.Close()

	raw, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "Failed to read file upload: "+err.Error())
		return
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		writeError(w, http.StatusUnprocessableEntity, "file must not be empty")
		return
	}
	ws.analyze(w, r, raw)
}

// analyze runs the full aggregation and hands the result to the caller.
// The cache write and the notification run detached afterwards.
func (ws *WebServer) analyze(w http.ResponseWriter, r *http.Request, raw []byte) {
	response, err := ws.Analyzer.Analyze(r.Context(), raw)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, response)
	go ws.finishAnalysis(response)
}

// finishAnalysis persists and reports the response after the caller has
// it. Nothing here may surface to the request path.
func (ws *WebServer) finishAnalysis(response *analyzer.Response) {
	defer func() {
		if rec := recover(); rec != nil {
			ws.Logger.WithField("panic", rec).Error("Post-analysis work panicked")
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if ws.Cache != nil {
		ws.Cache.Save(ctx, response.ID, response)
	}

	var malicious []string
	for _, verdict := range response.Verdicts {
		if verdict.Malicious {
			malicious = append(malicious, verdict.Name)
		}
	}
	if len(malicious) > 0 {
		ws.Notifier.NotifyMalicious(response.ID, response.Eml.Header.Subject, malicious)
	}
}

// handleAnalyzeBody handles POST /api/analyze/body: a pure extraction
// path, no provider runs.
func (ws *WebServer) handleAnalyzeBody(w http.ResponseWriter, r *http.Request) {
	raw, detail := readAnalyzePayload(r)
	if detail != "" {
		writeError(w, http.StatusUnprocessableEntity, detail)
		return
	}

	parsed, err := eml.Parse(raw)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"body": eml.PlainTextBody(parsed)})
}

// handleLookup handles GET /api/lookup/{id}.
func (ws *WebServer) handleLookup(w http.ResponseWriter, r *http.Request) {
	if ws.Cache == nil {
		writeError(w, http.StatusNotFound, "Cache is not configured")
		return
	}

	id := mux.Vars(r)["id"]
	data, err := ws.Cache.Lookup(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusNotFound, "Analysis result not found")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		ws.Logger.WithError(err).Error("Failed to write cached response")
	}
}

// handleCacheIDs handles GET /api/cache/.
func (ws *WebServer) handleCacheIDs(w http.ResponseWriter, r *http.Request) {
	if ws.Cache == nil {
		writeError(w, http.StatusNotFound, "Cache is not configured")
		return
	}

	ids, err := ws.Cache.IDs(r.Context())
	if err != nil {
		ws.Logger.WithError(err).Error("Failed to list cached ids")
		writeError(w, http.StatusInternalServerError, "Failed to list cached analyses")
		return
	}
	if ids == nil {
		ids = []string{}
	}
	writeJSON(w, http.StatusOK, ids)
}

// statusResponse reports which integrations are enabled.
type statusResponse struct {
	Cache        bool `json:"cache"`
	SpamAssassin bool `json:"spam_assassin"`
	VT           bool `json:"vt"`
	InQuest      bool `json:"inquest"`
	UrlScan      bool `json:"urlscan"`
	EmailRep     bool `json:"email_rep"`
	OpenAI       bool `json:"openai"`
}

// handleStatus handles GET /api/status.
func (ws *WebServer) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, statusResponse{
		Cache:        ws.Cache != nil,
		SpamAssassin: ws.Clients.SpamAssassin != nil,
		VT:           ws.Clients.VirusTotal != nil,
		InQuest:      ws.Clients.InQuest != nil,
		UrlScan:      ws.Clients.UrlScan != nil,
		EmailRep:     ws.Clients.EmailRep != nil,
		OpenAI:       ws.Clients.OpenAI != nil,
	})
}
