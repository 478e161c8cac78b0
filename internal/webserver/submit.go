package webserver

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/emlsentry/emlsentry/internal/clients"
	"github.com/emlsentry/emlsentry/internal/eml"
)

// submissionResult acknowledges a direct provider submission.
type submissionResult struct {
	ReferenceURL string `json:"reference_url"`
}

var inquestAllowedExtensions = map[string]struct{}{
	"doc": {}, "docx": {}, "ppt": {}, "pptx": {}, "xls": {}, "xlsx": {},
}

// handleSubmitInQuest handles POST /api/submit/inquest.
func (ws *WebServer) handleSubmitInQuest(w http.ResponseWriter, r *http.Request) {
	var attachment eml.Attachment
	if err := decodeJSONBody(r, &attachment); err != nil {
		writeError(w, http.StatusUnprocessableEntity, "Invalid JSON payload: "+err.Error())
		return
	}

	if _, ok := inquestAllowedExtensions[attachment.Extension]; !ok {
		writeError(w, http.StatusUnsupportedMediaType,
			fmt.Sprintf("%s is not supported.", attachment.Extension))
		return
	}

	if ws.Clients.InQuest == nil {
		writeError(w, http.StatusForbidden, "You don't have the InQuest API key")
		return
	}

	data, err := attachment.Bytes()
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	referenceURL, err := ws.Clients.InQuest.Upload(r.Context(), attachment.FileName, data)
	if err != nil {
		ws.upstreamError(w, "InQuest", err)
		return
	}
	writeJSON(w, http.StatusOK, submissionResult{ReferenceURL: referenceURL})
}

// handleSubmitVirusTotal handles POST /api/submit/virustotal.
func (ws *WebServer) handleSubmitVirusTotal(w http.ResponseWriter, r *http.Request) {
	var attachment eml.Attachment
	if err := decodeJSONBody(r, &attachment); err != nil {
		writeError(w, http.StatusUnprocessableEntity, "Invalid JSON payload: "+err.Error())
		return
	}

	if ws.Clients.VirusTotal == nil {
		writeError(w, http.StatusForbidden, "You don't have the VirusTotal API key")
		return
	}

	data, err := attachment.Bytes()
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	if err := ws.Clients.VirusTotal.ScanFile(r.Context(), attachment.FileName, data); err != nil {
		ws.upstreamError(w, "VirusTotal", err)
		return
	}
	writeJSON(w, http.StatusOK, submissionResult{
		ReferenceURL: fmt.Sprintf("https://www.virustotal.com/gui/file/%s/detection", attachment.Hash.SHA256),
	})
}

// chatRequest is the body of POST /api/submit/chatgpt.
type chatRequest struct {
	Header eml.Header `json:"header"`
	Body   eml.Body   `json:"body"`
	Prompt struct {
		Prompt string `json:"prompt"`
		Model  string `json:"model"`
	} `json:"prompt"`
}

// handleSubmitChatGPT handles POST /api/submit/chatgpt.
func (ws *WebServer) handleSubmitChatGPT(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := decodeJSONBody(r, &req); err != nil {
		writeError(w, http.StatusUnprocessableEntity, "Invalid JSON payload: "+err.Error())
		return
	}

	if ws.Clients.OpenAI == nil {
		writeError(w, http.StatusForbidden, "You don't have the OpenAI API key")
		return
	}

	fullPrompt := fmt.Sprintf("%s\nHeader: %s\nBody: %s", req.Prompt.Prompt, req.Header, req.Body.Content)
	reply, err := ws.Clients.OpenAI.SendPrompt(r.Context(), fullPrompt, req.Prompt.Model)
	if err != nil {
		ws.upstreamError(w, "OpenAI", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"response": reply})
}

// upstreamError surfaces a backend failure to the caller. A structured
// upstream status passes through verbatim; anything else maps to 502.
func (ws *WebServer) upstreamError(w http.ResponseWriter, name string, err error) {
	ws.Logger.WithError(err).WithField("provider", name).Error("Submission failed")

	var apiErr *clients.APIError
	if errors.As(err, &apiErr) {
		writeError(w, apiErr.StatusCode,
			fmt.Sprintf("Something went wrong with %s submission: %s", name, apiErr.Message))
		return
	}
	writeError(w, http.StatusBadGateway,
		fmt.Sprintf("Something went wrong with %s submission: %s", name, err))
}
