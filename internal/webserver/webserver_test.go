package webserver

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/sirupsen/logrus"

	"github.com/emlsentry/emlsentry/internal/analyzer"
	"github.com/emlsentry/emlsentry/internal/cache"
	"github.com/emlsentry/emlsentry/internal/clients"
)

const sampleMessage = "From: sender@example.com\r\n" +
	"To: victim@example.net\r\n" +
	"Subject: quarterly invoice\r\n" +
	"Content-Type: text/plain; charset=utf-8\r\n" +
	"\r\n" +
	"Please review the attached invoice.\r\n"

// memStore is an in-memory Store for handler tests.
type memStore struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newMemStore() *memStore {
	return &memStore{data: map[string][]byte{}}
}

func (m *memStore) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = append([]byte(nil), value...)
	return nil
}

func (m *memStore) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	value, ok := m.data[key]
	if !ok {
		return nil, cache.ErrNotFound
	}
	return value, nil
}

func (m *memStore) Keys(_ context.Context, prefix string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var keys []string
	for key := range m.data {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	return keys, nil
}

func (m *memStore) Close() error { return nil }

func newTestLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(&bytes.Buffer{})
	return logger
}

func newTestServer(set *clients.Set, responseCache *cache.Cache, config *WebserverConfig) *WebServer {
	logger := newTestLogger()
	if set == nil {
		set = &clients.Set{}
	}
	if config == nil {
		config = &WebserverConfig{ListenTo: ":0"}
	}
	return NewWebServer(analyzer.New(set, 0, logger), set, responseCache, nil, config, logger)
}

func doRequest(ws *WebServer, r *http.Request) *httptest.ResponseRecorder {
	recorder := httptest.NewRecorder()
	ws.InitRouter().ServeHTTP(recorder, r)
	return recorder
}

func postJSON(path string, payload interface{}) *http.Request {
	body, _ := json.Marshal(payload)
	r := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body))
	r.Header.Set("Content-Type", "application/json")
	return r
}

func decodeDetail(t *testing.T, recorder *httptest.ResponseRecorder) string {
	t.Helper()
	var payload struct {
		Detail string `json:"detail"`
	}
	if err := json.Unmarshal(recorder.Body.Bytes(), &payload); err != nil {
		t.Fatalf("error body is not JSON: %v: %s", err, recorder.Body.String())
	}
	return payload.Detail
}

func TestAnalyzeEndpoint(t *testing.T) {
	store := newMemStore()
	responseCache := cache.NewWithStore(store, "emlsentry", 0, newTestLogger())
	ws := newTestServer(nil, responseCache, nil)

	recorder := doRequest(ws, postJSON("/api/analyze", map[string]string{"file": sampleMessage}))
	if recorder.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", recorder.Code, recorder.Body.String())
	}

	var response analyzer.Response
	if err := json.Unmarshal(recorder.Body.Bytes(), &response); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(response.ID) != 64 {
		t.Errorf("id = %q, want a sha256 hex digest", response.ID)
	}
	if len(response.Verdicts) != 1 || response.Verdicts[0].Name != "oleid" {
		t.Errorf("unexpected verdicts: %+v", response.Verdicts)
	}

	// The cache write is detached from the request path.
	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, err := responseCache.Lookup(context.Background(), response.ID); err == nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("response never reached the cache")
		}
		time.Sleep(10 * time.Millisecond)
	}

	// The same input maps to the same id.
	again := doRequest(ws, postJSON("/api/analyze", map[string]string{"file": sampleMessage}))
	var second analyzer.Response
	if err := json.Unmarshal(again.Body.Bytes(), &second); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if second.ID != response.ID {
		t.Errorf("ids differ for identical input: %q vs %q", response.ID, second.ID)
	}
}

func TestAnalyzeRejectsBadInput(t *testing.T) {
	ws := newTestServer(nil, nil, nil)

	cases := []struct {
		name string
		req  *http.Request
	}{
		{"invalid json", httptest.NewRequest(http.MethodPost, "/api/analyze", strings.NewReader("{not json"))},
		{"empty file", postJSON("/api/analyze", map[string]string{"file": "   "})},
		{"not an email", postJSON("/api/analyze", map[string]string{"file": "just some text without headers"})},
	}
	for _, tc := range cases {
		recorder := doRequest(ws, tc.req)
		if recorder.Code != http.StatusUnprocessableEntity {
			t.Errorf("%s: status = %d, want 422", tc.name, recorder.Code)
		}
		if decodeDetail(t, recorder) == "" {
			t.Errorf("%s: error detail missing", tc.name)
		}
	}
}

func TestAnalyzeFileEndpoint(t *testing.T) {
	ws := newTestServer(nil, nil, nil)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", "message.eml")
	if err != nil {
		t.Fatal(err)
	}
	fw.Write([]byte(sampleMessage))
	mw.Close()

	r := httptest.NewRequest(http.MethodPost, "/api/analyze/file", &body)
	r.Header.Set("Content-Type", mw.FormDataContentType())

	recorder := doRequest(ws, r)
	if recorder.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", recorder.Code, recorder.Body.String())
	}
	var response analyzer.Response
	if err := json.Unmarshal(recorder.Body.Bytes(), &response); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if response.Eml.Header.Subject != "quarterly invoice" {
		t.Errorf("subject = %q", response.Eml.Header.Subject)
	}
}

func TestAnalyzeFileRequiresUpload(t *testing.T) {
	ws := newTestServer(nil, nil, nil)
	recorder := doRequest(ws, httptest.NewRequest(http.MethodPost, "/api/analyze/file", nil))
	if recorder.Code != http.StatusUnprocessableEntity {
		t.Errorf("status = %d, want 422", recorder.Code)
	}
}

func TestAnalyzeBodyEndpoint(t *testing.T) {
	ws := newTestServer(nil, nil, nil)

	recorder := doRequest(ws, postJSON("/api/analyze/body", map[string]string{"file": sampleMessage}))
	if recorder.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", recorder.Code, recorder.Body.String())
	}
	var payload map[string]string
	if err := json.Unmarshal(recorder.Body.Bytes(), &payload); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(payload["body"], "Please review the attached invoice.") {
		t.Errorf("body = %q", payload["body"])
	}
}

func submissionPayload(filename, extension string, data []byte) map[string]interface{} {
	return map[string]interface{}{
		"filename":  filename,
		"extension": extension,
		"raw":       base64.StdEncoding.EncodeToString(data),
	}
}

func TestSubmitInQuestExtensionGate(t *testing.T) {
	ws := newTestServer(nil, nil, nil)

	// The extension gate fires before the credential check.
	recorder := doRequest(ws, postJSON("/api/submit/inquest",
		submissionPayload("payload.exe", "exe", []byte("MZ"))))
	if recorder.Code != http.StatusUnsupportedMediaType {
		t.Errorf("status = %d, want 415", recorder.Code)
	}
	if detail := decodeDetail(t, recorder); !strings.Contains(detail, "exe is not supported") {
		t.Errorf("detail = %q", detail)
	}

	recorder = doRequest(ws, postJSON("/api/submit/inquest",
		submissionPayload("invoice.docx", "docx", []byte("PK"))))
	if recorder.Code != http.StatusForbidden {
		t.Errorf("status = %d, want 403 without an API key", recorder.Code)
	}
}

func TestSubmitInQuest(t *testing.T) {
	const sha = "feedfacefeedfacefeedfacefeedfacefeedfacefeedfacefeedfacefeedface"
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/dfi/upload" {
			t.Errorf("path = %q", r.URL.Path)
		}
		fmt.Fprintf(w, `{"data":%q}`, sha)
	}))
	defer server.Close()

	set := &clients.Set{InQuest: &clients.InQuest{APIKey: "iq-key", BaseURL: server.URL, Client: server.Client()}}
	ws := newTestServer(set, nil, nil)

	recorder := doRequest(ws, postJSON("/api/submit/inquest",
		submissionPayload("invoice.doc", "doc", []byte("payload"))))
	if recorder.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", recorder.Code, recorder.Body.String())
	}
	var result submissionResult
	if err := json.Unmarshal(recorder.Body.Bytes(), &result); err != nil {
		t.Fatal(err)
	}
	if result.ReferenceURL != server.URL+"/dfi/sha256/"+sha {
		t.Errorf("reference_url = %q", result.ReferenceURL)
	}
}

func TestSubmitVirusTotal(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":{"type":"analysis","id":"abc"}}`))
	}))
	defer server.Close()

	set := &clients.Set{VirusTotal: &clients.VirusTotal{APIKey: "vt-key", BaseURL: server.URL, Client: server.Client()}}
	ws := newTestServer(set, nil, nil)

	const sha = "feedfacefeedfacefeedfacefeedfacefeedfacefeedfacefeedfacefeedface"
	payload := submissionPayload("invoice.docm", "docm", []byte("PK"))
	payload["hash"] = map[string]string{"sha256": sha}

	recorder := doRequest(ws, postJSON("/api/submit/virustotal", payload))
	if recorder.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", recorder.Code, recorder.Body.String())
	}
	var result submissionResult
	if err := json.Unmarshal(recorder.Body.Bytes(), &result); err != nil {
		t.Fatal(err)
	}
	want := fmt.Sprintf("https://www.virustotal.com/gui/file/%s/detection", sha)
	if result.ReferenceURL != want {
		t.Errorf("reference_url = %q, want %q", result.ReferenceURL, want)
	}
}

func TestSubmitVirusTotalWithoutKey(t *testing.T) {
	ws := newTestServer(nil, nil, nil)
	recorder := doRequest(ws, postJSON("/api/submit/virustotal",
		submissionPayload("invoice.doc", "doc", []byte("x"))))
	if recorder.Code != http.StatusForbidden {
		t.Errorf("status = %d, want 403", recorder.Code)
	}
}

func TestSubmitVirusTotalPassesUpstreamStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota exceeded", http.StatusTooManyRequests)
	}))
	defer server.Close()

	set := &clients.Set{VirusTotal: &clients.VirusTotal{APIKey: "vt-key", BaseURL: server.URL, Client: server.Client()}}
	ws := newTestServer(set, nil, nil)

	recorder := doRequest(ws, postJSON("/api/submit/virustotal",
		submissionPayload("invoice.doc", "doc", []byte("x"))))
	if recorder.Code != http.StatusTooManyRequests {
		t.Errorf("status = %d, want the upstream 429", recorder.Code)
	}
	if detail := decodeDetail(t, recorder); !strings.Contains(detail, "VirusTotal") {
		t.Errorf("detail = %q", detail)
	}
}

func TestSubmitChatGPT(t *testing.T) {
	var gotPrompt string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Messages []struct {
				Content string `json:"content"`
			} `json:"messages"`
		}
		json.NewDecoder(r.Body).Decode(&req)
		if len(req.Messages) > 0 {
			gotPrompt = req.Messages[0].Content
		}
		w.Write([]byte(`{"choices":[{"message":{"content":"probably phishing"}}]}`))
	}))
	defer server.Close()

	set := &clients.Set{OpenAI: &clients.OpenAI{
		APIKey: "oa-key", BaseURL: server.URL,
		Model: clients.DefaultOpenAIModel, Client: server.Client(),
	}}
	ws := newTestServer(set, nil, nil)

	recorder := doRequest(ws, postJSON("/api/submit/chatgpt", map[string]interface{}{
		"header": map[string]interface{}{"subject": "invoice", "from": "a@b.c"},
		"body":   map[string]string{"content": "pay now"},
		"prompt": map[string]string{"prompt": "Is this phishing?"},
	}))
	if recorder.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", recorder.Code, recorder.Body.String())
	}
	var payload map[string]string
	if err := json.Unmarshal(recorder.Body.Bytes(), &payload); err != nil {
		t.Fatal(err)
	}
	if payload["response"] != "probably phishing" {
		t.Errorf("response = %q", payload["response"])
	}
	for _, want := range []string{"Is this phishing?", "invoice", "pay now"} {
		if !strings.Contains(gotPrompt, want) {
			t.Errorf("prompt missing %q: %s", want, gotPrompt)
		}
	}
}

func TestLookupWithoutCache(t *testing.T) {
	ws := newTestServer(nil, nil, nil)

	recorder := doRequest(ws, httptest.NewRequest(http.MethodGet, "/api/lookup/deadbeef", nil))
	if recorder.Code != http.StatusNotFound {
		t.Errorf("lookup status = %d, want 404", recorder.Code)
	}
	recorder = doRequest(ws, httptest.NewRequest(http.MethodGet, "/api/cache/", nil))
	if recorder.Code != http.StatusNotFound {
		t.Errorf("cache list status = %d, want 404", recorder.Code)
	}
}

func TestLookupAndCacheList(t *testing.T) {
	responseCache := cache.NewWithStore(newMemStore(), "emlsentry", 0, newTestLogger())
	ws := newTestServer(nil, responseCache, nil)

	stored := map[string]string{"id": "deadbeef"}
	responseCache.Save(context.Background(), "deadbeef", stored)

	recorder := doRequest(ws, httptest.NewRequest(http.MethodGet, "/api/lookup/deadbeef", nil))
	if recorder.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", recorder.Code, recorder.Body.String())
	}
	if recorder.Body.String() != `{"id":"deadbeef"}` {
		t.Errorf("body = %q", recorder.Body.String())
	}

	recorder = doRequest(ws, httptest.NewRequest(http.MethodGet, "/api/lookup/unknown", nil))
	if recorder.Code != http.StatusNotFound {
		t.Errorf("unknown id status = %d, want 404", recorder.Code)
	}

	recorder = doRequest(ws, httptest.NewRequest(http.MethodGet, "/api/cache/", nil))
	if recorder.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", recorder.Code, recorder.Body.String())
	}
	var ids []string
	if err := json.Unmarshal(recorder.Body.Bytes(), &ids); err != nil {
		t.Fatal(err)
	}
	if len(ids) != 1 || ids[0] != "deadbeef" {
		t.Errorf("ids = %v", ids)
	}
}

func TestStatusEndpoint(t *testing.T) {
	responseCache := cache.NewWithStore(newMemStore(), "emlsentry", 0, newTestLogger())
	set := &clients.Set{VirusTotal: &clients.VirusTotal{APIKey: "vt-key"}}
	ws := newTestServer(set, responseCache, nil)

	recorder := doRequest(ws, httptest.NewRequest(http.MethodGet, "/api/status", nil))
	if recorder.Code != http.StatusOK {
		t.Fatalf("status = %d", recorder.Code)
	}
	var payload map[string]bool
	if err := json.Unmarshal(recorder.Body.Bytes(), &payload); err != nil {
		t.Fatal(err)
	}
	if !payload["cache"] || !payload["vt"] {
		t.Errorf("enabled integrations not reported: %v", payload)
	}
	for _, name := range []string{"spam_assassin", "inquest", "urlscan", "email_rep", "openai"} {
		if payload[name] {
			t.Errorf("%s reported enabled without a client", name)
		}
	}
}

func TestAuthMiddleware(t *testing.T) {
	secret := []byte("test-secret")
	ws := newTestServer(nil, nil, &WebserverConfig{ListenTo: ":0", JWTSecret: secret})

	recorder := doRequest(ws, httptest.NewRequest(http.MethodGet, "/api/status", nil))
	if recorder.Code != http.StatusUnauthorized {
		t.Errorf("no token: status = %d, want 401", recorder.Code)
	}

	r := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	r.Header.Set("Authorization", "Bearer not.a.token")
	if recorder = doRequest(ws, r); recorder.Code != http.StatusUnauthorized {
		t.Errorf("garbage token: status = %d, want 401", recorder.Code)
	}

	wrongKey, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"exp": time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte("other-secret"))
	if err != nil {
		t.Fatal(err)
	}
	r = httptest.NewRequest(http.MethodGet, "/api/status", nil)
	r.Header.Set("Authorization", "Bearer "+wrongKey)
	if recorder = doRequest(ws, r); recorder.Code != http.StatusUnauthorized {
		t.Errorf("wrong key: status = %d, want 401", recorder.Code)
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"exp": time.Now().Add(time.Hour).Unix(),
	}).SignedString(secret)
	if err != nil {
		t.Fatal(err)
	}
	r = httptest.NewRequest(http.MethodGet, "/api/status", nil)
	r.Header.Set("Authorization", "Bearer "+token)
	if recorder = doRequest(ws, r); recorder.Code != http.StatusOK {
		t.Errorf("valid token: status = %d, want 200: %s", recorder.Code, recorder.Body.String())
	}
}

