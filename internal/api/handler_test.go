package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lalithlochan/cirrus/internal/category"
	"github.com/lalithlochan/cirrus/internal/decision"
	"github.com/lalithlochan/cirrus/internal/digest"
	"github.com/lalithlochan/cirrus/internal/prefs"
	"github.com/lalithlochan/cirrus/internal/unsubscribe"
)

// newTestHandler wires the handler over real in-memory implementations.
func newTestHandler(t *testing.T) (*Handler, *prefs.MemoryStore, *digest.MemoryQueue) {
	t.Helper()

	logger := zap.NewNop()
	reg := category.NewRegistry()
	store := prefs.NewMemoryStore(reg, logger)
	queue := digest.NewMemoryQueue()
	engine := decision.New(store, logger)
	resolver := unsubscribe.NewResolver(store, reg, logger)

	return NewHandler(logger, reg, store, engine, resolver, queue), store, queue
}

func newTestRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()
	r.Route("/v1", func(r chi.Router) {
		r.Get("/categories", h.ListCategories)
		r.Get("/categories/grouped", h.ListCategoriesGrouped)

		r.Route("/users/{userID}", func(r chi.Router) {
			r.Get("/preferences", h.GetPreferences)
			r.Patch("/preferences", h.UpdateGlobal)
			r.Patch("/preferences/categories/{categoryID}", h.UpdateCategory)
			r.Patch("/preferences/quiet-hours", h.UpdateQuietHours)
			r.Patch("/preferences/digest", h.UpdateDigest)
			r.Get("/digest", h.GetDigest)
			r.Delete("/digest", h.ClearDigest)
		})

		r.Post("/decisions", h.Decide)
		r.Post("/decisions/channels", h.DecideChannels)
		r.Post("/digest/items", h.EnqueueDigestItem)
		r.Post("/unsubscribe", h.Unsubscribe)
	})
	return r
}

func doJSON(t *testing.T, router *chi.Mux, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if str, ok := body.(string); ok {
			buf.WriteString(str)
		} else if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("failed to marshal request: %v", err)
		}
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestListCategories(t *testing.T) {
	h, _, _ := newTestHandler(t)
	router := newTestRouter(h)

	rec := doJSON(t, router, http.MethodGet, "/v1/categories", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var resp struct {
		Data  []category.Category `json:"data"`
		Count int                 `json:"count"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Count != 12 || len(resp.Data) != 12 {
		t.Errorf("count = %d, data = %d, want 12", resp.Count, len(resp.Data))
	}
}

func TestListCategoriesGrouped(t *testing.T) {
	h, _, _ := newTestHandler(t)
	router := newTestRouter(h)

	rec := doJSON(t, router, http.MethodGet, "/v1/categories/grouped", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var resp struct {
		Groups map[string][]category.Category `json:"groups"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(resp.Groups[category.GroupSocial]) != 5 {
		t.Errorf("social group has %d categories, want 5", len(resp.Groups[category.GroupSocial]))
	}
}

func TestGetPreferencesCreatesDefaults(t *testing.T) {
	h, _, _ := newTestHandler(t)
	router := newTestRouter(h)

	rec := doJSON(t, router, http.MethodGet, "/v1/users/user-1/preferences", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var resp map[string]interface{}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}

	cats, ok := resp["categories"].(map[string]interface{})
	if !ok || len(cats) != 12 {
		t.Errorf("categories in response = %d, want 12", len(cats))
	}
	// The unsubscribe token must never leak through the API.
	if _, ok := resp["unsubscribe_token"]; ok {
		t.Error("response exposes unsubscribe_token")
	}
}

func TestUpdateGlobal(t *testing.T) {
	h, store, _ := newTestHandler(t)
	router := newTestRouter(h)

	rec := doJSON(t, router, http.MethodPatch, "/v1/users/user-1/preferences", map[string]interface{}{
		"enabled": false,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}

	p, err := store.Get(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if p.Enabled {
		t.Error("global enabled flag not persisted")
	}

	rec = doJSON(t, router, http.MethodPatch, "/v1/users/user-1/preferences", "not valid json")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("malformed body status = %d, want 400", rec.Code)
	}
}

func TestUpdateCategory(t *testing.T) {
	tests := []struct {
		name           string
		categoryID     string
		body           interface{}
		expectedStatus int
	}{
		{
			name:           "disable optional category",
			categoryID:     "promotions",
			body:           map[string]interface{}{"enabled": false},
			expectedStatus: http.StatusOK,
		},
		{
			name:           "unknown category",
			categoryID:     "nonsense",
			body:           map[string]interface{}{"enabled": false},
			expectedStatus: http.StatusNotFound,
		},
		{
			name:           "mandatory category cannot be disabled",
			categoryID:     "security_alerts",
			body:           map[string]interface{}{"enabled": false},
			expectedStatus: http.StatusConflict,
		},
		{
			name:           "mandatory category channels can change",
			categoryID:     "security_alerts",
			body:           map[string]interface{}{"channels": map[string]bool{"email": true, "push": true, "sms": false, "in_app": true}},
			expectedStatus: http.StatusOK,
		},
		{
			name:           "invalid frequency",
			categoryID:     "mentions",
			body:           map[string]interface{}{"frequency": "sometimes"},
			expectedStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, _, _ := newTestHandler(t)
			router := newTestRouter(h)

			rec := doJSON(t, router, http.MethodPatch, "/v1/users/user-1/preferences/categories/"+tt.categoryID, tt.body)
			if rec.Code != tt.expectedStatus {
				t.Errorf("status = %d, want %d: %s", rec.Code, tt.expectedStatus, rec.Body.String())
			}
		})
	}
}

func TestUpdateQuietHours(t *testing.T) {
	tests := []struct {
		name           string
		body           interface{}
		expectedStatus int
	}{
		{
			name: "valid schedule",
			body: map[string]interface{}{
				"enabled":  true,
				"timezone": "Europe/Berlin",
				"days": []map[string]interface{}{
					{"day": 1, "ranges": []map[string]string{{"start": "21:00", "end": "07:00"}}},
				},
			},
			expectedStatus: http.StatusOK,
		},
		{
			name:           "unknown timezone",
			body:           map[string]interface{}{"timezone": "Mars/Olympus"},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name: "day out of range",
			body: map[string]interface{}{
				"days": []map[string]interface{}{{"day": 9, "ranges": []map[string]string{}}},
			},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name: "malformed time string",
			body: map[string]interface{}{
				"days": []map[string]interface{}{
					{"day": 1, "ranges": []map[string]string{{"start": "9pm", "end": "07:00"}}},
				},
			},
			expectedStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, _, _ := newTestHandler(t)
			router := newTestRouter(h)

			rec := doJSON(t, router, http.MethodPatch, "/v1/users/user-1/preferences/quiet-hours", tt.body)
			if rec.Code != tt.expectedStatus {
				t.Errorf("status = %d, want %d: %s", rec.Code, tt.expectedStatus, rec.Body.String())
			}
		})
	}
}

func TestUpdateDigest(t *testing.T) {
	h, store, _ := newTestHandler(t)
	router := newTestRouter(h)

	rec := doJSON(t, router, http.MethodPatch, "/v1/users/user-1/preferences/digest", map[string]interface{}{
		"enabled":     true,
		"frequency":   "weekly",
		"day_of_week": 5,
		"time_of_day": "09:30",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}

	p, _ := store.Get(context.Background(), "user-1")
	if !p.Digest.Enabled || p.Digest.Frequency != prefs.FrequencyWeekly {
		t.Errorf("digest settings not persisted: %+v", p.Digest)
	}

	rec = doJSON(t, router, http.MethodPatch, "/v1/users/user-1/preferences/digest", map[string]interface{}{
		"frequency": "instant",
	})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("instant digest frequency status = %d, want 400", rec.Code)
	}
}

func TestDecide(t *testing.T) {
	tests := []struct {
		name           string
		body           interface{}
		expectedStatus int
		wantDecision   string
		wantReason     string
	}{
		{
			name: "unseen user gets defaults",
			body: DecisionRequest{
				UserID:     "fresh-user",
				CategoryID: "mentions",
				Channel:    "push",
			},
			expectedStatus: http.StatusOK,
			wantDecision:   "deliver",
			wantReason:     "no preferences, using defaults",
		},
		{
			name: "missing fields",
			body: DecisionRequest{
				UserID: "user-1",
			},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name: "invalid channel",
			body: DecisionRequest{
				UserID:     "user-1",
				CategoryID: "mentions",
				Channel:    "carrier_pigeon",
			},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name: "unknown category",
			body: DecisionRequest{
				UserID:     "user-1",
				CategoryID: "nonsense",
				Channel:    "push",
			},
			expectedStatus: http.StatusNotFound,
		},
		{
			name:           "invalid JSON body",
			body:           "not valid json",
			expectedStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, _, _ := newTestHandler(t)
			router := newTestRouter(h)

			rec := doJSON(t, router, http.MethodPost, "/v1/decisions", tt.body)
			if rec.Code != tt.expectedStatus {
				t.Fatalf("status = %d, want %d: %s", rec.Code, tt.expectedStatus, rec.Body.String())
			}
			if tt.wantDecision == "" {
				return
			}

			var res decision.Result
			if err := json.NewDecoder(rec.Body).Decode(&res); err != nil {
				t.Fatalf("failed to decode response: %v", err)
			}
			if string(res.Decision) != tt.wantDecision {
				t.Errorf("decision = %s, want %s", res.Decision, tt.wantDecision)
			}
			if res.Reason != tt.wantReason {
				t.Errorf("reason = %q, want %q", res.Reason, tt.wantReason)
			}
		})
	}
}

func TestDecideSuppressesDisabledUser(t *testing.T) {
	h, store, _ := newTestHandler(t)
	router := newTestRouter(h)

	disabled := false
	if _, err := store.UpdateGlobal(context.Background(), "user-1", prefs.GlobalUpdate{Enabled: &disabled}); err != nil {
		t.Fatalf("UpdateGlobal() error = %v", err)
	}

	rec := doJSON(t, router, http.MethodPost, "/v1/decisions", DecisionRequest{
		UserID:     "user-1",
		CategoryID: "mentions",
		Channel:    "push",
		Urgent:     true,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var res decision.Result
	if err := json.NewDecoder(rec.Body).Decode(&res); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if res.Decision != decision.Suppress || res.Reason != "globally disabled" {
		t.Errorf("got %s/%q, want suppress/globally disabled", res.Decision, res.Reason)
	}
}

func TestDecideChannels(t *testing.T) {
	h, store, _ := newTestHandler(t)
	router := newTestRouter(h)

	if _, err := store.GetOrCreate(context.Background(), "user-1"); err != nil {
		t.Fatalf("GetOrCreate() error = %v", err)
	}

	rec := doJSON(t, router, http.MethodPost, "/v1/decisions/channels", ChannelDecisionRequest{
		UserID:     "user-1",
		CategoryID: "mentions",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		Channels map[string]decision.Result `json:"channels"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}

	// Mentions route to push and in_app by default; email and sms are off.
	if resp.Channels["push"].Decision != decision.Deliver {
		t.Errorf("push = %s, want deliver", resp.Channels["push"].Decision)
	}
	if resp.Channels["in_app"].Decision != decision.Deliver {
		t.Errorf("in_app = %s, want deliver", resp.Channels["in_app"].Decision)
	}
	if resp.Channels["email"].Decision != decision.Suppress {
		t.Errorf("email = %s, want suppress", resp.Channels["email"].Decision)
	}
	if resp.Channels["sms"].Decision != decision.Suppress {
		t.Errorf("sms = %s, want suppress", resp.Channels["sms"].Decision)
	}
}

func TestDigestItemLifecycle(t *testing.T) {
	h, _, _ := newTestHandler(t)
	router := newTestRouter(h)

	rec := doJSON(t, router, http.MethodPost, "/v1/digest/items", DigestItemRequest{
		UserID:     "user-1",
		CategoryID: "promotions",
		Title:      "Spring sale",
		Body:       "Everything must go",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("enqueue status = %d, want 201: %s", rec.Code, rec.Body.String())
	}

	var created map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&created); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if _, err := uuid.Parse(created["id"]); err != nil {
		t.Errorf("expected valid UUID, got: %s", created["id"])
	}

	rec = doJSON(t, router, http.MethodGet, "/v1/users/user-1/digest", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get digest status = %d, want 200", rec.Code)
	}
	var listed struct {
		Items map[string][]*digest.Item `json:"items"`
		Total int                       `json:"total"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&listed); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if listed.Total != 1 || len(listed.Items["promotions"]) != 1 {
		t.Errorf("digest contents = %+v, want 1 promotions item", listed)
	}

	rec = doJSON(t, router, http.MethodDelete, "/v1/users/user-1/digest", nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("clear status = %d, want 204", rec.Code)
	}

	rec = doJSON(t, router, http.MethodGet, "/v1/users/user-1/digest", nil)
	if err := json.NewDecoder(rec.Body).Decode(&listed); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if listed.Total != 0 {
		t.Errorf("digest not empty after clear: total = %d", listed.Total)
	}
}

func TestEnqueueDigestItemValidation(t *testing.T) {
	tests := []struct {
		name           string
		body           interface{}
		expectedStatus int
	}{
		{
			name: "missing title",
			body: DigestItemRequest{
				UserID:     "user-1",
				CategoryID: "promotions",
			},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name: "unknown category",
			body: DigestItemRequest{
				UserID:     "user-1",
				CategoryID: "nonsense",
				Title:      "Hello",
			},
			expectedStatus: http.StatusNotFound,
		},
		{
			name:           "malformed data payload",
			body:           `{"user_id":"user-1","category_id":"promotions","title":"Hello","data":{bad}}`,
			expectedStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, _, _ := newTestHandler(t)
			router := newTestRouter(h)

			rec := doJSON(t, router, http.MethodPost, "/v1/digest/items", tt.body)
			if rec.Code != tt.expectedStatus {
				t.Errorf("status = %d, want %d: %s", rec.Code, tt.expectedStatus, rec.Body.String())
			}
		})
	}
}

func TestUnsubscribe(t *testing.T) {
	h, store, _ := newTestHandler(t)
	router := newTestRouter(h)

	p, err := store.GetOrCreate(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("GetOrCreate() error = %v", err)
	}

	rec := doJSON(t, router, http.MethodPost, "/v1/unsubscribe", UnsubscribeRequest{
		Token:      p.UnsubscribeToken,
		CategoryID: "promotions",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}

	after, _ := store.Get(context.Background(), "user-1")
	if after.Categories["promotions"].Enabled {
		t.Error("promotions still enabled after unsubscribe")
	}
}

func TestUnsubscribeAllOptional(t *testing.T) {
	h, store, _ := newTestHandler(t)
	router := newTestRouter(h)

	p, err := store.GetOrCreate(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("GetOrCreate() error = %v", err)
	}

	rec := doJSON(t, router, http.MethodPost, "/v1/unsubscribe", UnsubscribeRequest{Token: p.UnsubscribeToken})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}

	after, _ := store.Get(context.Background(), "user-1")
	if after.Categories["newsletter"].Enabled {
		t.Error("newsletter still enabled after blanket unsubscribe")
	}
	if !after.Categories["security_alerts"].Enabled {
		t.Error("mandatory security_alerts disabled by unsubscribe")
	}
}

func TestUnsubscribeErrors(t *testing.T) {
	h, _, _ := newTestHandler(t)
	router := newTestRouter(h)

	rec := doJSON(t, router, http.MethodPost, "/v1/unsubscribe", UnsubscribeRequest{Token: "deadbeef"})
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown token status = %d, want 404", rec.Code)
	}

	rec = doJSON(t, router, http.MethodPost, "/v1/unsubscribe", UnsubscribeRequest{})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("missing token status = %d, want 400", rec.Code)
	}
}
