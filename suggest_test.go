package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lg/fitness-api/fitness"
)

// mockOpenAI is a fake chat completions endpoint that records what it received.
type mockOpenAI struct {
	*httptest.Server

	mu       sync.Mutex
	status   int
	body     any
	lastReq  openAIRequest
	lastAuth string
}

func newMockOpenAI() *mockOpenAI {
	m := &mockOpenAI{status: http.StatusOK}
	m.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.mu.Lock()
		defer m.mu.Unlock()
		_ = json.NewDecoder(r.Body).Decode(&m.lastReq)
		m.lastAuth = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(m.status)
		_ = json.NewEncoder(w).Encode(m.body)
	}))
	return m
}

func (m *mockOpenAI) set(status int, body any) {
	m.mu.Lock()
	m.status, m.body = status, body
	m.mu.Unlock()
}

// setupSuggestTest creates a Gin engine wired to a mock OpenAI server. No DB
// is needed for food suggestions.
func setupSuggestTest(t *testing.T, limiter *userRateLimiter) (*gin.Engine, *mockOpenAI) {
	t.Helper()
	mock := newMockOpenAI()
	t.Cleanup(mock.Close)

	gin.SetMode(gin.TestMode)
	h := Handler{ai: newAIClient(mock.URL, "test-key", "test-model"), aiLimiter: limiter}
	router := gin.New()
	// Skip auth middleware for tests, set a dummy user_id
	router.POST("/api/meals/suggest", func(c *gin.Context) {
		c.Set("user_id", 1)
		c.Next()
	}, h.aiLimiter.middleware(), h.suggestMealItem)

	return router, mock
}

// doSuggestRequest sends a POST to the suggest endpoint with the given body.
func doSuggestRequest(router *gin.Engine, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/meals/suggest", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

// openAIChatResponse wraps a content string in the OpenAI chat completions
// response shape (choices[0].message.content).
func openAIChatResponse(content string) map[string]any {
	return map[string]any{
		"choices": []map[string]any{
			{"message": map[string]any{"content": content}},
		},
	}
}

func TestSuggest_FoodSuccess(t *testing.T) {
	router, mock := setupSuggestTest(t, nil)

	suggestion := `{"item_name":"Scrambled Eggs","qty":2,"uom":"each","calories":180,"protein_g":14,"carbs_g":2,"fat_g":12,"confidence":4}`
	mock.set(http.StatusOK, openAIChatResponse(suggestion))

	w := doSuggestRequest(router, `{"description":"2 eggs scrambled","meal_type":"breakfast"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp suggestionResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "Scrambled Eggs", resp.ItemName)
	assert.Equal(t, 180.0, resp.Calories)
	assert.Equal(t, "breakfast", resp.MealType)

	mock.mu.Lock()
	defer mock.mu.Unlock()
	assert.Equal(t, "Bearer test-key", mock.lastAuth)
	assert.Equal(t, "test-model", mock.lastReq.Model)
	require.Len(t, mock.lastReq.Messages, 2)
	assert.Equal(t, "2 eggs scrambled", mock.lastReq.Messages[1].Content)
}

func TestSuggest_Unrecognized(t *testing.T) {
	router, mock := setupSuggestTest(t, nil)
	mock.set(http.StatusOK, openAIChatResponse(`{"error":"unrecognized"}`))

	w := doSuggestRequest(router, `{"description":"asdfghjkl","meal_type":"snack"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "unrecognized", resp["error"])
}

// TestSuggest_NegativeMacrosUnrecognized verifies nonsense estimates never
// reach the client as a suggestion.
func TestSuggest_NegativeMacrosUnrecognized(t *testing.T) {
	router, mock := setupSuggestTest(t, nil)
	mock.set(http.StatusOK, openAIChatResponse(`{"item_name":"Air","qty":1,"uom":"each","calories":10,"protein_g":-3,"carbs_g":0,"fat_g":0,"confidence":1}`))

	w := doSuggestRequest(router, `{"description":"air"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"error":"unrecognized"}`, w.Body.String())
}

func TestSuggest_OpenAIError500(t *testing.T) {
	router, mock := setupSuggestTest(t, nil)
	mock.set(http.StatusInternalServerError, map[string]string{"error": "server error"})

	w := doSuggestRequest(router, `{"description":"banana","meal_type":"snack"}`)
	require.Equal(t, http.StatusInternalServerError, w.Code, w.Body.String())
	assert.JSONEq(t, `{"error":"openai request failed"}`, w.Body.String())
}

func TestSuggest_EmptyDescription(t *testing.T) {
	router, _ := setupSuggestTest(t, nil)

	w := doSuggestRequest(router, `{"description":"  ","meal_type":"snack"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSuggest_UnknownMealType(t *testing.T) {
	router, _ := setupSuggestTest(t, nil)

	w := doSuggestRequest(router, `{"description":"banana","meal_type":"exercise"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSuggest_MalformedJSON(t *testing.T) {
	router, mock := setupSuggestTest(t, nil)

	// OpenAI returns something that isn't valid JSON
	mock.set(http.StatusOK, openAIChatResponse(`not valid json at all`))

	w := doSuggestRequest(router, `{"description":"banana","meal_type":"snack"}`)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestSuggest_NoAPIKey(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := Handler{ai: newAIClient("http://127.0.0.1:1", "", "m")}
	router := gin.New()
	router.POST("/api/meals/suggest", h.suggestMealItem)

	w := doSuggestRequest(router, `{"description":"banana"}`)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

// TestSuggest_RateLimited verifies the per-user limiter answers 429 once the
// bucket is spent, without calling upstream.
func TestSuggest_RateLimited(t *testing.T) {
	router, mock := setupSuggestTest(t, newUserRateLimiter(2))
	mock.set(http.StatusOK, openAIChatResponse(`{"item_name":"Banana","qty":1,"uom":"each","calories":105,"protein_g":1,"carbs_g":27,"fat_g":0,"confidence":5}`))

	for i := 0; i < 2; i++ {
		w := doSuggestRequest(router, `{"description":"banana"}`)
		require.Equal(t, http.StatusOK, w.Code)
	}

	w := doSuggestRequest(router, `{"description":"banana"}`)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.NotEmpty(t, w.Header().Get("Retry-After"))
}

/* ─── Workout plan generation ────────────────────────────────────────── */

func TestParseGeneratedPlan(t *testing.T) {
	content := `{"plan":{"name":"3-Day Fat Loss Plan","exercises":[
		{"name":"Squat","muscle":"legs","gif":"","sets":[{"reps":10,"weight_kg":40}]},
		{"name":"Push Up","muscle":"chest","gif":""}
	]}}`

	name, exercises, err := parseGeneratedPlan(content)
	require.NoError(t, err)
	assert.Equal(t, "3-Day Fat Loss Plan", name)
	require.Len(t, exercises, 2)
	assert.Equal(t, []planSet{{Reps: 10, WeightKg: 40}}, exercises[0].Sets)
	assert.NotNil(t, exercises[1].Sets, "missing sets become an empty list")
}

func TestParseGeneratedPlan_Rejects(t *testing.T) {
	for _, content := range []string{
		`not json`,
		`{"plan":{"name":"","exercises":[{"name":"Squat"}]}}`,
		`{"plan":{"name":"Empty","exercises":[]}}`,
		`{"name":"Missing wrapper","exercises":[{"name":"Squat"}]}`,
		`{"plan":{"name":"Bad sets","exercises":[{"name":"Squat","sets":[{"reps":-3}]}]}}`,
		`{"plan":{"name":"Nameless","exercises":[{"name":"","muscle":"legs"}]}}`,
	} {
		_, _, err := parseGeneratedPlan(content)
		assert.Error(t, err, content)
	}
}

func TestValidateGeneratePlan(t *testing.T) {
	req := generatePlanRequest{Goal: "FATLOSS", Level: " Beginner ", Days: []string{"Mon", "Wed"}}
	require.Empty(t, validateGeneratePlan(&req))
	assert.Equal(t, "fatLoss", req.Goal)
	assert.Equal(t, "beginner", req.Level)

	assert.NotEmpty(t, validateGeneratePlan(&generatePlanRequest{Goal: "bulk", Level: "beginner", Days: []string{"Mon"}}))
	assert.NotEmpty(t, validateGeneratePlan(&generatePlanRequest{Goal: "fatLoss", Level: "pro", Days: []string{"Mon"}}))
	assert.NotEmpty(t, validateGeneratePlan(&generatePlanRequest{Goal: "fatLoss", Level: "beginner"}))
}

func TestBuildPlanPrompt(t *testing.T) {
	req := generatePlanRequest{Goal: "muscleGain", Level: "intermediate", Days: []string{"Mon", "Thu"}}

	withStats := buildPlanPrompt(req, fitness.Profile{WeightKg: 80, HeightCm: 180, AgeYears: 28})
	assert.Contains(t, withStats, "intermediate level workout plan for muscleGain")
	assert.Contains(t, withStats, "Mon, Thu")
	assert.Contains(t, withStats, "28 year old male weighing 80 kg at 180 cm")

	noStats := buildPlanPrompt(req, fitness.Profile{})
	assert.Contains(t, noStats, "average adult")
}
