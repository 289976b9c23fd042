package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"lg/fitness-api/fitness"
)

/* ─── Request / Response types ───────────────────────────────────────── */

// suggestRequest is the request body for POST /api/meals/suggest.
type suggestRequest struct {
	Description string `json:"description"`
	MealType    string `json:"meal_type"`
}

// suggestionResponse is the structured nutrition data returned by the AI.
// Confidence is 1-5 indicating how accurate the estimate is.
type suggestionResponse struct {
	ItemName   string  `json:"item_name"`
	MealType   string  `json:"meal_type,omitempty"`
	Qty        float64 `json:"qty"`
	Uom        string  `json:"uom"`
	Calories   float64 `json:"calories"`
	ProteinG   float64 `json:"protein_g"`
	CarbsG     float64 `json:"carbs_g"`
	FatG       float64 `json:"fat_g"`
	Confidence int     `json:"confidence"`
}

// generatePlanRequest is the request body for POST /api/workouts/plans/generate.
type generatePlanRequest struct {
	Goal  string   `json:"goal"`
	Level string   `json:"level"`
	Days  []string `json:"days"`
}

var validPlanLevels = map[string]bool{
	"beginner":     true,
	"intermediate": true,
	"advanced":     true,
}

/* ─── OpenAI prompt constants ────────────────────────────────────────── */

const foodSystemPrompt = `You are a nutrition assistant. Parse the food description and return a JSON object with:
- "item_name" (string, cleaned up title case)
- "qty" (number)
- "uom" (one of: each, g, ml, cup, tbsp, slice, serving)
- "calories" (integer, total for the full quantity)
- "protein_g" (integer, total for the full quantity)
- "carbs_g" (integer, total for the full quantity)
- "fat_g" (integer, total for the full quantity)
- "confidence" (integer 1-5: 5=exact known nutritional data, 4=very close estimate, 3=reasonable estimate, 2=rough guess, 1=very uncertain)

Always provide your best estimate, even for unfamiliar or vague items. Use your knowledge of similar foods to approximate. Only return {"error": "unrecognized"} if the input is not food at all (e.g. random characters, non-food objects).
Return only valid JSON, no explanation.`

// planSystemPromptTemplate takes level, goal, days and an athlete line.
const planSystemPromptTemplate = `You are an expert fitness coach. Create a %s level workout plan for %s that the user can do on %s.
%s
Return a JSON object with a single key "plan" holding an object with:
- "name" (string, like "3-Day Fat Loss Plan")
- "exercises" (array of objects, each with "name" (string), "muscle" (string), "gif" (string, a wikimedia commons URL or empty) and "sets" (array of {"reps": integer, "weight_kg": number}))

Return only valid JSON, no explanation.`

/* ─── OpenAI HTTP client ─────────────────────────────────────────────── */

// errAINotConfigured is returned when no API key is configured.
var errAINotConfigured = errors.New("OPENAI_API_KEY not set")

// aiClient talks to an OpenAI-compatible chat completions endpoint.
type aiClient struct {
	baseURL string
	apiKey  string
	model   string
	http    *http.Client
}

func newAIClient(baseURL, apiKey, model string) *aiClient {
	return &aiClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		model:   model,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

// openAIMessage is a single message in the OpenAI chat completions request.
type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// openAIRequest is the request body for the OpenAI chat completions API.
type openAIRequest struct {
	Model          string          `json:"model"`
	Messages       []openAIMessage `json:"messages"`
	Temperature    float64         `json:"temperature"`
	ResponseFormat map[string]any  `json:"response_format"`
}

// chat sends a chat completions request and returns the content string from
// the first choice. kind labels the call in metrics.
func (a *aiClient) chat(ctx context.Context, kind string, messages []openAIMessage, temperature float64) (string, error) {
	content, err := a.doChat(ctx, messages, temperature)
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	aiRequests.WithLabelValues(kind, outcome).Inc()
	return content, err
}

func (a *aiClient) doChat(ctx context.Context, messages []openAIMessage, temperature float64) (string, error) {
	if a == nil || a.apiKey == "" {
		return "", errAINotConfigured
	}

	bodyBytes, err := json.Marshal(openAIRequest{
		Model:          a.model,
		Messages:       messages,
		Temperature:    temperature,
		ResponseFormat: map[string]any{"type": "json_object"},
	})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/v1/chat/completions", bytes.NewReader(bodyBytes))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+a.apiKey)

	resp, err := a.http.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("openai returned status %d: %s", resp.StatusCode, string(respBytes))
	}

	var result struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(respBytes, &result); err != nil {
		return "", fmt.Errorf("unmarshal response: %w", err)
	}
	if len(result.Choices) == 0 {
		return "", errors.New("no choices in response")
	}

	return result.Choices[0].Message.Content, nil
}

// isUnrecognized reports whether content is the model's {"error":"unrecognized"} reply.
func isUnrecognized(content string) (bool, error) {
	var errorResp struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal([]byte(content), &errorResp); err != nil {
		return false, err
	}
	return errorResp.Error == "unrecognized", nil
}

/* ─── Handlers ───────────────────────────────────────────────────────── */

// suggestMealItem handles POST /api/meals/suggest.
// Accepts a food description, asks the model to parse it into structured
// nutrition data and returns the suggestion. Nothing is persisted.
func (h *Handler) suggestMealItem(c *gin.Context) {
	var req suggestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apiError(c, http.StatusBadRequest, "invalid request body")
		return
	}

	if strings.TrimSpace(req.Description) == "" {
		apiError(c, http.StatusBadRequest, "description is required")
		return
	}
	if req.MealType != "" && !validMealTypes[req.MealType] {
		apiError(c, http.StatusBadRequest, "meal_type must be one of: breakfast, lunch, dinner, snack")
		return
	}

	messages := []openAIMessage{
		{Role: "system", Content: foodSystemPrompt},
		{Role: "user", Content: req.Description},
	}

	content, err := h.ai.chat(c.Request.Context(), "suggest", messages, 0)
	if err != nil {
		log.Errorf("[suggest] OpenAI error: %v", err)
		apiError(c, http.StatusInternalServerError, "openai request failed")
		return
	}

	unrecognized, err := isUnrecognized(content)
	if err != nil {
		log.Errorf("[suggest] Failed to parse OpenAI response: %v", err)
		apiError(c, http.StatusInternalServerError, "openai request failed")
		return
	}
	if unrecognized {
		c.JSON(http.StatusOK, gin.H{"error": "unrecognized"})
		return
	}

	var suggestion suggestionResponse
	if err := json.Unmarshal([]byte(content), &suggestion); err != nil {
		log.Errorf("[suggest] Failed to parse suggestion JSON: %v", err)
		apiError(c, http.StatusInternalServerError, "openai request failed")
		return
	}

	// A usable suggestion needs a name, calories and sane macro values
	if suggestion.ItemName == "" || suggestion.Calories <= 0 ||
		!nonNegativeFinite(suggestion.Calories, suggestion.ProteinG, suggestion.CarbsG, suggestion.FatG) {
		c.JSON(http.StatusOK, gin.H{"error": "unrecognized"})
		return
	}
	suggestion.MealType = req.MealType

	c.JSON(http.StatusOK, suggestion)
}

// athleteLine describes the user for the plan prompt, or asks for a generic
// adult when body metrics are unknown.
func athleteLine(p fitness.Profile) string {
	if !p.HasBodyMetrics() {
		return "No body stats are available, assume an average adult."
	}
	gender := p.Gender
	if gender == "" {
		gender = fitness.DefaultGender
	}
	return fmt.Sprintf("The user is a %d year old %s weighing %.0f kg at %.0f cm.",
		p.AgeYears, gender, p.WeightKg, p.HeightCm)
}

// buildPlanPrompt renders the plan system prompt.
func buildPlanPrompt(req generatePlanRequest, p fitness.Profile) string {
	return fmt.Sprintf(planSystemPromptTemplate,
		req.Level, req.Goal, strings.Join(req.Days, ", "), athleteLine(p))
}

// parseGeneratedPlan decodes the model's {"plan": {...}} reply.
func parseGeneratedPlan(content string) (string, []planExercise, error) {
	var out struct {
		Plan struct {
			Name      string         `json:"name"`
			Exercises []planExercise `json:"exercises"`
		} `json:"plan"`
	}
	if err := json.Unmarshal([]byte(content), &out); err != nil {
		return "", nil, fmt.Errorf("parse plan: %w", err)
	}
	if out.Plan.Name == "" || len(out.Plan.Exercises) == 0 {
		return "", nil, errors.New("plan has no name or exercises")
	}
	if msg := validateExercises(out.Plan.Exercises); msg != "" {
		return "", nil, errors.New(msg)
	}
	for i := range out.Plan.Exercises {
		if out.Plan.Exercises[i].Sets == nil {
			out.Plan.Exercises[i].Sets = []planSet{}
		}
	}
	return out.Plan.Name, out.Plan.Exercises, nil
}

// validateGeneratePlan normalises the goal and checks level and days.
func validateGeneratePlan(req *generatePlanRequest) string {
	goal, ok := fitness.ParseGoal(req.Goal)
	if !ok {
		return "goal must be one of: fatLoss, muscleGain, generalFitness"
	}
	req.Goal = string(goal)
	req.Level = strings.ToLower(strings.TrimSpace(req.Level))
	if !validPlanLevels[req.Level] {
		return "level must be one of: beginner, intermediate, advanced"
	}
	if len(req.Days) == 0 || len(req.Days) > 7 {
		return "days must list between 1 and 7 weekdays"
	}
	return ""
}

// generateWorkoutPlan handles POST /api/workouts/plans/generate. It asks the
// model for a plan shaped by the user's goal and body stats and saves it,
// subject to the same plan limit as manual creation.
func (h *Handler) generateWorkoutPlan(c *gin.Context) {
	userID := c.GetInt("user_id")

	var req generatePlanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apiError(c, http.StatusBadRequest, "invalid request body")
		return
	}
	if msg := validateGeneratePlan(&req); msg != "" {
		apiError(c, http.StatusBadRequest, msg)
		return
	}

	// Early refusal; createPlan re-checks under the profile lock.
	store := h.workoutDB()
	profile, err := store.profile(c, userID)
	if err != nil {
		writePlanError(c, userID, "generateWorkoutPlan", err)
		return
	}
	status, count, err := store.planQuota(c, userID)
	if err != nil {
		writePlanError(c, userID, "generateWorkoutPlan", err)
		return
	}
	if !fitness.CanCreatePlan(status, count) {
		apiError(c, http.StatusForbidden, planLimitMessage)
		return
	}

	messages := []openAIMessage{
		{Role: "system", Content: buildPlanPrompt(req, profile.fitnessProfile())},
		{Role: "user", Content: "Generate the plan."},
	}
	content, err := h.ai.chat(c.Request.Context(), "plan", messages, 0.7)
	if err != nil {
		log.WithField("user_id", userID).Errorf("[generateWorkoutPlan] OpenAI error: %v", err)
		apiError(c, http.StatusInternalServerError, "openai request failed")
		return
	}

	name, exercises, err := parseGeneratedPlan(content)
	if err != nil {
		log.WithField("user_id", userID).Errorf("[generateWorkoutPlan] %v", err)
		apiError(c, http.StatusBadGateway, "AI returned an unusable plan")
		return
	}

	plan, err := store.createPlan(c, userID, name, exercises, fitness.CanCreatePlan)
	if err != nil {
		writePlanError(c, userID, "generateWorkoutPlan", err)
		return
	}
	c.JSON(http.StatusCreated, plan)
}
