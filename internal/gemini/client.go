// Package gemini implements the classification boundary against Google's
// Gemini API: batched spam verdicts over sender content and one-shot image
// description for ingested media.
package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"google.golang.org/genai"

	"github.com/groupwarden/groupwarden/internal/config"
)

// Client defines the AI operations used by the detection pipeline.
type Client interface {
	// ClassifySenders judges the batched content of one or more senders and
	// returns the sender keys confirmed as spammers. Keys absent from the
	// input must never appear in the result.
	ClassifySenders(ctx context.Context, texts map[string]string, media map[string][]string) ([]string, error)

	// DescribeMedia turns an image into a short text description suitable
	// for inclusion in a classification batch.
	DescribeMedia(ctx context.Context, mimeType string, imageData []byte) (string, error)
}

type sdkClient struct {
	genaiClient      *genai.Client
	log              *slog.Logger
	contentConfig    *genai.GenerateContentConfig
	defaultModelName string
	maxRetries       int
	retryDelay       time.Duration
}

// NewClient creates a Gemini client from the provided configuration and
// verifies the API key is present.
func NewClient(ctx context.Context, cfg config.GeminiConfig, log *slog.Logger) (Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}

	gi, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}

	baseCfg := &genai.GenerateContentConfig{
		Temperature: &cfg.Temperature,

		SafetySettings: []*genai.SafetySetting{
			{Category: genai.HarmCategoryHarassment, Threshold: genai.HarmBlockThresholdBlockNone},
			{Category: genai.HarmCategoryHateSpeech, Threshold: genai.HarmBlockThresholdBlockNone},
			{Category: genai.HarmCategorySexuallyExplicit, Threshold: genai.HarmBlockThresholdBlockNone},
			{Category: genai.HarmCategoryDangerousContent, Threshold: genai.HarmBlockThresholdBlockNone},
		},
	}

	logger := log.With("component", "gemini_client")
	logger.Info("Gemini client initialized successfully", "model", cfg.ModelName)
	return &sdkClient{
		genaiClient:      gi,
		log:              logger,
		contentConfig:    baseCfg,
		defaultModelName: cfg.ModelName,
		maxRetries:       cfg.MaxRetries,
		retryDelay:       time.Duration(cfg.RetryDelaySeconds) * time.Second,
	}, nil
}

var verdictSchema = &genai.Schema{
	Type: genai.TypeObject,
	Properties: map[string]*genai.Schema{
		"spammers": {
			Type:        genai.TypeArray,
			Items:       &genai.Schema{Type: genai.TypeString},
			Description: "sender_id values of the senders judged to be spammers, as strings.",
		},
	},
	Required: []string{"spammers"},
}

func (c *sdkClient) ClassifySenders(ctx context.Context, texts map[string]string, media map[string][]string) ([]string, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	c.log.DebugContext(ctx, "Classifying sender batch", "senders", len(texts))

	prompt := buildClassificationPrompt(texts, media)
	contents := []*genai.Content{genai.NewContentFromText(prompt, genai.RoleUser)}

	copyCfg := *c.contentConfig
	copyCfg.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: ClassifierSystemInstruction}}}
	copyCfg.ResponseMIMEType = "application/json"
	copyCfg.ResponseSchema = verdictSchema

	resp, err := c.generateContentWithRetries(ctx, c.defaultModelName, contents, &copyCfg)
	if err != nil {
		return nil, fmt.Errorf("classification call failed: %w", err)
	}

	jsonText, err := c.extractTextFromResponse(ctx, resp, "classify_senders")
	if err != nil {
		return nil, fmt.Errorf("failed to extract classification response: %w", err)
	}

	confirmed, err := parseVerdict(jsonText, texts)
	if err != nil {
		c.log.ErrorContext(ctx, "Failed to parse classification verdict", "error", err, "response_text", jsonText)
		return nil, fmt.Errorf("invalid verdict JSON received: %w", err)
	}

	c.log.DebugContext(ctx, "Classification verdict parsed", "senders", len(texts), "spammers", len(confirmed))
	return confirmed, nil
}

func (c *sdkClient) DescribeMedia(ctx context.Context, mimeType string, imageData []byte) (string, error) {
	if len(imageData) == 0 || mimeType == "" {
		return "", fmt.Errorf("image data and MIME type are required")
	}
	c.log.DebugContext(ctx, "Describing media", "image_size", len(imageData), "mime_type", mimeType)

	contents := []*genai.Content{
		genai.NewContentFromParts([]*genai.Part{genai.NewPartFromBytes(imageData, mimeType)}, genai.RoleUser),
	}

	copyCfg := *c.contentConfig
	copyCfg.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: MediaDescriberInstruction}}}

	resp, err := c.generateContentWithRetries(ctx, c.defaultModelName, contents, &copyCfg)
	if err != nil {
		return "", fmt.Errorf("media description failed: %w", err)
	}

	return c.extractTextFromResponse(ctx, resp, "describe_media")
}

// buildClassificationPrompt renders one block per sender in a stable order so
// identical batches produce identical prompts. Media descriptions are folded
// into their sender's block as "[image]" lines.
func buildClassificationPrompt(texts map[string]string, media map[string][]string) string {
	keys := make([]string, 0, len(texts))
	for k := range texts {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	for _, key := range keys {
		fmt.Fprintf(&sb, "=== Sender %s ===\n", key)
		if text := texts[key]; text != "" {
			sb.WriteString(text)
			sb.WriteString("\n")
		}
		for _, desc := range media[key] {
			fmt.Fprintf(&sb, "[image] %s\n", desc)
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

// parseVerdict decodes the model's JSON object and keeps only keys that were
// actually in the batch. Models occasionally wrap JSON in markdown fences
// even in schema mode, so those are stripped before decoding.
func parseVerdict(jsonText string, texts map[string]string) ([]string, error) {
	var verdict struct {
		Spammers []string `json:"spammers"`
	}
	cleaned := stripJSONFences(jsonText)
	if err := json.Unmarshal([]byte(cleaned), &verdict); err != nil {
		return nil, err
	}

	confirmed := make([]string, 0, len(verdict.Spammers))
	seen := make(map[string]struct{})
	for _, key := range verdict.Spammers {
		key = strings.TrimSpace(key)
		if _, ok := texts[key]; !ok {
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		confirmed = append(confirmed, key)
	}
	return confirmed, nil
}

func stripJSONFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

func (c *sdkClient) generateContentWithRetries(ctx context.Context, modelName string, contents []*genai.Content, cfg *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	var resp *genai.GenerateContentResponse
	var err error

	for i := 0; i <= c.maxRetries; i++ {
		resp, err = c.genaiClient.Models.GenerateContent(ctx, modelName, contents, cfg)
		if err == nil {
			return resp, nil
		}

		c.log.WarnContext(ctx, "Gemini API call failed, checking for retry", "attempt", i+1, "max_retries", c.maxRetries, "error", err)

		var apiErr *genai.APIError
		if errors.As(err, &apiErr) && (apiErr.Code == 500 || apiErr.Code == 503) {
			if i < c.maxRetries {
				c.log.InfoContext(ctx, "Retrying Gemini API call due to retriable APIError", "delay", c.retryDelay, "code", apiErr.Code)
				select {
				case <-time.After(c.retryDelay):
				case <-ctx.Done():
					return nil, ctx.Err()
				}
				continue
			}
			c.log.ErrorContext(ctx, "Gemini API call failed after max retries with APIError", "error", err, "code", apiErr.Code)
			return nil, fmt.Errorf("gemini API call failed after %d retries (APIError code %d): %w", c.maxRetries, apiErr.Code, err)
		}

		c.log.ErrorContext(ctx, "Gemini API call failed with non-retriable error", "error", err)
		return nil, fmt.Errorf("gemini API call failed: %w", err)
	}
	return nil, err
}

func (c *sdkClient) extractTextFromResponse(ctx context.Context, resp *genai.GenerateContentResponse, op string) (string, error) {
	if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != genai.BlockedReasonUnspecified {
		reasonMsg := fmt.Sprintf("%v", resp.PromptFeedback.BlockReason)
		if resp.PromptFeedback.BlockReasonMessage != "" {
			reasonMsg = resp.PromptFeedback.BlockReasonMessage
		}
		c.log.ErrorContext(ctx, "Gemini request blocked", "operation", op, "reason", reasonMsg)
		return "", fmt.Errorf("%s blocked by safety filter: %s", op, reasonMsg)
	}

	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		finishReason := "unknown"
		if len(resp.Candidates) > 0 && resp.Candidates[0].FinishReason != genai.FinishReasonUnspecified {
			finishReason = fmt.Sprintf("%v", resp.Candidates[0].FinishReason)
		}
		c.log.WarnContext(ctx, "Gemini response missing candidates or content", "operation", op, "finish_reason", finishReason)
		return "", fmt.Errorf("%s returned no content, finish reason: %s", op, finishReason)
	}

	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return "", fmt.Errorf("%s returned empty text", op)
	}
	return text, nil
}
