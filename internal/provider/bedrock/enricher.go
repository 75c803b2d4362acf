// Package bedrock classifies discovered providers with a Claude model on
// AWS Bedrock, turning free-text business descriptions into specialties
// and licensing signals.
package bedrock

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"

	"github.com/ignite/provider-outreach/internal/domain"
	"github.com/ignite/provider-outreach/internal/pkg/logger"
)

// DefaultModelID is used when no model is configured.
const DefaultModelID = "anthropic.claude-3-haiku-20240307-v1:0"

// InvokeModelAPI is the subset of the Bedrock runtime client used here.
type InvokeModelAPI interface {
	InvokeModel(ctx context.Context, params *bedrockruntime.InvokeModelInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error)
}

// Enricher implements matching.Enricher.
type Enricher struct {
	client  InvokeModelAPI
	modelID string
}

// New loads the default AWS config for region and returns an enricher.
func New(ctx context.Context, region, modelID string) (*Enricher, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	e := NewWithClient(bedrockruntime.NewFromConfig(cfg), modelID)
	logger.Info("bedrock enricher initialized", "model", e.modelID, "region", region)
	return e, nil
}

// NewWithClient wraps an existing client. Used by tests.
func NewWithClient(client InvokeModelAPI, modelID string) *Enricher {
	if modelID == "" {
		modelID = DefaultModelID
	}
	return &Enricher{client: client, modelID: modelID}
}

type message struct {
	Role    string         `json:"role"`
	Content []contentBlock `json:"content"`
}

type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type invokeRequest struct {
	AnthropicVersion string    `json:"anthropic_version"`
	MaxTokens        int       `json:"max_tokens"`
	System           string    `json:"system,omitempty"`
	Messages         []message `json:"messages"`
	Temperature      float64   `json:"temperature"`
}

type invokeResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
}

// Classification is the JSON object the model is asked to return.
type Classification struct {
	Categories  []string `json:"categories"`
	Specialties []string `json:"specialties"`
	Licensed    *bool    `json:"licensed"`
}

const systemPrompt = `You classify home-service businesses. Reply with one JSON object and nothing else:
{"categories": [..], "specialties": [..], "licensed": true|false|null}.
categories are short lowercase trade names such as "plumbing" or "electrical".
specialties are short lowercase phrases. licensed is null unless the text says so.`

// Enrich classifies c from its name and description. Candidates without a
// description are returned unchanged.
func (e *Enricher) Enrich(ctx context.Context, c domain.Candidate) (domain.Candidate, error) {
	if strings.TrimSpace(c.Description) == "" {
		return c, fmt.Errorf("bedrock: no description to classify")
	}
	body, err := json.Marshal(invokeRequest{
		AnthropicVersion: "bedrock-2023-05-31",
		MaxTokens:        300,
		System:           systemPrompt,
		Temperature:      0,
		Messages: []message{{
			Role:    "user",
			Content: []contentBlock{{Type: "text", Text: fmt.Sprintf("Business: %s\nDescription: %s", c.Name, c.Description)}},
		}},
	})
	if err != nil {
		return c, fmt.Errorf("failed to marshal request: %w", err)
	}

	out, err := e.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(e.modelID),
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
		Body:        body,
	})
	if err != nil {
		if ctx.Err() != nil {
			return c, domain.Timeout("bedrock", err)
		}
		return c, domain.Unavailable("bedrock", err)
	}

	cls, err := parse(out.Body)
	if err != nil {
		return c, err
	}
	c.Categories = mergeLower(c.Categories, cls.Categories)
	c.Specialties = mergeLower(c.Specialties, cls.Specialties)
	if c.Reputation.Licensed == nil && cls.Licensed != nil {
		c.Reputation.Licensed = cls.Licensed
	}
	return c, nil
}

func parse(raw []byte) (Classification, error) {
	var resp invokeResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return Classification{}, fmt.Errorf("bedrock: decode response: %w", err)
	}
	var text string
	for _, blk := range resp.Content {
		if blk.Type == "text" {
			text += blk.Text
		}
	}
	start, end := strings.Index(text, "{"), strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return Classification{}, fmt.Errorf("bedrock: no JSON object in reply")
	}
	var cls Classification
	if err := json.Unmarshal([]byte(text[start:end+1]), &cls); err != nil {
		return Classification{}, fmt.Errorf("bedrock: decode classification: %w", err)
	}
	return cls, nil
}

func mergeLower(have, add []string) []string {
	seen := make(map[string]bool, len(have)+len(add))
	out := make([]string, 0, len(have)+len(add))
	for _, s := range append(append([]string{}, have...), add...) {
		k := strings.ToLower(strings.TrimSpace(s))
		if k == "" || seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, k)
	}
	return out
}
