package selector

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

const supervisorSystemPrompt = `You are an expert workflow orchestrator for a company assistant platform.
Given a user's query, decide which specialized agents should be involved in answering it.

Available agents:
%s
Respond with a single JSON object mapping each agent id to true or false.
Only set an agent's id to true if its expertise is required for the query.`

// OpenAIOracle scores candidates with an OpenAI chat model prompted to emit a
// JSON object of {agent_id: bool}.
type OpenAIOracle struct {
	client      openai.Client
	model       string
	temperature float64
}

// OpenAIOptions configure the OpenAI-backed oracle.
type OpenAIOptions struct {
	APIKey      string
	BaseURL     string // optional override for compatible endpoints
	Model       string
	Temperature float64
}

// NewOpenAIOracle creates an oracle backed by the OpenAI Chat Completions API.
func NewOpenAIOracle(opts OpenAIOptions) *OpenAIOracle {
	if opts.Model == "" {
		opts.Model = openai.ChatModelGPT4oMini
	}
	reqOpts := []option.RequestOption{}
	if opts.APIKey != "" {
		reqOpts = append(reqOpts, option.WithAPIKey(opts.APIKey))
	}
	if opts.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(opts.BaseURL))
	}
	return &OpenAIOracle{
		client:      openai.NewClient(reqOpts...),
		model:       opts.Model,
		temperature: opts.Temperature,
	}
}

// Decide implements Oracle.
func (o *OpenAIOracle) Decide(ctx context.Context, query string, candidates []Candidate) (map[string]bool, error) {
	if len(candidates) == 0 {
		return map[string]bool{}, nil
	}

	resp, err := o.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:       o.model,
		Temperature: openai.Float(o.temperature),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(buildSupervisorPrompt(candidates)),
			openai.UserMessage(query),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("chat completion: no choices returned")
	}

	return parseDecision(resp.Choices[0].Message.Content)
}

// buildSupervisorPrompt renders the roster of candidates into the system
// prompt.
func buildSupervisorPrompt(candidates []Candidate) string {
	var roster strings.Builder
	for _, c := range candidates {
		desc := c.Description
		if desc == "" {
			desc = c.Name
		}
		fmt.Fprintf(&roster, "- %s: %s\n", c.ID, desc)
	}
	return fmt.Sprintf(supervisorSystemPrompt, roster.String())
}

// parseDecision extracts the {agent_id: bool} object from model output,
// tolerating surrounding prose or a fenced code block.
func parseDecision(content string) (map[string]bool, error) {
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start < 0 || end < start {
		return nil, fmt.Errorf("decision output contains no JSON object")
	}

	decision := make(map[string]bool)
	if err := json.Unmarshal([]byte(content[start:end+1]), &decision); err != nil {
		return nil, fmt.Errorf("parse decision: %w", err)
	}
	return decision, nil
}
