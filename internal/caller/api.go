// Package caller implements the agents a workflow step can be sent to: ACP
// agent processes, the Anthropic Messages API, and a router between them.
package caller

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/bedrock"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/aws/aws-sdk-go-v2/config"

	"github.com/ShayCichocki/conductor/internal/workflow"
	"github.com/ShayCichocki/conductor/pkg/models"
)

// defaultMaxTokens caps a single step's response.
const defaultMaxTokens = 8192

// APIConfig configures the Anthropic caller.
type APIConfig struct {
	// APIKey falls back to ANTHROPIC_API_KEY when empty.
	APIKey string
	// Model overrides the tier mapping for every step.
	Model string
	// UseBedrock routes requests through AWS Bedrock.
	UseBedrock bool
	AWSRegion  string
	AWSProfile string
	MaxTokens  int64
}

// messagesAPI is the part of the SDK the caller uses.
type messagesAPI interface {
	New(ctx context.Context, body anthropic.MessageNewParams, opts ...option.RequestOption) (*anthropic.Message, error)
}

// APICaller runs a step as a single Messages API request with the
// specialist's system prompt.
type APICaller struct {
	messages  messagesAPI
	model     anthropic.Model
	bedrock   bool
	maxTokens int64
	tracker   *TokenTracker
	logger    *slog.Logger
}

// NewAPICaller creates a caller using the direct API or Bedrock.
func NewAPICaller(cfg APIConfig, logger *slog.Logger) (*APICaller, error) {
	var opts []option.RequestOption

	if cfg.UseBedrock {
		var loadOpts []func(*config.LoadOptions) error
		if cfg.AWSRegion != "" {
			loadOpts = append(loadOpts, config.WithRegion(cfg.AWSRegion))
		}
		if cfg.AWSProfile != "" {
			loadOpts = append(loadOpts, config.WithSharedConfigProfile(cfg.AWSProfile))
		}
		opts = append(opts, bedrock.WithLoadDefaultConfig(context.Background(), loadOpts...))
	} else {
		apiKey := cfg.APIKey
		if apiKey == "" {
			apiKey = os.Getenv("ANTHROPIC_API_KEY")
		}
		if apiKey == "" {
			return nil, fmt.Errorf("ANTHROPIC_API_KEY environment variable is not set")
		}
		opts = append(opts, option.WithAPIKey(apiKey))
	}

	client := anthropic.NewClient(opts...)
	return newAPICaller(&client.Messages, cfg, logger), nil
}

func newAPICaller(messages messagesAPI, cfg APIConfig, logger *slog.Logger) *APICaller {
	if logger == nil {
		logger = slog.Default()
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	return &APICaller{
		messages:  messages,
		model:     anthropic.Model(cfg.Model),
		bedrock:   cfg.UseBedrock,
		maxTokens: maxTokens,
		tracker:   NewTokenTracker(),
		logger:    logger.With("component", "api_caller"),
	}
}

// ModelForTier maps a specialist tier to a Claude model.
func ModelForTier(tier models.ModelTier) anthropic.Model {
	switch tier.OrDefault() {
	case models.TierFast:
		return anthropic.ModelClaudeHaiku4_5_20251001
	case models.TierSmart:
		return anthropic.ModelClaudeOpus4_5_20251101
	default:
		return anthropic.ModelClaudeSonnet4_20250514
	}
}

// translateModelForBedrock converts Anthropic model names to Bedrock
// cross-region inference profiles. Unknown names pass through unchanged.
func translateModelForBedrock(model anthropic.Model) anthropic.Model {
	bedrockModels := map[anthropic.Model]string{
		anthropic.ModelClaudeSonnet4_20250514:   "us.anthropic.claude-sonnet-4-20250514-v1:0",
		anthropic.ModelClaudeSonnet4_5_20250929: "us.anthropic.claude-sonnet-4-5-20250929-v1:0",
		anthropic.ModelClaudeHaiku4_5_20251001:  "us.anthropic.claude-haiku-4-5-20251001-v1:0",
		anthropic.ModelClaudeOpus4_1_20250805:   "us.anthropic.claude-opus-4-1-20250805-v1:0",
		anthropic.ModelClaudeOpus4_5_20251101:   "us.anthropic.claude-opus-4-5-20251101-v1:0",
	}
	if m, ok := bedrockModels[model]; ok {
		return anthropic.Model(m)
	}
	return model
}

// modelFor picks the step's model: step config, then caller config, then
// the specialist's tier.
func (c *APICaller) modelFor(inv workflow.Invocation) anthropic.Model {
	model := anthropic.Model(inv.ConfigString("model"))
	if model == "" {
		model = c.model
	}
	if model == "" {
		var tier models.ModelTier
		if inv.Specialist != nil {
			tier = inv.Specialist.DefaultModelTier
		}
		model = ModelForTier(tier)
	}
	if c.bedrock {
		model = translateModelForBedrock(model)
	}
	return model
}

// Call implements workflow.Caller.
func (c *APICaller) Call(ctx context.Context, inv workflow.Invocation) (workflow.StepOutcome, error) {
	model := c.modelFor(inv)
	params := anthropic.MessageNewParams{
		Model:     model,
		MaxTokens: c.maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(inv.Prompt)),
		},
	}
	if inv.Specialist != nil && inv.Specialist.SystemPrompt != "" {
		params.System = []anthropic.TextBlockParam{{Text: inv.Specialist.SystemPrompt}}
	}

	c.logger.Debug("sending step to api", "step", inv.Step, "model", model)
	resp, err := c.messages.New(ctx, params)
	if err != nil {
		return workflow.StepOutcome{}, fmt.Errorf("create message: %w", err)
	}
	c.tracker.Add(resp.Usage.InputTokens, resp.Usage.OutputTokens)

	var out strings.Builder
	for _, block := range resp.Content {
		if text, ok := block.AsAny().(anthropic.TextBlock); ok {
			out.WriteString(text.Text)
		}
	}

	outcome := workflow.StepOutcome{Output: out.String()}
	if resp.StopReason == anthropic.StopReasonEndTurn {
		outcome.Success = true
	} else {
		outcome.Error = fmt.Sprintf("model stopped with %s", resp.StopReason)
	}
	return outcome, nil
}

// Tracker returns the token usage of every call so far.
func (c *APICaller) Tracker() *TokenTracker {
	return c.tracker
}

// TokenTracker tracks token usage across API calls.
type TokenTracker struct {
	mu        sync.Mutex
	inputTok  int64
	outputTok int64
	calls     int
}

// NewTokenTracker creates a new token tracker.
func NewTokenTracker() *TokenTracker {
	return &TokenTracker{}
}

// Add records token usage from an API call.
func (t *TokenTracker) Add(input, output int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.inputTok += input
	t.outputTok += output
	t.calls++
}

// Total returns the total input and output tokens tracked.
func (t *TokenTracker) Total() (input, output int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.inputTok, t.outputTok
}

// Calls returns the number of API calls made.
func (t *TokenTracker) Calls() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.calls
}
