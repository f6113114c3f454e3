package runtime

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"AgentCore/pkg/engine/api"
	"AgentCore/pkg/logger"
)

// ━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━
// OpenAI-Compatible Model
// ━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━

// OpenAIModel implements Model against an OpenAI-compatible
// chat/completions endpoint.
type OpenAIModel struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
}

func NewOpenAIModel(baseURL, apiKey, model string) *OpenAIModel {
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	if model == "" {
		model = "gpt-4o-mini"
	}
	return &OpenAIModel{
		baseURL: baseURL,
		apiKey:  apiKey,
		model:   model,
		httpClient: &http.Client{
			Timeout: 24 * time.Hour, // Long timeout for streaming long content
		},
	}
}

func (c *OpenAIModel) Name() string { return c.model }

// Start verifies the session is usable before the first turn runs.
func (c *OpenAIModel) Start(ctx context.Context) error {
	if c.apiKey == "" {
		return fmt.Errorf("model session needs an API key")
	}
	return nil
}

func (c *OpenAIModel) Stop(ctx context.Context) error {
	c.httpClient.CloseIdleConnections()
	return nil
}

func (c *OpenAIModel) Stream(ctx context.Context, req ModelRequest) (ModelStream, error) {
	payload := openAIChatCompletionRequest{
		Model:       c.model,
		Messages:    toOpenAIMessages(req.Instructions, req.Messages),
		Stream:      true,
		Temperature: req.Temperature,
	}
	if len(req.Tools) > 0 {
		payload.Tools = toOpenAITools(req.Tools)
		payload.ToolChoice = "auto"
	}

	body, err := json.Marshal(payload)
	if err != nil {
		logger.Error("Model", "Failed to marshal request", map[string]interface{}{
			"error": err.Error(),
		})
		return nil, err
	}

	logger.Info("Model", "Sending model request", map[string]interface{}{
		"url":           c.baseURL + "/chat/completions",
		"model":         c.model,
		"message_count": len(payload.Messages),
		"tool_count":    len(payload.Tools),
	})

	url := strings.TrimRight(c.baseURL, "/") + "/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		logger.Error("Model", "HTTP request failed", map[string]interface{}{
			"error": err.Error(),
			"url":   url,
		})
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		raw, _ := io.ReadAll(resp.Body)
		errMsg := strings.TrimSpace(string(raw))
		logger.Error("Model", "Model endpoint returned error", map[string]interface{}{
			"status_code": resp.StatusCode,
			"error":       errMsg,
			"model":       c.model,
		})
		return nil, fmt.Errorf("model endpoint error (status %d): %s", resp.StatusCode, errMsg)
	}

	return newOpenAIStream(resp.Body), nil
}

// ━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━
// Wire Types
// ━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━

type openAIChatCompletionRequest struct {
	Model       string          `json:"model"`
	Messages    []openAIChatMsg `json:"messages"`
	MaxTokens   int             `json:"max_tokens,omitempty"`
	Temperature float64         `json:"temperature,omitempty"`
	Stream      bool            `json:"stream"`
	Tools       []openAITool    `json:"tools,omitempty"`
	ToolChoice  string          `json:"tool_choice,omitempty"`
}

type openAITool struct {
	Type     string     `json:"type"`
	Function openAIFunc `json:"function"`
}

type openAIFunc struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Parameters  any    `json:"parameters,omitempty"`
}

type openAIChatMsg struct {
	Role    string `json:"role"`
	Content string `json:"content"` // no omitempty: some endpoints reject null content

	ToolCallID string           `json:"tool_call_id,omitempty"`
	ToolCalls  []openAIToolCall `json:"tool_calls,omitempty"`
}

type openAIToolCall struct {
	Index    int            `json:"index"`
	ID       string         `json:"id"`
	Type     string         `json:"type"`
	Function openAIFuncCall `json:"function"`
}

type openAIFuncCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type openAIStreamChunk struct {
	Choices []struct {
		Delta struct {
			Content          string           `json:"content,omitempty"`
			ReasoningContent string           `json:"reasoning_content,omitempty"`
			ToolCalls        []openAIToolCall `json:"tool_calls,omitempty"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason,omitempty"`
	} `json:"choices"`
	// Error response inside the stream (e.g. mid-stream quota failure)
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

func toOpenAITools(tools []api.ToolSchema) []openAITool {
	out := make([]openAITool, 0, len(tools))
	for _, t := range tools {
		out = append(out, openAITool{
			Type: "function",
			Function: openAIFunc{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			},
		})
	}
	return out
}

func toOpenAIMessages(instructions string, messages []api.ModelMessage) []openAIChatMsg {
	out := make([]openAIChatMsg, 0, len(messages)+1)
	if instructions != "" {
		out = append(out, openAIChatMsg{Role: "system", Content: instructions})
	}
	for _, msg := range messages {
		m := openAIChatMsg{
			Role:    msg.Role,
			Content: msg.Content,
		}
		if msg.Role == "tool" {
			m.ToolCallID = msg.ProposalID
		}
		if msg.Role == "assistant" {
			for _, p := range msg.Proposals {
				m.ToolCalls = append(m.ToolCalls, openAIToolCall{
					ID:   p.ID,
					Type: "function",
					Function: openAIFuncCall{
						Name:      p.DisplayName(),
						Arguments: proposalArgsJSON(p),
					},
				})
			}
		}
		out = append(out, m)
	}
	return out
}

// proposalArgsJSON re-serializes a proposal's body into the function-call
// argument form the wire protocol expects.
func proposalArgsJSON(p api.ActionProposal) string {
	var v any
	switch p.Kind {
	case api.ProposalExecute:
		if p.Execute != nil {
			v = p.Execute
		}
	case api.ProposalDelegate:
		if p.Delegate != nil {
			v = p.Delegate
		}
	case api.ProposalTool:
		if p.Tool != nil {
			v = p.Tool.Args
		}
	}
	if v == nil {
		return "{}"
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(b)
}

// proposalFromCall turns one finished function call into an ActionProposal.
// Reserved names map to engine actions; everything else is a tool call.
// Unparsable arguments become an empty set so the failure surfaces as an
// ordinary missing-argument result instead of killing the step.
func proposalFromCall(id, name, argsJSON string) *api.ActionProposal {
	args := api.Args{}
	if argsJSON != "" {
		if err := json.Unmarshal([]byte(argsJSON), &args); err != nil {
			logger.Warn("Model", "Model produced unparsable call arguments", map[string]interface{}{
				"call":  name,
				"error": err.Error(),
			})
			args = api.Args{}
		}
	}

	switch name {
	case api.FuncExecuteCode:
		language, _ := args["language"].(string)
		source, _ := args["source"].(string)
		return &api.ActionProposal{
			ID:      id,
			Kind:    api.ProposalExecute,
			Execute: &api.ExecuteProposal{Language: language, Source: source},
		}
	case api.FuncDelegateTask:
		prompt, _ := args["prompt"].(string)
		maxTurns := 0
		if v, ok := args["max_turns"].(float64); ok {
			maxTurns = int(v)
		}
		return &api.ActionProposal{
			ID:       id,
			Kind:     api.ProposalDelegate,
			Delegate: &api.DelegateProposal{Prompt: prompt, MaxTurns: maxTurns},
		}
	default:
		return &api.ActionProposal{
			ID:   id,
			Kind: api.ProposalTool,
			Tool: &api.ToolProposal{Name: name, Args: args},
		}
	}
}

// ━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━
// SSE Stream
// ━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━

type openAIStream struct {
	body   io.ReadCloser
	reader *bufio.Reader

	mu    sync.Mutex
	queue []ModelChunk
	done  bool

	toolBuilders map[int]*openAIToolCallBuilder
}

// openAIToolCallBuilder accumulates one function call's fragments across
// stream chunks until the finish marker arrives.
type openAIToolCallBuilder struct {
	index int
	id    string
	name  string
	args  strings.Builder
}

func newOpenAIStream(body io.ReadCloser) *openAIStream {
	return &openAIStream{
		body:         body,
		reader:       bufio.NewReader(body),
		toolBuilders: make(map[int]*openAIToolCallBuilder),
	}
}

func (s *openAIStream) Recv(ctx context.Context) (ModelChunk, error) {
	s.mu.Lock()
	if len(s.queue) > 0 {
		ch := s.queue[0]
		s.queue = s.queue[1:]
		s.mu.Unlock()
		return ch, nil
	}
	if s.done {
		s.mu.Unlock()
		return ModelChunk{}, io.EOF
	}
	s.mu.Unlock()

	for {
		select {
		case <-ctx.Done():
			return ModelChunk{}, ctx.Err()
		default:
		}

		line, err := s.reader.ReadString('\n')
		if err != nil {
			if err == io.EOF {
				s.mu.Lock()
				s.done = true
				s.mu.Unlock()
				return ModelChunk{}, io.EOF
			}
			return ModelChunk{}, err
		}

		line = strings.TrimSpace(line)
		if line == "" || !strings.HasPrefix(line, "data: ") {
			continue
		}

		data := strings.TrimPrefix(line, "data: ")
		if data == "[DONE]" {
			s.mu.Lock()
			s.done = true
			s.mu.Unlock()
			return ModelChunk{}, io.EOF
		}

		var chunk openAIStreamChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			logger.Warn("Model", "Failed to unmarshal stream chunk", map[string]interface{}{
				"error": err.Error(),
			})
			continue
		}

		if chunk.Error != nil {
			logger.Error("Model", "Stream carried an error", map[string]interface{}{
				"error_type":    chunk.Error.Type,
				"error_message": chunk.Error.Message,
			})
			s.mu.Lock()
			s.done = true
			s.mu.Unlock()
			return ModelChunk{}, fmt.Errorf("model stream error: %s", chunk.Error.Message)
		}

		if len(chunk.Choices) == 0 {
			continue
		}

		delta := chunk.Choices[0].Delta
		finish := chunk.Choices[0].FinishReason

		// Function-call deltas are buffered across chunks until the
		// finish marker; nothing is emitted for them mid-flight.
		if len(delta.ToolCalls) > 0 {
			s.mu.Lock()
			for _, tc := range delta.ToolCalls {
				b := s.toolBuilders[tc.Index]
				if b == nil {
					b = &openAIToolCallBuilder{index: tc.Index}
					s.toolBuilders[tc.Index] = b
				}
				if tc.ID != "" {
					b.id = tc.ID
				}
				if tc.Function.Name != "" {
					b.name = tc.Function.Name
				}
				if tc.Function.Arguments != "" {
					b.args.WriteString(tc.Function.Arguments)
				}
			}
			s.mu.Unlock()
		}

		if delta.ReasoningContent != "" {
			return ModelChunk{ThoughtDelta: delta.ReasoningContent}, nil
		}
		if delta.Content != "" {
			return ModelChunk{TextDelta: delta.Content}, nil
		}

		if finish != "" {
			logger.Debug("Model", "Stream finished", map[string]interface{}{
				"finish_reason": finish,
				"call_count":    len(s.toolBuilders),
			})

			s.mu.Lock()
			if finish == "tool_calls" {
				// Map iteration order is random; walk indexes 0..max so
				// proposals keep the model's order.
				maxIdx := -1
				for i := range s.toolBuilders {
					if i > maxIdx {
						maxIdx = i
					}
				}
				for i := 0; i <= maxIdx; i++ {
					b := s.toolBuilders[i]
					if b == nil || b.name == "" {
						continue
					}
					s.queue = append(s.queue, ModelChunk{
						Proposal: proposalFromCall(b.id, b.name, b.args.String()),
					})
				}
				s.toolBuilders = make(map[int]*openAIToolCallBuilder)
			}

			s.queue = append(s.queue, ModelChunk{FinishReason: finish})
			ch := s.queue[0]
			s.queue = s.queue[1:]
			s.mu.Unlock()
			return ch, nil
		}
	}
}

func (s *openAIStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		return nil
	}
	s.done = true
	return s.body.Close()
}
