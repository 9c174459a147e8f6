package model

import (
	"context"
	"strings"

	"github.com/alekspetrov/gitbot/internal/gitboterr"
)

const (
	maxToolArgBytes  = 2000
	maxToolIDLen     = 100
	maxToolNameLen   = 100
	maxToolResultLen = 5000
	truncationSuffix = "\n...[truncated]"
)

// ToolExecutor dispatches one tool call and returns its (possibly large)
// result text, or an error if the tool is unknown or its arguments are
// invalid.
type ToolExecutor interface {
	Execute(ctx context.Context, call ToolCall) (string, error)
}

// RunToolLoop drives the bounded tool-use loop: query the model, and for
// every tool call in the response, execute it and feed the (truncated)
// result back as a tool message, then re-query. Terminates when the model
// stops requesting tools or maxRounds is exhausted. An empty final content
// string (or a response with no choices at all) is treated as a model
// failure, not a successful empty reply.
func RunToolLoop(ctx context.Context, client *Client, req ChatRequest, exec ToolExecutor, maxRounds int) (string, error) {
	messages := append([]Message(nil), req.Messages...)

	var lastContent string
	for round := 0; round < maxRounds; round++ {
		req.Messages = messages
		resp, err := client.Chat(ctx, req)
		if err != nil {
			return "", err
		}
		if len(resp.Choices) == 0 {
			return finalizeContent(lastContent)
		}

		choice := resp.Choices[0]
		lastContent = choice.Message.Content
		messages = append(messages, choice.Message)

		if choice.FinishReason != "tool_calls" || len(choice.Message.ToolCalls) == 0 {
			return finalizeContent(lastContent)
		}

		for _, call := range choice.Message.ToolCalls {
			result, err := executeBoundedTool(ctx, exec, call)
			if err != nil {
				result = "error: " + err.Error()
			}
			messages = append(messages, Message{
				Role:       "tool",
				Content:    truncateResult(result, maxToolResultLen),
				ToolCallID: call.ID,
			})
		}
	}

	return finalizeContent(lastContent)
}

// finalizeContent rejects an empty reply as a model failure rather than a
// successful empty comment; a tool-call round's assistant message routinely
// carries empty content, so the check must run at every exit, not just the
// first round.
func finalizeContent(content string) (string, error) {
	if content == "" {
		return "", &gitboterr.ModelAPIError{Status: 200, Body: "empty response content"}
	}
	return content, nil
}

func executeBoundedTool(ctx context.Context, exec ToolExecutor, call ToolCall) (string, error) {
	if len(call.ID) > maxToolIDLen {
		return "", &gitboterr.ToolError{Tool: call.Function.Name, Cause: errTooLong("tool call id")}
	}
	if len(call.Function.Name) > maxToolNameLen {
		return "", &gitboterr.ToolError{Tool: call.Function.Name, Cause: errTooLong("tool name")}
	}
	if len(call.Function.Arguments) > maxToolArgBytes {
		return "", &gitboterr.ToolError{Tool: call.Function.Name, Cause: errTooLong("tool arguments")}
	}
	return exec.Execute(ctx, call)
}

type tooLongError string

func (e tooLongError) Error() string { return string(e) + " exceeds size limit" }

func errTooLong(what string) error { return tooLongError(what) }

// truncateResult clamps a tool or forge response to maxLen bytes, appending
// a marker so the model knows the text was cut.
func truncateResult(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	cut := maxLen - len(truncationSuffix)
	if cut < 0 {
		cut = 0
	}
	return s[:cut] + truncationSuffix
}

// ExtractJSONArray pulls a JSON array out of a model response that may be
// a bare array, an array inside a fenced code block, or have surrounding
// prose. Returns the substring from the first '[' to its matching ']',
// tracking bracket depth so nested arrays don't terminate early.
func ExtractJSONArray(s string) (string, bool) {
	s = stripCodeFence(s)

	start := strings.IndexByte(s, '[')
	if start < 0 {
		return "", false
	}

	depth := 0
	for i := start; i < len(s); i++ {
		switch s[i] {
		case '[':
			depth++
		case ']':
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}
	return "", false
}

func stripCodeFence(s string) string {
	trimmed := strings.TrimSpace(s)
	if !strings.HasPrefix(trimmed, "```") {
		return s
	}
	trimmed = strings.TrimPrefix(trimmed, "```")
	trimmed = strings.TrimPrefix(trimmed, "json")
	trimmed = strings.TrimPrefix(trimmed, "\n")
	if idx := strings.LastIndex(trimmed, "```"); idx >= 0 {
		trimmed = trimmed[:idx]
	}
	return trimmed
}
