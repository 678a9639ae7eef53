package response

import (
	"bufio"
	"io"
	"strings"

	"github.com/google/uuid"
	"github.com/relaycore/claude-router/internal/apierrors"
	"github.com/relaycore/claude-router/internal/reasoning"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// StreamState tracks the single open Anthropic content block for one
// in-flight request's C9 correlation, grounded on NodeNestor-CodeGate's
// ConvertSSEStream state-tracking fields (startedBlocks/nextContentBlockIndex)
// generalized to spec.md §4.4's "at most one open block" invariant.
type StreamState struct {
	messageStarted bool
	nextIndex      int
	openBlockType  string // "", "text", "thinking", "tool_use", or a custom block type
	openIndex      int
	stopReason     string
	usageJSON      string

	// Reasoning and function-call identity arrive on
	// response.output_item.added, ahead of the delta events that need it.
	pendingRSID      string
	pendingEncrypted string
	pendingCalls     map[string]pendingCall // item_id -> call identity
}

type pendingCall struct {
	callID string
	name   string
}

func newStreamState() *StreamState {
	return &StreamState{
		stopReason:   "end_turn",
		usageJSON:    `{"input_tokens":0,"output_tokens":0,"total_tokens":0}`,
		pendingCalls: map[string]pendingCall{},
	}
}

// ConvertResponsesSSEStream correlates a Responses API SSE event stream
// (the openai adapter's downstream shape) into an Anthropic SSE stream,
// grounded on responses_response_adapter.py's adapt_stream for the
// event-type-to-Anthropic-event mapping and on NodeNestor-CodeGate's
// ConvertSSEStream for the io.Pipe()+goroutine+bufio.Scanner shape.
func ConvertResponsesSSEStream(reader io.Reader, originalModel string) io.ReadCloser {
	pr, pw := io.Pipe()

	go func() {
		defer pw.Close()
		state := newStreamState()

		scanner := bufio.NewScanner(reader)
		scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" || !strings.HasPrefix(line, "data: ") {
				continue
			}
			data := line[len("data: "):]
			if data == "[DONE]" {
				return
			}
			event := gjson.Parse(data)
			if event.Get("type").String() == "error" {
				failResponsesStream(pw, state, event)
				return
			}
			handleResponsesEvent(pw, state, event, originalModel)
			if event.Get("type").String() == "response.completed" {
				return
			}
		}
		if scanner.Err() != nil {
			failResponsesStream(pw, state, gjson.Result{})
		}
	}()

	return pr
}

func handleResponsesEvent(pw *io.PipeWriter, state *StreamState, event gjson.Result, originalModel string) {
	switch event.Get("type").String() {
	case "response.created":
		if !state.messageStarted {
			state.messageStarted = true
			writeMessageStart(pw, originalModel)
		}

	case "response.output_item.added":
		item := event.Get("item")
		switch item.Get("type").String() {
		case "reasoning":
			state.pendingRSID = item.Get("id").String()
			state.pendingEncrypted = item.Get("encrypted_content").String()
		case "function_call":
			state.pendingCalls[item.Get("id").String()] = pendingCall{
				callID: item.Get("call_id").String(),
				name:   item.Get("name").String(),
			}
		}

	case "response.output_text.delta":
		ensureBlockOpen(pw, state, "text", `{"type":"text","text":""}`)
		writeDelta(pw, state.openIndex, `{"type":"text_delta","text":""}`, "text", event.Get("delta").String())

	case "response.output_text.done":
		closeOpenBlock(pw, state)

	case "response.output_text.annotation.added":
		annotation := event.Get("annotation")
		if annotation.Get("type").String() != "url_citation" {
			break
		}
		// A search result is a complete block of its own: close whatever
		// is open, then emit start+stop back to back at a fresh index so
		// the block grammar stays balanced.
		closeOpenBlock(pw, state)
		result := `{"type":"web_search_tool_result","tool_use_id":"","content":[]}`
		result, _ = sjson.Set(result, "tool_use_id", webSearchToolUseID(event.Get("item_id").String()))
		result, _ = sjson.SetRaw(result, "content.-1", webSearchResult(annotation))
		ensureBlockOpen(pw, state, "web_search_tool_result", result)
		closeOpenBlock(pw, state)

	case "response.function_call_arguments.delta":
		if state.openBlockType != "tool_use" {
			call, ok := state.pendingCalls[event.Get("item_id").String()]
			if !ok {
				call = pendingCall{callID: event.Get("call_id").String(), name: event.Get("name").String()}
			}
			callStart := `{"type":"tool_use","id":"","name":"","input":{}}`
			callStart, _ = sjson.Set(callStart, "id", call.callID)
			callStart, _ = sjson.Set(callStart, "name", call.name)
			ensureBlockOpen(pw, state, "tool_use", callStart)
		}
		writeDelta(pw, state.openIndex, `{"type":"input_json_delta","partial_json":""}`, "partial_json", event.Get("arguments_delta").String())

	case "response.function_call_arguments.done":
		closeOpenBlock(pw, state)

	case "response.reasoning_summary_text.delta":
		if state.openBlockType != "thinking" {
			rsID, enc := state.pendingRSID, state.pendingEncrypted
			if rsID == "" {
				rsID = event.Get("item_id").String()
			}
			if enc == "" {
				enc = event.Get("encrypted_content").String()
			}
			// The encrypted payload rides only on this content_block_start,
			// never on a thinking_delta.
			block := reasoning.InjectFromResponse(`{"type":"thinking","thinking":""}`, rsID, enc)
			ensureBlockOpen(pw, state, "thinking", block)
		}
		writeDelta(pw, state.openIndex, `{"type":"thinking_delta","thinking":""}`, "thinking", event.Get("delta").String())

	case "response.reasoning_summary_text.done":
		closeOpenBlock(pw, state)
		state.pendingRSID, state.pendingEncrypted = "", ""

	case "response.completed":
		closeOpenBlock(pw, state)
		status := event.Get("response.status")
		if !status.Exists() {
			status = event.Get("status")
		}
		if status.Exists() {
			state.stopReason = mapStopReason(status.String())
		}
		usage := event.Get("response.usage")
		if !usage.Exists() {
			usage = event.Get("usage")
		}
		writeMessageDelta(pw, state.stopReason, mapUsage(usage))
		writeMessageStop(pw)
	}
}

// ConvertChatCompletionsSSEStream correlates a Chat Completions delta-chunk
// SSE stream (the openai-compatible adapter's downstream shape) into an
// Anthropic SSE stream, grounded on NodeNestor-CodeGate's ConvertSSEStream
// (its `delta.content`/`delta.tool_calls[]`/`delta.reasoning_content`
// handling), generalized to route any registered custom field through
// customFieldBlockType instead of a single hardcoded reasoning_content check.
func ConvertChatCompletionsSSEStream(reader io.Reader, originalModel string) io.ReadCloser {
	pr, pw := io.Pipe()

	go func() {
		defer pw.Close()
		state := newStreamState()
		toolCallIndex := map[int64]int{}

		scanner := bufio.NewScanner(reader)
		scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" || !strings.HasPrefix(line, "data: ") {
				continue
			}
			data := line[len("data: "):]
			if data == "[DONE]" {
				closeOpenBlock(pw, state)
				writeMessageDelta(pw, state.stopReason, state.usageJSON)
				writeMessageStop(pw)
				return
			}

			chunk := gjson.Parse(data)
			if !state.messageStarted {
				state.messageStarted = true
				writeMessageStart(pw, originalModel)
			}
			if usage := chunk.Get("usage"); usage.IsObject() {
				state.usageJSON = mapChatUsage(usage)
			}

			choice := chunk.Get("choices.0")
			delta := choice.Get("delta")

			if content := delta.Get("content"); content.Exists() && content.String() != "" {
				ensureBlockOpen(pw, state, "text", `{"type":"text","text":""}`)
				writeDelta(pw, state.openIndex, `{"type":"text_delta","text":""}`, "text", content.String())
			}

			for _, tc := range delta.Get("tool_calls").Array() {
				idx := tc.Get("index").Int()
				if name := tc.Get("function.name").String(); name != "" {
					if _, known := toolCallIndex[idx]; !known {
						closeOpenBlock(pw, state)
						callStart := `{"type":"tool_use","id":"","name":"","input":{}}`
						callStart, _ = sjson.Set(callStart, "id", tc.Get("id").String())
						callStart, _ = sjson.Set(callStart, "name", name)
						ensureBlockOpen(pw, state, "tool_use", callStart)
						toolCallIndex[idx] = state.openIndex
					}
				}
				if args := tc.Get("function.arguments").String(); args != "" {
					if blockIdx, ok := toolCallIndex[idx]; ok {
						writeDelta(pw, blockIdx, `{"type":"input_json_delta","partial_json":""}`, "partial_json", args)
					}
				}
			}

			delta.ForEach(func(key, value gjson.Result) bool {
				field := key.String()
				if isStandardField(field) {
					return true
				}
				blockType, ok := customFieldBlockType(field)
				if !ok || value.String() == "" {
					return true
				}
				ensureBlockOpen(pw, state, blockType, `{"type":"`+blockType+`","`+textKeyFor(blockType)+`":""}`)
				writeDelta(pw, state.openIndex, `{"type":"`+deltaTypeFor(blockType)+`","`+textKeyFor(blockType)+`":""}`, textKeyFor(blockType), value.String())
				return true
			})

			if fr := choice.Get("finish_reason").String(); fr != "" {
				state.stopReason = mapStopReason(fr)
			}
		}
		if err := scanner.Err(); err != nil {
			if !state.messageStarted {
				state.messageStarted = true
				writeMessageStart(pw, originalModel)
			}
			closeOpenBlock(pw, state)
			writeMessageDelta(pw, "end_turn", state.usageJSON)
			writeErrorEvent(pw, apierrors.Wrap(apierrors.KindAPIError, err, "downstream stream read failed"))
			writeMessageStop(pw)
		}
	}()

	return pr
}

func textKeyFor(blockType string) string {
	if blockType == "thinking" {
		return "thinking"
	}
	return "text"
}

func deltaTypeFor(blockType string) string {
	if blockType == "thinking" {
		return "thinking_delta"
	}
	return "text_delta"
}

func failResponsesStream(pw *io.PipeWriter, state *StreamState, event gjson.Result) {
	if !state.messageStarted {
		state.messageStarted = true
		writeMessageStart(pw, "")
	}
	closeOpenBlock(pw, state)
	writeMessageDelta(pw, "end_turn", `{"input_tokens":0,"output_tokens":0,"total_tokens":0}`)
	message := event.Get("error.message").String()
	if message == "" {
		message = "downstream stream error"
	}
	kind := apierrors.KindAPIError
	writeErrorEvent(pw, apierrors.New(kind, message))
	writeMessageStop(pw)
}

// ensureBlockOpen opens a fresh content block of blockType when one is not
// already open, closing whatever was open first. Block indices always come
// from state.nextIndex, preserving strict zero-based monotonicity (spec.md
// §4.4 invariant).
func ensureBlockOpen(pw *io.PipeWriter, state *StreamState, blockType, startBlock string) {
	if state.openBlockType == blockType {
		return
	}
	closeOpenBlock(pw, state)

	idx := state.nextIndex
	state.nextIndex++
	state.openBlockType = blockType
	state.openIndex = idx

	event := `{"type":"content_block_start","index":0,"content_block":{}}`
	event, _ = sjson.Set(event, "index", idx)
	event, _ = sjson.SetRaw(event, "content_block", startBlock)
	writeEventLine(pw, event)
}

func closeOpenBlock(pw *io.PipeWriter, state *StreamState) {
	if state.openBlockType == "" {
		return
	}
	event := `{"type":"content_block_stop","index":0}`
	event, _ = sjson.Set(event, "index", state.openIndex)
	writeEventLine(pw, event)
	state.openBlockType = ""
}

func writeDelta(pw *io.PipeWriter, index int, deltaTemplate, field, value string) {
	delta, _ := sjson.Set(deltaTemplate, field, value)
	event := `{"type":"content_block_delta","index":0,"delta":{}}`
	event, _ = sjson.Set(event, "index", index)
	event, _ = sjson.SetRaw(event, "delta", delta)
	writeEventLine(pw, event)
}

func writeMessageStart(pw *io.PipeWriter, model string) {
	message := `{"id":"","type":"message","role":"assistant","model":"","content":[],"stop_reason":null,"usage":{"input_tokens":0,"output_tokens":0}}`
	message, _ = sjson.Set(message, "id", "msg_"+uuid.NewString())
	message, _ = sjson.Set(message, "model", model)
	event := `{"type":"message_start","message":{}}`
	event, _ = sjson.SetRaw(event, "message", message)
	writeEventLine(pw, event)
}

func writeMessageDelta(pw *io.PipeWriter, stopReason, usageJSON string) {
	event := `{"type":"message_delta","delta":{"stop_reason":"","stop_sequence":null},"usage":{}}`
	event, _ = sjson.Set(event, "delta.stop_reason", stopReason)
	event, _ = sjson.SetRaw(event, "usage", usageJSON)
	writeEventLine(pw, event)
}

func writeMessageStop(pw *io.PipeWriter) {
	writeEventLine(pw, `{"type":"message_stop"}`)
}

func writeErrorEvent(pw *io.PipeWriter, err *apierrors.Error) {
	event := `{"type":"error","error":{"type":"","message":""}}`
	errorObject := gjson.GetBytes(err.ToAnthropicBody(), "error").Raw
	event, _ = sjson.SetRaw(event, "error", errorObject)
	writeEventLine(pw, event)
}

// writeEventLine writes one Anthropic SSE frame: an `event:` line naming
// the event (read back off the payload's own `type` field) followed by the
// `data:` line, per spec.md §6's named-event wire format.
func writeEventLine(pw *io.PipeWriter, payload string) {
	eventName := gjson.Get(payload, "type").String()
	_, _ = io.WriteString(pw, "event: "+eventName+"\ndata: "+payload+"\n\n")
}
