package extract

import "testing"

func TestExtractCanonicalSchema(t *testing.T) {
	raw := `I'll check the file now.

` + "```json" + `
{"tool": "read_file", "args": {"path": "/tmp/notes.txt"}}
` + "```"

	result, ok := Extract(raw, nil)
	if !ok {
		t.Fatalf("expected a match")
	}
	if result.Name != "read_file" {
		t.Errorf("name = %q, want read_file", result.Name)
	}
	if result.Args["path"] != "/tmp/notes.txt" {
		t.Errorf("args[path] = %v", result.Args["path"])
	}
}

func TestExtractRoundTripNoSurroundingProse(t *testing.T) {
	raw := `{"tool": "search", "args": {"q": "go modules"}}`
	result, ok := Extract(raw, nil)
	if !ok || result.Name != "search" {
		t.Fatalf("round trip failed: %+v ok=%v", result, ok)
	}
}

func TestExtractThinkSpanThenFencedJSON(t *testing.T) {
	raw := "<think>I should read the file first</think>\n```json\n{\"tool\": \"read\", \"args\": {\"path\": \"a.txt\"}}\n```"
	result, ok := Extract(raw, nil)
	if !ok || result.Name != "read" {
		t.Fatalf("expected tool call to survive think-strip, got %+v ok=%v", result, ok)
	}
}

func TestExtractThinkOnlyIsFinalAnswer(t *testing.T) {
	raw := "<think>just thinking, nothing to call</think>"
	_, ok := Extract(raw, nil)
	if ok {
		t.Fatalf("expected no tool call for think-only response")
	}
}

func TestExtractLangChainStyle(t *testing.T) {
	raw := `{"action": "web_search", "action_input": {"query": "weather"}}`
	result, ok := Extract(raw, nil)
	if !ok || result.Name != "web_search" || result.Args["query"] != "weather" {
		t.Fatalf("got %+v ok=%v", result, ok)
	}
}

func TestExtractNameParametersRequiresRegisteredTool(t *testing.T) {
	raw := `prose before {"name": "calc", "parameters": {"expr": "2+2"}} prose after`
	isTool := func(name string) bool { return name == "calc" }

	result, ok := Extract(raw, isTool)
	if !ok || result.Name != "calc" || result.Args["expr"] != "2+2" {
		t.Fatalf("got %+v ok=%v", result, ok)
	}

	// An unregistered name must not match: {"name": ...} is too common a
	// shape to treat arbitrary structured output as a tool call.
	if _, ok := Extract(raw, func(string) bool { return false }); ok {
		t.Fatal("expected no match for an unregistered name")
	}
	if _, ok := Extract(raw, nil); ok {
		t.Fatal("expected no match with a nil registry predicate")
	}
}

func TestExtractFunctionArgumentsStringified(t *testing.T) {
	raw := `{"function": "lookup", "arguments": "{\"id\": 42}"}`
	result, ok := Extract(raw, nil)
	if !ok || result.Name != "lookup" {
		t.Fatalf("got %+v ok=%v", result, ok)
	}
	if id, ok := result.Args["id"].(float64); !ok || id != 42 {
		t.Errorf("args[id] = %v", result.Args["id"])
	}
}

func TestExtractMalformedCandidateSkipped(t *testing.T) {
	raw := `{not valid json at all} then later {"tool": "ping", "args": {}}`
	result, ok := Extract(raw, nil)
	if !ok || result.Name != "ping" {
		t.Fatalf("expected fallback to the valid candidate, got %+v ok=%v", result, ok)
	}
}

func TestExtractNoJSONIsFinalAnswer(t *testing.T) {
	_, ok := Extract("The answer is 4.", nil)
	if ok {
		t.Fatalf("expected no tool call in plain prose")
	}
}

func TestExtractOutermostPreferredOverNested(t *testing.T) {
	raw := `{"tool": "outer", "args": {"nested": {"tool": "inner", "args": {}}}}`
	result, ok := Extract(raw, nil)
	if !ok || result.Name != "outer" {
		t.Fatalf("expected outermost object to win, got %+v ok=%v", result, ok)
	}
}

func TestExtractReasoningPrefixIsNotStripped(t *testing.T) {
	raw := "[Reasoning] I considered several tools but none apply here."
	_, ok := Extract(raw, nil)
	if ok {
		t.Fatalf("[Reasoning]-prefixed prose should fall through as a final answer, not a tool call")
	}
}
