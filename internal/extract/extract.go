// Package extract implements the Tool-Call Extractor (spec §4.6): pulling
// a `{name, args}` tool invocation out of a raw assistant response string
// under any of four JSON schemas, tolerant of surrounding prose, fenced
// code blocks, and `<think>...</think>` reasoning spans.
package extract

import (
	"encoding/json"
	"regexp"
	"strings"
)

// thinkSpanPattern strips <think>...</think> reasoning markers some models
// emit before their actual response (spec §4.6 step 1).
var thinkSpanPattern = regexp.MustCompile(`(?s)<think>.*?</think>`)

// fencedJSONPattern prefers JSON enclosed in a fenced code block (spec
// §4.6 step 2), optionally tagged ```json.
var fencedJSONPattern = regexp.MustCompile("(?s)```(?:json)?\\s*\\n?(.*?)```")

// StripThink removes every <think>...</think> span from text. Exported so
// the orchestrator can reuse it to build the user-visible form of a
// response (spec §4.7 step 5) without re-deriving the pattern.
func StripThink(text string) string {
	return thinkSpanPattern.ReplaceAllString(text, "")
}

// Result is a successfully extracted tool call.
type Result struct {
	Name string
	Args map[string]any
}

// Extract returns the first tool call found in raw, or ok=false if none of
// the candidate JSON substrings matched any of the four known schemas.
// isTool reports whether a name is a registered tool; the {name, parameters}
// schema matches only registered names, since "name" alone is too generic a
// key to treat arbitrary structured output as a tool call. A nil isTool
// disables that schema. Extract never panics; malformed candidates are
// silently skipped (spec §4.6: "the extractor never raises").
func Extract(raw string, isTool func(name string) bool) (Result, bool) {
	stripped := StripThink(raw)

	candidates := candidateOrder(stripped)
	for _, candidate := range candidates {
		if result, ok := tryParse(candidate, isTool); ok {
			return result, true
		}
	}
	return Result{}, false
}

// candidateOrder builds the ordered list of JSON substrings to try:
// fenced blocks first (spec step 2), then every balanced {...} substring
// found by a brace-matching scan, outermost first (spec step 3).
func candidateOrder(text string) []string {
	var out []string
	for _, m := range fencedJSONPattern.FindAllStringSubmatch(text, -1) {
		trimmed := strings.TrimSpace(m[1])
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	out = append(out, balancedBraceSubstrings(text)...)
	return out
}

// balancedBraceSubstrings scans text for every substring that starts at a
// '{' and ends at its matching '}', tracking string/escape state so braces
// inside string literals don't confuse the match. Substrings are returned
// outermost-first: for nested objects sharing an opening brace, the
// longest (outermost) span comes first.
func balancedBraceSubstrings(text string) []string {
	type span struct{ start, end int }
	var spans []span

	var stack []int
	inString := false
	escaped := false

	for i := 0; i < len(text); i++ {
		c := text[i]
		if inString {
			if escaped {
				escaped = false
			} else if c == '\\' {
				escaped = true
			} else if c == '"' {
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			stack = append(stack, i)
		case '}':
			if len(stack) == 0 {
				continue
			}
			start := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			spans = append(spans, span{start: start, end: i + 1})
		}
	}

	// Group spans by start position; within a group the largest (last
	// closed, i.e. outermost) span comes first. Then order groups by
	// ascending start so earlier-appearing objects are tried first,
	// matching the Python original's outermost-first, left-to-right walk.
	byStart := make(map[int][]span)
	var starts []int
	for _, s := range spans {
		if _, ok := byStart[s.start]; !ok {
			starts = append(starts, s.start)
		}
		byStart[s.start] = append(byStart[s.start], s)
	}
	sortInts(starts)

	var out []string
	for _, start := range starts {
		group := byStart[start]
		// Longest span (outermost) first.
		for i := range group {
			for j := i + 1; j < len(group); j++ {
				if group[j].end-group[j].start > group[i].end-group[i].start {
					group[i], group[j] = group[j], group[i]
				}
			}
		}
		for _, s := range group {
			out = append(out, text[s.start:s.end])
		}
	}
	return out
}

func sortInts(a []int) {
	for i := 1; i < len(a); i++ {
		for j := i; j > 0 && a[j-1] > a[j]; j-- {
			a[j-1], a[j] = a[j], a[j-1]
		}
	}
}

// tryParse attempts to parse candidate as JSON and match it against the
// four known tool-call schemas, in the order spec §4.6 step 4 specifies.
func tryParse(candidate string, isTool func(name string) bool) (Result, bool) {
	var obj map[string]any
	if err := json.Unmarshal([]byte(candidate), &obj); err != nil {
		return Result{}, false
	}

	// Schema 1: {tool, args} — canonical. If args is absent, synthesize it
	// from the remaining keys (excluding "tool").
	if toolName, ok := obj["tool"].(string); ok {
		args, ok := obj["args"].(map[string]any)
		if !ok {
			args = map[string]any{}
			for k, v := range obj {
				if k != "tool" {
					args[k] = v
				}
			}
		}
		return Result{Name: toolName, Args: args}, true
	}

	// Schema 2: {action, action_input} — LangChain-style.
	if action, ok := obj["action"].(string); ok {
		if input, ok := obj["action_input"].(map[string]any); ok {
			return Result{Name: action, Args: input}, true
		}
		if _, hasInput := obj["action_input"]; hasInput {
			// action_input present but not an object (e.g. a bare string);
			// still a match, just with no structured args.
			return Result{Name: action, Args: map[string]any{}}, true
		}
	}

	// Schema 3: {name, parameters}, only when name is a registered tool —
	// "name" is too common a key to match unconditionally.
	if name, ok := obj["name"].(string); ok && isTool != nil && isTool(name) {
		if params, ok := obj["parameters"].(map[string]any); ok {
			return Result{Name: name, Args: params}, true
		}
	}

	// Schema 4: {function, arguments}, where arguments may be a JSON
	// string requiring a second parse (native OpenAI-style tool_calls).
	if fn, ok := obj["function"].(string); ok {
		if argsObj, ok := obj["arguments"].(map[string]any); ok {
			return Result{Name: fn, Args: argsObj}, true
		}
		if argsStr, ok := obj["arguments"].(string); ok {
			var nested map[string]any
			if err := json.Unmarshal([]byte(argsStr), &nested); err == nil {
				return Result{Name: fn, Args: nested}, true
			}
		}
	}

	return Result{}, false
}
