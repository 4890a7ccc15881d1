package sandbox

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/scanguard/scanguard/internal/model"
)

// executionPayload is the wire shape the harness prints to stdout.
type executionPayload struct {
	Success  bool                     `json:"success"`
	Results  []model.Signal           `json:"results"`
	Error    string                   `json:"error"`
	Metadata *model.ExecutionMetadata `json:"metadata"`
}

// parsePayload recovers the harness result object from combined process
// output. The child interleaves free-text progress logging around its
// payload, so the block scan tolerates arbitrary text before, after, and
// between result objects; the line scan remains as a compatibility shim for
// output whose interleaving defeats the block scan.
func parsePayload(output string) (executionPayload, error) {
	block, ok := extractResultBlock(output)
	if !ok {
		block, ok = extractResultLine(output)
	}
	if !ok {
		return executionPayload{}, errors.New("no structured result object in output")
	}

	var payload executionPayload
	if err := json.Unmarshal([]byte(block), &payload); err != nil {
		return executionPayload{}, fmt.Errorf("malformed result object: %w", err)
	}
	return payload, nil
}

// extractResultBlock returns the last well-formed JSON object in the output
// that carries a top-level "success" key. Brace-balanced candidates are
// checked left to right; the last valid one wins.
func extractResultBlock(output string) (string, bool) {
	var last string
	for i := 0; i < len(output); {
		if output[i] != '{' {
			i++
			continue
		}
		end, ok := balancedObjectEnd(output, i)
		if !ok {
			i++
			continue
		}
		candidate := output[i : end+1]
		if isResultObject(candidate) {
			last = candidate
			i = end + 1
			continue
		}
		i++
	}
	if last == "" {
		return "", false
	}
	return last, true
}

// extractResultLine reverse-scans lines for one that is itself a result
// object.
func extractResultLine(output string) (string, bool) {
	lines := strings.Split(output, "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		if !strings.HasPrefix(line, "{") || !strings.HasSuffix(line, "}") {
			continue
		}
		if isResultObject(line) {
			return line, true
		}
	}
	return "", false
}

func isResultObject(candidate string) bool {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal([]byte(candidate), &probe); err != nil {
		return false
	}
	_, ok := probe["success"]
	return ok
}

// balancedObjectEnd walks forward from an opening brace, tracking depth and
// skipping string literals, and returns the index of the balancing brace.
func balancedObjectEnd(s string, start int) (int, bool) {
	depth := 0
	inString := false
	escaped := false

	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i, true
			}
		}
	}
	return 0, false
}
