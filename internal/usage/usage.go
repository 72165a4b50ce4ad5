// Package usage extracts token usage reported by trial containers.
//
// A container reports usage by printing one JSON object per line on stdout,
// e.g. {"model":"claude-sonnet","input_tokens":1200,"output_tokens":300}.
// Lines that are not JSON, or carry no model, are ignored.
package usage

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

type Record struct {
	Provider     string `json:"provider,omitempty"`
	Model        string `json:"model"`
	InputTokens  int    `json:"input_tokens"`
	OutputTokens int    `json:"output_tokens"`
}

// Parse reads usage records from r.
func Parse(r io.Reader) ([]Record, error) {
	var records []Record
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if !strings.HasPrefix(line, "{") {
			continue
		}
		var rec Record
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			continue
		}
		if rec.Model != "" {
			records = append(records, rec)
		}
	}
	if err := sc.Err(); err != nil {
		return records, fmt.Errorf("reading usage: %w", err)
	}
	return records, nil
}

// ParseString is Parse over captured output.
func ParseString(s string) []Record {
	records, _ := Parse(strings.NewReader(s))
	return records
}

func Total(records []Record) (inputTokens, outputTokens int) {
	for _, r := range records {
		inputTokens += r.InputTokens
		outputTokens += r.OutputTokens
	}
	return
}
