package transcript

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// ContextExt is the file extension used for saved continuation contexts.
const ContextExt = ".context"

// FormatContext renders tokens as comma-delimited decimal text.
func FormatContext(tokens []int) string {
	parts := make([]string, len(tokens))
	for i, tok := range tokens {
		parts[i] = strconv.Itoa(tok)
	}
	return strings.Join(parts, ",")
}

// ParseContext reads text written by FormatContext. Empty input is an empty
// context.
func ParseContext(text string) ([]int, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return []int{}, nil
	}
	fields := strings.Split(text, ",")
	tokens := make([]int, 0, len(fields))
	for i, f := range fields {
		tok, err := strconv.Atoi(strings.TrimSpace(f))
		if err != nil {
			return nil, fmt.Errorf("context token %d: %w", i, err)
		}
		tokens = append(tokens, tok)
	}
	return tokens, nil
}

// SaveContext writes tokens to path, adding the .context extension when it
// is missing, and returns the path actually written.
func SaveContext(path string, tokens []int) (string, error) {
	if filepath.Ext(path) != ContextExt {
		path += ContextExt
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", err
		}
	}
	if err := os.WriteFile(path, []byte(FormatContext(tokens)), 0o644); err != nil {
		return "", err
	}
	return path, nil
}

// LoadContext reads a context previously written by SaveContext.
func LoadContext(path string) ([]int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	tokens, err := ParseContext(string(data))
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}
	return tokens, nil
}
