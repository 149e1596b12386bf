package llm

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

var (
	// jsonBlockPattern matches JSON inside markdown code blocks.
	jsonBlockPattern = regexp.MustCompile("(?s)```(?:json)?\\s*\\n?(\\{.*\\})\\s*```")
	// jsonObjectPattern matches the outermost braces.
	jsonObjectPattern    = regexp.MustCompile(`(?s)\{[\s\S]*\}`)
	trailingCommaPattern = regexp.MustCompile(`,\s*([}\]])`)
)

// ExtractJSON pulls a JSON object out of model output, tolerating markdown
// fences, line comments and trailing commas. It returns "" if none is found.
func ExtractJSON(content string) string {
	var raw string
	if m := jsonBlockPattern.FindStringSubmatch(content); len(m) > 1 {
		raw = m[1]
	} else {
		raw = jsonObjectPattern.FindString(content)
	}
	if raw == "" {
		return ""
	}
	lines := strings.Split(raw, "\n")
	for i, line := range lines {
		lines[i] = stripLineComment(line)
	}
	return trailingCommaPattern.ReplaceAllString(strings.Join(lines, "\n"), "$1")
}

// NormalizeJSON returns the JSON object held in content, or ErrParse.
func NormalizeJSON(content string) (string, error) {
	obj := ExtractJSON(content)
	if obj == "" || !json.Valid([]byte(obj)) {
		return "", fmt.Errorf("%w: no json object in output", ErrParse)
	}
	return obj, nil
}

func stripLineComment(line string) string {
	if !strings.Contains(line, "//") {
		return line
	}
	inString, escaped := false, false
	for i := 0; i < len(line); i++ {
		ch := line[i]
		switch {
		case escaped:
			escaped = false
		case ch == '\\' && inString:
			escaped = true
		case ch == '"':
			inString = !inString
		case !inString && ch == '/' && i+1 < len(line) && line[i+1] == '/':
			return strings.TrimRight(line[:i], " \t")
		}
	}
	return line
}

func decodeStrict(content string, v any) error {
	obj, err := NormalizeJSON(content)
	if err != nil {
		return err
	}
	return json.Unmarshal([]byte(obj), v)
}
