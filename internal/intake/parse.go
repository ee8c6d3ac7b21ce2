package intake

import (
	"encoding/json"
	"errors"
	"regexp"
	"strconv"
	"strings"
)

// objectPattern finds the widest brace-delimited span in a response.
var objectPattern = regexp.MustCompile(`(\{[\s\S]*\})`)

var errNoObject = errors.New("response does not contain a JSON object")

// Parse recovers an extraction result from raw model text. Models often wrap
// JSON in markdown fences or add prose around it; both are tolerated.
func Parse(raw string) (Result, error) {
	candidate := locateObject(raw)

	res, err := decodeObject(candidate)
	if err == nil {
		return res, nil
	}

	m := objectPattern.FindString(candidate)
	if m == "" {
		return Result{}, err
	}
	return decodeObject(m)
}

// locateObject strips fences and backticks and slices from the first '{'
// to the last '}' when both are present.
func locateObject(raw string) string {
	s := strings.TrimSpace(raw)
	switch {
	case strings.HasPrefix(strings.ToLower(s), "```json"):
		s = s[len("```json"):]
	case strings.HasPrefix(s, "```"):
		s = s[len("```"):]
	}
	s = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "```"))
	s = strings.TrimSpace(strings.TrimSuffix(strings.TrimPrefix(s, "`"), "`"))

	start, end := strings.Index(s, "{"), strings.LastIndex(s, "}")
	if start >= 0 && end > start {
		return s[start : end+1]
	}
	return s
}

func decodeObject(s string) (Result, error) {
	var obj map[string]any
	if err := json.Unmarshal([]byte(s), &obj); err != nil {
		return Result{}, err
	}
	if obj == nil {
		return Result{}, errNoObject
	}
	return Result{
		Name:     field(obj, "name"),
		Strength: field(obj, "strength"),
		Expiry:   field(obj, "expiry"),
		Brand:    field(obj, "brand"),
	}, nil
}

// field reads a scalar as a string. Missing keys, nulls and nested values
// read as absent.
func field(obj map[string]any, key string) *string {
	var s string
	switch v := obj[key].(type) {
	case string:
		s = v
	case float64:
		s = strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		s = strconv.FormatBool(v)
	default:
		return nil
	}
	return &s
}
