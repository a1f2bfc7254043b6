package recommend

import (
	"bytes"
	"encoding/json"
	"errors"
	"regexp"
	"strconv"
	"strings"
)

// ErrNoSuggestions is returned by parsers that found nothing usable.
var ErrNoSuggestions = errors.New("no suggestions found in response")

// ResponseParser extracts suggestions from free-form model output.
type ResponseParser interface {
	Parse(text string) ([]Suggestion, error)
}

// DefaultParser tries the JSON array first and falls back to line markers.
func DefaultParser() ResponseParser {
	return ChainParser{JSONArrayParser{}, LineParser{}}
}

// ChainParser returns the result of the first parser that yields suggestions.
type ChainParser []ResponseParser

func (c ChainParser) Parse(text string) ([]Suggestion, error) {
	for _, p := range c {
		out, err := p.Parse(text)
		if err == nil && len(out) > 0 {
			return out, nil
		}
	}
	return nil, ErrNoSuggestions
}

// JSONArrayParser finds the first JSON array of suggestion objects anywhere
// in the text, skipping prose and code fences around it.
type JSONArrayParser struct{}

type rawSuggestion struct {
	Title  string          `json:"title"`
	Author json.RawMessage `json:"author"`
	Genre  json.RawMessage `json:"genre"`
	Genres json.RawMessage `json:"genres"`
	Year   json.RawMessage `json:"year"`
	Reason json.RawMessage `json:"reason"`
}

func (JSONArrayParser) Parse(text string) ([]Suggestion, error) {
	for start := strings.IndexByte(text, '['); start >= 0; {
		if end := matchBracket(text, start); end > start {
			if out, ok := decodeArray(text[start : end+1]); ok {
				return out, nil
			}
		}
		next := strings.IndexByte(text[start+1:], '[')
		if next < 0 {
			break
		}
		start += next + 1
	}
	return nil, ErrNoSuggestions
}

// matchBracket returns the index of the ']' closing the '[' at start, or -1.
// Brackets inside JSON strings are ignored.
func matchBracket(s string, start int) int {
	depth := 0
	inString, escaped := false, false
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
		case '[':
			depth++
		case ']':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

// decodeArray decodes each element on its own so one malformed entry does
// not discard the rest.
func decodeArray(raw string) ([]Suggestion, bool) {
	var elems []json.RawMessage
	if err := json.Unmarshal([]byte(raw), &elems); err != nil {
		return nil, false
	}

	out := make([]Suggestion, 0, len(elems))
	for _, elem := range elems {
		var it rawSuggestion
		if err := json.Unmarshal(elem, &it); err != nil {
			continue
		}
		s := Suggestion{
			Title:  strings.TrimSpace(it.Title),
			Author: decodeText(it.Author),
			Reason: decodeText(it.Reason),
			Genres: decodeGenres(it.Genre),
			Year:   decodeYear(it.Year),
		}
		if len(s.Genres) == 0 {
			s.Genres = decodeGenres(it.Genres)
		}
		if s.Title == "" {
			continue
		}
		out = append(out, s)
	}
	return out, len(out) > 0
}

// decodeText accepts a string, a list of strings (joined with ", ") or a
// number. Anything else is empty.
func decodeText(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return ""
	}

	var one string
	if err := json.Unmarshal(raw, &one); err == nil {
		return strings.TrimSpace(one)
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err == nil {
		return strings.Join(cleanGenres(list), ", ")
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	return ""
}

// decodeGenres accepts "Fantasy", "Fantasy, Adventure" or ["Fantasy"].
func decodeGenres(raw json.RawMessage) []string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil
	}

	var list []string
	if err := json.Unmarshal(raw, &list); err == nil {
		return cleanGenres(list)
	}
	var one string
	if err := json.Unmarshal(raw, &one); err == nil {
		return splitGenres(one)
	}
	return nil
}

var yearPattern = regexp.MustCompile(`-?\d{1,4}`)

// decodeYear accepts 1965, 1965.0, "1965" or "c. 1965".
func decodeYear(raw json.RawMessage) *int {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil
	}

	var n float64
	if err := json.Unmarshal(raw, &n); err == nil {
		y := int(n)
		return &y
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return parseYear(s)
	}
	return nil
}

func parseYear(s string) *int {
	m := yearPattern.FindString(s)
	if m == "" {
		return nil
	}
	y, err := strconv.Atoi(m)
	if err != nil {
		return nil
	}
	return &y
}

func splitGenres(s string) []string {
	return cleanGenres(strings.FieldsFunc(s, func(r rune) bool {
		return r == ',' || r == '/' || r == ';'
	}))
}

func cleanGenres(in []string) []string {
	out := make([]string, 0, len(in))
	for _, g := range in {
		if g = strings.Trim(g, " \t\"'"); g != "" {
			out = append(out, g)
		}
	}
	return out
}

// LineParser reads "Title: ...", "Author: ..." style markers, one field per
// line. Every title marker starts a new suggestion. Bullets, numbering,
// markdown emphasis and JSON-style quoted keys are tolerated.
type LineParser struct{}

var lineMarker = regexp.MustCompile(
	`(?i)^\s*(?:[-*•]\s*|\d+[.)]\s*)?(?:\*\*|__)?"?(title|author|genres?|year|reason)"?(?:\*\*|__)?\s*:\s*(?:\*\*|__)?\s*(.*)$`,
)

func (LineParser) Parse(text string) ([]Suggestion, error) {
	var out []Suggestion
	var cur *Suggestion

	flush := func() {
		if cur != nil && cur.Title != "" {
			out = append(out, *cur)
		}
		cur = nil
	}

	for _, line := range strings.Split(text, "\n") {
		m := lineMarker.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		field, value := strings.ToLower(m[1]), cleanValue(m[2])

		if field == "title" {
			flush()
			cur = &Suggestion{Title: value}
			continue
		}
		if cur == nil {
			continue
		}

		switch field {
		case "author":
			cur.Author = value
		case "genre", "genres":
			cur.Genres = splitGenres(strings.Trim(value, "[]"))
		case "year":
			cur.Year = parseYear(value)
		case "reason":
			cur.Reason = value
		}
	}
	flush()

	if len(out) == 0 {
		return nil, ErrNoSuggestions
	}
	return out, nil
}

// cleanValue strips JSON punctuation and markdown from a marker value.
func cleanValue(v string) string {
	v = strings.TrimSpace(v)
	v = strings.TrimSuffix(v, ",")
	v = strings.TrimSpace(v)
	v = strings.TrimSuffix(v, "**")
	v = strings.TrimSuffix(v, "__")
	if len(v) >= 2 && v[0] == '"' && v[len(v)-1] == '"' {
		if unq, err := strconv.Unquote(v); err == nil {
			v = unq
		} else {
			v = v[1 : len(v)-1]
		}
	}
	return strings.TrimSpace(v)
}
