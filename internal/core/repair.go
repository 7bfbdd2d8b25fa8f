// ABOUTME: Repair turns near-JSON model output into valid JSON
// ABOUTME: Strips code fences, then rescans fixing quotes, separators and unbalanced brackets
package core

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode"
)

// ErrUnrepairable means no valid JSON could be recovered from the text
var ErrUnrepairable = errors.New("unrepairable JSON")

// Repair returns valid JSON recovered from raw model output. Valid input (after
// marker stripping) is returned untouched; otherwise the text is rescanned.
func Repair(raw string) (string, error) {
	s := stripMarkers(raw)
	if s == "" {
		return "", fmt.Errorf("%w: empty response", ErrUnrepairable)
	}
	if json.Valid([]byte(s)) {
		return s, nil
	}

	out, err := newRepairer(s).run()
	if err != nil {
		return "", err
	}
	if !json.Valid([]byte(out)) {
		return "", fmt.Errorf("%w: repaired text still invalid", ErrUnrepairable)
	}
	return out, nil
}

// stripMarkers removes markdown fences, stray backticks and a leading "json" language tag
func stripMarkers(raw string) string {
	s := strings.TrimSpace(raw)

	if start := strings.Index(s, "```"); start >= 0 {
		body := s[start+3:]
		if end := strings.LastIndex(body, "```"); end >= 0 {
			body = body[:end]
		}
		s = body
	}

	s = strings.Trim(strings.TrimSpace(s), "`")
	s = strings.TrimSpace(s)
	if len(s) >= 4 && strings.EqualFold(s[:4], "json") {
		rest := s[4:]
		if rest == "" || strings.IndexAny(rest[:1], " \t\r\n[{") == 0 {
			s = rest
		}
	}
	return strings.TrimSpace(s)
}

type token int

const (
	tokNone token = iota
	tokOpen
	tokComma
	tokColon
	tokKey
	tokValue
)

type repairer struct {
	src    []rune
	i      int
	out    []byte
	stack  []rune
	last   token
	values []string
}

func newRepairer(s string) *repairer {
	return &repairer{src: []rune(s)}
}

func (r *repairer) run() (string, error) {
	for r.i < len(r.src) {
		c := r.src[r.i]

		if len(r.stack) == 0 {
			// Between top-level values only containers start a value; prose is skipped
			if c == '{' || c == '[' {
				r.open(c)
			} else {
				r.i++
			}
			continue
		}

		switch {
		case unicode.IsSpace(c):
			r.i++
		case c == '/' && r.peek(1) == '/':
			r.skipLineComment()
		case c == '/' && r.peek(1) == '*':
			r.skipBlockComment()
		case c == '{' || c == '[':
			r.open(c)
		case c == '}' || c == ']':
			r.close(c)
			r.i++
		case c == ',':
			r.comma()
			r.i++
		case c == ':':
			if r.top() == '{' && r.last == tokKey {
				r.out = append(r.out, ':')
				r.last = tokColon
			}
			r.i++
		case c == '"' || c == '\'':
			str := r.readString(c)
			r.scalar(str, str)
		case c == '-' || (c >= '0' && c <= '9'):
			raw := r.readNumber()
			r.scalar(quote(raw), numberValue(raw))
		case unicode.IsLetter(c) || c == '_' || c == '$':
			raw := r.readWord()
			r.scalar(quote(raw), wordValue(raw))
		default:
			r.i++
		}
	}

	for len(r.stack) > 0 {
		r.closeTop()
	}

	switch len(r.values) {
	case 0:
		return "", fmt.Errorf("%w: no JSON object or array found", ErrUnrepairable)
	case 1:
		return r.values[0], nil
	default:
		return "[" + strings.Join(r.values, ",") + "]", nil
	}
}

func (r *repairer) peek(n int) rune {
	if r.i+n < len(r.src) {
		return r.src[r.i+n]
	}
	return 0
}

func (r *repairer) top() rune {
	if len(r.stack) == 0 {
		return 0
	}
	return r.stack[len(r.stack)-1]
}

// prepare inserts any missing separator before a token and reports whether the
// token sits in an object key position
func (r *repairer) prepare() (isKey bool) {
	if r.top() == '[' {
		if r.last == tokValue {
			r.out = append(r.out, ',')
		}
		return false
	}
	switch r.last {
	case tokKey:
		r.out = append(r.out, ':')
		return false
	case tokColon:
		return false
	case tokValue:
		r.out = append(r.out, ',')
		return true
	default: // tokOpen, tokComma
		return true
	}
}

func (r *repairer) open(c rune) {
	// A container where a key belongs means the enclosing object was never closed
	for len(r.stack) > 0 && r.prepare() {
		r.undoSeparator()
		r.last = tokValue
		r.closeTop()
	}
	r.stack = append(r.stack, c)
	r.out = append(r.out, byte(c))
	r.last = tokOpen
	r.i++
}

// undoSeparator drops a comma that prepare just inserted
func (r *repairer) undoSeparator() {
	if n := len(r.out); n > 0 && r.out[n-1] == ',' {
		r.out = r.out[:n-1]
	}
}

func (r *repairer) close(c rune) {
	want := '['
	if c == '}' {
		want = '{'
	}
	// Close through to the matching opener if there is one, else just close the top
	depth := -1
	for j := len(r.stack) - 1; j >= 0; j-- {
		if r.stack[j] == want {
			depth = j
			break
		}
	}
	if depth < 0 {
		r.closeTop()
		return
	}
	for len(r.stack) > depth {
		r.closeTop()
	}
}

// closeTop finishes any dangling key/colon/comma and closes the innermost container
func (r *repairer) closeTop() {
	switch r.last {
	case tokComma:
		r.undoSeparator()
	case tokColon:
		r.out = append(r.out, "null"...)
	case tokKey:
		r.out = append(r.out, ":null"...)
	}

	c := r.stack[len(r.stack)-1]
	r.stack = r.stack[:len(r.stack)-1]
	if c == '{' {
		r.out = append(r.out, '}')
	} else {
		r.out = append(r.out, ']')
	}
	r.last = tokValue

	if len(r.stack) == 0 {
		r.values = append(r.values, string(r.out))
		r.out = r.out[:0]
		r.last = tokNone
	}
}

func (r *repairer) comma() {
	switch r.last {
	case tokValue:
		r.out = append(r.out, ',')
		r.last = tokComma
	case tokColon:
		r.out = append(r.out, "null,"...)
		r.last = tokComma
	case tokKey:
		r.out = append(r.out, ":null,"...)
		r.last = tokComma
	}
	// leading or doubled commas are dropped
}

// scalar emits a string, number or word token, rendered for the role it lands in
func (r *repairer) scalar(asKey, asValue string) {
	if r.prepare() {
		r.out = append(r.out, asKey...)
		r.last = tokKey
		return
	}
	r.out = append(r.out, asValue...)
	r.last = tokValue
}

// keyPosition reports whether the next token would land in an object key slot
func (r *repairer) keyPosition() bool {
	if r.top() != '{' {
		return false
	}
	return r.last == tokOpen || r.last == tokComma || r.last == tokValue
}

// readString consumes a single- or double-quoted string and returns it as a JSON string.
// A quote only ends the string when what follows can continue the document; otherwise
// it is escaped.
func (r *repairer) readString(q rune) string {
	isKey := r.keyPosition()
	var sb strings.Builder
	sb.WriteByte('"')
	r.i++

	for r.i < len(r.src) {
		c := r.src[r.i]
		switch {
		case c == '\\':
			r.readEscape(&sb)
		case c == q:
			r.i++
			if r.atStringEnd(isKey) {
				sb.WriteByte('"')
				return sb.String()
			}
			if q == '"' {
				sb.WriteString(`\"`)
			} else {
				sb.WriteRune(c)
			}
		case c == '"':
			sb.WriteString(`\"`)
			r.i++
		case c == '\n':
			sb.WriteString(`\n`)
			r.i++
		case c == '\r':
			sb.WriteString(`\r`)
			r.i++
		case c == '\t':
			sb.WriteString(`\t`)
			r.i++
		case c < 0x20:
			fmt.Fprintf(&sb, `\u%04x`, c)
			r.i++
		default:
			sb.WriteRune(c)
			r.i++
		}
	}

	// Truncated mid-string
	sb.WriteByte('"')
	return sb.String()
}

func (r *repairer) readEscape(sb *strings.Builder) {
	next := r.peek(1)
	switch next {
	case '"', '\\', '/', 'b', 'f', 'n', 'r', 't':
		sb.WriteRune('\\')
		sb.WriteRune(next)
		r.i += 2
	case '\'':
		sb.WriteRune('\'')
		r.i += 2
	case 'u':
		if r.i+5 < len(r.src) && isHex(r.src[r.i+2:r.i+6]) {
			sb.WriteString(string(r.src[r.i : r.i+6]))
			r.i += 6
			return
		}
		sb.WriteString(`\\`)
		r.i++
	default:
		// Invalid escape or trailing backslash: keep it as a literal backslash
		sb.WriteString(`\\`)
		r.i++
	}
}

// atStringEnd reports whether the text after a candidate closing quote continues
// the document. Delimiters and container openers always do. A key may be followed
// directly by its value when the colon is missing. A value followed by a bare token
// only ends when that token is itself followed by a delimiter, so quoted prose
// ("He said "hi" to me") stays inside the string.
func (r *repairer) atStringEnd(isKey bool) bool {
	j := r.i
	for j < len(r.src) && unicode.IsSpace(r.src[j]) {
		j++
	}
	if j == len(r.src) {
		return true
	}
	c := r.src[j]
	if strings.ContainsRune(",:}]\"{[", c) {
		return true
	}
	if !startsScalar(c) {
		return false
	}
	if isKey {
		return true
	}
	if j == r.i {
		return false
	}

	k := j
	for k < len(r.src) && continuesScalar(r.src[k]) {
		k++
	}
	for k < len(r.src) && unicode.IsSpace(r.src[k]) {
		k++
	}
	return k == len(r.src) || strings.ContainsRune(",:}]", r.src[k])
}

func startsScalar(c rune) bool {
	return c == '-' || c == '\'' || c == '_' || c == '$' || unicode.IsLetter(c) || unicode.IsDigit(c)
}

func continuesScalar(c rune) bool {
	return c == '-' || c == '_' || c == '$' || c == '.' || c == '+' || unicode.IsLetter(c) || unicode.IsDigit(c)
}

func (r *repairer) readNumber() string {
	start := r.i
	for r.i < len(r.src) && strings.ContainsRune("0123456789+-.eE", r.src[r.i]) {
		r.i++
	}
	return string(r.src[start:r.i])
}

// numberValue keeps a valid JSON number and quotes anything else ("1.", "--")
func numberValue(raw string) string {
	if json.Valid([]byte(raw)) {
		return raw
	}
	return quote(raw)
}

func (r *repairer) readWord() string {
	start := r.i
	for r.i < len(r.src) {
		c := r.src[r.i]
		if !(unicode.IsLetter(c) || unicode.IsDigit(c) || c == '_' || c == '$' || c == '-' || c == '.') {
			break
		}
		r.i++
	}
	return string(r.src[start:r.i])
}

// wordValue maps bare literals (True, None, undefined...) to JSON and quotes the rest
func wordValue(word string) string {
	switch strings.ToLower(word) {
	case "true":
		return "true"
	case "false":
		return "false"
	case "null", "none", "nil", "undefined", "nan":
		return "null"
	}
	return quote(word)
}

func (r *repairer) skipLineComment() {
	for r.i < len(r.src) && r.src[r.i] != '\n' {
		r.i++
	}
}

func (r *repairer) skipBlockComment() {
	r.i += 2
	for r.i < len(r.src) {
		if r.src[r.i] == '*' && r.peek(1) == '/' {
			r.i += 2
			return
		}
		r.i++
	}
}

func quote(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

func isHex(rs []rune) bool {
	for _, c := range rs {
		if !strings.ContainsRune("0123456789abcdefABCDEF", c) {
			return false
		}
	}
	return true
}
