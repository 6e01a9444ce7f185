package directive

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strconv"
	"unicode"
	"unicode/utf16"
	"unicode/utf8"

	"github.com/tdewolff/parse/v2"
	"github.com/tdewolff/parse/v2/js"
)

var errTemplateLiteral = errors.New("template literals are not allowed")

type token struct {
	tt   js.TokenType
	text []byte
}

// relaxedToJSON rewrites a JavaScript-flavoured object literal into strict
// JSON: bare identifier keys are quoted, single-quoted strings are converted,
// trailing commas and comments are dropped. Anything else that is not JSON
// is rejected.
func relaxedToJSON(src string) ([]byte, error) {
	toks, err := lex(src)
	if err != nil {
		return nil, err
	}

	var out bytes.Buffer
	for i, tok := range toks {
		text := string(tok.text)
		switch {
		case text == "{" || text == "[" || text == ":":
			out.WriteString(text)

		case text == "}" || text == "]":
			trimTrailingComma(&out)
			out.WriteString(text)

		case text == ",":
			out.WriteString(text)

		case text == "-":
			// Only valid as a number sign.
			if i+1 >= len(toks) || !isNumber(toks[i+1].text) {
				return nil, fmt.Errorf("unexpected %q", text)
			}
			out.WriteString(text)

		case tok.tt == js.StringToken:
			s, err := jsonString(tok.text)
			if err != nil {
				return nil, err
			}
			out.Write(s)

		case isNumber(tok.text):
			f, _ := strconv.ParseFloat(text, 64)
			out.WriteString(strconv.FormatFloat(f, 'g', -1, 64))

		case isIdentifier(text):
			if i+1 < len(toks) && string(toks[i+1].text) == ":" {
				out.WriteString(strconv.Quote(text))
				continue
			}
			switch text {
			case "true", "false", "null":
				out.WriteString(text)
			default:
				return nil, fmt.Errorf("bare identifier %q used as a value", text)
			}

		default:
			return nil, fmt.Errorf("unexpected token %q", text)
		}
	}
	return out.Bytes(), nil
}

// lex returns the significant tokens of src, skipping whitespace and comments.
func lex(src string) ([]token, error) {
	l := js.NewLexer(parse.NewInputString(src))
	var toks []token
	for {
		tt, text := l.Next()
		if tt == js.ErrorToken {
			if err := l.Err(); err != nil && err != io.EOF {
				return nil, err
			}
			return toks, nil
		}
		if len(bytes.TrimSpace(text)) == 0 || bytes.HasPrefix(text, []byte("//")) || bytes.HasPrefix(text, []byte("/*")) {
			continue
		}
		if text[0] == '`' {
			return nil, errTemplateLiteral
		}
		toks = append(toks, token{tt: tt, text: append([]byte(nil), text...)})
	}
}

func trimTrailingComma(out *bytes.Buffer) {
	b := out.Bytes()
	if len(b) > 0 && b[len(b)-1] == ',' {
		out.Truncate(len(b) - 1)
	}
}

func isNumber(text []byte) bool {
	if len(text) == 0 || !(text[0] == '.' || (text[0] >= '0' && text[0] <= '9')) {
		return false
	}
	_, err := strconv.ParseFloat(string(text), 64)
	return err == nil
}

func isIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		if r == '_' || r == '$' || unicode.IsLetter(r) || (i > 0 && unicode.IsDigit(r)) {
			continue
		}
		return false
	}
	return true
}

// jsonString converts a JS string literal (single or double quoted) into a
// JSON string literal. JS-only escapes are rewritten as \uXXXX.
func jsonString(lit []byte) ([]byte, error) {
	if len(lit) < 2 {
		return nil, fmt.Errorf("malformed string %q", lit)
	}
	body := lit[1 : len(lit)-1]

	var b bytes.Buffer
	b.WriteByte('"')
	for i := 0; i < len(body); i++ {
		c := body[i]
		switch {
		case c == '\\' && i+1 < len(body):
			n, err := jsonEscape(&b, body[i+1:])
			if err != nil {
				return nil, err
			}
			i += n
		case c == '"':
			b.WriteString(`\"`)
		case c < 0x20:
			fmt.Fprintf(&b, `\u%04x`, c)
		default:
			b.WriteByte(c)
		}
	}
	b.WriteByte('"')

	if !utf8.Valid(b.Bytes()) {
		return nil, errors.New("string is not valid UTF-8")
	}
	return b.Bytes(), nil
}

// jsonEscape writes the JSON form of the escape sequence whose body (after
// the backslash) starts seq, and returns how many bytes of seq it consumed.
func jsonEscape(b *bytes.Buffer, seq []byte) (int, error) {
	switch c := seq[0]; c {
	case '"', '\\', '/', 'b', 'f', 'n', 'r', 't':
		b.WriteByte('\\')
		b.WriteByte(c)
		return 1, nil
	case 'v':
		writeRune(b, '\v')
		return 1, nil
	case '0':
		if len(seq) > 1 && seq[1] >= '0' && seq[1] <= '9' {
			return 0, errors.New("octal escapes are not allowed")
		}
		writeRune(b, 0)
		return 1, nil
	case 'x':
		if len(seq) < 3 {
			return 0, errors.New("short \\x escape")
		}
		v, err := strconv.ParseUint(string(seq[1:3]), 16, 8)
		if err != nil {
			return 0, fmt.Errorf("bad \\x escape %q", seq[:3])
		}
		writeRune(b, rune(v))
		return 3, nil
	case 'u':
		if len(seq) > 1 && seq[1] == '{' {
			end := bytes.IndexByte(seq, '}')
			if end < 0 {
				return 0, errors.New("unterminated \\u{} escape")
			}
			v, err := strconv.ParseUint(string(seq[2:end]), 16, 32)
			if err != nil || v > unicode.MaxRune {
				return 0, fmt.Errorf("bad \\u escape %q", seq[:end+1])
			}
			writeRune(b, rune(v))
			return end + 1, nil
		}
		if len(seq) < 5 {
			return 0, errors.New("short \\u escape")
		}
		if _, err := strconv.ParseUint(string(seq[1:5]), 16, 16); err != nil {
			return 0, fmt.Errorf("bad \\u escape %q", seq[:5])
		}
		b.WriteByte('\\')
		b.Write(seq[:5])
		return 5, nil
	case '\n':
		// Line continuation.
		return 1, nil
	case '\r':
		if len(seq) > 1 && seq[1] == '\n' {
			return 2, nil
		}
		return 1, nil
	default:
		// Any other escaped character stands for itself.
		_, size := utf8.DecodeRune(seq)
		if c < 0x20 {
			writeRune(b, rune(c))
		} else {
			b.Write(seq[:size])
		}
		return size, nil
	}
}

// writeRune writes r as one \uXXXX escape, or a surrogate pair outside the
// basic multilingual plane.
func writeRune(b *bytes.Buffer, r rune) {
	if r1, r2 := utf16.EncodeRune(r); r1 != utf8.RuneError {
		fmt.Fprintf(b, `\u%04x\u%04x`, r1, r2)
		return
	}
	fmt.Fprintf(b, `\u%04x`, r)
}
