package textextract

import (
	"bytes"
	"encoding/hex"
	"strconv"
	"strings"
	"unicode/utf8"
)

// TJ adjustments below this (in thousandths of an em) read as a word gap.
const tjSpaceThreshold = -200

type tokenKind int

const (
	tokOperator tokenKind = iota
	tokString
	tokNumber
	tokName
	tokArrayStart
	tokArrayEnd
	tokOther
)

type token struct {
	kind tokenKind
	text string
	num  float64
}

// ContentText recovers the text drawn by a page content stream. Text-showing
// operators (Tj, TJ, ' and ") contribute their strings; line and text-object
// operators contribute line breaks.
func ContentText(content []byte) string {
	s := &scanner{buf: content}
	var (
		out      strings.Builder
		operands []token
		inArray  bool
		array    []token
	)

	newline := func() {
		str := out.String()
		if len(str) > 0 && !strings.HasSuffix(str, "\n") {
			out.WriteByte('\n')
		}
	}

	for {
		tok, ok := s.next()
		if !ok {
			break
		}
		switch tok.kind {
		case tokArrayStart:
			inArray, array = true, array[:0]
			continue
		case tokArrayEnd:
			inArray = false
			operands = append(operands, token{kind: tokArrayEnd})
			continue
		}
		if inArray {
			array = append(array, tok)
			continue
		}
		if tok.kind != tokOperator {
			operands = append(operands, tok)
			continue
		}

		switch tok.text {
		case "Tj":
			if str, ok := lastString(operands); ok {
				out.WriteString(str)
			}
		case "'", "\"":
			newline()
			if str, ok := lastString(operands); ok {
				out.WriteString(str)
			}
		case "TJ":
			for _, el := range array {
				switch el.kind {
				case tokString:
					out.WriteString(el.text)
				case tokNumber:
					if el.num < tjSpaceThreshold {
						out.WriteByte(' ')
					}
				}
			}
		case "Td", "TD":
			if len(operands) >= 2 && operands[len(operands)-1].num != 0 {
				newline()
			} else if str := out.String(); str != "" && !strings.HasSuffix(str, "\n") && !strings.HasSuffix(str, " ") {
				out.WriteByte(' ')
			}
		case "T*", "ET", "Tm":
			newline()
		case "BI":
			s.skipInlineImage()
		}
		operands = operands[:0]
	}

	return cleanText(out.String())
}

func lastString(operands []token) (string, bool) {
	for i := len(operands) - 1; i >= 0; i-- {
		if operands[i].kind == tokString {
			return operands[i].text, true
		}
	}
	return "", false
}

// cleanText trims trailing spaces per line and collapses runs of blank lines.
func cleanText(s string) string {
	lines := strings.Split(s, "\n")
	kept := lines[:0]
	blank := false
	for _, line := range lines {
		line = strings.TrimRight(line, " \t")
		if line == "" {
			if blank {
				continue
			}
			blank = true
		} else {
			blank = false
		}
		kept = append(kept, line)
	}
	return strings.Trim(strings.Join(kept, "\n"), "\n")
}

type scanner struct {
	buf []byte
	pos int
}

func isWhite(c byte) bool {
	return c == ' ' || c == '\t' || c == '\r' || c == '\n' || c == '\f' || c == 0
}

func isDelim(c byte) bool {
	return strings.IndexByte("()<>[]{}/%", c) != -1
}

func (s *scanner) next() (token, bool) {
	for s.pos < len(s.buf) {
		c := s.buf[s.pos]
		switch {
		case isWhite(c):
			s.pos++
		case c == '%':
			for s.pos < len(s.buf) && s.buf[s.pos] != '\n' && s.buf[s.pos] != '\r' {
				s.pos++
			}
		case c == '(':
			s.pos++
			return token{kind: tokString, text: decodeText(s.literal())}, true
		case c == '<':
			if s.pos+1 < len(s.buf) && s.buf[s.pos+1] == '<' {
				s.pos += 2
				return token{kind: tokOther, text: "<<"}, true
			}
			s.pos++
			return token{kind: tokString, text: decodeText(s.hexString())}, true
		case c == '>':
			s.pos++
			if s.pos < len(s.buf) && s.buf[s.pos] == '>' {
				s.pos++
			}
			return token{kind: tokOther, text: ">>"}, true
		case c == '[':
			s.pos++
			return token{kind: tokArrayStart}, true
		case c == ']':
			s.pos++
			return token{kind: tokArrayEnd}, true
		case c == '{' || c == '}':
			s.pos++
			return token{kind: tokOther, text: string(c)}, true
		case c == '/':
			s.pos++
			return token{kind: tokName, text: s.regular()}, true
		default:
			word := s.regular()
			if word == "" {
				s.pos++
				continue
			}
			if n, err := strconv.ParseFloat(word, 64); err == nil {
				return token{kind: tokNumber, text: word, num: n}, true
			}
			return token{kind: tokOperator, text: word}, true
		}
	}
	return token{}, false
}

func (s *scanner) regular() string {
	start := s.pos
	for s.pos < len(s.buf) && !isWhite(s.buf[s.pos]) && !isDelim(s.buf[s.pos]) {
		s.pos++
	}
	return string(s.buf[start:s.pos])
}

// literal reads a (string) body; the opening parenthesis is already consumed.
func (s *scanner) literal() []byte {
	var out []byte
	depth := 1
	for s.pos < len(s.buf) {
		c := s.buf[s.pos]
		s.pos++
		switch c {
		case '(':
			depth++
			out = append(out, c)
		case ')':
			depth--
			if depth == 0 {
				return out
			}
			out = append(out, c)
		case '\\':
			if s.pos >= len(s.buf) {
				return out
			}
			e := s.buf[s.pos]
			s.pos++
			switch e {
			case 'n':
				out = append(out, '\n')
			case 'r':
				out = append(out, '\r')
			case 't':
				out = append(out, '\t')
			case 'b':
				out = append(out, '\b')
			case 'f':
				out = append(out, '\f')
			case '\r':
				if s.pos < len(s.buf) && s.buf[s.pos] == '\n' {
					s.pos++
				}
			case '\n':
			default:
				if e >= '0' && e <= '7' {
					v := int(e - '0')
					for i := 0; i < 2 && s.pos < len(s.buf) && s.buf[s.pos] >= '0' && s.buf[s.pos] <= '7'; i++ {
						v = v*8 + int(s.buf[s.pos]-'0')
						s.pos++
					}
					out = append(out, byte(v))
				} else {
					out = append(out, e)
				}
			}
		default:
			out = append(out, c)
		}
	}
	return out
}

// hexString reads a <hex> body; the opening bracket is already consumed.
func (s *scanner) hexString() []byte {
	var digits []byte
	for s.pos < len(s.buf) && s.buf[s.pos] != '>' {
		if !isWhite(s.buf[s.pos]) {
			digits = append(digits, s.buf[s.pos])
		}
		s.pos++
	}
	s.pos++
	if len(digits)%2 == 1 {
		digits = append(digits, '0')
	}
	out, err := hex.DecodeString(string(digits))
	if err != nil {
		return nil
	}
	return out
}

// skipInlineImage jumps past the binary payload of a BI ... ID ... EI block.
func (s *scanner) skipInlineImage() {
	idx := bytes.Index(s.buf[s.pos:], []byte("ID"))
	if idx == -1 {
		s.pos = len(s.buf)
		return
	}
	s.pos += idx + 2
	for s.pos < len(s.buf) {
		idx := bytes.Index(s.buf[s.pos:], []byte("EI"))
		if idx == -1 {
			s.pos = len(s.buf)
			return
		}
		at := s.pos + idx
		s.pos = at + 2
		before := at == 0 || isWhite(s.buf[at-1])
		after := s.pos >= len(s.buf) || isWhite(s.buf[s.pos])
		if before && after {
			return
		}
	}
}

// decodeText maps string bytes to text: UTF-16BE when marked with a BOM,
// otherwise one byte per character (PDFDocEncoding's printable range matches Latin-1).
func decodeText(b []byte) string {
	if len(b) >= 2 && b[0] == 0xFE && b[1] == 0xFF {
		var sb strings.Builder
		for i := 2; i+1 < len(b); i += 2 {
			sb.WriteRune(rune(uint16(b[i])<<8 | uint16(b[i+1])))
		}
		return sb.String()
	}
	if utf8.Valid(b) {
		return string(b)
	}
	var sb strings.Builder
	for _, c := range b {
		sb.WriteRune(rune(c))
	}
	return sb.String()
}
