package kvstore

import (
	"fmt"
	"regexp"
	"strings"
)

// Pattern is a compiled glob. Supported syntax: * any run, ? one character,
// [abc] [a-z] [^a] classes and \ to escape the next character.
type Pattern struct {
	raw    string
	prefix string
	re     *regexp.Regexp
}

// CompilePattern compiles a glob; an empty pattern matches everything
func CompilePattern(glob string) (*Pattern, error) {
	if glob == "" {
		glob = "*"
	}

	var (
		b       strings.Builder
		prefix  strings.Builder
		literal = true
	)
	b.WriteString(`(?s)^`)

	runes := []rune(glob)
	for i := 0; i < len(runes); i++ {
		c := runes[i]
		switch c {
		case '*':
			literal = false
			b.WriteString(`.*`)
		case '?':
			literal = false
			b.WriteString(`.`)
		case '\\':
			if i+1 >= len(runes) {
				return nil, fmt.Errorf("%w %q: trailing escape", ErrInvalidPattern, glob)
			}
			i++
			b.WriteString(regexp.QuoteMeta(string(runes[i])))
			if literal {
				prefix.WriteRune(runes[i])
			}
		case '[':
			end := classEnd(runes, i)
			if end < 0 {
				return nil, fmt.Errorf("%w %q: unterminated character class", ErrInvalidPattern, glob)
			}
			literal = false
			b.WriteString(translateClass(runes[i+1 : end]))
			i = end
		default:
			b.WriteString(regexp.QuoteMeta(string(c)))
			if literal {
				prefix.WriteRune(c)
			}
		}
	}
	b.WriteString(`$`)

	re, err := regexp.Compile(b.String())
	if err != nil {
		return nil, fmt.Errorf("%w %q: %v", ErrInvalidPattern, glob, err)
	}
	return &Pattern{raw: glob, prefix: prefix.String(), re: re}, nil
}

// classEnd returns the index of the ] closing the class opened at start
func classEnd(runes []rune, start int) int {
	i := start + 1
	if i < len(runes) && runes[i] == '^' {
		i++
	}
	// a ] right after the opening bracket is a literal member
	if i < len(runes) && runes[i] == ']' {
		i++
	}
	for ; i < len(runes); i++ {
		switch runes[i] {
		case '\\':
			i++
		case ']':
			return i
		}
	}
	return -1
}

func translateClass(body []rune) string {
	var b strings.Builder
	b.WriteByte('[')
	for i := 0; i < len(body); i++ {
		c := body[i]
		switch {
		case i == 0 && c == '^':
			b.WriteByte('^')
		case c == '\\' && i+1 < len(body):
			i++
			if body[i] == '-' {
				b.WriteString(`\-`)
			} else {
				b.WriteString(regexp.QuoteMeta(string(body[i])))
			}
		case c == '-':
			b.WriteByte('-')
		case c == '[' || c == ']':
			b.WriteString(`\`)
			b.WriteRune(c)
		default:
			b.WriteString(regexp.QuoteMeta(string(c)))
		}
	}
	b.WriteByte(']')
	return b.String()
}

// Match reports whether key matches the pattern
func (p *Pattern) Match(key string) bool {
	return p.re.MatchString(key)
}

// Prefix is the literal text every matching key starts with
func (p *Pattern) Prefix() string {
	return p.prefix
}

func (p *Pattern) String() string {
	return p.raw
}
