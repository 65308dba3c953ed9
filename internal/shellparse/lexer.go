// Package shellparse breaks a shell-style command string into chain links,
// pipeline segments, and argv tokens without a full shell grammar.
//
// The parser is deliberately conservative: it understands quoting, escaping,
// pipelines and the chain operators &&, || and ; — nothing else. Redirection,
// subshells, backticks, command substitution, and literal newlines are
// rejected outright rather than partially interpreted, because a wrong guess
// here approves a command that should have been refused.
package shellparse

// Action tells the lexer what to do with an unquoted, unescaped character.
type Action int

const (
	// ActionInclude appends the character to the current piece.
	ActionInclude Action = iota
	// ActionSkip drops the character.
	ActionSkip
	// ActionSplit ends the current piece and starts a new one.
	ActionSplit
	// ActionSplitPair ends the current piece and consumes the lookahead
	// character as well (for two-character operators like && and ||).
	ActionSplitPair
)

// CharFunc classifies one unquoted, unescaped character. next is the
// following byte, or 0 at end of input. Returning an error rejects the
// whole command.
type CharFunc func(c, next byte) (Action, error)

// ParseError describes why a command string was rejected. It is expected
// data, not a programmer error: callers surface Reason to the user verbatim.
type ParseError struct {
	Reason string
}

func (e *ParseError) Error() string { return e.Reason }

func reject(reason string) (Action, error) {
	return 0, &ParseError{Reason: reason}
}

const (
	stateUnquoted = iota
	stateSingle
	stateDouble
)

// rejectedMeta returns a rejection reason for characters that are never
// allowed outside single quotes, escaped or not.
func rejectedMeta(c byte) (string, bool) {
	switch c {
	case '>', '<':
		return "redirection is not supported", true
	case '`':
		return "backticks are not supported", true
	case '\n', '\r':
		return "multi-line commands are not supported", true
	case '(', ')':
		return "subshells are not supported", true
	}
	return "", false
}

// scan walks src one byte at a time tracking quote and escape state, asking
// classify what to do with each character that is neither quoted nor escaped.
// It is the single point of truth for quoting semantics, shared by the chain
// splitter, the pipeline splitter, and the tokenizer.
//
// With keepQuotes, quote and escape characters are copied into the output
// verbatim and every piece is emitted, including empty ones — the splitters
// need the raw text of each piece for re-parsing, and an empty piece means a
// dangling operator. Without keepQuotes, quotes and escapes are resolved
// into literal characters and pieces that never started are dropped, so runs
// of whitespace do not produce empty argv entries while a quoted empty
// string still does.
//
// Quoting rules: single quotes suppress all interpretation until the next
// single quote. Inside double quotes a backslash escapes only \ " $ ` and
// newline/CR; any other backslash is literal. Outside quotes a backslash
// escapes the next character, including a quote character.
func scan(src string, classify CharFunc, keepQuotes bool) ([]string, error) {
	var (
		pieces  []string
		cur     []byte
		started bool
		state   = stateUnquoted
		escaped bool
	)

	push := func() {
		if keepQuotes || started {
			pieces = append(pieces, string(cur))
		}
		cur = cur[:0]
		started = false
	}

	for i := 0; i < len(src); i++ {
		c := src[i]
		var next byte
		if i+1 < len(src) {
			next = src[i+1]
		}

		// Hard rejects apply everywhere outside single quotes, whether the
		// character is escaped, double-quoted, or bare. Escaping a redirect
		// does not make it safe to guess about.
		if state != stateSingle {
			if reason, bad := rejectedMeta(c); bad {
				return nil, &ParseError{Reason: reason}
			}
			if c == '$' && next == '(' {
				return nil, &ParseError{Reason: "command substitution is not supported"}
			}
		}

		if escaped {
			escaped = false
			cur = append(cur, c)
			started = true
			continue
		}

		switch state {
		case stateSingle:
			if c == '\'' {
				state = stateUnquoted
				if keepQuotes {
					cur = append(cur, c)
				}
				continue
			}
			cur = append(cur, c)
			started = true

		case stateDouble:
			switch c {
			case '\\':
				if next == '\\' || next == '"' || next == '$' || next == '`' || next == '\n' || next == '\r' {
					escaped = true
					if keepQuotes {
						cur = append(cur, c)
					}
				} else {
					// Literal backslash, e.g. "a\b"
					cur = append(cur, c)
					started = true
				}
			case '"':
				state = stateUnquoted
				if keepQuotes {
					cur = append(cur, c)
				}
			default:
				cur = append(cur, c)
				started = true
			}

		default: // unquoted
			switch c {
			case '\\':
				escaped = true
				if keepQuotes {
					cur = append(cur, c)
				}
			case '\'':
				state = stateSingle
				started = true
				if keepQuotes {
					cur = append(cur, c)
				}
			case '"':
				state = stateDouble
				started = true
				if keepQuotes {
					cur = append(cur, c)
				}
			default:
				act, err := classify(c, next)
				if err != nil {
					return nil, err
				}
				switch act {
				case ActionSplit:
					push()
				case ActionSplitPair:
					push()
					i++ // consume lookahead
				case ActionSkip:
				default:
					cur = append(cur, c)
					started = true
				}
			}
		}
	}

	if escaped || state != stateUnquoted {
		return nil, &ParseError{Reason: "unterminated shell quote or escape"}
	}
	push()

	return pieces, nil
}
