package shellparse

// Tokenize turns one pipeline segment into an argv vector, splitting on runs
// of unquoted whitespace. Quote characters are stripped and their contents
// kept literal, so `'a b' "c d" e\ f` yields ["a b", "c d", "e f"].
//
// Tokens are opaque: no globbing, no variable expansion, no further
// interpretation. The first token is the executable name.
func Tokenize(segment string) ([]string, error) {
	argv, err := scan(segment, func(c, next byte) (Action, error) {
		if c == ' ' || c == '\t' {
			return ActionSplit, nil
		}
		return ActionInclude, nil
	}, false)
	if err != nil {
		return nil, err
	}
	if len(argv) == 0 {
		return nil, &ParseError{Reason: "empty command segment"}
	}
	return argv, nil
}
