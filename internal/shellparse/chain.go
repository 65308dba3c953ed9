package shellparse

import "strings"

// SplitChain splits a command on the chain operators &&, || and ; found
// outside quotes. Each returned link keeps its raw text, quotes included,
// for the pipeline splitter to re-parse.
//
// Returns (nil, nil) when no chain operator is present: the caller treats
// the whole command as one implicit link. An operator with an empty side
// ("a &&", ";; b") is a hard rejection — chains never produce empty links.
func SplitChain(command string) ([]string, error) {
	split := false
	links, err := scan(command, func(c, next byte) (Action, error) {
		switch {
		case c == '&' && next == '&':
			split = true
			return ActionSplitPair, nil
		case c == '|' && next == '|':
			split = true
			return ActionSplitPair, nil
		case c == ';':
			split = true
			return ActionSplit, nil
		}
		// A single & or | is not a chain operator; the pipeline splitter
		// decides whether it is legal.
		return ActionInclude, nil
	}, true)
	if err != nil {
		return nil, err
	}
	if !split {
		return nil, nil
	}

	for i := range links {
		links[i] = strings.TrimSpace(links[i])
		if links[i] == "" {
			return nil, &ParseError{Reason: "chain operator with empty command"}
		}
	}
	return links, nil
}
