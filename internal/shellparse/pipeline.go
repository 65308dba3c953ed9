package shellparse

import "strings"

// SplitPipeline splits one chain link on single | characters outside quotes.
// Each returned segment keeps its raw text for the tokenizer.
//
// The chain operators ||, ; and the unsupported |& and & are illegal here: a
// valid chain link contains none of them, so finding one means the input was
// not a single link and the parse fails. A leading, trailing, or doubled
// pipe produces an empty segment, which is a hard rejection.
func SplitPipeline(link string) ([]string, error) {
	segments, err := scan(link, func(c, next byte) (Action, error) {
		switch c {
		case '|':
			if next == '|' {
				return reject("'||' is not allowed inside a pipeline")
			}
			if next == '&' {
				return reject("'|&' is not supported")
			}
			return ActionSplit, nil
		case '&':
			return reject("background execution is not supported")
		case ';':
			return reject("';' is not allowed inside a pipeline")
		}
		return ActionInclude, nil
	}, true)
	if err != nil {
		return nil, err
	}

	for i := range segments {
		segments[i] = strings.TrimSpace(segments[i])
		if segments[i] == "" {
			return nil, &ParseError{Reason: "empty pipeline segment"}
		}
	}
	return segments, nil
}
