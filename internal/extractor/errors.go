package extractor

import "fmt"

// ParseError reports a document the extractor could not process, either because it
// failed to parse or because a strategy panicked on unexpected markup.
type ParseError struct {
	URL      string
	Strategy string
	Err      error
}

func (e *ParseError) Error() string {
	if e.Strategy != "" {
		return fmt.Sprintf("%s: %v", e.Strategy, e.Err)
	}
	return e.Err.Error()
}

func (e *ParseError) Unwrap() error {
	return e.Err
}
