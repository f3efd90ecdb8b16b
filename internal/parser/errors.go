package parser

import "fmt"

// FetchError reports a network, timeout, or HTTP failure retrieving a feed.
// The pipeline skips the feed for the current pass and continues.
type FetchError struct {
	Source string
	URL    string
	Err    error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s (%s): %v", e.Source, e.URL, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// ParseError reports a malformed feed document. Malformed individual
// entries are skipped without producing a ParseError; only a whole-feed
// parse failure surfaces one.
type ParseError struct {
	Source string
	Err    error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s: %v", e.Source, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }
