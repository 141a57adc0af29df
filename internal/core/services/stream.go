package services

import (
	"strings"

	"github.com/custodia-labs/fagdag/internal/core/ports/driven"
)

// Accumulate drains stream and returns the concatenated fragments. On error
// the fragments received so far are returned with it. The stream is closed.
func Accumulate(stream driven.Stream) (string, error) {
	defer stream.Close()

	var b strings.Builder
	for stream.Next() {
		b.WriteString(stream.Text())
	}
	return b.String(), stream.Err()
}

// Consume drains stream through onDelta and returns the text delivered so
// far. A fragment handed to onDelta counts as delivered even when onDelta
// then returns an error, which stops consumption and is reported.
// The stream is closed.
func Consume(stream driven.Stream, onDelta func(string) error) (string, error) {
	defer stream.Close()

	var b strings.Builder
	for stream.Next() {
		fragment := stream.Text()
		b.WriteString(fragment)
		if onDelta != nil {
			if err := onDelta(fragment); err != nil {
				return b.String(), err
			}
		}
	}
	return b.String(), stream.Err()
}
