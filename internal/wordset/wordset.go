// Package wordset holds the vocabulary of words the reader is allowed to speak.
package wordset

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

// LoadError reports a word list that could not be read. The Set returned
// alongside it is still usable.
type LoadError struct {
	Source string
	Err    error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("load word list %s: %v", e.Source, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// Set is an immutable, case-insensitive membership index.
type Set struct {
	words map[string]struct{}
}

// Load builds a Set from raw lines. Entries are lowercased and trimmed, blank
// lines are skipped and duplicates collapse.
func Load(lines []string) *Set {
	words := make(map[string]struct{}, len(lines))
	for _, line := range lines {
		word := strings.ToLower(strings.TrimSpace(line))
		if word == "" {
			continue
		}
		words[word] = struct{}{}
	}
	return &Set{words: words}
}

// Empty returns a Set with no words.
func Empty() *Set {
	return &Set{words: map[string]struct{}{}}
}

// Read loads one word per line from r.
func Read(r io.Reader) (*Set, error) {
	var lines []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return Empty(), &LoadError{Source: "reader", Err: err}
	}
	return Load(lines), nil
}

// LoadFile reads the word list at path. On failure it returns an empty Set
// together with a *LoadError so callers can keep running.
func LoadFile(path string) (*Set, error) {
	f, err := os.Open(path)
	if err != nil {
		return Empty(), &LoadError{Source: path, Err: err}
	}
	defer f.Close()

	set, err := Read(f)
	var loadErr *LoadError
	if errors.As(err, &loadErr) {
		loadErr.Source = path
	}
	return set, err
}

// Contains reports whether word, in any casing, is in the set.
func (s *Set) Contains(word string) bool {
	if s == nil {
		return false
	}
	_, ok := s.words[strings.ToLower(word)]
	return ok
}

// Len returns the number of distinct words.
func (s *Set) Len() int {
	if s == nil {
		return 0
	}
	return len(s.words)
}
