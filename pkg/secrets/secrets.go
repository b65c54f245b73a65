// Package secrets hides camera passwords in logs and API responses.
package secrets

import (
	"io"
	"net/http"
	"slices"
	"strings"
	"sync"
)

const mask = "***"

var (
	values   []string
	mu       sync.Mutex
	replacer *strings.Replacer
)

func Add(value string) {
	if value == "" {
		return
	}

	mu.Lock()
	defer mu.Unlock()

	if slices.Contains(values, value) {
		return
	}

	values = append(values, value)
	replacer = nil
}

func getReplacer() *strings.Replacer {
	mu.Lock()
	defer mu.Unlock()

	if replacer == nil {
		oldnew := make([]string, 0, 2*len(values))
		for _, s := range values {
			oldnew = append(oldnew, s, mask)
		}
		replacer = strings.NewReplacer(oldnew...)
	}

	return replacer
}

func Redact(s string) string {
	return getReplacer().Replace(s)
}

// Writer - wrap log output
func Writer(w io.Writer) io.Writer {
	return &writer{w}
}

type writer struct {
	w io.Writer
}

func (s *writer) Write(b []byte) (int, error) {
	if _, err := getReplacer().WriteString(s.w, string(b)); err != nil {
		return 0, err
	}
	// zerolog checks written length
	return len(b), nil
}

// Response - wrap API response with log dump
func Response(w http.ResponseWriter) http.ResponseWriter {
	return &response{w}
}

type response struct {
	http.ResponseWriter
}

func (s *response) Write(b []byte) (int, error) {
	if _, err := getReplacer().WriteString(s.ResponseWriter, string(b)); err != nil {
		return 0, err
	}
	return len(b), nil
}
