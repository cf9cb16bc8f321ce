// Package extract converts uploaded files to the plain text stored on a case.
package extract

import (
	"bytes"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"unicode/utf8"
)

var (
	// ErrUnsupportedFormat is returned when no extractor handles the extension.
	ErrUnsupportedFormat = errors.New("extract: unsupported file format")
	// ErrEmpty is returned when a file yields no text.
	ErrEmpty = errors.New("extract: no text content")
	// ErrTooLarge is returned when the extracted text exceeds the registry limit.
	ErrTooLarge = errors.New("extract: text exceeds size limit")
)

// DefaultMaxTextBytes bounds extracted text when no limit is configured.
const DefaultMaxTextBytes = 40 << 20

// Extractor turns raw file bytes into text.
type Extractor interface {
	Extract(filename string, data []byte) (string, error)
}

// ExtractorFunc adapts a function to Extractor.
type ExtractorFunc func(filename string, data []byte) (string, error)

func (f ExtractorFunc) Extract(filename string, data []byte) (string, error) {
	return f(filename, data)
}

// Registry dispatches on file extension.
type Registry struct {
	mu      sync.RWMutex
	byExt   map[string]Extractor
	maxText int64
}

// Option configures a Registry.
type Option func(*Registry)

// WithMaxTextBytes caps the text any extractor may produce. Values <= 0 keep
// DefaultMaxTextBytes.
func WithMaxTextBytes(n int64) Option {
	return func(r *Registry) {
		if n > 0 {
			r.maxText = n
		}
	}
}

// NewRegistry returns a registry with the built-in formats.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{byExt: make(map[string]Extractor), maxText: DefaultMaxTextBytes}
	for _, opt := range opts {
		opt(r)
	}
	text := ExtractorFunc(PlainText)
	for _, ext := range []string{".txt", ".md", ".text"} {
		r.Register(ext, text)
	}
	r.Register(".docx", DocxExtractor{MaxTextBytes: r.maxText})
	return r
}

// Register installs ex for ext, replacing any previous handler.
func (r *Registry) Register(ext string, ex Extractor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byExt[normalizeExt(ext)] = ex
}

// Supported reports whether filename has a registered extractor.
func (r *Registry) Supported(filename string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.byExt[normalizeExt(filepath.Ext(filename))]
	return ok
}

// Extract implements Extractor.
func (r *Registry) Extract(filename string, data []byte) (string, error) {
	ext := normalizeExt(filepath.Ext(filename))
	r.mu.RLock()
	ex, ok := r.byExt[ext]
	r.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
	}

	text, err := ex.Extract(filename, data)
	if err != nil {
		return "", err
	}
	if int64(len(text)) > r.maxText {
		return "", fmt.Errorf("%w: %s yields %d bytes, limit %d", ErrTooLarge, filename, len(text), r.maxText)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", fmt.Errorf("%w: %s", ErrEmpty, filename)
	}
	return text, nil
}

// PlainText decodes UTF-8 text, dropping a byte order mark and any invalid sequences.
func PlainText(_ string, data []byte) (string, error) {
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))
	if utf8.Valid(data) {
		return string(data), nil
	}
	return strings.ToValidUTF8(string(data), ""), nil
}

func normalizeExt(ext string) string {
	ext = strings.ToLower(strings.TrimSpace(ext))
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return ext
}
