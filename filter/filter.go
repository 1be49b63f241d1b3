package filter

import (
	"fmt"
	"regexp"
	"strings"
)

// PDFExtension is the only attachment type the fetcher saves.
const PDFExtension = ".pdf"

// Options captures the attachment filtering configuration.
type Options struct {
	Extensions  []string
	ExcludeName []string
}

// Filter selects attachments by filename suffix, then drops names matching
// any exclude pattern.
type Filter struct {
	extensions  []string
	excludeName []*regexp.Regexp
}

// New creates a new Filter from the provided options. Without extensions it
// selects PDF files.
func New(opts Options) (*Filter, error) {
	excludeName, err := compilePatterns(opts.ExcludeName)
	if err != nil {
		return nil, fmt.Errorf("compile exclude-attachment pattern: %w", err)
	}

	extensions := make([]string, 0, len(opts.Extensions))
	for _, ext := range opts.Extensions {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		extensions = append(extensions, ext)
	}
	if len(extensions) == 0 {
		extensions = []string{PDFExtension}
	}

	return &Filter{
		extensions:  extensions,
		excludeName: excludeName,
	}, nil
}

// Allows returns true if filename ends with a selected extension (case
// insensitive) and matches no exclude pattern.
func (f *Filter) Allows(filename string) bool {
	lower := strings.ToLower(filename)
	selected := false
	for _, ext := range f.extensions {
		if strings.HasSuffix(lower, ext) {
			selected = true
			break
		}
	}
	if !selected {
		return false
	}
	return !matchAny(f.excludeName, filename)
}

func compilePatterns(patterns []string) ([]*regexp.Regexp, error) {
	compiled := make([]*regexp.Regexp, 0, len(patterns))
	for _, pattern := range patterns {
		pattern = strings.TrimSpace(pattern)
		if pattern == "" {
			continue
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("compile %q: %w", pattern, err)
		}
		compiled = append(compiled, re)
	}
	return compiled, nil
}

func matchAny(patterns []*regexp.Regexp, text string) bool {
	for _, re := range patterns {
		if re.MatchString(text) {
			return true
		}
	}
	return false
}
