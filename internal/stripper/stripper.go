// Package stripper removes comments and doc comments from source text while
// leaving string-literal content byte-identical. It has no semantic
// understanding of the target language beyond lexical delimiters, and
// re-applying it to already-stripped text is a no-op.
package stripper

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"
)

// StringRule describes one string-literal form of a language
type StringRule struct {
	Delim     string // opening and closing delimiter, e.g. `"` or `"""`
	Escape    bool   // backslash escapes the next character
	Multiline bool   // the literal may span lines
	Doc       bool   // at statement position the literal is a doc comment and gets removed
}

// Language is one row of the per-source-language rule table
type Language struct {
	Tag           string
	Extensions    []string
	LineComments  []string
	BlockComments [][2]string
	Strings       []StringRule
}

var languages = []Language{
	{
		Tag:          "go",
		Extensions:   []string{".go"},
		LineComments: []string{"//"},
		BlockComments: [][2]string{
			{"/*", "*/"},
		},
		Strings: []StringRule{
			{Delim: `"`, Escape: true},
			{Delim: "`", Multiline: true},
			{Delim: `'`, Escape: true},
		},
	},
	{
		Tag:          "python",
		Extensions:   []string{".py", ".pyi"},
		LineComments: []string{"#"},
		Strings: []StringRule{
			{Delim: `"""`, Escape: true, Multiline: true, Doc: true},
			{Delim: `'''`, Escape: true, Multiline: true, Doc: true},
			{Delim: `"`, Escape: true},
			{Delim: `'`, Escape: true},
		},
	},
	{
		Tag:          "javascript",
		Extensions:   []string{".js", ".jsx", ".mjs"},
		LineComments: []string{"//"},
		BlockComments: [][2]string{
			{"/*", "*/"},
		},
		Strings: []StringRule{
			{Delim: `"`, Escape: true},
			{Delim: `'`, Escape: true},
			{Delim: "`", Escape: true, Multiline: true},
		},
	},
	{
		Tag:          "typescript",
		Extensions:   []string{".ts", ".tsx"},
		LineComments: []string{"//"},
		BlockComments: [][2]string{
			{"/*", "*/"},
		},
		Strings: []StringRule{
			{Delim: `"`, Escape: true},
			{Delim: `'`, Escape: true},
			{Delim: "`", Escape: true, Multiline: true},
		},
	},
	{
		Tag:          "rust",
		Extensions:   []string{".rs"},
		LineComments: []string{"//"},
		BlockComments: [][2]string{
			{"/*", "*/"},
		},
		Strings: []StringRule{
			{Delim: `"`, Escape: true, Multiline: true},
		},
	},
	{
		Tag:          "java",
		Extensions:   []string{".java"},
		LineComments: []string{"//"},
		BlockComments: [][2]string{
			{"/*", "*/"},
		},
		Strings: []StringRule{
			{Delim: `"`, Escape: true},
			{Delim: `'`, Escape: true},
		},
	},
	{
		Tag:          "c",
		Extensions:   []string{".c", ".h", ".cpp", ".cc", ".hpp"},
		LineComments: []string{"//"},
		BlockComments: [][2]string{
			{"/*", "*/"},
		},
		Strings: []StringRule{
			{Delim: `"`, Escape: true},
			{Delim: `'`, Escape: true},
		},
	},
}

var byTag = func() map[string]*Language {
	m := make(map[string]*Language, len(languages))
	for i := range languages {
		m[languages[i].Tag] = &languages[i]
	}
	return m
}()

var byExt = func() map[string]*Language {
	m := make(map[string]*Language)
	for i := range languages {
		for _, ext := range languages[i].Extensions {
			m[ext] = &languages[i]
		}
	}
	return m
}()

// ForTag returns the language for a tag like "go" or "python"
func ForTag(tag string) (*Language, error) {
	if lang, ok := byTag[strings.ToLower(tag)]; ok {
		return lang, nil
	}
	return nil, fmt.Errorf("unknown language tag: %q", tag)
}

// ForFile returns the language for a filename based on its extension
func ForFile(path string) (*Language, error) {
	ext := strings.ToLower(filepath.Ext(path))
	if lang, ok := byExt[ext]; ok {
		return lang, nil
	}
	return nil, fmt.Errorf("no language registered for extension %q", ext)
}

// Tags returns the registered language tags in sorted order
func Tags() []string {
	tags := make([]string, 0, len(languages))
	for _, l := range languages {
		tags = append(tags, l.Tag)
	}
	sort.Strings(tags)
	return tags
}

// Strip removes comment regions from src according to the language's rules.
// String-literal content, including comment-like substrings inside strings,
// is preserved verbatim. Lines that held only a comment are dropped.
func Strip(lang *Language, src string) string {
	out := make([]byte, 0, len(src))
	lineStart := 0 // index into out where the current output line begins

	i := 0
	for i < len(src) {
		// String literals win over comment tokens at the same position.
		// Longer delimiters are listed first in the rule table, so a
		// triple quote is matched before a single quote.
		if rule := matchString(lang, src, i); rule != nil {
			end := scanString(src, i, rule)
			if rule.Doc && blankSince(out, lineStart) {
				// Doc comment at statement position: drop the region but
				// keep interior newlines so line structure survives
				out = out[:lineStart]
				for k := i; k < end; k++ {
					if src[k] == '\n' {
						out = append(out, '\n')
					}
				}
				lineStart = len(out)
			} else {
				out = append(out, src[i:end]...)
			}
			i = end
			continue
		}

		if tok := matchToken(lang.LineComments, src, i); tok != "" {
			out = trimTrailingBlank(out, lineStart)
			for i < len(src) && src[i] != '\n' {
				i++
			}
			if len(out) == lineStart && i < len(src) {
				// The whole line was a comment; drop its newline too
				i++
			}
			continue
		}

		if open, close := matchBlock(lang, src, i); open != "" {
			wholeLine := blankSince(out, lineStart)
			i += len(open)
			sawNewline := false
			for i < len(src) {
				if strings.HasPrefix(src[i:], close) {
					i += len(close)
					break
				}
				if src[i] == '\n' {
					out = append(out, '\n')
					lineStart = len(out)
					sawNewline = true
				}
				i++
			}
			if wholeLine && !sawNewline && i < len(src) && src[i] == '\n' {
				// Single-line block comment occupying the whole line
				out = out[:lineStart]
				i++
			} else if !wholeLine {
				out = trimTrailingBlank(out, lineStart)
			}
			continue
		}

		c := src[i]
		out = append(out, c)
		if c == '\n' {
			lineStart = len(out)
		}
		i++
	}

	return string(out)
}

// StripFile strips src using the language inferred from its filename
func StripFile(path, src string) (string, error) {
	lang, err := ForFile(path)
	if err != nil {
		return "", err
	}
	return Strip(lang, src), nil
}

// blankSince reports whether out holds only whitespace since lineStart
func blankSince(out []byte, lineStart int) bool {
	for _, c := range out[lineStart:] {
		if c != ' ' && c != '\t' && c != '\r' {
			return false
		}
	}
	return true
}

// trimTrailingBlank removes trailing spaces and tabs from the current line
func trimTrailingBlank(out []byte, lineStart int) []byte {
	for len(out) > lineStart && (out[len(out)-1] == ' ' || out[len(out)-1] == '\t') {
		out = out[:len(out)-1]
	}
	return out
}

func matchString(lang *Language, src string, i int) *StringRule {
	for j := range lang.Strings {
		if strings.HasPrefix(src[i:], lang.Strings[j].Delim) {
			return &lang.Strings[j]
		}
	}
	return nil
}

// scanString returns the index just past the string literal starting at i
func scanString(src string, i int, rule *StringRule) int {
	j := i + len(rule.Delim)
	for j < len(src) {
		if rule.Escape && src[j] == '\\' && j+1 < len(src) {
			j += 2
			continue
		}
		if strings.HasPrefix(src[j:], rule.Delim) {
			return j + len(rule.Delim)
		}
		if src[j] == '\n' && !rule.Multiline {
			// Unterminated single-line literal; treat the newline as its end
			return j
		}
		j++
	}
	return len(src)
}

func matchToken(tokens []string, src string, i int) string {
	for _, tok := range tokens {
		if strings.HasPrefix(src[i:], tok) {
			return tok
		}
	}
	return ""
}

func matchBlock(lang *Language, src string, i int) (string, string) {
	for _, pair := range lang.BlockComments {
		if strings.HasPrefix(src[i:], pair[0]) {
			return pair[0], pair[1]
		}
	}
	return "", ""
}
