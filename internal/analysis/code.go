package analysis

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/blevesearch/bleve/v2/analysis"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/custom"
	"github.com/blevesearch/bleve/v2/analysis/token/lowercase"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/registry"
)

const (
	// CodeTokenizerName is the bleve name of the identifier-aware tokenizer.
	CodeTokenizerName = "nrt_code_tokenizer"

	// CodeStopFilterName is the bleve name of the keyword stop filter.
	CodeStopFilterName = "nrt_code_stop"

	// CodeAnalyzerName is the bleve name of the assembled analyzer.
	CodeAnalyzerName = "nrt_code"
)

// CodeStopWords are language keywords dropped by the code analyzer.
var CodeStopWords = []string{
	"var", "let", "const", "func", "function", "def", "class",
	"return", "if", "else", "for", "while",
}

func init() {
	_ = registry.RegisterTokenizer(CodeTokenizerName, func(map[string]interface{}, *registry.Cache) (analysis.Tokenizer, error) {
		return codeTokenizer{}, nil
	})
	_ = registry.RegisterTokenFilter(CodeStopFilterName, func(map[string]interface{}, *registry.Cache) (analysis.TokenFilter, error) {
		return codeStopFilter{stop: stopWordSet(CodeStopWords)}, nil
	})
}

func installCodeAnalyzer(m *mapping.IndexMappingImpl) (string, error) {
	err := m.AddCustomAnalyzer(CodeAnalyzerName, map[string]interface{}{
		"type":      custom.Name,
		"tokenizer": CodeTokenizerName,
		"token_filters": []string{
			lowercase.Name,
			CodeStopFilterName,
		},
	})
	if err != nil {
		return "", err
	}
	return CodeAnalyzerName, nil
}

var wordRegex = regexp.MustCompile(`[a-zA-Z0-9_]+`)

// SplitIdentifiers splits text into words and breaks snake_case and
// camelCase words into their parts. Parts shorter than two characters are
// dropped. Case is preserved.
func SplitIdentifiers(text string) []string {
	var out []string
	for _, word := range wordRegex.FindAllString(text, -1) {
		for _, part := range strings.Split(word, "_") {
			for _, sub := range SplitCamelCase(part) {
				if len(sub) >= 2 {
					out = append(out, sub)
				}
			}
		}
	}
	return out
}

// SplitCamelCase splits camelCase and PascalCase identifiers, keeping
// acronyms together: "parseHTTPRequest" -> ["parse", "HTTP", "Request"].
func SplitCamelCase(s string) []string {
	if s == "" {
		return []string{}
	}

	var parts []string
	var current strings.Builder

	runes := []rune(s)
	for i, r := range runes {
		if i > 0 && unicode.IsUpper(r) {
			prevLower := unicode.IsLower(runes[i-1])
			nextLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
			if (prevLower || nextLower) && current.Len() > 0 {
				parts = append(parts, current.String())
				current.Reset()
			}
		}
		current.WriteRune(r)
	}

	if current.Len() > 0 {
		parts = append(parts, current.String())
	}
	return parts
}

type codeTokenizer struct{}

// Tokenize implements analysis.Tokenizer. Offsets point at the first
// occurrence of each part at or after the previous token.
func (codeTokenizer) Tokenize(input []byte) analysis.TokenStream {
	text := string(input)
	lower := strings.ToLower(text)
	parts := SplitIdentifiers(text)

	stream := make(analysis.TokenStream, 0, len(parts))
	offset := 0
	for i, part := range parts {
		start := strings.Index(lower[offset:], strings.ToLower(part))
		if start < 0 {
			start = offset
		} else {
			start += offset
		}
		end := start + len(part)

		stream = append(stream, &analysis.Token{
			Term:     []byte(part),
			Start:    start,
			End:      end,
			Position: i + 1,
			Type:     analysis.AlphaNumeric,
		})
		if end <= len(text) {
			offset = end
		}
	}
	return stream
}

type codeStopFilter struct {
	stop map[string]struct{}
}

// Filter implements analysis.TokenFilter.
func (f codeStopFilter) Filter(input analysis.TokenStream) analysis.TokenStream {
	out := input[:0]
	for _, tok := range input {
		if _, isStop := f.stop[strings.ToLower(string(tok.Term))]; !isStop {
			out = append(out, tok)
		}
	}
	return out
}

func stopWordSet(words []string) map[string]struct{} {
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		m[strings.ToLower(w)] = struct{}{}
	}
	return m
}
