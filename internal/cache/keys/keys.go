// Package keys builds every Redis key the stores and the query cache use.
package keys

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"github.com/cespare/xxhash/v2"
)

const maxParamTextLen = 160

var punct = regexp.MustCompile(`\s*([=<>!\.,\(\)\[\]])\s*`)

// QueryKey identifies a cached query result. gen is the layer generation at
// read time, so bumping it orphans every older entry for that layer.
func QueryKey(layer string, gen int64, kind, params string) string {
	layerNorm := sanitize(strings.TrimSpace(layer), false)
	if layerNorm == "" {
		layerNorm = "_all"
	}
	paramText := normalizeParams(params)
	paramSafe := sanitize(paramText, true)
	if len(paramSafe) > maxParamTextLen {
		paramSafe = paramSafe[:maxParamTextLen]
	}
	sum := xxhash.Sum64String(kind + "|" + paramText)
	return fmt.Sprintf("q:%s:g%d:%s:p=%s:f=%016x", layerNorm, gen, kind, paramSafe, sum)
}

// GenKey holds the invalidation generation of a layer.
func GenKey(layer string) string {
	l := sanitize(strings.TrimSpace(layer), false)
	if l == "" {
		l = "_all"
	}
	return "gen:" + l
}

func FeatureKey(id string) string { return "feat:" + strings.TrimSpace(id) }

// LayerSet lists feature IDs of a layer; the empty layer is the global set.
func LayerSet(layer string) string {
	l := sanitize(strings.TrimSpace(layer), false)
	if l == "" {
		return "layer:_all"
	}
	return "layer:" + l
}

func CellSet(res int, cell string) string { return fmt.Sprintf("cell:%d:%s", res, cell) }

// OversizeSet lists features too large to index by cell at res.
func OversizeSet(res int) string { return fmt.Sprintf("cell:%d:_oversize", res) }

func normalizeParams(s string) string {
	if s == "" {
		return ""
	}
	s = collapseASCIIWhitespace(strings.TrimSpace(s))
	// Remove spaces around these punctuation tokens.
	return punct.ReplaceAllString(s, "$1")
}

// sanitize maps s to key-safe runes, collapsing repeated separators.
func sanitize(s string, allowEq bool) string {
	if s == "" {
		return ""
	}
	var b strings.Builder
	b.Grow(len(s))

	var prev rune
	for _, r := range s {
		var out rune
		switch {
		case isASCIIWhitespace(r):
			out = '_'
		case isAlphaNum(r) || r == ':' || r == '_' || r == '-' || (allowEq && r == '='):
			out = r
		default:
			// Any other rune (including non-ASCII) becomes '-'
			out = '-'
		}
		if (out == '_' || out == '-') && out == prev {
			continue
		}
		b.WriteRune(out)
		prev = out
	}
	return b.String()
}

// converts any run of ASCII whitespace to a single space.
func collapseASCIIWhitespace(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	wasWS := false
	for _, r := range s {
		if isASCIIWhitespace(r) {
			if !wasWS {
				b.WriteByte(' ')
				wasWS = true
			}
			continue
		}
		b.WriteRune(r)
		wasWS = false
	}
	return strings.TrimSpace(b.String())
}

func isASCIIWhitespace(r rune) bool {
	return r == ' ' || r == '\t' || r == '\n' || r == '\r' || r == '\v' || r == '\f'
}

func isAlphaNum(r rune) bool {
	return (r >= 'a' && r <= 'z') ||
		(r >= 'A' && r <= 'Z') ||
		unicode.IsDigit(r)
}
