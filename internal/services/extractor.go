package services

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"
)

// Raw text extraction is deliberately a best-effort heuristic, not a
// format-correct PDF parser: the structuring model is prompted to
// extract meaning from noisy text, and the fallback generator covers
// the cases where nothing usable is recovered. It never fails and
// never returns an empty string.

const (
	// Heuristic A must recover at least this many characters before we
	// trust it over the broader literal scan.
	textBlockMinChars = 100
	// Anything shorter than this is replaced by the placeholder.
	extractMinChars = 50
)

// pdfStringRe matches PDF string literals in parentheses: (text here)
var pdfStringRe = regexp.MustCompile(`\(([^)]*)\)`)

// numericOnlyRe matches literals that carry no prose: digits,
// punctuation and whitespace only.
var numericOnlyRe = regexp.MustCompile(`^[\d\s.,:;/()\-+%]*$`)

// ExtractText recovers human-readable text from raw document bytes.
// It scans PDF-style text blocks first, falls back to a broad literal
// scan, and finally substitutes a placeholder naming the source file,
// so downstream stages always receive non-empty input.
func ExtractText(data []byte, filename string) string {
	decoded := strings.ToValidUTF8(string(data), " ")

	text := extractTextBlocks(decoded)
	if len(text) < textBlockMinChars {
		text = extractLooseLiterals(decoded)
	}
	if len(text) < extractMinChars {
		return fmt.Sprintf("Source document %q: no machine-readable text could be recovered from the file contents.", filename)
	}
	return text
}

// extractTextBlocks applies Heuristic A: inside each BT..ET text
// block, collect the parenthesised literals on lines that end in a
// show-text operator (Tj, TJ, or ').
func extractTextBlocks(decoded string) string {
	var parts []string
	rest := decoded
	for {
		start := strings.Index(rest, "BT")
		if start < 0 {
			break
		}
		end := strings.Index(rest[start:], "ET")
		if end < 0 {
			break
		}
		block := rest[start : start+end]
		rest = rest[start+end+2:]

		for _, line := range strings.Split(block, "\n") {
			line = strings.TrimSpace(line)
			if !strings.HasSuffix(line, "Tj") && !strings.HasSuffix(line, "TJ") && !strings.HasSuffix(line, "'") {
				continue
			}
			for _, m := range pdfStringRe.FindAllStringSubmatch(line, -1) {
				if text := cleanExtracted(decodePDFString(m[1])); text != "" {
					parts = append(parts, text)
				}
			}
		}
	}
	return strings.Join(parts, " ")
}

// extractLooseLiterals applies Heuristic B: every parenthesised
// substring of length >= 3 anywhere in the stream that contains a
// letter and is not purely numeric or punctuation.
func extractLooseLiterals(decoded string) string {
	var parts []string
	for _, m := range pdfStringRe.FindAllStringSubmatch(decoded, -1) {
		candidate := decodePDFString(m[1])
		if len(candidate) < 3 {
			continue
		}
		if !containsLetter(candidate) || numericOnlyRe.MatchString(candidate) {
			continue
		}
		if text := cleanExtracted(candidate); text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, " ")
}

// decodePDFString handles basic PDF escape sequences.
func decodePDFString(raw string) string {
	var sb strings.Builder
	for i := 0; i < len(raw); i++ {
		if raw[i] == '\\' && i+1 < len(raw) {
			i++
			switch raw[i] {
			case 'n', 'r', 't':
				sb.WriteByte(' ')
			case '\\', '(', ')':
				sb.WriteByte(raw[i])
			default:
				// Octal escape (e.g. \040 for space).
				if raw[i] >= '0' && raw[i] <= '7' {
					val := int(raw[i] - '0')
					if i+1 < len(raw) && raw[i+1] >= '0' && raw[i+1] <= '7' {
						i++
						val = val*8 + int(raw[i]-'0')
						if i+1 < len(raw) && raw[i+1] >= '0' && raw[i+1] <= '7' {
							i++
							val = val*8 + int(raw[i]-'0')
						}
					}
					sb.WriteByte(byte(val))
				} else {
					sb.WriteByte(raw[i])
				}
			}
		} else {
			sb.WriteByte(raw[i])
		}
	}
	return sb.String()
}

// cleanExtracted keeps printable runes and collapses whitespace runs.
func cleanExtracted(text string) string {
	var sb strings.Builder
	prevSpace := false
	for _, r := range text {
		if unicode.IsSpace(r) {
			if !prevSpace && sb.Len() > 0 {
				sb.WriteByte(' ')
				prevSpace = true
			}
		} else if unicode.IsPrint(r) {
			sb.WriteRune(r)
			prevSpace = false
		}
	}
	return strings.TrimSpace(sb.String())
}

func containsLetter(s string) bool {
	for _, r := range s {
		if unicode.IsLetter(r) {
			return true
		}
	}
	return false
}
