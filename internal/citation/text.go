package citation

import (
	"io"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/net/html"
)

// minSentenceRunes drops fragments such as list markers and stray abbreviations
const minSentenceRunes = 10

// sentenceTerminators covers Latin, Arabic and CJK full stops
const sentenceTerminators = ".!?؟。"

// SplitSentences splits text at whitespace that follows a sentence terminator.
// Fragments of ten runes or fewer are dropped.
func SplitSentences(text string) []string {
	var (
		sentences []string
		start     int
		prev      rune
	)

	flush := func(end int) {
		s := strings.TrimSpace(text[start:end])
		if utf8.RuneCountInString(s) > minSentenceRunes {
			sentences = append(sentences, s)
		}
	}

	for i, r := range text {
		if unicode.IsSpace(r) && strings.ContainsRune(sentenceTerminators, prev) {
			flush(i)
			start = i
		}
		prev = r
	}
	flush(len(text))

	return sentences
}

// PlainText returns the visible text of an HTML fragment with whitespace collapsed.
// Plain text input passes through unchanged apart from whitespace.
func PlainText(fragment string) string {
	z := html.NewTokenizer(strings.NewReader(fragment))

	var (
		b    strings.Builder
		skip int
	)
	for {
		switch z.Next() {
		case html.ErrorToken:
			if z.Err() == io.EOF {
				return strings.Join(strings.Fields(b.String()), " ")
			}
			return strings.Join(strings.Fields(fragment), " ")
		case html.StartTagToken:
			if name, _ := z.TagName(); isHiddenTag(string(name)) {
				skip++
			}
		case html.EndTagToken:
			if name, _ := z.TagName(); isHiddenTag(string(name)) && skip > 0 {
				skip--
			}
			b.WriteByte(' ')
		case html.SelfClosingTagToken:
			b.WriteByte(' ')
		case html.TextToken:
			if skip == 0 {
				b.Write(z.Text())
			}
		}
	}
}

func isHiddenTag(name string) bool {
	return name == "script" || name == "style" || name == "noscript"
}

// Truncate shortens s to at most n runes, appending "..." when cut
func Truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n]) + "..."
}
