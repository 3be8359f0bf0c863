package tgui

import "unicode/utf8"

// MaxCaptionLen is Telegram's caption limit, in UTF-16 units of the
// visible text.
const MaxCaptionLen = 1024

// TruncRunes cuts s to at most n runes, appending "…" when it had to cut.
func TruncRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	i, count := 0, 0
	for i = range s {
		if count == n {
			break
		}
		count++
	}
	return s[:i] + "…"
}

// UTF16Len is the length Telegram measures its limits in.
func UTF16Len(s string) int {
	n := 0
	for _, r := range s {
		n += runeWidth(r)
	}
	return n
}

// TruncUTF16 cuts s so that it takes at most n UTF-16 units, the trailing
// "…" included.
func TruncUTF16(s string, n int) string {
	if UTF16Len(s) <= n {
		return s
	}
	if n <= 0 {
		return ""
	}
	used := 0
	for i, r := range s {
		w := runeWidth(r)
		if used+w > n-1 {
			return s[:i] + "…"
		}
		used += w
	}
	return s
}

func runeWidth(r rune) int {
	if r >= 0x10000 {
		return 2
	}
	return 1
}
