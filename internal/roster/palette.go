package roster

// Palette is the fixed set of speaker colours.
var Palette = [...]string{
	"#6A9EFF", "#FF6A6A", "#FFD36A", "#6AFFC2", "#C06AFF",
	"#7ED957", "#FF9A6A", "#6AD0FF", "#FF6AE1", "#C2FF6A",
}

// Color returns the palette colour for userID. The same id always maps to
// the same colour, on every subscriber and across restarts.
func Color(userID string) string {
	sum := 0
	for _, u := range utf16Units(userID) {
		sum += int(u)
	}
	return Palette[sum%len(Palette)]
}

// utf16Units yields the UTF-16 code units of s, so ids hash the same way
// browser clients compute it.
func utf16Units(s string) []uint16 {
	out := make([]uint16, 0, len(s))
	for _, r := range s {
		if r >= 0x10000 {
			r -= 0x10000
			out = append(out, uint16(0xD800+(r>>10)), uint16(0xDC00+(r&0x3FF)))
			continue
		}
		out = append(out, uint16(r))
	}
	return out
}
