package watermark

import (
	"bufio"
	"bytes"
	"strings"
	"unicode/utf16"
)

// font holds what is needed to measure and decode shown strings.
type font struct {
	// twoByte is set for composite (Type0) fonts with 2-byte codes.
	twoByte      bool
	firstChar    int
	widths       []float64
	cidWidths    map[int]float64
	defaultWidth float64
	toUnicode    *cmap
}

const fallbackGlyphWidth = 500

// glyph is one decoded character code.
type glyph struct {
	code  int
	text  string
	width float64 // glyph space, 1/1000 em
	// wordSpace is set for the single-byte code 32, which receives Tw.
	wordSpace bool
}

func (f *font) glyphs(s []byte) []glyph {
	if f == nil {
		f = &font{}
	}
	step := 1
	if f.twoByte {
		step = 2
	}
	out := make([]glyph, 0, len(s)/step)
	for i := 0; i+step <= len(s); i += step {
		code := int(s[i])
		if step == 2 {
			code = code<<8 | int(s[i+1])
		}
		g := glyph{code: code, width: f.width(code), wordSpace: step == 1 && code == 32}
		if f.toUnicode != nil {
			if t, ok := f.toUnicode.lookup(s[i : i+step]); ok {
				g.text = t
			}
		}
		if g.text == "" && step == 1 {
			// Latin-1 is close enough to WinAnsi/Standard for ASCII text.
			g.text = string(rune(code))
		}
		out = append(out, g)
	}
	return out
}

func (f *font) width(code int) float64 {
	if f.twoByte {
		if w, ok := f.cidWidths[code]; ok {
			return w
		}
		if f.defaultWidth > 0 {
			return f.defaultWidth
		}
		return 1000
	}
	if i := code - f.firstChar; i >= 0 && i < len(f.widths) {
		return f.widths[i]
	}
	return fallbackGlyphWidth
}

// wItem is one element of a CIDFont /W array.
type wItem struct {
	num   float64
	arr   []float64
	isArr bool
}

// parseCIDWidths reads /W entries of the forms "c [w1 w2 ...]" and
// "cFirst cLast w".
func parseCIDWidths(items []wItem) map[int]float64 {
	out := make(map[int]float64)
	for i := 0; i < len(items); {
		if items[i].isArr {
			i++
			continue
		}
		first := int(items[i].num)
		if i+1 < len(items) && items[i+1].isArr {
			for j, w := range items[i+1].arr {
				out[first+j] = w
			}
			i += 2
			continue
		}
		if i+2 >= len(items) || items[i+1].isArr || items[i+2].isArr {
			break
		}
		last, w := int(items[i+1].num), items[i+2].num
		for c := first; c <= last && c-first < 65536; c++ {
			out[c] = w
		}
		i += 3
	}
	return out
}

// cmap is a parsed ToUnicode CMap.
type cmap struct {
	entries map[string]string
}

func (m *cmap) lookup(code []byte) (string, bool) {
	s, ok := m.entries[string(code)]
	return s, ok
}

func parseToUnicode(data []byte) *cmap {
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	m := &cmap{entries: make(map[string]string)}
	state := ""

	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "%") {
			continue
		}
		switch {
		case strings.HasSuffix(line, "beginbfchar"):
			state = "bfchar"
			continue
		case strings.HasSuffix(line, "beginbfrange"):
			state = "bfrange"
			continue
		case strings.HasSuffix(line, "endbfchar"), strings.HasSuffix(line, "endbfrange"):
			state = ""
			continue
		}

		hexes := hexTokens(line)
		switch state {
		case "bfchar":
			if len(hexes) >= 2 && len(hexes[0]) > 0 {
				m.entries[string(hexes[0])] = utf16BE(hexes[1])
			}
		case "bfrange":
			if strings.Contains(line, "[") && !strings.Contains(line, "]") {
				for sc.Scan() {
					next := strings.TrimSpace(sc.Text())
					line += " " + next
					if strings.Contains(next, "]") {
						break
					}
				}
				hexes = hexTokens(line)
			}
			if len(hexes) < 3 || len(hexes[0]) == 0 {
				continue
			}
			n := len(hexes[0])
			lo, hi := bytesInt(hexes[0]), bytesInt(hexes[1])
			if hi-lo > 65535 {
				continue
			}
			if strings.Contains(line, "[") {
				for i := 0; i <= hi-lo && 2+i < len(hexes); i++ {
					m.entries[string(intBytes(lo+i, n))] = utf16BE(hexes[2+i])
				}
				continue
			}
			dst := hexes[2]
			base := bytesInt(dst)
			for i := 0; i <= hi-lo; i++ {
				m.entries[string(intBytes(lo+i, n))] = utf16BE(intBytes(base+i, len(dst)))
			}
		}
	}
	return m
}

func hexTokens(line string) [][]byte {
	var out [][]byte
	for {
		i := strings.IndexByte(line, '<')
		if i < 0 {
			return out
		}
		j := strings.IndexByte(line[i+1:], '>')
		if j < 0 {
			return out
		}
		digits := strings.ReplaceAll(line[i+1:i+1+j], " ", "")
		if len(digits)%2 == 1 {
			digits += "0"
		}
		b := make([]byte, len(digits)/2)
		for k := range b {
			b[k] = unhex(digits[2*k])<<4 | unhex(digits[2*k+1])
		}
		out = append(out, b)
		line = line[i+1+j+1:]
	}
}

func utf16BE(b []byte) string {
	if len(b)%2 == 1 {
		b = b[:len(b)-1]
	}
	u := make([]uint16, len(b)/2)
	for i := range u {
		u[i] = uint16(b[2*i])<<8 | uint16(b[2*i+1])
	}
	return string(utf16.Decode(u))
}

func bytesInt(b []byte) int {
	v := 0
	for _, c := range b {
		v = v<<8 | int(c)
	}
	return v
}

func intBytes(v, n int) []byte {
	b := make([]byte, n)
	for i := n - 1; i >= 0; i-- {
		b[i] = byte(v)
		v >>= 8
	}
	return b
}
