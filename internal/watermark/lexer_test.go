package watermark

import "testing"

func TestParseContentOperators(t *testing.T) {
	src := []byte("% comment\nBT /F1 12 Tf (a\\(b\\)c\\101) Tj [(x) -250 (y)] TJ <48 65 6C6C6F> Tj ET")
	ops, err := parseContent(src)
	if err != nil {
		t.Fatal(err)
	}
	var names []string
	for _, o := range ops {
		names = append(names, o.name)
	}
	want := []string{"BT", "Tf", "Tj", "TJ", "Tj", "ET"}
	if len(names) != len(want) {
		t.Fatalf("ops = %v", names)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("ops = %v", names)
		}
	}

	if n, _ := ops[1].args[0].name(); n != "F1" {
		t.Fatalf("font name = %q", n)
	}
	if s := string(ops[2].args[0].bytes); s != "a(b)cA" {
		t.Fatalf("literal = %q", s)
	}
	if items := ops[3].args[0].items; len(items) != 3 || items[1].num != -250 {
		t.Fatalf("TJ array = %+v", items)
	}
	if s := string(ops[4].args[0].bytes); s != "Hello" {
		t.Fatalf("hex = %q", s)
	}
	if got := string(src[ops[1].start:ops[1].end]); got != "/F1 12 Tf" {
		t.Fatalf("Tf span = %q", got)
	}
}

func TestParseContentSkipsInlineImages(t *testing.T) {
	src := []byte("q BI /W 2 /H 1 /CS /RGB /BPC 8 ID \xff\x00\x00EIx\x00\x00\xff EI Q")
	ops, err := parseContent(src)
	if err != nil {
		t.Fatal(err)
	}
	if len(ops) != 3 || ops[0].name != "q" || ops[1].name != "BI" || ops[2].name != "Q" {
		t.Fatalf("ops = %+v", ops)
	}
}

func TestParseContentNamesAndDicts(t *testing.T) {
	ops, err := parseContent([]byte("/Span <</MCID 0 /Alt (x)>> BDC /A#20B cs EMC"))
	if err != nil {
		t.Fatal(err)
	}
	if len(ops) != 3 || ops[0].name != "BDC" || ops[0].args[1].kind != kindDict {
		t.Fatalf("ops = %+v", ops)
	}
	if n, _ := ops[1].args[0].name(); n != "A B" {
		t.Fatalf("decoded name = %q", n)
	}
}

func TestParseContentUnterminated(t *testing.T) {
	if _, err := parseContent([]byte("BT (abc")); err == nil {
		t.Fatal("expected error for unterminated string")
	}
}

func TestToUnicodeAndWidths(t *testing.T) {
	cm := parseToUnicode([]byte(`
begincmap
2 beginbfchar
<0003> <0020>
<0024> <0041>
endbfchar
1 beginbfrange
<0025> <0027> <0042>
endbfrange
endcmap`))
	f := &font{twoByte: true, toUnicode: cm, cidWidths: parseCIDWidths([]wItem{
		{num: 36}, {isArr: true, arr: []float64{700, 650}},
		{num: 3}, {num: 3}, {num: 250},
	})}

	gs := f.glyphs([]byte{0, 0x24, 0, 0x25, 0, 0x03, 0, 0x27})
	var text string
	for _, g := range gs {
		text += g.text
	}
	if text != "AB D" {
		t.Fatalf("text = %q", text)
	}
	if gs[0].width != 700 || gs[1].width != 650 || gs[2].width != 250 || gs[3].width != 1000 {
		t.Fatalf("widths = %v %v %v %v", gs[0].width, gs[1].width, gs[2].width, gs[3].width)
	}
	if gs[2].wordSpace {
		t.Fatal("two-byte code 3 must not take word spacing")
	}
}

func TestSimpleFontWidths(t *testing.T) {
	f := &font{firstChar: 65, widths: []float64{600, 700}}
	gs := f.glyphs([]byte("AB "))
	if gs[0].width != 600 || gs[1].width != 700 || gs[2].width != fallbackGlyphWidth {
		t.Fatalf("widths = %+v", gs)
	}
	if !gs[2].wordSpace || gs[2].text != " " {
		t.Fatalf("space glyph = %+v", gs[2])
	}
}
