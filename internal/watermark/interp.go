package watermark

import (
	"strings"
	"unicode"
)

// resolver looks up page or form resources by name.
type resolver interface {
	font(name string) *font
	xobject(name string) *xobject
}

// xobject is either an image or a form.
type xobject struct {
	image *raster
	form  *form
}

// raster is an image XObject; sample reads its first pixel lazily.
type raster struct {
	name   string
	sample func() (rgb [3]uint8, isRGB bool, err error)
}

type form struct {
	content []byte
	matrix  matrix
	res     resolver
}

// Word is a run of non-space glyphs shown with one text position.
type Word struct {
	Text     string
	Box      Rect // user space
	Rotation float64
}

// placement is one image drawn on the page.
type placement struct {
	image *raster
	box   Rect
	// op is the index of the Do operator in the page content, or -1 when
	// the image is drawn from inside a form.
	op int
}

// showRec describes a top-level Tj or TJ operator.
type showRec struct {
	op      int
	glyphs  []Rect
	advance float64 // text space, horizontal
	fs, th  float64
}

type pageScan struct {
	ops    []op
	words  []Word
	images []placement
	shows  []showRec
}

const maxFormDepth = 8

type textState struct {
	ctm            matrix
	tc, tw, th, tl float64
	rise, fs       float64
	font           *font
}

type interp struct {
	st    textState
	stack []textState
	tm    matrix
	tlm   matrix

	scan *pageScan

	cur     strings.Builder
	curBox  Rect
	curRot  float64
	hasWord bool
}

// scanContent interprets a page content stream.
func scanContent(content []byte, res resolver) (*pageScan, error) {
	ops, err := parseContent(content)
	scan := &pageScan{ops: ops}
	in := &interp{scan: scan}
	in.st = textState{ctm: identity, th: 1}
	in.run(ops, res, 0)
	in.flush()
	return scan, err
}

func (in *interp) run(ops []op, res resolver, depth int) {
	for i, o := range ops {
		switch o.name {
		case "q":
			in.flush()
			in.stack = append(in.stack, in.st)
		case "Q":
			in.flush()
			if n := len(in.stack); n > 0 {
				in.st = in.stack[n-1]
				in.stack = in.stack[:n-1]
			}
		case "cm":
			in.flush()
			if v, ok := numbers(o.args, 6); ok {
				in.st.ctm = matrix{v[0], v[1], v[2], v[3], v[4], v[5]}.mul(in.st.ctm)
			}
		case "BT":
			in.flush()
			in.tm, in.tlm = identity, identity
		case "ET":
			in.flush()
		case "Tc":
			if v, ok := numbers(o.args, 1); ok {
				in.st.tc = v[0]
			}
		case "Tw":
			if v, ok := numbers(o.args, 1); ok {
				in.st.tw = v[0]
			}
		case "Tz":
			if v, ok := numbers(o.args, 1); ok {
				in.st.th = v[0] / 100
			}
		case "TL":
			if v, ok := numbers(o.args, 1); ok {
				in.st.tl = v[0]
			}
		case "Ts":
			if v, ok := numbers(o.args, 1); ok {
				in.st.rise = v[0]
			}
		case "Tf":
			if len(o.args) >= 2 {
				if name, ok := o.args[len(o.args)-2].name(); ok {
					in.st.font = res.font(name)
				}
				if v, ok := o.args[len(o.args)-1].number(); ok {
					in.st.fs = v
				}
			}
		case "Td":
			in.flush()
			if v, ok := numbers(o.args, 2); ok {
				in.moveLine(v[0], v[1])
			}
		case "TD":
			in.flush()
			if v, ok := numbers(o.args, 2); ok {
				in.st.tl = -v[1]
				in.moveLine(v[0], v[1])
			}
		case "Tm":
			in.flush()
			if v, ok := numbers(o.args, 6); ok {
				in.tlm = matrix{v[0], v[1], v[2], v[3], v[4], v[5]}
				in.tm = in.tlm
			}
		case "T*":
			in.flush()
			in.moveLine(0, -in.st.tl)
		case "Tj":
			if len(o.args) > 0 {
				var rec *showRec
				if depth == 0 {
					rec = &showRec{op: i, fs: in.st.fs, th: in.st.th}
				}
				in.show(o.args[len(o.args)-1].bytes, rec)
				in.record(rec)
			}
		case "TJ":
			if len(o.args) > 0 && o.args[len(o.args)-1].kind == kindArray {
				var rec *showRec
				if depth == 0 {
					rec = &showRec{op: i, fs: in.st.fs, th: in.st.th}
				}
				for _, item := range o.args[len(o.args)-1].items {
					switch item.kind {
					case kindString:
						in.show(item.bytes, rec)
					case kindNumber:
						adj := -item.num / 1000 * in.st.fs * in.st.th
						if -item.num > 300 {
							in.flush()
						}
						in.tm = translate(adj, 0).mul(in.tm)
						if rec != nil {
							rec.advance += adj
						}
					}
				}
				in.record(rec)
			}
		case "'":
			in.flush()
			in.moveLine(0, -in.st.tl)
			if len(o.args) > 0 {
				in.show(o.args[len(o.args)-1].bytes, nil)
			}
		case "\"":
			in.flush()
			if v, ok := numbers(o.args[:max(0, len(o.args)-1)], 2); ok {
				in.st.tw, in.st.tc = v[0], v[1]
			}
			in.moveLine(0, -in.st.tl)
			if len(o.args) > 0 {
				in.show(o.args[len(o.args)-1].bytes, nil)
			}
		case "Do":
			in.flush()
			if len(o.args) == 0 {
				continue
			}
			name, ok := o.args[len(o.args)-1].name()
			if !ok {
				continue
			}
			x := res.xobject(name)
			if x == nil {
				continue
			}
			if x.image != nil {
				idx := -1
				if depth == 0 {
					idx = i
				}
				in.scan.images = append(in.scan.images, placement{image: x.image, box: boxOf(in.st.ctm, 0, 0, 1, 1), op: idx})
			} else if x.form != nil && depth < maxFormDepth {
				in.runForm(x.form, depth)
			}
		}
	}
}

func (in *interp) runForm(f *form, depth int) {
	saved, savedStack, savedTm, savedTlm := in.st, len(in.stack), in.tm, in.tlm
	in.st.ctm = f.matrix.mul(in.st.ctm)
	ops, _ := parseContent(f.content)
	in.run(ops, f.res, depth+1)
	in.flush()
	in.st, in.stack, in.tm, in.tlm = saved, in.stack[:savedStack], savedTm, savedTlm
}

func (in *interp) moveLine(tx, ty float64) {
	in.tlm = translate(tx, ty).mul(in.tlm)
	in.tm = in.tlm
}

func (in *interp) record(rec *showRec) {
	if rec != nil {
		in.scan.shows = append(in.scan.shows, *rec)
	}
}

// show paints s with the current text state and advances the text matrix.
func (in *interp) show(s []byte, rec *showRec) {
	st := &in.st
	for _, g := range st.font.glyphs(s) {
		w0 := g.width / 1000 * st.fs
		adv := w0 + st.tc
		if g.wordSpace {
			adv += st.tw
		}
		adv *= st.th

		trm := in.tm.mul(st.ctm)
		box := boxOf(trm, 0, st.rise-0.2*st.fs, w0*st.th, st.rise+0.8*st.fs)
		if rec != nil {
			rec.glyphs = append(rec.glyphs, box)
			rec.advance += adv
		}

		if g.text == "" || strings.TrimFunc(g.text, unicode.IsSpace) == "" {
			in.flush()
		} else {
			if !in.hasWord {
				in.hasWord = true
				in.curBox = box
				in.curRot = trm.angle()
			} else {
				in.curBox = in.curBox.union(box)
			}
			in.cur.WriteString(g.text)
		}
		in.tm = translate(adv, 0).mul(in.tm)
	}
}

func (in *interp) flush() {
	if in.hasWord {
		in.scan.words = append(in.scan.words, Word{Text: in.cur.String(), Box: in.curBox, Rotation: in.curRot})
	}
	in.cur.Reset()
	in.hasWord = false
}
