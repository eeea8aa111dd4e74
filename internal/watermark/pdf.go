package watermark

import (
	"bytes"
	"fmt"
	"image/jpeg"

	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/types"
)

// pdfResources resolves fonts and XObjects from a resource dictionary.
type pdfResources struct {
	ctx   *model.Context
	dict  types.Dict
	fonts map[string]*font
	xobjs map[string]*xobject
}

func newResources(ctx *model.Context, d types.Dict) *pdfResources {
	return &pdfResources{ctx: ctx, dict: d, fonts: map[string]*font{}, xobjs: map[string]*xobject{}}
}

func (r *pdfResources) sub(key, name string) types.Object {
	if r.dict == nil {
		return nil
	}
	o, ok := r.dict.Find(key)
	if !ok {
		return nil
	}
	d, ok := r.deref(o).(types.Dict)
	if !ok {
		return nil
	}
	o, ok = d.Find(name)
	if !ok {
		return nil
	}
	return r.deref(o)
}

func (r *pdfResources) deref(o types.Object) types.Object {
	v, err := r.ctx.Dereference(o)
	if err != nil {
		return nil
	}
	return v
}

func (r *pdfResources) font(name string) *font {
	if f, ok := r.fonts[name]; ok {
		return f
	}
	var f *font
	if d, ok := r.sub("Font", name).(types.Dict); ok {
		f = r.loadFont(d)
	}
	r.fonts[name] = f
	return f
}

func (r *pdfResources) loadFont(d types.Dict) *font {
	f := &font{}
	if o, ok := d.Find("ToUnicode"); ok {
		if sd, ok := r.deref(o).(types.StreamDict); ok {
			if data, err := streamContent(&sd); err == nil {
				f.toUnicode = parseToUnicode(data)
			}
		}
	}

	if st := d.NameEntry("Subtype"); st != nil && *st == "Type0" {
		f.twoByte = true
		f.defaultWidth = 1000
		arr, _ := r.derefArray(d, "DescendantFonts")
		if len(arr) == 0 {
			return f
		}
		desc, ok := r.deref(arr[0]).(types.Dict)
		if !ok {
			return f
		}
		if o, ok := desc.Find("DW"); ok {
			if v, ok := number(r.deref(o)); ok {
				f.defaultWidth = v
			}
		}
		if w, ok := r.derefArray(desc, "W"); ok {
			items := make([]wItem, 0, len(w))
			for _, o := range w {
				switch v := r.deref(o).(type) {
				case types.Array:
					it := wItem{isArr: true}
					for _, e := range v {
						n, _ := number(r.deref(e))
						it.arr = append(it.arr, n)
					}
					items = append(items, it)
				default:
					n, _ := number(v)
					items = append(items, wItem{num: n})
				}
			}
			f.cidWidths = parseCIDWidths(items)
		}
		return f
	}

	if o, ok := d.Find("FirstChar"); ok {
		if v, ok := number(r.deref(o)); ok {
			f.firstChar = int(v)
		}
	}
	if w, ok := r.derefArray(d, "Widths"); ok {
		f.widths = make([]float64, len(w))
		for i, o := range w {
			if v, ok := number(r.deref(o)); ok {
				f.widths[i] = v
			} else {
				f.widths[i] = fallbackGlyphWidth
			}
		}
	}
	return f
}

func (r *pdfResources) derefArray(d types.Dict, key string) (types.Array, bool) {
	o, ok := d.Find(key)
	if !ok {
		return nil, false
	}
	a, ok := r.deref(o).(types.Array)
	return a, ok
}

func (r *pdfResources) xobject(name string) *xobject {
	if x, ok := r.xobjs[name]; ok {
		return x
	}
	var x *xobject
	if sd, ok := r.sub("XObject", name).(types.StreamDict); ok {
		x = r.loadXObject(name, sd)
	}
	r.xobjs[name] = x
	return x
}

func (r *pdfResources) loadXObject(name string, sd types.StreamDict) *xobject {
	st := sd.Dict.NameEntry("Subtype")
	if st == nil {
		return nil
	}
	switch *st {
	case "Image":
		return &xobject{image: &raster{name: name, sample: func() ([3]uint8, bool, error) {
			return r.firstPixel(sd)
		}}}
	case "Form":
		data, err := streamContent(&sd)
		if err != nil {
			return nil
		}
		m := identity
		if a, ok := r.derefArray(sd.Dict, "Matrix"); ok && len(a) == 6 {
			for i, o := range a {
				v, _ := number(r.deref(o))
				m[i] = v
			}
		}
		res := r
		if o, ok := sd.Dict.Find("Resources"); ok {
			if d, ok := r.deref(o).(types.Dict); ok {
				res = newResources(r.ctx, d)
			}
		}
		return &xobject{form: &form{content: data, matrix: m, res: res}}
	}
	return nil
}

// firstPixel reads the first sample of an 8-bit image and reports whether
// the image is in an RGB colour space.
func (r *pdfResources) firstPixel(sd types.StreamDict) ([3]uint8, bool, error) {
	var rgb [3]uint8
	cs, ok := sd.Dict.Find("ColorSpace")
	if !ok {
		return rgb, false, nil
	}
	palette, isRGB := r.rgbSpace(r.deref(cs))
	if !isRGB {
		return rgb, false, nil
	}
	if bpc := sd.Dict.IntEntry("BitsPerComponent"); bpc != nil && *bpc != 8 {
		return rgb, false, nil
	}

	if len(sd.FilterPipeline) == 1 && sd.FilterPipeline[0].Name == "DCTDecode" && palette == nil {
		img, err := jpeg.Decode(bytes.NewReader(sd.Raw))
		if err != nil {
			return rgb, false, fmt.Errorf("decode jpeg: %w", err)
		}
		b := img.Bounds()
		cr, cg, cb, _ := img.At(b.Min.X, b.Min.Y).RGBA()
		return [3]uint8{uint8(cr >> 8), uint8(cg >> 8), uint8(cb >> 8)}, true, nil
	}

	data, err := streamContent(&sd)
	if err != nil {
		return rgb, false, err
	}
	if palette != nil {
		if len(data) < 1 || 3*int(data[0])+3 > len(palette) {
			return rgb, false, nil
		}
		i := 3 * int(data[0])
		return [3]uint8{palette[i], palette[i+1], palette[i+2]}, true, nil
	}
	if len(data) < 3 {
		return rgb, false, nil
	}
	return [3]uint8{data[0], data[1], data[2]}, true, nil
}

// rgbSpace reports whether cs is an RGB colour space. For an Indexed space
// over an RGB base it also returns the palette.
func (r *pdfResources) rgbSpace(cs types.Object) ([]byte, bool) {
	switch v := cs.(type) {
	case types.Name:
		return nil, v == "DeviceRGB" || v == "CalRGB"
	case types.Array:
		if len(v) == 0 {
			return nil, false
		}
		fam, ok := r.deref(v[0]).(types.Name)
		if !ok {
			return nil, false
		}
		switch fam {
		case "CalRGB":
			return nil, true
		case "ICCBased":
			if len(v) < 2 {
				return nil, false
			}
			sd, ok := r.deref(v[1]).(types.StreamDict)
			if !ok {
				return nil, false
			}
			n := sd.Dict.IntEntry("N")
			return nil, n != nil && *n == 3
		case "Indexed":
			if len(v) < 4 {
				return nil, false
			}
			if _, ok := r.rgbSpace(r.deref(v[1])); !ok {
				return nil, false
			}
			switch lut := r.deref(v[3]).(type) {
			case types.StringLiteral:
				b, err := types.Unescape(string(lut), false)
				return b, err == nil
			case types.HexLiteral:
				b, err := lut.Bytes()
				return b, err == nil
			case types.StreamDict:
				b, err := streamContent(&lut)
				return b, err == nil
			}
		}
	}
	return nil, false
}

func streamContent(sd *types.StreamDict) ([]byte, error) {
	if sd.Content == nil {
		if err := sd.Decode(); err != nil {
			return nil, err
		}
	}
	return sd.Content, nil
}

func number(o types.Object) (float64, bool) {
	switch v := o.(type) {
	case types.Integer:
		return float64(v.Value()), true
	case types.Float:
		return v.Value(), true
	}
	return 0, false
}

func pageBox(r *types.Rectangle) Rect {
	if r == nil {
		return Rect{X1: 612, Y1: 792}
	}
	return Rect{X0: r.LL.X, Y0: r.LL.Y, X1: r.UR.X, Y1: r.UR.Y}
}
