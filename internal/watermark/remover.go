package watermark

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/types"
	"github.com/rs/zerolog/log"

	"github.com/local/pagegrab/internal/metrics"
)

const DefaultSuffix = "_no_watermark"

type Options struct {
	ClusterDistance float64
	Margin          float64
	Suffix          string
}

// Result summarises one removal run.
type Result struct {
	Output       string
	Pages        int
	Clusters     int
	TextRegions  int
	ImageRegions int
}

type Remover struct {
	opts Options
}

func New(opts Options) *Remover {
	if opts.ClusterDistance <= 0 {
		opts.ClusterDistance = DefaultClusterDistance
	}
	if opts.Margin <= 0 {
		opts.Margin = DefaultMargin
	}
	if opts.Suffix == "" {
		opts.Suffix = DefaultSuffix
	}
	return &Remover{opts: opts}
}

// OutputPath derives the cleaned document path from the input path.
func OutputPath(in, suffix string) string {
	ext := filepath.Ext(in)
	return strings.TrimSuffix(in, ext) + suffix + ".pdf"
}

// pagePlan is everything detected on one page, in top-left coordinates.
type pagePlan struct {
	box        Rect
	clusters   []Cluster
	textRegion []Rect
	imgRegion  []Rect
	scan       *pageScan
	content    []byte
	flagged    map[int]bool // Do operators to drop
}

// Remove writes a copy of the PDF at in with every rotated occurrence of
// target and every pure red or blue image painted over in white.
func (r *Remover) Remove(ctx context.Context, in, target string) (Result, error) {
	res := Result{Output: OutputPath(in, r.opts.Suffix)}
	if target == "" {
		return res, errors.New("empty watermark text")
	}
	if filepath.Clean(res.Output) == filepath.Clean(in) {
		return res, fmt.Errorf("output path %s equals input", res.Output)
	}

	f, err := os.Open(in)
	if err != nil {
		return res, fmt.Errorf("open %s: %w", in, err)
	}
	defer f.Close()

	conf := model.NewDefaultConfiguration()
	pdf, err := api.ReadContext(f, conf)
	if err != nil {
		return res, fmt.Errorf("read %s: %w", in, err)
	}
	if err := api.ValidateContext(pdf); err != nil {
		return res, fmt.Errorf("validate %s: %w", in, err)
	}
	if err := pdf.EnsurePageCount(); err != nil {
		return res, fmt.Errorf("page count: %w", err)
	}
	res.Pages = pdf.PageCount

	logger := log.Ctx(ctx)
	for p := 1; p <= pdf.PageCount; p++ {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		plan, err := r.analyze(pdf, p, target)
		if err != nil {
			return res, fmt.Errorf("page %d: %w", p, err)
		}
		if plan == nil || (len(plan.textRegion) == 0 && len(plan.imgRegion) == 0) {
			continue
		}
		if err := r.apply(pdf, p, plan); err != nil {
			return res, fmt.Errorf("page %d: %w", p, err)
		}
		res.Clusters += len(plan.clusters)
		res.TextRegions += len(plan.textRegion)
		res.ImageRegions += len(plan.imgRegion)
		logger.Debug().
			Int("page", p).
			Int("clusters", len(plan.clusters)).
			Int("text_regions", len(plan.textRegion)).
			Int("image_regions", len(plan.imgRegion)).
			Msg("Redacted page")
	}

	if err := api.WriteContextFile(pdf, res.Output); err != nil {
		return res, fmt.Errorf("write %s: %w", res.Output, err)
	}
	metrics.AddRedactions("text", res.TextRegions)
	metrics.AddRedactions("image", res.ImageRegions)
	logger.Info().
		Str("output", res.Output).
		Int("pages", res.Pages).
		Int("text_regions", res.TextRegions).
		Int("image_regions", res.ImageRegions).
		Msg("Watermark removal finished")
	return res, nil
}

// analyze runs both detection passes on a page without modifying it.
func (r *Remover) analyze(pdf *model.Context, p int, target string) (*pagePlan, error) {
	d, _, inh, err := pdf.PageDict(p, false)
	if err != nil || d == nil {
		return nil, err
	}
	content, err := pdf.PageContent(d)
	if errors.Is(err, model.ErrNoContent) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("content: %w", err)
	}

	box := pageBox(nil)
	var resDict types.Dict
	if inh != nil {
		box = pageBox(inh.MediaBox)
		resDict = inh.Resources
	}
	scan, err := scanContent(content, newResources(pdf, resDict))
	if err != nil {
		log.Warn().Err(err).Int("page", p).Msg("Content stream partly unreadable")
	}
	return r.plan(scan, content, box, target), nil
}

// plan turns a scanned page into redaction regions.
func (r *Remover) plan(scan *pageScan, content []byte, box Rect, target string) *pagePlan {
	plan := &pagePlan{box: box, scan: scan, content: content, flagged: map[int]bool{}}

	plan.clusters = ClusterInstances(Candidates(scan.words, box, target), r.opts.ClusterDistance)
	plan.textRegion = Regions(plan.clusters, r.opts.Margin)

	for _, im := range scan.images {
		rgb, isRGB, err := im.image.sample()
		if err != nil {
			log.Debug().Err(err).Str("image", im.image.name).Msg("Cannot sample image")
			continue
		}
		if !isRGB || !IsWatermarkColor(rgb) {
			continue
		}
		plan.imgRegion = append(plan.imgRegion, toTopLeft(im.box, box))
		if im.op >= 0 {
			plan.flagged[im.op] = true
		}
	}
	return plan
}

type edit struct {
	start, end int
	text       string
}

// rewrite returns the page content with flagged image draws removed, text
// fully under a region replaced by an equal-width gap, and the white fill
// painted on top.
func (plan *pagePlan) rewrite() []byte {
	var edits []edit
	for i := range plan.flagged {
		o := plan.scan.ops[i]
		edits = append(edits, edit{o.start, o.end, ""})
	}

	user := make([]Rect, 0, len(plan.textRegion)+len(plan.imgRegion))
	for _, rg := range plan.textRegion {
		user = append(user, toUserSpace(rg, plan.box))
	}
	for _, rg := range plan.imgRegion {
		user = append(user, toUserSpace(rg, plan.box))
	}

	for _, s := range plan.scan.shows {
		if len(s.glyphs) == 0 || s.fs*s.th == 0 || !allCovered(s.glyphs, user) {
			continue
		}
		n := -s.advance * 1000 / (s.fs * s.th)
		o := plan.scan.ops[s.op]
		edits = append(edits, edit{o.start, o.end, "[" + formatNum(n) + "] TJ"})
	}

	sort.Slice(edits, func(i, j int) bool { return edits[i].start < edits[j].start })

	var buf bytes.Buffer
	buf.WriteString("q\n")
	pos := 0
	for _, e := range edits {
		if e.start < pos {
			continue
		}
		buf.Write(plan.content[pos:e.start])
		buf.WriteString(e.text)
		pos = e.end
	}
	buf.Write(plan.content[pos:])
	buf.WriteString("\nQ\nq 1 1 1 rg\n")
	for _, rg := range user {
		fmt.Fprintf(&buf, "%s %s %s %s re f\n", formatNum(rg.X0), formatNum(rg.Y0), formatNum(rg.Width()), formatNum(rg.Height()))
	}
	buf.WriteString("Q\n")
	return buf.Bytes()
}

func allCovered(glyphs, regions []Rect) bool {
	for _, g := range glyphs {
		inside := false
		for _, rg := range regions {
			if rg.contains(g) {
				inside = true
				break
			}
		}
		if !inside {
			return false
		}
	}
	return true
}

func formatNum(v float64) string {
	return strconv.FormatFloat(v, 'f', 3, 64)
}

// apply replaces the page content stream with the rewritten one.
func (r *Remover) apply(pdf *model.Context, p int, plan *pagePlan) error {
	d, _, _, err := pdf.PageDict(p, false)
	if err != nil {
		return err
	}
	sd, err := pdf.NewStreamDictForBuf(plan.rewrite())
	if err != nil {
		return fmt.Errorf("new content stream: %w", err)
	}
	if err := sd.Encode(); err != nil {
		return fmt.Errorf("encode content stream: %w", err)
	}
	ir, err := pdf.IndRefForNewObject(*sd)
	if err != nil {
		return fmt.Errorf("add content stream: %w", err)
	}
	d.Update("Contents", *ir)
	return nil
}
