package pdf

import (
	"bytes"
	"context"
	_ "embed"
	"errors"
	"fmt"
	"html"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"unicode"

	"github.com/jung-kurt/gofpdf"
	"golang.org/x/image/font/sfnt"
	"golang.org/x/sync/semaphore"
)

// DefaultFontFamily is the embedded UTF-8 font used when no font directory
// is configured.
const DefaultFontFamily = "DejaVuSansCondensed"

var (
	//go:embed fonts/DejaVuSansCondensed.ttf
	embeddedRegular []byte
	//go:embed fonts/DejaVuSansCondensed-Bold.ttf
	embeddedBold []byte
)

// ErrMissingGlyphs is returned when content holds characters the configured
// font cannot draw.
var ErrMissingGlyphs = errors.New("font has no glyphs for characters")

// Document is one certificate to rasterize: substituted template content and
// the PNG verification code placed in the top-right corner.
type Document struct {
	Content string
	QRCode  []byte
}

// Generator turns certificate content into a PDF document.
type Generator interface {
	Generate(ctx context.Context, doc Document) ([]byte, error)
}

// Options configures PDF generation. Units are points.
//
// FontDir holds <FontFamily>.ttf and optionally <FontFamily>-Bold.ttf. When
// FontDir is empty the embedded DejaVu Sans Condensed faces are used and
// FontFamily is ignored.
type Options struct {
	MaxSessions int     `json:"max_sessions" yaml:"max_sessions"`
	Margin      float64 `json:"margin" yaml:"margin"`
	QRSize      float64 `json:"qr_size" yaml:"qr_size"`
	MaxWidth    float64 `json:"max_width" yaml:"max_width"`
	FontDir     string  `json:"font_dir" yaml:"font_dir"`
	FontFamily  string  `json:"font_family" yaml:"font_family"`
	FontSize    float64 `json:"font_size" yaml:"font_size"`
}

// DefaultOptions returns default PDF options
func DefaultOptions() Options {
	return Options{
		MaxSessions: 4,
		Margin:      10,
		QRSize:      100,
		MaxWidth:    842,
		FontFamily:  DefaultFontFamily,
		FontSize:    14,
	}
}

// face is one loaded font style: the raw TTF handed to gofpdf and the parsed
// form used to check glyph coverage.
type face struct {
	ttf  []byte
	font *sfnt.Font
}

func loadFace(ttf []byte, name string) (*face, error) {
	f, err := sfnt.Parse(ttf)
	if err != nil {
		return nil, fmt.Errorf("failed to parse font %s: %w", name, err)
	}
	return &face{ttf: ttf, font: f}, nil
}

// GofpdfGenerator renders documents with gofpdf. At most MaxSessions renders
// run at once; callers beyond that wait for a free session or ctx.
type GofpdfGenerator struct {
	options  Options
	regular  *face
	bold     *face
	sessions *semaphore.Weighted
}

// NewGofpdfGenerator creates a new generator, filling zero options with
// defaults and loading the fonts.
func NewGofpdfGenerator(options Options) (*GofpdfGenerator, error) {
	def := DefaultOptions()
	if options.MaxSessions <= 0 {
		options.MaxSessions = def.MaxSessions
	}
	if options.Margin <= 0 {
		options.Margin = def.Margin
	}
	if options.QRSize <= 0 {
		options.QRSize = def.QRSize
	}
	if options.MaxWidth <= 0 {
		options.MaxWidth = def.MaxWidth
	}
	if options.FontSize <= 0 {
		options.FontSize = def.FontSize
	}

	g := &GofpdfGenerator{sessions: semaphore.NewWeighted(int64(options.MaxSessions))}
	var err error
	if options.FontDir == "" {
		options.FontFamily = DefaultFontFamily
		if g.regular, err = loadFace(embeddedRegular, DefaultFontFamily); err != nil {
			return nil, err
		}
		if g.bold, err = loadFace(embeddedBold, DefaultFontFamily+"-Bold"); err != nil {
			return nil, err
		}
	} else {
		if options.FontFamily == "" {
			return nil, errors.New("font_family is required with font_dir")
		}
		if g.regular, g.bold, err = loadFontDir(options.FontDir, options.FontFamily); err != nil {
			return nil, err
		}
	}
	g.options = options
	return g, nil
}

// loadFontDir reads <family>.ttf and <family>-Bold.ttf from dir. Without a
// bold file, bold text uses the regular face.
func loadFontDir(dir, family string) (*face, *face, error) {
	regularPath := filepath.Join(dir, family+".ttf")
	raw, err := os.ReadFile(regularPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read font: %w", err)
	}
	regular, err := loadFace(raw, regularPath)
	if err != nil {
		return nil, nil, err
	}

	boldPath := filepath.Join(dir, family+"-Bold.ttf")
	raw, err = os.ReadFile(boldPath)
	if errors.Is(err, os.ErrNotExist) {
		return regular, regular, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read font: %w", err)
	}
	bold, err := loadFace(raw, boldPath)
	if err != nil {
		return nil, nil, err
	}
	return regular, bold, nil
}

// Generate renders doc into a single page sized to the content.
func (g *GofpdfGenerator) Generate(ctx context.Context, doc Document) ([]byte, error) {
	if len(doc.QRCode) == 0 {
		return nil, fmt.Errorf("verification code image is required")
	}

	var out []byte
	err := g.withSession(ctx, func() error {
		var err error
		out, err = g.render(doc)
		return err
	})
	return out, err
}

// withSession runs fn while holding a render session. The session is
// released on every exit path and a panic inside fn becomes an error.
func (g *GofpdfGenerator) withSession(ctx context.Context, fn func() error) (err error) {
	if err := g.sessions.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("waiting for render session: %w", err)
	}
	defer g.sessions.Release(1)

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("pdf renderer panic: %v", r)
		}
	}()
	return fn()
}

// Layout is the measured geometry of a document.
type Layout struct {
	Width        float64
	Height       float64
	ContentWidth float64
	Blocks       []LaidBlock
}

// LaidBlock is one block of text wrapped to the content width.
type LaidBlock struct {
	Lines      []string
	FontSize   float64
	Bold       bool
	LineHeight float64
}

// Measure computes the page geometry for content without drawing it.
func (g *GofpdfGenerator) Measure(content string) (*Layout, error) {
	f := gofpdf.New("P", "pt", "A4", "")
	g.addFonts(f)
	f.AddPage()
	return g.measure(f, content)
}

func (g *GofpdfGenerator) addFonts(f *gofpdf.Fpdf) {
	f.AddUTF8FontFromBytes(g.options.FontFamily, "", g.regular.ttf)
	f.AddUTF8FontFromBytes(g.options.FontFamily, "B", g.bold.ttf)
}

func (g *GofpdfGenerator) measure(f *gofpdf.Fpdf, content string) (*Layout, error) {
	o := g.options
	maxContent := o.MaxWidth - 3*o.Margin - o.QRSize
	if maxContent < o.FontSize {
		maxContent = o.FontSize
	}

	blocks := parseBlocks(content, o.FontSize)
	if err := g.checkGlyphs(blocks); err != nil {
		return nil, err
	}

	natural := 0.0
	for _, b := range blocks {
		f.SetFont(o.FontFamily, b.style(), b.size)
		for _, line := range b.lines {
			if w := f.GetStringWidth(line); w > natural {
				natural = w
			}
		}
	}
	contentW := natural + 2
	if contentW > maxContent {
		contentW = maxContent
	}

	layout := &Layout{ContentWidth: contentW}
	textH := 0.0
	for _, b := range blocks {
		f.SetFont(o.FontFamily, b.style(), b.size)
		laid := LaidBlock{FontSize: b.size, Bold: b.bold, LineHeight: b.size * 1.25}
		for _, line := range b.lines {
			laid.Lines = append(laid.Lines, wrap(f, line, contentW)...)
		}
		textH += float64(len(laid.Lines))*laid.LineHeight + b.size*0.5
		layout.Blocks = append(layout.Blocks, laid)
	}
	if err := f.Error(); err != nil {
		return nil, fmt.Errorf("failed to measure content: %w", err)
	}

	if textH < o.QRSize {
		textH = o.QRSize
	}
	layout.Width = contentW + 3*o.Margin + o.QRSize
	layout.Height = textH + 2*o.Margin
	return layout, nil
}

// checkGlyphs fails when a block holds characters its face cannot draw, so
// a bound value is never rendered as placeholder boxes.
func (g *GofpdfGenerator) checkGlyphs(blocks []block) error {
	type glyph struct {
		bold bool
		r    rune
	}
	var (
		buf     sfnt.Buffer
		missing []rune
		seen    = make(map[glyph]bool)
	)
	for _, b := range blocks {
		fc := g.regular
		if b.bold {
			fc = g.bold
		}
		for _, line := range b.lines {
			for _, r := range line {
				key := glyph{bold: b.bold, r: r}
				if seen[key] || unicode.IsSpace(r) || unicode.IsControl(r) {
					continue
				}
				seen[key] = true
				idx, err := fc.font.GlyphIndex(&buf, r)
				if err != nil || idx == 0 {
					missing = append(missing, r)
				}
			}
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w %q in font %s", ErrMissingGlyphs, string(missing), g.options.FontFamily)
	}
	return nil
}

func (g *GofpdfGenerator) render(doc Document) ([]byte, error) {
	o := g.options

	layout, err := g.Measure(doc.Content)
	if err != nil {
		return nil, err
	}

	f := gofpdf.NewCustom(&gofpdf.InitType{
		OrientationStr: "P",
		UnitStr:        "pt",
		Size:           gofpdf.SizeType{Wd: layout.Width, Ht: layout.Height},
	})
	g.addFonts(f)
	f.SetMargins(o.Margin, o.Margin, o.Margin)
	f.SetAutoPageBreak(false, 0)
	f.AddPage()

	qrOpts := gofpdf.ImageOptions{ImageType: "PNG"}
	f.RegisterImageOptionsReader("verification", qrOpts, bytes.NewReader(doc.QRCode))
	f.ImageOptions("verification", layout.Width-o.Margin-o.QRSize, o.Margin, o.QRSize, o.QRSize, false, qrOpts, 0, "")

	f.SetTextColor(0, 0, 0)
	y := o.Margin
	for _, b := range layout.Blocks {
		style := ""
		if b.Bold {
			style = "B"
		}
		f.SetFont(o.FontFamily, style, b.FontSize)
		for _, line := range b.Lines {
			f.SetXY(o.Margin, y)
			f.CellFormat(layout.ContentWidth, b.LineHeight, line, "", 0, "C", false, 0, "")
			y += b.LineHeight
		}
		y += b.FontSize * 0.5
	}

	var buf bytes.Buffer
	if err := f.Output(&buf); err != nil {
		return nil, fmt.Errorf("failed to write pdf: %w", err)
	}
	return buf.Bytes(), nil
}

// wrap greedily fills lines of at most width; a single word wider than
// width keeps its own line.
func wrap(f *gofpdf.Fpdf, text string, width float64) []string {
	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}
	var lines []string
	current := words[0]
	for _, w := range words[1:] {
		candidate := current + " " + w
		if f.GetStringWidth(candidate) > width {
			lines = append(lines, current)
			current = w
			continue
		}
		current = candidate
	}
	return append(lines, current)
}

type block struct {
	lines []string
	size  float64
	bold  bool
}

func (b block) style() string {
	if b.bold {
		return "B"
	}
	return ""
}

var (
	tagPattern   = regexp.MustCompile(`<(/?)([a-zA-Z][a-zA-Z0-9]*)[^>]*>`)
	breakPattern = regexp.MustCompile(`(?i)<br\s*/?>`)
	spacePattern = regexp.MustCompile(`[ \t\r\f\v]+`)
)

var headingScale = map[string]float64{
	"h1": 2.0, "h2": 1.5, "h3": 1.25, "h4": 1.1, "h5": 1.0, "h6": 0.9,
}

var blockTags = map[string]bool{
	"p": true, "div": true, "li": true, "tr": true, "section": true, "header": true, "footer": true,
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
}

// parseBlocks reduces markup to block-level runs of text. Headings become
// larger bold blocks; inline markup is dropped.
func parseBlocks(content string, base float64) []block {
	content = strings.NewReplacer("\r\n", " ", "\n", " ").Replace(content)
	content = breakPattern.ReplaceAllString(content, "\n")

	var (
		blocks []block
		buf    strings.Builder
		size   = base
		bold   = false
	)
	flush := func() {
		var lines []string
		for _, raw := range strings.Split(html.UnescapeString(buf.String()), "\n") {
			line := strings.TrimSpace(spacePattern.ReplaceAllString(raw, " "))
			if line != "" {
				lines = append(lines, line)
			}
		}
		if len(lines) > 0 {
			blocks = append(blocks, block{lines: lines, size: size, bold: bold})
		}
		buf.Reset()
	}

	last := 0
	for _, m := range tagPattern.FindAllStringSubmatchIndex(content, -1) {
		buf.WriteString(content[last:m[0]])
		last = m[1]

		closing := content[m[2]:m[3]] == "/"
		name := strings.ToLower(content[m[4]:m[5]])
		if !blockTags[name] {
			continue
		}
		flush()
		if scale, ok := headingScale[name]; ok && !closing {
			size, bold = base*scale, true
		} else {
			size, bold = base, false
		}
	}
	buf.WriteString(content[last:])
	flush()
	return blocks
}
