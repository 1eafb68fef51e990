// Package snapshot condenses page markup into the structural digest given to
// step-generation prompts: forms, interactive elements and headings.
package snapshot

import (
	"fmt"
	"html"
	"net/url"
	"sort"
	"strings"

	"github.com/PuerkitoBio/goquery"
	readability "github.com/go-shiori/go-readability"
	"github.com/microcosm-cc/bluemonday"
	"github.com/rs/zerolog"
)

// Element describes minimal info about interactive node.
type Element struct {
	Role string `json:"role"`
	Text string `json:"text"`
	Attr string `json:"attr"`
	Sel  string `json:"selector"`
}

// Form groups the fields of one form element.
type Form struct {
	Sel    string    `json:"selector"`
	Action string    `json:"action,omitempty"`
	Method string    `json:"method,omitempty"`
	Fields []Element `json:"fields"`
}

// Summary is a compact view of a page.
type Summary struct {
	URL      string    `json:"url"`
	Title    string    `json:"title"`
	Visible  string    `json:"visible"`
	Headings []string  `json:"headings"`
	Forms    []Form    `json:"forms"`
	Elements []Element `json:"elements"`
}

const (
	defaultMaxElements = 80
	defaultMaxChars    = 6000
	visibleChars       = 1200
	elementText        = 120
)

const interactiveSelector = "a[href],button,input,select,textarea,[role=button],[role=link],[role=tab],[role=menuitem],[role=checkbox],[onclick],[tabindex]"

// Extractor turns raw HTML into a Summary. It is safe for concurrent use.
type Extractor struct {
	maxElements int
	maxChars    int
	policy      *bluemonday.Policy
	logger      zerolog.Logger
}

func NewExtractor(maxChars int, logger zerolog.Logger) *Extractor {
	if maxChars <= 0 {
		maxChars = defaultMaxChars
	}
	return &Extractor{
		maxElements: defaultMaxElements,
		maxChars:    maxChars,
		policy:      bluemonday.StrictPolicy(),
		logger:      logger,
	}
}

// Digest renders the summary of markup as prompt text, capped at the
// extractor's character limit. Extraction problems yield an empty digest;
// the digest is advisory.
func (e *Extractor) Digest(markup, pageURL string) string {
	s, err := e.Extract(markup, pageURL)
	if err != nil {
		e.logger.Debug().Err(err).Str("url", pageURL).Msg("digest extraction failed")
		return ""
	}
	out := s.String()
	if r := []rune(out); len(r) > e.maxChars {
		out = string(r[:e.maxChars]) + "\n... (digest truncated)"
	}
	return out
}

// Extract parses markup.
func (e *Extractor) Extract(markup, pageURL string) (Summary, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(markup))
	if err != nil {
		return Summary{}, fmt.Errorf("parse html: %w", err)
	}
	s := Summary{
		URL:   pageURL,
		Title: e.clean(doc.Find("title").First().Text(), 200),
	}

	doc.Find("h1,h2,h3").Each(func(_ int, h *goquery.Selection) {
		if t := e.clean(h.Text(), 120); t != "" && len(s.Headings) < 20 {
			s.Headings = append(s.Headings, goquery.NodeName(h)+": "+t)
		}
	})

	doc.Find("form").Each(func(i int, f *goquery.Selection) {
		form := Form{
			Sel:    selectorFor(f),
			Action: f.AttrOr("action", ""),
			Method: strings.ToUpper(f.AttrOr("method", "")),
		}
		f.Find("input,select,textarea,button").Each(func(_ int, field *goquery.Selection) {
			if el, ok := e.element(field); ok {
				form.Fields = append(form.Fields, el)
			}
		})
		s.Forms = append(s.Forms, form)
	})

	var elems []Element
	doc.Find(interactiveSelector).Each(func(_ int, sel *goquery.Selection) {
		if sel.Closest("form").Length() > 0 {
			return
		}
		if el, ok := e.element(sel); ok {
			elems = append(elems, el)
		}
	})
	s.Elements = filterAndRankElements(elems, e.maxElements)
	s.Visible = e.mainText(markup, pageURL, doc)
	return s, nil
}

func (e *Extractor) element(sel *goquery.Selection) (Element, bool) {
	if t, _ := sel.Attr("type"); strings.EqualFold(t, "hidden") {
		return Element{}, false
	}
	if _, hidden := sel.Attr("hidden"); hidden {
		return Element{}, false
	}
	tag := goquery.NodeName(sel)
	role := sel.AttrOr("role", tag)
	text := e.clean(sel.Text(), elementText)
	if text == "" {
		text = e.clean(sel.AttrOr("value", ""), elementText)
	}

	var attrs []string
	for _, name := range []string{"name", "aria-label", "placeholder", "type", "href", "data-testid", "title"} {
		if v, ok := sel.Attr(name); ok && v != "" {
			attrs = append(attrs, name+":"+e.clean(v, 80))
		}
	}
	if text == "" && len(attrs) == 0 {
		return Element{}, false
	}
	return Element{Role: role, Text: text, Attr: strings.Join(attrs, "|"), Sel: selectorFor(sel)}, true
}

// mainText prefers the readability article text and falls back to the body.
func (e *Extractor) mainText(markup, pageURL string, doc *goquery.Document) string {
	u, err := url.Parse(pageURL)
	if err != nil || u.Host == "" {
		u = &url.URL{Scheme: "about", Opaque: "blank"}
	}
	article, err := readability.FromReader(strings.NewReader(markup), u)
	text := ""
	if err == nil {
		text = article.TextContent
	} else {
		e.logger.Debug().Err(err).Msg("readability failed, using body text")
	}
	if strings.TrimSpace(text) == "" {
		body := doc.Find("body").Clone()
		body.Find("script,style,noscript").Remove()
		text = body.Text()
	}
	return e.clean(text, visibleChars)
}

// clean strips markup, collapses whitespace and caps the length in runes.
func (e *Extractor) clean(s string, max int) string {
	s = html.UnescapeString(e.policy.Sanitize(s))
	s = strings.Join(strings.Fields(s), " ")
	if r := []rune(s); len(r) > max {
		s = string(r[:max])
	}
	return s
}

// selectorFor builds a CSS selector for the node: id, then name, then
// data-testid, then aria-label, then a nth-of-type path under the nearest
// ancestor with an id.
func selectorFor(sel *goquery.Selection) string {
	tag := goquery.NodeName(sel)
	if id, ok := sel.Attr("id"); ok && id != "" && cssIdent(id) {
		return "#" + id
	}
	if name, ok := sel.Attr("name"); ok && name != "" {
		return fmt.Sprintf(`%s[name="%s"]`, tag, quoteAttr(name))
	}
	if tid, ok := sel.Attr("data-testid"); ok && tid != "" {
		return fmt.Sprintf(`[data-testid="%s"]`, quoteAttr(tid))
	}
	if label, ok := sel.Attr("aria-label"); ok && label != "" {
		return fmt.Sprintf(`%s[aria-label="%s"]`, tag, quoteAttr(label))
	}
	var parts []string
	cur := sel
	for depth := 0; depth < 4 && cur.Length() > 0; depth++ {
		name := goquery.NodeName(cur)
		if name == "html" || name == "body" || name == "#document" {
			break
		}
		if id, ok := cur.Attr("id"); ok && id != "" && cssIdent(id) && depth > 0 {
			parts = append(parts, "#"+id)
			break
		}
		idx := 1
		cur.PrevAll().Each(func(_ int, p *goquery.Selection) {
			if goquery.NodeName(p) == name {
				idx++
			}
		})
		parts = append(parts, fmt.Sprintf("%s:nth-of-type(%d)", name, idx))
		cur = cur.Parent()
	}
	for i, j := 0, len(parts)-1; i < j; i, j = i+1, j-1 {
		parts[i], parts[j] = parts[j], parts[i]
	}
	return strings.Join(parts, " > ")
}

func cssIdent(s string) bool {
	for i, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r == '_', r == '-':
		case r >= '0' && r <= '9':
			if i == 0 {
				return false
			}
		default:
			return false
		}
	}
	return s != ""
}

func quoteAttr(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return strings.ReplaceAll(s, `"`, `\"`)
}

func (s Summary) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "URL: %s\nTITLE: %s\n", s.URL, s.Title)
	if len(s.Headings) > 0 {
		b.WriteString("HEADINGS:\n")
		for _, h := range s.Headings {
			fmt.Fprintf(&b, "- %s\n", h)
		}
	}
	if len(s.Forms) > 0 {
		b.WriteString("FORMS:\n")
		for i, f := range s.Forms {
			fmt.Fprintf(&b, "%d) form selector=%s", i+1, f.Sel)
			if f.Action != "" {
				fmt.Fprintf(&b, " action=%s", f.Action)
			}
			if f.Method != "" {
				fmt.Fprintf(&b, " method=%s", f.Method)
			}
			b.WriteByte('\n')
			for _, el := range f.Fields {
				fmt.Fprintf(&b, "   - %s\n", el)
			}
		}
	}
	if len(s.Elements) > 0 {
		b.WriteString("ELEMENTS:\n")
		for i, el := range s.Elements {
			fmt.Fprintf(&b, "%d) %s\n", i+1, el)
		}
	}
	if s.Visible != "" {
		fmt.Fprintf(&b, "TEXT: %s\n", s.Visible)
	}
	return b.String()
}

func (el Element) String() string {
	out := fmt.Sprintf("role=%s selector=%s", el.Role, el.Sel)
	if el.Text != "" {
		out += fmt.Sprintf(" text=%q", el.Text)
	}
	if el.Attr != "" {
		out += " attr=" + el.Attr
	}
	return out
}

// filterAndRankElements keeps the maxCount most relevant elements, stable in
// document order among equal scores.
func filterAndRankElements(elems []Element, maxCount int) []Element {
	if len(elems) <= maxCount {
		return elems
	}
	type scoredElement struct {
		element Element
		score   int
	}
	scored := make([]scoredElement, 0, len(elems))
	for _, el := range elems {
		if score := scoreElement(el); score > 0 {
			scored = append(scored, scoredElement{element: el, score: score})
		}
	}
	sort.SliceStable(scored, func(i, j int) bool { return scored[i].score > scored[j].score })

	result := make([]Element, 0, maxCount)
	for i := 0; i < len(scored) && i < maxCount; i++ {
		result = append(result, scored[i].element)
	}
	return result
}

// scoreElement calculates relevance score for an element
func scoreElement(el Element) int {
	score := 0
	attrLower := strings.ToLower(el.Attr)

	switch el.Role {
	case "button", "input", "select", "textarea":
		score += 6
	case "a", "link":
		score += 3
	case "", "generic", "presentation", "div", "span":
	default:
		score += 5
	}

	if len(el.Text) > 0 {
		score += 3
		if len(el.Text) > 3 && len(el.Text) < 80 {
			score += 2 // good length
		}
	}
	if strings.Contains(attrLower, "data-testid") {
		score += 3
	}
	if strings.Contains(attrLower, "aria-label") || strings.Contains(attrLower, "placeholder") {
		score += 2
	}
	if strings.HasPrefix(el.Sel, "#") || strings.Contains(el.Sel, "[name=") {
		score += 2 // stable selector
	}
	if len(el.Text) == 0 && el.Role == "" {
		score -= 5
	}
	if len(el.Text) > 100 {
		score -= 3
	}
	return score
}
