package snapshot

import (
	"fmt"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const loginPage = `<!doctype html>
<html><head><title>Shop &amp; Co</title><script>var x = 1;</script></head>
<body>
<h1>Welcome back</h1>
<div id="menu"><ul>
  <li><a href="/deals">Deals</a></li>
  <li><a href="/cart">Cart</a></li>
</ul></div>
<form id="login" action="/session" method="post">
  <input type="hidden" name="csrf" value="abc">
  <input type="email" name="email" placeholder="Email">
  <input type="password" name="password">
  <button type="submit">Sign in</button>
</form>
<button data-testid="cookie-accept">Accept <b>cookies</b></button>
<h2>Popular</h2>
<p>Fresh deals every day on everything you need.</p>
</body></html>`

func TestExtract(t *testing.T) {
	e := NewExtractor(0, zerolog.Nop())
	s, err := e.Extract(loginPage, "https://shop.test/login")
	require.NoError(t, err)

	assert.Equal(t, "Shop & Co", s.Title)
	assert.Equal(t, []string{"h1: Welcome back", "h2: Popular"}, s.Headings)

	require.Len(t, s.Forms, 1)
	form := s.Forms[0]
	assert.Equal(t, "#login", form.Sel)
	assert.Equal(t, "POST", form.Method)
	var sels []string
	for _, f := range form.Fields {
		sels = append(sels, f.Sel)
	}
	assert.Equal(t, []string{`input[name="email"]`, `input[name="password"]`, "#login > button:nth-of-type(1)"}, sels)

	var outside []string
	for _, el := range s.Elements {
		outside = append(outside, el.Sel)
	}
	assert.Contains(t, outside, "#menu > ul:nth-of-type(1) > li:nth-of-type(2) > a:nth-of-type(1)")
	assert.Contains(t, outside, `[data-testid="cookie-accept"]`)
	assert.NotContains(t, strings.Join(outside, " "), "csrf")

	for _, el := range s.Elements {
		if el.Sel == `[data-testid="cookie-accept"]` {
			assert.Equal(t, "Accept cookies", el.Text)
		}
	}
	assert.NotContains(t, s.Visible, "var x")
}

func TestDigest(t *testing.T) {
	e := NewExtractor(0, zerolog.Nop())
	d := e.Digest(loginPage, "https://shop.test/login")
	assert.Contains(t, d, "URL: https://shop.test/login")
	assert.Contains(t, d, "FORMS:\n1) form selector=#login action=/session method=POST")
	assert.Contains(t, d, `selector=input[name="email"]`)
	assert.Contains(t, d, "HEADINGS:\n- h1: Welcome back")
}

func TestDigest_Truncates(t *testing.T) {
	var b strings.Builder
	b.WriteString("<html><body>")
	for i := 0; i < 200; i++ {
		fmt.Fprintf(&b, `<button id="b%d">Button number %d</button>`, i, i)
	}
	b.WriteString("</body></html>")

	e := NewExtractor(500, zerolog.Nop())
	d := e.Digest(b.String(), "https://x.test")
	assert.True(t, strings.HasSuffix(d, "(digest truncated)"))
	assert.LessOrEqual(t, len([]rune(d)), 500+len("\n... (digest truncated)"))
}

func TestSelectorFallbacks(t *testing.T) {
	e := NewExtractor(0, zerolog.Nop())
	s, err := e.Extract(`<body>
<button id="1bad" aria-label="Close dialog">x</button>
<a href="/q" name="q&quot;x">Q</a>
</body>`, "")
	require.NoError(t, err)
	require.Len(t, s.Elements, 2)
	assert.Equal(t, `button[aria-label="Close dialog"]`, s.Elements[0].Sel)
	assert.Equal(t, `a[name="q\"x"]`, s.Elements[1].Sel)
}

func TestFilterAndRankElements(t *testing.T) {
	elems := []Element{
		{Role: "div"},
		{Role: "a", Text: "Read more about our long history and values", Sel: "a:nth-of-type(3)"},
		{Role: "button", Text: "Buy", Sel: "#buy"},
		{Role: "input", Attr: "placeholder:Search", Sel: `input[name="q"]`},
	}
	got := filterAndRankElements(elems, 2)
	require.Len(t, got, 2)
	assert.Equal(t, "#buy", got[0].Sel)
	assert.Equal(t, `input[name="q"]`, got[1].Sel)

	assert.Len(t, filterAndRankElements(elems, 10), 4)
}
