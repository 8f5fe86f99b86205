package convert

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

// Result is the text view of a page that content scoring works from.
type Result struct {
	WordCount     int
	HasHeadings   bool
	HasLists      bool
	HasCodeBlocks bool
	Text          string
}

// Converter turns raw HTML into a Result.
type Converter interface {
	Convert(html string) (Result, error)
}

// noise is stripped before counting words.
const noise = "script, style, noscript, template, svg, iframe, head"

// HTMLConverter is the default Converter, built on goquery.
type HTMLConverter struct{}

func (HTMLConverter) Convert(body string) (Result, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		return Result{}, err
	}
	doc.Find(noise).Remove()

	root := doc.Find("body")
	if root.Length() == 0 {
		root = doc.Selection
	}

	text := strings.Join(strings.Fields(textOf(root)), " ")
	res := Result{
		Text:          text,
		HasHeadings:   root.Find("h1, h2, h3, h4, h5, h6").Length() > 0,
		HasLists:      root.Find("ul li, ol li").Length() > 0,
		HasCodeBlocks: root.Find("pre, code").Length() > 0,
	}
	if text != "" {
		res.WordCount = len(strings.Fields(text))
	}
	return res, nil
}

// textOf joins text nodes with spaces so adjacent block elements do not
// run their words together.
func textOf(sel *goquery.Selection) string {
	var parts []string
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			if s := strings.TrimSpace(n.Data); s != "" {
				parts = append(parts, s)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	for _, n := range sel.Nodes {
		walk(n)
	}
	return strings.Join(parts, " ")
}

// Markdown inspects a document that is already markdown (for example one
// served through Accept: text/markdown) using line-level heuristics.
func Markdown(body string) Result {
	res := Result{Text: strings.TrimSpace(body)}
	res.WordCount = len(strings.Fields(body))
	for _, line := range strings.Split(body, "\n") {
		l := strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(l, "#"):
			res.HasHeadings = true
		case strings.HasPrefix(l, "- "), strings.HasPrefix(l, "* "), isOrderedItem(l):
			res.HasLists = true
		case strings.HasPrefix(l, "```"):
			res.HasCodeBlocks = true
		}
	}
	return res
}

func isOrderedItem(l string) bool {
	i := 0
	for i < len(l) && l[i] >= '0' && l[i] <= '9' {
		i++
	}
	return i > 0 && strings.HasPrefix(l[i:], ". ")
}
