package ingest

import (
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

var skipped = map[atom.Atom]bool{
	atom.Script: true, atom.Style: true, atom.Noscript: true, atom.Template: true,
	atom.Svg: true, atom.Iframe: true, atom.Nav: true, atom.Footer: true,
}

var blocks = map[atom.Atom]bool{
	atom.P: true, atom.Div: true, atom.Br: true, atom.Li: true, atom.Tr: true,
	atom.H1: true, atom.H2: true, atom.H3: true, atom.H4: true, atom.H5: true, atom.H6: true,
	atom.Article: true, atom.Section: true, atom.Pre: true, atom.Blockquote: true,
	atom.Table: true, atom.Ul: true, atom.Ol: true, atom.Hr: true,
}

// HTMLToText strips markup and returns the readable text of a page, one
// block element per line. The page title is kept as the first line.
func HTMLToText(doc string) string {
	var title string
	var b strings.Builder
	z := html.NewTokenizer(strings.NewReader(doc))
	depth := 0
	inTitle := false

	for {
		tt := z.Next()
		switch tt {
		case html.ErrorToken:
			text := b.String()
			if title != "" {
				text = title + "\n\n" + text
			}
			return text
		case html.StartTagToken, html.SelfClosingTagToken:
			tok := z.Token()
			switch {
			case tok.DataAtom == atom.Title:
				inTitle = tt == html.StartTagToken
			case skipped[tok.DataAtom] && tt == html.StartTagToken:
				depth++
			case blocks[tok.DataAtom]:
				b.WriteByte('\n')
			}
		case html.EndTagToken:
			tok := z.Token()
			switch {
			case tok.DataAtom == atom.Title:
				inTitle = false
			case skipped[tok.DataAtom]:
				if depth > 0 {
					depth--
				}
			case blocks[tok.DataAtom]:
				b.WriteByte('\n')
			}
		case html.TextToken:
			if depth > 0 {
				continue
			}
			text := string(z.Text())
			if inTitle {
				title = strings.Join(strings.Fields(text), " ")
				continue
			}
			b.WriteString(text)
		}
	}
}
