package preview

import (
	"io"
	"strings"

	"golang.org/x/net/html"
)

// pageMeta содержит метаданные из заголовка HTML страницы.
type pageMeta struct {
	Title       string
	Description string
	Image       string
}

// parseHead читает теги meta и title до начала body.
// Значения og:* имеют приоритет над title, description и twitter:image.
func parseHead(r io.Reader) pageMeta {
	var (
		meta                      pageMeta
		ogTitle, ogDesc, ogImage  string
		title, desc, twitterImage string
		inTitle                   bool
	)

	z := html.NewTokenizer(r)
loop:
	for {
		switch z.Next() {
		case html.ErrorToken:
			break loop
		case html.StartTagToken, html.SelfClosingTagToken:
			tok := z.Token()
			switch tok.Data {
			case "body":
				break loop
			case "title":
				inTitle = true
			case "meta":
				key, content := metaPair(tok)
				switch key {
				case "og:title":
					ogTitle = first(ogTitle, content)
				case "og:description":
					ogDesc = first(ogDesc, content)
				case "og:image", "og:image:url":
					ogImage = first(ogImage, content)
				case "description":
					desc = first(desc, content)
				case "twitter:image":
					twitterImage = first(twitterImage, content)
				}
			}
		case html.TextToken:
			if inTitle && title == "" {
				title = strings.TrimSpace(string(z.Text()))
			}
		case html.EndTagToken:
			tok := z.Token()
			switch tok.Data {
			case "title":
				inTitle = false
			case "head":
				break loop
			}
		}
	}

	meta.Title = first(ogTitle, title)
	meta.Description = first(ogDesc, desc)
	meta.Image = first(ogImage, twitterImage)
	return meta
}

func metaPair(tok html.Token) (key, content string) {
	for _, a := range tok.Attr {
		switch strings.ToLower(a.Key) {
		case "property", "name":
			if key == "" {
				key = strings.ToLower(strings.TrimSpace(a.Val))
			}
		case "content":
			content = strings.TrimSpace(a.Val)
		}
	}
	return key, content
}

func first(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
