package notify

import (
	"strings"

	"golang.org/x/net/html"
)

// ExtractText renders HTML as plain text, one line per block element.
// Links keep their target in angle brackets so text-only readers can follow them.
func ExtractText(htmlContent string) string {
	doc, err := html.Parse(strings.NewReader(htmlContent))
	if err != nil {
		return ""
	}

	var sb strings.Builder
	var extract func(*html.Node)

	// Tags to skip (non-content)
	skipTags := map[string]bool{
		"script": true, "style": true, "head": true, "noscript": true,
	}

	extract = func(n *html.Node) {
		if n.Type == html.ElementNode && skipTags[n.Data] {
			return
		}

		if n.Type == html.ElementNode && n.Data == "li" {
			sb.WriteString("- ")
		}

		if n.Type == html.TextNode {
			text := strings.Join(strings.Fields(n.Data), " ")
			if text != "" {
				sb.WriteString(text)
				sb.WriteString(" ")
			}
		}

		for c := n.FirstChild; c != nil; c = c.NextSibling {
			extract(c)
		}

		if n.Type == html.ElementNode && n.Data == "a" {
			for _, attr := range n.Attr {
				if attr.Key == "href" {
					sb.WriteString("<" + attr.Val + "> ")
				}
			}
		}

		// Add newlines after block elements
		if n.Type == html.ElementNode {
			switch n.Data {
			case "p", "div", "h1", "h2", "h3", "h4", "h5", "h6", "li", "br", "ul":
				sb.WriteString("\n")
			}
		}
	}

	extract(doc)

	// Clean up: trim each line, drop blank ones
	var lines []string
	for _, line := range strings.Split(sb.String(), "\n") {
		line = strings.Join(strings.Fields(line), " ")
		if line != "" {
			lines = append(lines, line)
		}
	}
	return strings.Join(lines, "\n")
}
