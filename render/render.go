// Package render turns shared object descriptions into markdown
package render

import (
	"fmt"
	"strings"
	"sync"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
	"github.com/foomo/geocat-mcp/service/vo"
	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/net/html"
)

var (
	policyOnce sync.Once
	policy     *bluemonday.Policy
)

func descriptionPolicy() *bluemonday.Policy {
	policyOnce.Do(func() {
		policy = bluemonday.UGCPolicy()
	})
	return policy
}

// Description sanitizes a description and converts it to markdown
func Description(desc string) (vo.Markdown, error) {
	if strings.TrimSpace(desc) == "" {
		return "", nil
	}
	clean := descriptionPolicy().Sanitize(desc)

	doc, err := html.Parse(strings.NewReader(clean))
	if err != nil {
		return "", fmt.Errorf("failed to parse description: %w", err)
	}

	node := doc
	if body, err := findNodeByTag(doc, "body"); err == nil {
		node = body
	}

	markdownBytes, err := htmltomarkdown.ConvertNode(node)
	if err != nil {
		return "", fmt.Errorf("failed to convert description to markdown: %w", err)
	}
	return vo.Markdown(strings.TrimSpace(string(markdownBytes))), nil
}

// Title extracts the first bold text of a description, catalogs put the name there
func Title(desc string) string {
	doc, err := html.Parse(strings.NewReader(descriptionPolicy().Sanitize(desc)))
	if err != nil {
		return ""
	}
	for _, tag := range []string{"b", "strong"} {
		if n, err := findNodeByTag(doc, tag); err == nil {
			return strings.TrimSpace(textContent(n))
		}
	}
	return ""
}

func findNodeByTag(n *html.Node, tag string) (*html.Node, error) {
	if n.Type == html.ElementNode && n.Data == tag {
		return n, nil
	}

	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if result, err := findNodeByTag(c, tag); err == nil {
			return result, nil
		}
	}

	return nil, fmt.Errorf("element with tag '%s' not found", tag)
}

func textContent(n *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return sb.String()
}
