package htmlutil

import (
	"bytes"
	"regexp"
	"strings"

	"golang.org/x/net/html"
)

func GetText(node *html.Node) string {
	var buffer bytes.Buffer
	getTextRecursive(node, &buffer)
	return buffer.String()
}

func getTextRecursive(node *html.Node, buffer *bytes.Buffer) {
	if node == nil {
		return
	}
	if node.Type == html.TextNode {
		buffer.WriteString(node.Data)
		return
	}
	child := node.FirstChild
	for child != nil {
		getTextRecursive(child, buffer)
		child = child.NextSibling
	}
}

// Attr returns the value of the attribute `key` and whether it was present.
func Attr(node *html.Node, key string) (string, bool) {
	for _, a := range node.Attr {
		if a.Namespace == "" && a.Key == key {
			return a.Val, true
		}
	}
	return "", false
}

// SetAttr overwrites the attribute `key`, appending it when absent.
func SetAttr(node *html.Node, key, val string) {
	for i, a := range node.Attr {
		if a.Namespace == "" && a.Key == key {
			node.Attr[i].Val = val
			return
		}
	}
	node.Attr = append(node.Attr, html.Attribute{Key: key, Val: val})
}

var whitespace = regexp.MustCompile(`[\s\p{Zs}]+`)

// CollapseWhitespace replaces every run of whitespace (non-breaking spaces
// included) with a single space and trims the ends.
func CollapseWhitespace(s string) string {
	return strings.TrimSpace(whitespace.ReplaceAllString(s, " "))
}

// RenderChildren serializes the children of node, without node itself.
func RenderChildren(node *html.Node) (string, error) {
	var buffer bytes.Buffer
	for c := node.FirstChild; c != nil; c = c.NextSibling {
		if err := html.Render(&buffer, c); err != nil {
			return "", err
		}
	}
	return buffer.String(), nil
}
