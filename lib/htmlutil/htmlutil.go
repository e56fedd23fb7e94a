package htmlutil

import (
	"bytes"
	"regexp"
	"strings"
	"unicode"

	"github.com/PuerkitoBio/goquery"
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

var innerWhitespace = regexp.MustCompile(`\s\s+`)

func CleanText(s string) string {
	newStr := strings.Builder{}
	for _, c := range s {
		if unicode.IsPrint(c) {
			newStr.WriteRune(c)
		}
	}
	out := strings.Trim(newStr.String(), " \t\n")
	return innerWhitespace.ReplaceAllString(out, " ")
}

func parseFragment(fragment string) (*goquery.Document, error) {
	return goquery.NewDocumentFromReader(strings.NewReader(fragment))
}

// FirstSpanText pulls the text of the first <span> out of an HTML
// fragment. Status cells arrive as small fragments whose only stable
// property is "the status text lives in the first span", so this is a
// probe rather than a fixed-offset parse. A fragment without a span
// yields "".
func FirstSpanText(fragment string) string {
	if fragment == "" {
		return ""
	}
	doc, err := parseFragment(fragment)
	if err != nil {
		return ""
	}
	span := doc.Find("span").First()
	if span.Length() == 0 {
		return ""
	}
	return CleanText(span.Text())
}

// FirstAnchorText returns the text of the first anchor in a fragment,
// or the cleaned fragment itself when it carries no markup.
func FirstAnchorText(fragment string) string {
	if fragment == "" {
		return ""
	}
	doc, err := parseFragment(fragment)
	if err != nil {
		return CleanText(fragment)
	}
	anchor := doc.Find("a").First()
	if anchor.Length() == 0 {
		return CleanText(fragment)
	}
	return CleanText(anchor.Text())
}

// AnchorHref returns the href of the first anchor in a fragment that
// carries all the given classes, or "" when no such anchor exists.
func AnchorHref(fragment string, classes ...string) string {
	if fragment == "" {
		return ""
	}
	doc, err := parseFragment(fragment)
	if err != nil {
		return ""
	}
	selector := "a"
	for _, c := range classes {
		selector += "." + c
	}
	return doc.Find(selector).First().AttrOr("href", "")
}

// InputValue returns the value attribute of the first <input> with the
// given name anywhere in the document.
func InputValue(doc *goquery.Document, name string) string {
	return doc.Find("input[name=" + name + "]").First().AttrOr("value", "")
}
