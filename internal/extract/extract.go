// Package extract turns a fetched document's raw bytes into body text, a
// heading hierarchy, and bounded fragments, as a pure function of
// (bytes, content_type): no network I/O happens here. HTML is walked with
// golang.org/x/net/html, the same parser the teacher's scraper used for its
// knowledge-atom extraction; PDF text is recovered with a minimal
// stream-scanning reader since no PDF library appears anywhere in the
// example pack.
package extract

import (
	"bytes"
	"regexp"
	"strings"
	"unicode"

	"codenerd/internal/logging"
	"codenerd/internal/store"

	"golang.org/x/net/html"
)

// MinFragmentLength is the minimum text_content length a fragment must
// reach to survive extraction; shorter fragments are boilerplate noise
// (nav links, copyright footers) and are dropped.
const MinFragmentLength = 100

// Result is the output of Extract: body text, heading hierarchy, and
// the bounded fragments derived from it.
type Result struct {
	Text             string
	HeadingHierarchy []store.HeadingCrumb
	Fragments        []store.Fragment
	Language         string
}

// Extract dispatches on contentType and returns the extracted text,
// heading hierarchy, and fragments. It performs no I/O.
func Extract(body []byte, contentType string) (Result, error) {
	timer := logging.StartTimer(logging.CategoryExtract, "Extract")
	defer timer.Stop()

	switch {
	case strings.Contains(contentType, "pdf"):
		return extractPDF(body)
	default:
		return extractHTML(body)
	}
}

func extractHTML(body []byte) (Result, error) {
	doc, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return Result{}, err
	}

	var (
		fragments  []store.Fragment
		hierarchy  []store.HeadingCrumb
		crumbStack []store.HeadingCrumb
		textParts  []string
		index      int
	)

	var visit func(n *html.Node)
	visit = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.Data {
			case "script", "style", "noscript", "nav", "footer", "aside":
				return // boilerplate subtrees are never descended into
			}
			if level, ok := headingLevel(n.Data); ok {
				text := normalizeText(textContent(n))
				if text != "" {
					crumb := store.HeadingCrumb{Level: level, Text: text}
					hierarchy = append(hierarchy, crumb)
					crumbStack = truncateToLevel(crumbStack, level)
					crumbStack = append(crumbStack, crumb)
					fragments = appendFragment(fragments, &index, text, crumbStack, store.FragmentHeading)
				}
				return
			}
			switch n.Data {
			case "p", "blockquote", "figcaption":
				text := normalizeText(textContent(n))
				textParts = append(textParts, text)
				ftype := store.FragmentParagraph
				if n.Data == "blockquote" {
					ftype = store.FragmentQuote
				} else if n.Data == "figcaption" {
					ftype = store.FragmentFigure
				}
				fragments = appendFragment(fragments, &index, text, crumbStack, ftype)
				return
			case "li":
				text := normalizeText(textContent(n))
				textParts = append(textParts, text)
				fragments = appendFragment(fragments, &index, text, crumbStack, store.FragmentList)
				return
			case "table":
				text := normalizeText(tableText(n))
				fragments = appendFragment(fragments, &index, text, crumbStack, store.FragmentTable)
				return
			case "pre", "code":
				text := textContent(n) // preserve whitespace for code
				fragments = appendFragment(fragments, &index, text, crumbStack, store.FragmentCode)
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			visit(c)
		}
	}
	visit(doc)

	return Result{
		Text:             strings.Join(textParts, "\n\n"),
		HeadingHierarchy: hierarchy,
		Fragments:        stripResidue(fragments),
		Language:         detectLanguage(strings.Join(textParts, " ")),
	}, nil
}

// extractPDF recovers readable text from a PDF's stream objects by scanning
// for parenthesized strings shown with the Tj operator (TJ arrays are not
// read). It is intentionally crude: a
// real PDF renderer is out of scope (spec §1 treats content extraction as an
// external black box); this is enough to keep the pipeline functional
// against text-based PDFs without a CGO-heavy dependency the example pack
// never pulls in.
func extractPDF(body []byte) (Result, error) {
	re := regexp.MustCompile(`\(((?:[^()\\]|\\.)*)\)\s*Tj`)
	matches := re.FindAllSubmatch(body, -1)

	var parts []string
	for _, m := range matches {
		text := pdfUnescape(string(m[1]))
		if text != "" {
			parts = append(parts, text)
		}
	}

	var fragments []store.Fragment
	index := 0
	for _, p := range parts {
		fragments = appendFragment(fragments, &index, normalizeText(p), nil, store.FragmentParagraph)
	}

	full := strings.Join(parts, " ")
	return Result{
		Text:      full,
		Fragments: stripResidue(fragments),
		Language:  detectLanguage(full),
	}, nil
}

func pdfUnescape(s string) string {
	s = strings.ReplaceAll(s, `\(`, "(")
	s = strings.ReplaceAll(s, `\)`, ")")
	s = strings.ReplaceAll(s, `\\`, `\`)
	return s
}

func appendFragment(frags []store.Fragment, index *int, text string, heading []store.HeadingCrumb, ftype store.FragmentType) []store.Fragment {
	text = strings.TrimSpace(text)
	if len(text) < MinFragmentLength {
		return frags
	}
	crumb := make([]store.HeadingCrumb, len(heading))
	copy(crumb, heading)

	headingContext := ""
	if len(crumb) > 0 {
		parts := make([]string, len(crumb))
		for i, c := range crumb {
			parts[i] = c.Text
		}
		headingContext = strings.Join(parts, " > ")
	}

	f := store.Fragment{
		TextContent:      text,
		HeadingContext:   headingContext,
		HeadingHierarchy: crumb,
		ElementIndex:     *index,
		FragmentType:     ftype,
	}
	*index++
	return append(frags, f)
}

func truncateToLevel(stack []store.HeadingCrumb, level int) []store.HeadingCrumb {
	out := stack[:0:0]
	for _, c := range stack {
		if c.Level < level {
			out = append(out, c)
		}
	}
	return out
}

func headingLevel(tag string) (int, bool) {
	switch tag {
	case "h1":
		return 1, true
	case "h2":
		return 2, true
	case "h3":
		return 3, true
	case "h4":
		return 4, true
	case "h5":
		return 5, true
	case "h6":
		return 6, true
	}
	return 0, false
}

func textContent(n *html.Node) string {
	var sb strings.Builder
	var visit func(*html.Node)
	visit = func(node *html.Node) {
		if node.Type == html.TextNode {
			sb.WriteString(node.Data)
			sb.WriteString(" ")
		}
		for c := node.FirstChild; c != nil; c = c.NextSibling {
			visit(c)
		}
	}
	visit(n)
	return sb.String()
}

func tableText(n *html.Node) string {
	var cells []string
	var visit func(*html.Node)
	visit = func(node *html.Node) {
		if node.Type == html.ElementNode && (node.Data == "td" || node.Data == "th") {
			cells = append(cells, normalizeText(textContent(node)))
		}
		for c := node.FirstChild; c != nil; c = c.NextSibling {
			visit(c)
		}
	}
	visit(n)
	return strings.Join(cells, " | ")
}

// mdLinkResidue matches leftover markdown-style link syntax ([text](url))
// that sometimes survives naive boilerplate stripping upstream; it is
// collapsed to just the link text so it does not pollute claim extraction.
var mdLinkResidue = regexp.MustCompile(`\[([^\]]*)\]\([^)]*\)`)

func stripResidue(frags []store.Fragment) []store.Fragment {
	out := make([]store.Fragment, 0, len(frags))
	for _, f := range frags {
		f.TextContent = mdLinkResidue.ReplaceAllString(f.TextContent, "$1")
		f.TextContent = strings.TrimSpace(f.TextContent)
		if len(f.TextContent) < MinFragmentLength {
			continue
		}
		out = append(out, f)
	}
	return out
}

// normalizeText collapses whitespace runs and strips zero-width/control
// characters, matching the sanitation the inference gateway expects on
// anything that eventually reaches an LLM prompt.
func normalizeText(s string) string {
	s = strings.Map(func(r rune) rune {
		if r == '​' || r == '‌' || r == '‍' || r == '﻿' {
			return -1
		}
		if unicode.IsControl(r) && r != '\n' && r != '\t' {
			return -1
		}
		return r
	}, s)
	fields := strings.Fields(s)
	return strings.Join(fields, " ")
}

// detectLanguage is a minimal stopword-frequency heuristic distinguishing
// English from "other"; a real language-id model is out of scope (spec §1
// treats extraction libraries as black boxes) but the field is still
// populated so downstream consumers have something to filter on.
func detectLanguage(text string) string {
	lower := strings.ToLower(text)
	hits := 0
	for _, w := range []string{" the ", " and ", " is ", " of ", " to ", " in "} {
		if strings.Contains(lower, w) {
			hits++
		}
	}
	if hits >= 2 {
		return "en"
	}
	return "und"
}
