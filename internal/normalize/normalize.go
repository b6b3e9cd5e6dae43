// Package normalize converts table text in HTML, LaTeX tabular or Markdown
// pipe syntax into one canonical HTML form that the similarity scorer consumes.
//
// Every input format is turned into an HTML table and then pushed through the
// same parse/render step, so the output of Normalize is a fixed point:
// Normalize(Normalize(x)) == Normalize(x).
package normalize

import (
	"regexp"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Format is the table encoding detected in an input.
type Format string

// Supported input formats.
const (
	FormatHTML     Format = "html"
	FormatLaTeX    Format = "latex"
	FormatMarkdown Format = "markdown"
)

const (
	documentOpen  = "<html><body>"
	documentClose = "</body></html>"
	emptyTable    = "<table></table>"
)

// Kind sniffs the encoding of text. HTML wins over LaTeX, LaTeX over Markdown.
func Kind(text string) Format {
	t := strings.TrimSpace(text)
	switch {
	case strings.Contains(t, "<table"):
		return FormatHTML
	case strings.HasPrefix(t, `\begin{tabular}`), strings.HasPrefix(t, `\begin{table}`):
		return FormatLaTeX
	default:
		return FormatMarkdown
	}
}

// Normalize returns the canonical HTML table document for text. It accepts any
// input; text without recognizable rows yields an empty table.
func Normalize(text string) string {
	t := strings.TrimSpace(text)

	var markup string
	switch Kind(t) {
	case FormatHTML:
		markup = t
	case FormatLaTeX:
		markup = tableMarkup(ParseLaTeX(t))
	default:
		markup = tableMarkup(ParseMarkdown(t))
	}

	return collapseWhitespace(renderTables(markup))
}

// renderTables parses markup as an HTML document, which closes unbalanced
// tags, and renders each outermost table inside a bare html/body wrapper.
func renderTables(markup string) string {
	var b strings.Builder
	b.WriteString(documentOpen)

	root, err := html.Parse(strings.NewReader(markup))
	if err != nil {
		b.WriteString(emptyTable)
		b.WriteString(documentClose)
		return b.String()
	}

	var tables []*html.Node
	collectTables(root, &tables)

	rendered := 0
	for _, table := range tables {
		dropLayoutWhitespace(table)

		var tb strings.Builder
		if err := html.Render(&tb, table); err != nil {
			continue
		}
		b.WriteString(tb.String())
		rendered++
	}
	if rendered == 0 {
		b.WriteString(emptyTable)
	}

	b.WriteString(documentClose)
	return b.String()
}

// collectTables appends outermost table elements in document order. Nested
// tables travel with their parent.
func collectTables(n *html.Node, out *[]*html.Node) {
	if n.Type == html.ElementNode && n.DataAtom == atom.Table {
		*out = append(*out, n)
		return
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		collectTables(c, out)
	}
}

// dropLayoutWhitespace removes whitespace-only text that sits between
// structural table elements (indentation, line breaks between rows).
func dropLayoutWhitespace(n *html.Node) {
	for c := n.FirstChild; c != nil; {
		next := c.NextSibling
		if c.Type == html.TextNode && isStructural(n) && strings.TrimSpace(c.Data) == "" {
			n.RemoveChild(c)
		} else if c.Type == html.ElementNode {
			dropLayoutWhitespace(c)
		}
		c = next
	}
}

func isStructural(n *html.Node) bool {
	if n.Type != html.ElementNode {
		return false
	}
	switch n.DataAtom {
	case atom.Table, atom.Thead, atom.Tbody, atom.Tfoot, atom.Tr, atom.Colgroup:
		return true
	}
	return false
}

func tableMarkup(rows [][]string) string {
	var b strings.Builder
	b.WriteString("<table>")
	for _, row := range rows {
		b.WriteString("<tr>")
		for _, cell := range row {
			b.WriteString("<td>")
			b.WriteString(html.EscapeString(cell))
			b.WriteString("</td>")
		}
		b.WriteString("</tr>")
	}
	b.WriteString("</table>")
	return b.String()
}

// collapseWhitespace folds every whitespace run into one space and trims.
func collapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

var (
	tabularEnv   = regexp.MustCompile(`\\(?:begin|end)\{tabular\}(?:\{[^}]*\})?`)
	boldCommand  = regexp.MustCompile(`\\textbf\{(.*?)\}`)
	latexSpecial = regexp.MustCompile(`[$\\]`)
)

// ParseLaTeX extracts the cell grid of a tabular environment. Row separators
// (\\) become line breaks, the tabular wrapper and \textbf are unwrapped, the
// remaining backslashes and $ are dropped, and only lines that contain a cell
// separator (&) survive.
func ParseLaTeX(text string) [][]string {
	s := strings.TrimSpace(text)
	s = strings.ReplaceAll(s, `\\`, "\n")
	s = tabularEnv.ReplaceAllString(s, "")
	s = boldCommand.ReplaceAllString(s, "$1")
	s = latexSpecial.ReplaceAllString(s, "")

	var rows [][]string
	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimSpace(line)
		if !strings.Contains(line, "&") {
			continue
		}
		parts := strings.Split(line, "&")
		row := make([]string, len(parts))
		for i, p := range parts {
			row[i] = strings.TrimSpace(p)
		}
		rows = append(rows, row)
	}
	return rows
}

var separatorCell = regexp.MustCompile(`^:?-+:?$`)

// ParseMarkdown extracts the cell grid of a pipe table. Lines without a pipe
// and alignment rows (|---|:-:|) are dropped; \| is a literal pipe.
func ParseMarkdown(text string) [][]string {
	var rows [][]string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if !strings.Contains(line, "|") {
			continue
		}

		line = strings.TrimPrefix(line, "|")
		if strings.HasSuffix(line, "|") && !strings.HasSuffix(line, `\|`) {
			line = strings.TrimSuffix(line, "|")
		}

		cells := splitPipes(line)
		if isSeparatorRow(cells) {
			continue
		}
		rows = append(rows, cells)
	}
	return rows
}

func splitPipes(line string) []string {
	var cells []string
	var cur strings.Builder
	for i := 0; i < len(line); i++ {
		switch {
		case line[i] == '\\' && i+1 < len(line) && line[i+1] == '|':
			cur.WriteByte('|')
			i++
		case line[i] == '|':
			cells = append(cells, strings.TrimSpace(cur.String()))
			cur.Reset()
		default:
			cur.WriteByte(line[i])
		}
	}
	return append(cells, strings.TrimSpace(cur.String()))
}

func isSeparatorRow(cells []string) bool {
	for _, c := range cells {
		if !separatorCell.MatchString(c) {
			return false
		}
	}
	return len(cells) > 0
}
