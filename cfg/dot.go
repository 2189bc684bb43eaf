package cfg

import (
	"bufio"
	"bytes"
	"fmt"
	"strings"
)

// dotMaxLines bounds how many instruction lines a node renders before
// truncating, to keep large functions legible.
const dotMaxLines = 12

// Dot renders the graph in Graphviz DOT form. Each node shows the block name
// and its instructions; edges follow the successor lists.
func (g *Graph) Dot(title string) []byte {
	var buf bytes.Buffer
	w := bufio.NewWriter(&buf)
	fmt.Fprintln(w, "digraph CFG {")
	fmt.Fprintln(w, "  rankdir=TB;")
	fmt.Fprintln(w, "  node [shape=box, fontname=\"monospace\"];")
	if title == "" && g.Fn != nil {
		title = "@" + g.Fn.Name
	}
	if title != "" {
		fmt.Fprintf(w, "  labelloc=\"t\";\n  label=\"%s\";\n", escapeDOT(title))
	}

	for _, b := range g.Blocks {
		var lines []string
		lines = append(lines, fmt.Sprintf(".%s (%d)", b.Name, len(b.Instrs)))
		for i, in := range b.Instrs {
			if i == dotMaxLines {
				lines = append(lines, fmt.Sprintf("... %d more", len(b.Instrs)-i))
				break
			}
			lines = append(lines, in.String())
		}
		fmt.Fprintf(w, "  n%d [label=\"%s\"];\n", b.ID, escapeDOT(strings.Join(lines, "\n")))
	}
	for _, b := range g.Blocks {
		for _, s := range b.Succs {
			fmt.Fprintf(w, "  n%d -> n%d;\n", b.ID, s)
		}
	}
	fmt.Fprintln(w, "}")
	w.Flush()
	return buf.Bytes()
}

func escapeDOT(s string) string {
	// Escape double-quotes and convert literal newlines to \l (left-justified
	// line breaks) so Graphviz renders instruction listings readably.
	s = strings.ReplaceAll(s, "\\", "\\\\")
	s = strings.ReplaceAll(s, "\"", "\\\"")
	s = strings.ReplaceAll(s, "\n", "\\l")
	return s
}
