// Package filtergraph builds ffmpeg filter graphs from segment, effect and
// transition specifications.
//
// Graphs are held as an explicit intermediate representation (nodes with
// labelled, typed input and output pads) and only turned into ffmpeg's
// -filter_complex syntax by String. The builder never touches the
// filesystem or the clock, so identical inputs always yield byte-identical
// output.
package filtergraph

import (
	"fmt"
	"regexp"
	"strings"
)

// StreamKind is the media type flowing over a pad.
type StreamKind string

const (
	Video StreamKind = "video"
	Audio StreamKind = "audio"
)

// Pad is a labelled connection point. Source pads reference input streams
// ("0:v", "1:a"); all other labels are produced by exactly one node.
type Pad struct {
	Label string
	Kind  StreamKind
}

// SourcePad returns the pad of stream kind k of input index i.
func SourcePad(i int, k StreamKind) Pad {
	suffix := "v"
	if k == Audio {
		suffix = "a"
	}
	return Pad{Label: fmt.Sprintf("%d:%s", i, suffix), Kind: k}
}

// IsSource reports whether p references an input stream.
func (p Pad) IsSource() bool {
	return sourceLabel.MatchString(p.Label)
}

var sourceLabel = regexp.MustCompile(`^\d+:[va]$`)

// Option is one filter argument. An empty Key renders as a positional value.
type Option struct {
	Key   string
	Value string
}

// Node is a single filter instance.
type Node struct {
	Filter  string
	Options []Option
	Inputs  []Pad
	Outputs []Pad
}

// Edge connects a producing node (or an input stream, From == -1) to a
// consuming node.
type Edge struct {
	From  int
	To    int
	Label string
	Kind  StreamKind
}

// Graph is an ordered list of nodes. Order is significant only for
// serialization; connectivity is expressed through pad labels.
type Graph struct {
	Nodes []*Node
}

// Add appends a node and returns it.
func (g *Graph) Add(filter string, inputs, outputs []Pad, opts ...Option) *Node {
	n := &Node{Filter: filter, Options: opts, Inputs: inputs, Outputs: outputs}
	g.Nodes = append(g.Nodes, n)
	return n
}

// Count returns how many nodes use the named filter.
func (g *Graph) Count(filter string) int {
	count := 0
	for _, n := range g.Nodes {
		if n.Filter == filter {
			count++
		}
	}
	return count
}

// Find returns the nodes using the named filter in graph order.
func (g *Graph) Find(filter string) []*Node {
	var out []*Node
	for _, n := range g.Nodes {
		if n.Filter == filter {
			out = append(out, n)
		}
	}
	return out
}

// Edges derives the edge list from pad labels.
func (g *Graph) Edges() []Edge {
	producer := make(map[string]int)
	for i, n := range g.Nodes {
		for _, out := range n.Outputs {
			producer[out.Label] = i
		}
	}

	var edges []Edge
	for i, n := range g.Nodes {
		for _, in := range n.Inputs {
			from := -1
			if p, ok := producer[in.Label]; ok {
				from = p
			}
			edges = append(edges, Edge{From: from, To: i, Label: in.Label, Kind: in.Kind})
		}
	}
	return edges
}

// Sinks returns output pads that no node consumes, in graph order.
func (g *Graph) Sinks() []Pad {
	consumed := make(map[string]bool)
	for _, n := range g.Nodes {
		for _, in := range n.Inputs {
			consumed[in.Label] = true
		}
	}
	var sinks []Pad
	for _, n := range g.Nodes {
		for _, out := range n.Outputs {
			if !consumed[out.Label] {
				sinks = append(sinks, out)
			}
		}
	}
	return sinks
}

// Validate checks structural soundness: every non-source input is produced
// by an earlier node, every label is produced once and consumed at most
// once, and connected pads agree on stream kind.
func (g *Graph) Validate() error {
	produced := make(map[string]StreamKind)
	consumed := make(map[string]bool)

	for i, n := range g.Nodes {
		if n.Filter == "" {
			return fmt.Errorf("node %d has no filter name", i)
		}
		for _, in := range n.Inputs {
			if consumed[in.Label] {
				return fmt.Errorf("node %d (%s): label %q consumed twice", i, n.Filter, in.Label)
			}
			consumed[in.Label] = true
			if in.IsSource() {
				continue
			}
			kind, ok := produced[in.Label]
			if !ok {
				return fmt.Errorf("node %d (%s): input %q is not produced by an earlier node", i, n.Filter, in.Label)
			}
			if kind != in.Kind {
				return fmt.Errorf("node %d (%s): input %q is %s, produced as %s", i, n.Filter, in.Label, in.Kind, kind)
			}
		}
		for _, out := range n.Outputs {
			if out.IsSource() {
				return fmt.Errorf("node %d (%s): output %q shadows an input stream", i, n.Filter, out.Label)
			}
			if _, dup := produced[out.Label]; dup {
				return fmt.Errorf("node %d (%s): label %q produced twice", i, n.Filter, out.Label)
			}
			produced[out.Label] = out.Kind
		}
	}
	return nil
}

// String serializes the graph into ffmpeg -filter_complex syntax, one
// filter per chain, chains separated by ';'.
func (g *Graph) String() string {
	chains := make([]string, 0, len(g.Nodes))
	for _, n := range g.Nodes {
		chains = append(chains, n.String())
	}
	return strings.Join(chains, ";")
}

func (n *Node) String() string {
	var b strings.Builder
	for _, in := range n.Inputs {
		b.WriteString("[" + in.Label + "]")
	}
	b.WriteString(n.Filter)
	if len(n.Options) > 0 {
		b.WriteString("=")
		for i, opt := range n.Options {
			if i > 0 {
				b.WriteString(":")
			}
			if opt.Key != "" {
				b.WriteString(opt.Key + "=")
			}
			b.WriteString(escapeValue(opt.Value))
		}
	}
	for _, out := range n.Outputs {
		b.WriteString("[" + out.Label + "]")
	}
	return b.String()
}

// escapeValue quotes characters that ffmpeg's graph parser treats as
// separators inside an option value.
func escapeValue(v string) string {
	if !strings.ContainsAny(v, `:,;[]'\`) {
		return v
	}
	r := strings.NewReplacer(`\`, `\\`, `:`, `\:`, `,`, `\,`, `;`, `\;`, `[`, `\[`, `]`, `\]`, `'`, `\'`)
	return r.Replace(v)
}
