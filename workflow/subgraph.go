package workflow

import "encoding/json"

// Default sentinel ids the editor uses for a definition's own port nodes.
const (
	DefaultInputNodeID  ID = "-10"
	DefaultOutputNodeID ID = "-20"
)

// Subgraph is a reusable graph fragment with declared ports. A node whose
// Type equals the subgraph ID is an instance of it.
type Subgraph struct {
	ID         string  `json:"id"`
	Name       string  `json:"name,omitempty"`
	Inputs     []Port  `json:"inputs"`
	Outputs    []Port  `json:"outputs"`
	Nodes      []Node  `json:"nodes"`
	Links      []Link  `json:"links"`
	InputNode  *IONode `json:"inputNode,omitempty"`
	OutputNode *IONode `json:"outputNode,omitempty"`

	// SkippedLinks holds the positions of link entries that could not be
	// decoded.
	SkippedLinks []int `json:"-"`
}

func (s *Subgraph) UnmarshalJSON(data []byte) error {
	var raw struct {
		ID         string            `json:"id"`
		Name       string            `json:"name"`
		Inputs     []Port            `json:"inputs"`
		Outputs    []Port            `json:"outputs"`
		Nodes      []Node            `json:"nodes"`
		Links      []json.RawMessage `json:"links"`
		InputNode  *IONode           `json:"inputNode"`
		OutputNode *IONode           `json:"outputNode"`
	}
	if err := decodeAPI.Unmarshal(data, &raw); err != nil {
		return err
	}
	links, skipped := decodeLinks(raw.Links)
	*s = Subgraph{
		ID:           raw.ID,
		Name:         raw.Name,
		Inputs:       raw.Inputs,
		Outputs:      raw.Outputs,
		Nodes:        raw.Nodes,
		Links:        links,
		InputNode:    raw.InputNode,
		OutputNode:   raw.OutputNode,
		SkippedLinks: skipped,
	}
	return nil
}

// Port is a declared input or output of a subgraph.
type Port struct {
	ID      string `json:"id,omitempty"`
	Name    string `json:"name"`
	Type    string `json:"type"`
	LinkIDs []ID   `json:"linkIds,omitempty"`
}

// IONode is the placeholder node standing for a definition's ports inside
// its own links.
type IONode struct {
	ID ID `json:"id"`
}

// InputNodeID returns the id that denotes the definition's input ports.
func (s *Subgraph) InputNodeID() ID {
	if s.InputNode != nil && s.InputNode.ID != "" {
		return s.InputNode.ID
	}
	return DefaultInputNodeID
}

// OutputNodeID returns the id that denotes the definition's output ports.
func (s *Subgraph) OutputNodeID() ID {
	if s.OutputNode != nil && s.OutputNode.ID != "" {
		return s.OutputNode.ID
	}
	return DefaultOutputNodeID
}

// Level returns the definition's internal graph level.
func (s *Subgraph) Level() *Level {
	return newLevel(s.Nodes, s.Links, &ports{input: s.InputNodeID(), output: s.OutputNodeID()})
}

func (s Subgraph) clone() Subgraph {
	out := s
	out.Inputs = clonePorts(s.Inputs)
	out.Outputs = clonePorts(s.Outputs)
	out.Nodes = cloneNodes(s.Nodes)
	out.Links = append([]Link(nil), s.Links...)
	out.SkippedLinks = append([]int(nil), s.SkippedLinks...)
	if s.InputNode != nil {
		n := *s.InputNode
		out.InputNode = &n
	}
	if s.OutputNode != nil {
		n := *s.OutputNode
		out.OutputNode = &n
	}
	return out
}

func clonePorts(ports []Port) []Port {
	if ports == nil {
		return nil
	}
	out := make([]Port, len(ports))
	for i, p := range ports {
		p.LinkIDs = append([]ID(nil), p.LinkIDs...)
		out[i] = p
	}
	return out
}

// EndpointKind distinguishes what a link end is attached to.
type EndpointKind uint8

const (
	// EndpointNode is a slot on an ordinary node of the level.
	EndpointNode EndpointKind = iota
	// EndpointInputPort is one of the enclosing definition's input ports.
	EndpointInputPort
	// EndpointOutputPort is one of the enclosing definition's output ports.
	EndpointOutputPort
)

// Endpoint is one end of a link, resolved against its level.
type Endpoint struct {
	Kind EndpointKind
	// Node is set for EndpointNode.
	Node ID
	Slot int
}

type ports struct {
	input, output ID
}

// Level is one graph level: the root of a workflow or the inside of a
// subgraph definition.
type Level struct {
	Nodes []Node
	Links []Link

	ports *ports
	nodes map[ID]int
	links map[ID]int
}

func newLevel(nodes []Node, links []Link, p *ports) *Level {
	l := &Level{
		Nodes: nodes,
		Links: links,
		ports: p,
		nodes: make(map[ID]int, len(nodes)),
		links: make(map[ID]int, len(links)),
	}
	for i, n := range nodes {
		l.nodes[n.ID] = i
	}
	for i, lk := range links {
		l.links[lk.ID] = i
	}
	return l
}

// IsSubgraph reports whether the level is the inside of a definition.
func (l *Level) IsSubgraph() bool { return l.ports != nil }

// Node returns the node with the given id.
func (l *Level) Node(id ID) (*Node, bool) {
	i, ok := l.nodes[id]
	if !ok {
		return nil, false
	}
	return &l.Nodes[i], true
}

// Link returns the link with the given id.
func (l *Level) Link(id ID) (*Link, bool) {
	i, ok := l.links[id]
	if !ok {
		return nil, false
	}
	return &l.Links[i], true
}

// Origin resolves the source end of a link.
func (l *Level) Origin(lk Link) Endpoint {
	if l.ports != nil && lk.OriginID == l.ports.input {
		return Endpoint{Kind: EndpointInputPort, Slot: lk.OriginSlot}
	}
	return Endpoint{Kind: EndpointNode, Node: lk.OriginID, Slot: lk.OriginSlot}
}

// Target resolves the destination end of a link.
func (l *Level) Target(lk Link) Endpoint {
	if l.ports != nil && lk.TargetID == l.ports.output {
		return Endpoint{Kind: EndpointOutputPort, Slot: lk.TargetSlot}
	}
	return Endpoint{Kind: EndpointNode, Node: lk.TargetID, Slot: lk.TargetSlot}
}
