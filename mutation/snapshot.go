package mutation

// Rect is a bounding box at observation time, in CSS pixels.
type Rect struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	W float64 `json:"w"`
	H float64 `json:"h"`
}

// Node is one observed element. Attrs carries raw attributes as the host saw
// them; absent attributes are simply absent, never defaulted. HasHandler is
// the host-injected interaction-handler capability: nil means the host could
// not tell, which the scorer must treat as no evidence.
type Node struct {
	XPath      string            `json:"xpath"`
	Tag        string            `json:"tag"`
	Attrs      map[string]string `json:"attrs,omitempty"`
	Text       string            `json:"text,omitempty"`
	Rect       *Rect             `json:"rect,omitempty"`
	HasHandler *bool             `json:"has_handler,omitempty"`
	Children   []*Node           `json:"children,omitempty"`
}

// Attr returns the attribute value and whether it was observed.
func (n *Node) Attr(name string) (string, bool) {
	if n.Attrs == nil {
		return "", false
	}
	v, ok := n.Attrs[name]
	return v, ok
}

// Snapshot is a full tree resynchronisation. Emitted by the host at session
// start, after a doc_reset, and on explicit scan requests.
type Snapshot struct {
	ID        string `json:"id"` // UUIDv7
	SessionID string `json:"session_id"`
	Root      *Node  `json:"root"`
	NodeCount int    `json:"node_count"`
	MaxDepth  int    `json:"max_depth"`
	Timestamp int64  `json:"timestamp"` // epoch milliseconds
}
