package mutation

import "encoding/json"

// MarshalBatch serialises a Batch to JSON.
func MarshalBatch(b *Batch) ([]byte, error) {
	return json.Marshal(b)
}

// UnmarshalBatch deserialises a Batch from JSON.
func UnmarshalBatch(data []byte) (*Batch, error) {
	var b Batch
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, err
	}
	return &b, nil
}

// MarshalSnapshot serialises a Snapshot to JSON.
func MarshalSnapshot(s *Snapshot) ([]byte, error) {
	return json.Marshal(s)
}

// UnmarshalSnapshot deserialises a Snapshot from JSON.
func UnmarshalSnapshot(data []byte) (*Snapshot, error) {
	var s Snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// Walk visits every node of a snapshot tree depth-first, parents before
// children. The callback receives the node and its depth from the root.
func Walk(root *Node, fn func(n *Node, depth int)) {
	walk(root, 0, fn)
}

func walk(n *Node, depth int, fn func(*Node, int)) {
	if n == nil {
		return
	}
	fn(n, depth)
	for _, c := range n.Children {
		walk(c, depth+1, fn)
	}
}

// Count returns the node count and maximum depth of a tree.
func Count(root *Node) (nodes, maxDepth int) {
	Walk(root, func(_ *Node, depth int) {
		nodes++
		if depth > maxDepth {
			maxDepth = depth
		}
	})
	return nodes, maxDepth
}
