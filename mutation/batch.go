// Package mutation defines the inbound protocol of the tracker. Hosts
// (browser adapters, test harnesses) collect raw DOM observations and hand
// them to the engine as Batches and Snapshots; any consumer imports this
// package to speak the contract.
package mutation

// Op is the type of DOM mutation observed by the host.
type Op string

const (
	OpInsert   Op = "insert"    // node inserted (includes serialised subtree HTML)
	OpRemove   Op = "remove"    // node removed
	OpText     Op = "text"      // text content changed
	OpAttr     Op = "attr"      // attribute set or modified
	OpAttrDel  Op = "attr_del"  // attribute removed
	OpMove     Op = "move"      // node reparented or reordered
	OpDocReset Op = "doc_reset" // entire document replaced, host must resync
)

// Record is a single raw DOM mutation, addressed by XPath into the last
// known tree.
type Record struct {
	Op        Op     `json:"op"`
	XPath     string `json:"xpath"`
	Tag       string `json:"tag,omitempty"`
	Name      string `json:"name,omitempty"`       // attribute name for attr/attr_del
	Value     string `json:"value,omitempty"`      // new value
	OldValue  string `json:"old_value,omitempty"`  // previous value
	HTML      string `json:"html,omitempty"`       // serialised subtree for insert
	NewParent string `json:"new_parent,omitempty"` // destination XPath for move
	NewIndex  int    `json:"new_index,omitempty"`  // destination child index for move
}

// Batch is the atomic ingestion unit: all mutations the host observer
// collected in one flush. The engine debounces bursts of batches before
// running a matching pass.
type Batch struct {
	ID        string   `json:"id"` // UUIDv7
	SessionID string   `json:"session_id"`
	Seq       uint64   `json:"seq"` // monotonically increasing per session (gap detection)
	Records   []Record `json:"records"`
	Timestamp int64    `json:"timestamp"` // epoch milliseconds at flush
}
