// Package page defines the host contracts the tamper engine consumes: a
// content tree that can be read, restored and subscribed to, the page
// environment, an overlay surface, and the request/response shape used by
// network interceptors. Host adapters (rodhost, test fakes) implement them.
package page

import "iter"

// Op is the type of content-tree change observed.
type Op string

const (
	OpInsert   Op = "insert"    // subtree inserted (HTML carries the serialised subtree)
	OpRemove   Op = "remove"    // subtree removed
	OpText     Op = "text"      // character data modified
	OpAttr     Op = "attr"      // attribute modified
	OpAttrDel  Op = "attr_del"  // attribute removed
	OpDocReset Op = "doc_reset" // entire document replaced
)

// Record is a single content-tree change.
type Record struct {
	Op       Op       `json:"op"`
	Target   string   `json:"target"`              // stable locator of the changed node (XPath or element id)
	NodeType int      `json:"node_type,omitempty"` // 1=element, 3=text, 8=comment
	Tag      string   `json:"tag,omitempty"`
	ID       string   `json:"id,omitempty"`    // id of the changed element or of the text node's parent
	Class    string   `json:"class,omitempty"` // class attribute of the same element
	Ancestry []string `json:"ancestry,omitempty"`
	Name     string   `json:"name,omitempty"`      // attribute name for attr/attr_del
	Value    string   `json:"value,omitempty"`     // new value
	OldValue string   `json:"old_value,omitempty"` // previous value
	HTML     string   `json:"html,omitempty"`      // serialised subtree for insert
}

// ElementID returns the identifier used for attempt counting: the element
// id when known, the target locator otherwise.
func (r Record) ElementID() string {
	if r.ID != "" {
		return r.ID
	}
	return r.Target
}

// Batch adapts a slice to the lazy sequence the engine consumes.
func Batch(records ...Record) iter.Seq[Record] {
	return func(yield func(Record) bool) {
		for _, r := range records {
			if !yield(r) {
				return
			}
		}
	}
}
