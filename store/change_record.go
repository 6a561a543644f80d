package store

// ChangeKind tags a ChangeRecord union member (spec.md §3).
type ChangeKind string

const (
	ChangeInsert ChangeKind = "insert"
	ChangeUpdate ChangeKind = "update"
	ChangeDelete ChangeKind = "delete"
)

// ChangeRecord is the tagged union recorded per row-level mutation while
// the handler processes an unfinalized block (spec.md §3, §4.7).
// PriorFields holds the full pre-image for update/delete; it is nil for
// insert, where undo is simply a delete by id.
type ChangeRecord struct {
	Kind        ChangeKind
	Table       string
	ID          string
	PriorFields map[string]interface{}
}
