// Package itemtree converts between the nested item payload ESI delivers and
// the flat parent-referencing rows the store keeps.
package itemtree

import "killbase"

// FlatItem is one row of a flattened tree. ParentIndex points at the position
// of the enclosing container within the same slice, nil for items sitting
// directly on the ship. The store assigns surrogate IDs in insertion order, so
// the index can be mapped to a real parent_item_id after the rows land.
type FlatItem struct {
	Item        killbase.Item
	ParentIndex *int
}

// StoredItem is one row as read back from the store, with surrogate IDs in
// place of positional references.
type StoredItem struct {
	ItemID       int64
	ParentItemID *int64
	Item         killbase.Item
}

// Flatten walks the forest depth-first in pre-order, so a container is always
// emitted before its contents. Every input item appears exactly once.
func Flatten(items []killbase.Item) []FlatItem {
	flat := []FlatItem{}

	var walk func(nodes []killbase.Item, parent *int)
	walk = func(nodes []killbase.Item, parent *int) {
		for _, node := range nodes {
			children := node.Items
			node.Items = nil

			index := len(flat)
			flat = append(flat, FlatItem{Item: node, ParentIndex: parent})

			if len(children) > 0 {
				walk(children, &index)
			}
		}
	}

	walk(items, nil)

	return flat
}

// Reconstruct rebuilds the nested forest from stored rows. Rows must be in
// their original insertion order; children are appended in that order. Items
// without children keep a nil Items slice so the round-tripped payload does
// not grow empty arrays. A row referencing an unknown parent is treated as a
// root rather than dropped.
func Reconstruct(rows []StoredItem) []killbase.Item {
	if len(rows) == 0 {
		return nil
	}

	known := make(map[int64]bool, len(rows))
	for _, row := range rows {
		known[row.ItemID] = true
	}

	children := make(map[int64][]StoredItem, len(rows))
	roots := []StoredItem{}

	for _, row := range rows {
		if row.ParentItemID == nil || !known[*row.ParentItemID] {
			roots = append(roots, row)
			continue
		}

		children[*row.ParentItemID] = append(children[*row.ParentItemID], row)
	}

	var build func(row StoredItem) killbase.Item
	build = func(row StoredItem) killbase.Item {
		item := row.Item
		item.Items = nil

		for _, child := range children[row.ItemID] {
			item.Items = append(item.Items, build(child))
		}

		return item
	}

	items := make([]killbase.Item, 0, len(roots))
	for _, root := range roots {
		items = append(items, build(root))
	}

	return items
}
