package store

import "sort"

// Snapshots are sorted so initialData payloads are deterministic.

func sortCells(cells []Cell) {
	sort.Slice(cells, func(i, j int) bool {
		if cells[i].Pos.Row != cells[j].Pos.Row {
			return cells[i].Pos.Row < cells[j].Pos.Row
		}
		return cells[i].Pos.Col < cells[j].Pos.Col
	})
}

func sortLocks(locks []Lock) {
	sort.Slice(locks, func(i, j int) bool {
		if locks[i].Pos.Row != locks[j].Pos.Row {
			return locks[i].Pos.Row < locks[j].Pos.Row
		}
		return locks[i].Pos.Col < locks[j].Pos.Col
	})
}

func sortPresence(entries []Presence) {
	sort.Slice(entries, func(i, j int) bool { return entries[i].UserID < entries[j].UserID })
}

func sortSelections(entries []Selection) {
	sort.Slice(entries, func(i, j int) bool { return entries[i].UserID < entries[j].UserID })
}
