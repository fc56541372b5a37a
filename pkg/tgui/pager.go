package tgui

import "fmt"

// Page is one page of a slice. Index is 0-based.
type Page[T any] struct {
	Items   []T
	Index   int
	Pages   int
	From    int // 0-based, inclusive
	To      int // exclusive
	Total   int
	HasPrev bool
	HasNext bool
}

// Paginate clamps index into range and returns that page.
func Paginate[T any](items []T, index, size int) Page[T] {
	if size <= 0 {
		size = 10
	}
	total := len(items)
	pages := (total + size - 1) / size
	if pages == 0 {
		pages = 1
	}
	if index < 0 {
		index = 0
	}
	if index >= pages {
		index = pages - 1
	}
	from := index * size
	to := min(from+size, total)
	return Page[T]{
		Items:   items[from:to],
		Index:   index,
		Pages:   pages,
		From:    from,
		To:      to,
		Total:   total,
		HasPrev: index > 0,
		HasNext: to < total,
	}
}

func (p Page[T]) Label() string {
	if p.Total == 0 {
		return "Page 1/1"
	}
	return fmt.Sprintf("Page %d/%d • %d-%d of %d", p.Index+1, p.Pages, p.From+1, p.To, p.Total)
}
