package interactive

import "fmt"

// Page is the clamped position of a list session.
type Page struct {
	// Index is zero-based and always within [0, max(0, Count-1)].
	Index int
	// Count is the number of pages; zero when there are no items.
	Count  int
	Offset int
}

// Paginate clamps requested against the page count implied by total and size.
// Navigation saturates at both ends. A non-positive size is treated as 1.
func Paginate(total, size, requested int) Page {
	if size <= 0 {
		size = 1
	}
	if total < 0 {
		total = 0
	}
	count := total / size
	if total%size != 0 {
		count++
	}
	idx := min(max(requested, 0), max(count-1, 0))
	return Page{Index: idx, Count: count, Offset: idx * size}
}

// Number is the 1-based page shown to users, or 0 for an empty result.
func (p Page) Number() int {
	if p.Count == 0 {
		return 0
	}
	return p.Index + 1
}

func (p Page) HasPrev() bool { return p.Number() > 1 }

func (p Page) HasNext() bool { return p.Number() < p.Count }

// Footer renders "Page X of N".
func (p Page) Footer() string {
	return fmt.Sprintf("Page %d of %d", p.Number(), p.Count)
}

// Affordances returns the arrows valid for this page, in display order.
func (p Page) Affordances() []string {
	var out []string
	if p.HasPrev() {
		out = append(out, EmojiPrev)
	}
	if p.HasNext() {
		out = append(out, EmojiNext)
	}
	return out
}
