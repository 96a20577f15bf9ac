package frame

import "fmt"

// Rect is a half-open rectangular region [LowX,HighX) x [LowY,HighY) in
// frame-local pixel coordinates. The zero value is a sentinel meaning "the
// entire frame", not an empty region.
type Rect struct {
	LowX  int `json:"low_x"`
	HighX int `json:"high_x"`
	LowY  int `json:"low_y"`
	HighY int `json:"high_y"`
}

// FullRange is the sentinel Rect selecting the whole frame.
var FullRange = Rect{}

// IsFull reports whether r is the full-range sentinel.
func (r Rect) IsFull() bool { return r == Rect{} }

// Validate checks low <= high on both axes. The sentinel is always valid.
func (r Rect) Validate() error {
	if r.IsFull() {
		return nil
	}
	if r.LowX > r.HighX || r.LowY > r.HighY {
		return fmt.Errorf("malformed region %+v: low bound exceeds high bound", r)
	}
	if r.LowX < 0 || r.LowY < 0 {
		return fmt.Errorf("malformed region %+v: negative bound", r)
	}
	return nil
}

// Resolve returns the concrete bounds of r for a w x h frame, expanding the
// sentinel and clipping to the frame.
func (r Rect) Resolve(w, h int) Rect {
	if r.IsFull() {
		return Rect{0, w, 0, h}
	}
	out := r
	if out.LowX < 0 {
		out.LowX = 0
	}
	if out.LowY < 0 {
		out.LowY = 0
	}
	if out.HighX > w {
		out.HighX = w
	}
	if out.HighY > h {
		out.HighY = h
	}
	if out.LowX > out.HighX {
		out.LowX = out.HighX
	}
	if out.LowY > out.HighY {
		out.LowY = out.HighY
	}
	return out
}

// Inside reports whether r lies strictly within a w x h frame. The sentinel
// is always inside.
func (r Rect) Inside(w, h int) bool {
	if r.IsFull() {
		return true
	}
	return r.LowX >= 0 && r.LowY >= 0 && r.HighX <= w && r.HighY <= h &&
		r.LowX <= r.HighX && r.LowY <= r.HighY
}

// Dx and Dy return the region extents.
func (r Rect) Dx() int { return r.HighX - r.LowX }
func (r Rect) Dy() int { return r.HighY - r.LowY }

// Area returns the number of pixels covered by the resolved region.
func (r Rect) Area() int { return r.Dx() * r.Dy() }

// Span is a half-open 1D range [Low,High). The zero value selects the whole
// axis.
type Span struct {
	Low  int `json:"low"`
	High int `json:"high"`
}

// IsFull reports whether s is the full-range sentinel.
func (s Span) IsFull() bool { return s == Span{} }

// Resolve expands the sentinel and clips to [0,n).
func (s Span) Resolve(n int) Span {
	if s.IsFull() {
		return Span{0, n}
	}
	out := s
	if out.Low < 0 {
		out.Low = 0
	}
	if out.High > n {
		out.High = n
	}
	if out.Low > out.High {
		out.Low = out.High
	}
	return out
}

// Len returns the number of samples covered by the span.
func (s Span) Len() int { return s.High - s.Low }

// XSpan and YSpan project a Rect onto the two axes.
func (r Rect) XSpan() Span { return Span{r.LowX, r.HighX} }
func (r Rect) YSpan() Span { return Span{r.LowY, r.HighY} }
