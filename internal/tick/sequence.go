package tick

import (
	"errors"
	"fmt"

	"liquidityEngine/internal/tickmath"
)

// MaxSequencePages bounds how many pages a single swap may walk.
const MaxSequencePages = 3

var (
	// ErrPageNotLoaded means the swap walked past the supplied pages. Retrying with
	// the missing pages loaded may succeed.
	ErrPageNotLoaded   = errors.New("tick page not loaded")
	ErrInvalidSequence = errors.New("invalid tick page sequence")
)

// Sequence is the ordered run of pages a swap walks, in swap direction.
type Sequence struct {
	pages   []*Page
	spacing uint16
	aToB    bool
}

// NewSequence checks that pages are consecutive in the swap direction.
func NewSequence(pages []*Page, spacing uint16, aToB bool) (*Sequence, error) {
	if len(pages) == 0 || len(pages) > MaxSequencePages {
		return nil, fmt.Errorf("%w: %d pages", ErrInvalidSequence, len(pages))
	}
	step := TicksPerPage(spacing)
	if aToB {
		step = -step
	}
	for i := 1; i < len(pages); i++ {
		if pages[i].StartTickIndex != pages[i-1].StartTickIndex+step {
			return nil, fmt.Errorf("%w: page %d starts at %d after %d",
				ErrInvalidSequence, i, pages[i].StartTickIndex, pages[i-1].StartTickIndex)
		}
	}
	return &Sequence{pages: pages, spacing: spacing, aToB: aToB}, nil
}

// SequenceStart returns the start of the first page a swap from tickCurrent needs.
// An upward search begins one spacing above the current tick.
func SequenceStart(tickCurrent int32, spacing uint16, aToB bool) int32 {
	if aToB {
		return StartIndex(tickCurrent, spacing)
	}
	return StartIndex(tickCurrent+int32(spacing), spacing)
}

// Tick returns the tick at tickIndex from page pageIndex.
func (s *Sequence) Tick(pageIndex int, tickIndex int32) (*Tick, error) {
	if pageIndex < 0 || pageIndex >= len(s.pages) {
		return nil, fmt.Errorf("%w: page %d", ErrPageNotLoaded, pageIndex)
	}
	return s.pages[pageIndex].Tick(tickIndex, s.spacing)
}

// NextInitializedTick walks pages from pageIndex looking for the next initialized
// tick. When none is found before the last page runs out, it returns the far edge
// of the last page as an uninitialized boundary so the swap can stop there.
// Results are clamped to the usable tick range.
func (s *Sequence) NextInitializedTick(pageIndex int, tickIndex int32) (int, int32, bool, error) {
	for pageIndex < len(s.pages) {
		page := s.pages[pageIndex]
		if !page.inSearchRange(tickIndex, s.spacing, !s.aToB) {
			// Crossing the edge tick of a page leaves the search index in the next page.
			if pageIndex+1 < len(s.pages) && s.pages[pageIndex+1].inSearchRange(tickIndex, s.spacing, !s.aToB) {
				pageIndex++
				continue
			}
			return 0, 0, false, fmt.Errorf("%w: tick %d beyond page %d",
				ErrPageNotLoaded, tickIndex, page.StartTickIndex)
		}

		next, found, err := page.NextInitializedTick(tickIndex, s.spacing, s.aToB)
		if err != nil {
			return 0, 0, false, err
		}
		if found {
			return pageIndex, next, true, nil
		}

		if pageIndex == len(s.pages)-1 {
			return pageIndex, s.boundary(page), false, nil
		}

		// Continue from the edge of this page into the next one.
		if s.aToB {
			tickIndex = page.StartTickIndex - 1
		} else {
			tickIndex = page.StartTickIndex + TicksPerPage(s.spacing) - 1
		}
		pageIndex++
	}
	return 0, 0, false, fmt.Errorf("%w: page %d", ErrPageNotLoaded, pageIndex)
}

func (s *Sequence) boundary(last *Page) int32 {
	if s.aToB {
		return max(last.StartTickIndex, tickmath.MinTick)
	}
	return min(last.StartTickIndex+TicksPerPage(s.spacing)-1, tickmath.MaxTick)
}
