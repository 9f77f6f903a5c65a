package tick

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"liquidityEngine/internal/tickmath"
)

// PageSize is the number of ticks stored in one page.
const PageSize = 88

var (
	ErrInvalidStartIndex = errors.New("invalid tick page start index")
	ErrInvalidTickIndex  = errors.New("invalid tick index")
	ErrTickNotInPage     = errors.New("tick not in page")
)

// Page holds PageSize consecutive ticks, spaced TickSpacing apart, starting at
// StartTickIndex.
type Page struct {
	PoolID         common.Hash
	StartTickIndex int32
	Ticks          [PageSize]Tick
}

// TicksPerPage is the tick index span covered by one page.
func TicksPerPage(spacing uint16) int32 {
	return PageSize * int32(spacing)
}

// StartIndex returns the start of the page that contains tickIndex.
func StartIndex(tickIndex int32, spacing uint16) int32 {
	span := TicksPerPage(spacing)
	return floorDiv(tickIndex, span) * span
}

// IsValidStart reports whether start is the start of a page that overlaps the
// usable tick range.
func IsValidStart(start int32, spacing uint16) bool {
	if spacing == 0 || start%TicksPerPage(spacing) != 0 {
		return false
	}
	if start > tickmath.MaxTick {
		return false
	}
	return start+TicksPerPage(spacing) > tickmath.MinTick
}

// NewPage returns an empty page for poolID starting at start.
func NewPage(poolID common.Hash, start int32, spacing uint16) (*Page, error) {
	if !IsValidStart(start, spacing) {
		return nil, fmt.Errorf("%w: %d for spacing %d", ErrInvalidStartIndex, start, spacing)
	}
	return &Page{PoolID: poolID, StartTickIndex: start}, nil
}

// Contains reports whether tickIndex falls in the span of the page.
func (p *Page) Contains(tickIndex int32, spacing uint16) bool {
	return tickIndex >= p.StartTickIndex && tickIndex < p.StartTickIndex+TicksPerPage(spacing)
}

// Tick returns the slot for an initializable tick in this page.
func (p *Page) Tick(tickIndex int32, spacing uint16) (*Tick, error) {
	if !tickmath.IsUsableTick(tickIndex, spacing) {
		return nil, fmt.Errorf("%w: %d for spacing %d", ErrInvalidTickIndex, tickIndex, spacing)
	}
	if !p.Contains(tickIndex, spacing) {
		return nil, fmt.Errorf("%w: %d not in page %d", ErrTickNotInPage, tickIndex, p.StartTickIndex)
	}
	return &p.Ticks[(tickIndex-p.StartTickIndex)/int32(spacing)], nil
}

// NextInitializedTick searches this page for the next initialized tick from
// tickIndex. Searching down includes tickIndex itself; searching up starts one
// spacing above it. It returns false when the page holds no such tick.
func (p *Page) NextInitializedTick(tickIndex int32, spacing uint16, aToB bool) (int32, bool, error) {
	if !p.inSearchRange(tickIndex, spacing, !aToB) {
		return 0, false, fmt.Errorf("%w: %d not searchable from page %d", ErrTickNotInPage, tickIndex, p.StartTickIndex)
	}

	offset := floorDiv(tickIndex-p.StartTickIndex, int32(spacing))
	if !aToB {
		offset++
	}
	for offset >= 0 && offset < PageSize {
		if p.Ticks[offset].Initialized {
			return p.StartTickIndex + offset*int32(spacing), true, nil
		}
		if aToB {
			offset--
		} else {
			offset++
		}
	}
	return 0, false, nil
}

// An upward search begins one slot later, so its range is shifted down by one spacing.
func (p *Page) inSearchRange(tickIndex int32, spacing uint16, shifted bool) bool {
	lower := p.StartTickIndex
	upper := p.StartTickIndex + TicksPerPage(spacing)
	if shifted {
		lower -= int32(spacing)
		upper -= int32(spacing)
	}
	return tickIndex >= lower && tickIndex < upper
}

// PageRecordSize is the encoded length of a Page.
var PageRecordSize = binary.Size(Page{})

func (p Page) MarshalBinary() ([]byte, error) {
	buf := bytes.NewBuffer(make([]byte, 0, PageRecordSize))
	if err := binary.Write(buf, binary.LittleEndian, p); err != nil {
		return nil, fmt.Errorf("encode tick page: %w", err)
	}
	return buf.Bytes(), nil
}

func (p *Page) UnmarshalBinary(data []byte) error {
	if len(data) != PageRecordSize {
		return fmt.Errorf("decode tick page: record is %d bytes, want %d", len(data), PageRecordSize)
	}
	if err := binary.Read(bytes.NewReader(data), binary.LittleEndian, p); err != nil {
		return fmt.Errorf("decode tick page: %w", err)
	}
	return nil
}

func floorDiv(a, b int32) int32 {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}
