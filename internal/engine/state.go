package engine

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"liquidityEngine/internal/pool"
	"liquidityEngine/internal/position"
	"liquidityEngine/internal/tick"
)

// State is everything the engine knows about one pool: the pool record, the tick
// pages loaded for it keyed by start index, and its positions. A State is not safe
// for concurrent use; callers serialize operations per pool.
type State struct {
	Pool      pool.Pool
	Pages     map[int32]*tick.Page
	Positions map[common.Hash]*position.Position
}

func NewState(p pool.Pool) *State {
	return &State{
		Pool:      p,
		Pages:     make(map[int32]*tick.Page),
		Positions: make(map[common.Hash]*position.Position),
	}
}

// Clone returns a deep copy. Every record is fixed width, so copying values is enough.
func (s *State) Clone() *State {
	next := &State{
		Pool:      s.Pool,
		Pages:     make(map[int32]*tick.Page, len(s.Pages)),
		Positions: make(map[common.Hash]*position.Position, len(s.Positions)),
	}
	for start, page := range s.Pages {
		cp := *page
		next.Pages[start] = &cp
	}
	for id, pos := range s.Positions {
		cp := *pos
		next.Positions[id] = &cp
	}
	return next
}

// AddPage loads an existing page into the state.
func (s *State) AddPage(page *tick.Page) error {
	if page.PoolID != s.Pool.ID {
		return fmt.Errorf("page %d: %w", page.StartTickIndex, ErrPoolMismatch)
	}
	if !tick.IsValidStart(page.StartTickIndex, s.Pool.TickSpacing) {
		return fmt.Errorf("page %d: %w", page.StartTickIndex, tick.ErrInvalidStartIndex)
	}
	s.Pages[page.StartTickIndex] = page
	return nil
}

// AddPosition loads an existing position into the state.
func (s *State) AddPosition(pos *position.Position) error {
	if pos.PoolID != s.Pool.ID {
		return fmt.Errorf("position %s: %w", pos.ID.Hex(), ErrPoolMismatch)
	}
	s.Positions[pos.ID] = pos
	return nil
}

func (s *State) position(id common.Hash) (*position.Position, error) {
	pos, ok := s.Positions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPositionNotFound, id.Hex())
	}
	return pos, nil
}

func (s *State) tick(index int32) (*tick.Tick, error) {
	start := tick.StartIndex(index, s.Pool.TickSpacing)
	page, ok := s.Pages[start]
	if !ok {
		return nil, fmt.Errorf("%w: tick %d needs page %d", tick.ErrPageNotLoaded, index, start)
	}
	return page.Tick(index, s.Pool.TickSpacing)
}

func (s *State) bounds(pos *position.Position) (position.Bounds, error) {
	lower, err := s.tick(pos.TickLowerIndex)
	if err != nil {
		return position.Bounds{}, err
	}
	upper, err := s.tick(pos.TickUpperIndex)
	if err != nil {
		return position.Bounds{}, err
	}
	return position.Bounds{Lower: *lower, Upper: *upper}, nil
}

func (s *State) setBounds(pos *position.Position, b position.Bounds) error {
	lower, err := s.tick(pos.TickLowerIndex)
	if err != nil {
		return err
	}
	upper, err := s.tick(pos.TickUpperIndex)
	if err != nil {
		return err
	}
	*lower = b.Lower
	*upper = b.Upper
	return nil
}

// sequence collects up to three consecutive loaded pages in the swap direction,
// starting with the page the search begins in.
func (s *State) sequence(aToB bool) (*tick.Sequence, error) {
	spacing := s.Pool.TickSpacing
	start := tick.SequenceStart(s.Pool.TickCurrentIndex, spacing, aToB)
	step := tick.TicksPerPage(spacing)
	if aToB {
		step = -step
	}

	pages := make([]*tick.Page, 0, tick.MaxSequencePages)
	for i := int32(0); i < tick.MaxSequencePages; i++ {
		page, ok := s.Pages[start+i*step]
		if !ok {
			break
		}
		pages = append(pages, page)
	}
	if len(pages) == 0 {
		return nil, fmt.Errorf("%w: swap starts in page %d", tick.ErrPageNotLoaded, start)
	}
	return tick.NewSequence(pages, spacing, aToB)
}
