package candle

import "sort"

// Series is a bounded, timestamp-ordered, duplicate-free run of candles.
// It is not safe for concurrent use; owners guard it themselves.
type Series struct {
	cap   int
	items []Candle
	index map[int64]struct{}
}

func NewSeries(cap int) *Series {
	if cap <= 0 {
		cap = DefaultCap
	}
	return &Series{cap: cap, index: make(map[int64]struct{})}
}

func (s *Series) Cap() int { return s.cap }
func (s *Series) Len() int { return len(s.items) }

// Candles returns a copy of the series in ascending order.
func (s *Series) Candles() []Candle {
	out := make([]Candle, len(s.items))
	copy(out, s.items)
	return out
}

func (s *Series) Last() (Candle, bool) {
	if len(s.items) == 0 {
		return Candle{}, false
	}
	return s.items[len(s.items)-1], true
}

// Replace drops the current contents and loads batch.
func (s *Series) Replace(batch []Candle) {
	s.items = Normalize(batch, s.cap)
	s.reindex()
}

// Merge appends every candle whose timestamp is not yet present, then
// re-sorts and evicts the oldest past cap. A timestamp already held keeps
// its first value. Returns the number of candles added.
func (s *Series) Merge(batch []Candle) int {
	added := 0
	for _, c := range batch {
		if _, ok := s.index[c.X]; ok {
			continue
		}
		s.index[c.X] = struct{}{}
		s.items = append(s.items, c)
		added++
	}
	if added == 0 {
		return 0
	}
	sort.SliceStable(s.items, func(i, j int) bool { return s.items[i].X < s.items[j].X })
	if len(s.items) > s.cap {
		for _, old := range s.items[:len(s.items)-s.cap] {
			delete(s.index, old.X)
		}
		s.items = append([]Candle(nil), s.items[len(s.items)-s.cap:]...)
	}
	return added
}

func (s *Series) reindex() {
	s.index = make(map[int64]struct{}, len(s.items))
	for _, c := range s.items {
		s.index[c.X] = struct{}{}
	}
}
