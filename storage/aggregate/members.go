package aggregate

import (
	"github.com/xraph/stockpile/article"
	"github.com/xraph/stockpile/storage"
	"github.com/xraph/stockpile/types"
)

// member is the aggregate's replica of one member store, rebuilt from the
// member's notifications.
type member struct {
	store    storage.Store
	sub      storage.Subscription
	capacity types.Fraction
	held     map[article.Article]types.Fraction
}

func newMember(s storage.Store) *member {
	return &member{
		store:    s,
		capacity: types.Zero,
		held:     make(map[article.Article]types.Fraction),
	}
}

func (m *member) holds(a article.Article) bool {
	return m.held[a].IsPositive()
}

// memberSet is an insertion-ordered set of members.
type memberSet struct {
	list []*member
	pos  map[*member]int
}

func newMemberSet() *memberSet {
	return &memberSet{pos: make(map[*member]int)}
}

func (s *memberSet) add(m *member) {
	if _, ok := s.pos[m]; ok {
		return
	}
	s.pos[m] = len(s.list)
	s.list = append(s.list, m)
}

func (s *memberSet) remove(m *member) {
	i, ok := s.pos[m]
	if !ok {
		return
	}
	copy(s.list[i:], s.list[i+1:])
	s.list[len(s.list)-1] = nil
	s.list = s.list[:len(s.list)-1]
	delete(s.pos, m)
	for j := i; j < len(s.list); j++ {
		s.pos[s.list[j]] = j
	}
}

func (s *memberSet) contains(m *member) bool {
	_, ok := s.pos[m]
	return ok
}

func (s *memberSet) len() int { return len(s.list) }

func (s *memberSet) snapshot() []*member {
	return append([]*member(nil), s.list...)
}
