package versions

import (
	"sync"

	"github.com/rs/zerolog/log"
)

// Direction selects which neighboring version Navigate moves to.
type Direction string

const (
	Previous Direction = "previous"
	Next     Direction = "next"
)

// slotKey identifies one assistant slot within one conversation. Slots count
// only assistant-authored positions, in arrival order.
type slotKey struct {
	conversationID string
	slot           int
}

type versionSet struct {
	versions []string
	// current is a 1-based index into versions, always within
	// [1, len(versions)].
	current int
}

// Store is an in-memory cache of alternative response texts per assistant
// slot. Versions are append-only; regeneration appends, never overwrites.
// Entries are keyed by conversation id and become unreachable (not purged)
// when a conversation is abandoned.
type Store struct {
	mu   sync.Mutex
	sets map[slotKey]*versionSet
}

func NewStore() *Store {
	return &Store{
		sets: map[slotKey]*versionSet{},
	}
}

// RecordFirstVersion creates a version set with a single entry for the given
// slot. It is idempotent: if the slot already has versions, nothing changes.
func (s *Store) RecordFirstVersion(conversationID string, slot int, text string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := slotKey{conversationID, slot}
	if _, ok := s.sets[key]; ok {
		log.Debug().
			Str("conversation_id", conversationID).
			Int("slot", slot).
			Msg("version set already exists, keeping first version")
		return
	}
	s.sets[key] = &versionSet{
		versions: []string{text},
		current:  1,
	}
}

// AppendVersion appends text as a new version for the slot and makes it
// current. If the slot has no versions yet, the set is created.
func (s *Store) AppendVersion(conversationID string, slot int, text string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := slotKey{conversationID, slot}
	set, ok := s.sets[key]
	if !ok {
		set = &versionSet{}
		s.sets[key] = set
	}
	set.versions = append(set.versions, text)
	set.current = len(set.versions)
}

// Navigate moves the current index one step in the given direction, clamped
// to the version list bounds. It returns the text at the new index, or
// ("", false) when the pointer is already at the requested bound or the slot
// is unknown. Hitting a bound is a no-op, not an error.
func (s *Store) Navigate(conversationID string, slot int, direction Direction) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	set, ok := s.sets[slotKey{conversationID, slot}]
	if !ok {
		return "", false
	}

	switch direction {
	case Previous:
		if set.current <= 1 {
			return "", false
		}
		set.current--
	case Next:
		if set.current >= len(set.versions) {
			return "", false
		}
		set.current++
	default:
		return "", false
	}

	return set.versions[set.current-1], true
}

// LoadExisting returns a copy of the stored version list and the current
// index for the slot, or ok=false if the slot has no versions. Used when
// re-displaying a conversation that already has cached regenerations.
func (s *Store) LoadExisting(conversationID string, slot int) ([]string, int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	set, ok := s.sets[slotKey{conversationID, slot}]
	if !ok {
		return nil, 0, false
	}
	out := make([]string, len(set.versions))
	copy(out, set.versions)
	return out, set.current, true
}

// Current returns the currently displayed version text for the slot.
func (s *Store) Current(conversationID string, slot int) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	set, ok := s.sets[slotKey{conversationID, slot}]
	if !ok {
		return "", false
	}
	return set.versions[set.current-1], true
}
