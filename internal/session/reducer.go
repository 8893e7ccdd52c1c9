package session

import (
	"fmt"
	"sort"
)

// EventType names a state machine transition.
type EventType string

const (
	EventStage           EventType = "STAGE"
	EventSelect          EventType = "SELECT"
	EventClearSelection  EventType = "CLEAR_SELECTION"
	EventToggleMark      EventType = "TOGGLE_MARK"
	EventEliminate       EventType = "ELIMINATE"
	EventNext            EventType = "NEXT"
	EventSaveAndNext     EventType = "SAVE_AND_NEXT"
	EventJumpTo          EventType = "JUMP_TO"
	EventSubmitRequested EventType = "SUBMIT_REQUESTED"
	EventCancelSubmit    EventType = "CANCEL_SUBMIT"
	EventTick            EventType = "TICK"
)

// Event is a single input to Reduce. Option is used by STAGE, SELECT and
// ELIMINATE; Index by JUMP_TO.
type Event struct {
	Type   EventType `json:"type"`
	Option int       `json:"option,omitempty"`
	Index  int       `json:"index,omitempty"`
}

func Stage(option int) Event { return Event{Type: EventStage, Option: option} }
func Select(option int) Event { return Event{Type: EventSelect, Option: option} }
func ClearSelection() Event { return Event{Type: EventClearSelection} }
func ToggleMark() Event { return Event{Type: EventToggleMark} }
func Eliminate(option int) Event { return Event{Type: EventEliminate, Option: option} }
func Next() Event { return Event{Type: EventNext} }
func SaveAndNext() Event { return Event{Type: EventSaveAndNext} }
func JumpTo(index int) Event { return Event{Type: EventJumpTo, Index: index} }
func SubmitRequested() Event { return Event{Type: EventSubmitRequested} }
func CancelSubmit() Event { return Event{Type: EventCancelSubmit} }
func Tick() Event { return Event{Type: EventTick} }

// Reduce applies ev to s and returns the next state. s is never modified.
// On error the returned state is s unchanged.
func Reduce(s State, ev Event) (State, error) {
	if ev.Type == EventTick {
		return reduceTick(s), nil
	}

	if s.Phase != PhaseActive {
		return s, fmt.Errorf("%w: %s during %s", ErrInvalidPhase, ev.Type, s.Phase)
	}
	if len(s.Questions) == 0 {
		return s, fmt.Errorf("%w: no questions loaded", ErrInvalidPhase)
	}
	if ev.Type == EventCancelSubmit {
		if !s.Confirming {
			return s, ErrNotConfirming
		}
		next := s.Clone()
		next.Confirming = false
		return next, nil
	}
	if s.Confirming {
		return s, ErrConfirmationPending
	}

	next := s.Clone()
	cur := &next.Statuses[next.CurrentIndex]
	optionCount := len(next.Questions[next.CurrentIndex].Options)

	switch ev.Type {
	case EventStage:
		if ev.Option < 0 || ev.Option >= optionCount {
			return s, ErrOptionOutOfRange
		}
		next.Staged = cloneInt(&ev.Option)

	case EventSelect:
		if ev.Option < 0 || ev.Option >= optionCount {
			return s, ErrOptionOutOfRange
		}
		next.Staged = cloneInt(&ev.Option)
		commit(&next)

	case EventClearSelection:
		next.Staged = nil

	case EventToggleMark:
		cur.Marked = !cur.Marked
		cur.Visited = true

	case EventEliminate:
		if !next.Caps.OptionElimination {
			return s, ErrEliminationDisabled
		}
		if ev.Option < 0 || ev.Option >= optionCount {
			return s, ErrOptionOutOfRange
		}
		cur.EliminatedOptions = toggleOption(cur.EliminatedOptions, ev.Option)

	case EventNext:
		// Skip: whatever is staged but uncommitted is dropped.
		cur.Visited = true
		moveTo(&next, next.CurrentIndex+1)

	case EventSaveAndNext:
		commit(&next)
		moveTo(&next, next.CurrentIndex+1)

	case EventJumpTo:
		if ev.Index < 0 || ev.Index >= len(next.Questions) {
			return s, ErrIndexOutOfRange
		}
		if next.Staged != nil {
			commit(&next)
		}
		moveTo(&next, ev.Index)
		next.Statuses[next.CurrentIndex].Visited = true

	case EventSubmitRequested:
		if next.Staged != nil {
			commit(&next)
		}
		next.Confirming = true

	default:
		return s, fmt.Errorf("unknown event %q", ev.Type)
	}

	return next, nil
}

func reduceTick(s State) State {
	if !s.Phase.counting() || s.RemainingSeconds <= 0 {
		return s
	}
	next := s.Clone()
	next.RemainingSeconds--
	if next.Caps.PerQuestionTiming && next.Phase == PhaseActive && len(next.Statuses) > 0 {
		next.Statuses[next.CurrentIndex].TimeSpentSeconds++
	}
	if next.RemainingSeconds == 0 && next.Phase == PhaseActive {
		next.Phase = PhaseExpiredAutoSubmitting
		next.Confirming = false
	}
	return next
}

// commit writes the staged selection into the current status. A nil stage
// clears any earlier answer.
func commit(s *State) {
	st := &s.Statuses[s.CurrentIndex]
	st.SelectedOption = cloneInt(s.Staged)
	st.Answered = s.Staged != nil
	st.Visited = true
}

// moveTo changes the current question when target is in range and re-stages
// from the target's committed answer. Out of range (past the last question)
// stays put but still drops an uncommitted stage.
func moveTo(s *State, target int) {
	if target >= 0 && target < len(s.Questions) {
		s.CurrentIndex = target
	}
	s.Staged = cloneInt(s.Statuses[s.CurrentIndex].SelectedOption)
}

func toggleOption(set []int, option int) []int {
	for i, v := range set {
		if v == option {
			out := append(set[:i:i], set[i+1:]...)
			if len(out) == 0 {
				return nil
			}
			return out
		}
	}
	set = append(set, option)
	sort.Ints(set)
	return set
}
