package contactstore

import (
	"sort"
	"strings"
	"sync"
)

// Selection is the set of phone numbers a user has checked in the contact picker.
type Selection struct {
	mu      sync.Mutex
	numbers map[string]struct{}
}

// NewSelection returns an empty selection.
func NewSelection() *Selection {
	return &Selection{numbers: make(map[string]struct{})}
}

// Set checks or unchecks a number. Calling it twice with the same arguments has the same
// effect as calling it once. Blank numbers are ignored.
func (s *Selection) Set(phone string, checked bool) {
	phone = strings.TrimSpace(phone)
	if phone == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if checked {
		s.numbers[phone] = struct{}{}
	} else {
		delete(s.numbers, phone)
	}
}

// Toggle flips the checked state of a number and returns the new state.
func (s *Selection) Toggle(phone string) bool {
	phone = strings.TrimSpace(phone)
	if phone == "" {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.numbers[phone]; ok {
		delete(s.numbers, phone)
		return false
	}
	s.numbers[phone] = struct{}{}
	return true
}

// Contains reports whether a number is checked.
func (s *Selection) Contains(phone string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.numbers[strings.TrimSpace(phone)]
	return ok
}

// Len returns the number of checked numbers.
func (s *Selection) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.numbers)
}

// Numbers returns the checked numbers in lexical order.
func (s *Selection) Numbers() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	numbers := make([]string, 0, len(s.numbers))
	for n := range s.numbers {
		numbers = append(numbers, n)
	}
	sort.Strings(numbers)
	return numbers
}

// Clear unchecks everything.
func (s *Selection) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.numbers = make(map[string]struct{})
}
