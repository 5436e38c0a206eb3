// Package memory keeps the bounded per-session conversation history.
package memory

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

const (
	DefaultShortTerm   = 10
	DefaultConsolidate = 5
	DefaultMaxHistory  = 50

	resultLimit  = 200
	contextItems = 5
	contextChars = 100
)

type Interaction struct {
	Query     string    `json:"query"`
	Result    string    `json:"result"`
	Timestamp time.Time `json:"timestamp"`
}

// Memory holds recent interactions in a short-term list. When it overflows,
// the oldest entries move to a long-term list that keeps the newest
// maxHistory entries.
type Memory struct {
	mu          sync.Mutex
	shortTerm   []Interaction
	longTerm    []Interaction
	summary     string
	maxShort    int
	consolidate int
	maxHistory  int
}

// New returns an empty memory. Non-positive bounds take the defaults.
func New(shortTerm, consolidate, maxHistory int) *Memory {
	if shortTerm <= 0 {
		shortTerm = DefaultShortTerm
	}
	if consolidate <= 0 || consolidate > shortTerm {
		consolidate = min(DefaultConsolidate, shortTerm)
	}
	if maxHistory <= 0 {
		maxHistory = DefaultMaxHistory
	}
	return &Memory{maxShort: shortTerm, consolidate: consolidate, maxHistory: maxHistory}
}

func (m *Memory) Add(query, result string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.shortTerm = append(m.shortTerm, Interaction{
		Query:     query,
		Result:    truncate(result, resultLimit),
		Timestamp: time.Now().UTC(),
	})
	if len(m.shortTerm) <= m.maxShort {
		return
	}
	moved := m.shortTerm[:m.consolidate]
	m.longTerm = append(m.longTerm, moved...)
	m.shortTerm = append([]Interaction(nil), m.shortTerm[m.consolidate:]...)
	if over := len(m.longTerm) - m.maxHistory; over > 0 {
		m.longTerm = append([]Interaction(nil), m.longTerm[over:]...)
	}
}

func (m *Memory) UpdateSummary(s string) {
	m.mu.Lock()
	m.summary = s
	m.mu.Unlock()
}

// Context renders the summary and the last few interactions for a prompt.
// An empty memory renders "".
func (m *Memory) Context() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var parts []string
	if m.summary != "" {
		parts = append(parts, "Previous context: "+m.summary)
	}
	if len(m.shortTerm) > 0 {
		parts = append(parts, "Recent interactions:")
		recent := m.shortTerm
		if len(recent) > contextItems {
			recent = recent[len(recent)-contextItems:]
		}
		for _, it := range recent {
			parts = append(parts, fmt.Sprintf("- User: %s", truncate(it.Query, contextChars)))
			if it.Result != "" {
				parts = append(parts, fmt.Sprintf("  Result: %s", truncate(it.Result, contextChars)))
			}
		}
	}
	return strings.Join(parts, "\n")
}

func (m *Memory) ShortTerm() []Interaction {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Interaction(nil), m.shortTerm...)
}

func (m *Memory) LongTerm() []Interaction {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Interaction(nil), m.longTerm...)
}

// History returns long-term then short-term interactions, oldest first.
func (m *Memory) History() []Interaction {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Interaction, 0, len(m.longTerm)+len(m.shortTerm))
	out = append(out, m.longTerm...)
	return append(out, m.shortTerm...)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
