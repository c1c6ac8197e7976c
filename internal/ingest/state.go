package ingest

import (
	"sync"
	"time"

	"github.com/lecpa/docsync/pkg/types"
)

// StaleAfter is how long without a heartbeat before the agent is stale
const StaleAfter = 5 * time.Minute

// AgentState is the process-wide record of agent liveness. Both timestamps
// are unknown until the first heartbeat or file event after startup.
type AgentState struct {
	mu            sync.RWMutex
	lastHeartbeat *time.Time
	lastFileEvent *time.Time
}

// NewAgentState returns an empty state
func NewAgentState() *AgentState {
	return &AgentState{}
}

// RecordHeartbeat stores the time of the latest heartbeat
func (s *AgentState) RecordHeartbeat(at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastHeartbeat = &at
}

// RecordFileEvent stores the time of the latest file notification
func (s *AgentState) RecordFileEvent(at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastFileEvent = &at
}

// LastHeartbeat returns the latest heartbeat time, or nil
func (s *AgentState) LastHeartbeat() *time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return copyTime(s.lastHeartbeat)
}

// LastFileEvent returns the latest file event time, or nil
func (s *AgentState) LastFileEvent() *time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return copyTime(s.lastFileEvent)
}

// Health classifies the agent at now
func (s *AgentState) Health(now time.Time) string {
	last := s.LastHeartbeat()
	switch {
	case last == nil:
		return types.AgentDisconnected
	case now.Sub(*last) > StaleAfter:
		return types.AgentStale
	default:
		return types.AgentHealthy
	}
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}
