package backend

import (
	"fmt"
	"sort"
	"time"
)

// Accumulator reassembles one user's chunks in sequence order
type Accumulator struct {
	userID string

	// Audio data storage
	data []byte

	// Sequence tracking
	lastSeq     uint32            // Last appended sequence number
	expectedSeq uint32            // Next expected sequence number
	pending     map[uint32][]byte // Out-of-order chunks

	// Timing and metadata
	startTime   time.Time
	lastUpdate  time.Time
	totalChunks uint32
	duplicates  uint32
}

// AccumulatorStats represents accumulator statistics for monitoring
type AccumulatorStats struct {
	UserID      string    `json:"user_id"`
	Bytes       int       `json:"bytes"`
	TotalChunks uint32    `json:"total_chunks"`
	Pending     int       `json:"pending_chunks"`
	Duplicates  uint32    `json:"duplicates"`
	LastSeq     uint32    `json:"last_sequence"`
	StartTime   time.Time `json:"start_time"`
}

// NewAccumulator creates an accumulator expecting chunk 1 first
func NewAccumulator(userID string) *Accumulator {
	now := time.Now()
	return &Accumulator{
		userID:      userID,
		expectedSeq: 1,
		pending:     make(map[uint32][]byte),
		startTime:   now,
		lastUpdate:  now,
	}
}

// Add stores a chunk, appending it and any buffered successors when it is
// the next expected sequence number.
func (a *Accumulator) Add(seq uint32, chunk []byte) error {
	a.lastUpdate = time.Now()

	switch {
	case seq == a.expectedSeq:
		// Perfect order - add directly
		a.data = append(a.data, chunk...)
		a.lastSeq = seq
		a.expectedSeq = seq + 1
		a.totalChunks++

		// Check if we can process any buffered out-of-order chunks
		a.processPending()

	case seq > a.expectedSeq:
		if _, exists := a.pending[seq]; exists {
			a.duplicates++
			return fmt.Errorf("ignoring duplicate chunk: seq=%d", seq)
		}
		// Future chunk - buffer it
		a.pending[seq] = append([]byte(nil), chunk...)
		a.totalChunks++

	default:
		// Old chunk or duplicate - ignore
		a.duplicates++
		return fmt.Errorf("ignoring old/duplicate chunk: seq=%d, lastSeq=%d", seq, a.lastSeq)
	}

	return nil
}

// processPending appends consecutive buffered chunks
func (a *Accumulator) processPending() {
	for {
		chunk, exists := a.pending[a.expectedSeq]
		if !exists {
			break
		}

		a.data = append(a.data, chunk...)
		delete(a.pending, a.expectedSeq)

		a.lastSeq = a.expectedSeq
		a.expectedSeq++
	}
}

// Finalize returns the recording. Chunks still waiting behind a gap are
// appended in sequence order; the gaps themselves are reported as missing.
func (a *Accumulator) Finalize() (data []byte, missing []uint32) {
	seqs := make([]uint32, 0, len(a.pending))
	for seq := range a.pending {
		seqs = append(seqs, seq)
	}
	sort.Slice(seqs, func(i, j int) bool { return seqs[i] < seqs[j] })

	for _, seq := range seqs {
		for gap := a.expectedSeq; gap < seq; gap++ {
			missing = append(missing, gap)
		}
		a.data = append(a.data, a.pending[seq]...)
		delete(a.pending, seq)
		a.lastSeq = seq
		a.expectedSeq = seq + 1
	}

	return a.data, missing
}

// GetStats returns accumulator statistics
func (a *Accumulator) GetStats() AccumulatorStats {
	return AccumulatorStats{
		UserID:      a.userID,
		Bytes:       len(a.data),
		TotalChunks: a.totalChunks,
		Pending:     len(a.pending),
		Duplicates:  a.duplicates,
		LastSeq:     a.lastSeq,
		StartTime:   a.startTime,
	}
}

// LastUpdate returns the time of the last chunk
func (a *Accumulator) LastUpdate() time.Time {
	return a.lastUpdate
}
