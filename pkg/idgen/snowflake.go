package idgen

import (
	"fmt"
	"sync"
	"time"
)

// Snowflake-style generator: 41-bit millisecond timestamp, 10-bit worker id,
// 12-bit per-millisecond sequence. IDs are unique and trend upward, which
// keeps the derived refs index-friendly.

const (
	epoch          = int64(1704067200000) // 2024-01-01 00:00:00 UTC
	workerIDBits   = 10
	sequenceBits   = 12
	maxWorkerID    = -1 ^ (-1 << workerIDBits)
	maxSequence    = -1 ^ (-1 << sequenceBits)
	workerIDShift  = sequenceBits
	timestampShift = sequenceBits + workerIDBits
)

type Snowflake struct {
	mu        sync.Mutex
	timestamp int64
	workerID  int64
	sequence  int64
}

func New(workerID int64) (*Snowflake, error) {
	if workerID < 0 || workerID > maxWorkerID {
		return nil, fmt.Errorf("workerID must be between 0 and %d", maxWorkerID)
	}
	return &Snowflake{workerID: workerID}, nil
}

func (s *Snowflake) Generate() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UnixMilli()

	if now == s.timestamp {
		s.sequence = (s.sequence + 1) & maxSequence
		if s.sequence == 0 {
			for now <= s.timestamp {
				now = time.Now().UnixMilli()
			}
		}
	} else {
		s.sequence = 0
	}

	s.timestamp = now

	return ((now - epoch) << timestampShift) |
		(s.workerID << workerIDShift) |
		s.sequence
}

// ProviderRef is the client-generated correlation token sent upstream with a
// dispatch. URL-safe, 25 chars, well under the 32-char cap.
// Example: TRX20240115143052_12345678 without the underscore.
func (s *Snowflake) ProviderRef() string {
	id := s.Generate()
	timestamp := time.Now().Format("20060102150405")
	return fmt.Sprintf("TRX%s%08d", timestamp, id%100000000)
}

// TransactionNo is the unique serial for a wallet ledger row.
func (s *Snowflake) TransactionNo() string {
	id := s.Generate()
	timestamp := time.Now().Format("20060102150405")
	return fmt.Sprintf("TXN%s%08d", timestamp, id%100000000)
}
