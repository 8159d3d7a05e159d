package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/BaSui01/marginflow/types"
)

// ErrCheckpointNotFound is returned by Load when a thread has no checkpoint.
var ErrCheckpointNotFound = errors.New("checkpoint not found")

// Checkpoint is the persisted progress of one thread.
type Checkpoint struct {
	ThreadID string          `json:"thread_id"`
	Messages []types.Message `json:"messages"`
	Cursor   NodeID          `json:"cursor"`
	// Version counts committed supersteps. It is the compare-and-set token of
	// the store: a save is accepted only for stored version + 1.
	Version   int       `json:"version"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Clone returns a deep copy of the checkpoint.
func (cp *Checkpoint) Clone() *Checkpoint {
	if cp == nil {
		return nil
	}
	out := *cp
	out.Messages = types.CloneMessages(cp.Messages)
	return &out
}

// Checkpointer is a durable store of thread checkpoints.
//
// Save must be atomic and must reject any write whose version is not exactly
// one past the stored version with CHECKPOINT_CONFLICT. Load returns
// ErrCheckpointNotFound for unknown threads and CHECKPOINT_CORRUPT for data
// that cannot be decoded.
type Checkpointer interface {
	Save(ctx context.Context, cp *Checkpoint) error
	Load(ctx context.Context, threadID string) (*Checkpoint, error)
	Delete(ctx context.Context, threadID string) error
}

// MarshalCheckpoint encodes cp into the JSON document stored by every backend.
func MarshalCheckpoint(cp *Checkpoint) ([]byte, error) {
	if cp == nil {
		return nil, types.NewError(types.ErrInvalidRequest, "nil checkpoint")
	}
	if cp.ThreadID == "" {
		return nil, types.NewError(types.ErrInvalidRequest, "checkpoint without thread id")
	}
	if cp.Cursor == "" {
		return nil, types.Errorf(types.ErrInvalidRequest, "checkpoint for %s without cursor", cp.ThreadID)
	}
	if cp.Version < 1 {
		return nil, types.Errorf(types.ErrInvalidRequest, "checkpoint for %s has version %d", cp.ThreadID, cp.Version)
	}
	return json.Marshal(cp)
}

// UnmarshalCheckpoint decodes a stored document. Any structural problem is
// reported as CHECKPOINT_CORRUPT.
func UnmarshalCheckpoint(threadID string, data []byte) (*Checkpoint, error) {
	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, types.Errorf(types.ErrCheckpointCorrupt, "decode checkpoint for %s", threadID).WithCause(err)
	}
	switch {
	case cp.ThreadID != threadID:
		return nil, types.Errorf(types.ErrCheckpointCorrupt, "checkpoint for %s carries thread id %q", threadID, cp.ThreadID)
	case cp.Cursor == "":
		return nil, types.Errorf(types.ErrCheckpointCorrupt, "checkpoint for %s has no cursor", threadID)
	case cp.Version < 1:
		return nil, types.Errorf(types.ErrCheckpointCorrupt, "checkpoint for %s has version %d", threadID, cp.Version)
	}
	return &cp, nil
}

// CheckVersion validates a compare-and-set write of next over stored, where
// stored is 0 when the thread has no checkpoint yet.
func CheckVersion(threadID string, stored, next int) error {
	if next != stored+1 {
		return types.Errorf(types.ErrCheckpointConflict,
			"thread %s: write of version %d over stored version %d", threadID, next, stored)
	}
	return nil
}

// InMemoryCheckpointer keeps encoded checkpoints in a map. Documents are
// stored encoded so readers never share memory with writers.
type InMemoryCheckpointer struct {
	mu    sync.Mutex
	docs  map[string][]byte
	vers  map[string]int
	saves int
}

// NewInMemoryCheckpointer 创建内存 Checkpoint 存储
func NewInMemoryCheckpointer() *InMemoryCheckpointer {
	return &InMemoryCheckpointer{
		docs: make(map[string][]byte),
		vers: make(map[string]int),
	}
}

func (m *InMemoryCheckpointer) Save(ctx context.Context, cp *Checkpoint) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := MarshalCheckpoint(cp)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := CheckVersion(cp.ThreadID, m.vers[cp.ThreadID], cp.Version); err != nil {
		return err
	}
	m.docs[cp.ThreadID] = data
	m.vers[cp.ThreadID] = cp.Version
	m.saves++
	return nil
}

func (m *InMemoryCheckpointer) Load(ctx context.Context, threadID string) (*Checkpoint, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	data, ok := m.docs[threadID]
	m.mu.Unlock()
	if !ok {
		return nil, ErrCheckpointNotFound
	}
	return UnmarshalCheckpoint(threadID, data)
}

func (m *InMemoryCheckpointer) Delete(ctx context.Context, threadID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.docs, threadID)
	delete(m.vers, threadID)
	return nil
}

// Saves returns the number of accepted writes.
func (m *InMemoryCheckpointer) Saves() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}

// PutRaw stores a raw document for a thread, bypassing encoding. The stored
// version is taken as given.
func (m *InMemoryCheckpointer) PutRaw(threadID string, version int, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.docs[threadID] = append([]byte(nil), data...)
	m.vers[threadID] = version
}
