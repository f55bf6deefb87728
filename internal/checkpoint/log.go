package checkpoint

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"

	"chisel/internal/errors"
	shared "chisel/shared/types"
)

const (
	logEntryPrefix = "ckpt:"
	logSeqKey      = "ckpt_seq"
)

// Log is the append-only checkpoint history, persisted in badger under
// monotonically increasing sequence keys so iteration order is append
// order.
type Log struct {
	db *badger.DB
}

func NewLog(db *badger.DB) *Log {
	return &Log{db: db}
}

func seqKey(seq uint64) []byte {
	key := make([]byte, len(logEntryPrefix)+8)
	copy(key, logEntryPrefix)
	binary.BigEndian.PutUint64(key[len(logEntryPrefix):], seq)
	return key
}

// Append adds a checkpoint to the end of the history. Entries are
// never rewritten or deleted.
func (l *Log) Append(cp *shared.Checkpoint) error {
	if cp.ID == "" {
		return fmt.Errorf("checkpoint ID cannot be empty")
	}

	data, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("marshaling checkpoint: %w", err)
	}

	return l.db.Update(func(txn *badger.Txn) error {
		var seq uint64
		item, err := txn.Get([]byte(logSeqKey))
		if err == nil {
			err = item.Value(func(val []byte) error {
				seq = binary.BigEndian.Uint64(val)
				return nil
			})
			if err != nil {
				return err
			}
		} else if err != badger.ErrKeyNotFound {
			return err
		}

		seq++
		seqBytes := make([]byte, 8)
		binary.BigEndian.PutUint64(seqBytes, seq)
		if err := txn.Set([]byte(logSeqKey), seqBytes); err != nil {
			return err
		}
		return txn.Set(seqKey(seq), data)
	})
}

// List returns every checkpoint in append order.
func (l *Log) List() ([]shared.Checkpoint, error) {
	var checkpoints []shared.Checkpoint

	err := l.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(logEntryPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				var cp shared.Checkpoint
				if err := json.Unmarshal(val, &cp); err != nil {
					return err
				}
				checkpoints = append(checkpoints, cp)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("listing checkpoints: %w", err)
	}

	return checkpoints, nil
}

// Latest returns the most recent checkpoint, or nil when history is
// empty.
func (l *Log) Latest() (*shared.Checkpoint, error) {
	checkpoints, err := l.List()
	if err != nil {
		return nil, err
	}
	if len(checkpoints) == 0 {
		return nil, nil
	}
	return &checkpoints[len(checkpoints)-1], nil
}

// FindByID looks a checkpoint up by its id.
func (l *Log) FindByID(id string) (*shared.Checkpoint, error) {
	checkpoints, err := l.List()
	if err != nil {
		return nil, err
	}
	for i := range checkpoints {
		if checkpoints[i].ID == id {
			return &checkpoints[i], nil
		}
	}
	return nil, errors.CheckpointNotFound(fmt.Sprintf("no checkpoint with id %s", id))
}

// FindAtOrBefore returns the newest checkpoint whose timestamp is at
// or before t.
func (l *Log) FindAtOrBefore(t time.Time) (*shared.Checkpoint, error) {
	checkpoints, err := l.List()
	if err != nil {
		return nil, err
	}

	var match *shared.Checkpoint
	for i := range checkpoints {
		if !checkpoints[i].Timestamp.After(t) {
			match = &checkpoints[i]
		}
	}
	if match == nil {
		return nil, errors.CheckpointNotFound(
			fmt.Sprintf("no checkpoint at or before %s", t.Format(time.RFC3339)))
	}
	return match, nil
}
