package storage

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fyrsmithlabs/reflexd/internal/heuristic"
)

// Journal operation kinds, whitelisted for deserialization safety.
const (
	opPut        = "put"
	opDelete     = "delete"
	opConfidence = "confidence"
	opFire       = "fire"
	opOutcome    = "outcome"
)

var validOps = map[string]bool{
	opPut: true, opDelete: true, opConfidence: true, opFire: true, opOutcome: true,
}

// journalEntry is one line of the append-only JSONL journal.
type journalEntry struct {
	Op        string                   `json:"op"`
	Timestamp time.Time                `json:"ts"`
	Heuristic *heuristic.Heuristic     `json:"heuristic,omitempty"`
	Fire      *heuristic.Fire          `json:"fire,omitempty"`
	ID        string                   `json:"id,omitempty"`
	Alpha     float64                  `json:"alpha,omitempty"`
	Beta      float64                  `json:"beta,omitempty"`
	Outcome   heuristic.Outcome        `json:"outcome,omitempty"`
	Feedback  heuristic.FeedbackSource `json:"feedback,omitempty"`
}

// journal is an append-only JSONL mutation log. Replaying the journal at
// open time reconstructs the heuristic and fire sets; compaction rewrites
// the file as one put per live record.
type journal struct {
	mu   sync.Mutex
	path string
	f    *os.File
}

func openJournal(path string) (*journal, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create journal dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	return &journal{path: path, f: f}, nil
}

// append writes one entry and syncs it to disk.
func (j *journal) append(e journalEntry) error {
	if !validOps[e.Op] {
		return fmt.Errorf("%w: unknown journal op %q", ErrInvalidArgument, e.Op)
	}
	e.Timestamp = time.Now()

	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal journal entry: %w", err)
	}
	data = append(data, '\n')

	j.mu.Lock()
	defer j.mu.Unlock()
	if _, err := j.f.Write(data); err != nil {
		return fmt.Errorf("append journal entry: %w", err)
	}
	return j.f.Sync()
}

// replay reads the journal from the start and folds every entry into the
// given maps. Corrupt trailing lines (torn writes) end the replay without
// error; corrupt interior lines are skipped.
func (j *journal) replay(heuristics map[string]*heuristic.Heuristic, fires map[string]*heuristic.Fire) error {
	f, err := os.Open(j.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("open journal for replay: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var e journalEntry
		if err := json.Unmarshal(line, &e); err != nil {
			continue
		}
		if !validOps[e.Op] {
			continue
		}
		switch e.Op {
		case opPut:
			if e.Heuristic != nil {
				heuristics[e.Heuristic.ID] = e.Heuristic
			}
		case opDelete:
			delete(heuristics, e.ID)
		case opConfidence:
			if h, ok := heuristics[e.ID]; ok {
				h.Alpha = e.Alpha
				h.Beta = e.Beta
				h.UpdatedAt = e.Timestamp
			}
		case opFire:
			if e.Fire != nil {
				fires[e.Fire.ID] = e.Fire
				if h, ok := heuristics[e.Fire.HeuristicID]; ok {
					h.RecordFire(e.Fire.FiredAt)
				}
			}
		case opOutcome:
			if fr, ok := fires[e.ID]; ok && fr.Outcome == heuristic.OutcomeUnknown {
				fr.Outcome = e.Outcome
				fr.FeedbackSource = e.Feedback
				if e.Outcome == heuristic.OutcomeSuccess {
					if h, ok := heuristics[fr.HeuristicID]; ok {
						h.SuccessCount++
					}
				}
			}
		}
	}
	return scanner.Err()
}

// compact rewrites the journal as one put/fire entry per live record,
// dropping superseded entries. Called at open after replay.
func (j *journal) compact(heuristics map[string]*heuristic.Heuristic, fires map[string]*heuristic.Fire) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	tmp := j.path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("create compacted journal: %w", err)
	}

	w := bufio.NewWriter(f)
	writeEntry := func(e journalEntry) error {
		data, err := json.Marshal(e)
		if err != nil {
			return err
		}
		data = append(data, '\n')
		_, err = w.Write(data)
		return err
	}

	// Fires must precede heuristic snapshots: replay only folds a fire
	// into an already-seen heuristic, so this order keeps the snapshot's
	// FireCount authoritative instead of re-counting each fire.
	for _, fr := range fires {
		if err := writeEntry(journalEntry{Op: opFire, Timestamp: fr.FiredAt, Fire: fr}); err != nil {
			f.Close()
			return fmt.Errorf("compact journal: %w", err)
		}
	}
	for _, h := range heuristics {
		if err := writeEntry(journalEntry{Op: opPut, Timestamp: h.UpdatedAt, Heuristic: h}); err != nil {
			f.Close()
			return fmt.Errorf("compact journal: %w", err)
		}
	}

	if err := w.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("flush compacted journal: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("sync compacted journal: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close compacted journal: %w", err)
	}

	if err := j.f.Close(); err != nil {
		return fmt.Errorf("close old journal: %w", err)
	}
	if err := os.Rename(tmp, j.path); err != nil {
		return fmt.Errorf("swap compacted journal: %w", err)
	}

	nf, err := os.OpenFile(j.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("reopen journal: %w", err)
	}
	j.f = nf
	return nil
}

func (j *journal) close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.f.Close()
}
