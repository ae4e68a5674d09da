package cache

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/fxamacker/cbor/v2"

	"github.com/omalloc/reqqueue/contrib/log"
)

// journal is the write-behind durability log described in SPEC_FULL.md: a
// snapshot of every key currently staged in the write-behind memory map,
// so a process crash between Put(instant=false) and its deferred flush
// doesn't silently lose the entry. It is rewritten wholesale on every
// mutation — the write-behind map is small by construction (bounded by
// how many puts arrive within one write-behind delay window) so this is
// cheaper than incremental append/compaction bookkeeping.
type journal struct {
	mu   sync.Mutex
	path string
	log  *log.Helper
}

type journalRecord struct {
	Key   string
	Entry *Entry
}

func newJournal(root string) *journal {
	return &journal{path: filepath.Join(root, ".writebehind.journal"), log: log.NewHelper(log.GetLogger())}
}

// Sync rewrites the journal to exactly the given pending snapshot.
func (j *journal) Sync(pending map[string]*Entry) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if len(pending) == 0 {
		_ = os.Remove(j.path)
		return
	}

	records := make([]journalRecord, 0, len(pending))
	for k, e := range pending {
		records = append(records, journalRecord{Key: k, Entry: e})
	}

	buf, err := cbor.Marshal(records)
	if err != nil {
		j.log.Warnf("journal marshal failed: %v", err)
		return
	}

	tmp := j.path + ".tmp"
	if err := os.WriteFile(tmp, buf, 0o644); err != nil {
		j.log.Warnf("journal write failed: %v", err)
		return
	}
	if err := os.Rename(tmp, j.path); err != nil {
		j.log.Warnf("journal rename failed: %v", err)
	}
}

// Load reads back whatever pending snapshot survived a crash, if any.
func (j *journal) Load() []journalRecord {
	buf, err := os.ReadFile(j.path)
	if err != nil {
		return nil
	}
	var records []journalRecord
	if err := cbor.Unmarshal(buf, &records); err != nil {
		j.log.Warnf("journal corrupt, discarding: %v", err)
		_ = os.Remove(j.path)
		return nil
	}
	return records
}
