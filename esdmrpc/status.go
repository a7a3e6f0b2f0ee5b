package esdmrpc

import (
	"fmt"
	"sync"

	"github.com/hashicorp/go-hclog"
	"go.uber.org/atomic"
	"golang.org/x/sys/unix"
)

// ShmName and ShmKeyBase match §6's shared memory identity. The SysV
// segment is identified by key alone: test mode uses ShmKeyBase+1 (see
// NewStatusPublisher), and ShmName is not used to open it.
const (
	ShmName    = "/esdm"
	ShmKeyBase = 1122334455
)

// StatusRecord mirrors the §4.H SHM record layout. Info is a
// human-readable status string truncated to InfoLen bytes.
type StatusRecord struct {
	Version        uint32
	Info           [1024]byte
	InfoLen        uint32
	UnprivThreads  uint32
	Operational    bool
	NeedEntropy    bool
	// Generation is the (expansion) monotonically increasing counter a
	// polling client uses to detect a missed notification between reads.
	Generation uint64
}

const statusRecordVersion = 1

// StatusPublisher is the notification boundary of §4.H: every state
// advance calls Publish, which updates the shared record and wakes any
// waiter blocked in Wait. Two implementations are provided: a real SysV
// shared-memory-backed one for out-of-process visibility, and a
// process-local one used when SysV IPC is unavailable.
type StatusPublisher interface {
	Publish(rec StatusRecord)
	Wait(lastSeenGeneration uint64) (StatusRecord, uint64)
	Close() error
}

// localPublisher is the in-process fallback: an in-memory record guarded
// by a broadcast condition variable. It is also where the "named
// counting semaphore" notification half of §4.H lives for both
// publisher implementations, since golang.org/x/sys/unix exposes no
// SysV semaphore primitive (see DESIGN.md).
type localPublisher struct {
	mu   sync.Mutex
	cond *sync.Cond
	rec  StatusRecord
}

func newLocalPublisher() *localPublisher {
	p := &localPublisher{}
	p.cond = sync.NewCond(&p.mu)
	p.rec.Version = statusRecordVersion
	return p
}

func (p *localPublisher) Publish(rec StatusRecord) {
	p.mu.Lock()
	rec.Generation = p.rec.Generation + 1
	p.rec = rec
	p.cond.Broadcast()
	p.mu.Unlock()
}

func (p *localPublisher) Wait(lastSeen uint64) (StatusRecord, uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for p.rec.Generation == lastSeen {
		p.cond.Wait()
	}
	return p.rec, p.rec.Generation
}

func (p *localPublisher) Close() error { return nil }

// shmPublisher additionally mirrors every published record into a SysV
// shared memory segment so an out-of-process device-frontend can observe
// it with its own polling loop, world-readable per §4.H. In-process
// waiters still use the broadcast condition variable of the embedded
// localPublisher; there is no kernel semaphore to block on (DESIGN.md).
type shmPublisher struct {
	*localPublisher

	logger hclog.Logger
	id     int
	mem    []byte
	closed atomic.Bool
}

// newSHMPublisher allocates (or attaches to) the SysV segment named by
// key. On any allocation failure it logs and returns a pure local
// publisher instead of failing daemon startup outright, matching the
// "degrade, don't crash the core service over an optional surface"
// posture taken for other OS-collaborator boundaries (§9).
func newSHMPublisher(key int, logger hclog.Logger) StatusPublisher {
	local := newLocalPublisher()
	size := recordSize()

	id, err := unix.SysvShmGet(key, size, unix.IPC_CREAT|0o644)
	if err != nil {
		logger.Warn("sysv shm unavailable, falling back to in-process status publisher", "error", err)
		return local
	}
	mem, err := unix.SysvShmAttach(id, 0, 0)
	if err != nil {
		logger.Warn("sysv shm attach failed, falling back to in-process status publisher", "error", err)
		return local
	}

	return &shmPublisher{localPublisher: local, logger: logger, id: id, mem: mem}
}

func recordSize() int {
	// 4 (version) + 1024 (info) + 4 (infolen) + 4 (unpriv_threads) +
	// 1 (operational) + 1 (need_entropy) + 8 (generation).
	return 4 + 1024 + 4 + 4 + 1 + 1 + 8
}

func (p *shmPublisher) Publish(rec StatusRecord) {
	p.localPublisher.Publish(rec)
	if p.closed.Load() {
		return
	}
	encodeStatusRecord(p.mem, p.localPublisher.rec)
}

func (p *shmPublisher) Close() error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}
	if err := unix.SysvShmDetach(p.mem); err != nil {
		return fmt.Errorf("detach status shm: %w", err)
	}
	if _, err := unix.SysvShmCtl(p.id, unix.IPC_RMID, nil); err != nil {
		return fmt.Errorf("remove status shm: %w", err)
	}
	return nil
}

func encodeStatusRecord(mem []byte, rec StatusRecord) {
	if len(mem) < recordSize() {
		return
	}
	putU32 := func(off int, v uint32) {
		mem[off], mem[off+1], mem[off+2], mem[off+3] = byte(v), byte(v>>8), byte(v>>16), byte(v>>24)
	}
	putU32(0, rec.Version)
	copy(mem[4:4+1024], rec.Info[:])
	putU32(1028, rec.InfoLen)
	putU32(1032, rec.UnprivThreads)
	if rec.Operational {
		mem[1036] = 1
	} else {
		mem[1036] = 0
	}
	if rec.NeedEntropy {
		mem[1037] = 1
	} else {
		mem[1037] = 0
	}
	for i := 0; i < 8; i++ {
		mem[1038+i] = byte(rec.Generation >> (8 * i))
	}
}

// NewStatusPublisher selects the SysV-backed publisher for a given
// daemon instance (testMode selects the "-testmode" key variant per
// §6), falling back transparently to an in-process-only publisher.
func NewStatusPublisher(testMode bool, logger hclog.Logger) StatusPublisher {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	key := ShmKeyBase
	if testMode {
		key++
	}
	return newSHMPublisher(key, logger.Named("status"))
}

// NewInfoRecord builds a StatusRecord from the current manager state.
func NewInfoRecord(info string, unprivThreads uint32, operational, needEntropy bool) StatusRecord {
	var rec StatusRecord
	rec.Version = statusRecordVersion
	n := copy(rec.Info[:], info)
	rec.InfoLen = uint32(n)
	rec.UnprivThreads = unprivThreads
	rec.Operational = operational
	rec.NeedEntropy = needEntropy
	return rec
}
