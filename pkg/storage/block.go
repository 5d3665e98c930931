package storage

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// BlockStore hands out fixed-capacity blocks to data tables. Every data
// table of every layout version allocates from the same store.
type BlockStore struct {
	slotCapacity    uint32
	blocksAllocated atomic.Uint64
}

// DefaultSlotCapacity is the number of tuple slots per block.
const DefaultSlotCapacity = 256

// NewBlockStore builds a block store handing out blocks with the given slot
// capacity; zero means DefaultSlotCapacity.
func NewBlockStore(slotCapacity uint32) *BlockStore {
	if slotCapacity == 0 {
		slotCapacity = DefaultSlotCapacity
	}
	return &BlockStore{slotCapacity: slotCapacity}
}

// BlocksAllocated returns the total number of blocks handed out.
func (s *BlockStore) BlocksAllocated() uint64 { return s.blocksAllocated.Load() }

func (s *BlockStore) allocate(dt *DataTable) *Block {
	s.blocksAllocated.Add(1)
	return &Block{
		id:        uuid.New(),
		dataTable: dt,
		slots:     make([]slotRecord, s.slotCapacity),
	}
}

// Block is a fixed-capacity run of tuple slots. The back-pointer to its data
// table is how a TupleSlot reveals the layout version it was written under.
type Block struct {
	id        uuid.UUID
	dataTable *DataTable
	slots     []slotRecord
	inserted  atomic.Uint32
}

// ID returns the block's unique id, used when serializing slots to the redo
// log.
func (b *Block) ID() uuid.UUID { return b.id }

// DataTable returns the data table owning the block.
func (b *Block) DataTable() *DataTable { return b.dataTable }

// slotRecord holds one tuple's MVCC version chain, newest first.
type slotRecord struct {
	mu    sync.Mutex
	chain *versionNode
}

// versionNode is one version of a tuple. While uncommitted it is owned by
// its writing transaction; commit publishes a timestamp and clears the
// owner under the slot lock.
type versionNode struct {
	owner    *TransactionContext
	commitTS uint64
	deleted  bool
	values   [][]byte // indexed by physical ColumnID; reserved slots unused
	nulls    []bool
	next     *versionNode
}

// visibleTo reports whether this version is visible to the transaction:
// either the transaction wrote it, or it committed at or before the
// transaction's snapshot. Callers hold the slot lock.
func (n *versionNode) visibleTo(txn *TransactionContext) bool {
	if n.owner != nil {
		return n.owner == txn
	}
	return n.commitTS <= txn.startTS
}
