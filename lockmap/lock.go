// lockmap provides a sleep lock for every possible uint64 address.
//
// The cache uses it for buffer ownership: Acquire(a) makes the caller the
// exclusive ("busy") holder of address a, sleeping if another thread holds
// it, and Release(a) hands it back. Lock state is allocated on demand and
// reclaimed once the last waiter is gone, so the map stays proportional to
// the set of contended addresses, not the address space. Addresses are
// spread over a fixed number of shards to keep contention on the shard
// mutexes low.
package lockmap

import (
	"sync"
)

const nshard uint64 = 43

type lockState struct {
	held    bool
	waiters uint64
	cond    *sync.Cond
}

type lockShard struct {
	mu    *sync.Mutex
	state map[uint64]*lockState
}

func mkLockShard() *lockShard {
	mu := new(sync.Mutex)
	return &lockShard{
		mu:    mu,
		state: make(map[uint64]*lockState),
	}
}

func (shard *lockShard) lookup(addr uint64) *lockState {
	ls, ok := shard.state[addr]
	if !ok {
		ls = &lockState{cond: sync.NewCond(shard.mu)}
		shard.state[addr] = ls
	}
	return ls
}

func (shard *lockShard) acquire(addr uint64) {
	shard.mu.Lock()
	ls := shard.lookup(addr)
	for ls.held {
		ls.waiters += 1
		ls.cond.Wait()
		ls.waiters -= 1
		// re-check; another waiter may have won the race
	}
	ls.held = true
	shard.mu.Unlock()
}

func (shard *lockShard) release(addr uint64) {
	shard.mu.Lock()
	ls := shard.state[addr]
	if ls == nil || !ls.held {
		panic("lockmap: release of unheld lock")
	}
	ls.held = false
	if ls.waiters > 0 {
		ls.cond.Signal()
	} else {
		delete(shard.state, addr)
	}
	shard.mu.Unlock()
}

type LockMap struct {
	shards []*lockShard
}

func MkLockMap() *LockMap {
	shards := make([]*lockShard, 0, nshard)
	for i := uint64(0); i < nshard; i++ {
		shards = append(shards, mkLockShard())
	}
	return &LockMap{shards: shards}
}

func (lmap *LockMap) Acquire(addr uint64) {
	lmap.shards[addr%nshard].acquire(addr)
}

func (lmap *LockMap) Release(addr uint64) {
	lmap.shards[addr%nshard].release(addr)
}
