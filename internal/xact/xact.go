// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package xact matches DNS queries to their replies, tracking pending
// transactions in insertion order so stale entries can be swept cheaply
// without scanning the whole table.
package xact

import (
	"container/list"
	"sync"
	"time"

	"grimm.is/netvisor/internal/netevent"
)

// DefaultTimeout is how long a query waits for its reply before it is
// declared timed out.
const DefaultTimeout = 5 * time.Second

// Transaction is a matched query/reply pair, or a query alone if it
// timed out.
type Transaction struct {
	Query    *netevent.DnsRecord
	Reply    *netevent.DnsRecord
	Started  time.Time
	Finished time.Time
	TimedOut bool
}

// Latency returns the elapsed time between query and reply. It is only
// meaningful when Reply is non-nil.
func (t Transaction) Latency() time.Duration {
	if t.Reply == nil {
		return 0
	}
	return t.Finished.Sub(t.Started)
}

type pending struct {
	key     netevent.TransactionKey
	query   *netevent.DnsRecord
	started time.Time
	elem    *list.Element
}

// Matcher tracks in-flight DNS queries keyed by (flow, transaction ID)
// and pairs them with their replies. A sweep of Evict removes entries
// older than the configured timeout in insertion order, since the list
// is always ordered oldest-first regardless of eviction or completion.
//
// Matcher itself keeps no query/reply/timeout counters: those are
// reported metrics, not matching state, so Handler tracks them directly
// on the metrics.Bucket it already owns (b.Xact.In/Out/Total/TimedOut)
// as Query/Reply/Evict are called, rather than duplicating them here
// and reconciling two counters that must always agree.
type Matcher struct {
	mu      sync.Mutex
	timeout time.Duration
	table   map[netevent.TransactionKey]*pending
	order   *list.List // holds *pending, oldest first
}

// New returns an empty Matcher with the given timeout (DefaultTimeout if
// zero or negative).
func New(timeout time.Duration) *Matcher {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Matcher{
		timeout: timeout,
		table:   make(map[netevent.TransactionKey]*pending),
		order:   list.New(),
	}
}

// Query registers a new outstanding query. A second query sharing the
// same key before the first resolves replaces the tracked entry (the
// newer query wins, matching how a resolver would treat a client retry);
// the replaced query is dropped without being counted or reported.
func (m *Matcher) Query(rec *netevent.DnsRecord, now time.Time) {
	key := netevent.TransactionKey{FlowHash: rec.Packet.FlowHash, TxID: rec.TxID}

	m.mu.Lock()
	defer m.mu.Unlock()

	if old, ok := m.table[key]; ok {
		m.order.Remove(old.elem)
	}

	p := &pending{key: key, query: rec, started: now}
	p.elem = m.order.PushBack(p)
	m.table[key] = p
}

// Reply matches rec against an outstanding query with the same key. It
// returns the completed Transaction and true on a match, or an orphan
// (no Query field) and false if no matching query was outstanding.
func (m *Matcher) Reply(rec *netevent.DnsRecord, now time.Time) (Transaction, bool) {
	key := netevent.TransactionKey{FlowHash: rec.Packet.FlowHash, TxID: rec.TxID}

	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.table[key]
	if !ok {
		return Transaction{Reply: rec, Finished: now}, false
	}
	delete(m.table, key)
	m.order.Remove(p.elem)

	return Transaction{
		Query:    p.query,
		Reply:    rec,
		Started:  p.started,
		Finished: now,
	}, true
}

// Evict sweeps queries that have waited longer than the configured
// timeout, returning one timed-out Transaction per evicted entry. Since
// order is oldest-first, the sweep can stop at the first still-fresh
// entry.
func (m *Matcher) Evict(now time.Time) []Transaction {
	m.mu.Lock()
	defer m.mu.Unlock()

	var timedOut []Transaction
	for {
		front := m.order.Front()
		if front == nil {
			break
		}
		p := front.Value.(*pending)
		if now.Sub(p.started) <= m.timeout {
			break
		}
		m.order.Remove(front)
		delete(m.table, p.key)
		timedOut = append(timedOut, Transaction{
			Query:    p.query,
			Started:  p.started,
			Finished: now,
			TimedOut: true,
		})
	}
	return timedOut
}

// Pending reports how many queries are currently awaiting a reply or
// eviction.
func (m *Matcher) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.table)
}
