package threadcache

import (
	"context"

	"concourse/internal/csync"
	"concourse/internal/protocol"
	"concourse/internal/pubsub"
)

// Entry is the cached view of one backend thread: the last-known history
// snapshot plus the transient load/stream/error flags. History == nil with
// HasHistory == false means the thread was never fetched; an empty fetched
// history keeps HasHistory == true.
type Entry struct {
	History    []protocol.Message
	HasHistory bool
	Loading    bool
	Streaming  bool
	Err        string
}

// Patch is a shallow merge applied to an entry. Callers set only the fields
// they own; nil pointers leave the current value untouched.
type Patch struct {
	History   *[]protocol.Message
	Loading   *bool
	Streaming *bool
	Err       *string
}

// Bool returns a pointer suitable for a Patch field.
func Bool(v bool) *bool { return &v }

// Str returns a pointer suitable for a Patch field.
func Str(v string) *string { return &v }

// Cache holds one Entry per backend thread id. Entries are created on first
// reference and never deleted; a streamed run or a newer history snapshot
// supersedes older state but past messages keep their positions. All
// mutations are read-modify-write merges inside the map's write lock, so
// operations on different thread ids never contend and operations on the
// same id cannot interleave.
type Cache struct {
	entries *csync.VersionedMap[string, Entry]
	broker  *pubsub.Broker[string]
}

func New() *Cache {
	return &Cache{
		entries: csync.NewVersionedMap[string, Entry](),
		broker:  pubsub.NewBroker[string](),
	}
}

// Get returns the entry for threadID and whether one exists.
func (c *Cache) Get(threadID string) (Entry, bool) {
	return c.entries.Get(threadID)
}

// Snapshot returns a copy of all entries keyed by thread id.
func (c *Cache) Snapshot() map[string]Entry {
	return c.entries.Snapshot()
}

// Version increases whenever any entry changes.
func (c *Cache) Version() uint64 {
	return c.entries.Version()
}

// Subscribe yields the id of each thread whose entry changed. The channel
// closes when ctx is done or the cache shuts down.
func (c *Cache) Subscribe(ctx context.Context) <-chan pubsub.Event[string] {
	return c.broker.Subscribe(ctx)
}

// Shutdown closes all subscriber channels.
func (c *Cache) Shutdown() {
	c.broker.Shutdown()
}

// Update merges patch into the entry for threadID, creating the entry if this
// is the thread's first reference. Loading and Streaming are mutually
// exclusive; the flag the patch sets wins and the other is cleared.
func (c *Cache) Update(threadID string, patch Patch) Entry {
	created := false
	next := c.entries.Update(threadID, func(e Entry, ok bool) Entry {
		created = !ok
		if patch.History != nil {
			e.History = *patch.History
			e.HasHistory = true
		}
		if patch.Err != nil {
			e.Err = *patch.Err
		}
		if patch.Loading != nil {
			e.Loading = *patch.Loading
			if e.Loading {
				e.Streaming = false
			}
		}
		if patch.Streaming != nil {
			e.Streaming = *patch.Streaming
			if e.Streaming {
				e.Loading = false
			}
		}
		return e
	})
	c.notify(threadID, created)
	return next
}

// MergeHistory folds a fetched snapshot into the entry. Message order is
// append-only: positions already observed are kept, and only fetched messages
// not yet present are appended in their fetched order.
func (c *Cache) MergeHistory(threadID string, fetched []protocol.Message) Entry {
	created := false
	next := c.entries.Update(threadID, func(e Entry, ok bool) Entry {
		created = !ok
		if !e.HasHistory && len(e.History) == 0 {
			e.History = append([]protocol.Message(nil), fetched...)
			e.HasHistory = true
			return e
		}
		seen := make(map[string]struct{}, len(e.History))
		for _, m := range e.History {
			seen[m.ID] = struct{}{}
		}
		merged := append([]protocol.Message(nil), e.History...)
		for _, m := range fetched {
			if _, dup := seen[m.ID]; dup {
				continue
			}
			merged = append(merged, m)
		}
		e.History = merged
		e.HasHistory = true
		return e
	})
	c.notify(threadID, created)
	return next
}

// Append adds msg to the end of the thread's history.
func (c *Cache) Append(threadID string, msg protocol.Message) Entry {
	created := false
	next := c.entries.Update(threadID, func(e Entry, ok bool) Entry {
		created = !ok
		e.History = append(cloneHistory(e.History), msg)
		e.HasHistory = true
		return e
	})
	c.notify(threadID, created)
	return next
}

// Upsert replaces the message with msg.ID in place, or appends it if the
// thread has not seen that id. In-progress streamed messages are superseded
// this way without changing their position.
func (c *Cache) Upsert(threadID string, msg protocol.Message) Entry {
	created := false
	next := c.entries.Update(threadID, func(e Entry, ok bool) Entry {
		created = !ok
		history := cloneHistory(e.History)
		replaced := false
		for i := range history {
			if history[i].ID == msg.ID {
				history[i] = msg
				replaced = true
				break
			}
		}
		if !replaced {
			history = append(history, msg)
		}
		e.History = history
		e.HasHistory = true
		return e
	})
	c.notify(threadID, created)
	return next
}

// AppendDelta grows the text of the message identified by messageID. If the
// thread has no such message yet, a new agent message is appended under that
// id so a delta arriving before its message snapshot is not lost.
func (c *Cache) AppendDelta(threadID, messageID, node, text string) Entry {
	created := false
	next := c.entries.Update(threadID, func(e Entry, ok bool) Entry {
		created = !ok
		history := cloneHistory(e.History)
		found := false
		for i := range history {
			if history[i].ID == messageID {
				// Copy the parts slice so snapshots handed out earlier
				// never observe the in-place text growth.
				history[i].Parts = append([]protocol.ContentPart(nil), history[i].Parts...)
				history[i].AppendText(text)
				found = true
				break
			}
		}
		if !found {
			msg := protocol.NewAgent(node, text)
			msg.ID = messageID
			history = append(history, msg)
		}
		e.History = history
		e.HasHistory = true
		return e
	})
	c.notify(threadID, created)
	return next
}

// FinishLoad clears the loading flag and, when errMsg is non-empty, records
// it only if the entry still has no history. A concurrent run that populated
// messages while the fetch was in flight takes priority over the stale
// failure, which is swallowed.
func (c *Cache) FinishLoad(threadID, errMsg string) Entry {
	created := false
	next := c.entries.Update(threadID, func(e Entry, ok bool) Entry {
		created = !ok
		e.Loading = false
		if errMsg != "" && !e.HasHistory && len(e.History) == 0 {
			e.Err = errMsg
		}
		return e
	})
	c.notify(threadID, created)
	return next
}

// Rekey migrates the entry under oldID to newID in a single critical section,
// with no message loss or duplication. It is the rebind step for runs that
// started under a temporary client id and received their backend thread id
// mid-stream. Rekey reports whether oldID had an entry to move.
func (c *Cache) Rekey(oldID, newID string) bool {
	moved := c.entries.Rename(oldID, newID)
	if moved {
		c.broker.Publish(pubsub.DeletedEvent, oldID)
		c.broker.Publish(pubsub.CreatedEvent, newID)
	}
	return moved
}

func (c *Cache) notify(threadID string, created bool) {
	if created {
		c.broker.Publish(pubsub.CreatedEvent, threadID)
		return
	}
	c.broker.Publish(pubsub.UpdatedEvent, threadID)
}

func cloneHistory(history []protocol.Message) []protocol.Message {
	if history == nil {
		return nil
	}
	out := make([]protocol.Message, len(history))
	copy(out, history)
	return out
}
