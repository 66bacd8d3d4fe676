// Package cache defines the cache entry model and the category policy table.
package cache

import "time"

// Entry is a decoded cache record as seen by callers of the store.
type Entry struct {
	Key               string    `json:"key"`
	Category          string    `json:"category"`
	Payload           any       `json:"payload"`
	CreatedAt         time.Time `json:"createdAt"`
	LastAccessedAt    time.Time `json:"lastAccessedAt"`
	AccessCount       int64     `json:"accessCount"`
	SizeBytes         int64     `json:"sizeBytes"`
	Compressed        bool      `json:"compressed"`
	OriginalSizeBytes int64     `json:"originalSizeBytes"`
}

// Age returns how long ago the entry was written.
func (e *Entry) Age(now time.Time) time.Duration {
	return now.Sub(e.CreatedAt)
}

// IdleTime returns how long ago the entry was last read or written.
func (e *Entry) IdleTime(now time.Time) time.Duration {
	return now.Sub(e.LastAccessedAt)
}

// Stored is the serialized payload exactly as it is persisted. The variant is
// chosen once at write time and carried as a tag on the record.
type Stored interface {
	Bytes() []byte
	Size() int
	OriginalSize() int
	IsCompressed() bool
}

// Raw is an uncompressed serialized payload.
type Raw struct {
	Data []byte
}

func (r Raw) Bytes() []byte      { return r.Data }
func (r Raw) Size() int          { return len(r.Data) }
func (r Raw) OriginalSize() int  { return len(r.Data) }
func (r Raw) IsCompressed() bool { return false }

// Compressed is a compressed serialized payload with the size it inflates to.
type Compressed struct {
	Data     []byte
	Original int
}

func (c Compressed) Bytes() []byte      { return c.Data }
func (c Compressed) Size() int          { return len(c.Data) }
func (c Compressed) OriginalSize() int  { return c.Original }
func (c Compressed) IsCompressed() bool { return true }
