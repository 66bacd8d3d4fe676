package store

import "time"

// CategoryStats aggregates the entries of one category.
type CategoryStats struct {
	Entries    int   `json:"entries"`
	SizeBytes  int64 `json:"sizeBytes"`
	Compressed int   `json:"compressed"`
}

// Stats is a read-only view of the store.
type Stats struct {
	TotalEntries       int                       `json:"totalEntries"`
	TotalSizeBytes     int64                     `json:"totalSizeBytes"`
	MaxSizeBytes       int64                     `json:"maxSizeBytes"`
	Utilization        float64                   `json:"utilization"`
	Categories         map[string]*CategoryStats `json:"categories"`
	CompressedEntries  int                       `json:"compressedEntries"`
	CompressionSavings int64                     `json:"compressionSavings"`
	CorruptedEntries   int                       `json:"corruptedEntries"`
	OldestEntry        time.Time                 `json:"oldestEntry,omitempty"`
	NewestEntry        time.Time                 `json:"newestEntry,omitempty"`
}

// Stats aggregates the store without side effects.
func (s *Store) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := Stats{
		MaxSizeBytes: s.config.MaxStorageBytes,
		Categories:   make(map[string]*CategoryStats),
	}

	keys, err := s.backend.Keys("")
	if err != nil {
		s.logger.Cache().Error("Stats failed to list keys", "error", err.Error())
		return stats
	}

	for _, key := range keys {
		raw, err := s.backend.Get(key)
		if err != nil {
			continue
		}
		stats.TotalSizeBytes += int64(len(key) + len(raw))

		rec, err := decodeRecord(raw)
		if err != nil {
			stats.CorruptedEntries++
			continue
		}
		stats.TotalEntries++

		cs, ok := stats.Categories[rec.Category]
		if !ok {
			cs = &CategoryStats{}
			stats.Categories[rec.Category] = cs
		}
		cs.Entries++
		cs.SizeBytes += rec.SizeBytes
		if rec.Compressed {
			cs.Compressed++
			stats.CompressedEntries++
			stats.CompressionSavings += rec.OriginalSizeBytes - int64(len(rec.Body))
		}

		if stats.OldestEntry.IsZero() || rec.CreatedAt.Before(stats.OldestEntry) {
			stats.OldestEntry = rec.CreatedAt
		}
		if rec.CreatedAt.After(stats.NewestEntry) {
			stats.NewestEntry = rec.CreatedAt
		}
	}

	if stats.MaxSizeBytes > 0 {
		stats.Utilization = float64(stats.TotalSizeBytes) / float64(stats.MaxSizeBytes)
	}
	return stats
}

// Utilization returns used bytes over the configured maximum.
func (s *Store) Utilization() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.config.MaxStorageBytes <= 0 {
		return 0
	}
	used, err := s.backend.Size("")
	if err != nil {
		return 0
	}
	return float64(used) / float64(s.config.MaxStorageBytes)
}
