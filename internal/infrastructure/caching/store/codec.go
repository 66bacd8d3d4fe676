package store

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	"github.com/AtRiskMedia/feedcache-go/internal/domain/entities/cache"
	"github.com/AtRiskMedia/feedcache-go/internal/domain/faults"
	"github.com/klauspost/compress/zstd"
)

// recordFormat tags the persisted layout: one format byte, a big-endian
// uint32 header length, the JSON header, then the stored payload bytes.
const (
	recordFormat     byte = 1
	recordPrefixSize      = 5
)

// record is one persisted entry. Body holds the serialized payload, compressed
// when Compressed is set. SizeBytes is the full persisted length and is
// measured, never stored.
type record struct {
	Category          string    `json:"category"`
	CreatedAt         time.Time `json:"createdAt"`
	LastAccessedAt    time.Time `json:"lastAccessedAt"`
	AccessCount       int64     `json:"accessCount"`
	Compressed        bool      `json:"compressed"`
	OriginalSizeBytes int64     `json:"originalSizeBytes"`

	Body      []byte `json:"-"`
	SizeBytes int64  `json:"-"`
}

func (r *record) stored() cache.Stored {
	if r.Compressed {
		return cache.Compressed{Data: r.Body, Original: int(r.OriginalSizeBytes)}
	}
	return cache.Raw{Data: r.Body}
}

func (r *record) setStored(s cache.Stored) {
	r.Compressed = s.IsCompressed()
	r.OriginalSizeBytes = int64(s.OriginalSize())
	r.Body = s.Bytes()
}

func (r *record) entry(key string) *cache.Entry {
	return &cache.Entry{
		Key:               key,
		Category:          r.Category,
		CreatedAt:         r.CreatedAt,
		LastAccessedAt:    r.LastAccessedAt,
		AccessCount:       r.AccessCount,
		SizeBytes:         r.SizeBytes,
		Compressed:        r.Compressed,
		OriginalSizeBytes: r.OriginalSizeBytes,
	}
}

func decodeRecord(raw []byte) (*record, error) {
	if len(raw) < recordPrefixSize || raw[0] != recordFormat {
		return nil, fmt.Errorf("%w: unknown record format", faults.ErrStorageCorruption)
	}
	headerLen := int(binary.BigEndian.Uint32(raw[1:recordPrefixSize]))
	if headerLen > len(raw)-recordPrefixSize {
		return nil, fmt.Errorf("%w: truncated record header", faults.ErrStorageCorruption)
	}
	bodyStart := recordPrefixSize + headerLen

	var r record
	if err := json.Unmarshal(raw[recordPrefixSize:bodyStart], &r); err != nil {
		return nil, fmt.Errorf("%w: %v", faults.ErrStorageCorruption, err)
	}
	if r.CreatedAt.IsZero() {
		return nil, fmt.Errorf("%w: missing createdAt", faults.ErrStorageCorruption)
	}
	if bodyStart == len(raw) {
		return nil, fmt.Errorf("%w: record without payload", faults.ErrStorageCorruption)
	}
	r.Body = append([]byte(nil), raw[bodyStart:]...)
	r.SizeBytes = int64(len(raw))
	return &r, nil
}

// codec applies the opportunistic compression policy.
type codec struct {
	threshold int
	minSaving float64
	encoder   *zstd.Encoder
	decoder   *zstd.Decoder
}

func newCodec(threshold int, minSaving float64) (*codec, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil, zstd.WithDecoderMaxMemory(256<<20))
	if err != nil {
		enc.Close()
		return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
	}
	return &codec{threshold: threshold, minSaving: minSaving, encoder: enc, decoder: dec}, nil
}

// encode serializes a payload and decides once whether it is kept compressed.
func (c *codec) encode(payload any) (cache.Stored, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize payload: %w", err)
	}
	if len(data) <= c.threshold {
		return cache.Raw{Data: data}, nil
	}

	compressed := c.encoder.EncodeAll(data, make([]byte, 0, len(data)/2))
	if float64(len(compressed)) < float64(len(data))*(1-c.minSaving) {
		return cache.Compressed{Data: compressed, Original: len(data)}, nil
	}
	return cache.Raw{Data: data}, nil
}

// decode restores the payload from its stored variant.
func (c *codec) decode(s cache.Stored) (any, error) {
	data := s.Bytes()
	if s.IsCompressed() {
		inflated, err := c.decoder.DecodeAll(data, make([]byte, 0, s.OriginalSize()))
		if err != nil {
			return nil, fmt.Errorf("%w: decompress: %v", faults.ErrStorageCorruption, err)
		}
		data = inflated
	}

	var payload any
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("%w: payload: %v", faults.ErrStorageCorruption, err)
	}
	return payload, nil
}

func (c *codec) close() {
	c.encoder.Close()
	c.decoder.Close()
}

// encodeRecord lays out r for persistence and sets its SizeBytes.
func encodeRecord(r *record) ([]byte, error) {
	header, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize record: %w", err)
	}
	raw := make([]byte, recordPrefixSize, recordPrefixSize+len(header)+len(r.Body))
	raw[0] = recordFormat
	binary.BigEndian.PutUint32(raw[1:recordPrefixSize], uint32(len(header)))
	raw = append(raw, header...)
	raw = append(raw, r.Body...)
	r.SizeBytes = int64(len(raw))
	return raw, nil
}
