// Package ledger implements the supplemented audit ledger: a BoltDB-backed
// record of every ticket and witness issuance, bucket-per-day, pruned on a
// retention schedule. Adapted directly from internal/storage/bolt.go's
// `/ledger` and `/meta` bucket pattern; the original `/baselines` bucket
// has no analogue in attnd's domain and is dropped (see DESIGN.md).
package ledger

import (
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

const (
	SchemaVersion = "1"

	bucketMeta = "meta"
)

// Entry is a single audit record: the outcome of one GetTicket or
// GetWitness RPC.
type Entry struct {
	Timestamp time.Time `json:"timestamp"`
	Kind      string    `json:"kind"` // "ticket" | "witness"
	Success   bool      `json:"success"`
	Cost      float64   `json:"cost,omitempty"`
	Message   string    `json:"message,omitempty"`
}

// DB wraps a BoltDB instance holding the audit ledger.
type DB struct {
	db            *bolt.DB
	retentionDays int
}

// Open opens (or creates) the BoltDB database at path and records the
// schema version in the meta bucket on first open. An existing version
// value is not checked; day buckets are created lazily by Append.
func Open(path string, retentionDays int) (*DB, error) {
	if retentionDays <= 0 {
		retentionDays = 30
	}

	bdb, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("ledger: bolt.Open(%q): %w", path, err)
	}

	d := &DB{db: bdb, retentionDays: retentionDays}

	if err := d.db.Update(func(tx *bolt.Tx) error {
		meta, err := tx.CreateBucketIfNotExists([]byte(bucketMeta))
		if err != nil {
			return fmt.Errorf("create meta bucket: %w", err)
		}
		if meta.Get([]byte("schema_version")) == nil {
			if err := meta.Put([]byte("schema_version"), []byte(SchemaVersion)); err != nil {
				return fmt.Errorf("write schema_version: %w", err)
			}
		}
		return nil
	}); err != nil {
		_ = bdb.Close()
		return nil, fmt.Errorf("ledger: initialization failed: %w", err)
	}

	return d, nil
}

// Close closes the underlying BoltDB file.
func (d *DB) Close() error { return d.db.Close() }

// dayBucketName returns the bucket name for the UTC day containing t.
func dayBucketName(t time.Time) string {
	return "day_" + t.UTC().Format("2006-01-02")
}

// entryKey is an RFC3339 UTC timestamp with a fixed nine-digit fraction
// (so keys sort chronologically) plus a monotonic counter so concurrent
// appends within the same nanosecond still sort uniquely.
func entryKey(t time.Time, counter uint64) []byte {
	return []byte(fmt.Sprintf("%s_%020d", t.UTC().Format("2006-01-02T15:04:05.000000000Z07:00"), counter))
}

// Append writes a new ledger entry into the bucket for its UTC day.
func (d *DB) Append(entry Entry, counter uint64) error {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("ledger: marshal: %w", err)
	}

	bucketName := []byte(dayBucketName(entry.Timestamp))
	key := entryKey(entry.Timestamp, counter)

	return d.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(bucketName)
		if err != nil {
			return fmt.Errorf("create day bucket: %w", err)
		}
		return b.Put(key, data)
	})
}

// Prune deletes every day-bucket older than the configured retention
// window. Run at startup, mirroring the teacher's startup-prune call.
func (d *DB) Prune() (int, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -d.retentionDays)
	deleted := 0

	err := d.db.Update(func(tx *bolt.Tx) error {
		var stale [][]byte
		if err := tx.ForEach(func(name []byte, _ *bolt.Bucket) error {
			if string(name) == bucketMeta {
				return nil
			}
			day := string(name)
			if len(day) < 14 {
				return nil
			}
			t, err := time.Parse("2006-01-02", day[4:])
			if err != nil {
				return nil
			}
			if t.Before(cutoff) {
				nameCopy := make([]byte, len(name))
				copy(nameCopy, name)
				stale = append(stale, nameCopy)
			}
			return nil
		}); err != nil {
			return err
		}

		for _, name := range stale {
			if err := tx.DeleteBucket(name); err != nil {
				return err
			}
			deleted++
		}
		return nil
	})
	return deleted, err
}

// ReadDay returns all entries recorded on the UTC day containing t, in
// key order (chronological). For operator/CLI inspection only.
func (d *DB) ReadDay(t time.Time) ([]Entry, error) {
	var entries []Entry
	err := d.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(dayBucketName(t)))
		if b == nil {
			return nil
		}
		return b.ForEach(func(_, v []byte) error {
			var e Entry
			if err := json.Unmarshal(v, &e); err != nil {
				return err
			}
			entries = append(entries, e)
			return nil
		})
	})
	return entries, err
}
