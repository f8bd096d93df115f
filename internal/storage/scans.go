package storage

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"

	"go.etcd.io/bbolt"

	"github.com/hakim/scriptwatch/internal/blocktrack"
	"github.com/hakim/scriptwatch/internal/models"
)

// HistoryEntry is one stored result with the batch it came from.
type HistoryEntry struct {
	BatchID string            `json:"batch_id"`
	Result  models.ScanResult `json:"result"`
}

// SaveBatch persists a batch metadata record
func (s *Store) SaveBatch(meta *models.BatchMeta) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		data, err := json.Marshal(meta)
		if err != nil {
			return err
		}
		return tx.Bucket([]byte(bucketBatches)).Put([]byte(meta.ID), data)
	})
}

// GetBatch retrieves a batch record by ID. Returns nil when absent.
func (s *Store) GetBatch(id string) (*models.BatchMeta, error) {
	var meta *models.BatchMeta

	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket([]byte(bucketBatches)).Get([]byte(id))
		if data == nil {
			return nil
		}
		meta = &models.BatchMeta{}
		return json.Unmarshal(data, meta)
	})

	return meta, err
}

// ListBatches returns up to limit batches, newest first. limit <= 0 means all.
func (s *Store) ListBatches(limit int) ([]*models.BatchMeta, error) {
	var batches []*models.BatchMeta

	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(bucketBatches)).ForEach(func(_, v []byte) error {
			var meta models.BatchMeta
			if err := json.Unmarshal(v, &meta); err != nil {
				return err
			}
			batches = append(batches, &meta)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(batches, func(i, j int) bool {
		return batches[i].StartedAt.After(batches[j].StartedAt)
	})
	if limit > 0 && len(batches) > limit {
		batches = batches[:limit]
	}
	return batches, nil
}

// SaveResult stores a result under its batch and indexes it by domain
func (s *Store) SaveResult(batchID string, r models.ScanResult) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		entry := HistoryEntry{BatchID: batchID, Result: r}
		data, err := json.Marshal(entry)
		if err != nil {
			return err
		}

		results := tx.Bucket([]byte(bucketResults))
		seq, err := results.NextSequence()
		if err != nil {
			return err
		}
		key := []byte(fmt.Sprintf("%s/%06d/%020d", batchID, r.Position, seq))
		if err := results.Put(key, data); err != nil {
			return err
		}

		// Update domain index (domain -> []result key mapping)
		index := tx.Bucket([]byte(bucketDomainIndex))
		domainKey := []byte(blocktrack.NormalizeDomain(r.TargetURL))

		var keys []string
		if existing := index.Get(domainKey); existing != nil {
			if err := json.Unmarshal(existing, &keys); err != nil {
				return err
			}
		}
		keys = append(keys, string(key))

		indexData, err := json.Marshal(keys)
		if err != nil {
			return err
		}
		return index.Put(domainKey, indexData)
	})
}

// BatchResults returns the results of a batch in job order
func (s *Store) BatchResults(batchID string) ([]models.ScanResult, error) {
	var out []models.ScanResult

	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket([]byte(bucketResults)).Cursor()
		prefix := []byte(batchID + "/")
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			var entry HistoryEntry
			if err := json.Unmarshal(v, &entry); err != nil {
				return err
			}
			out = append(out, entry.Result)
		}
		return nil
	})

	return out, err
}

// DomainHistory returns results recorded for the domain of rawURL, newest first.
func (s *Store) DomainHistory(rawURL string, limit int) ([]HistoryEntry, error) {
	var entries []HistoryEntry

	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket([]byte(bucketDomainIndex)).Get([]byte(blocktrack.NormalizeDomain(rawURL)))
		if data == nil {
			return nil
		}

		var keys []string
		if err := json.Unmarshal(data, &keys); err != nil {
			return err
		}

		results := tx.Bucket([]byte(bucketResults))
		for _, k := range keys {
			v := results.Get([]byte(k))
			if v == nil {
				continue
			}
			var entry HistoryEntry
			if err := json.Unmarshal(v, &entry); err != nil {
				return err
			}
			entries = append(entries, entry)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Result.CheckedAt.After(entries[j].Result.CheckedAt)
	})
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

