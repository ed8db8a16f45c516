package store

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/sweeney/fermentation-pi/internal/sensor"
	bolt "go.etcd.io/bbolt"
)

// Record is a timestamped reading from the sensor history.
type Record struct {
	Time        time.Time `json:"time"`
	Temperature float32   `json:"temperature"`
	Humidity    float32   `json:"humidity"`
}

// Reading returns the measurement part of the record.
func (r Record) Reading() sensor.Reading {
	return sensor.Reading{Temperature: r.Temperature, Humidity: r.Humidity}
}

// Reading keys are big-endian nanoseconds since the epoch. Times outside
// the representable range are clamped so keys keep their order.
var (
	minReadingTime = time.Unix(0, 0)
	maxReadingTime = time.Unix(0, math.MaxInt64)
)

func readingKey(t time.Time) []byte {
	if t.Before(minReadingTime) {
		t = minReadingTime
	}
	if t.After(maxReadingTime) {
		t = maxReadingTime
	}
	return itob(uint64(t.UnixNano()))
}

// AddReading appends a reading taken at at.
func (s *Store) AddReading(at time.Time, r sensor.Reading) error {
	rec := Record{Time: at.UTC(), Temperature: r.Temperature, Humidity: r.Humidity}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode reading: %w", err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(readingsBucket).Put(readingKey(at), data)
	})
}

// Readings returns the records with from <= time <= to in time order.
func (s *Store) Readings(from, to time.Time) ([]Record, error) {
	records := []Record{}
	if to.Before(from) {
		return records, nil
	}
	max := readingKey(to)
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(readingsBucket).Cursor()
		for k, v := c.Seek(readingKey(from)); k != nil && bytes.Compare(k, max) <= 0; k, v = c.Next() {
			var rec Record
			if err := json.Unmarshal(v, &rec); err != nil {
				return fmt.Errorf("decode reading: %w", err)
			}
			records = append(records, rec)
		}
		return nil
	})
	return records, err
}
