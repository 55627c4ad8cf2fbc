// Package autotune selects, by benchmarking, the fastest of a set of equivalent operations, and caches the decision
// per device and workload Key.
//
// Decisions are never overwritten: once a (device, key) pair has an index it stays for the lifetime of the Tuner.
package autotune

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/gomlx/fusion/backends"
	"github.com/gomlx/fusion/pkg/core/shapes"
	"github.com/gomlx/fusion/pkg/fusion/metrics"
	"github.com/gomlx/fusion/pkg/support/fsutil"
	"github.com/pkg/errors"
	"golang.org/x/sync/singleflight"
	"k8s.io/klog/v2"
)

// DefaultSamples is the number of timed runs of each candidate during a trial.
const DefaultSamples = 3

// Key identifies a workload: the number of fused operations and the representative shape formatted as "AxBxC"
// (empty for a scalar or a workload with no tensors).
type Key struct {
	NumOperations int    `json:"num_operations"`
	Shape         string `json:"shape"`
}

// NewKey creates a Key from the number of operations and the representative dimensions.
func NewKey(numOperations int, dimensions []int) Key {
	return Key{NumOperations: numOperations, Shape: shapes.DimensionsString(dimensions)}
}

// String implements fmt.Stringer.
func (k Key) String() string {
	return fmt.Sprintf("ops=%d,shape=%q", k.NumOperations, k.Shape)
}

// OperationSet is a set of interchangeable operations to benchmark.
type OperationSet interface {
	// Len returns the number of candidates.
	Len() int

	// Run executes the candidate at index once, synchronously.
	Run(index int) error
}

type entryKey struct {
	Device backends.DeviceID
	Key    Key
}

// Tuner caches the winning candidate index per device and Key. It is safe for concurrent use.
type Tuner struct {
	mu        sync.RWMutex
	decisions map[entryKey]int
	trials    singleflight.Group
	samples   int
	metrics   *metrics.Metrics

	// now is the clock used to time the candidates.
	now func() time.Time
}

// New creates an empty Tuner.
func New() *Tuner {
	return &Tuner{
		decisions: make(map[entryKey]int),
		samples:   DefaultSamples,
		now:       time.Now,
	}
}

// SetSamples sets the number of timed runs per candidate. It returns the Tuner, so calls can be chained.
func (t *Tuner) SetSamples(samples int) *Tuner {
	if samples < 1 {
		samples = 1
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.samples = samples
	return t
}

// SetMetrics sets where to count trials and their duration. Nil disables it.
func (t *Tuner) SetMetrics(m *metrics.Metrics) *Tuner {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.metrics = m
	return t
}

// Result returns the cached decision for (device, key), if any.
func (t *Tuner) Result(device backends.DeviceID, key Key) (index int, found bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	index, found = t.decisions[entryKey{device, key}]
	return
}

// Len returns the number of cached decisions.
func (t *Tuner) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.decisions)
}

// Execute returns the index of the fastest candidate of set for (device, key).
//
// If there is no cached decision, it benchmarks all candidates of set and records the fastest (ties go to the
// lowest index). Concurrent callers for the same (device, key) wait for a single trial.
func (t *Tuner) Execute(device backends.DeviceID, key Key, set OperationSet) (int, error) {
	if index, found := t.Result(device, key); found {
		return index, nil
	}
	k := entryKey{device, key}
	value, err, _ := t.trials.Do(device.String()+"/"+key.String(), func() (any, error) {
		// Another trial may have finished between the lookup above and here.
		if index, found := t.Result(device, key); found {
			return index, nil
		}
		index, err := t.trial(device, key, set)
		if err != nil {
			return 0, err
		}
		t.mu.Lock()
		defer t.mu.Unlock()
		if previous, found := t.decisions[k]; found {
			return previous, nil
		}
		t.decisions[k] = index
		return index, nil
	})
	if err != nil {
		return 0, err
	}
	return value.(int), nil
}

func (t *Tuner) trial(device backends.DeviceID, key Key, set OperationSet) (int, error) {
	t.mu.RLock()
	samples, m := t.samples, t.metrics
	t.mu.RUnlock()

	numCandidates := set.Len()
	if numCandidates == 0 {
		return 0, errors.Errorf("autotune %s on %s: no candidates", key, device)
	}
	start := t.now()
	best, bestLatency := -1, time.Duration(0)
	latencies := make([]time.Duration, numCandidates)
	for index := range numCandidates {
		// Warm-up run, not timed.
		if err := set.Run(index); err != nil {
			return 0, errors.WithMessagef(err, "autotune %s on %s: candidate #%d", key, device, index)
		}
		latency := time.Duration(-1)
		for range samples {
			sampleStart := t.now()
			if err := set.Run(index); err != nil {
				return 0, errors.WithMessagef(err, "autotune %s on %s: candidate #%d", key, device, index)
			}
			elapsed := t.now().Sub(sampleStart)
			if latency < 0 || elapsed < latency {
				latency = elapsed
			}
		}
		latencies[index] = latency
		if best < 0 || latency < bestLatency {
			best, bestLatency = index, latency
		}
	}
	if m != nil {
		m.AutotuneTrials.Inc()
		m.TrialLatency.Observe(t.now().Sub(start).Seconds())
	}
	if klog.V(1).Enabled() {
		klog.Infof("autotune %s on %s: picked candidate #%d, latencies %v", key, device, best, latencies)
	}
	return best, nil
}

// Entry is one persisted decision.
type Entry struct {
	Device backends.DeviceID `json:"device"`
	Key    Key               `json:"key"`
	Index  int               `json:"index"`
}

// Entries returns all the cached decisions, in no particular order.
func (t *Tuner) Entries() []Entry {
	t.mu.RLock()
	defer t.mu.RUnlock()
	entries := make([]Entry, 0, len(t.decisions))
	for k, index := range t.decisions {
		entries = append(entries, Entry{Device: k.Device, Key: k.Key, Index: index})
	}
	return entries
}

// Save writes the cached decisions as JSON.
func (t *Tuner) Save(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(t.Entries()); err != nil {
		return errors.Wrap(err, "saving autotune decisions")
	}
	return nil
}

// Load reads decisions written by Save. Decisions already in the Tuner are kept: conflicting loaded entries are
// ignored with a warning.
//
// Either all entries are loaded or, if any of them is invalid, none is.
func (t *Tuner) Load(r io.Reader) error {
	var entries []Entry
	if err := json.NewDecoder(r).Decode(&entries); err != nil {
		return errors.Wrap(err, "loading autotune decisions")
	}
	for _, entry := range entries {
		if entry.Index < 0 {
			return errors.Errorf("loading autotune decisions: invalid index %d for %s on %s",
				entry.Index, entry.Key, entry.Device)
		}
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, entry := range entries {
		k := entryKey{entry.Device, entry.Key}
		if previous, found := t.decisions[k]; found {
			if previous != entry.Index {
				klog.Warningf("autotune: ignoring loaded decision #%d for %s on %s, keeping #%d",
					entry.Index, entry.Key, entry.Device, previous)
			}
			continue
		}
		t.decisions[k] = entry.Index
	}
	return nil
}

// SaveFile saves the cached decisions to filePath, replacing it atomically. A leading "~" is expanded to the home
// directory.
func (t *Tuner) SaveFile(filePath string) error {
	filePath, err := fsutil.ReplaceTildeInDir(filePath)
	if err != nil {
		return err
	}
	var buf bytes.Buffer
	if err := t.Save(&buf); err != nil {
		return err
	}
	return fsutil.WriteFileAtomic(filePath, buf.Bytes(), 0o644)
}

// LoadFile loads decisions saved by SaveFile. A missing file is not an error: nothing is loaded.
func (t *Tuner) LoadFile(filePath string) error {
	filePath, err := fsutil.ReplaceTildeInDir(filePath)
	if err != nil {
		return err
	}
	exists, err := fsutil.FileExists(filePath)
	if err != nil || !exists {
		return err
	}
	f, err := os.Open(filePath)
	if err != nil {
		return errors.Wrapf(err, "opening autotune decisions %q", filePath)
	}
	defer func() { _ = f.Close() }()
	if err := t.Load(f); err != nil {
		return errors.WithMessagef(err, "file %q", filePath)
	}
	klog.V(1).Infof("autotune: loaded decisions from %q", filePath)
	return nil
}
