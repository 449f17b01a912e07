// Copyright 2026 PingCAP, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// See the License for the specific language governing permissions and
// limitations under the License.

package stats

import (
	"sort"
	"sync"
	"time"

	"github.com/codahale/hdrhistogram"
)

const (
	minLatency = int64(time.Microsecond)
	maxLatency = int64(time.Hour)
)

// Summary describes the executions seen on one backend kind
type Summary struct {
	Kind       string  `json:"kind"`
	Executions int64   `json:"executions"`
	Failed     int64   `json:"failed"`
	Crashes    int64   `json:"crashes"`
	Timeouts   int64   `json:"timeouts"`
	P50        float64 `json:"p50_seconds"`
	P95        float64 `json:"p95_seconds"`
	P99        float64 `json:"p99_seconds"`
	Max        float64 `json:"max_seconds"`
}

type kindStats struct {
	latency  *hdrhistogram.Histogram
	failed   int64
	crashes  int64
	timeouts int64
}

// Recorder keeps execution latencies and crash counts per backend kind.
// It is safe for concurrent use.
type Recorder struct {
	mu    sync.Mutex
	kinds map[string]*kindStats
}

// NewRecorder creates a Recorder
func NewRecorder() *Recorder {
	return &Recorder{kinds: make(map[string]*kindStats)}
}

func (r *Recorder) get(kind string) *kindStats {
	s, ok := r.kinds[kind]
	if !ok {
		s = &kindStats{latency: hdrhistogram.New(minLatency, maxLatency, 3)}
		r.kinds[kind] = s
	}
	return s
}

// Record adds one finished execution
func (r *Recorder) Record(kind string, elapsed time.Duration, failed, crashed bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.get(kind)
	v := int64(elapsed)
	if v < minLatency {
		v = minLatency
	} else if v > maxLatency {
		v = maxLatency
	}
	_ = s.latency.RecordValue(v)
	if failed {
		s.failed++
	}
	if crashed {
		s.crashes++
	}
}

// RecordTimeout counts an execution that ran out of budget
func (r *Recorder) RecordTimeout(kind string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.get(kind).timeouts++
}

// Snapshot returns the summaries sorted by kind
func (r *Recorder) Snapshot() []Summary {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Summary, 0, len(r.kinds))
	for kind, s := range r.kinds {
		sum := Summary{
			Kind:       kind,
			Executions: s.latency.TotalCount(),
			Failed:     s.failed,
			Crashes:    s.crashes,
			Timeouts:   s.timeouts,
		}
		if sum.Executions > 0 {
			sum.P50 = seconds(s.latency.ValueAtQuantile(50))
			sum.P95 = seconds(s.latency.ValueAtQuantile(95))
			sum.P99 = seconds(s.latency.ValueAtQuantile(99))
			sum.Max = seconds(s.latency.Max())
		}
		out = append(out, sum)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Kind < out[j].Kind })
	return out
}

func seconds(ns int64) float64 {
	return time.Duration(ns).Seconds()
}
