package database

import (
	"bytes"
	"encoding/gob"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/coder/hnsw"

	"github.com/kozaktomas/facecam/internal/facematch"
)

// HNSWIndexMetadata stores metadata for validating cached HNSW indexes.
type HNSWIndexMetadata struct {
	Count     int64     `json:"count"`
	MaxSeq    int64     `json:"max_seq"`
	Metric    string    `json:"metric"`
	BuildTime time.Time `json:"build_time"`
	Version   int       `json:"version"`
}

const hnswMetadataVersion = 1

// HNSWIndex wraps the HNSW graph for descriptor search. One index holds the
// descriptors of a single owner.
type HNSWIndex struct {
	graph    *hnsw.Graph[int64]
	metric   string
	bySeq    map[int64]*StoredDescriptor // Maps HNSW node key to descriptor
	distance func(a, b []float32) float64
	mu       sync.RWMutex
}

// NewHNSWIndex creates a new empty HNSW index for the given distance metric.
func NewHNSWIndex(metric string) *HNSWIndex {
	return &HNSWIndex{
		metric:   metric,
		bySeq:    make(map[int64]*StoredDescriptor),
		distance: facematch.DistanceFunc(metric),
	}
}

func (h *HNSWIndex) newGraph() *hnsw.Graph[int64] {
	g := hnsw.NewGraph[int64]()
	g.M = HNSWMaxNeighbors
	g.Ml = 1.0 / float64(HNSWMaxNeighbors) // Standard HNSW formula
	g.EfSearch = HNSWEfSearch
	if h.metric == facematch.MetricCosine {
		g.Distance = hnsw.CosineDistance
	} else {
		g.Distance = hnsw.EuclideanDistance
	}
	return g
}

// Build replaces the index content with descs.
func (h *HNSWIndex) Build(descs []StoredDescriptor) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.bySeq = make(map[int64]*StoredDescriptor, len(descs))
	if len(descs) == 0 {
		h.graph = nil
		return
	}

	g := h.newGraph()
	for i := range descs {
		d := &descs[i]
		if len(d.Descriptor) == 0 {
			continue
		}
		g.Add(hnsw.MakeNode(d.Seq, d.Descriptor))
		h.bySeq[d.Seq] = d
	}
	h.graph = g
}

// Add adds a single descriptor to the index.
func (h *HNSWIndex) Add(d StoredDescriptor) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(d.Descriptor) == 0 {
		return
	}
	if h.graph == nil {
		h.graph = h.newGraph()
	}
	h.graph.Add(hnsw.MakeNode(d.Seq, d.Descriptor))
	h.bySeq[d.Seq] = &d
}

// Delete removes a descriptor from the index.
func (h *HNSWIndex) Delete(seq int64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	delete(h.bySeq, seq)
	if h.graph != nil {
		h.graph.Delete(seq)
		if h.graph.Len() == 0 {
			h.graph = nil
		}
	}
}

// Search returns up to k neighbors of query, nearest first, with distances
// measured by the index metric.
func (h *HNSWIndex) Search(query []float32, k int) ([]Neighbor, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.graph == nil {
		return nil, nil
	}
	if dims := h.graph.Dims(); dims > 0 && dims != len(query) {
		return nil, fmt.Errorf("%w: index has %d, query has %d", facematch.ErrDimensionMismatch, dims, len(query))
	}

	nodes := h.graph.Search(query, k)
	out := make([]Neighbor, 0, len(nodes))
	for _, n := range nodes {
		d, ok := h.bySeq[n.Key]
		if !ok {
			continue
		}
		out = append(out, Neighbor{Descriptor: *d, Distance: h.distance(query, n.Value)})
	}
	return out, nil
}

// Count returns the number of indexed descriptors.
func (h *HNSWIndex) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.bySeq)
}

// MaxSeq returns the highest descriptor key in the index.
func (h *HNSWIndex) MaxSeq() int64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	var m int64
	for seq := range h.bySeq {
		m = max(m, seq)
	}
	return m
}

// Save persists the graph, descriptor metadata and a .meta file used for
// staleness checks. An empty index removes the files.
func (h *HNSWIndex) Save(path string) error {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.graph == nil {
		// Best-effort cleanup.
		_ = os.Remove(path)
		_ = os.Remove(path + ".meta")
		_ = os.Remove(path + ".descriptors")
		return nil
	}

	f, err := os.Create(path) //nolint:gosec // path is from trusted config
	if err != nil {
		return fmt.Errorf("failed to create HNSW index file: %w", err)
	}
	if err := h.graph.Export(f); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to export HNSW graph: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close HNSW index file: %w", err)
	}

	descs := make([]StoredDescriptor, 0, len(h.bySeq))
	var maxSeq int64
	for seq, d := range h.bySeq {
		descs = append(descs, *d)
		maxSeq = max(maxSeq, seq)
	}

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(descs); err != nil {
		return fmt.Errorf("failed to encode descriptors: %w", err)
	}
	if err := os.WriteFile(path+".descriptors", buf.Bytes(), 0o600); err != nil {
		return fmt.Errorf("failed to write descriptors file: %w", err)
	}

	meta, err := json.Marshal(HNSWIndexMetadata{
		Count:     int64(len(descs)),
		MaxSeq:    maxSeq,
		Metric:    h.metric,
		BuildTime: time.Now(),
		Version:   hnswMetadataVersion,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}
	if err := os.WriteFile(path+".meta", meta, 0o600); err != nil {
		return fmt.Errorf("failed to write metadata file: %w", err)
	}
	return nil
}

// LoadHNSWMetadata loads metadata from a separate .meta file.
func LoadHNSWMetadata(path string) (HNSWIndexMetadata, error) {
	var metadata HNSWIndexMetadata

	data, err := os.ReadFile(path + ".meta") //nolint:gosec // path is from trusted config
	if err != nil {
		return metadata, fmt.Errorf("failed to read metadata file: %w", err)
	}
	if err := json.Unmarshal(data, &metadata); err != nil {
		return metadata, fmt.Errorf("failed to unmarshal metadata: %w", err)
	}
	return metadata, nil
}

// Load reads an index written by Save. The caller compares the returned
// metadata against the database to decide whether the cache is fresh.
func (h *HNSWIndex) Load(path string) (HNSWIndexMetadata, error) {
	meta, err := LoadHNSWMetadata(path)
	if err != nil {
		return meta, err
	}
	if meta.Version != hnswMetadataVersion {
		return meta, fmt.Errorf("unsupported index version %d", meta.Version)
	}
	if meta.Metric != h.metric {
		return meta, fmt.Errorf("index metric %q does not match %q", meta.Metric, h.metric)
	}

	saved, err := hnsw.LoadSavedGraph[int64](path)
	if err != nil {
		return meta, fmt.Errorf("failed to load HNSW index: %w", err)
	}

	data, err := os.ReadFile(path + ".descriptors") //nolint:gosec // path is from trusted config
	if err != nil {
		return meta, fmt.Errorf("failed to read descriptors file: %w", err)
	}
	var descs []StoredDescriptor
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&descs); err != nil {
		return meta, fmt.Errorf("failed to decode descriptors: %w", err)
	}
	if len(descs) != saved.Len() {
		return meta, errors.New("index graph and descriptor file disagree")
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.graph = saved.Graph
	h.graph.Distance = h.newGraph().Distance
	h.bySeq = make(map[int64]*StoredDescriptor, len(descs))
	for i := range descs {
		h.bySeq[descs[i].Seq] = &descs[i]
	}
	return meta, nil
}
