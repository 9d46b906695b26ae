package database

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/kozaktomas/facecam/internal/facematch"
)

// ValidateDescriptor checks a descriptor before it is stored. dim <= 0 skips
// the length check.
func ValidateDescriptor(d *StoredDescriptor, dim int) error {
	if len(d.Descriptor) == 0 {
		return ErrEmptyDescriptor
	}
	if dim > 0 && len(d.Descriptor) != dim {
		return fmt.Errorf("%w: got %d values, model expects %d", facematch.ErrDimensionMismatch, len(d.Descriptor), dim)
	}
	d.Label = strings.TrimSpace(d.Label)
	if d.Label == "" {
		return fmt.Errorf("label is required")
	}
	if d.Dim == 0 {
		d.Dim = len(d.Descriptor)
	}
	return nil
}

// GroupByLabel groups descriptors by normalized label, keeping the first
// spelling seen as the display label. Groups are sorted by label.
func GroupByLabel(descs []StoredDescriptor) []facematch.LabeledDescriptors {
	index := make(map[string]int)
	var groups []facematch.LabeledDescriptors

	for _, d := range descs {
		key := facematch.NormalizeLabel(d.Label)
		i, ok := index[key]
		if !ok {
			i = len(groups)
			index[key] = i
			groups = append(groups, facematch.LabeledDescriptors{Label: d.Label})
		}
		groups[i].Descriptors = append(groups[i].Descriptors, d.Descriptor)
		groups[i].IDs = append(groups[i].IDs, d.ID)
	}

	sort.Slice(groups, func(a, b int) bool { return groups[a].Label < groups[b].Label })
	return groups
}

// NearestInMemory ranks descs by distance to query. It backs the stores
// without a vector operator.
func NearestInMemory(descs []StoredDescriptor, query []float32, metric string, limit int, maxDistance float64) []Neighbor {
	distance := facematch.DistanceFunc(metric)
	out := make([]Neighbor, 0, len(descs))
	for _, d := range descs {
		if len(d.Descriptor) != len(query) {
			continue
		}
		dist := distance(query, d.Descriptor)
		if maxDistance > 0 && dist > maxDistance {
			continue
		}
		out = append(out, Neighbor{Descriptor: d, Distance: dist})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Distance < out[j].Distance })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// BuildMatcher loads every descriptor of owner and returns a matcher over them.
func BuildMatcher(ctx context.Context, reader DescriptorReader, owner string, threshold float64, metric string) (*facematch.Matcher, error) {
	descs, err := reader.List(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("list descriptors: %w", err)
	}
	return facematch.NewMatcher(GroupByLabel(descs), threshold, metric)
}
