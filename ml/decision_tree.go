package ml

import (
	"errors"
	"math"
	"sort"
)

const maxBorderCount = 1024

type TreeSplit struct {
	FeatureIdx int     `json:"feature_idx"`
	Threshold  float64 `json:"threshold"`
}

// ObliviousTree uses one split per level, so a tree of depth d has 2^d leaves
// and the leaf index is the bit pattern of the split outcomes.
type ObliviousTree struct {
	Splits     []TreeSplit `json:"splits"`
	LeafValues []float64   `json:"leaf_values"`
}

func (t *ObliviousTree) Predict(features []float64) (float64, error) {
	if len(t.LeafValues) != 1<<len(t.Splits) {
		return 0, errors.New("invalid tree state")
	}
	idx := 0
	for level, split := range t.Splits {
		if split.FeatureIdx < 0 || split.FeatureIdx >= len(features) {
			return 0, errors.New("feature index out of range")
		}
		if features[split.FeatureIdx] > split.Threshold {
			idx |= 1 << level
		}
	}
	return t.LeafValues[idx], nil
}

// quantizedData bins are column-major; bin b means b borders lie below the value.
type quantizedData struct {
	borders [][]float64
	bins    [][]uint16
}

func quantize(features [][]float64, borderCount int) *quantizedData {
	if borderCount <= 0 {
		borderCount = 254
	}
	if borderCount > maxBorderCount {
		borderCount = maxBorderCount
	}

	featureCount := len(features[0])
	q := &quantizedData{
		borders: make([][]float64, featureCount),
		bins:    make([][]uint16, featureCount),
	}
	column := make([]float64, len(features))
	for j := 0; j < featureCount; j++ {
		for i := range features {
			column[i] = features[i][j]
		}
		borders := selectBorders(column, borderCount)
		bins := make([]uint16, len(features))
		for i, v := range column {
			bins[i] = uint16(sort.SearchFloat64s(borders, v))
		}
		q.borders[j] = borders
		q.bins[j] = bins
	}
	return q
}

func selectBorders(values []float64, borderCount int) []float64 {
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	unique := sorted[:0]
	for i, v := range sorted {
		if i == 0 || v != unique[len(unique)-1] {
			unique = append(unique, v)
		}
	}
	if len(unique) < 2 {
		return nil
	}

	if len(unique)-1 <= borderCount {
		borders := make([]float64, len(unique)-1)
		for k := range borders {
			borders[k] = (unique[k] + unique[k+1]) / 2
		}
		return borders
	}

	borders := make([]float64, 0, borderCount)
	for k := 1; k <= borderCount; k++ {
		idx := k * len(unique) / (borderCount + 1)
		if idx < 1 {
			idx = 1
		}
		if idx > len(unique)-1 {
			idx = len(unique) - 1
		}
		border := (unique[idx-1] + unique[idx]) / 2
		if len(borders) == 0 || border > borders[len(borders)-1] {
			borders = append(borders, border)
		}
	}
	return borders
}

func fitObliviousTree(data *quantizedData, rows []int, gradients []float64, depth int, l2 float64, leafValue func(members []int) float64) ObliviousTree {
	leafOf := make([]int, len(rows))
	splits := make([]TreeSplit, 0, depth)

	for level := 0; level < depth; level++ {
		numLeaves := 1 << level
		bestFeature, bestBorder := -1, -1
		bestScore := math.Inf(-1)
		baseScore := 0.0

		for j, borders := range data.borders {
			nb := len(borders) + 1
			if nb < 2 {
				continue
			}
			sums := make([]float64, numLeaves*nb)
			counts := make([]float64, numLeaves*nb)
			bins := data.bins[j]
			for r, i := range rows {
				idx := leafOf[r]*nb + int(bins[i])
				sums[idx] += gradients[i]
				counts[idx]++
			}

			scores := make([]float64, nb-1)
			leafBase := 0.0
			for leaf := 0; leaf < numLeaves; leaf++ {
				offset := leaf * nb
				totalSum, totalCount := 0.0, 0.0
				for b := 0; b < nb; b++ {
					totalSum += sums[offset+b]
					totalCount += counts[offset+b]
				}
				leafBase += totalSum * totalSum / (totalCount + l2)

				leftSum, leftCount := 0.0, 0.0
				for k := 0; k < nb-1; k++ {
					leftSum += sums[offset+k]
					leftCount += counts[offset+k]
					rightSum := totalSum - leftSum
					rightCount := totalCount - leftCount
					scores[k] += leftSum*leftSum/(leftCount+l2) + rightSum*rightSum/(rightCount+l2)
				}
			}
			baseScore = leafBase

			for k, score := range scores {
				if score > bestScore {
					bestScore = score
					bestFeature = j
					bestBorder = k
				}
			}
		}

		if bestFeature < 0 || bestScore <= baseScore {
			break
		}

		bins := data.bins[bestFeature]
		for r, i := range rows {
			if int(bins[i]) > bestBorder {
				leafOf[r] |= 1 << level
			}
		}
		splits = append(splits, TreeSplit{
			FeatureIdx: bestFeature,
			Threshold:  data.borders[bestFeature][bestBorder],
		})
	}

	members := make([][]int, 1<<len(splits))
	for r, i := range rows {
		members[leafOf[r]] = append(members[leafOf[r]], i)
	}
	leaves := make([]float64, len(members))
	for leaf, m := range members {
		if len(m) > 0 {
			leaves[leaf] = leafValue(m)
		}
	}
	return ObliviousTree{Splits: splits, LeafValues: leaves}
}
