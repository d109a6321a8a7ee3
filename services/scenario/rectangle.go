// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package scenario

// rectangleRowStride separates row values so every cell value is unique.
const rectangleRowStride = 100

// rectangle builds a width x height grid where each interior cell has its
// left and upper neighbours as parents. Border cells are promoted to roots
// before they receive any parent, so edges are added between roots and
// growing aggregating regions. Data propagation is disabled; the scenario
// measures structural cost only.
func (r *run) rectangle() ([]*SumNode, error) {
	g := r.graph
	w, h := r.spec.Width, r.spec.Height
	grid := make([][]*SumNode, 0, h)
	edges := 0

	err := r.step("build", func() error {
		for y := 0; y < h; y++ {
			if err := r.ctx.Err(); err != nil {
				return err
			}
			line := make([]*SumNode, 0, w)
			for x := 0; x < w; x++ {
				var parents []*SumNode
				if x > 0 {
					parents = append(parents, line[x-1])
				}
				if y > 0 {
					parents = append(parents, grid[y-1][x])
				}
				node := g.NewNode(int64(x + y*rectangleRowStride))
				if x == 0 || y == 0 {
					g.Prepare(node)
				}
				for _, parent := range parents {
					g.AddChild(parent, node)
					edges++
				}
				line = append(line, node)
			}
			grid = append(grid, line)
			r.report("build", (y+1)*w, w*h)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	root := grid[0][0]
	r.result.Nodes = w * h
	r.result.Edges = edges
	r.result.RootValue = g.Aggregate(root).Value
	r.result.Consistent = true
	return []*SumNode{root}, nil
}
