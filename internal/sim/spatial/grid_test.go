package spatial

import "testing"

const q = int64(1) << 16 // Q16.16 unit

// TestGridSameCellPairs verifies entities hashed into one cell pair up.
func TestGridSameCellPairs(t *testing.T) {
	g := NewGrid(1920*q, 1080*q, 64*q)

	g.Insert(1, 10*q, 10*q)
	g.Insert(2, 20*q, 20*q)
	g.Insert(3, 30*q, 30*q)

	pairs := g.CandidatePairs()
	want := []Pair{{1, 2}, {1, 3}, {2, 3}}
	if len(pairs) != len(want) {
		t.Fatalf("pairs = %v, want %v", pairs, want)
	}
	for i, p := range want {
		if pairs[i] != p {
			t.Errorf("pair %d = %v, want %v", i, pairs[i], p)
		}
	}
}

// TestGridNeighborPairs verifies the directional mask reaches all eight
// surrounding cells exactly once: each adjacent pair shows up once no
// matter which side of the boundary either entity sits on.
func TestGridNeighborPairs(t *testing.T) {
	tests := []struct {
		name   string
		ax, ay int64 // cell coordinates for entity 1
		bx, by int64 // cell coordinates for entity 2
	}{
		{"right", 5, 5, 6, 5},
		{"left", 5, 5, 4, 5},
		{"below", 5, 5, 5, 6},
		{"above", 5, 5, 5, 4},
		{"diag down-right", 5, 5, 6, 6},
		{"diag down-left", 5, 5, 4, 6},
		{"diag up-right", 5, 5, 6, 4},
		{"diag up-left", 5, 5, 4, 4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := NewGrid(1920*q, 1080*q, 64*q)
			g.Insert(1, tt.ax*64*q+q, tt.ay*64*q+q)
			g.Insert(2, tt.bx*64*q+q, tt.by*64*q+q)

			pairs := g.CandidatePairs()
			if len(pairs) != 1 || pairs[0] != (Pair{1, 2}) {
				t.Errorf("pairs = %v, want exactly {1,2}", pairs)
			}
		})
	}
}

// TestGridDistantNoPair verifies entities two cells apart never pair.
func TestGridDistantNoPair(t *testing.T) {
	g := NewGrid(1920*q, 1080*q, 64*q)
	g.Insert(1, 10*q, 10*q)
	g.Insert(2, 300*q, 10*q)

	if pairs := g.CandidatePairs(); len(pairs) != 0 {
		t.Errorf("pairs = %v, want none", pairs)
	}
}

// TestGridClampOutOfWorld verifies out-of-world centres land in border
// cells instead of panicking.
func TestGridClampOutOfWorld(t *testing.T) {
	g := NewGrid(1920*q, 1080*q, 64*q)
	g.Insert(1, -50*q, -50*q)
	g.Insert(2, 5000*q, 5000*q)

	stats := g.Stats()
	if stats.TotalEntities != 2 {
		t.Errorf("TotalEntities = %d, want 2", stats.TotalEntities)
	}
	if pairs := g.CandidatePairs(); len(pairs) != 0 {
		t.Errorf("opposite corners paired: %v", pairs)
	}
}

// TestGridClearReuse verifies Clear empties cells and the pair buffer
// rebuilds cleanly.
func TestGridClearReuse(t *testing.T) {
	g := NewGrid(1920*q, 1080*q, 64*q)
	g.Insert(1, 10*q, 10*q)
	g.Insert(2, 20*q, 20*q)
	_ = g.CandidatePairs()

	g.Clear()
	if stats := g.Stats(); stats.TotalEntities != 0 {
		t.Errorf("entities after Clear = %d", stats.TotalEntities)
	}

	g.Insert(3, 10*q, 10*q)
	g.Insert(4, 20*q, 20*q)
	pairs := g.CandidatePairs()
	if len(pairs) != 1 || pairs[0] != (Pair{3, 4}) {
		t.Errorf("pairs after reuse = %v, want {3,4}", pairs)
	}
}

func BenchmarkCandidatePairs(b *testing.B) {
	g := NewGrid(1920*q, 1080*q, 64*q)
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		g.Clear()
		for id := uint32(0); id < 64; id++ {
			g.Insert(id, int64(id%16)*120*q, int64(id/16)*120*q)
		}
		g.CandidatePairs()
	}
}
