// Package spatial provides the broad-phase collision grid for the
// deterministic kernel.
//
// Cells are stored in row-major order over preallocated slices with
// entity ids rather than pointers, which keeps rebuilds allocation-free
// after warm-up. All coordinates are raw Q-format integers; no floating
// point enters pair generation, so candidate order is identical on every
// peer.
package spatial

// Pair is an unordered candidate pair, normalised so A < B.
type Pair struct {
	A, B uint32
}

// neighborMask is the four directional neighbours checked per cell:
// (-1,0), (0,-1), (-1,-1), (1,-1). Together with same-cell pairs this
// covers every adjacent pair exactly once regardless of iteration order.
var neighborMask = [4][2]int{{-1, 0}, {0, -1}, {-1, -1}, {1, -1}}

// Grid hashes entity centres into fixed-size square cells.
type Grid struct {
	cellSize   int64 // raw Q units
	cols, rows int
	cells      [][]uint32
	visited    map[Pair]struct{}
	pairs      []Pair
}

// NewGrid creates a grid covering a world of the given raw Q extents.
// cellSize should be at least the largest entity extent so touching
// entities are never more than one cell apart.
func NewGrid(worldWidth, worldHeight, cellSize int64) *Grid {
	cols := int((worldWidth + cellSize - 1) / cellSize)
	rows := int((worldHeight + cellSize - 1) / cellSize)
	if cols < 1 {
		cols = 1
	}
	if rows < 1 {
		rows = 1
	}

	cells := make([][]uint32, cols*rows)
	for i := range cells {
		cells[i] = make([]uint32, 0, 4)
	}

	return &Grid{
		cellSize: cellSize,
		cols:     cols,
		rows:     rows,
		cells:    cells,
		visited:  make(map[Pair]struct{}, 64),
		pairs:    make([]Pair, 0, 64),
	}
}

// Clear resets all cells without releasing their backing arrays.
func (g *Grid) Clear() {
	for i := range g.cells {
		g.cells[i] = g.cells[i][:0]
	}
}

// Insert hashes an entity centre into its cell. Out-of-world centres
// clamp to the border cells. Callers insert in ascending id order so
// every cell slice stays sorted.
func (g *Grid) Insert(entityID uint32, cx, cy int64) {
	col, row := g.cellCoords(cx, cy)
	idx := row*g.cols + col
	g.cells[idx] = append(g.cells[idx], entityID)
}

func (g *Grid) cellCoords(cx, cy int64) (col, row int) {
	col = int(cx / g.cellSize)
	row = int(cy / g.cellSize)
	if col < 0 {
		col = 0
	}
	if col >= g.cols {
		col = g.cols - 1
	}
	if row < 0 {
		row = 0
	}
	if row >= g.rows {
		row = g.rows - 1
	}
	return col, row
}

// CandidatePairs returns every unordered pair sharing a cell or sitting
// in directly adjacent cells, deduplicated and in a deterministic order.
// The returned slice is reused on the next call.
func (g *Grid) CandidatePairs() []Pair {
	g.pairs = g.pairs[:0]
	for k := range g.visited {
		delete(g.visited, k)
	}

	for row := 0; row < g.rows; row++ {
		for col := 0; col < g.cols; col++ {
			cell := g.cells[row*g.cols+col]
			if len(cell) == 0 {
				continue
			}

			// Pairs within the cell.
			for i := 0; i < len(cell); i++ {
				for j := i + 1; j < len(cell); j++ {
					g.addPair(cell[i], cell[j])
				}
			}

			// Pairs across the directional neighbours.
			for _, d := range neighborMask {
				nc, nr := col+d[0], row+d[1]
				if nc < 0 || nc >= g.cols || nr < 0 || nr >= g.rows {
					continue
				}
				other := g.cells[nr*g.cols+nc]
				for _, a := range cell {
					for _, b := range other {
						g.addPair(a, b)
					}
				}
			}
		}
	}
	return g.pairs
}

func (g *Grid) addPair(a, b uint32) {
	if a == b {
		return
	}
	if a > b {
		a, b = b, a
	}
	p := Pair{A: a, B: b}
	if _, seen := g.visited[p]; seen {
		return
	}
	g.visited[p] = struct{}{}
	g.pairs = append(g.pairs, p)
}

// Stats reports occupancy for the debug endpoints.
func (g *Grid) Stats() GridStats {
	var total, maxInCell, nonEmpty int
	for _, cell := range g.cells {
		n := len(cell)
		total += n
		if n > maxInCell {
			maxInCell = n
		}
		if n > 0 {
			nonEmpty++
		}
	}
	return GridStats{
		TotalCells:    len(g.cells),
		NonEmptyCells: nonEmpty,
		TotalEntities: total,
		MaxInCell:     maxInCell,
	}
}

// GridStats contains grid occupancy counters.
type GridStats struct {
	TotalCells    int
	NonEmptyCells int
	TotalEntities int
	MaxInCell     int
}

// Dimensions returns the grid shape.
func (g *Grid) Dimensions() (cols, rows int, cellSize int64) {
	return g.cols, g.rows, g.cellSize
}
