package call

// Tile geometry in percent of the call area.
type Tile struct {
	Row    int
	Width  float64
	Height float64
}

const pairTileWidth = 45

// Layout places n tiles in rows of two. A lone tile in the last row spans
// the full width; every row gets an equal share of the height.
func Layout(n int) []Tile {
	if n <= 0 {
		return nil
	}
	rows := (n + 1) / 2
	height := 100 / float64(rows)

	tiles := make([]Tile, n)
	for i := range tiles {
		width := float64(pairTileWidth)
		if i == n-1 && n%2 == 1 {
			width = 100
		}
		tiles[i] = Tile{Row: i / 2, Width: width, Height: height}
	}
	return tiles
}
