// Package sceneio loads the scene-element CSV named on the command line and
// derives the fixed per-element displacement table used by raygeom.Generate.
package sceneio

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"os"
	"sort"
	"strconv"

	"github.com/nplex/tracecoord/internal/raygeom"
)

// displacementSeed is fixed so a given scene CSV always produces the same
// per-element displacement table across restarts: the displacement vector
// must stay fixed for the life of the process, not merely stable within
// one run.
const displacementSeed = 1

// Load reads a headered CSV with columns x,y,z,r and returns the elements
// sorted by x, plus a displacement vector per element drawn once from a
// fixed seed.
func Load(filename string) ([]raygeom.SceneElement, []raygeom.Displacement, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, nil, fmt.Errorf("open scene csv: %w", err)
	}
	defer file.Close()

	r := csv.NewReader(file)
	header, err := r.Read()
	if err != nil {
		return nil, nil, fmt.Errorf("read scene csv header: %w", err)
	}
	cols, err := columnIndex(header)
	if err != nil {
		return nil, nil, err
	}

	var elements []raygeom.SceneElement
	for {
		row, err := r.Read()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, nil, fmt.Errorf("read scene csv row: %w", err)
		}
		el, err := parseRow(row, cols)
		if err != nil {
			return nil, nil, err
		}
		elements = append(elements, el)
	}

	sort.Slice(elements, func(i, j int) bool { return elements[i].X < elements[j].X })

	rng := rand.New(rand.NewSource(displacementSeed))
	displacements := make([]raygeom.Displacement, len(elements))
	for i := range displacements {
		displacements[i] = raygeom.Displacement{
			X: rng.Float64()*2 - 1,
			Y: rng.Float64()*2 - 1,
			Z: rng.Float64()*2 - 1,
		}
	}

	return elements, displacements, nil
}

type columns struct{ x, y, z, r int }

func columnIndex(header []string) (columns, error) {
	idx := map[string]int{}
	for i, name := range header {
		idx[name] = i
	}
	var cols columns
	for _, pair := range []struct {
		name string
		dst  *int
	}{
		{"x", &cols.x}, {"y", &cols.y}, {"z", &cols.z}, {"r", &cols.r},
	} {
		i, ok := idx[pair.name]
		if !ok {
			return columns{}, fmt.Errorf("scene csv missing column %q", pair.name)
		}
		*pair.dst = i
	}
	return cols, nil
}

func parseRow(row []string, cols columns) (raygeom.SceneElement, error) {
	parse := func(i int) (float64, error) {
		return strconv.ParseFloat(row[i], 64)
	}
	x, err := parse(cols.x)
	if err != nil {
		return raygeom.SceneElement{}, fmt.Errorf("parse x: %w", err)
	}
	y, err := parse(cols.y)
	if err != nil {
		return raygeom.SceneElement{}, fmt.Errorf("parse y: %w", err)
	}
	z, err := parse(cols.z)
	if err != nil {
		return raygeom.SceneElement{}, fmt.Errorf("parse z: %w", err)
	}
	rad, err := parse(cols.r)
	if err != nil {
		return raygeom.SceneElement{}, fmt.Errorf("parse r: %w", err)
	}
	return raygeom.SceneElement{X: x, Y: y, Z: z, R: rad}, nil
}
