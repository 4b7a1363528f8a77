// Package dsm2las converts digital surface models into point clouds.
package dsm2las

import "errors"

var (
	ErrNotHeightmap       = errors.New("not a heightmap")
	ErrInvalidScale       = errors.New("scale must be a positive integer")
	ErrNoGeoreference     = errors.New("raster has no georeference")
	ErrCoordinateOverflow = errors.New("coordinate cannot be represented")
	ErrNoSourceCRS        = errors.New("no source CRS")
	ErrRasterTooLarge     = errors.New("raster too large")
)

// A Coord is a coordinate, or a per-axis pixel size.
type Coord struct {
	X float64
	Y float64
}

// A Point is a point in a point cloud.
type Point struct {
	X float64
	Y float64
	Z float64
}
