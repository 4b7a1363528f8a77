package dsm2las

import "context"

// A Sink consumes a point cloud.
type Sink interface {
	WritePoints(ctx context.Context, points []Point) error
}

// A GeoKeySink is a Sink that can record the CRS of the points it writes.
type GeoKeySink interface {
	Sink
	SetGeoKeyDirectory(geoKeyDirectory *GeoKeyDirectory)
}

var (
	_ GeoKeySink = &LASWriter{}
	_ Sink       = &TextWriter{}
	_ Sink       = &Txt2LAS{}
)
