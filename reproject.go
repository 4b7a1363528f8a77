package dsm2las

import (
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/twpayne/go-proj/v10"
)

type crsPair struct {
	source string
	target string
}

// A Reprojector transforms points between coordinate reference systems.
type Reprojector struct {
	cacheSize int
	pjCache   *lru.Cache[crsPair, *proj.PJ]
}

// A ReprojectorOption sets an option on a Reprojector.
type ReprojectorOption func(*Reprojector)

// NewReprojector returns a new Reprojector with the given options.
func NewReprojector(options ...ReprojectorOption) (*Reprojector, error) {
	r := &Reprojector{
		cacheSize: 8,
	}
	for _, option := range options {
		option(r)
	}

	var err error
	r.pjCache, err = lru.NewWithEvict(r.cacheSize, func(key crsPair, value *proj.PJ) {
		value.Destroy()
	})
	if err != nil {
		return nil, err
	}
	return r, nil
}

// WithTransformerCacheSize sets the number of transformers kept.
func WithTransformerCacheSize(cacheSize int) ReprojectorOption {
	return func(r *Reprojector) {
		r.cacheSize = cacheSize
	}
}

// Close destroys all cached transformers.
func (r *Reprojector) Close() {
	r.pjCache.Purge()
}

// Reproject transforms points in place from source to target. Coordinates are
// always in easting, northing (or longitude, latitude) order, whatever the axis
// order of the CRS definitions. Z is transformed too, so geocentric and
// vertical targets receive correct heights.
func (r *Reprojector) Reproject(points []Point, source, target string) error {
	if len(points) == 0 || source == target {
		return nil
	}
	pj, err := r.pj(source, target)
	if err != nil {
		return err
	}

	coordsFlat := make([]float64, 3*len(points))
	coords := make([][]float64, len(points))
	for i, point := range points {
		coordsFlat[3*i] = point.X
		coordsFlat[3*i+1] = point.Y
		coordsFlat[3*i+2] = point.Z
		coords[i] = coordsFlat[3*i : 3*i+3]
	}
	if err := pj.ForwardFloat64Slices(coords); err != nil {
		return err
	}
	for i, coord := range coords {
		points[i] = Point{X: coord[0], Y: coord[1], Z: coord[2]}
	}
	return nil
}

func (r *Reprojector) pj(source, target string) (*proj.PJ, error) {
	key := crsPair{source: source, target: target}
	if pj, ok := r.pjCache.Get(key); ok {
		transformerCacheHits.Inc()
		return pj, nil
	}
	transformerCacheMisses.Inc()

	pj, err := proj.NewCRSToCRS(source, target, nil)
	if err != nil {
		return nil, err
	}
	defer pj.Destroy()
	normalizedPJ, err := pj.NormalizeForVisualization()
	if err != nil {
		return nil, err
	}
	r.pjCache.Add(key, normalizedPJ)
	return normalizedPJ, nil
}
