package dsm2las

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	rastersOpened = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dsm2las_rasters_opened_total",
		Help: "The total number of rasters opened",
	})
	blocksDecoded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dsm2las_blocks_decoded_total",
		Help: "The total number of GeoTIFF strips and tiles decoded",
	})
	pointsProjected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dsm2las_points_projected_total",
		Help: "The total number of points projected from rasters",
	})
	noDataPointsSkipped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dsm2las_nodata_points_skipped_total",
		Help: "The total number of points dropped because their sample was nodata",
	})
	pointsWritten = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dsm2las_points_written_total",
		Help: "The total number of points written, by sink",
	}, []string{"sink"})
	transformerCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dsm2las_transformer_cache_hits_total",
		Help: "The total number of hits on the PROJ transformer cache",
	})
	transformerCacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dsm2las_transformer_cache_misses_total",
		Help: "The total number of misses on the PROJ transformer cache",
	})
)
