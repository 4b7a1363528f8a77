//go:build gdal

package main

import "github.com/twpayne/go-dsm2las/gdalraster"

func init() {
	loaders["gdal"] = gdalraster.Load
}
