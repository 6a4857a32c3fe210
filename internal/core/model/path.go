package model

import "strings"

// MapSourceName returns the map source part of a "<source>/<layer>" path.
func MapSourceName(path string) string {
	name, _, _ := strings.Cut(path, "/")
	return name
}

// LayerName returns everything after the first "/"; layer names may contain "/".
func LayerName(path string) string {
	_, layer, _ := strings.Cut(path, "/")
	return layer
}

func LayerPath(source, layer string) string {
	return source + "/" + layer
}
