// Package distance provides vector distance calculations for the semdex index.
package distance
