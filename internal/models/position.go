package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
)

// MaxPositionLength is the largest encoded annotationPosition the server accepts.
const MaxPositionLength = 65000

// PositionPrecision is the number of decimals kept for annotation coordinates.
const PositionPrecision = 3

// ErrPayloadTooLarge is returned when an object's encoded form exceeds a server limit.
var ErrPayloadTooLarge = errors.New("payload too large")

type positionJSON struct {
	PageIndex int         `json:"pageIndex"`
	Width     *float64    `json:"width,omitempty"`
	Rects     [][]float64 `json:"rects,omitempty"`
	Paths     [][]float64 `json:"paths,omitempty"`
}

// Position is the decoded form of an annotationPosition value.
type Position struct {
	PageIndex int
	LineWidth float64
	Rects     []Rect
	Paths     []Path
}

func roundCoord(v float64) float64 {
	scale := math.Pow(10, PositionPrecision)
	return math.Round(v*scale) / scale
}

// EncodePosition builds the annotationPosition string. Ink annotations carry
// paths and a line width; every other kind carries rects.
func EncodePosition(pos Position, ink bool) (string, error) {
	out := positionJSON{PageIndex: pos.PageIndex}
	if ink {
		width := roundCoord(pos.LineWidth)
		out.Width = &width
		out.Paths = make([][]float64, 0, len(pos.Paths))
		for _, path := range pos.Paths {
			coords := make([]float64, 0, len(path)*2)
			for _, p := range path {
				coords = append(coords, roundCoord(p.X), roundCoord(p.Y))
			}
			out.Paths = append(out.Paths, coords)
		}
	} else {
		out.Rects = make([][]float64, 0, len(pos.Rects))
		for _, r := range pos.Rects {
			out.Rects = append(out.Rects, []float64{roundCoord(r.MinX), roundCoord(r.MinY), roundCoord(r.MaxX), roundCoord(r.MaxY)})
		}
	}

	data, err := json.Marshal(out)
	if err != nil {
		return "", fmt.Errorf("encode annotation position: %w", err)
	}
	if len(data) > MaxPositionLength {
		return "", fmt.Errorf("annotation position is %d bytes: %w", len(data), ErrPayloadTooLarge)
	}
	return string(data), nil
}

// DecodePosition parses an annotationPosition string.
func DecodePosition(s string) (Position, error) {
	var in positionJSON
	if err := json.Unmarshal([]byte(s), &in); err != nil {
		return Position{}, fmt.Errorf("decode annotation position: %w", err)
	}

	pos := Position{PageIndex: in.PageIndex}
	if in.Width != nil {
		pos.LineWidth = *in.Width
	}
	for i, r := range in.Rects {
		if len(r) != 4 {
			return Position{}, fmt.Errorf("decode annotation position: rect %d has %d coordinates", i, len(r))
		}
		pos.Rects = append(pos.Rects, Rect{MinX: r[0], MinY: r[1], MaxX: r[2], MaxY: r[3]})
	}
	for i, coords := range in.Paths {
		if len(coords)%2 != 0 {
			return Position{}, fmt.Errorf("decode annotation position: path %d has odd coordinate count", i)
		}
		path := make(Path, 0, len(coords)/2)
		for j := 0; j < len(coords); j += 2 {
			path = append(path, Point{X: coords[j], Y: coords[j+1]})
		}
		pos.Paths = append(pos.Paths, path)
	}
	return pos, nil
}

// Position returns the annotation position from the item's current state.
func (it *Item) Position() Position {
	pos := Position{Rects: it.Rects, Paths: it.Paths}
	pos.PageIndex, _ = strconv.Atoi(it.Field(FieldPageIndex))
	pos.LineWidth, _ = strconv.ParseFloat(it.Field(FieldLineWidth), 64)
	return pos
}

// SetPosition stores a decoded position on the item without recording a change.
func (it *Item) SetPosition(pos Position) {
	it.Rects = pos.Rects
	it.Paths = pos.Paths
	it.setFieldSilently(FieldPageIndex, strconv.Itoa(pos.PageIndex))
	if pos.LineWidth != 0 {
		it.setFieldSilently(FieldLineWidth, strconv.FormatFloat(pos.LineWidth, 'f', -1, 64))
	}
}

func (it *Item) setFieldSilently(key, value string) {
	for i := range it.Fields {
		if it.Fields[i].Key == key {
			it.Fields[i].Value = value
			return
		}
	}
	it.Fields = append(it.Fields, ItemField{Key: key, Value: value})
}
