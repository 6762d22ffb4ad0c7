package presence

import (
	"strings"

	"github.com/MarcoPoloResearchLab/inadialog/backend/internal/geometry"
)

const smoothingWindow = 8

// TrailPath turns raw pointer samples into smoothed SVG path data. Each
// sample extends the committed path by the average of the last eight
// samples; the tail is previewed with averages over shrinking windows so the
// stroke reaches the pointer without jitter.
type TrailPath struct {
	buffer []geometry.Point
	path   strings.Builder
}

// NewTrailPath starts a path at start.
func NewTrailPath(start geometry.Point) *TrailPath {
	trail := &TrailPath{buffer: make([]geometry.Point, 0, smoothingWindow+1)}
	trail.path.WriteString("M ")
	writeCoordinates(&trail.path, start)
	return trail
}

// Append adds a sample and returns the current path data.
func (p *TrailPath) Append(point geometry.Point) string {
	p.buffer = append(p.buffer, point)
	if len(p.buffer) > smoothingWindow {
		p.buffer = append(p.buffer[:0], p.buffer[len(p.buffer)-smoothingWindow:]...)
	}

	p.path.WriteString("L ")
	writeCoordinates(&p.path, average(p.buffer))

	var tail strings.Builder
	if length := len(p.buffer); length%2 == 1 || length >= smoothingWindow {
		for offset := 2; offset < length; offset += 2 {
			tail.WriteString("L ")
			writeCoordinates(&tail, average(p.buffer[offset:]))
		}
	}
	return p.path.String() + tail.String()
}

func average(points []geometry.Point) geometry.Point {
	var sum geometry.Point
	for _, point := range points {
		sum = sum.Add(point)
	}
	count := float64(len(points))
	return geometry.Point{X: sum.X / count, Y: sum.Y / count}
}

func writeCoordinates(builder *strings.Builder, point geometry.Point) {
	builder.WriteString(geometry.FormatNumber(point.X))
	builder.WriteByte(' ')
	builder.WriteString(geometry.FormatNumber(point.Y))
	builder.WriteByte(' ')
}
