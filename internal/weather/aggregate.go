package weather

// Summary describes a delivered series: basic statistics plus the list of
// calendar years it spans, which a filter UI uses to build its year selectors.
type Summary struct {
	Count     int     `json:"count"`
	Min       float64 `json:"min"`
	Max       float64 `json:"max"`
	Mean      float64 `json:"mean"`
	FirstYear int     `json:"firstYear,omitempty"`
	LastYear  int     `json:"lastYear,omitempty"`
	Years     []int   `json:"years"`
}

// Summarize computes a Summary for points, which must be in ascending order.
// An empty series yields a zero Summary with an empty year list.
func Summarize(points []Point) Summary {
	if len(points) == 0 {
		return Summary{Years: []int{}}
	}

	var sum float64
	minV := points[0].Value
	maxV := points[0].Value

	for _, p := range points {
		sum += p.Value
		if p.Value < minV {
			minV = p.Value
		}
		if p.Value > maxV {
			maxV = p.Value
		}
	}

	first := points[0].Timestamp.UTC().Year()
	last := points[len(points)-1].Timestamp.UTC().Year()

	years := make([]int, 0, last-first+1)
	for y := first; y <= last; y++ {
		years = append(years, y)
	}

	return Summary{
		Count:     len(points),
		Min:       minV,
		Max:       maxV,
		Mean:      sum / float64(len(points)),
		FirstYear: first,
		LastYear:  last,
		Years:     years,
	}
}
