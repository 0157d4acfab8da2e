package extraction

import (
	"github.com/nikhilbhutani/docingest/internal/config"
)

// Tier is one step of a route. MaxSize of zero means no ceiling.
type Tier struct {
	Strategy string
	MaxSize  int64
}

// Applies reports whether the tier may run for a file of the given size.
func (t Tier) Applies(size int64) bool {
	return t.MaxSize == 0 || size < t.MaxSize
}

// Route covers sizes in [MinSize, MaxSize). MaxSize of zero means unbounded.
type Route struct {
	MinSize int64
	MaxSize int64
	Tiers   []Tier
}

func (r Route) Contains(size int64) bool {
	return size >= r.MinSize && (r.MaxSize == 0 || size < r.MaxSize)
}

// Routes returns the size-based tier order for PDFs.
//
// The vision fallback in the last band keeps its 70 MB ceiling even though
// the band starts at 80 MB, so with default thresholds it never runs.
func Routes(cfg config.ExtractionConfig) []Route {
	return []Route{
		{
			MinSize: 0,
			MaxSize: cfg.FastParserMaxBytes,
			Tiers: []Tier{
				{Strategy: MethodFastParser},
				{Strategy: MethodNativeParser},
				{Strategy: MethodVision, MaxSize: cfg.SmallVisionFallbackMaxBytes},
			},
		},
		{
			MinSize: cfg.FastParserMaxBytes,
			MaxSize: cfg.DirectVisionMaxBytes,
			Tiers: []Tier{
				{Strategy: MethodVision},
				{Strategy: MethodNativeParser},
			},
		},
		{
			MinSize: cfg.DirectVisionMaxBytes,
			MaxSize: cfg.ChunkedVisionMaxBytes,
			Tiers: []Tier{
				{Strategy: MethodChunkedVision},
				{Strategy: MethodNativeParser},
			},
		},
		{
			MinSize: cfg.ChunkedVisionMaxBytes,
			Tiers: []Tier{
				{Strategy: MethodNativeParser},
				{Strategy: MethodVision, MaxSize: cfg.LargeVisionFallbackMaxBytes},
			},
		},
	}
}

// Plan returns the tiers to try for in, in order, already filtered by size.
func Plan(routes []Route, in Input) []Tier {
	if !in.IsPDF() {
		if in.IsPlainText() {
			return []Tier{{Strategy: MethodPlainText}}
		}
		return []Tier{{Strategy: MethodDocconv}}
	}

	size := in.size()
	for _, r := range routes {
		if !r.Contains(size) {
			continue
		}
		var tiers []Tier
		for _, t := range r.Tiers {
			if t.Applies(size) {
				tiers = append(tiers, t)
			}
		}
		return tiers
	}
	return nil
}
