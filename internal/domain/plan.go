package domain

// Plan captures the limits of a subscription tier. Tier resolution happens
// upstream (the auth layer supplies a plan claim); this table only maps the
// resolved tier name to concrete limits.
type Plan struct {
	Name           string
	VideosPerMonth int
	MaxStoryChars  int
	Width          int
	Height         int
}

const (
	PlanFree     = "free"
	PlanPro      = "pro"
	PlanBusiness = "business"
)

var plans = map[string]Plan{
	PlanFree:     {Name: PlanFree, VideosPerMonth: 3, MaxStoryChars: 1000, Width: 720, Height: 1280},
	PlanPro:      {Name: PlanPro, VideosPerMonth: 50, MaxStoryChars: 3000, Width: 1080, Height: 1920},
	PlanBusiness: {Name: PlanBusiness, VideosPerMonth: 500, MaxStoryChars: 5000, Width: 2160, Height: 3840},
}

// PlanByName resolves a tier name, falling back to the free tier for unknown
// or empty names so a stale token never grants elevated limits.
func PlanByName(name string) Plan {
	if p, ok := plans[name]; ok {
		return p
	}
	return plans[PlanFree]
}
