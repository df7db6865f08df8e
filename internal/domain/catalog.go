package domain

// Voice identifies a narration voice offered by the speech synthesizer.
type Voice struct {
	ID      string
	Label   string
	Premium bool
}

// Background identifies a looping background clip bundled with the service.
type Background struct {
	ID      string
	Label   string
	Premium bool
}

// Voices is the closed set of selectable narration voices. Requests naming a
// voice outside this set are rejected at admission.
var Voices = []Voice{
	{ID: "en_us_002", Label: "Jessie (US)"},
	{ID: "en_us_006", Label: "Joey (US)"},
	{ID: "en_uk_001", Label: "Narrator (UK)"},
	{ID: "en_female_samc", Label: "Empathetic"},
	{ID: "en_male_cody", Label: "Serious"},
	{ID: "en_male_funny", Label: "Wacky", Premium: true},
	{ID: "en_us_ghostface", Label: "Ghostface", Premium: true},
	{ID: "en_female_makeup", Label: "Stylist", Premium: true},
	{ID: "en_male_jomboy", Label: "Jomboy", Premium: true},
	{ID: "es_mx_002", Label: "Warm (MX)", Premium: true},
}

// Backgrounds is the closed set of selectable background clips.
var Backgrounds = []Background{
	{ID: "minecraft_parkour", Label: "Minecraft Parkour"},
	{ID: "subway_surfers", Label: "Subway Surfers"},
	{ID: "satisfying_slime", Label: "Satisfying Slime"},
	{ID: "gta_ramps", Label: "GTA Ramps", Premium: true},
	{ID: "cooking_macro", Label: "Cooking Macro", Premium: true},
}

var (
	voiceIDs      = indexVoices()
	backgroundIDs = indexBackgrounds()
)

func indexVoices() map[string]struct{} {
	set := make(map[string]struct{}, len(Voices))
	for _, v := range Voices {
		set[v.ID] = struct{}{}
	}
	return set
}

func indexBackgrounds() map[string]struct{} {
	set := make(map[string]struct{}, len(Backgrounds))
	for _, b := range Backgrounds {
		set[b.ID] = struct{}{}
	}
	return set
}

// ValidVoice reports whether id names a known voice.
func ValidVoice(id string) bool {
	_, ok := voiceIDs[id]
	return ok
}

// ValidBackground reports whether id names a known background clip.
func ValidBackground(id string) bool {
	_, ok := backgroundIDs[id]
	return ok
}

const (
	DefaultVoiceID      = "en_us_002"
	DefaultBackgroundID = "minecraft_parkour"
)
