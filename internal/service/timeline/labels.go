package timeline

import "strings"

// ParameterLabels holds the display vocabulary for one parameter in one language.
// Options are positionally aligned across languages.
type ParameterLabels struct {
	Question    string
	Options     []string
	Placeholder string
	HelpButton  string
}

// Labels is keyed by parameter, then language.
type Labels struct {
	Params map[string]map[string]ParameterLabels
	// Swatches maps a parameter's canonical (English) option, lowercased,
	// to a CSS color.
	Swatches map[string]map[string]string
}

// Decorate returns the display value and swatch for a raw answer value.
func (l Labels) Decorate(parameter, language, value string) (display, swatch string) {
	byLang, ok := l.Params[parameter]
	if !ok {
		return "", ""
	}
	idx := indexFold(byLang["en"].Options, value)
	if idx < 0 {
		idx = indexFold(byLang[language].Options, value)
	}
	if idx < 0 {
		return "", ""
	}
	if opts := byLang[language].Options; idx < len(opts) && opts[idx] != value {
		display = opts[idx]
	}
	if en := byLang["en"].Options; idx < len(en) {
		swatch = l.Swatches[parameter][strings.ToLower(en[idx])]
	}
	return display, swatch
}

// Lookup returns the labels for a parameter in a language.
func (l Labels) Lookup(parameter, language string) (ParameterLabels, bool) {
	pl, ok := l.Params[parameter][language]
	return pl, ok
}

func indexFold(options []string, value string) int {
	value = strings.TrimSpace(value)
	for i, o := range options {
		if strings.EqualFold(o, value) {
			return i
		}
	}
	return -1
}

// DefaultLabels returns the built-in English/Hindi soil vocabulary.
func DefaultLabels() Labels {
	return Labels{
		Params: map[string]map[string]ParameterLabels{
			"name": {
				"en": {Question: "Welcome! What is your name?", Placeholder: "Enter your name...", HelpButton: "Need help"},
				"hi": {Question: "स्वागत है! आपका नाम क्या है?", Placeholder: "अपना नाम लिखें...", HelpButton: "मदद चाहिए"},
			},
			"color": {
				"en": {Question: "What is the color of your soil?", Options: []string{"Black", "Red", "Brown", "Yellow", "Grey"}, Placeholder: "Enter soil color...", HelpButton: "I don't know / Need help"},
				"hi": {Question: "आपकी मिट्टी का रंग क्या है?", Options: []string{"काली", "लाल", "भूरी", "पीली", "स्लेटी"}, Placeholder: "मिट्टी का रंग लिखें...", HelpButton: "पता नहीं / मदद चाहिए"},
			},
			"moisture": {
				"en": {Options: []string{"Dry", "Moist", "Wet", "Very Dry"}},
				"hi": {Options: []string{"सूखी", "थोड़ी नम", "बहुत गीली", "बहुत सूखी"}},
			},
			"smell": {
				"en": {Options: []string{"Earthy", "Sweet", "Sour", "Rotten", "No Smell"}},
				"hi": {Options: []string{"मिट्टी जैसी", "थोड़ी मीठी", "खट्टी", "सड़ी हुई", "कोई गंध नहीं"}},
			},
			"ph": {
				"en": {Options: []string{"Acidic", "Neutral", "Alkaline"}},
				"hi": {Options: []string{"अम्लीय", "तटस्थ", "क्षारीय"}},
			},
			"soil_type": {
				"en": {Options: []string{"Clay", "Sandy", "Loamy", "Silty"}},
				"hi": {Options: []string{"चिकनी (clay)", "रेतिली (sandy)", "दोमट (loamy)", "गादयुक्त (silty)"}},
			},
			"earthworms": {
				"en": {Options: []string{"Many", "Few", "None"}},
				"hi": {Options: []string{"बहुत", "थोड़े", "नहीं"}},
			},
			"fertilizer_used": {
				"en": {Options: []string{"Urea", "DAP", "NPK", "Organic / Vermicompost", "None"}},
				"hi": {Options: []string{"यूरिया", "डीएपी", "एनपीके", "जैविक / वर्मी कम्पोस्ट", "कुछ नहीं"}},
			},
		},
		Swatches: map[string]map[string]string{
			"color": {
				"black":  "#1f1a17",
				"red":    "#8b3a2b",
				"brown":  "#6b4f3a",
				"yellow": "#c9a227",
				"grey":   "#8a8a85",
			},
		},
	}
}
