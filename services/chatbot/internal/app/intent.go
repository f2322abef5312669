package app

import (
	"regexp"
	"strings"
)

// IntentKind is the routing decision for an inbound chat message.
type IntentKind string

const (
	IntentImage   IntentKind = "image"
	IntentCreator IntentKind = "creator"
	IntentFAQ     IntentKind = "faq"
	IntentGeneral IntentKind = "general"
)

// Intent is the result of Classify. FAQKey is set only for IntentFAQ.
type Intent struct {
	Kind   IntentKind
	FAQKey string
}

var imageMarkers = []string{
	"generate image",
	"generate an image",
	"create image",
	"create an image",
	"make image",
	"make an image",
	"draw ",
	"draw me",
	"draw a",
	"generate picture",
	"create picture",
	"make picture",
	"generate photo",
	"create photo",
	"image of",
	"picture of",
	"photo of",
	"illustration of",
	"artwork of",
	"painting of",
	"show me an image",
	"show me a picture",
}

var creatorMarkers = []string{
	"who created you",
	"who made you",
	"who built you",
	"who developed you",
	"who designed you",
	"who is your creator",
	"your creator",
	"made by",
	"created by",
	"who owns you",
	"kisne banaya",
	"tumhe kisne banaya",
	"aapko kisne banaya",
	"quién te creó",
	"qui t'a créé",
}

const creatorAnswer = "I was created by Nova AI team 🤖💻"

// faqAnswers is matched against the whole trimmed, lower-cased message.
var faqAnswers = map[string]string{
	"what is your name?": "I'm Chatboat, your friendly AI assistant 🛳️🤖",
	"how are you?":       "I'm doing great! Thanks for asking 😄",
	"what can you do?":   "I can chat with you, answer questions, and help with tasks! 🧠✨",
}

// Classify routes text; the first matching rule wins.
func Classify(text string) Intent {
	lower := strings.ToLower(strings.TrimSpace(text))
	if containsAny(lower, imageMarkers) {
		return Intent{Kind: IntentImage}
	}
	if containsAny(lower, creatorMarkers) {
		return Intent{Kind: IntentCreator}
	}
	if _, ok := faqAnswers[lower]; ok {
		return Intent{Kind: IntentFAQ, FAQKey: lower}
	}
	return Intent{Kind: IntentGeneral}
}

func containsAny(s string, markers []string) bool {
	for _, m := range markers {
		if strings.Contains(s, m) {
			return true
		}
	}
	return false
}

// Leading request phrases, stripped in order before the image prompt is sent.
var imagePromptPrefixes = []*regexp.Regexp{
	regexp.MustCompile(`(?i)^(please\s+)?generate\s+(an?\s+)?image\s+(of\s+)?`),
	regexp.MustCompile(`(?i)^(please\s+)?create\s+(an?\s+)?image\s+(of\s+)?`),
	regexp.MustCompile(`(?i)^(please\s+)?make\s+(an?\s+)?image\s+(of\s+)?`),
	regexp.MustCompile(`(?i)^(please\s+)?draw\s+me\s+(an?\s+)?`),
	regexp.MustCompile(`(?i)^(please\s+)?draw\s+`),
	regexp.MustCompile(`(?i)^(please\s+)?show\s+me\s+(an?\s+)?(image|picture|photo)\s+(of\s+)?`),
}

// ExtractImagePrompt drops request phrasing such as "draw me a" and keeps the
// subject. When nothing is left the whole message is the prompt.
func ExtractImagePrompt(text string) string {
	full := strings.TrimSpace(text)
	prompt := full
	for _, re := range imagePromptPrefixes {
		prompt = re.ReplaceAllString(prompt, "")
	}
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return full
	}
	return prompt
}
