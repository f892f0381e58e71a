package games

import (
	"regexp"
	"strings"
)

// SampleSource prefixes the IDs of the built-in sample library.
const SampleSource = "sample"

var sampleLibrary = []struct {
	title  string
	stores []string
}{
	{"Hades", []string{"steam", "epic"}},
	{"Outer Wilds", []string{"steam"}},
	{"Disco Elysium", []string{"steam", "gog"}},
	{"Hollow Knight", []string{"steam", "gog"}},
	{"Celeste", []string{"steam"}},
	{"Portal 2", []string{"steam"}},
	{"Stardew Valley", []string{"steam", "gog"}},
	{"Slay the Spire", []string{"steam"}},
	{"Subnautica", []string{"steam", "epic"}},
	{"It Takes Two", []string{"steam"}},
	{"Ori and the Will of the Wisps", []string{"steam"}},
	{"Control", []string{"steam", "epic", "gog"}},
}

// SampleGames returns the starter library used to seed an empty catalog.
func SampleGames() []UpsertInput {
	out := make([]UpsertInput, 0, len(sampleLibrary))
	for _, s := range sampleLibrary {
		out = append(out, UpsertInput{
			ID:     SampleSource + ":" + Slug(s.title),
			Title:  s.title,
			Stores: append([]string(nil), s.stores...),
		})
	}
	return out
}

var nonAlnum = regexp.MustCompile(`[^a-z0-9]+`)

// Slug lowercases title and joins its alphanumeric runs with dashes.
func Slug(title string) string {
	return strings.Trim(nonAlnum.ReplaceAllString(strings.ToLower(title), "-"), "-")
}
