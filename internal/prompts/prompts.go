// Package prompts holds the system prompts sent to the models.
package prompts

import (
	"embed"
	"fmt"
	"strings"
)

//go:embed files/*.md
var files embed.FS

type Name string

const (
	// Preprocess condenses the request and history before the main call.
	Preprocess Name = "preprocess"
	// WebSearch condenses the request together with a fetched page.
	WebSearch Name = "web_search"
	// Answer instructs the main model and describes the output dialect.
	Answer Name = "answer"
	// Vision describes a photo sent with the request.
	Vision Name = "vision"
)

// Set is the loaded prompt text keyed by name.
type Set map[Name]string

// Load reads every prompt embedded in the binary.
func Load() (Set, error) {
	set := make(Set)
	for _, name := range []Name{Preprocess, WebSearch, Answer, Vision} {
		b, err := files.ReadFile("files/" + string(name) + ".md")
		if err != nil {
			return nil, fmt.Errorf("read prompt %s: %w", name, err)
		}
		set[name] = strings.TrimSpace(string(b))
	}
	return set, nil
}

func (s Set) Get(name Name) string {
	return s[name]
}
