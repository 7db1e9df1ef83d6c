package agent

import (
	"os"
	"path/filepath"
	"strings"
)

// ProfileDir is the base directory for agent profile files.
var ProfileDir = "agents"

// ApplyProfile fills persona text from agents/<id>/SYSTEM.md and STYLE.md.
// A system prompt set in config wins over SYSTEM.md; STYLE.md is appended
// to any configured style guide. Missing files are ignored.
func (p *Persona) ApplyProfile() {
	dir := filepath.Join(ProfileDir, p.ID)
	if p.SystemPrompt == "" {
		p.SystemPrompt = readProfileFile(filepath.Join(dir, "SYSTEM.md"))
	}
	if style := readProfileFile(filepath.Join(dir, "STYLE.md")); style != "" {
		if p.StyleGuide == "" {
			p.StyleGuide = style
		} else {
			p.StyleGuide += "\n\n" + style
		}
	}
}

func readProfileFile(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}
