package core

import (
	"os"
	"path/filepath"
	"strings"
	"unicode"
)

// CleanString trims all leading and trailing whitespace in `s` and optionally lowers it.
func CleanString(s string, lower ...bool) string {
	s = strings.TrimSpace(s)
	if len(lower) > 0 && lower[0] {
		return strings.ToLower(s)
	}
	return s
}

// TitleString cleans `s` and upper-cases the first letter of every word ("saint-jean" -> "Saint-Jean").
func TitleString(s string) string {
	s = CleanString(s, true)
	prev := ' '
	return strings.Map(func(r rune) rune {
		defer func() { prev = r }()
		if unicode.IsSpace(prev) || prev == '-' || prev == '\'' {
			return unicode.ToUpper(r)
		}
		return r
	}, s)
}

// Getwd returns the module root (the closest parent holding a go.mod).
// go test runs from the package directory, so config files are looked up from there.
// Outside of a source checkout (deployed binary) the current directory is returned.
func Getwd() string {
	wd, err := os.Getwd()
	if err != nil {
		return "."
	}
	currDir := wd
	for {
		if fi, err := os.Stat(filepath.Join(currDir, "go.mod")); err == nil && !fi.IsDir() {
			return currDir
		}
		newDir := filepath.Dir(currDir)
		if newDir == string(os.PathSeparator) || newDir == currDir {
			return wd
		}
		currDir = newDir
	}
}
