package version

import (
	"strings"
	"testing"
)

func TestGet(t *testing.T) {
	v := Get()
	if v == "" || strings.ContainsAny(v, " \n") {
		t.Errorf("Get() = %q", v)
	}
}

func TestFull(t *testing.T) {
	old := Commit
	defer func() { Commit = old }()

	Commit = "0123456789abcdef"
	if got, want := Full(), Get()+" (0123456789ab)"; got != want {
		t.Errorf("Full() = %q, want %q", got, want)
	}
}
