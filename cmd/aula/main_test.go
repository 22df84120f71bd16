package main

import (
	"strings"
	"testing"

	"github.com/nickknissen/aula-sub000/internal/buildinfo"
)

func TestVersionStringCarriesBuildMetadata(t *testing.T) {
	origVersion, origCommit, origDate := buildinfo.Version, buildinfo.Commit, buildinfo.BuildDate
	t.Cleanup(func() {
		buildinfo.Version, buildinfo.Commit, buildinfo.BuildDate = origVersion, origCommit, origDate
	})

	buildinfo.Version = "1.2.3"
	buildinfo.Commit = "abc1234"
	buildinfo.BuildDate = "2026-08-29T00:00:00Z"

	got := versionString()
	for _, want := range []string{"1.2.3", "abc1234", "2026-08-29T00:00:00Z"} {
		if !strings.Contains(got, want) {
			t.Errorf("versionString() = %q, missing %q", got, want)
		}
	}
}
