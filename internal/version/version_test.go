package version

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestString(t *testing.T) {
	oldVersion, oldCommit := Version, CommitID
	t.Cleanup(func() { Version, CommitID = oldVersion, oldCommit })

	Version = "v1.2.0"
	CommitID = "0123456789abcdef"
	assert.Contains(t, String(), "recordscreen v1.2.0 (0123456 ")
}

func TestFormatBuildTime(t *testing.T) {
	old := BuildTime
	t.Cleanup(func() { BuildTime = old })

	BuildTime = "unknown"
	assert.Equal(t, "unknown", formatBuildTime())

	BuildTime = "2024-03-01T10:20:30Z"
	assert.Equal(t, "Fri Mar 1 10:20:30 2024", formatBuildTime())
	assert.Equal(t, BuildTime, ClientInfo()["BuildTime"])
}
