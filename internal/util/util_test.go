package util

import (
	"bytes"
	"log"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInitLoggerLevels(t *testing.T) {
	var buf bytes.Buffer

	InitLoggerWithWriter(&buf, false)
	GetLogger().Debug("hidden")
	Component("transport").Info("shown", "size", 10)
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "component=transport")
	assert.Contains(t, buf.String(), "size=10")

	buf.Reset()
	InitLoggerWithWriter(&buf, true)
	GetLogger().Debug("visible")
	assert.Contains(t, buf.String(), "level=DEBUG msg=visible")
}

func TestSetupGlobalLogger(t *testing.T) {
	var buf bytes.Buffer
	InitLoggerWithWriter(&buf, false)
	t.Cleanup(func() {
		log.SetOutput(os.Stderr)
		log.SetFlags(log.LstdFlags)
	})

	SetupGlobalLogger()
	log.Printf("device %s offline\n", "emulator-5554")
	assert.Contains(t, buf.String(), `msg="device emulator-5554 offline"`)
	assert.Contains(t, buf.String(), "source=stdlog")

	buf.Reset()
	GetCompatLogger().Warnf("retry %d", 2)
	assert.Contains(t, buf.String(), `level=WARN msg="retry 2"`)
}

func TestIsVerbose(t *testing.T) {
	old := os.Args
	t.Cleanup(func() { os.Args = old })

	os.Args = []string{"recordscreen", "monitor", "--verbose"}
	assert.True(t, IsVerbose())
	os.Args = []string{"recordscreen", "monitor"}
	assert.False(t, IsVerbose())
}
