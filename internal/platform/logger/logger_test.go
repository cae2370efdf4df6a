package logger

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewWithWriter(t *testing.T) {
	var buf bytes.Buffer
	NewWithWriter(&buf, "development").Debug("visible")
	assert.Contains(t, buf.String(), `"service":"gatehouse"`)
	assert.Contains(t, buf.String(), "visible")

	buf.Reset()
	NewWithWriter(&buf, "production").Debug("hidden")
	assert.Empty(t, buf.String())
}
