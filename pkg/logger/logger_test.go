package logger

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_ParsesLevel(t *testing.T) {
	assert.Equal(t, logrus.DebugLevel, New("debug", "development").GetLevel())
	assert.Equal(t, logrus.InfoLevel, New("chatty", "development").GetLevel())
}

func TestNew_ProductionUsesJSON(t *testing.T) {
	log := New("info", "production")
	var buf bytes.Buffer
	log.SetOutput(&buf)

	log.Component("coordinator").WithField("placementId", "p").Info("hello")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "coordinator", entry["component"])
	assert.Equal(t, "p", entry["placementId"])
	assert.Equal(t, "hello", entry["msg"])
}
