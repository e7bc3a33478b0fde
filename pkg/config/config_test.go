package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_DefaultValues(t *testing.T) {
	cfg := Load("sensor-node")

	assert.Equal(t, "tcp://broker.hivemq.com:1883", cfg.MQTTBroker)
	assert.Equal(t, "river-sensor-node", cfg.MQTTClientID)
	assert.Equal(t, 2*time.Second, cfg.MQTTReconnectInterval)

	assert.Equal(t, "river/monitoring/data", cfg.TopicData)
	assert.Equal(t, "river/alert/cam", cfg.TopicAlertCam)
	assert.Equal(t, "river/alert/image", cfg.TopicAlertImage)

	assert.Equal(t, 50.0, cfg.BaselineDistanceCM)
	assert.Equal(t, 5*time.Second, cfg.SampleInterval)
	assert.Equal(t, 60*time.Second, cfg.TrendInterval)
	assert.Equal(t, 300*time.Second, cfg.AlertCooldown)
	assert.Equal(t, 15.0, cfg.DangerRiseMinCM)
	assert.Equal(t, 7*time.Second, cfg.UploadTimeout)
	assert.Equal(t, 2*time.Minute, cfg.UploadMaxTotal)
	assert.Equal(t, 5*time.Second, cfg.CameraTimeout)
	assert.Equal(t, 30*24*time.Hour, cfg.RetrainWindow)
	assert.Equal(t, "photo", cfg.UploadField)

	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "json", cfg.LogFormat)

	require.NoError(t, cfg.Validate())
}

func TestLoad_EnvironmentVariables(t *testing.T) {
	t.Setenv("MQTT_BROKER", "ssl://broker.local:8883")
	t.Setenv("MQTT_CLIENT_ID", "cam-01")
	t.Setenv("BASELINE_DISTANCE_CM", "120.5")
	t.Setenv("SAMPLE_INTERVAL", "2500")
	t.Setenv("TREND_INTERVAL", "1m30s")
	t.Setenv("ALERT_COOLDOWN", "10m")
	t.Setenv("UPLOAD_INSECURE", "true")
	t.Setenv("REDIS_DB", "3")
	t.Setenv("UPLOAD_TIMEOUT", "3s")
	t.Setenv("CAMERA_TIMEOUT", "1500")

	cfg := Load("capture-node")

	assert.Equal(t, "ssl://broker.local:8883", cfg.MQTTBroker)
	assert.Equal(t, "cam-01", cfg.MQTTClientID)
	assert.Equal(t, 120.5, cfg.BaselineDistanceCM)
	assert.Equal(t, 2500*time.Millisecond, cfg.SampleInterval)
	assert.Equal(t, 90*time.Second, cfg.TrendInterval)
	assert.Equal(t, 10*time.Minute, cfg.AlertCooldown)
	assert.True(t, cfg.UploadInsecure)
	assert.Equal(t, 3, cfg.RedisDB)
	// the camera bound is independent of the upload bound
	assert.Equal(t, 3*time.Second, cfg.UploadTimeout)
	assert.Equal(t, 1500*time.Millisecond, cfg.CameraTimeout)
}

func TestLoad_InvalidValuesFallBack(t *testing.T) {
	t.Setenv("BASELINE_DISTANCE_CM", "fifty")
	t.Setenv("ALERT_COOLDOWN", "soon")
	t.Setenv("UPLOAD_INSECURE", "maybe")

	cfg := Load("sensor-node")

	assert.Equal(t, 50.0, cfg.BaselineDistanceCM)
	assert.Equal(t, 300*time.Second, cfg.AlertCooldown)
	assert.False(t, cfg.UploadInsecure)
}

func TestValidate_Rejects(t *testing.T) {
	cfg := Load("capture-node")
	cfg.SampleInterval = 0
	cfg.DangerRiseMinCM = -1
	cfg.UploadInsecure = true
	cfg.UploadCAFile = "/etc/ca.pem"
	cfg.UploadMaxTotal = time.Second
	cfg.CameraTimeout = 0

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SAMPLE_INTERVAL")
	assert.Contains(t, err.Error(), "DANGER_RISE_MIN_CM")
	assert.Contains(t, err.Error(), "mutually exclusive")
	assert.Contains(t, err.Error(), "UPLOAD_MAX_TOTAL")
	assert.Contains(t, err.Error(), "CAMERA_TIMEOUT")
}
