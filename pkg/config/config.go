package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// MQTT Configuration
	MQTTBroker            string
	MQTTClientID          string
	MQTTUsername          string
	MQTTPassword          string
	MQTTCAFile            string
	MQTTInsecure          bool
	MQTTReconnectInterval time.Duration

	// Topics
	TopicData       string
	TopicAlertCam   string
	TopicAlertImage string

	// Alert decision
	BaselineDistanceCM float64
	SampleInterval     time.Duration
	TrendInterval      time.Duration
	AlertCooldown      time.Duration
	DangerRiseMinCM    float64

	// Sensor node collaborators
	SensorSource     string // "sim"
	SimRisePerSample float64

	// Camera
	CameraSource       string // "file" or "http"
	CameraSnapshotURL  string
	CameraSnapshotPath string
	CameraTimeout      time.Duration

	// Primary delivery
	UploadURL      string
	UploadToken    string
	UploadField    string
	UploadCAFile   string
	UploadInsecure bool
	UploadTimeout  time.Duration // inactivity bound
	UploadMaxTotal time.Duration // outer cap on a whole attempt

	// ClickHouse Configuration
	ClickHouseAddr string
	ClickHouseDB   string
	ClickHouseUser string
	ClickHousePass string

	// Redis Configuration
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	LatestTTL     time.Duration

	// Advisory model
	ModelPath     string
	RetrainWindow time.Duration // 0 trains on the whole history

	// Observability
	MetricsAddr string
	LogLevel    string
	LogFormat   string
}

// Load reads the configuration from the environment, after loading a .env
// file if one exists. service names the process and seeds the default
// MQTT client id.
func Load(service string) *Config {
	_ = godotenv.Load()

	return &Config{
		MQTTBroker:            getEnv("MQTT_BROKER", "tcp://broker.hivemq.com:1883"),
		MQTTClientID:          getEnv("MQTT_CLIENT_ID", "river-"+service),
		MQTTUsername:          getEnv("MQTT_USERNAME", ""),
		MQTTPassword:          getEnv("MQTT_PASSWORD", ""),
		MQTTCAFile:            getEnv("MQTT_CA_FILE", ""),
		MQTTInsecure:          getEnvBool("MQTT_INSECURE", false),
		MQTTReconnectInterval: getEnvDuration("MQTT_RECONNECT_INTERVAL", 2*time.Second),

		TopicData:       getEnv("TOPIC_DATA", "river/monitoring/data"),
		TopicAlertCam:   getEnv("TOPIC_ALERT_CAM", "river/alert/cam"),
		TopicAlertImage: getEnv("TOPIC_ALERT_IMAGE", "river/alert/image"),

		BaselineDistanceCM: getEnvFloat("BASELINE_DISTANCE_CM", 50.0),
		SampleInterval:     getEnvDuration("SAMPLE_INTERVAL", 5*time.Second),
		TrendInterval:      getEnvDuration("TREND_INTERVAL", 60*time.Second),
		AlertCooldown:      getEnvDuration("ALERT_COOLDOWN", 300*time.Second),
		DangerRiseMinCM:    getEnvFloat("DANGER_RISE_MIN_CM", 15.0),

		SensorSource:     getEnv("SENSOR_SOURCE", "sim"),
		SimRisePerSample: getEnvFloat("SIM_RISE_PER_SAMPLE", 0),

		CameraSource:       getEnv("CAMERA_SOURCE", "file"),
		CameraSnapshotURL:  getEnv("CAMERA_SNAPSHOT_URL", ""),
		CameraSnapshotPath: getEnv("CAMERA_SNAPSHOT_PATH", "./snapshot.jpg"),
		CameraTimeout:      getEnvDuration("CAMERA_TIMEOUT", 5*time.Second),

		UploadURL:      getEnv("UPLOAD_URL", ""),
		UploadToken:    getEnv("UPLOAD_TOKEN", ""),
		UploadField:    getEnv("UPLOAD_FIELD", "photo"),
		UploadCAFile:   getEnv("UPLOAD_CA_FILE", ""),
		UploadInsecure: getEnvBool("UPLOAD_INSECURE", false),
		UploadTimeout:  getEnvDuration("UPLOAD_TIMEOUT", 7*time.Second),
		UploadMaxTotal: getEnvDuration("UPLOAD_MAX_TOTAL", 2*time.Minute),

		ClickHouseAddr: getEnv("CLICKHOUSE_ADDR", "localhost:9000"),
		ClickHouseDB:   getEnv("CLICKHOUSE_DB", "river"),
		ClickHouseUser: getEnv("CLICKHOUSE_USER", "default"),
		ClickHousePass: getEnv("CLICKHOUSE_PASS", ""),

		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),
		LatestTTL:     getEnvDuration("LATEST_TTL", 10*time.Minute),

		ModelPath:     getEnv("MODEL_PATH", "./model/river_model.json"),
		RetrainWindow: getEnvDuration("RETRAIN_WINDOW", 30*24*time.Hour),

		MetricsAddr: getEnv("METRICS_ADDR", ":9100"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		LogFormat:   getEnv("LOG_FORMAT", "json"),
	}
}

// Validate rejects configurations the nodes cannot run with
func (c *Config) Validate() error {
	var errs []error

	if c.MQTTBroker == "" {
		errs = append(errs, errors.New("MQTT_BROKER is required"))
	}
	if c.BaselineDistanceCM <= 0 {
		errs = append(errs, fmt.Errorf("BASELINE_DISTANCE_CM must be positive, got %v", c.BaselineDistanceCM))
	}
	if c.SampleInterval <= 0 {
		errs = append(errs, fmt.Errorf("SAMPLE_INTERVAL must be positive, got %v", c.SampleInterval))
	}
	if c.TrendInterval <= 0 {
		errs = append(errs, fmt.Errorf("TREND_INTERVAL must be positive, got %v", c.TrendInterval))
	}
	if c.AlertCooldown <= 0 {
		errs = append(errs, fmt.Errorf("ALERT_COOLDOWN must be positive, got %v", c.AlertCooldown))
	}
	if c.DangerRiseMinCM <= 0 {
		errs = append(errs, fmt.Errorf("DANGER_RISE_MIN_CM must be positive, got %v", c.DangerRiseMinCM))
	}
	if c.UploadTimeout <= 0 {
		errs = append(errs, fmt.Errorf("UPLOAD_TIMEOUT must be positive, got %v", c.UploadTimeout))
	}
	if c.UploadMaxTotal < c.UploadTimeout {
		errs = append(errs, fmt.Errorf("UPLOAD_MAX_TOTAL must not be shorter than UPLOAD_TIMEOUT, got %v", c.UploadMaxTotal))
	}
	if c.CameraTimeout <= 0 {
		errs = append(errs, fmt.Errorf("CAMERA_TIMEOUT must be positive, got %v", c.CameraTimeout))
	}
	if c.UploadInsecure && c.UploadCAFile != "" {
		errs = append(errs, errors.New("UPLOAD_INSECURE and UPLOAD_CA_FILE are mutually exclusive"))
	}
	if c.MQTTInsecure && c.MQTTCAFile != "" {
		errs = append(errs, errors.New("MQTT_INSECURE and MQTT_CA_FILE are mutually exclusive"))
	}

	return errors.Join(errs...)
}

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvFloat(key string, defaultValue float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	floatValue, err := strconv.ParseFloat(value, 64)
	if err != nil {
		log.Printf("Warning: failed to parse %s as float, using default: %v", key, err)
		return defaultValue
	}
	return floatValue
}

func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	intValue, err := strconv.Atoi(value)
	if err != nil {
		log.Printf("Warning: failed to parse %s as int, using default: %v", key, err)
		return defaultValue
	}
	return intValue
}

func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	boolValue, err := strconv.ParseBool(value)
	if err != nil {
		log.Printf("Warning: failed to parse %s as bool, using default: %v", key, err)
		return defaultValue
	}
	return boolValue
}

// getEnvDuration accepts Go durations ("5s") or plain milliseconds ("5000")
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	if ms, err := strconv.ParseInt(value, 10, 64); err == nil {
		return time.Duration(ms) * time.Millisecond
	}

	d, err := time.ParseDuration(value)
	if err != nil {
		log.Printf("Warning: failed to parse %s as duration, using default: %v", key, err)
		return defaultValue
	}
	return d
}
