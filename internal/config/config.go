package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// EngineConfig holds map engine vendor settings.
type EngineConfig struct {
	AccessToken  string  `json:"accessToken" mapstructure:"accessToken"`
	DefaultStyle string  `json:"defaultStyle" mapstructure:"defaultStyle"`
	TerrainURL   string  `json:"terrainUrl" mapstructure:"terrainUrl"`
	Exaggeration float64 `json:"exaggeration" mapstructure:"exaggeration"`
}

// AuthConfig holds token signing settings.
type AuthConfig struct {
	JWTSecret string        `json:"jwtSecret" mapstructure:"jwtSecret"`
	TokenTTL  time.Duration `json:"tokenTtl" mapstructure:"tokenTtl"`
}

// EditorConfig holds editor session settings.
type EditorConfig struct {
	DefaultColor     string        `json:"defaultColor" mapstructure:"defaultColor"`
	DefaultMarker    string        `json:"defaultMarker" mapstructure:"defaultMarker"`
	AutosaveInterval time.Duration `json:"autosaveInterval" mapstructure:"autosaveInterval"`
}

// OTelConfig holds OpenTelemetry export settings.
type OTelConfig struct {
	Enabled      bool          `json:"enabled" mapstructure:"enabled"`
	ServiceName  string        `json:"serviceName" mapstructure:"serviceName"`
	BatchTimeout time.Duration `json:"batchTimeout" mapstructure:"batchTimeout"`
	Endpoint     string        `json:"endpoint" mapstructure:"endpoint"`
	Insecure     bool          `json:"insecure" mapstructure:"insecure"`
}

// InfluxConfig holds metrics sink settings.
type InfluxConfig struct {
	Enabled  bool   `json:"enabled" mapstructure:"enabled"`
	Protocol string `json:"protocol" mapstructure:"protocol"`
	Host     string `json:"host" mapstructure:"host"`
	Port     string `json:"port" mapstructure:"port"`
	Token    string `json:"token" mapstructure:"token"`
	Org      string `json:"org" mapstructure:"org"`
}

// Load reads configuration from JSON file and sets default values.
// configDir is the directory containing the config file.
func Load(configDir string) error {
	viper.SetDefault("logLevel", "info")
	viper.SetDefault("logsDir", "./mapfylogs")

	viper.SetDefault("server.listen", ":8080")
	viper.SetDefault("server.corsOrigins", []string{"*"})

	viper.SetDefault("engine.accessToken", "")
	viper.SetDefault("engine.defaultStyle", "mapbox://styles/mapbox/streets-v12")
	viper.SetDefault("engine.terrainUrl", "mapbox://mapbox.mapbox-terrain-dem-v1")
	viper.SetDefault("engine.exaggeration", 1.5)

	viper.SetDefault("auth.jwtSecret", "")
	viper.SetDefault("auth.tokenTtl", "72h")

	viper.SetDefault("editor.defaultColor", "#3bb2d0")
	viper.SetDefault("editor.defaultMarker", "circle")
	viper.SetDefault("editor.autosaveInterval", "30s")

	viper.SetDefault("db.host", "localhost")
	viper.SetDefault("db.port", "5432")
	viper.SetDefault("db.username", "postgres")
	viper.SetDefault("db.password", "postgres")
	viper.SetDefault("db.database", "mapfy")

	viper.SetDefault("influx.enabled", false)
	viper.SetDefault("influx.host", "localhost")
	viper.SetDefault("influx.port", "8086")
	viper.SetDefault("influx.protocol", "http")
	viper.SetDefault("influx.token", "")
	viper.SetDefault("influx.org", "mapfy-metrics")

	viper.SetDefault("otel.enabled", false)
	viper.SetDefault("otel.serviceName", "mapfy")
	viper.SetDefault("otel.batchTimeout", "5s")
	viper.SetDefault("otel.endpoint", "")
	viper.SetDefault("otel.insecure", true)

	viper.SetConfigName("mapfy.cfg.json")
	viper.AddConfigPath(configDir)
	viper.SetConfigType("json")

	err := viper.ReadInConfig()
	if err != nil {
		return fmt.Errorf("error reading config file: %v", err)
	}

	return nil
}

// GetString returns a string config value.
func GetString(key string) string {
	return viper.GetString(key)
}

// GetInt returns an int config value.
func GetInt(key string) int {
	return viper.GetInt(key)
}

// GetBool returns a bool config value.
func GetBool(key string) bool {
	return viper.GetBool(key)
}

// GetEngineConfig returns the map engine settings.
func GetEngineConfig() EngineConfig {
	return EngineConfig{
		AccessToken:  viper.GetString("engine.accessToken"),
		DefaultStyle: viper.GetString("engine.defaultStyle"),
		TerrainURL:   viper.GetString("engine.terrainUrl"),
		Exaggeration: viper.GetFloat64("engine.exaggeration"),
	}
}

// GetAuthConfig returns the token signing settings.
func GetAuthConfig() AuthConfig {
	return AuthConfig{
		JWTSecret: viper.GetString("auth.jwtSecret"),
		TokenTTL:  viper.GetDuration("auth.tokenTtl"),
	}
}

// GetEditorConfig returns the editor session settings.
func GetEditorConfig() EditorConfig {
	return EditorConfig{
		DefaultColor:     viper.GetString("editor.defaultColor"),
		DefaultMarker:    viper.GetString("editor.defaultMarker"),
		AutosaveInterval: viper.GetDuration("editor.autosaveInterval"),
	}
}

// GetOTelConfig returns the OpenTelemetry export settings.
func GetOTelConfig() OTelConfig {
	return OTelConfig{
		Enabled:      viper.GetBool("otel.enabled"),
		ServiceName:  viper.GetString("otel.serviceName"),
		BatchTimeout: viper.GetDuration("otel.batchTimeout"),
		Endpoint:     viper.GetString("otel.endpoint"),
		Insecure:     viper.GetBool("otel.insecure"),
	}
}

// GetInfluxConfig returns the metrics sink settings.
func GetInfluxConfig() InfluxConfig {
	return InfluxConfig{
		Enabled:  viper.GetBool("influx.enabled"),
		Protocol: viper.GetString("influx.protocol"),
		Host:     viper.GetString("influx.host"),
		Port:     viper.GetString("influx.port"),
		Token:    viper.GetString("influx.token"),
		Org:      viper.GetString("influx.org"),
	}
}
