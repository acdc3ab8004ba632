package config

import (
	"encoding/json"
	"os"
	"time"

	"github.com/grandline/identity/internal/flagx"
	"github.com/grandline/identity/internal/timex"
)

// JsonConfig is the DTO for the optional JSON configuration file. Duration
// fields use timex.Duration so both "10m" and integer nanoseconds parse.
// Zero values are treated as "not set" and leave the defaults in place.
type JsonConfig struct {
	EndpointAddr          string         `json:"endpoint_addr"`
	DatabaseDSN           string         `json:"database_dsn"`
	SecretKey             string         `json:"secret_key"`
	TokenValidityDuration timex.Duration `json:"token_validity_duration"`
	PasswordHashCost      int            `json:"password_hash_cost"`
	CodeLength            int            `json:"code_length"`
	CodeTTL               timex.Duration `json:"code_ttl"`
	SMTPHost              string         `json:"smtp_host"`
	SMTPPort              int            `json:"smtp_port"`
	SMTPUsername          string         `json:"smtp_username"`
	SMTPPassword          string         `json:"smtp_password"`
	SMTPSender            string         `json:"smtp_sender"`
}

// parseJson overlays values from the JSON file named by -c/-config, if any.
// An unreadable or malformed file panics: a requested config file that does
// not load is a startup fault.
func parseJson(config *Config) {
	jsonConfigFile := flagx.JsonConfigFlags()
	if jsonConfigFile == "" {
		return
	}

	c := &JsonConfig{}

	file, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}

	if err := json.Unmarshal(file, c); err != nil {
		panic(err)
	}

	if c.EndpointAddr != "" {
		config.EndpointAddr = c.EndpointAddr
	}
	if c.DatabaseDSN != "" {
		config.DatabaseDSN = c.DatabaseDSN
	}
	if c.SecretKey != "" {
		config.SecretKey = c.SecretKey
	}
	if c.TokenValidityDuration.Duration != 0 {
		config.TokenValidityDuration = time.Duration(c.TokenValidityDuration.Duration)
	}
	if c.PasswordHashCost != 0 {
		config.PasswordHashCost = c.PasswordHashCost
	}
	if c.CodeLength != 0 {
		config.CodeLength = c.CodeLength
	}
	if c.CodeTTL.Duration != 0 {
		config.CodeTTL = time.Duration(c.CodeTTL.Duration)
	}
	if c.SMTPHost != "" {
		config.SMTPHost = c.SMTPHost
	}
	if c.SMTPPort != 0 {
		config.SMTPPort = c.SMTPPort
	}
	if c.SMTPUsername != "" {
		config.SMTPUsername = c.SMTPUsername
	}
	if c.SMTPPassword != "" {
		config.SMTPPassword = c.SMTPPassword
	}
	if c.SMTPSender != "" {
		config.SMTPSender = c.SMTPSender
	}
}
