package config

import (
	"encoding/json"
	"os"
	"time"

	"github.com/floodyc/AfterLiving/internal/flagx"
)

// JsonConfig is an intermediate DTO for reading JSON configuration files.
// Duration fields are strings in time.ParseDuration format ("24h", "15m").
// After unmarshalling, its fields are copied into the runtime Config.
type JsonConfig struct {
	HTTPAddr           string `json:"http_addr"`
	DatabaseDSN        string `json:"database_dsn"`
	MasterKey          string `json:"master_key"`
	TokenSecret        string `json:"token_secret"`
	AccessGrantTTL     string `json:"access_grant_ttl"`
	InvitationTTL      string `json:"invitation_ttl"`
	PresignTTL         string `json:"presign_ttl"`
	WorkerPollInterval string `json:"worker_poll_interval"`
	WorkerMaxAttempts  int    `json:"worker_max_attempts"`
	S3RootUser         string `json:"s3_root_user"`
	S3RootPassword     string `json:"s3_root_password"`
	S3Bucket           string `json:"s3_bucket"`
	S3Region           string `json:"s3_region"`
	S3BaseEndpoint     string `json:"s3_base_endpoint"`
	BaseViewURL        string `json:"base_view_url"`
	AdminEmail         string `json:"admin_email"`
}

func overlayString(dst *string, src string) {
	if src != "" {
		*dst = src
	}
}

func overlayDuration(dst *time.Duration, src string) {
	if src == "" {
		return
	}
	if d, err := time.ParseDuration(src); err == nil {
		*dst = d
	}
}

// parseJson loads configuration values from the JSON file named by the
// -c/-config flags. If no flag is set, nothing is loaded. A file that cannot
// be read or parsed is a configuration error and panics, matching flag
// parsing behavior.
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

	overlayString(&config.HTTPAddr, c.HTTPAddr)
	overlayString(&config.DatabaseDSN, c.DatabaseDSN)
	overlayString(&config.MasterKey, c.MasterKey)
	overlayString(&config.TokenSecret, c.TokenSecret)
	overlayDuration(&config.AccessGrantTTL, c.AccessGrantTTL)
	overlayDuration(&config.InvitationTTL, c.InvitationTTL)
	overlayDuration(&config.PresignTTL, c.PresignTTL)
	overlayDuration(&config.WorkerPollInterval, c.WorkerPollInterval)
	if c.WorkerMaxAttempts > 0 {
		config.WorkerMaxAttempts = c.WorkerMaxAttempts
	}
	overlayString(&config.S3RootUser, c.S3RootUser)
	overlayString(&config.S3RootPassword, c.S3RootPassword)
	overlayString(&config.S3Bucket, c.S3Bucket)
	overlayString(&config.S3Region, c.S3Region)
	overlayString(&config.S3BaseEndpoint, c.S3BaseEndpoint)
	overlayString(&config.BaseViewURL, c.BaseViewURL)
	overlayString(&config.AdminEmail, c.AdminEmail)
}
