package config

import (
	"os"
	"strconv"
	"time"
)

// Environment variable names. Secrets should arrive this way rather than
// through flags, which leak into process listings.
const (
	envHTTPAddr       = "AFTERLIVING_HTTP_ADDR"
	envDatabaseDSN    = "AFTERLIVING_DATABASE_DSN"
	envMasterKey      = "AFTERLIVING_MASTER_KEY"
	envTokenSecret    = "AFTERLIVING_TOKEN_SECRET"
	envAccessGrantTTL = "AFTERLIVING_ACCESS_GRANT_TTL"
	envInvitationTTL  = "AFTERLIVING_INVITATION_TTL"
	envPresignTTL     = "AFTERLIVING_PRESIGN_TTL"
	envPollInterval   = "AFTERLIVING_WORKER_POLL_INTERVAL"
	envMaxAttempts    = "AFTERLIVING_WORKER_MAX_ATTEMPTS"
	envS3RootUser     = "AFTERLIVING_S3_ROOT_USER"
	envS3RootPassword = "AFTERLIVING_S3_ROOT_PASSWORD"
	envS3Bucket       = "AFTERLIVING_S3_BUCKET"
	envS3Region       = "AFTERLIVING_S3_REGION"
	envS3BaseEndpoint = "AFTERLIVING_S3_BASE_ENDPOINT"
	envBaseViewURL    = "AFTERLIVING_BASE_VIEW_URL"
	envAdminEmail     = "AFTERLIVING_ADMIN_EMAIL"
)

func setString(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok {
		*dst = v
	}
}

func setDuration(dst *time.Duration, key string) {
	if v, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}

func setInt(dst *int, key string) {
	if v, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

// parseEnv overlays configuration from the process environment.
func parseEnv(cfg *Config) {
	setString(&cfg.HTTPAddr, envHTTPAddr)
	setString(&cfg.DatabaseDSN, envDatabaseDSN)
	setString(&cfg.MasterKey, envMasterKey)
	setString(&cfg.TokenSecret, envTokenSecret)
	setDuration(&cfg.AccessGrantTTL, envAccessGrantTTL)
	setDuration(&cfg.InvitationTTL, envInvitationTTL)
	setDuration(&cfg.PresignTTL, envPresignTTL)
	setDuration(&cfg.WorkerPollInterval, envPollInterval)
	setInt(&cfg.WorkerMaxAttempts, envMaxAttempts)
	setString(&cfg.S3RootUser, envS3RootUser)
	setString(&cfg.S3RootPassword, envS3RootPassword)
	setString(&cfg.S3Bucket, envS3Bucket)
	setString(&cfg.S3Region, envS3Region)
	setString(&cfg.S3BaseEndpoint, envS3BaseEndpoint)
	setString(&cfg.BaseViewURL, envBaseViewURL)
	setString(&cfg.AdminEmail, envAdminEmail)
}
