// Package s3 stores run artifacts in AWS S3 or an S3-compatible service.
package s3

import "strings"

// Config configures an S3 provider.
//
// Credentials resolve through the AWS SDK v2 default chain unless
// AccessKeyID and SecretAccessKey are both set. For S3-compatible stores set
// Endpoint and usually ForcePathStyle.
type Config struct {
	// Bucket is the S3 bucket name (required).
	Bucket string

	// Prefix is prepended to every artifact key, e.g. "hepgrid/".
	Prefix string

	// Region defaults to us-east-1 for AWS when nothing else resolves it.
	Region string

	// Endpoint is a custom endpoint URL. Leave empty for AWS S3.
	Endpoint string

	Profile string

	AccessKeyID     string
	SecretAccessKey string

	ForcePathStyle bool

	// MaxKeys is the page size for List. Values over 1000 are clamped.
	MaxKeys int
}

// DefaultMaxKeys is the default page size for List operations.
const DefaultMaxKeys = 1000

// MaxAllowedKeys is the maximum page size allowed by S3.
const MaxAllowedKeys = 1000

// DefaultAWSRegion is the fallback region for AWS S3 when not specified.
const DefaultAWSRegion = "us-east-1"

// Validate checks that required configuration is present.
func (c *Config) Validate() error {
	if c.Bucket == "" {
		return &ConfigError{Field: "Bucket", Message: "bucket name is required"}
	}
	if (c.AccessKeyID != "") != (c.SecretAccessKey != "") {
		return &ConfigError{
			Field:   "AccessKeyID/SecretAccessKey",
			Message: "both access key ID and secret access key must be provided together",
		}
	}
	if strings.HasPrefix(c.Prefix, "/") {
		return &ConfigError{Field: "Prefix", Message: "prefix must be relative"}
	}
	return nil
}

// normalizedPrefix returns Prefix with exactly one trailing slash, or "".
func (c *Config) normalizedPrefix() string {
	p := strings.Trim(c.Prefix, "/")
	if p == "" {
		return ""
	}
	return p + "/"
}

// ConfigError represents a configuration validation error.
type ConfigError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	return "s3 config: " + e.Field + ": " + e.Message
}
