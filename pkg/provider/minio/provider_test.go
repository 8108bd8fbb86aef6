package minio

import (
	"errors"
	"testing"

	"github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/hepgrid/pkg/provider"
)

func TestConfigValidate(t *testing.T) {
	valid := Config{
		Endpoint:  "localhost:9000",
		AccessKey: "hep",
		SecretKey: "hepminio",
		Bucket:    "artifacts",
	}
	require.NoError(t, valid.Validate())

	withScheme := valid
	withScheme.Endpoint = "http://localhost:9000"
	assert.Error(t, withScheme.Validate())

	noBucket := valid
	noBucket.Bucket = ""
	assert.Error(t, noBucket.Validate())

	noCreds := valid
	noCreds.SecretKey = ""
	assert.Error(t, noCreds.Validate())
}

func TestNew_PrefixNormalized(t *testing.T) {
	p, err := New(Config{Endpoint: "localhost:9000", AccessKey: "a", SecretKey: "b", Bucket: "artifacts", Prefix: "/runs/"})
	require.NoError(t, err)
	assert.Equal(t, "runs/warmup/x.tar.gz", p.objectKey("warmup/x.tar.gz"))
}

func TestWrapError(t *testing.T) {
	p := &Provider{bucket: "artifacts"}

	err := p.wrapError("Head", "k", minio.ErrorResponse{Code: "NoSuchKey", StatusCode: 404})
	assert.True(t, provider.IsNotFound(err))

	err = p.wrapError("Head", "k", minio.ErrorResponse{Code: "AccessDenied", StatusCode: 403})
	assert.True(t, provider.IsAccessDenied(err))

	err = p.wrapError("Head", "k", errors.New("dial tcp: refused"))
	assert.False(t, provider.IsNotFound(err))
	var pe *provider.ProviderError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, provider.ProviderMinio, pe.Provider)
}
