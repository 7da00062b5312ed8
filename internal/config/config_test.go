package config

import (
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"
)

func TestLoadRequiresOwnerCredentials(t *testing.T) {
	v := viper.New()
	BindDefaults(v)
	v.Set("tls_cert_file", "cert.pem")
	v.Set("tls_key_file", "key.pem")

	_, err := Load(v)
	require.Error(t, err)
}

func TestLoadRequiresTLSFiles(t *testing.T) {
	v := viper.New()
	BindDefaults(v)
	v.Set("owner_username", "owner")
	v.Set("owner_password", "secret")

	_, err := Load(v)
	require.Error(t, err)
}

func TestLoadSucceedsWithRequiredFields(t *testing.T) {
	v := viper.New()
	BindDefaults(v)
	v.Set("owner_username", "owner")
	v.Set("owner_password", "secret")
	v.Set("tls_cert_file", "cert.pem")
	v.Set("tls_key_file", "key.pem")

	cfg, err := Load(v)
	require.NoError(t, err)
	require.Equal(t, Defaults().ListenAddr, cfg.ListenAddr)
	require.Equal(t, Defaults().SessionTTL, cfg.SessionTTL)
	require.Equal(t, "owner", cfg.OwnerUsername)
}
