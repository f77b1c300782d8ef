package main

import (
	"fmt"
	"os"

	"github.com/spf13/viper"
	"golang.org/x/term"

	"github.com/ccinv/ccinv/pkg/catalyst"
	"github.com/ccinv/ccinv/pkg/remote"
	"github.com/ccinv/ccinv/pkg/settings"
	"github.com/ccinv/ccinv/pkg/util"
)

// Connection keys. Each is read from, in order: the command-line flag,
// CCINV_<KEY>, the --config file, then persistent settings.
const (
	keyHost      = "host"
	keyPort      = "port"
	keyUsername  = "username"
	keyPassword  = "password"
	keyVerify    = "verify"
	keyVersion   = "version"
	keyRedisAddr = "redis_addr"
	// keyArchivePassword protects the credential exports read for
	// fingerprints (CCINV_ARCHIVE_PASSWORD).
	keyArchivePassword = "archive_password"
)

// loadConfig builds the layered connection configuration.
func loadConfig(path string, s *settings.Settings) (*viper.Viper, error) {
	v := viper.New()

	v.SetDefault(keyHost, s.Controller)
	v.SetDefault(keyPort, s.Port)
	v.SetDefault(keyUsername, s.Username)
	v.SetDefault(keyVerify, s.GetVerify())
	v.SetDefault(keyRedisAddr, s.RedisAddr)
	v.SetDefault(keyArchivePassword, s.ArchivePassword)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	}

	// CCINV_HOST, CCINV_PASSWORD, ...
	v.SetEnvPrefix("CCINV")
	v.AutomaticEnv()

	return v, nil
}

// bindConnectionFlags makes explicitly set flags win over every other layer.
func bindConnectionFlags(v *viper.Viper) error {
	flags := rootCmd.PersistentFlags()
	for key, flag := range map[string]string{
		keyHost:      "host",
		keyPort:      "port",
		keyUsername:  "username",
		keyVerify:    "verify",
		keyVersion:   "controller-version",
		keyRedisAddr: "redis-addr",
	} {
		if err := v.BindPFlag(key, flags.Lookup(flag)); err != nil {
			return err
		}
	}
	return nil
}

// connectionConfig resolves the client settings. A missing password is
// prompted for when stdin is a terminal.
func connectionConfig(v *viper.Viper, prompt func(string) (string, error)) (remote.Config, error) {
	cfg := remote.Config{
		Host:     v.GetString(keyHost),
		Port:     v.GetInt(keyPort),
		Username: v.GetString(keyUsername),
		Password: v.GetString(keyPassword),
		Verify:   v.GetBool(keyVerify),
	}
	if cfg.Host == "" {
		return cfg, fmt.Errorf("controller host required: use --host, CCINV_HOST or 'ccinv settings set controller <host>': %w", util.ErrInvalidConfig)
	}
	if cfg.Username == "" {
		return cfg, fmt.Errorf("username required: use --username or CCINV_USERNAME: %w", util.ErrInvalidConfig)
	}
	if cfg.Password == "" {
		if prompt == nil {
			return cfg, fmt.Errorf("password required: set CCINV_PASSWORD: %w", util.ErrInvalidConfig)
		}
		pw, err := prompt(fmt.Sprintf("Password for %s@%s: ", cfg.Username, cfg.Host))
		if err != nil {
			return cfg, fmt.Errorf("reading password: %w", err)
		}
		cfg.Password = pw
	}
	return cfg, nil
}

// pinnedVersion returns the controller release given on the command line
// or in the environment, if any.
func pinnedVersion(v *viper.Viper) (catalyst.Version, bool, error) {
	s := v.GetString(keyVersion)
	if s == "" {
		return 0, false, nil
	}
	ver, err := catalyst.ParseVersion(s)
	if err != nil {
		return 0, false, fmt.Errorf("controller version: %v: %w", err, util.ErrInvalidConfig)
	}
	return ver, true, nil
}

// terminalPrompt reads a password without echo. It returns nil when stdin
// is not a terminal.
func terminalPrompt() func(string) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return nil
	}
	return func(msg string) (string, error) {
		fmt.Fprint(os.Stderr, msg)
		b, err := term.ReadPassword(fd)
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", err
		}
		return string(b), nil
	}
}
