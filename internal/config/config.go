// Package config loads the coordinator's TOML configuration file, using
// naoina/toml decoder settings that keep TOML keys mirroring Go struct
// field names exactly.
package config

import (
	"bufio"
	"errors"
	"io"
	"os"
	"reflect"
	"time"

	"github.com/naoina/toml"
)

// tomlSettings matches Go struct field names to TOML keys verbatim, so a
// config file's keys read exactly like the Config struct fields.
var tomlSettings = toml.Config{
	NormFieldName: func(rt reflect.Type, key string) string { return key },
	FieldToKey:    func(rt reflect.Type, field string) string { return field },
}

// Config is the coordinator's top-level configuration.
type Config struct {
	// ListenAddr is where the debug/status HTTP surface binds.
	ListenAddr string
	// Dialect/DSN select the Repository backend; Dialect "memory" uses the
	// in-memory store regardless of DSN.
	Dialect string
	DSN     string
	// StallTimeout bounds how long a round may sit without progress before
	// the Timer restarts it.
	StallTimeout time.Duration
	// CertHelperPath, if set, is the executable path passed to
	// groupcert.ExecIssuer; empty uses the in-memory fake issuer.
	CertHelperPath string
}

// Default returns the built-in configuration used when no file is given.
func Default() Config {
	return Config{
		ListenAddr:   ":8090",
		Dialect:      "memory",
		StallTimeout: 30 * time.Second,
	}
}

// Load reads and decodes a TOML file into cfg, starting from Default().
func Load(path string) (Config, error) {
	cfg := Default()
	f, err := os.Open(path)
	if err != nil {
		return cfg, err
	}
	defer f.Close()

	err = tomlSettings.NewDecoder(bufio.NewReader(f)).Decode(&cfg)
	if _, ok := err.(*toml.LineError); ok {
		err = errors.New(path + ", " + err.Error())
	}
	return cfg, err
}

// Dump marshals cfg back to TOML, for the dumpconfig subcommand.
func Dump(w io.Writer, cfg Config) error {
	out, err := tomlSettings.Marshal(&cfg)
	if err != nil {
		return err
	}
	_, err = w.Write(out)
	return err
}
