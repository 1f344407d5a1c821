// Package keygen prints a fresh member identity as shell exports.
package keygen

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"flag"
	"fmt"
	"io"

	"github.com/louisbranch/sigchain/internal/services/sigchain/domain/keys"
)

// Config holds configuration for identity generation.
type Config struct {
	Prefix string
}

// ParseConfig parses flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	cfg := Config{Prefix: "SIGCHAIN"}
	fs.StringVar(&cfg.Prefix, "prefix", cfg.Prefix, "environment variable prefix")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run generates a signing and a box key pair from reader and writes them to out.
func Run(cfg Config, out io.Writer, reader io.Reader) error {
	if cfg.Prefix == "" {
		return errors.New("prefix is required")
	}
	if out == nil {
		return errors.New("output is required")
	}
	if reader == nil {
		reader = rand.Reader
	}

	seed := make([]byte, keys.SeedSize)
	if _, err := io.ReadFull(reader, seed); err != nil {
		return fmt.Errorf("generate signing seed: %w", err)
	}
	sign, err := keys.SignKeyPairFromSeed(seed)
	if err != nil {
		return err
	}
	secret := make([]byte, keys.BoxKeySize)
	if _, err := io.ReadFull(reader, secret); err != nil {
		return fmt.Errorf("generate box secret: %w", err)
	}
	box, err := keys.BoxKeyPairFromSecret(secret)
	if err != nil {
		return err
	}

	lines := []struct {
		name  string
		value []byte
	}{
		{"SIGN_SEED", seed},
		{"SIGN_PUBLIC_KEY", sign.PublicKey},
		{"BOX_SECRET_KEY", secret},
		{"BOX_PUBLIC_KEY", box.PublicKeyBytes()},
	}
	for _, line := range lines {
		if _, err := fmt.Fprintf(out, "export %s_%s=%s\n", cfg.Prefix, line.name, base64.StdEncoding.EncodeToString(line.value)); err != nil {
			return err
		}
	}
	return nil
}
