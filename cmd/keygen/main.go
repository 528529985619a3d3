// AngelaMos | 2026
// main.go

package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/carterperez-dev/rentals/backend/internal/auth"
)

func main() {
	dir := flag.String("dir", "keys", "output directory for the key pairs")
	flag.Parse()

	if err := run(*dir); err != nil {
		slog.Error("keygen failed", "error", err)
		os.Exit(1)
	}
}

// run writes one ES256 key pair for access tokens and one for refresh
// tokens. Existing keys are never overwritten.
func run(dir string) error {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create key directory: %w", err)
	}

	for _, name := range []string{"access", "refresh"} {
		privatePath := filepath.Join(dir, name+".pem")
		publicPath := filepath.Join(dir, name+".pub.pem")

		if _, err := os.Stat(privatePath); err == nil {
			return fmt.Errorf("%s already exists", privatePath)
		}

		if err := auth.GenerateKeyPair(privatePath, publicPath); err != nil {
			return fmt.Errorf("generate %s key: %w", name, err)
		}

		slog.Info("key pair written",
			"kind", name,
			"private", privatePath,
			"public", publicPath,
		)
	}

	return nil
}
