// --- File: pushrelay/config/credentials.go ---
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/tinywideclouds/go-push-relay/pkg/relay"
)

// FirebaseCredentials returns the service account JSON to initialize the
// push provider with. The inline blob wins over the file. Literal "\n"
// sequences in an inline private_key are turned into real newlines, as
// happens when the key is pasted into a single-line environment variable.
func (c FirebaseConfig) FirebaseCredentials() ([]byte, error) {
	if c.CredentialsJSON != "" {
		return normalizeCredentials([]byte(c.CredentialsJSON))
	}

	if c.CredentialsFile != "" {
		data, err := os.ReadFile(c.CredentialsFile)
		if err == nil {
			return data, nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: reading %s: %v", relay.ErrStartupConfiguration, c.CredentialsFile, err)
		}
	}

	return nil, fmt.Errorf("%w: no firebase credentials found (set FIREBASE_KEY or provide %q)",
		relay.ErrStartupConfiguration, c.CredentialsFile)
}

func normalizeCredentials(raw []byte) ([]byte, error) {
	var blob map[string]any
	if err := json.Unmarshal(raw, &blob); err != nil {
		return nil, fmt.Errorf("%w: FIREBASE_KEY is not valid JSON: %v", relay.ErrStartupConfiguration, err)
	}
	if key, ok := blob["private_key"].(string); ok {
		blob["private_key"] = strings.ReplaceAll(key, `\n`, "\n")
	}
	return json.Marshal(blob)
}
