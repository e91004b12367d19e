// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package kaggle

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/mitchellh/go-homedir"
)

// CredentialsFile is the file name the official Kaggle tooling reads.
const CredentialsFile = "kaggle.json"

// Credentials are the username/key pair used for HTTP basic auth.
type Credentials struct {
	Username string `json:"username"`
	Key      string `json:"key"`
}

func (c Credentials) valid() bool {
	return c.Username != "" && c.Key != ""
}

// ConfigDir returns the directory holding kaggle.json:
// $KAGGLE_CONFIG_DIR if set (with a leading ~ expanded), otherwise ~/.kaggle.
func ConfigDir() (string, error) {
	if d := strings.TrimSpace(os.Getenv("KAGGLE_CONFIG_DIR")); d != "" {
		return homedir.Expand(d)
	}
	home, err := homedir.Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".kaggle"), nil
}

// LoadCredentials resolves credentials in the order the Kaggle CLI does:
// explicit values, then KAGGLE_USERNAME/KAGGLE_KEY, then kaggle.json in
// configDir (or ConfigDir() when configDir is empty).
func LoadCredentials(explicit Credentials, configDir string) (Credentials, error) {
	if explicit.valid() {
		return explicit, nil
	}

	env := Credentials{
		Username: strings.TrimSpace(os.Getenv("KAGGLE_USERNAME")),
		Key:      strings.TrimSpace(os.Getenv("KAGGLE_KEY")),
	}
	if env.valid() {
		return env, nil
	}

	if configDir == "" {
		d, err := ConfigDir()
		if err != nil {
			return Credentials{}, &CredentialsError{Reason: "cannot locate config directory", Err: err}
		}
		configDir = d
	}
	path := filepath.Join(configDir, CredentialsFile)

	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Credentials{}, &CredentialsError{
				Path:   path,
				Reason: "not found; set KAGGLE_USERNAME and KAGGLE_KEY or create the file from your Kaggle account page",
			}
		}
		return Credentials{}, &CredentialsError{Path: path, Reason: "cannot read file", Err: err}
	}

	var c Credentials
	if err := json.Unmarshal(b, &c); err != nil {
		return Credentials{}, &CredentialsError{Path: path, Reason: "invalid JSON", Err: err}
	}
	if !c.valid() {
		return Credentials{}, &CredentialsError{Path: path, Reason: "username or key missing"}
	}
	return c, nil
}
