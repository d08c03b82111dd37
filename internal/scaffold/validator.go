package scaffold

import (
	"fmt"
	"os"
)

// CheckExisting checks if quill.yml already exists in the working directory.
// Returns an error if it does, nil otherwise
func CheckExisting() error {
	if _, err := os.Stat(configFile); err == nil {
		return fmt.Errorf("project already initialized\n\nFound existing: %s\n\nUse 'quill init --force' to reinitialize (this will overwrite existing configuration)", configFile)
	}
	return nil
}
