// Package scaffold creates the starter quill.yml for a new project.
package scaffold

import (
	"embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

//go:embed templates/*
var templatesFS embed.FS

// configFile is the file Initialize creates in the working directory.
const configFile = "quill.yml"

// Initialize writes the starter quill.yml.
// If force is true, it will remove an existing quill.yml first.
func Initialize(force bool) error {
	if force {
		if err := handleForce(); err != nil {
			return err
		}
	}

	content, err := templatesFS.ReadFile("templates/quill.yml.tmpl")
	if err != nil {
		return fmt.Errorf("failed to read quill.yml template: %w", err)
	}

	if err := os.WriteFile(configFile, content, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", configFile, err)
	}

	return validateCreatedFile()
}

// handleForce removes the existing config if --force was specified
func handleForce() error {
	if _, err := os.Stat(configFile); err == nil {
		fmt.Printf("⚠️  Removing existing %s...\n", configFile)
		if err := os.Remove(configFile); err != nil {
			return fmt.Errorf("failed to remove %s: %w", configFile, err)
		}
	}
	return nil
}

// validateCreatedFile validates that the created config is valid YAML
func validateCreatedFile() error {
	content, err := os.ReadFile(configFile)
	if err != nil {
		return fmt.Errorf("failed to read created %s: %w", configFile, err)
	}

	var yamlData interface{}
	if err := yaml.Unmarshal(content, &yamlData); err != nil {
		return fmt.Errorf("created %s is not valid YAML: %w", configFile, err)
	}

	return nil
}

// PrintSuccess prints the success message with next steps
func PrintSuccess() {
	fmt.Println("\n✅ Successfully initialized quill project!")
	fmt.Println("\nCreated:")
	fmt.Println("  ✓ quill.yml")
	fmt.Println("\nNext steps:")
	fmt.Println("  1. Set the credential environment variables referenced in quill.yml")
	fmt.Println("  2. Customize the assembler target and platforms for your project")
	fmt.Println("  3. Run 'quill collect URL' to process your first source")
}
