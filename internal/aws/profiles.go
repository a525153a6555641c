package aws

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go/aws/defaults"
	"gopkg.in/ini.v1"
)

// ListProfiles returns the sorted profile names found in the shared
// credentials and config files
func ListProfiles() ([]string, error) {
	credsPath := os.Getenv("AWS_SHARED_CREDENTIALS_FILE")
	if credsPath == "" {
		credsPath = defaults.SharedCredentialsFilename()
	}

	configPath := os.Getenv("AWS_CONFIG_FILE")
	if configPath == "" {
		configPath = defaults.SharedConfigFilename()
	}

	return profilesFromFiles(credsPath, configPath)
}

func profilesFromFiles(credsPath, configPath string) ([]string, error) {
	profiles := make(map[string]struct{})

	if err := collectProfiles(credsPath, "", profiles); err != nil {
		return nil, fmt.Errorf("failed to load credentials file: %w", err)
	}
	// config file sections are named "profile <name>" except for default
	if err := collectProfiles(configPath, "profile ", profiles); err != nil {
		return nil, fmt.Errorf("failed to load config file: %w", err)
	}

	result := make([]string, 0, len(profiles))
	for profile := range profiles {
		result = append(result, profile)
	}
	sort.Strings(result)

	return result, nil
}

func collectProfiles(path, prefix string, into map[string]struct{}) error {
	if _, err := os.Stat(path); err != nil {
		return nil
	}

	file, err := ini.Load(path)
	if err != nil {
		return err
	}

	for _, section := range file.Sections() {
		name := section.Name()
		if name == ini.DefaultSection {
			continue
		}
		if prefix != "" {
			if strings.HasPrefix(name, "sso-session ") || strings.HasPrefix(name, "services ") {
				continue
			}
			name = strings.TrimPrefix(name, prefix)
		}
		into[name] = struct{}{}
	}
	return nil
}

// IsValidProfile checks if a profile exists
func IsValidProfile(profile string) bool {
	profiles, err := ListProfiles()
	if err != nil {
		return false
	}

	for _, p := range profiles {
		if p == profile {
			return true
		}
	}

	return false
}
