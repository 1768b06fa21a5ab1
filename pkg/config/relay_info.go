package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/karipov/nostrust/pkg/attestation"
)

// DefaultRelayInfo is the descriptor metadata used when no file is configured.
func DefaultRelayInfo(version string) attestation.Metadata {
	return attestation.Metadata{
		Name:          "nostrust",
		Description:   "A relay whose state is sealed to its attested code.",
		SupportedNIPs: []int{1, 9, 11},
		Software:      "https://github.com/karipov/nostrust",
		Version:       version,
	}
}

// LoadRelayInfo reads relay metadata from a YAML file. Fields missing from
// the file keep their defaults; software and version always describe the
// running build.
func LoadRelayInfo(path, version string) (attestation.Metadata, error) {
	md := DefaultRelayInfo(version)
	if path == "" {
		return md, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return attestation.Metadata{}, fmt.Errorf("load relay info %q: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &md); err != nil {
		return attestation.Metadata{}, fmt.Errorf("parse relay info %q: %w", path, err)
	}

	defaults := DefaultRelayInfo(version)
	md.Software = defaults.Software
	md.Version = version
	if md.Name == "" {
		md.Name = defaults.Name
	}
	if md.SupportedNIPs == nil {
		md.SupportedNIPs = defaults.SupportedNIPs
	}
	return md, nil
}
