package db

import (
	"context"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"

	"go-redzone/types"
)

type seedFile struct {
	Users []struct {
		Name              string   `yaml:"name"`
		PhoneNumber       string   `yaml:"phone_number"`
		Address           string   `yaml:"address"`
		EmergencyContacts []string `yaml:"emergency_contacts"`
		Active            *bool    `yaml:"active"`
	} `yaml:"users"`
}

// SeedUsers reads a YAML user list and upserts every entry. Users are active
// unless the file says otherwise. It stops at the first invalid entry.
func SeedUsers(ctx context.Context, dir UserDirectory, r io.Reader) (int, error) {
	var f seedFile
	if err := yaml.NewDecoder(r).Decode(&f); err != nil && err != io.EOF {
		return 0, fmt.Errorf("parse user seed: %w", err)
	}

	for i, u := range f.Users {
		user := types.User{
			Name:              u.Name,
			PhoneNumber:       u.PhoneNumber,
			Address:           u.Address,
			EmergencyContacts: u.EmergencyContacts,
			Active:            u.Active == nil || *u.Active,
		}
		if err := dir.UpsertUser(ctx, user); err != nil {
			return i, fmt.Errorf("seed user %d: %w", i+1, err)
		}
	}
	return len(f.Users), nil
}
