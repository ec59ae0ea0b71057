package db

import (
	"context"
	"fmt"
	"strings"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"

	"go-redzone/phone"
	"go-redzone/types"
)

const usersCollection = "active_users"

// AddressKey is the form addresses are matched on: trimmed and lower-cased.
func AddressKey(address string) string {
	return strings.ToLower(strings.TrimSpace(address))
}

// prepareUser canonicalizes a user before it is written.
func prepareUser(u types.User) (types.User, error) {
	num, err := phone.Normalize(u.PhoneNumber)
	if err != nil {
		return u, fmt.Errorf("user phone %q: %w", u.PhoneNumber, err)
	}
	u.PhoneNumber = num

	contacts := make([]string, 0, len(u.EmergencyContacts))
	for _, c := range u.EmergencyContacts {
		n, err := phone.Normalize(c)
		if err != nil {
			return u, fmt.Errorf("emergency contact %q: %w", c, err)
		}
		contacts = append(contacts, n)
	}
	u.EmergencyContacts = contacts
	u.Address = strings.TrimSpace(u.Address)
	u.AddressKey = AddressKey(u.Address)
	return u, nil
}

// FirestoreUsers keeps users in the active_users collection, one doc per phone.
type FirestoreUsers struct {
	client *firestore.Client
}

func NewFirestoreUsers(client *firestore.Client) *FirestoreUsers {
	return &FirestoreUsers{client: client}
}

func (s *FirestoreUsers) FindByExactAddress(ctx context.Context, location string) ([]types.User, error) {
	key := AddressKey(location)
	if key == "" {
		return nil, nil
	}

	iter := s.client.Collection(usersCollection).
		Where("addressKey", "==", key).
		Where("active", "==", true).
		Documents(ctx)
	defer iter.Stop()

	var users []types.User
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("error iterating users: %w", err)
		}
		var u types.User
		if err := doc.DataTo(&u); err != nil {
			return nil, fmt.Errorf("error converting document to User: %w", err)
		}
		u.ID = doc.Ref.ID
		users = append(users, u)
	}
	return users, nil
}

func (s *FirestoreUsers) GetEmergencyContacts(ctx context.Context, phoneNumber string) ([]string, error) {
	doc, err := s.client.Collection(usersCollection).Doc(HashString(phone.Canonical(phoneNumber))).Get(ctx)
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("error getting user %s: %w", phoneNumber, err)
	}
	var u types.User
	if err := doc.DataTo(&u); err != nil {
		return nil, fmt.Errorf("error converting document to User: %w", err)
	}
	return u.EmergencyContacts, nil
}

func (s *FirestoreUsers) UpsertUser(ctx context.Context, user types.User) error {
	u, err := prepareUser(user)
	if err != nil {
		return err
	}
	_, err = s.client.Collection(usersCollection).Doc(HashString(u.PhoneNumber)).Set(ctx, u)
	if err != nil {
		return fmt.Errorf("failed to set user document: %w", err)
	}
	return nil
}
