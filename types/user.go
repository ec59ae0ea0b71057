package types

// User is a registered resident reachable by phone. Phone numbers are stored in E.164.
type User struct {
	ID                string   `json:"id,omitempty" firestore:"-"`
	Name              string   `json:"name,omitempty" firestore:"name"`
	PhoneNumber       string   `json:"phone_number" firestore:"phoneNumber"`
	Address           string   `json:"address" firestore:"address"`
	AddressKey        string   `json:"-" firestore:"addressKey"`
	EmergencyContacts []string `json:"emergency_contacts,omitempty" firestore:"emergencyContacts"`
	Active            bool     `json:"active" firestore:"active"`
}
