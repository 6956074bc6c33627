package types

// Caller is an authenticated user invoking the coordinator.
type Caller struct {
	Id   string
	Name string
	Role Role
}
