package models

// Keyed is implemented by every record stored in the local cache; all
// access goes through the store's accessors by this key.
type Keyed interface {
	Key() string
}
