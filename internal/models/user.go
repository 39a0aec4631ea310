package models

// User is a library member referenced by items as creator or last modifier
type User struct {
	ID       int    `json:"id"`
	Username string `json:"username"`
	Name     string `json:"name,omitempty"`
}
