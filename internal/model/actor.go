// Package model holds the domain types shared by the chat server: actors,
// messages, reactions, reports and revoked credentials.
package model

import "time"

// Actor is a pseudonymous participant. RealName and EmergencyContact are
// private and never serialized.
type Actor struct {
	ID               string    `json:"id"`
	Pseudonym        string    `json:"pseudonym"`
	Avatar           string    `json:"avatar"`
	RealName         string    `json:"-"`
	EmergencyContact string    `json:"-"`
	IsBanned         bool      `json:"isBanned"`
	IsAdmin          bool      `json:"isAdmin"`
	CreatedAt        time.Time `json:"createdAt"`
}

// PublicActor is the subset of an Actor that may be shown to other actors.
type PublicActor struct {
	ID        string `json:"id"`
	Pseudonym string `json:"pseudonym"`
	Avatar    string `json:"avatar"`
}

// Public returns the broadcastable view of the actor.
func (a *Actor) Public() PublicActor {
	return PublicActor{ID: a.ID, Pseudonym: a.Pseudonym, Avatar: a.Avatar}
}

// RevokedCredential invalidates a bearer credential before its natural
// expiry. Only the SHA-256 hash of the token is kept.
type RevokedCredential struct {
	TokenHash string
	ExpiresAt time.Time
}
