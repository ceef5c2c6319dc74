// Package domain contains entity without logic, just meta-data
package domain

import (
	"errors"
	"strings"
)

const MaxUserIDLen = 64

var (
	ErrUserIDTooLong = errors.New("user id too long")
	ErrUserIDEmpty   = errors.New("user id empty")
)

type UserID string

// Session is the identity of the local user for the lifetime of one channel handshake.
type Session struct {
	UserID UserID `json:"userId"`
}

// NewSession is a tiny helper to avoid ad-hoc struct literals in adapters.
func NewSession(id string) (*Session, error) {
	id = strings.TrimSpace(id)
	if len(id) == 0 {
		return nil, ErrUserIDEmpty
	}
	if len(id) > MaxUserIDLen {
		return nil, ErrUserIDTooLong
	}
	return &Session{UserID: UserID(id)}, nil
}
