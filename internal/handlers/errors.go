// internal/handlers/errors.go
package handlers

import "errors"

var ErrFriendOffline = errors.New("friend is not online")
