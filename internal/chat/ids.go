package chat

import (
	gonanoid "github.com/jaevor/go-nanoid"
)

// Short random identifiers. Rooms use an uppercase alphabet with the
// lookalike characters (I, O, 0, 1) removed so IDs survive being read
// aloud; anonymous user IDs are lowercase alphanumeric.
var (
	newRoomID = mustGenerator("ABCDEFGHJKLMNPQRSTUVWXYZ23456789", 8)
	newUserID = mustGenerator("abcdefghijklmnopqrstuvwxyz0123456789", 10)
)

func mustGenerator(alphabet string, size int) func() string {
	gen, err := gonanoid.CustomASCII(alphabet, size)
	if err != nil {
		panic(err)
	}
	return gen
}

// NewUserID mints a fresh anonymous user identity for sessions that did
// not present a persisted token.
func NewUserID() string { return newUserID() }
