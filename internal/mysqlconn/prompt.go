package mysqlconn

import (
	"fmt"
	"syscall"

	"golang.org/x/term"
)

// PromptPassword reads a password from the terminal without echoing it.
// Used by the instance pool (§4.5) when interactive credential resolution
// is requested and no password is cached for a fingerprint.
func PromptPassword() string {
	fmt.Print("Enter password: ")
	password, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Println()
	if err != nil {
		return ""
	}
	return string(password)
}
