package main

import (
	"errors"
	"fmt"
	"os"
)

// Exit codes for different failure modes
const (
	ExitSuccess = 0 // Command completed
	ExitQuota   = 1 // Provider refused the request for quota
	ExitError   = 2 // Configuration or runtime error
)

// QuotaError indicates that generation ran but the provider refused it for
// quota or rate limiting.
type QuotaError struct {
	Message string
}

func (e *QuotaError) Error() string {
	return e.Message
}

func main() {
	if err := execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)

		var quotaErr *QuotaError
		if errors.As(err, &quotaErr) {
			os.Exit(ExitQuota)
		}
		os.Exit(ExitError)
	}
}
