package repohost

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/google/go-github/v67/github"
	gitlab "gitlab.com/gitlab-org/api/client-go"
)

// Error types for host lookups.
var (
	ErrUnauthorized   = errors.New("repository token unauthorized or expired")
	ErrRateLimited    = errors.New("repository host rate limit exceeded")
	ErrNotFound       = errors.New("repository not found on host")
	ErrNetworkError   = errors.New("network error communicating with repository host")
	ErrInvalidProject = errors.New("repository path is not owner/name")
)

// wrapAPIError converts host API errors to typed errors.
func wrapAPIError(err error) error {
	if err == nil {
		return nil
	}

	status := 0
	var ghErr *github.ErrorResponse
	var glErr *gitlab.ErrorResponse
	switch {
	case errors.As(err, &ghErr) && ghErr.Response != nil:
		status = ghErr.Response.StatusCode
	case errors.As(err, &glErr) && glErr.Response != nil:
		status = glErr.Response.StatusCode
	}

	switch status {
	case http.StatusUnauthorized:
		return fmt.Errorf("%w: %w", ErrUnauthorized, err)
	case http.StatusForbidden, http.StatusTooManyRequests:
		if status == http.StatusTooManyRequests || strings.Contains(err.Error(), "rate limit") {
			return fmt.Errorf("%w: %w", ErrRateLimited, err)
		}
		return fmt.Errorf("%w: %w", ErrUnauthorized, err)
	case http.StatusNotFound:
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return fmt.Errorf("%w: %w", ErrNetworkError, err)
	}
	return err
}
