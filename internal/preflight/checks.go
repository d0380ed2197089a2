package preflight

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/exec"
	"strings"
	"time"

	"golang.org/x/sys/unix"

	"usbforge/internal/orderapi"
)

// Access is the permission set a directory check requires.
type Access uint32

const (
	AccessRead      Access = unix.R_OK | unix.X_OK
	AccessReadWrite Access = unix.R_OK | unix.W_OK | unix.X_OK
)

// CheckDirectoryAccess verifies that the directory exists and grants the requested access.
func CheckDirectoryAccess(name, path string, access Access) Result {
	if strings.TrimSpace(path) == "" {
		return Result{Name: name, Detail: "not configured"}
	}
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if !info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is not a directory)", path)}
	}
	if err := unix.Access(path, uint32(access)); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: insufficient permissions: %v)", path, err)}
	}
	mode := "read ok"
	if access == AccessReadWrite {
		mode = "read/write ok"
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (%s)", path, mode)}
}

// Requirement defines a host binary usbforge shells out to.
type Requirement struct {
	Name        string
	Command     string
	Description string
	Optional    bool
}

// CheckBinaries evaluates the provided requirements against PATH.
func CheckBinaries(requirements []Requirement) []Result {
	results := make([]Result, 0, len(requirements))
	for _, req := range requirements {
		cmd := strings.TrimSpace(req.Command)
		result := Result{Name: req.Name, Optional: req.Optional}
		switch {
		case cmd == "":
			result.Detail = "command not configured"
		default:
			if path, err := exec.LookPath(cmd); err != nil {
				result.Detail = fmt.Sprintf("binary %q not found (%s)", cmd, strings.TrimSpace(req.Description))
			} else {
				result.Passed = true
				result.Detail = path
			}
		}
		results = append(results, result)
	}
	return results
}

// Pinger is the order backend connectivity probe.
type Pinger interface {
	Ping(ctx context.Context) error
}

// CheckOrderAPI verifies the order backend is reachable and accepts the API key.
func CheckOrderAPI(ctx context.Context, client Pinger) Result {
	const name = "Order API"

	checkCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := client.Ping(checkCtx); err != nil {
		return Result{Name: name, Detail: summarizeError(err)}
	}
	return Result{Name: name, Passed: true, Detail: "reachable"}
}

func summarizeError(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "health check timed out"
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "health check timed out (backend unreachable)"
	}
	var apiErr *orderapi.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case orderapi.CodeInvalidAPIKey, orderapi.CodeMissingAPIKey:
			return "auth failed (invalid api key)"
		}
	}
	return err.Error()
}
