//go:build !windows

package sysproxy

import "time"

// NotifyEnvironmentChange is a no-op off Windows; there is no session-wide
// environment broadcast to send.
func NotifyEnvironmentChange(time.Duration) bool { return true }
