//go:build windows

package sysproxy

import (
	"time"
	"unsafe"

	"golang.org/x/sys/windows"
)

var (
	moduser32               = windows.NewLazySystemDLL("user32.dll")
	procSendMessageTimeoutW = moduser32.NewProc("SendMessageTimeoutW")
)

const (
	hwndBroadcast    = 0xFFFF
	wmSettingChange  = 0x001A
	smtoAbortIfHung  = 0x0002
	minBroadcastWait = 100 * time.Millisecond
)

// NotifyEnvironmentChange broadcasts WM_SETTINGCHANGE("Environment") so new
// processes started by Explorer pick up user environment edits. It waits at
// most timeout and reports whether the broadcast returned in time.
func NotifyEnvironmentChange(timeout time.Duration) bool {
	return NotifyBounded(timeout, func() {
		broadcastSettingChange("Environment", timeout)
	})
}

func broadcastSettingChange(area string, timeout time.Duration) {
	param, err := windows.UTF16PtrFromString(area)
	if err != nil {
		return
	}
	if timeout < minBroadcastWait {
		timeout = minBroadcastWait
	}
	var result uintptr
	procSendMessageTimeoutW.Call( //nolint:errcheck // best effort
		hwndBroadcast,
		wmSettingChange,
		0,
		uintptr(unsafe.Pointer(param)),
		smtoAbortIfHung,
		uintptr(timeout.Milliseconds()),
		uintptr(unsafe.Pointer(&result)),
	)
}
