// Package device derives coarse capture-device descriptors from user agents
// for recognition event metadata. It never produces a stable fingerprint.
package device

import (
	"strings"

	"github.com/mssola/useragent"
)

const unknownDevice = "Unknown Device"

// Class buckets the capturing client.
type Class string

const (
	ClassDesktop Class = "desktop"
	ClassMobile  Class = "mobile"
	ClassBot     Class = "bot"
	ClassUnknown Class = "unknown"
)

// Info is the parsed view of a user agent.
type Info struct {
	Browser  string
	Platform string
	OS       string
	Class    Class
}

// Parse extracts browser, platform and class from a user agent string.
func Parse(userAgent string) Info {
	userAgent = strings.TrimSpace(userAgent)
	if userAgent == "" {
		return Info{Class: ClassUnknown}
	}
	ua := useragent.New(userAgent)
	browser, _ := ua.Browser()
	info := Info{
		Browser:  browser,
		Platform: ua.Platform(),
		OS:       ua.OS(),
		Class:    ClassDesktop,
	}
	switch {
	case ua.Bot():
		info.Class = ClassBot
	case ua.Mobile():
		info.Class = ClassMobile
	}
	return info
}

// Label returns a display name such as "Chrome on Intel Mac OS X 10_15_7".
func Label(userAgent string) string {
	info := Parse(userAgent)
	if info.Class == ClassUnknown {
		return unknownDevice
	}
	os := info.OS
	if os == "" {
		os = info.Platform
	}
	label := strings.TrimSpace(info.Browser + " on " + os)
	if label == "on" {
		return unknownDevice
	}
	return label
}

// Metadata returns the event metadata entries for a capture.
func Metadata(userAgent string) map[string]string {
	info := Parse(userAgent)
	return map[string]string{
		"device":       Label(userAgent),
		"device_class": string(info.Class),
	}
}
