package util

import (
	"regexp"
	"strings"

	"pixel-relay/internal/model"
)

var (
	mobilePattern = regexp.MustCompile(`android|webos|iphone|ipad|ipod|blackberry|iemobile|opera mini`)
	tabletPattern = regexp.MustCompile(`tablet|ipad|playbook|silk`)
)

// DetectDeviceType classifies a user agent as mobile, tablet, or desktop.
// The mobile check runs first, so an iPad UA classifies as mobile even though
// it also matches the tablet pattern; keep the order for compatibility with
// historical data.
func DetectDeviceType(userAgent string) string {
	if userAgent == "" {
		return model.DeviceUnknown
	}
	ua := strings.ToLower(userAgent)
	if mobilePattern.MatchString(ua) {
		return model.DeviceMobile
	}
	if tabletPattern.MatchString(ua) {
		return model.DeviceTablet
	}
	return model.DeviceDesktop
}

// IsBot checks if a UA matches a configurable deny list.
func IsBot(ua string, denyList []string) bool {
	if ua == "" {
		return false
	}
	uaLower := strings.ToLower(ua)
	for _, fragment := range denyList {
		fragment = strings.ToLower(strings.TrimSpace(fragment))
		if fragment == "" {
			continue
		}
		if strings.Contains(uaLower, fragment) {
			return true
		}
	}
	return false
}
