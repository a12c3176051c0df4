package chrome

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// PropertyOverride replaces a getter on a JS object before page scripts run.
// Value is a JS expression evaluated inside the getter.
type PropertyOverride struct {
	Target   string
	Property string
	Value    string
}

// StealthPolicy is the set of automation signals hidden from the page
type StealthPolicy struct {
	Overrides []PropertyOverride

	// DefineChromeRuntime installs window.chrome.runtime, missing in headless mode
	DefineChromeRuntime bool

	// PatchNotificationPermission makes permissions.query report the
	// notification state a headed browser would.
	PatchNotificationPermission bool
}

// DefaultStealthPolicy hides the usual headless tells. languages feeds
// navigator.languages and should agree with the Accept-Language header.
func DefaultStealthPolicy(languages []string) StealthPolicy {
	if len(languages) == 0 {
		languages = []string{"en-US", "en"}
	}
	langs, _ := json.Marshal(languages)

	return StealthPolicy{
		Overrides: []PropertyOverride{
			{Target: "Navigator.prototype", Property: "webdriver", Value: "undefined"},
			{Target: "Navigator.prototype", Property: "languages", Value: string(langs)},
			{Target: "Navigator.prototype", Property: "plugins", Value: "[1, 2, 3, 4, 5]"},
			{Target: "Navigator.prototype", Property: "hardwareConcurrency", Value: "8"},
			{Target: "Navigator.prototype", Property: "deviceMemory", Value: "8"},
		},
		DefineChromeRuntime:         true,
		PatchNotificationPermission: true,
	}
}

// Script renders the policy as a single self-contained script. Every patch
// is isolated in its own try block so one failure does not skip the rest.
func (p StealthPolicy) Script() string {
	var b strings.Builder
	b.WriteString("(() => {\n")
	for _, o := range p.Overrides {
		fmt.Fprintf(&b, "  try { Object.defineProperty(%s, %s, { get: () => %s, configurable: true }); } catch (e) {}\n",
			o.Target, strconv.Quote(o.Property), o.Value)
	}
	if p.DefineChromeRuntime {
		b.WriteString("  try { if (!window.chrome) { window.chrome = {}; } if (!window.chrome.runtime) { window.chrome.runtime = {}; } } catch (e) {}\n")
	}
	if p.PatchNotificationPermission {
		b.WriteString("  try {\n" +
			"    const query = window.navigator.permissions.query.bind(window.navigator.permissions);\n" +
			"    window.navigator.permissions.query = (params) => params && params.name === 'notifications'\n" +
			"      ? Promise.resolve({ state: Notification.permission })\n" +
			"      : query(params);\n" +
			"  } catch (e) {}\n")
	}
	b.WriteString("})();\n")
	return b.String()
}

// DesktopUserAgent removes the headless marker from the browser's own UA string
func DesktopUserAgent(browserUA string) string {
	return strings.ReplaceAll(browserUA, "HeadlessChrome", "Chrome")
}

// LanguagesFromHeader turns an Accept-Language value into navigator.languages order
func LanguagesFromHeader(acceptLanguage string) []string {
	var out []string
	for _, part := range strings.Split(acceptLanguage, ",") {
		tag := strings.TrimSpace(part)
		if i := strings.IndexByte(tag, ';'); i >= 0 {
			tag = strings.TrimSpace(tag[:i])
		}
		if tag != "" && tag != "*" {
			out = append(out, tag)
		}
	}
	return out
}
