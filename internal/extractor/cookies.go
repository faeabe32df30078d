package extractor

import (
	"strings"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"

	"mfcsync/internal/logging"
)

// ApplyCredentials navigates to origin first to establish domain context,
// then installs only the cookies whose names are on allowlist, dropping
// empty values. Names not on the allowlist are logged and ignored. The
// session cookie gets hardened attributes; everything else uses defaults.
//
// The browser's cookie jar is cleared first: the stealth browser is a
// singleton shared across credentialed scrapes, so without this a cookie
// installed for one scrape would still be present when the next one runs.
func ApplyCredentials(page *rod.Page, origin string, cookies map[string]string, allowlist []string, sessionCookieName string, logger logging.Logger) error {
	if err := proto.NetworkClearBrowserCookies{}.Call(page); err != nil {
		logger.WithField("error", err.Error()).Debug("failed to clear cookie jar before applying credentials")
	}

	navPage := page.Timeout(navigationTimeout)
	if err := navPage.Navigate(origin); err != nil {
		return err
	}
	if err := navPage.WaitLoad(); err != nil {
		return err
	}

	allowed := make(map[string]bool, len(allowlist))
	for _, name := range allowlist {
		allowed[name] = true
	}

	domain := hostOf(origin)
	var params []*proto.NetworkCookieParam

	for name, value := range cookies {
		if value == "" {
			continue
		}
		if !allowed[name] {
			logger.WithField("cookie_name", name).Debug("unknown cookie")
			continue
		}
		param := &proto.NetworkCookieParam{
			Name:   name,
			Value:  value,
			Domain: domain,
			Path:   "/",
		}
		if name == sessionCookieName {
			param.HTTPOnly = true
			param.Secure = true
			param.SameSite = proto.NetworkCookieSameSiteLax
		}
		params = append(params, param)
	}

	if len(params) == 0 {
		return nil
	}
	return page.SetCookies(params)
}

func hostOf(origin string) string {
	s := origin
	s = strings.TrimPrefix(s, "https://")
	s = strings.TrimPrefix(s, "http://")
	if idx := strings.IndexAny(s, "/:"); idx != -1 {
		s = s[:idx]
	}
	return s
}
