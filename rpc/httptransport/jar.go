// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package httptransport

import (
	"os"

	"github.com/juju/errors"
	cookiejar "github.com/juju/persistent-cookiejar"
	"golang.org/x/net/publicsuffix"
)

// CookieFileEnvKey overrides the default cookie file location.
const CookieFileEnvKey = "EXTDIRECT_COOKIEFILE"

// NewJar returns a cookie jar backed by the given file. An empty
// filename keeps cookies in memory only. The jar must be saved with
// Save for cookies to outlive the process.
func NewJar(filename string) (*cookiejar.Jar, error) {
	jar, err := cookiejar.New(&cookiejar.Options{
		Filename:         filename,
		NoPersist:        filename == "",
		PublicSuffixList: publicsuffix.List,
	})
	if err != nil {
		return nil, errors.Annotatef(err, "cannot load cookie jar")
	}
	return jar, nil
}

// CookieFile returns the path of the cookie file used by default. It can
// be overridden by setting EXTDIRECT_COOKIEFILE or GO_COOKIEFILE.
func CookieFile() string {
	if file := os.Getenv(CookieFileEnvKey); file != "" {
		return file
	}
	return cookiejar.DefaultCookieFile()
}
