// Package loader resolves module specifiers to canonical URLs and loads
// their sources from scheme-keyed filesystems.
package loader

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
)

// SourceData wraps a loaded source file; data and canonical URL.
type SourceData struct {
	Data []byte
	URL  *url.URL
}

var (
	errEmptySpecifier = errors.New("local or remote path required")

	httpsSchemeCouldntBeLoadedMsg = `The module specifier "%s" couldn't be retrieved from` +
		` the resolved url "%s". Error: "%s"`
	fileSchemeCouldntBeLoadedMsg = `The module specifier "%s" couldn't be found on ` +
		`local disk. Make sure that you've specified the right path to the file.`
)

// Resolve a module specifier relative to pwd into a canonical absolute URL.
//
// Resolution is pure: the same (pwd, specifier) pair always yields the same
// URL, and two spellings of the same file yield an identical URL string.
// This is what makes the module map's one-record-per-URL invariant hold.
func Resolve(pwd *url.URL, moduleSpecifier string) (*url.URL, error) {
	if moduleSpecifier == "" {
		return nil, errEmptySpecifier
	}

	if strings.Contains(moduleSpecifier, "://") {
		u, err := url.Parse(moduleSpecifier)
		if err != nil {
			return nil, err
		}
		if u.Scheme != "file" && u.Scheme != "https" {
			return nil, fmt.Errorf(
				"only supported schemes for imports are file and https, %s has `%s`",
				moduleSpecifier, u.Scheme)
		}
		if u.Scheme == "file" && pwd.Scheme == "https" {
			return nil, fmt.Errorf("origin (%s) not allowed to load local file: %s", pwd, moduleSpecifier)
		}
		return u, nil
	}

	// Everything else - relative, absolute and bare specifiers alike -
	// resolves against the referrer directory.

	// The file is in a format like C:/something/path.js. But this will be
	// decoded as scheme `C` so we want it decoded as file:///C:/something/path.js
	if filepath.VolumeName(moduleSpecifier) != "" {
		moduleSpecifier = "/" + moduleSpecifier
	}

	// we always want the pwd to end in a slash, but filepath/path.Clean
	// strips it so we readd it if it's missing
	finalPwd := pwd
	if !strings.HasSuffix(pwd.Path, "/") {
		finalPwd = &url.URL{}
		*finalPwd = *pwd
		finalPwd.Path += "/"
	}
	return finalPwd.Parse(moduleSpecifier)
}

// Dir returns the directory URL for the given module URL.
func Dir(old *url.URL) *url.URL {
	return old.ResolveReference(&url.URL{Path: "./"})
}

// Load loads the given module URL from the filesystems map, keyed by URL
// scheme. An https URL missing from its filesystem is fetched over the
// network and cached back into the map.
func Load(
	logger logrus.FieldLogger, filesystems map[string]afero.Fs,
	moduleSpecifier *url.URL, originalModuleSpecifier string,
) (*SourceData, error) {
	logger.WithFields(logrus.Fields{
		"moduleSpecifier":         moduleSpecifier,
		"originalModuleSpecifier": originalModuleSpecifier,
	}).Debug("Loading...")

	var pathOnFs string
	if moduleSpecifier.Scheme == "" {
		pathOnFs = path.Clean(moduleSpecifier.String())
	} else {
		pathOnFs = path.Clean(moduleSpecifier.String()[len(moduleSpecifier.Scheme)+len(":/"):])
	}
	scheme := moduleSpecifier.Scheme

	pathOnFs, err := url.PathUnescape(filepath.FromSlash(pathOnFs))
	if err != nil {
		return nil, err
	}

	fs, ok := filesystems[scheme]
	if !ok {
		return nil, fmt.Errorf("no filesystem registered for scheme %q", scheme)
	}

	data, err := afero.ReadFile(fs, pathOnFs)
	if err == nil {
		return &SourceData{URL: moduleSpecifier, Data: data}, nil
	}
	if !os.IsNotExist(err) {
		return nil, err
	}

	if scheme == "https" {
		result, err := loadRemoteURL(logger, moduleSpecifier)
		if err != nil {
			return nil, fmt.Errorf(httpsSchemeCouldntBeLoadedMsg, originalModuleSpecifier, moduleSpecifier, err)
		}
		result.URL = moduleSpecifier
		_ = afero.WriteFile(fs, pathOnFs, result.Data, 0o644)
		return result, nil
	}

	return nil, fmt.Errorf(fileSchemeCouldntBeLoadedMsg, originalModuleSpecifier)
}

func loadRemoteURL(logger logrus.FieldLogger, u *url.URL) (*SourceData, error) {
	data, err := fetch(logger, u.String())
	if err != nil {
		return nil, err
	}
	return &SourceData{URL: u, Data: data}, nil
}

func fetch(logger logrus.FieldLogger, u string) ([]byte, error) {
	logger.WithField("url", u).Debug("Fetching source...")
	startTime := time.Now()
	res, err := http.Get(u) //nolint:gosec,noctx
	if err != nil {
		return nil, err
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode != http.StatusOK {
		switch res.StatusCode {
		case http.StatusNotFound:
			return nil, fmt.Errorf("not found: %s", u)
		default:
			return nil, fmt.Errorf("wrong status code (%d) for: %s", res.StatusCode, u)
		}
	}

	data, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, err
	}

	logger.WithFields(logrus.Fields{
		"url": u,
		"t":   time.Since(startTime),
		"len": len(data),
	}).Debug("Fetched!")
	return data, nil
}
