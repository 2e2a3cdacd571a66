package loader

import (
	"github.com/spf13/afero"
)

// CreateFilesystems creates the scheme-keyed filesystem map used by Load.
//
// Disk reads go through a memory-mapped cache so that a module read twice
// (or re-resolved through a different relative spelling) always yields the
// same bytes. The https filesystem is purely in-memory; the loader caches
// fetched sources into it manually.
func CreateFilesystems(osfs afero.Fs) map[string]afero.Fs {
	return map[string]afero.Fs{
		"file":  afero.NewCacheOnReadFs(osfs, afero.NewMemMapFs(), 0),
		"https": afero.NewMemMapFs(),
	}
}
