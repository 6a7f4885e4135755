package upload

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// CleanupStale removes staged files and chunks older than maxAge and returns
// how many were deleted. Bookkeeping in the tracker expires on its own.
func (s *Store) CleanupStale(maxAge time.Duration) int {
	now := s.now()
	removed := 0
	_ = filepath.Walk(s.dir, func(path string, info os.FileInfo, err error) error {
		if err != nil || info == nil || info.IsDir() {
			return nil
		}
		if strings.HasPrefix(info.Name(), ".") {
			return nil
		}
		if now.Sub(info.ModTime()) >= maxAge {
			if os.Remove(path) == nil {
				removed++
			}
		}
		return nil
	})
	if removed > 0 {
		log.Info().Int("removed", removed).Dur("max_age", maxAge).Msg("stale uploads cleaned")
	}
	return removed
}
