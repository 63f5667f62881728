package anacrolix

import (
	"mediaengine/internal/domain"
)

// selectPlayable returns the index of the largest file carrying a playable
// extension. ok is false when no file qualifies.
func selectPlayable(files []domain.FileRef) (idx int, ok bool) {
	best := int64(-1)
	for i, f := range files {
		if !domain.PlayableFile(f.Path) {
			continue
		}
		if f.Length > best {
			best = f.Length
			idx = i
			ok = true
		}
	}
	return idx, ok
}
